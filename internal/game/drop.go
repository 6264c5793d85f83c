package game

import (
	"context"

	"github.com/google/uuid"

	"github.com/codegrass/server/internal/protocol"
	"github.com/codegrass/server/internal/sharding"
)

// Drop tears the replica down when its owning session goes away or the
// owner leaves. What happens depends on which replica this is:
//
//   - host: the game shuts down; every remaining participant gets a
//     Shutdown event, the directory entry disappears, and the host gets
//     a ShutdownResponse;
//   - follower with a local host: the host replica unregisters the
//     caller and the caller gets a LeaveResponse;
//   - follower with a remote host: a Leave request goes to the host's
//     shard topic and the caller gets a LeaveResponse immediately.
//
// Dropping twice is a no-op. The resolver is consulted only outside
// the replica lock, per the lock-ordering rule in internal/shard.
func (g *Game) Drop(ctx context.Context, resolver HostResolver) {
	g.mu.Lock()
	if g.shutdownDone {
		g.mu.Unlock()
		return
	}
	g.shutdownDone = true

	if g.isHost {
		g.dropAsHost(ctx)
		g.mu.Unlock()
		return
	}
	hostID := g.partialHost.ID
	hostLocal := g.partialHost.IsLocal
	g.mu.Unlock()

	if hostLocal {
		g.dropAsLocalFollower(ctx, resolver, hostID)
	} else {
		g.dropAsRemoteFollower(ctx, hostID)
	}
}

// dropAsHost runs with the replica lock held: this is the shutdown.
func (g *Game) dropAsHost(ctx context.Context) {
	frame, err := protocol.EventFrame(protocol.EventOpShutdown, protocol.ShutdownEvent{})
	if err != nil {
		g.logger.Error().Err(err).Msg("Failed to encode Shutdown event")
	} else {
		g.sendGlobal(ctx, frame, map[uuid.UUID]bool{g.partialHost.ID: true})
	}
	g.connected = make(map[uuid.UUID]*Participant)

	if err := g.dir.DeleteGame(ctx, g.gameID); err != nil {
		g.logger.Error().Err(err).Msg("Failed to delete game directory entry")
	}

	if resp, err := protocol.ResponseFrame(protocol.ResponseOpShutdown, protocol.ShutdownResponse{Success: true}); err == nil {
		// Best effort: the host session may already be closing.
		if derr := g.partialHost.Deliver(ctx, g.pub, resp); derr != nil {
			g.logger.Debug().Err(derr).Msg("Shutdown response not delivered")
		}
	}
	g.logger.Info().Msg("Game shut down")
}

func (g *Game) dropAsLocalFollower(ctx context.Context, resolver HostResolver, hostID uuid.UUID) {
	if resolver != nil {
		if hostGame, ok := resolver.HostGame(hostID); ok {
			hostGame.Unregister(ctx, g.partialClient.ID)
		}
	}
	g.sendLeaveResponse(ctx)
}

func (g *Game) dropAsRemoteFollower(ctx context.Context, hostID uuid.UUID) {
	req, err := sharding.NewRequest(sharding.ShardRequestOpLeave, sharding.ShardLeaveRequest{
		GameID:   g.gameID,
		HostID:   hostID,
		ClientID: g.partialClient.ID,
		ShardID:  g.partialClient.ShardID,
	})
	if err != nil {
		g.logger.Error().Err(err).Msg("Failed to encode Leave request")
		return
	}
	env, err := sharding.NewEnvelope(sharding.ShardOpRequest, req)
	if err != nil {
		g.logger.Error().Err(err).Msg("Failed to encode Leave envelope")
		return
	}
	if err := g.pub.PublishToShard(ctx, g.partialHost.ShardID, env); err != nil {
		g.logger.Error().Err(err).Msg("Failed to publish Leave request")
	}
	g.sendLeaveResponse(ctx)
}

func (g *Game) sendLeaveResponse(ctx context.Context) {
	frame, err := protocol.ResponseFrame(protocol.ResponseOpLeave, protocol.LeaveResponse{
		GameID: g.gameID, Success: true,
	})
	if err != nil {
		return
	}
	if derr := g.partialClient.Deliver(ctx, g.pub, frame); derr != nil {
		g.logger.Debug().Err(derr).Msg("Leave response not delivered")
	}
}
