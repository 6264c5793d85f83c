package shard

import (
	"context"
	"time"

	"github.com/codegrass/server/internal/game"
	"github.com/codegrass/server/internal/protocol"
	"github.com/codegrass/server/internal/sharding"
)

// readShardTopic drains this shard's topic until the channel closes.
// A malformed envelope is logged and dropped; the plane at large is
// never trusted to be clean.
func (s *Shard) readShardTopic(ctx context.Context, msgs <-chan []byte) {
	for raw := range msgs {
		env, err := sharding.DecodeEnvelope(raw)
		if err != nil {
			metricShardDecodeErrors.Inc()
			s.logger.Warn().Err(err).Int("size", len(raw)).Msg("Dropping undecodable shard envelope")
			continue
		}
		metricShardMessages.WithLabelValues(env.Op.String()).Inc()

		switch env.Op {
		case sharding.ShardOpSendToClient:
			s.handleSendToClient(env)
		case sharding.ShardOpRequest:
			s.handleShardRequest(ctx, env)
		case sharding.ShardOpResponse:
			s.handleShardResponse(env)
		default:
			s.logger.Debug().Str("op", env.Op.String()).Msg("Ignoring shard envelope")
		}
	}
}

// handleSendToClient forwards an already-serialised client frame to
// its target session. A departed target is not an error.
func (s *Shard) handleSendToClient(env sharding.ShardDefault) {
	sess, ok := s.session(env.Target)
	if !ok {
		s.logger.Debug().Str("target", env.Target.String()).Msg("SendToClient target not on this shard")
		return
	}
	if err := sess.Enqueue(env.D); err != nil {
		s.logger.Debug().Err(err).Str("target", env.Target.String()).Msg("SendToClient frame not queued")
	}
}

func (s *Shard) handleShardRequest(ctx context.Context, env sharding.ShardDefault) {
	var req sharding.ShardRequest
	if err := env.Data(&req); err != nil {
		metricShardDecodeErrors.Inc()
		s.logger.Warn().Err(err).Msg("Dropping undecodable shard request")
		return
	}

	switch req.Op {
	case sharding.ShardRequestOpJoin:
		var jr sharding.ShardJoinRequest
		if err := req.Data(&jr); err != nil {
			s.logger.Warn().Err(err).Msg("Dropping undecodable shard join request")
			return
		}
		s.handleShardJoin(ctx, jr)
	case sharding.ShardRequestOpLeave:
		var lr sharding.ShardLeaveRequest
		if err := req.Data(&lr); err != nil {
			s.logger.Warn().Err(err).Msg("Dropping undecodable shard leave request")
			return
		}
		s.handleShardLeave(ctx, lr)
	default:
		s.logger.Debug().Str("op", req.Op.String()).Msg("Ignoring shard request")
	}
}

// handleShardJoin registers a remote participant with the local host
// replica and reports the outcome to the requester's shard.
func (s *Shard) handleShardJoin(ctx context.Context, jr sharding.ShardJoinRequest) {
	success := false
	hostNickname := ""
	if hostSess, ok := s.session(jr.HostID); ok {
		if hg := hostSess.Game(); hg != nil && hg.IsHost() && hg.ID() == jr.GameID {
			p := game.NewRemoteParticipant(jr.ClientID, jr.Nickname, jr.ShardID)
			success = hg.Register(ctx, p) == nil
			hostNickname = hg.Host().Nickname
		}
	}

	resp, err := sharding.NewResponse(sharding.ShardResponseOpJoin, sharding.ShardJoinResponse{
		GameID:       jr.GameID,
		HostID:       jr.HostID,
		HostNickname: hostNickname,
		ClientID:     jr.ClientID,
		ShardID:      s.ID,
		Success:      success,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode shard join response")
		return
	}
	env, err := sharding.NewEnvelope(sharding.ShardOpResponse, resp)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode shard join response envelope")
		return
	}
	if err := s.PublishToShard(ctx, jr.ShardID, env); err != nil {
		s.logger.Error().Err(err).Str("game_id", jr.GameID).Msg("Failed to publish shard join response")
	}
}

// handleShardLeave unregisters a remote participant from the local
// host replica. The requester already answered its client, so the
// response is informational.
func (s *Shard) handleShardLeave(ctx context.Context, lr sharding.ShardLeaveRequest) {
	if hostSess, ok := s.session(lr.HostID); ok {
		if hg := hostSess.Game(); hg != nil && hg.IsHost() && hg.ID() == lr.GameID {
			hg.Unregister(ctx, lr.ClientID)
		}
	}

	resp, err := sharding.NewResponse(sharding.ShardResponseOpLeave, sharding.ShardLeaveResponse{
		GameID:   lr.GameID,
		HostID:   lr.HostID,
		ClientID: lr.ClientID,
		ShardID:  s.ID,
		Success:  true,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode shard leave response")
		return
	}
	env, err := sharding.NewEnvelope(sharding.ShardOpResponse, resp)
	if err != nil {
		return
	}
	if err := s.PublishToShard(ctx, lr.ShardID, env); err != nil {
		s.logger.Debug().Err(err).Str("game_id", lr.GameID).Msg("Failed to publish shard leave response")
	}
}

func (s *Shard) handleShardResponse(env sharding.ShardDefault) {
	var resp sharding.ShardResponse
	if err := env.Data(&resp); err != nil {
		metricShardDecodeErrors.Inc()
		s.logger.Warn().Err(err).Msg("Dropping undecodable shard response")
		return
	}

	switch resp.Op {
	case sharding.ShardResponseOpJoin:
		var jr sharding.ShardJoinResponse
		if err := resp.Data(&jr); err != nil {
			s.logger.Warn().Err(err).Msg("Dropping undecodable shard join response")
			return
		}
		s.handleShardJoinResponse(jr)
	case sharding.ShardResponseOpLeave:
		// The leaving client was answered locally when the request went
		// out; nothing left to do.
		s.logger.Debug().Msg("Shard leave acknowledged")
	default:
		s.logger.Debug().Str("op", resp.Op.String()).Msg("Ignoring shard response")
	}
}

// handleShardJoinResponse completes a cross-shard join on the
// requester's side: install the follower replica, answer the client.
func (s *Shard) handleShardJoinResponse(jr sharding.ShardJoinResponse) {
	sess, ok := s.session(jr.ClientID)
	if !ok {
		s.logger.Debug().Str("client_id", jr.ClientID.String()).Msg("Join response for a departed session")
		return
	}

	if !jr.Success {
		if cerr := s.respond(sess, protocol.ResponseOpJoin, protocol.JoinResponse{GameID: jr.GameID, Success: false}); cerr != nil {
			sess.SendError(cerr)
		}
		return
	}

	self := game.NewLocalParticipant(sess.id, sess.Nickname(), s.ID, sess.Enqueue)
	host := game.NewRemoteParticipant(jr.HostID, jr.HostNickname, jr.ShardID)
	follower := game.NewFollower(s.gameConfig(), jr.GameID, self, host)

	if !sess.SetGame(follower) {
		// The session joined something else while the round-trip was in
		// flight. Undo the registration on the host's shard.
		sess.SendError(protocol.NewClientError(protocol.ErrAlreadyInGame, "joined another game while the join was in flight"))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, err := sharding.NewRequest(sharding.ShardRequestOpLeave, sharding.ShardLeaveRequest{
			GameID:   jr.GameID,
			HostID:   jr.HostID,
			ClientID: jr.ClientID,
			ShardID:  s.ID,
		})
		if err != nil {
			return
		}
		env, err := sharding.NewEnvelope(sharding.ShardOpRequest, req)
		if err != nil {
			return
		}
		if perr := s.PublishToShard(ctx, jr.ShardID, env); perr != nil {
			s.logger.Warn().Err(perr).Str("game_id", jr.GameID).Msg("Failed to undo in-flight join")
		}
		return
	}

	if cerr := s.respond(sess, protocol.ResponseOpJoin, protocol.JoinResponse{GameID: jr.GameID, IsHost: false, Success: true}); cerr != nil {
		sess.SendError(cerr)
	}
}
