package shard

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/codegrass/server/internal/directory"
	"github.com/codegrass/server/internal/game"
	"github.com/codegrass/server/internal/protocol"
	"github.com/codegrass/server/internal/sharding"
)

// handleRequest dispatches one inbound request. A nil return means the
// handler already sent whatever the client should see; a non-nil
// ClientError becomes an Error frame.
func (s *Shard) handleRequest(ctx context.Context, sess *Session, req protocol.Request) *protocol.ClientError {
	switch req.Op {
	case protocol.RequestOpIdentify:
		return s.handleIdentify(sess, req)
	case protocol.RequestOpCreate:
		return s.handleCreate(ctx, sess)
	case protocol.RequestOpExists:
		return s.handleExists(ctx, sess, req)
	case protocol.RequestOpJoin:
		return s.handleJoin(ctx, sess, req)
	case protocol.RequestOpLeave:
		return s.handleLeave(ctx, sess)
	case protocol.RequestOpStart:
		return s.handleStart(ctx, sess, req)
	case protocol.RequestOpTask:
		return s.handleTask(sess, req)
	case protocol.RequestOpCompile:
		return s.handleCompile(ctx, sess, req)
	case protocol.RequestOpPing:
		return s.respond(sess, protocol.ResponseOpPing, protocol.PingResponse{})
	default:
		return protocol.NewClientError(protocol.ErrInvalidOpCode, fmt.Sprintf("unknown request %q", string(req.Op)))
	}
}

// decodeBody distinguishes a missing payload from a malformed one.
func decodeBody(req protocol.Request, v any) *protocol.ClientError {
	if len(req.D) == 0 {
		return protocol.NewClientError(protocol.ErrNoDataWithOpCode, fmt.Sprintf("request %s requires data", string(req.Op)))
	}
	if err := req.Data(v); err != nil {
		return protocol.NewClientError(protocol.ErrParsingError, "request data could not be parsed")
	}
	return nil
}

// respond serialises and queues a Response frame.
func (s *Shard) respond(sess *Session, op protocol.ResponseOp, payload any) *protocol.ClientError {
	frame, err := protocol.ResponseFrame(op, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("op", string(op)).Msg("Failed to encode response")
		return protocol.NewClientError(protocol.ErrInternalServerError, "could not encode response")
	}
	if err := sess.Enqueue(frame); err != nil {
		return protocol.NewClientError(protocol.ErrSendError, "response could not be queued")
	}
	return nil
}

// asClientError maps any error onto the wire taxonomy.
func asClientError(err error) *protocol.ClientError {
	var cerr *protocol.ClientError
	if errors.As(err, &cerr) {
		return cerr
	}
	return protocol.NewClientError(protocol.ErrInternalServerError, "internal server error")
}

func (s *Shard) handleIdentify(sess *Session, req protocol.Request) *protocol.ClientError {
	var body protocol.IdentifyRequest
	if cerr := decodeBody(req, &body); cerr != nil {
		return cerr
	}
	ok := sess.SetNickname(body.Nickname)
	if ok {
		s.logger.Info().Str("client_id", sess.id.String()).Str("nickname", body.Nickname).Msg("Session identified")
	}
	return s.respond(sess, protocol.ResponseOpIdentify, protocol.IdentifyResponse{Success: ok})
}

func (s *Shard) handleCreate(ctx context.Context, sess *Session) *protocol.ClientError {
	if sess.Nickname() == "" {
		return protocol.NewClientError(protocol.ErrClientNotIdentified, "identify before creating a game")
	}
	for i := 0; i < createAttempts; i++ {
		gameID := fmt.Sprintf("%010d", rand.Int63n(1e10))
		claimed, err := s.dir.ClaimGame(ctx, gameID)
		if err != nil {
			s.logger.Error().Err(err).Msg("Game claim failed")
			return protocol.NewClientError(protocol.ErrInternalServerError, "could not claim a game id")
		}
		if claimed {
			metricGamesCreated.Inc()
			s.logger.Info().Str("game_id", gameID).Str("client_id", sess.id.String()).Msg("Game created")
			return s.respond(sess, protocol.ResponseOpCreate, protocol.CreateResponse{GameID: gameID})
		}
	}
	return protocol.NewClientError(protocol.ErrInternalServerError, "could not find a free game id")
}

func (s *Shard) handleExists(ctx context.Context, sess *Session, req protocol.Request) *protocol.ClientError {
	var body protocol.ExistsRequest
	if cerr := decodeBody(req, &body); cerr != nil {
		return cerr
	}
	entry, err := s.dir.LookupGame(ctx, body.GameID)
	if err != nil {
		return asClientError(err)
	}

	exists := entry.Exists
	if entry.Record != nil {
		// An initialised entry is live only while its host session is.
		_, alive, lerr := s.dir.LookupSession(ctx, entry.Record.HostID)
		if lerr != nil {
			return asClientError(lerr)
		}
		if !alive {
			exists = false
			if derr := s.dir.DeleteGame(ctx, body.GameID); derr != nil {
				s.logger.Warn().Err(derr).Str("game_id", body.GameID).Msg("Failed to delete stale game entry")
			}
		}
	}
	return s.respond(sess, protocol.ResponseOpExists, protocol.ExistsResponse{Exists: exists})
}

func (s *Shard) handleJoin(ctx context.Context, sess *Session, req protocol.Request) *protocol.ClientError {
	if sess.Nickname() == "" {
		return protocol.NewClientError(protocol.ErrClientNotIdentified, "identify before joining a game")
	}
	if sess.Game() != nil {
		return protocol.NewClientError(protocol.ErrAlreadyInGame, "leave the current game first")
	}
	var body protocol.JoinRequest
	if cerr := decodeBody(req, &body); cerr != nil {
		return cerr
	}
	if body.GameID == "" {
		return protocol.NewClientError(protocol.ErrInvalidGameID, "game id is empty")
	}

	entry, err := s.dir.LookupGame(ctx, body.GameID)
	if err != nil {
		return asClientError(err)
	}

	switch {
	case entry.Record == nil:
		// Absent or merely claimed: the caller becomes the host.
		return s.joinAsHost(ctx, sess, body.GameID)
	case entry.Record.ShardID == s.ID:
		return s.joinLocal(ctx, sess, body.GameID, entry.Record)
	default:
		return s.joinRemote(ctx, sess, body.GameID, entry.Record)
	}
}

func (s *Shard) joinAsHost(ctx context.Context, sess *Session, gameID string) *protocol.ClientError {
	rec := directory.GameRecord{ShardID: s.ID, HostID: sess.id}
	if err := s.dir.WriteGame(ctx, gameID, rec); err != nil {
		s.logger.Error().Err(err).Str("game_id", gameID).Msg("Failed to initialise game entry")
		return protocol.NewClientError(protocol.ErrInternalServerError, "could not initialise the game")
	}

	host := game.NewLocalParticipant(sess.id, sess.Nickname(), s.ID, sess.Enqueue)
	g := game.NewHost(s.gameConfig(), gameID, host)
	if !sess.SetGame(g) {
		return protocol.NewClientError(protocol.ErrAlreadyInGame, "leave the current game first")
	}
	return s.respond(sess, protocol.ResponseOpJoin, protocol.JoinResponse{GameID: gameID, IsHost: true, Success: true})
}

func (s *Shard) joinLocal(ctx context.Context, sess *Session, gameID string, rec *directory.GameRecord) *protocol.ClientError {
	hostSess, ok := s.session(rec.HostID)
	if !ok {
		if derr := s.dir.DeleteGame(ctx, gameID); derr != nil {
			s.logger.Warn().Err(derr).Str("game_id", gameID).Msg("Failed to delete stale game entry")
		}
		return protocol.NewClientError(protocol.ErrClientDoesNotExist, "the game's host is gone")
	}
	hostGame := hostSess.Game()
	if hostGame == nil || !hostGame.IsHost() || hostGame.ID() != gameID {
		return protocol.NewClientError(protocol.ErrNoGameWasFound, "the game's host is gone")
	}

	p := game.NewLocalParticipant(sess.id, sess.Nickname(), s.ID, sess.Enqueue)
	if err := hostGame.Register(ctx, p); err != nil {
		// Registration closed; the caller learns through success=false.
		return s.respond(sess, protocol.ResponseOpJoin, protocol.JoinResponse{GameID: gameID, Success: false})
	}

	follower := game.NewFollower(s.gameConfig(), gameID, p, hostGame.Host())
	if !sess.SetGame(follower) {
		hostGame.Unregister(ctx, sess.id)
		return protocol.NewClientError(protocol.ErrAlreadyInGame, "leave the current game first")
	}
	return s.respond(sess, protocol.ResponseOpJoin, protocol.JoinResponse{GameID: gameID, IsHost: false, Success: true})
}

// joinRemote forwards the join to the host's shard. The JoinResponse
// arrives later through this shard's topic; nothing is sent now.
func (s *Shard) joinRemote(ctx context.Context, sess *Session, gameID string, rec *directory.GameRecord) *protocol.ClientError {
	req, err := sharding.NewRequest(sharding.ShardRequestOpJoin, sharding.ShardJoinRequest{
		GameID:   gameID,
		HostID:   rec.HostID,
		ClientID: sess.id,
		ShardID:  s.ID,
		Nickname: sess.Nickname(),
	})
	if err != nil {
		return protocol.NewClientError(protocol.ErrInternalServerError, "could not encode join request")
	}
	env, err := sharding.NewEnvelope(sharding.ShardOpRequest, req)
	if err != nil {
		return protocol.NewClientError(protocol.ErrInternalServerError, "could not encode join envelope")
	}
	if err := s.PublishToShard(ctx, rec.ShardID, env); err != nil {
		s.logger.Error().Err(err).Str("game_id", gameID).Msg("Failed to forward join to host shard")
		return protocol.NewClientError(protocol.ErrInternalServerError, "could not reach the game's shard")
	}
	return nil
}

func (s *Shard) handleLeave(ctx context.Context, sess *Session) *protocol.ClientError {
	g := sess.TakeGame()
	if g == nil {
		return protocol.NewClientError(protocol.ErrNotInGame, "not in a game")
	}
	g.Drop(ctx, s)
	return nil
}

func (s *Shard) handleStart(ctx context.Context, sess *Session, req protocol.Request) *protocol.ClientError {
	g := sess.Game()
	if g == nil {
		return protocol.NewClientError(protocol.ErrNotInGame, "not in a game")
	}
	var body protocol.StartRequest
	if cerr := decodeBody(req, &body); cerr != nil {
		return cerr
	}
	if err := g.Start(ctx, body.TaskCount); err != nil {
		return asClientError(err)
	}
	return nil
}

// hostReplica resolves the host-authoritative replica for the
// session's game. Task state lives only there.
func (s *Shard) hostReplica(sess *Session) (*game.Game, *protocol.ClientError) {
	g := sess.Game()
	if g == nil {
		return nil, protocol.NewClientError(protocol.ErrNotInGame, "not in a game")
	}
	if g.IsHost() {
		return g, nil
	}
	host := g.Host()
	if !host.IsLocal {
		return nil, protocol.NewClientError(protocol.ErrInternalServerError, "the game's host lives on another shard")
	}
	hg, ok := s.HostGame(host.ID)
	if !ok {
		return nil, protocol.NewClientError(protocol.ErrNoGameWasFound, "the game's host is gone")
	}
	return hg, nil
}

func (s *Shard) handleTask(sess *Session, req protocol.Request) *protocol.ClientError {
	var body protocol.TaskRequest
	if cerr := decodeBody(req, &body); cerr != nil {
		return cerr
	}
	hg, cerr := s.hostReplica(sess)
	if cerr != nil {
		return cerr
	}
	t, err := hg.TaskAt(body.TaskIndex)
	if err != nil {
		return asClientError(err)
	}
	return s.respond(sess, protocol.ResponseOpTask, protocol.TaskResponse{Task: t})
}

func (s *Shard) handleCompile(ctx context.Context, sess *Session, req protocol.Request) *protocol.ClientError {
	var body protocol.CompileRequest
	if cerr := decodeBody(req, &body); cerr != nil {
		return cerr
	}
	hg, cerr := s.hostReplica(sess)
	if cerr != nil {
		return cerr
	}
	metricCompileRuns.Inc()
	resp, err := hg.Compile(ctx, sess.id, body)
	if err != nil {
		return asClientError(err)
	}
	return s.respond(sess, protocol.ResponseOpCompile, resp)
}
