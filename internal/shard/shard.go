// Package shard is the per-process runtime: it owns the listener, the
// sessions table and the subscription to this shard's topic on the
// coordination plane. Sessions, game replicas and the directory meet
// here and nowhere else.
//
// Lock ordering: a session's lock and a replica's lock are never held
// at the same time as another session's lock. Handlers snapshot what
// they need from their own session, then call into replicas; replicas
// reach other clients only through Participant handles.
package shard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/codegrass/server/internal/config"
	"github.com/codegrass/server/internal/directory"
	"github.com/codegrass/server/internal/game"
	"github.com/codegrass/server/internal/logging"
	"github.com/codegrass/server/internal/protocol"
	"github.com/codegrass/server/internal/sandbox"
	"github.com/codegrass/server/internal/sharding"
	"github.com/codegrass/server/internal/task"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 5 * time.Second

	// Time allowed to read the next message from the peer.
	pongWait = 30 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Attempts at claiming a fresh game id before giving up.
	createAttempts = 16
)

// Critical-error exit codes, reported through the process status.
const (
	CodeServeFailed      = 2
	CodeSubscriptionLost = 3
)

// CriticalError is a fatal runtime failure that must take the whole
// process down with a distinguishing exit code.
type CriticalError struct {
	Code int
	Err  error
}

func (e *CriticalError) Error() string {
	return fmt.Sprintf("critical failure (code %d): %v", e.Code, e.Err)
}

func (e *CriticalError) Unwrap() error { return e.Err }

// Shard is one horizontally scaled server process. Its identity is a
// fresh UUID per process; peers reach it by publishing to the topic
// named after that UUID.
type Shard struct {
	ID uuid.UUID

	cfg       *config.Config
	logger    zerolog.Logger
	dir       directory.Directory
	catalogue *task.Catalogue
	runner    sandbox.Runner

	sessions     sync.Map // uuid.UUID -> *Session
	sessionCount int64
	draining     atomic.Bool

	// critical carries fatal runtime failures out of the serving
	// goroutines; the first one terminates Run.
	critical chan *CriticalError

	startedAt time.Time
}

// New assembles a shard around its collaborators. Run does the rest.
func New(cfg *config.Config, logger zerolog.Logger, dir directory.Directory, catalogue *task.Catalogue, runner sandbox.Runner) *Shard {
	id := uuid.New()
	return &Shard{
		ID:        id,
		cfg:       cfg,
		logger:    logger.With().Str("shard_id", id.String()).Logger(),
		dir:       dir,
		catalogue: catalogue,
		runner:    runner,
		critical:  make(chan *CriticalError, 4),
		startedAt: time.Now(),
	}
}

// reportCritical queues a fatal failure without blocking.
func (s *Shard) reportCritical(code int, err error) {
	select {
	case s.critical <- &CriticalError{Code: code, Err: err}:
	default:
	}
}

// gameConfig captures the handles a replica keeps for its lifetime.
func (s *Shard) gameConfig() game.Config {
	return game.Config{
		Logger:    s.logger,
		Catalogue: s.catalogue,
		Runner:    s.runner,
		Directory: s.dir,
		Publisher: s,
	}
}

// PublishToShard implements game.Publisher: the peer's topic is its
// shard id.
func (s *Shard) PublishToShard(ctx context.Context, shardID uuid.UUID, env sharding.ShardDefault) error {
	data, err := sharding.EncodeEnvelope(env)
	if err != nil {
		return fmt.Errorf("failed to encode shard envelope: %w", err)
	}
	return s.dir.Publish(ctx, shardID.String(), data)
}

// HostGame implements game.HostResolver: it finds the host-
// authoritative replica owned by a session on this shard.
func (s *Shard) HostGame(hostID uuid.UUID) (*game.Game, bool) {
	sess, ok := s.session(hostID)
	if !ok {
		return nil, false
	}
	g := sess.Game()
	if g == nil || !g.IsHost() {
		return nil, false
	}
	return g, true
}

func (s *Shard) session(id uuid.UUID) (*Session, bool) {
	v, ok := s.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Run binds the listener, subscribes to this shard's topic and serves
// until the context ends or either loop fails. The error, if any, is
// what took the shard down.
func (s *Shard) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return &CriticalError{Code: CodeServeFailed, Err: fmt.Errorf("failed to bind %s: %w", s.cfg.Addr(), err)}
	}

	msgs, closeSub, err := s.dir.Subscribe(ctx, s.ID.String())
	if err != nil {
		ln.Close()
		return &CriticalError{Code: CodeSubscriptionLost, Err: fmt.Errorf("failed to subscribe to shard topic: %w", err)}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux}

	go func() {
		defer logging.RecoverPanic(s.logger, "http_serve", nil)
		if serr := srv.Serve(ln); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			s.reportCritical(CodeServeFailed, fmt.Errorf("http serve failed: %w", serr))
		}
	}()

	go func() {
		defer logging.RecoverPanic(s.logger, "shard_topic_reader", nil)
		s.readShardTopic(ctx, msgs)
		if ctx.Err() == nil {
			s.reportCritical(CodeSubscriptionLost, errors.New("shard topic subscription ended unexpectedly"))
		}
	}()

	s.logger.Info().Str("addr", s.cfg.Addr()).Msg("Shard listening")

	var runErr error
	select {
	case <-ctx.Done():
	case cerr := <-s.critical:
		runErr = cerr
	}

	s.logger.Info().Msg("Shard shutting down")
	s.drain(runErr == nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		s.logger.Warn().Err(serr).Msg("HTTP server shutdown incomplete")
	}
	if cerr := closeSub(); cerr != nil {
		s.logger.Warn().Err(cerr).Msg("Failed to close shard topic subscription")
	}
	return runErr
}

// drain kicks every live session. On a graceful stop each client gets
// a ForcedDisconnection frame before the socket closes.
func (s *Shard) drain(graceful bool) {
	s.draining.Store(true)
	s.sessions.Range(func(_, v any) bool {
		sess := v.(*Session)
		if graceful {
			sess.Kick("shard draining")
		} else {
			sess.closeConn()
		}
		return true
	})
}

// handleWS upgrades the connection and brings a session to life: a
// fresh 128-bit id, a directory entry, a Hello frame, two pumps.
func (s *Shard) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}
	if atomic.LoadInt64(&s.sessionCount) >= int64(s.cfg.MaxConnections) {
		s.logger.Warn().
			Int64("current_sessions", atomic.LoadInt64(&s.sessionCount)).
			Int("max_connections", s.cfg.MaxConnections).
			Msg("Connection rejected, shard at capacity")
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Failed to upgrade connection")
		return
	}

	sess := newSession(s, conn)

	regCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	err = s.dir.RegisterSession(regCtx, sess.id, s.ID)
	cancel()
	if err != nil {
		s.logger.Error().Err(err).Str("client_id", sess.id.String()).Msg("Failed to register session in directory")
		conn.Close()
		return
	}

	s.sessions.Store(sess.id, sess)
	atomic.AddInt64(&s.sessionCount, 1)
	metricCurrentSessions.Inc()
	metricTotalSessions.Inc()

	hello, err := protocol.HelloFrame(protocol.Hello{ID: sess.id})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode Hello frame")
	} else if err := sess.Enqueue(hello); err != nil {
		s.logger.Warn().Err(err).Str("client_id", sess.id.String()).Msg("Failed to queue Hello frame")
	}

	s.logger.Info().Str("client_id", sess.id.String()).Str("remote_addr", r.RemoteAddr).Msg("Session opened")

	go sess.writePump()
	go sess.readPump()
}

// removeSession tears session state down exactly once: the table
// entry, the directory record and whatever game replica it still owns.
func (s *Shard) removeSession(sess *Session) {
	if _, loaded := s.sessions.LoadAndDelete(sess.id); !loaded {
		return
	}
	atomic.AddInt64(&s.sessionCount, -1)
	metricCurrentSessions.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.dir.UnregisterSession(ctx, sess.id); err != nil {
		s.logger.Warn().Err(err).Str("client_id", sess.id.String()).Msg("Failed to unregister session from directory")
	}
	if g := sess.TakeGame(); g != nil {
		g.Drop(ctx, s)
	}

	s.logger.Info().Str("client_id", sess.id.String()).Msg("Session closed")
}
