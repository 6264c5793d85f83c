package shard

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/codegrass/server/internal/game"
	"github.com/codegrass/server/internal/logging"
	"github.com/codegrass/server/internal/protocol"
)

// outFrame is one queued write. Control replies ride the same channel
// as text frames so the connection has a single writer.
type outFrame struct {
	op   ws.OpCode
	data []byte
}

// Session is one live client connection. The write side is a bounded
// channel drained by writePump; the read side is readPump, which
// handles frames strictly in order. nickname and game are guarded by
// mu; everything else is set once at construction.
type Session struct {
	id     uuid.UUID
	conn   net.Conn
	shard  *Shard
	logger zerolog.Logger

	send       chan outFrame
	sendMu     sync.Mutex
	sendClosed bool
	closeOnce  sync.Once

	// 100 burst, 10/sec sustained.
	limiter *rate.Limiter

	mu       sync.Mutex
	nickname string
	game     *game.Game
}

func newSession(s *Shard, conn net.Conn) *Session {
	id := uuid.New()
	return &Session{
		id:      id,
		conn:    conn,
		shard:   s,
		logger:  s.logger.With().Str("client_id", id.String()).Logger(),
		send:    make(chan outFrame, s.cfg.SendBuffer),
		limiter: rate.NewLimiter(rate.Limit(10), 100),
	}
}

// ID is the session's 128-bit identity, minted at upgrade time.
func (c *Session) ID() uuid.UUID { return c.id }

// Nickname returns the identified nickname, empty until Identify.
func (c *Session) Nickname() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nickname
}

// SetNickname sets the nickname exactly once. A second Identify, or an
// empty nickname, is rejected.
func (c *Session) SetNickname(nickname string) bool {
	if nickname == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nickname != "" {
		return false
	}
	c.nickname = nickname
	return true
}

// Game returns the replica this session currently owns, if any.
func (c *Session) Game() *game.Game {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.game
}

// SetGame installs a replica, failing if one is already installed.
func (c *Session) SetGame(g *game.Game) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.game != nil {
		return false
	}
	c.game = g
	return true
}

// TakeGame removes and returns the owned replica.
func (c *Session) TakeGame() *game.Game {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := c.game
	c.game = nil
	return g
}

// Enqueue queues a serialised text frame without blocking. It is the
// session's game.Enqueue: replicas deliver through it.
func (c *Session) Enqueue(frame []byte) error {
	return c.enqueue(outFrame{op: ws.OpText, data: frame})
}

func (c *Session) enqueue(f outFrame) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return errors.New("send channel closed")
	}
	select {
	case c.send <- f:
		return nil
	default:
		metricFramesDropped.Inc()
		return errors.New("send buffer full")
	}
}

// SendError queues an Error frame. Best effort.
func (c *Session) SendError(cerr *protocol.ClientError) {
	frame, err := protocol.ErrorFrame(cerr)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to encode error frame")
		return
	}
	if err := c.Enqueue(frame); err != nil {
		c.logger.Debug().Err(err).Str("code", string(cerr.Code)).Msg("Error frame not delivered")
	}
}

// Kick announces a server-initiated teardown with a
// ForcedDisconnection frame and closes the send side. The frame rides
// the send channel so writePump stays the connection's only writer;
// draining the closed channel makes the pump emit Close and shut the
// socket.
func (c *Session) Kick(reason string) {
	c.logger.Info().Str("reason", reason).Msg("Kicking session")
	if frame, err := protocol.ForcedDisconnectionFrame(); err == nil {
		if werr := c.Enqueue(frame); werr != nil {
			c.logger.Debug().Err(werr).Msg("ForcedDisconnection frame not queued")
		}
	}
	c.closeSend()
}

// writeFrame writes to the socket. writePump is the only caller while
// the pumps are running.
func (c *Session) writeFrame(op ws.OpCode, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return wsutil.WriteServerMessage(c.conn, op, data)
}

func (c *Session) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

func (c *Session) closeConn() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}

func (c *Session) readPump() {
	defer logging.RecoverPanic(c.logger, "read_pump", map[string]any{"client_id": c.id.String()})
	defer func() {
		c.closeConn()
		c.closeSend()
		c.shard.removeSession(c)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		msg, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			// All read errors are treated as a client disconnect.
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		metricFramesReceived.Inc()

		switch op {
		case ws.OpText:
			if !c.limiter.Allow() {
				metricRateLimited.Inc()
				c.logger.Warn().Msg("Session rate limited")
				c.SendError(protocol.NewClientError(protocol.ErrSendError, "too many messages, slow down"))
				continue
			}
			if !c.handleFrame(msg) {
				return
			}
		case ws.OpPing:
			// Answered with a pong carrying the same payload.
			if err := c.enqueue(outFrame{op: ws.OpPong, data: msg}); err != nil {
				c.logger.Debug().Err(err).Msg("Pong reply not queued")
			}
		case ws.OpPong:
			// A client pong is answered with a ping.
			if err := c.enqueue(outFrame{op: ws.OpPing, data: nil}); err != nil {
				c.logger.Debug().Err(err).Msg("Ping reply not queued")
			}
		case ws.OpClose:
			return
		}
	}
}

func (c *Session) writePump() {
	defer logging.RecoverPanic(c.logger, "write_pump", map[string]any{"client_id": c.id.String()})
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConn()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				c.writeFrame(ws.OpClose, []byte{})
				return
			}
			if err := c.writeFrame(frame.op, frame.data); err != nil {
				c.logger.Debug().Err(err).Int("frame_size", len(frame.data)).Msg("Failed to write frame")
				return
			}
			if frame.op == ws.OpText {
				metricFramesSent.Inc()
			}

		case <-ticker.C:
			if err := c.writeFrame(ws.OpPing, nil); err != nil {
				c.logger.Debug().Err(err).Msg("Failed to send ping")
				return
			}
		}
	}
}

// handleFrame parses one inbound text frame and runs its request under
// the handler deadline. It reports whether the read loop should keep
// going: a terminal protocol error closes the session.
func (c *Session) handleFrame(raw []byte) bool {
	model, err := protocol.DecodeDefault(raw)
	if err != nil {
		c.SendError(protocol.NewClientError(protocol.ErrInvalidMessage, "frame is not a valid message"))
		return false
	}
	if model.Op != protocol.OpRequest {
		c.SendError(protocol.NewClientError(protocol.ErrInvalidOpCode, "only requests are accepted"))
		return true
	}
	if len(model.D) == 0 {
		c.SendError(protocol.NewClientError(protocol.ErrNoDataWithOpCode, "request frame carried no data"))
		return true
	}
	req, err := protocol.DecodeRequest(model.D)
	if err != nil {
		c.SendError(protocol.NewClientError(protocol.ErrParsingError, "request could not be parsed"))
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.shard.cfg.HandlerTimeout)
	defer cancel()

	done := make(chan *protocol.ClientError, 1)
	go func() {
		defer logging.RecoverPanic(c.logger, "request_handler", map[string]any{"op": string(req.Op)})
		done <- c.shard.handleRequest(ctx, c, req)
	}()

	select {
	case cerr := <-done:
		if cerr != nil {
			c.SendError(cerr)
			return !cerr.Terminal()
		}
		return true
	case <-ctx.Done():
		// The handler keeps running but its context is cancelled; the
		// client gets its original frame back inside a Timeout response.
		metricHandlerTimeouts.Inc()
		c.logger.Warn().Str("op", string(req.Op)).Dur("budget", c.shard.cfg.HandlerTimeout).Msg("Request handler timed out")
		frame, err := protocol.ResponseFrame(protocol.ResponseOpTimeout, protocol.TimeoutResponse{D: model})
		if err == nil {
			if qerr := c.Enqueue(frame); qerr != nil {
				c.logger.Debug().Err(qerr).Msg("Timeout response not delivered")
			}
		}
		return true
	}
}
