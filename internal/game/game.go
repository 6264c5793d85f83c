// Package game holds the per-match replicas. Exactly one replica per
// match is host-authoritative, the one on the shard owning the host
// session; every other participant has a follower replica that only
// knows how to reach its host.
//
// Replicas never hold session references. All delivery goes through
// Participant handles (send channel locally, broker remotely), and the
// directory/broker handles are captured at construction so a replica
// can be dropped without touching the sessions table.
package game

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/codegrass/server/internal/directory"
	"github.com/codegrass/server/internal/protocol"
	"github.com/codegrass/server/internal/sandbox"
	"github.com/codegrass/server/internal/task"
)

// HostResolver finds the host-authoritative replica for a host client
// living on this shard. Implemented by the shard runtime; replicas use
// it only during follower drop, outside any replica lock.
type HostResolver interface {
	HostGame(hostID uuid.UUID) (*Game, bool)
}

// Game is one replica of a match. Exported methods are safe for
// concurrent use: host replicas are entered by other sessions' handlers
// and by the pub/sub reader, so every entry point takes the replica
// lock. The lock is never held across a call that acquires another
// session's state; see the ordering rule in internal/shard.
type Game struct {
	mu     sync.Mutex
	logger zerolog.Logger

	gameID string
	isHost bool

	// partialClient is the local owner; partialHost is the host,
	// which on a host replica is the same handle.
	partialClient *Participant
	partialHost   *Participant

	// Host replica state. connected never contains the host.
	connected    map[uuid.UUID]*Participant
	started      bool
	public       bool
	shutdownDone bool
	tasks        []task.GameTask

	catalogue *task.Catalogue
	runner    sandbox.Runner
	dir       directory.Directory
	pub       Publisher
}

// Config carries the captured handles a replica needs for its whole
// lifetime, including drop.
type Config struct {
	Logger    zerolog.Logger
	Catalogue *task.Catalogue
	Runner    sandbox.Runner
	Directory directory.Directory
	Publisher Publisher
}

// NewHost builds the host-authoritative replica. The host is its own
// partial client and partial host; registration starts open.
func NewHost(cfg Config, gameID string, host *Participant) *Game {
	return &Game{
		logger:        cfg.Logger.With().Str("game_id", gameID).Bool("is_host", true).Logger(),
		gameID:        gameID,
		isHost:        true,
		partialClient: host,
		partialHost:   host,
		connected:     make(map[uuid.UUID]*Participant),
		public:        true,
		catalogue:     cfg.Catalogue,
		runner:        cfg.Runner,
		dir:           cfg.Directory,
		pub:           cfg.Publisher,
	}
}

// NewFollower builds a follower replica pointing at its host.
func NewFollower(cfg Config, gameID string, self, host *Participant) *Game {
	return &Game{
		logger:        cfg.Logger.With().Str("game_id", gameID).Bool("is_host", false).Logger(),
		gameID:        gameID,
		partialClient: self,
		partialHost:   host,
		catalogue:     cfg.Catalogue,
		runner:        cfg.Runner,
		dir:           cfg.Directory,
		pub:           cfg.Publisher,
	}
}

// ID returns the match identifier.
func (g *Game) ID() string { return g.gameID }

// IsHost reports whether this replica is host-authoritative.
func (g *Game) IsHost() bool { return g.isHost }

// Started reports whether the match has begun.
func (g *Game) Started() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.started
}

// Host returns the handle to the host participant.
func (g *Game) Host() *Participant { return g.partialHost }

// ParticipantCount reports how many non-host participants are
// registered. Host replicas only.
func (g *Game) ParticipantCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.connected)
}

// Register admits a participant into an open game and fans out the
// ConnectedClient choreography: the newcomer learns about everyone,
// everyone learns about the newcomer.
func (g *Game) Register(ctx context.Context, p *Participant) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.isHost {
		return protocol.NewClientError(protocol.ErrNotGameHost, "only the host replica accepts registrations")
	}
	if !g.public {
		return protocol.NewClientError(protocol.ErrGameAlreadyStarted, "game is no longer open for registration")
	}

	// Existing participants and the host, announced to the newcomer.
	for _, existing := range g.connected {
		g.deliverEvent(ctx, p, protocol.EventOpConnectedClient, protocol.ConnectedClientEvent{
			GameID: g.gameID, ClientID: existing.ID, Nickname: existing.Nickname,
		})
	}
	g.deliverEvent(ctx, p, protocol.EventOpConnectedClient, protocol.ConnectedClientEvent{
		GameID: g.gameID, ClientID: g.partialHost.ID, Nickname: g.partialHost.Nickname,
	})

	// The newcomer, announced to everyone already here.
	frame, err := protocol.EventFrame(protocol.EventOpConnectedClient, protocol.ConnectedClientEvent{
		GameID: g.gameID, ClientID: p.ID, Nickname: p.Nickname,
	})
	if err != nil {
		return protocol.NewClientError(protocol.ErrInternalServerError, "could not encode event")
	}
	g.sendGlobal(ctx, frame, nil)

	g.connected[p.ID] = p
	g.logger.Info().Str("client_id", p.ID.String()).Str("nickname", p.Nickname).Msg("Participant registered")
	return nil
}

// Unregister drops a participant and tells everyone left.
func (g *Game) Unregister(ctx context.Context, clientID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.isHost {
		return
	}
	if _, ok := g.connected[clientID]; !ok {
		return
	}
	delete(g.connected, clientID)

	frame, err := protocol.EventFrame(protocol.EventOpDisconnectedClient, protocol.DisconnectedClientEvent{
		GameID: g.gameID, ClientID: clientID,
	})
	if err != nil {
		g.logger.Error().Err(err).Msg("Failed to encode DisconnectedClient event")
		return
	}
	g.sendGlobal(ctx, frame, nil)
	g.logger.Info().Str("client_id", clientID.String()).Msg("Participant unregistered")
}

// Start closes registration, samples the match's tasks and announces
// the first one. Host replicas only; a second Start fails.
func (g *Game) Start(ctx context.Context, taskCount int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.isHost {
		return protocol.NewClientError(protocol.ErrNotGameHost, "only the host may start the game")
	}
	if g.started {
		return protocol.NewClientError(protocol.ErrGameAlreadyStarted, "game already started")
	}

	tasks, err := g.catalogue.Sample(taskCount)
	if err != nil {
		g.logger.Error().Err(err).Int("task_count", taskCount).Msg("Task sampling failed")
		return protocol.NewClientError(protocol.ErrInternalServerError, "could not assemble task list")
	}

	g.public = false
	g.started = true
	g.tasks = tasks
	g.partialHost.progress = make(map[int]bool, taskCount)
	for _, p := range g.connected {
		p.progress = make(map[int]bool, taskCount)
	}

	startFrame, err := protocol.EventFrame(protocol.EventOpStart, protocol.StartEvent{TaskCount: taskCount})
	if err != nil {
		return protocol.NewClientError(protocol.ErrInternalServerError, "could not encode event")
	}
	g.sendGlobal(ctx, startFrame, nil)

	taskFrame, err := protocol.EventFrame(protocol.EventOpTask, protocol.TaskEvent{Task: tasks[0]})
	if err != nil {
		return protocol.NewClientError(protocol.ErrInternalServerError, "could not encode event")
	}
	g.sendGlobal(ctx, taskFrame, nil)

	g.logger.Info().Int("task_count", taskCount).Msg("Game started")
	return nil
}

// TaskAt returns the task at an index. Host replicas only; callers on
// a follower consult the host replica instead.
func (g *Game) TaskAt(index int) (task.GameTask, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.taskAt(index)
}

func (g *Game) taskAt(index int) (task.GameTask, error) {
	if !g.started {
		return task.GameTask{}, protocol.NewClientError(protocol.ErrGameNotStarted, "game has not started")
	}
	if index < 0 || index >= len(g.tasks) {
		return task.GameTask{}, protocol.NewClientError(protocol.ErrOutOfRangeTask, "no task at that index")
	}
	return g.tasks[index], nil
}

// Compile runs a submission through the sandbox against the task's
// public cases and, only if every public case passes, the private
// ones. Completing both marks the submitter's progress and announces
// TaskFinished to everyone except the submitter.
func (g *Game) Compile(ctx context.Context, submitterID uuid.UUID, req protocol.CompileRequest) (protocol.CompileResponse, error) {
	g.mu.Lock()
	if !g.isHost {
		g.mu.Unlock()
		return protocol.CompileResponse{}, protocol.NewClientError(protocol.ErrNotGameHost, "compilation runs on the host replica")
	}
	t, err := g.taskAt(req.TaskIndex)
	g.mu.Unlock()
	if err != nil {
		return protocol.CompileResponse{}, err
	}

	// The sandbox round-trips run without the replica lock so that
	// registration, drop, and fan-out keep moving under a slow
	// submission.
	resp := protocol.CompileResponse{TaskIndex: req.TaskIndex, PublicTestProgress: []protocol.TestProgress{}}

	publicResult, err := g.runCases(ctx, submitterID, req, t.PublicTestCases)
	if err != nil {
		return protocol.CompileResponse{}, err
	}
	if !publicResult.compiled {
		resp.Stderr = publicResult.stderr
		return resp, nil
	}
	resp.PublicTestProgress = publicResult.progress
	if !publicResult.allPassed {
		return resp, nil
	}
	resp.IsDonePublicTests = true

	privateResult, err := g.runCases(ctx, submitterID, req, t.PrivateTestCases)
	if err != nil {
		return protocol.CompileResponse{}, err
	}
	if !privateResult.compiled || !privateResult.allPassed {
		return resp, nil
	}
	resp.IsDonePrivateTests = true
	resp.IsDone = true

	// Re-acquire to record progress. The game may have shut down or
	// the submitter may have left while the sandbox was running.
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.shutdownDone || !g.started {
		return resp, nil
	}
	p := g.participant(submitterID)
	if p == nil {
		return resp, nil
	}
	if p.progress != nil {
		p.progress[req.TaskIndex] = true
	}

	frame, err := protocol.EventFrame(protocol.EventOpTaskFinished, protocol.TaskFinishedEvent{
		Task: t, TaskIndex: req.TaskIndex, ClientID: submitterID,
	})
	if err != nil {
		g.logger.Error().Err(err).Msg("Failed to encode TaskFinished event")
		return resp, nil
	}
	g.sendGlobal(ctx, frame, map[uuid.UUID]bool{submitterID: true})

	g.logger.Info().
		Str("client_id", submitterID.String()).
		Int("task_index", req.TaskIndex).
		Msg("Task finished")
	return resp, nil
}

type caseRun struct {
	compiled  bool
	allPassed bool
	progress  []protocol.TestProgress
	stderr    string
}

func (g *Game) runCases(ctx context.Context, submitterID uuid.UUID, req protocol.CompileRequest, cases []task.TestCase) (caseRun, error) {
	stdins := make([]string, len(cases))
	for i, tc := range cases {
		stdins[i] = tc.Stdin
	}

	result, err := g.runner.Compile(ctx, submitterID, req.Code, stdins, req.Language)
	if err != nil {
		g.logger.Error().Err(err).Msg("Sandbox call failed")
		return caseRun{}, protocol.NewClientError(protocol.ErrInternalServerError, "sandbox unavailable")
	}
	if !result.Success {
		return caseRun{stderr: strings.Join(result.Stderr, "\n")}, nil
	}
	if len(result.Stdout) < len(cases) {
		return caseRun{}, protocol.NewClientError(protocol.ErrInternalServerError, "sandbox returned incomplete output")
	}

	run := caseRun{compiled: true, allPassed: true, progress: make([]protocol.TestProgress, len(cases))}
	for i, tc := range cases {
		got := strings.TrimSuffix(result.Stdout[i], "\n")
		got = strings.TrimSuffix(got, "\r")
		passed := got == tc.Expected
		run.progress[i] = protocol.TestProgress{ID: tc.ID, Passed: passed}
		if !passed {
			run.allPassed = false
		}
	}
	return run, nil
}

// participant resolves a submitter to its handle, the host included.
func (g *Game) participant(id uuid.UUID) *Participant {
	if id == g.partialHost.ID {
		return g.partialHost
	}
	return g.connected[id]
}

// sendGlobal fans a serialised frame out to every participant not in
// skip, host last. Host replicas only. Per-participant failures are
// logged and skipped; a departed participant is not an error.
func (g *Game) sendGlobal(ctx context.Context, frame []byte, skip map[uuid.UUID]bool) {
	for id, p := range g.connected {
		if skip[id] {
			continue
		}
		if err := p.Deliver(ctx, g.pub, frame); err != nil {
			g.logger.Warn().Err(err).Str("client_id", id.String()).Msg("Fan-out delivery failed")
		}
	}
	if !skip[g.partialHost.ID] {
		if err := g.partialHost.Deliver(ctx, g.pub, frame); err != nil {
			g.logger.Warn().Err(err).Str("client_id", g.partialHost.ID.String()).Msg("Fan-out delivery to host failed")
		}
	}
}

func (g *Game) deliverEvent(ctx context.Context, p *Participant, op protocol.EventOp, payload any) {
	frame, err := protocol.EventFrame(op, payload)
	if err != nil {
		g.logger.Error().Err(err).Str("event", string(op)).Msg("Failed to encode event")
		return
	}
	if err := p.Deliver(ctx, g.pub, frame); err != nil {
		g.logger.Warn().Err(err).Str("client_id", p.ID.String()).Msg("Event delivery failed")
	}
}
