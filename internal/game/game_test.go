package game

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codegrass/server/internal/directory"
	"github.com/codegrass/server/internal/protocol"
	"github.com/codegrass/server/internal/sandbox"
	"github.com/codegrass/server/internal/sharding"
	"github.com/codegrass/server/internal/task"
)

// sink collects frames a local participant would have received.
type sink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *sink) enqueue(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, append([]byte(nil), frame...))
	return nil
}

func (s *sink) all() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

func (s *sink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
}

// events decodes every GameEvent frame the sink holds.
func (s *sink) events(t *testing.T) []protocol.GameEvent {
	t.Helper()
	var out []protocol.GameEvent
	for _, raw := range s.all() {
		m, err := protocol.DecodeDefault(raw)
		require.NoError(t, err)
		if m.Op != protocol.OpGameEvent {
			continue
		}
		var ev protocol.GameEvent
		require.NoError(t, json.Unmarshal(m.D, &ev))
		out = append(out, ev)
	}
	return out
}

// responses decodes every Response frame the sink holds.
func (s *sink) responses(t *testing.T) []protocol.Response {
	t.Helper()
	var out []protocol.Response
	for _, raw := range s.all() {
		m, err := protocol.DecodeDefault(raw)
		require.NoError(t, err)
		if m.Op != protocol.OpResponse {
			continue
		}
		var resp protocol.Response
		require.NoError(t, json.Unmarshal(m.D, &resp))
		out = append(out, resp)
	}
	return out
}

type publishedEnvelope struct {
	shardID uuid.UUID
	env     sharding.ShardDefault
}

type fakePublisher struct {
	mu   sync.Mutex
	envs []publishedEnvelope
}

func (p *fakePublisher) PublishToShard(_ context.Context, shardID uuid.UUID, env sharding.ShardDefault) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs = append(p.envs, publishedEnvelope{shardID: shardID, env: env})
	return nil
}

func (p *fakePublisher) all() []publishedEnvelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEnvelope(nil), p.envs...)
}

// scriptedRunner pops one result per Compile call.
type scriptedRunner struct {
	mu      sync.Mutex
	results []sandbox.Result
	err     error
	calls   int
}

func (r *scriptedRunner) Compile(_ context.Context, _ uuid.UUID, _ string, _ []string, _ string) (sandbox.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return sandbox.Result{}, r.err
	}
	if len(r.results) == 0 {
		return sandbox.Result{}, nil
	}
	res := r.results[0]
	r.results = r.results[1:]
	return res, nil
}

// gatedRunner parks every Compile call until released.
type gatedRunner struct {
	entered chan struct{}
	release chan struct{}
}

func (r *gatedRunner) Compile(_ context.Context, _ uuid.UUID, _ string, stdins []string, _ string) (sandbox.Result, error) {
	r.entered <- struct{}{}
	<-r.release
	out := make([]string, len(stdins))
	return sandbox.Result{Success: true, Stdout: out}, nil
}

type staticResolver struct {
	hostID uuid.UUID
	g      *Game
}

func (r staticResolver) HostGame(id uuid.UUID) (*Game, bool) {
	if id == r.hostID {
		return r.g, true
	}
	return nil, false
}

func testCatalogue() *task.Catalogue {
	return task.NewCatalogue([]task.GameTask{{
		TaskID:   uuid.New(),
		Question: "Print the sum of two integers read from stdin.",
		PublicTestCases: []task.TestCase{
			{ID: uuid.New(), Stdin: "1 2", Expected: "3"},
			{ID: uuid.New(), Stdin: "2 2", Expected: "4"},
		},
		PrivateTestCases: []task.TestCase{
			{ID: uuid.New(), Stdin: "40 2", Expected: "42"},
		},
	}})
}

type fixture struct {
	dir    *directory.Memory
	pub    *fakePublisher
	runner *scriptedRunner
	cfg    Config
}

func newFixture() *fixture {
	f := &fixture{
		dir:    directory.NewMemory(),
		pub:    &fakePublisher{},
		runner: &scriptedRunner{},
	}
	f.cfg = Config{
		Logger:    zerolog.Nop(),
		Catalogue: testCatalogue(),
		Runner:    f.runner,
		Directory: f.dir,
		Publisher: f.pub,
	}
	return f
}

func (f *fixture) hostGame(gameID string) (*Game, *sink, uuid.UUID) {
	hostSink := &sink{}
	hostID := uuid.New()
	host := NewLocalParticipant(hostID, "host", uuid.New(), hostSink.enqueue)
	return NewHost(f.cfg, gameID, host), hostSink, hostID
}

func TestRegisterChoreography(t *testing.T) {
	f := newFixture()
	g, hostSink, hostID := f.hostGame("1234567890")
	ctx := context.Background()

	aliceSink := &sink{}
	alice := NewLocalParticipant(uuid.New(), "alice", uuid.New(), aliceSink.enqueue)
	require.NoError(t, g.Register(ctx, alice))

	bobSink := &sink{}
	bob := NewLocalParticipant(uuid.New(), "bob", uuid.New(), bobSink.enqueue)
	require.NoError(t, g.Register(ctx, bob))

	// Bob learns about alice and the host; he is not told about himself.
	bobEvents := bobSink.events(t)
	require.Len(t, bobEvents, 2)
	seen := map[uuid.UUID]string{}
	for _, ev := range bobEvents {
		require.Equal(t, protocol.EventOpConnectedClient, ev.Op)
		var body protocol.ConnectedClientEvent
		require.NoError(t, ev.Data(&body))
		assert.Equal(t, "1234567890", body.GameID)
		seen[body.ClientID] = body.Nickname
	}
	assert.Equal(t, "alice", seen[alice.ID])
	assert.Equal(t, "host", seen[hostID])
	assert.NotContains(t, seen, bob.ID)

	// Alice and the host each saw bob arrive.
	lastAlice := aliceSink.events(t)
	var aliceBody protocol.ConnectedClientEvent
	require.NoError(t, lastAlice[len(lastAlice)-1].Data(&aliceBody))
	assert.Equal(t, bob.ID, aliceBody.ClientID)

	lastHost := hostSink.events(t)
	var hostBody protocol.ConnectedClientEvent
	require.NoError(t, lastHost[len(lastHost)-1].Data(&hostBody))
	assert.Equal(t, bob.ID, hostBody.ClientID)

	assert.Equal(t, 2, g.ParticipantCount())
}

func TestRegisterRemoteParticipant(t *testing.T) {
	f := newFixture()
	g, _, _ := f.hostGame("1234567890")
	ctx := context.Background()

	peerShard := uuid.New()
	remote := NewRemoteParticipant(uuid.New(), "remote", peerShard)
	require.NoError(t, g.Register(ctx, remote))

	// The remote participant's events travel the broker as SendToClient.
	envs := f.pub.all()
	require.NotEmpty(t, envs)
	for _, pe := range envs {
		assert.Equal(t, peerShard, pe.shardID)
		assert.Equal(t, sharding.ShardOpSendToClient, pe.env.Op)
		assert.Equal(t, remote.ID, pe.env.Target)
	}
}

func TestRegisterOnFollowerFails(t *testing.T) {
	f := newFixture()
	selfSink := &sink{}
	self := NewLocalParticipant(uuid.New(), "alice", uuid.New(), selfSink.enqueue)
	host := NewRemoteParticipant(uuid.New(), "host", uuid.New())
	g := NewFollower(f.cfg, "1234567890", self, host)

	err := g.Register(context.Background(), NewLocalParticipant(uuid.New(), "bob", uuid.New(), (&sink{}).enqueue))
	var cerr *protocol.ClientError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, protocol.ErrNotGameHost, cerr.Code)
}

func TestRegisterAfterStartFails(t *testing.T) {
	f := newFixture()
	g, _, _ := f.hostGame("1234567890")
	ctx := context.Background()
	require.NoError(t, g.Start(ctx, 1))

	err := g.Register(ctx, NewLocalParticipant(uuid.New(), "late", uuid.New(), (&sink{}).enqueue))
	var cerr *protocol.ClientError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, protocol.ErrGameAlreadyStarted, cerr.Code)
}

func TestStart(t *testing.T) {
	f := newFixture()
	g, hostSink, _ := f.hostGame("1234567890")
	ctx := context.Background()

	aliceSink := &sink{}
	require.NoError(t, g.Register(ctx, NewLocalParticipant(uuid.New(), "alice", uuid.New(), aliceSink.enqueue)))
	aliceSink.reset()
	hostSink.reset()

	require.NoError(t, g.Start(ctx, 1))
	assert.True(t, g.Started())

	for _, s := range []*sink{hostSink, aliceSink} {
		evs := s.events(t)
		require.Len(t, evs, 2)
		assert.Equal(t, protocol.EventOpStart, evs[0].Op)
		var startBody protocol.StartEvent
		require.NoError(t, evs[0].Data(&startBody))
		assert.Equal(t, 1, startBody.TaskCount)

		assert.Equal(t, protocol.EventOpTask, evs[1].Op)
		var taskBody protocol.TaskEvent
		require.NoError(t, evs[1].Data(&taskBody))
		assert.NotEmpty(t, taskBody.Task.Question)
		assert.Empty(t, taskBody.Task.PrivateTestCases, "private cases must not reach clients")
	}

	// Starting twice fails.
	err := g.Start(ctx, 1)
	var cerr *protocol.ClientError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, protocol.ErrGameAlreadyStarted, cerr.Code)
}

func TestStartTooManyTasks(t *testing.T) {
	f := newFixture()
	g, _, _ := f.hostGame("1234567890")

	err := g.Start(context.Background(), 99)
	var cerr *protocol.ClientError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, protocol.ErrInternalServerError, cerr.Code)
	assert.False(t, g.Started())
}

func TestTaskAt(t *testing.T) {
	f := newFixture()
	g, _, _ := f.hostGame("1234567890")
	ctx := context.Background()

	_, err := g.TaskAt(0)
	var cerr *protocol.ClientError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, protocol.ErrGameNotStarted, cerr.Code)

	require.NoError(t, g.Start(ctx, 1))

	got, err := g.TaskAt(0)
	require.NoError(t, err)
	assert.NotEmpty(t, got.Question)

	_, err = g.TaskAt(1)
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, protocol.ErrOutOfRangeTask, cerr.Code)

	_, err = g.TaskAt(-1)
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, protocol.ErrOutOfRangeTask, cerr.Code)
}

func TestCompileCompilationFailure(t *testing.T) {
	f := newFixture()
	g, _, hostID := f.hostGame("1234567890")
	ctx := context.Background()
	require.NoError(t, g.Start(ctx, 1))

	f.runner.results = []sandbox.Result{{Success: false, Stderr: []string{"main.go:3: syntax error"}}}

	resp, err := g.Compile(ctx, hostID, protocol.CompileRequest{TaskIndex: 0, Code: "broken"})
	require.NoError(t, err)
	assert.False(t, resp.IsDone)
	assert.False(t, resp.IsDonePublicTests)
	assert.Empty(t, resp.PublicTestProgress)
	assert.Contains(t, resp.Stderr, "syntax error")
	assert.Equal(t, 1, f.runner.calls, "private cases must not run after a failed build")
}

func TestCompilePublicCaseFails(t *testing.T) {
	f := newFixture()
	g, _, hostID := f.hostGame("1234567890")
	ctx := context.Background()
	require.NoError(t, g.Start(ctx, 1))

	// Two public cases: first passes, second does not.
	f.runner.results = []sandbox.Result{{Success: true, Stdout: []string{"3", "5"}}}

	resp, err := g.Compile(ctx, hostID, protocol.CompileRequest{TaskIndex: 0, Code: "wrong"})
	require.NoError(t, err)
	assert.False(t, resp.IsDonePublicTests)
	assert.False(t, resp.IsDone)
	require.Len(t, resp.PublicTestProgress, 2)
	assert.True(t, resp.PublicTestProgress[0].Passed)
	assert.False(t, resp.PublicTestProgress[1].Passed)
	assert.Equal(t, 1, f.runner.calls)
}

func TestCompileFullPass(t *testing.T) {
	f := newFixture()
	g, hostSink, _ := f.hostGame("1234567890")
	ctx := context.Background()

	aliceSink := &sink{}
	alice := NewLocalParticipant(uuid.New(), "alice", uuid.New(), aliceSink.enqueue)
	require.NoError(t, g.Register(ctx, alice))
	require.NoError(t, g.Start(ctx, 1))
	aliceSink.reset()
	hostSink.reset()

	// Trailing newlines from the runtime are ignored in the comparison.
	f.runner.results = []sandbox.Result{
		{Success: true, Stdout: []string{"3\n", "4\r\n"}},
		{Success: true, Stdout: []string{"42"}},
	}

	resp, err := g.Compile(ctx, alice.ID, protocol.CompileRequest{TaskIndex: 0, Code: "correct"})
	require.NoError(t, err)
	assert.True(t, resp.IsDonePublicTests)
	assert.True(t, resp.IsDonePrivateTests)
	assert.True(t, resp.IsDone)
	assert.Equal(t, 2, f.runner.calls)
	assert.True(t, alice.progress[0])

	// TaskFinished goes to everyone but the submitter.
	assert.Empty(t, aliceSink.events(t))
	hostEvents := hostSink.events(t)
	require.Len(t, hostEvents, 1)
	assert.Equal(t, protocol.EventOpTaskFinished, hostEvents[0].Op)
	var body protocol.TaskFinishedEvent
	require.NoError(t, hostEvents[0].Data(&body))
	assert.Equal(t, alice.ID, body.ClientID)
	assert.Equal(t, 0, body.TaskIndex)
}

func TestCompileDoesNotBlockReplica(t *testing.T) {
	f := newFixture()
	runner := &gatedRunner{entered: make(chan struct{}, 2), release: make(chan struct{})}
	f.cfg.Runner = runner
	g, _, hostID := f.hostGame("1234567890")
	ctx := context.Background()
	require.NoError(t, g.Start(ctx, 1))

	compiled := make(chan struct{})
	go func() {
		defer close(compiled)
		resp, err := g.Compile(ctx, hostID, protocol.CompileRequest{TaskIndex: 0, Code: "slow"})
		assert.NoError(t, err)
		assert.False(t, resp.IsDone)
	}()
	<-runner.entered

	// Other entry points stay live while the sandbox call is parked.
	checked := make(chan struct{})
	go func() {
		defer close(checked)
		assert.True(t, g.Started())
		late := NewLocalParticipant(uuid.New(), "late", uuid.New(), (&sink{}).enqueue)
		assert.Error(t, g.Register(ctx, late))
	}()
	select {
	case <-checked:
	case <-time.After(2 * time.Second):
		t.Fatal("replica blocked behind an in-flight sandbox call")
	}

	close(runner.release)
	select {
	case <-compiled:
	case <-time.After(2 * time.Second):
		t.Fatal("compile never finished after the sandbox was released")
	}
}

func TestCompileSandboxDown(t *testing.T) {
	f := newFixture()
	g, _, hostID := f.hostGame("1234567890")
	ctx := context.Background()
	require.NoError(t, g.Start(ctx, 1))

	f.runner.err = assert.AnError

	_, err := g.Compile(ctx, hostID, protocol.CompileRequest{TaskIndex: 0, Code: "x"})
	var cerr *protocol.ClientError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, protocol.ErrInternalServerError, cerr.Code)
}

func TestCompileBeforeStart(t *testing.T) {
	f := newFixture()
	g, _, hostID := f.hostGame("1234567890")

	_, err := g.Compile(context.Background(), hostID, protocol.CompileRequest{TaskIndex: 0, Code: "x"})
	var cerr *protocol.ClientError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, protocol.ErrGameNotStarted, cerr.Code)
}

func TestUnregister(t *testing.T) {
	f := newFixture()
	g, hostSink, _ := f.hostGame("1234567890")
	ctx := context.Background()

	alice := NewLocalParticipant(uuid.New(), "alice", uuid.New(), (&sink{}).enqueue)
	require.NoError(t, g.Register(ctx, alice))
	hostSink.reset()

	g.Unregister(ctx, alice.ID)
	assert.Equal(t, 0, g.ParticipantCount())

	evs := hostSink.events(t)
	require.Len(t, evs, 1)
	assert.Equal(t, protocol.EventOpDisconnectedClient, evs[0].Op)
	var body protocol.DisconnectedClientEvent
	require.NoError(t, evs[0].Data(&body))
	assert.Equal(t, alice.ID, body.ClientID)

	// Unregistering an unknown id is a no-op.
	g.Unregister(ctx, uuid.New())
	assert.Len(t, hostSink.events(t), 1)
}

func TestDropHost(t *testing.T) {
	f := newFixture()
	g, hostSink, _ := f.hostGame("1234567890")
	ctx := context.Background()
	require.NoError(t, f.dir.WriteGame(ctx, "1234567890", directory.GameRecord{}))

	aliceSink := &sink{}
	require.NoError(t, g.Register(ctx, NewLocalParticipant(uuid.New(), "alice", uuid.New(), aliceSink.enqueue)))
	aliceSink.reset()
	hostSink.reset()

	g.Drop(ctx, nil)

	// Followers get the Shutdown event; the host does not.
	aliceEvents := aliceSink.events(t)
	require.Len(t, aliceEvents, 1)
	assert.Equal(t, protocol.EventOpShutdown, aliceEvents[0].Op)
	assert.Empty(t, hostSink.events(t))

	// The host gets a ShutdownResponse.
	hostResponses := hostSink.responses(t)
	require.Len(t, hostResponses, 1)
	assert.Equal(t, protocol.ResponseOpShutdown, hostResponses[0].Op)

	// The directory entry is gone.
	entry, err := f.dir.LookupGame(ctx, "1234567890")
	require.NoError(t, err)
	assert.False(t, entry.Exists)

	// Dropping twice is a no-op.
	aliceSink.reset()
	hostSink.reset()
	g.Drop(ctx, nil)
	assert.Empty(t, aliceSink.all())
	assert.Empty(t, hostSink.all())
}

func TestDropLocalFollower(t *testing.T) {
	f := newFixture()
	hostGame, hostSink, hostID := f.hostGame("1234567890")
	ctx := context.Background()

	aliceSink := &sink{}
	alice := NewLocalParticipant(uuid.New(), "alice", uuid.New(), aliceSink.enqueue)
	require.NoError(t, hostGame.Register(ctx, alice))

	follower := NewFollower(f.cfg, "1234567890", alice, hostGame.Host())
	aliceSink.reset()
	hostSink.reset()

	follower.Drop(ctx, staticResolver{hostID: hostID, g: hostGame})

	assert.Equal(t, 0, hostGame.ParticipantCount())

	// The host saw the departure; alice got her LeaveResponse.
	hostEvents := hostSink.events(t)
	require.Len(t, hostEvents, 1)
	assert.Equal(t, protocol.EventOpDisconnectedClient, hostEvents[0].Op)

	aliceResponses := aliceSink.responses(t)
	require.Len(t, aliceResponses, 1)
	assert.Equal(t, protocol.ResponseOpLeave, aliceResponses[0].Op)
	var leave protocol.LeaveResponse
	require.NoError(t, aliceResponses[0].Data(&leave))
	assert.True(t, leave.Success)
	assert.Equal(t, "1234567890", leave.GameID)
}

func TestDropRemoteFollower(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	hostShard := uuid.New()
	hostID := uuid.New()
	aliceSink := &sink{}
	alice := NewLocalParticipant(uuid.New(), "alice", uuid.New(), aliceSink.enqueue)
	host := NewRemoteParticipant(hostID, "", hostShard)
	follower := NewFollower(f.cfg, "1234567890", alice, host)

	follower.Drop(ctx, nil)

	// A Leave request went to the host's shard.
	envs := f.pub.all()
	require.Len(t, envs, 1)
	assert.Equal(t, hostShard, envs[0].shardID)
	assert.Equal(t, sharding.ShardOpRequest, envs[0].env.Op)

	var req sharding.ShardRequest
	require.NoError(t, envs[0].env.Data(&req))
	assert.Equal(t, sharding.ShardRequestOpLeave, req.Op)
	var leave sharding.ShardLeaveRequest
	require.NoError(t, req.Data(&leave))
	assert.Equal(t, hostID, leave.HostID)
	assert.Equal(t, alice.ID, leave.ClientID)
	assert.Equal(t, "1234567890", leave.GameID)

	// Alice got her LeaveResponse right away.
	responses := aliceSink.responses(t)
	require.Len(t, responses, 1)
	assert.Equal(t, protocol.ResponseOpLeave, responses[0].Op)
}
