package middleware

import (
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lipeng1667/HomeAssistantBackend-sub000/internal/testutil"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/scheduling/workerpool"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/store"
)

const remoteClient = "203.0.113.7:41000"

func connectedStore(t *testing.T, rdb *redis.Client) *store.Client {
	t.Helper()
	s := store.NewWithRedis(rdb, store.Config{
		KeyPrefix:            "app:",
		OperationTimeout:     500 * time.Millisecond,
		MaxReconnectAttempts: 1,
		ReconnectStep:        time.Millisecond,
		MaxReconnectDelay:    time.Millisecond,
	})
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	testutil.AssertNoError(t, s.Connect(ctx))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newPool(t *testing.T) *workerpool.Pool {
	t.Helper()
	p, err := workerpool.New(workerpool.Config{WorkerCount: 2, QueueSize: 64})
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { drain(t, p) })
	return p
}

// drain waits for every queued task to finish.
func drain(t *testing.T, p *workerpool.Pool) {
	t.Helper()
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	testutil.AssertNoError(t, p.Shutdown(ctx))
}

type endCall struct {
	endpoint string
	status   int
	ctxErr   error
}

// fakeRecorder implements Recorder and ConnRecorder.
type fakeRecorder struct {
	ready atomic.Bool

	mu     sync.Mutex
	starts []string
	ends   []endCall

	incs atomic.Int32
	decs atomic.Int32
}

func newFakeRecorder(ready bool) *fakeRecorder {
	f := &fakeRecorder{}
	f.ready.Store(ready)
	return f
}

func (f *fakeRecorder) Ready() bool { return f.ready.Load() }

func (f *fakeRecorder) RecordStart(ctx context.Context, endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, endpoint)
	return nil
}

func (f *fakeRecorder) RecordEnd(ctx context.Context, endpoint string, status int, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends = append(f.ends, endCall{endpoint: endpoint, status: status, ctxErr: ctx.Err()})
	return nil
}

func (f *fakeRecorder) IncrementConnections(ctx context.Context) error {
	f.incs.Add(1)
	return nil
}

func (f *fakeRecorder) DecrementConnections(ctx context.Context) error {
	f.decs.Add(1)
	return nil
}

// fakeConn reports a fixed remote address.
type fakeConn struct {
	net.Conn
	remote net.Addr
}

func (c *fakeConn) RemoteAddr() net.Addr { return c.remote }

func connFrom(ip string) net.Conn {
	return &fakeConn{remote: &net.TCPAddr{IP: net.ParseIP(ip), Port: 50000}}
}

// newSerialPool returns a pool with one worker and room for one queued task.
func newSerialPool(t *testing.T) *workerpool.Pool {
	t.Helper()
	p, err := workerpool.New(workerpool.Config{WorkerCount: 1, QueueSize: 1})
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { drain(t, p) })
	return p
}

// saturate occupies the worker of a serial pool and fills its queue. The
// returned func releases both tasks; it also runs on cleanup.
func saturate(t *testing.T, p *workerpool.Pool) func() {
	t.Helper()
	release := make(chan struct{})
	running := make(chan struct{})

	if !p.TrySubmit(context.Background(), workerpool.TaskFunc(func(ctx context.Context) error {
		close(running)
		<-release
		return nil
	})) {
		t.Fatal("blocking task was not accepted")
	}
	<-running
	if !p.TrySubmit(context.Background(), workerpool.TaskFunc(func(ctx context.Context) error {
		<-release
		return nil
	})) {
		t.Fatal("filler task was not accepted")
	}

	var once sync.Once
	done := func() { once.Do(func() { close(release) }) }
	t.Cleanup(done)
	return done
}

// orderedRecorder logs the order in which recording calls land. Starts and
// increments wait for gate.
type orderedRecorder struct {
	gate chan struct{}

	mu     sync.Mutex
	events []string
}

func newOrderedRecorder() *orderedRecorder {
	return &orderedRecorder{gate: make(chan struct{})}
}

func (o *orderedRecorder) log(event string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
}

func (o *orderedRecorder) Events() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return strings.Join(o.events, ",")
}

func (o *orderedRecorder) Ready() bool { return true }

func (o *orderedRecorder) RecordStart(ctx context.Context, endpoint string) error {
	<-o.gate
	o.log("start")
	return nil
}

func (o *orderedRecorder) RecordEnd(ctx context.Context, endpoint string, status int, d time.Duration) error {
	o.log("end")
	return nil
}

func (o *orderedRecorder) IncrementConnections(ctx context.Context) error {
	<-o.gate
	o.log("inc")
	return nil
}

func (o *orderedRecorder) DecrementConnections(ctx context.Context) error {
	o.log("dec")
	return nil
}
