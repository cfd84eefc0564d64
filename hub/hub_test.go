package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"node.town/hark/metrics"
)

type fakeConn struct {
	id      string
	failing bool

	mu     sync.Mutex
	sent   [][]byte
	closed int
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string         { return c.id }
func (c *fakeConn) RemoteAddr() string { return "127.0.0.1:" + c.id }

func (c *fakeConn) Send(data []byte) error {
	if c.failing {
		return errors.New("broken pipe")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, m := range c.sent {
		out[i] = string(m)
	}
	return out
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func startHub(t *testing.T) (*Hub, *metrics.Metrics) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	loop := NewLoop(16, quietLogger())
	go loop.Run(ctx)
	t.Cleanup(cancel)

	m := metrics.New()
	return New(loop, quietLogger(), m), m
}

// drain waits until everything submitted so far has run.
func drain(t *testing.T, h *Hub) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.Loop().Do(ctx, func() {}))
}

func TestEventJSON(t *testing.T) {
	data, err := Event{Type: FullSentence, Text: "hello there"}.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"fullSentence","text":"hello there"}`, string(data))

	data, err = Event{Type: Realtime, Text: ""}.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"realtime","text":""}`, string(data))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a, b := newFakeConn("a"), newFakeConn("b")

	r.Add(a)
	r.Add(b)
	r.Add(a)
	assert.Equal(t, 2, r.Len())

	snap := r.Snapshot()
	assert.True(t, r.Remove(a))
	assert.False(t, r.Remove(a))
	assert.Len(t, snap, 2)
	assert.Equal(t, 1, r.Len())
}

func TestBroadcastEvictsOnlyFailingConnection(t *testing.T) {
	for n := 1; n <= 5; n++ {
		t.Run(fmt.Sprintf("%d clients", n), func(t *testing.T) {
			r := NewRegistry()
			m := metrics.New()
			b := NewBroadcaster(r, quietLogger(), m)

			conns := make([]*fakeConn, n)
			for i := range conns {
				conns[i] = newFakeConn(fmt.Sprint(i))
				r.Add(conns[i])
			}
			conns[n/2].failing = true

			delivered := b.Broadcast(Event{Type: FullSentence, Text: "hi"})

			assert.Equal(t, n-1, delivered)
			assert.Equal(t, n-1, r.Len())
			for i, c := range conns {
				if i == n/2 {
					assert.Empty(t, c.messages())
					assert.Equal(t, 1, c.closeCount())
					continue
				}
				assert.Equal(t, []string{`{"type":"fullSentence","text":"hi"}`}, c.messages())
				assert.Zero(t, c.closeCount())
			}
			assert.Equal(t, 1.0, testutil.ToFloat64(m.SendFailures))
		})
	}
}

func TestBroadcastWithNoClients(t *testing.T) {
	r := NewRegistry()
	m := metrics.New()
	b := NewBroadcaster(r, quietLogger(), m)

	assert.Zero(t, b.Broadcast(Event{Type: Realtime, Text: "x"}))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Events.WithLabelValues("realtime")))
}

func TestHubJoinPublishLeave(t *testing.T) {
	h, m := startHub(t)
	a, b := newFakeConn("a"), newFakeConn("b")

	require.True(t, h.Join(a))
	require.True(t, h.Join(b))
	require.True(t, h.Publish(Event{Type: Realtime, Text: "one"}))
	require.True(t, h.Leave(b))
	require.True(t, h.Publish(Event{Type: FullSentence, Text: "two"}))
	drain(t, h)

	assert.Equal(t, []string{
		`{"type":"realtime","text":"one"}`,
		`{"type":"fullSentence","text":"two"}`,
	}, a.messages())
	assert.Equal(t, []string{`{"type":"realtime","text":"one"}`}, b.messages())
	assert.Equal(t, 1, b.closeCount())

	n, err := h.Clients(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Clients))
}

func TestLeaveAfterEvictionIsNoop(t *testing.T) {
	h, _ := startHub(t)
	bad := newFakeConn("bad")
	bad.failing = true

	h.Join(bad)
	h.Publish(Event{Type: FullSentence, Text: "x"})
	h.Leave(bad)
	drain(t, h)

	assert.Equal(t, 1, bad.closeCount())
}

func TestPublishPreservesSubmissionOrder(t *testing.T) {
	h, _ := startHub(t)
	c := newFakeConn("c")
	h.Join(c)

	var want []string
	for i := 0; i < 50; i++ {
		kind := Realtime
		if i%5 == 4 {
			kind = FullSentence
		}
		h.Publish(Event{Type: kind, Text: fmt.Sprint(i)})
		want = append(want, fmt.Sprintf(`{"type":%q,"text":"%d"}`, kind, i))
	}
	drain(t, h)

	assert.Equal(t, want, c.messages())
}

func TestDisconnectClosesEveryone(t *testing.T) {
	h, _ := startHub(t)
	a, b := newFakeConn("a"), newFakeConn("b")
	h.Join(a)
	h.Join(b)

	require.NoError(t, h.Disconnect(context.Background()))

	n, err := h.Clients(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, a.closeCount())
	assert.Equal(t, 1, b.closeCount())
}

func TestSubmitAfterClose(t *testing.T) {
	loop := NewLoop(1, quietLogger())
	loop.Close()
	loop.Close()

	assert.False(t, loop.Submit(func() {}))
	assert.ErrorIs(t, loop.Do(context.Background(), func() {}), ErrClosed)
}

func TestLoopSurvivesPanickingTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := NewLoop(4, quietLogger())
	go loop.Run(ctx)

	loop.Submit(func() { panic("boom") })

	ran := false
	require.NoError(t, loop.Do(ctx, func() { ran = true }))
	assert.True(t, ran)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	loop := NewLoop(4, quietLogger())
	stopped := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(stopped)
	}()

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	assert.False(t, loop.Submit(func() {}))
}
