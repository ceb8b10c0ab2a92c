package liveness

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/me-niyas-ali/stream/internal/domain"
	"github.com/me-niyas-ali/stream/internal/registry"
	"github.com/me-niyas-ali/stream/internal/service"
)

type mockConn struct {
	id      string
	session *domain.Session
	pingErr error
	// answers makes every ping produce a pong.
	answers bool
	// onTerminate stands in for the read loop ending.
	onTerminate func(*mockConn)

	mu         sync.Mutex
	pings      int
	terminated int
	received   []map[string]interface{}
}

func newMockConn(id string, answers bool) *mockConn {
	return &mockConn{id: id, session: domain.NewSession(id), answers: answers}
}

func (m *mockConn) ID() string { return m.id }
func (m *mockConn) Session() *domain.Session { return m.session }
func (m *mockConn) SendBinary([]byte) error { return nil }
func (m *mockConn) Close() {}

func (m *mockConn) Send(data []byte) error {
	var msg map[string]interface{}
	_ = json.Unmarshal(data, &msg)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, msg)
	return nil
}

func (m *mockConn) Ping() error {
	m.mu.Lock()
	m.pings++
	m.mu.Unlock()
	if m.pingErr != nil {
		return m.pingErr
	}
	if m.answers {
		m.session.MarkAlive()
	}
	return nil
}

func (m *mockConn) Terminate() {
	m.mu.Lock()
	m.terminated++
	m.mu.Unlock()
	if m.onTerminate != nil {
		m.onTerminate(m)
	}
}

func (m *mockConn) terminations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminated
}

type staticSource struct {
	mu    sync.Mutex
	conns []domain.Connection
}

func (s *staticSource) Connections() []domain.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Connection(nil), s.conns...)
}

func (s *staticSource) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.conns {
		if c.ID() == id {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			return
		}
	}
}

func TestSweep_TwoMissedPeriodsTerminate(t *testing.T) {
	healthy := newMockConn("healthy", true)
	dead := newMockConn("dead", false)
	m := NewMonitor(&staticSource{conns: []domain.Connection{healthy, dead}}, time.Minute)

	probed, terminated := m.Sweep()
	assert.Equal(t, 2, probed)
	assert.Equal(t, 0, terminated)

	probed, terminated = m.Sweep()
	assert.Equal(t, 1, probed)
	assert.Equal(t, 1, terminated)
	assert.Equal(t, 1, dead.terminations())
	assert.Equal(t, 0, healthy.terminations())
}

func TestSweep_AnyTrafficKeepsAlive(t *testing.T) {
	c := newMockConn("c", false)
	m := NewMonitor(&staticSource{conns: []domain.Connection{c}}, time.Minute)

	for i := 0; i < 5; i++ {
		m.Sweep()
		c.Session().MarkAlive()
	}
	assert.Equal(t, 0, c.terminations())
	assert.Equal(t, 5, c.pings)
}

func TestSweep_PingErrorTerminates(t *testing.T) {
	c := newMockConn("c", true)
	c.pingErr = errors.New("broken pipe")
	m := NewMonitor(&staticSource{conns: []domain.Connection{c}}, time.Minute)

	_, terminated := m.Sweep()
	assert.Equal(t, 1, terminated)
}

func TestSweep_DeadFollowerLeavesRoom(t *testing.T) {
	reg := registry.New()
	svc := service.NewRelayService(reg, nil)
	ctx := context.Background()

	src := &staticSource{}
	host := newMockConn("host", true)
	follower := newMockConn("follower", false)
	follower.onTerminate = func(c *mockConn) {
		src.remove(c.ID())
		_ = svc.HandleDisconnect(ctx, c)
	}
	src.conns = []domain.Connection{host, follower}

	require.NoError(t, svc.HandleJoin(ctx, host, "r"))
	require.NoError(t, svc.HandleJoin(ctx, follower, "r"))
	host.mu.Lock()
	host.received = nil
	host.mu.Unlock()

	m := NewMonitor(src, time.Minute)
	m.Sweep()
	m.Sweep()

	snap, ok := reg.Lookup("r")
	require.True(t, ok)
	assert.Equal(t, 1, snap.Members())

	host.mu.Lock()
	defer host.mu.Unlock()
	require.Len(t, host.received, 1)
	assert.Equal(t, "clients", host.received[0]["type"])
	assert.Equal(t, float64(1), host.received[0]["count"])
}

func TestRun_StopsOnCancel(t *testing.T) {
	dead := newMockConn("dead", false)
	m := NewMonitor(&staticSource{conns: []domain.Connection{dead}}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return dead.terminations() > 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
