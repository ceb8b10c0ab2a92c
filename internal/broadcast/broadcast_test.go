package broadcast

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/me-niyas-ali/stream/internal/domain"
	"github.com/me-niyas-ali/stream/internal/registry"
)

type mockConn struct {
	id      string
	session *domain.Session
	full    bool

	mu     sync.Mutex
	text   []string
	binary [][]byte
}

func newMockConn(id string) *mockConn {
	return &mockConn{id: id, session: domain.NewSession(id)}
}

func (m *mockConn) ID() string { return m.id }
func (m *mockConn) Session() *domain.Session { return m.session }
func (m *mockConn) Ping() error { return nil }
func (m *mockConn) Close() {}
func (m *mockConn) Terminate() {}

func (m *mockConn) Send(data []byte) error {
	if m.full {
		return errors.New("full")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = append(m.text, string(data))
	return nil
}

func (m *mockConn) SendBinary(data []byte) error {
	if m.full {
		return errors.New("full")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.binary = append(m.binary, data)
	return nil
}

func (m *mockConn) received() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.text...)
}

func snapshot(host *mockConn, followers ...*mockConn) registry.Snapshot {
	snap := registry.Snapshot{ID: "r"}
	if host != nil {
		snap.Host = host
	}
	for _, f := range followers {
		snap.Followers = append(snap.Followers, f)
	}
	return snap
}

func TestRoom_ExcludesSender(t *testing.T) {
	h, f1, f2 := newMockConn("h"), newMockConn("f1"), newMockConn("f2")

	n, err := Room(snapshot(h, f1, f2), domain.ClientsMessage{Type: domain.MsgTypeClients, Count: 3}, "f1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, []string{`{"type":"clients","count":3}`}, h.received())
	assert.Empty(t, f1.received())
	assert.Len(t, f2.received(), 1)
}

func TestFollowers_SkipsHost(t *testing.T) {
	h, f1 := newMockConn("h"), newMockConn("f1")

	n, err := Followers(snapshot(h, f1), domain.NoticeMessage{Type: domain.MsgTypePong}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, h.received())
	assert.Len(t, f1.received(), 1)
}

func TestFollowersBinary(t *testing.T) {
	h, f1, f2 := newMockConn("h"), newMockConn("f1"), newMockConn("f2")
	chunk := []byte{0xde, 0xad}

	assert.Equal(t, []string{"f1", "f2"}, FollowersBinary(snapshot(h, f1, f2), chunk))
	assert.Empty(t, h.binary)
	assert.Equal(t, [][]byte{chunk}, f1.binary)
	assert.Equal(t, [][]byte{chunk}, f2.binary)
}

func TestFollowersBinary_ReportsOnlyQueued(t *testing.T) {
	h, slow, ok := newMockConn("h"), newMockConn("slow"), newMockConn("ok")
	slow.full = true

	assert.Equal(t, []string{"ok"}, FollowersBinary(snapshot(h, slow, ok), []byte{1}))
	assert.Empty(t, slow.binary)
}

func TestDroppedFramesDoNotStopFanOut(t *testing.T) {
	h, slow, ok := newMockConn("h"), newMockConn("slow"), newMockConn("ok")
	slow.full = true

	n, err := Followers(snapshot(h, slow, ok), domain.NoticeMessage{Type: "x"}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, ok.received(), 1)
}

func TestHost_NoHost(t *testing.T) {
	assert.NoError(t, Host(snapshot(nil, newMockConn("f")), domain.NoticeMessage{Type: "x"}))

	h := newMockConn("h")
	require.NoError(t, Host(snapshot(h), domain.NoticeMessage{Type: domain.MsgTypeReadyToPlay}))
	assert.Equal(t, []string{`{"type":"ready-to-play"}`}, h.received())
}

func TestSendTo_EncodeError(t *testing.T) {
	err := SendTo(newMockConn("a"), map[string]interface{}{"bad": make(chan int)})
	assert.Error(t, err)
}
