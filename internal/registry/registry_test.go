package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/me-niyas-ali/stream/internal/domain"
)

type mockConn struct {
	id      string
	session *domain.Session
}

func newMockConn(id string) *mockConn {
	return &mockConn{id: id, session: domain.NewSession(id)}
}

func (m *mockConn) ID() string { return m.id }
func (m *mockConn) Session() *domain.Session { return m.session }
func (m *mockConn) Send([]byte) error { return nil }
func (m *mockConn) SendBinary([]byte) error { return nil }
func (m *mockConn) Ping() error { return nil }
func (m *mockConn) Close() {}
func (m *mockConn) Terminate() {}

type fixedIDs struct {
	mu  sync.Mutex
	ids []string
	i   int
}

func (f *fixedIDs) Generate() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.ids[f.i%len(f.ids)]
	f.i++
	return id, nil
}

func followerIDs(s Snapshot) []string {
	ids := make([]string, 0, len(s.Followers))
	for _, f := range s.Followers {
		ids = append(ids, f.ID())
	}
	return ids
}

func TestAttach_FirstJoinerHosts(t *testing.T) {
	r := New()
	a, b, c := newMockConn("a"), newMockConn("b"), newMockConn("c")

	res, err := r.Attach(a, "room1")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, domain.RoleHost, res.Role)
	assert.Equal(t, 1, res.Room.Members())

	res, err = r.Attach(b, "room1")
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, domain.RoleFollower, res.Role)
	assert.Equal(t, 2, res.Room.Members())

	res, err = r.Attach(c, "room1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleFollower, res.Role)
	assert.Equal(t, "a", res.Room.Host.ID())
	assert.Equal(t, []string{"b", "c"}, followerIDs(res.Room))

	room, role := b.Session().Room()
	assert.Equal(t, "room1", room)
	assert.Equal(t, domain.RoleFollower, role)
}

func TestAttach_RejoinIsIdempotent(t *testing.T) {
	r := New()
	a, b := newMockConn("a"), newMockConn("b")
	_, err := r.Attach(a, "x")
	require.NoError(t, err)
	_, err = r.Attach(b, "x")
	require.NoError(t, err)

	res, err := r.Attach(b, "x")
	require.NoError(t, err)
	assert.True(t, res.Rejoined)
	assert.Equal(t, domain.RoleFollower, res.Role)
	assert.Equal(t, 2, res.Room.Members())
}

func TestAttach_OtherRoomRejected(t *testing.T) {
	r := New()
	a := newMockConn("a")
	_, err := r.Attach(a, "x")
	require.NoError(t, err)

	_, err = r.Attach(a, "y")
	assert.ErrorIs(t, err, ErrAlreadyAttached)
	_, ok := r.Lookup("y")
	assert.False(t, ok)

	_, err = r.Create(a)
	assert.ErrorIs(t, err, ErrAlreadyAttached)
}

func TestDetach_PromotesFirstFollower(t *testing.T) {
	r := New()
	a, b, c := newMockConn("a"), newMockConn("b"), newMockConn("c")
	for _, conn := range []*mockConn{a, b, c} {
		_, err := r.Attach(conn, "x")
		require.NoError(t, err)
	}

	eff := r.Detach(a)
	require.False(t, eff.Empty())
	assert.Equal(t, domain.RoleHost, eff.LeftRole)
	assert.False(t, eff.Closed)
	require.NotNil(t, eff.Promoted)
	assert.Equal(t, "b", eff.Promoted.ID())
	assert.Equal(t, "b", eff.Remaining.Host.ID())
	assert.Equal(t, []string{"c"}, followerIDs(eff.Remaining))

	assert.True(t, b.Session().IsHost())
	assert.Empty(t, a.Session().CurrentRoom())

	snap, ok := r.Lookup("x")
	require.True(t, ok)
	assert.Equal(t, 2, snap.Members())
}

func TestDetach_EndSessionEvictsFollowers(t *testing.T) {
	r := New(WithHostPolicy(EndSession))
	a, b, c := newMockConn("a"), newMockConn("b"), newMockConn("c")
	for _, conn := range []*mockConn{a, b, c} {
		_, err := r.Attach(conn, "x")
		require.NoError(t, err)
	}

	eff := r.Detach(a)
	assert.True(t, eff.Closed)
	assert.Equal(t, ReasonHostLeft, eff.Reason)
	assert.Nil(t, eff.Promoted)
	require.Len(t, eff.Evicted, 2)
	assert.Equal(t, 0, eff.Remaining.Members())

	for _, conn := range []*mockConn{a, b, c} {
		assert.Empty(t, conn.Session().CurrentRoom())
	}
	_, ok := r.Lookup("x")
	assert.False(t, ok)

	rooms, members := r.Stats()
	assert.Equal(t, 0, rooms)
	assert.Equal(t, 0, members)
}

func TestDetach_LastMemberClosesRoom(t *testing.T) {
	r := New()
	a, b := newMockConn("a"), newMockConn("b")
	_, _ = r.Attach(a, "x")
	_, _ = r.Attach(b, "x")

	eff := r.Detach(b)
	assert.Equal(t, domain.RoleFollower, eff.LeftRole)
	assert.False(t, eff.Closed)
	assert.Equal(t, 1, eff.Remaining.Members())

	eff = r.Detach(a)
	assert.True(t, eff.Closed)
	assert.Equal(t, ReasonEmpty, eff.Reason)

	_, ok := r.Lookup("x")
	assert.False(t, ok)

	// A fresh joiner reopens the id as host.
	res, err := r.Attach(b, "x")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, domain.RoleHost, res.Role)
}

func TestDetach_NoOps(t *testing.T) {
	r := New()
	a := newMockConn("a")

	assert.True(t, r.Detach(a).Empty(), "never attached")

	_, _ = r.Attach(a, "x")
	assert.False(t, r.Detach(a).Empty())
	assert.True(t, r.Detach(a).Empty(), "double detach")
}

func TestUpdatePlayback_HostOnly(t *testing.T) {
	r := New()
	a, b, c := newMockConn("a"), newMockConn("b"), newMockConn("c")
	_, _ = r.Attach(a, "x")
	_, _ = r.Attach(b, "x")

	pos := 42.5
	_, err := r.UpdatePlayback(b, domain.ActionSeek, &pos)
	assert.ErrorIs(t, err, ErrNotHost)

	_, err = r.UpdatePlayback(c, domain.ActionPlay, nil)
	assert.ErrorIs(t, err, ErrNotAttached)

	snap, err := r.UpdatePlayback(a, domain.ActionPlay, &pos)
	require.NoError(t, err)
	require.NotNil(t, snap.Playback)
	assert.True(t, snap.Playback.IsPlaying)
	assert.Equal(t, 42.5, snap.Playback.PositionSeconds)

	res, err := r.Attach(c, "x")
	require.NoError(t, err)
	require.NotNil(t, res.Room.Playback, "late joiners see the cached state")
	assert.Equal(t, 42.5, res.Room.Playback.PositionSeconds)
}

func TestRecordChunk_ReadyOncePerAnnouncement(t *testing.T) {
	r := New(WithReadyThreshold(0.05))
	host, f1, f2 := newMockConn("h"), newMockConn("f1"), newMockConn("f2")
	_, _ = r.Attach(host, "x")
	_, _ = r.Attach(f1, "x")

	ready, err := r.RecordChunk(host, 100, []string{"f1"})
	require.NoError(t, err)
	assert.False(t, ready, "no media announced")

	_, err = r.SetMedia(f1, domain.MediaMeta{Size: 1000})
	assert.ErrorIs(t, err, ErrNotHost)

	snap, err := r.SetMedia(host, domain.MediaMeta{Name: "a.mp4", Size: 1000})
	require.NoError(t, err)
	require.NotNil(t, snap.Media)

	_, _ = r.Attach(f2, "x")
	both := []string{"f1", "f2"}

	ready, err = r.RecordChunk(host, 30, both)
	require.NoError(t, err)
	assert.False(t, ready)

	ready, err = r.RecordChunk(host, 20, both)
	require.NoError(t, err)
	assert.True(t, ready, "both followers reached 50 of 1000 bytes")

	ready, _ = r.RecordChunk(host, 500, both)
	assert.False(t, ready, "notice is one-shot")

	_, err = r.RecordChunk(f1, 10, both)
	assert.ErrorIs(t, err, ErrNotHost)

	_, _ = r.SetMedia(host, domain.MediaMeta{Size: 100})
	ready, _ = r.RecordChunk(host, 5, both)
	assert.True(t, ready, "a new announcement rearms the notice")
}

func TestRecordChunk_OnlyDeliveredFollowersCount(t *testing.T) {
	r := New(WithReadyThreshold(0.05))
	host, f1, f2 := newMockConn("h"), newMockConn("f1"), newMockConn("f2")
	_, _ = r.Attach(host, "x")
	_, _ = r.Attach(f1, "x")
	_, _ = r.Attach(f2, "x")
	_, err := r.SetMedia(host, domain.MediaMeta{Size: 1000})
	require.NoError(t, err)

	// f2's send buffer was full for this chunk.
	ready, err := r.RecordChunk(host, 50, []string{"f1"})
	require.NoError(t, err)
	assert.False(t, ready, "f2 has nothing yet")

	// Ids that are not followers earn nothing.
	ready, err = r.RecordChunk(host, 50, []string{"h", "ghost"})
	require.NoError(t, err)
	assert.False(t, ready)

	ready, err = r.RecordChunk(host, 50, []string{"f2"})
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestPromotion_ClearsMedia(t *testing.T) {
	r := New()
	a, b := newMockConn("a"), newMockConn("b")
	_, _ = r.Attach(a, "x")
	_, _ = r.Attach(b, "x")
	_, err := r.SetMedia(a, domain.MediaMeta{Size: 10})
	require.NoError(t, err)

	eff := r.Detach(a)
	assert.Nil(t, eff.Remaining.Media)
}

func TestCreate_GeneratesFreeID(t *testing.T) {
	gen := &fixedIDs{ids: []string{"0001", "0001", "0002"}}
	r := New(WithIDGenerator(gen))

	res, err := r.Create(newMockConn("a"))
	require.NoError(t, err)
	assert.Equal(t, "0001", res.Room.ID)
	assert.True(t, res.Created)

	res, err = r.Create(newMockConn("b"))
	require.NoError(t, err)
	assert.Equal(t, "0002", res.Room.ID, "collision is retried")
}

func TestCreate_Exhausted(t *testing.T) {
	r := New(WithIDGenerator(&fixedIDs{ids: []string{"7777"}}))
	_, err := r.Create(newMockConn("a"))
	require.NoError(t, err)

	c := newMockConn("b")
	_, err = r.Create(c)
	assert.ErrorIs(t, err, ErrRoomIDExhausted)
	assert.Empty(t, c.Session().CurrentRoom())
}

func TestCreate_ConcurrentIDsAreUnique(t *testing.T) {
	r := New()
	const n = 200

	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Create(newMockConn(fmt.Sprintf("c%d", i)))
			if assert.NoError(t, err) {
				ids[i] = res.Room.ID
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	rooms, members := r.Stats()
	assert.Equal(t, n, rooms)
	assert.Equal(t, n, members)
}

func TestConcurrentJoin_SingleHost(t *testing.T) {
	r := New()
	const n = 100

	conns := make([]*mockConn, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		conns[i] = newMockConn(fmt.Sprintf("c%d", i))
		wg.Add(1)
		go func(c *mockConn) {
			defer wg.Done()
			_, err := r.Attach(c, "party")
			assert.NoError(t, err)
		}(conns[i])
	}
	wg.Wait()

	snap, ok := r.Lookup("party")
	require.True(t, ok)
	assert.Equal(t, n, snap.Members())

	hosts := 0
	for _, c := range conns {
		if c.Session().IsHost() {
			hosts++
			assert.Equal(t, snap.Host.ID(), c.ID())
		}
	}
	assert.Equal(t, 1, hosts)
}

func TestConcurrentChurn_Invariants(t *testing.T) {
	for _, policy := range []HostPolicy{PromoteFollower, EndSession} {
		t.Run(policy.String(), func(t *testing.T) {
			r := New(WithHostPolicy(policy))
			rooms := []string{"r0", "r1", "r2", "r3"}
			const workers = 40

			conns := make([]*mockConn, workers)
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				conns[i] = newMockConn(fmt.Sprintf("c%d", i))
				wg.Add(1)
				go func(i int, c *mockConn) {
					defer wg.Done()
					for j := 0; j < 200; j++ {
						target := rooms[(i+j)%len(rooms)]
						r.Detach(c)
						_, err := r.Attach(c, target)
						assert.NoError(t, err)
						if j%3 == 0 {
							r.Detach(c)
						}
					}
				}(i, conns[i])
			}
			wg.Wait()

			attached := 0
			for _, c := range conns {
				roomID := c.Session().CurrentRoom()
				if roomID == "" {
					continue
				}
				attached++
				snap, ok := r.Lookup(roomID)
				require.True(t, ok, "session points at a missing room")
				_, member := snap.Member(c.ID())
				assert.True(t, member)
			}

			total := 0
			for _, info := range r.List() {
				assert.NotEmpty(t, info.HostID, "open room %s has no host", info.ID)
				assert.NotContains(t, info.Followers, info.HostID)
				total += info.Members
			}
			assert.Equal(t, attached, total, "every attached connection is in exactly one room")
		})
	}
}

func TestList_SortedInfo(t *testing.T) {
	r := New()
	_, _ = r.Attach(newMockConn("a"), "zeta")
	_, _ = r.Attach(newMockConn("b"), "alpha")
	_, _ = r.Attach(newMockConn("c"), "alpha")

	infos := r.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].ID)
	assert.Equal(t, "b", infos[0].HostID)
	assert.Equal(t, []string{"c"}, infos[0].Followers)
	assert.Equal(t, 2, infos[0].Members)
	assert.Equal(t, "zeta", infos[1].ID)
}

func TestDigitsGenerator(t *testing.T) {
	g := NewDigitsGenerator(4)
	for i := 0; i < 100; i++ {
		id, err := g.Generate()
		require.NoError(t, err)
		assert.Len(t, id, 4)
		assert.Regexp(t, `^[0-9]{4}$`, id)
	}
}

func TestCreate_RejectsUnjoinableID(t *testing.T) {
	r := New(WithIDGenerator(&fixedIDs{ids: []string{"not a room"}}))
	c := newMockConn("a")

	_, err := r.Create(c)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRoomIDExhausted)
	assert.Empty(t, c.Session().CurrentRoom())
	assert.Empty(t, r.List())
}

func TestParseHostPolicy(t *testing.T) {
	p, err := ParseHostPolicy("end")
	require.NoError(t, err)
	assert.Equal(t, EndSession, p)
	assert.Equal(t, EndSession, New(WithHostPolicy(p)).Policy())
	assert.Equal(t, "end", p.String())

	p, err = ParseHostPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PromoteFollower, p)

	_, err = ParseHostPolicy("vote")
	assert.Error(t, err)
}
