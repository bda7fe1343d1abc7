package app

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/sigrelay/internal/core"
	"github.com/dkeye/sigrelay/internal/core/coretest"
	"github.com/dkeye/sigrelay/internal/domain"
	"github.com/dkeye/sigrelay/internal/metrics"
)

func newTestRelay(policy Policy) *Relay {
	r := NewRelay(policy, metrics.New())
	var n atomic.Int64
	r.NewID = func() domain.ConnectionID {
		return domain.ConnectionID(fmt.Sprintf("c%d", n.Add(1)))
	}
	return r
}

type peer struct {
	id   domain.ConnectionID
	conn *coretest.Conn
}

func connect(r *Relay) peer {
	c := coretest.NewConn()
	return peer{id: r.Accept(c, nil, ""), conn: c}
}

func send(r *Relay, p peer, raw string) { r.HandleMessage(p.id, []byte(raw)) }

func join(t *testing.T, r *Relay, p peer, room string) {
	t.Helper()
	send(r, p, fmt.Sprintf(`{"type":"join","room":%q}`, room))
	msgs := p.conn.Messages()
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	require.Equal(t, "joined", last["type"])
	require.Equal(t, room, last["room"])
	require.Equal(t, string(p.id), last["clientId"])
}

func TestAccept_NoRoom(t *testing.T) {
	r := newTestRelay(nil)
	x := connect(r)

	_, ok := r.Registry.RoomOf(x.id)
	assert.False(t, ok)
	assert.Empty(t, r.Rooms.List())
	assert.Equal(t, 1, r.Registry.Len())
}

func TestScenarioA_OfferReachesPeerOnly(t *testing.T) {
	r := newTestRelay(nil)
	x, y := connect(r), connect(r)
	join(t, r, x, "r1")
	join(t, r, y, "r1")
	xBefore, yBefore := len(x.conn.Frames()), len(y.conn.Frames())

	send(r, x, `{"type":"offer","sdp":"abc"}`)

	assert.Len(t, x.conn.Frames(), xBefore)
	msgs := y.conn.Messages()
	require.Len(t, msgs, yBefore+1)
	assert.Equal(t, map[string]any{"type": "offer", "sdp": "abc", "from": string(x.id)}, msgs[len(msgs)-1])
}

func TestScenarioB_MalformedFrameKeepsMembership(t *testing.T) {
	r := newTestRelay(nil)
	x := connect(r)
	join(t, r, x, "r1")

	send(r, x, `this is not json`)

	msgs := x.conn.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, map[string]any{"type": "error", "message": "Invalid message format"}, msgs[1])
	room, ok := r.Registry.RoomOf(x.id)
	require.True(t, ok)
	assert.Equal(t, domain.RoomName("r1"), room)
	rs, ok := r.Rooms.Get("r1")
	require.True(t, ok)
	assert.True(t, rs.Has(x.id))
}

func TestScenarioC_SoleMemberBroadcastsToNobody(t *testing.T) {
	r := newTestRelay(nil)
	x, y := connect(r), connect(r)
	join(t, r, x, "r1")
	join(t, r, y, "r1")
	r.Disconnect(x.id)
	xBefore, yBefore := len(x.conn.Frames()), len(y.conn.Frames())

	send(r, y, `{"type":"call-ended"}`)

	assert.Len(t, x.conn.Frames(), xBefore)
	assert.Len(t, y.conn.Frames(), yBefore)
	assert.Equal(t, float64(0), testutil.ToFloat64(r.Metrics.Counter(metrics.FramesDelivered)))
}

func TestScenarioD_OfferWithoutJoin(t *testing.T) {
	r := newTestRelay(nil)
	x, y := connect(r), connect(r)
	join(t, r, y, "r1")

	send(r, x, `{"type":"offer","sdp":"abc"}`)

	assert.Empty(t, x.conn.Frames())
	assert.Len(t, y.conn.Frames(), 1)
}

func TestForward_TypesAndPayloads(t *testing.T) {
	tests := []struct {
		in   string
		want map[string]any
	}{
		{`{"type":"answer","sdp":"v=0"}`, map[string]any{"type": "answer", "sdp": "v=0"}},
		{`{"type":"ice-candidate","candidate":{"candidate":"c1","sdpMid":"0","sdpMLineIndex":0}}`,
			map[string]any{"type": "ice-candidate", "candidate": map[string]any{"candidate": "c1", "sdpMid": "0", "sdpMLineIndex": float64(0)}}},
		{`{"type":"call-accepted","sdp":"ignored"}`, map[string]any{"type": "call-accepted"}},
		{`{"type":"call-ended"}`, map[string]any{"type": "call-ended"}},
		{`{"type":"reject"}`, map[string]any{"type": "call-rejected"}},
	}
	for _, tt := range tests {
		t.Run(tt.want["type"].(string), func(t *testing.T) {
			r := newTestRelay(nil)
			x, y := connect(r), connect(r)
			join(t, r, x, "r1")
			join(t, r, y, "r1")

			send(r, x, tt.in)

			msgs := y.conn.Messages()
			require.Len(t, msgs, 2)
			tt.want["from"] = string(x.id)
			assert.Equal(t, tt.want, msgs[1])
		})
	}
}

func TestBroadcast_ReachesAllOtherMembers(t *testing.T) {
	r := newTestRelay(nil)
	sender := connect(r)
	join(t, r, sender, "r1")
	others := make([]peer, 4)
	for i := range others {
		others[i] = connect(r)
		join(t, r, others[i], "r1")
	}
	outsider := connect(r)
	join(t, r, outsider, "r2")

	send(r, sender, `{"type":"call-accepted"}`)

	assert.Len(t, sender.conn.Frames(), 1)
	assert.Len(t, outsider.conn.Frames(), 1)
	for _, p := range others {
		msgs := p.conn.Messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, "call-accepted", msgs[1]["type"])
	}
	assert.Equal(t, float64(4), testutil.ToFloat64(r.Metrics.Counter(metrics.FramesDelivered)))
}

func TestBroadcast_SkipsClosedMember(t *testing.T) {
	r := newTestRelay(nil)
	x, y, z := connect(r), connect(r), connect(r)
	join(t, r, x, "r1")
	join(t, r, y, "r1")
	join(t, r, z, "r1")
	y.conn.Close()

	send(r, x, `{"type":"offer","sdp":"abc"}`)

	assert.Len(t, y.conn.Frames(), 1)
	assert.Len(t, z.conn.Frames(), 2)
	assert.Equal(t, float64(1), testutil.ToFloat64(r.Metrics.Counter(metrics.FramesSkipped)))
}

func TestInvalidEnvelopes(t *testing.T) {
	for _, raw := range []string{``, `null`, `42`, `"join"`, `[1,2]`, `{"type":7}`, `{"type":"join"}`, `{"type":"join","room":""}`, `{"type":"join","room":5}`} {
		r := newTestRelay(nil)
		x := connect(r)

		send(r, x, raw)

		msgs := x.conn.Messages()
		require.Len(t, msgs, 1, "input %q", raw)
		assert.Equal(t, "error", msgs[0]["type"], "input %q", raw)
		assert.Empty(t, r.Rooms.List(), "input %q", raw)
	}
}

func TestUnknownTypeIgnored(t *testing.T) {
	r := newTestRelay(nil)
	x, y := connect(r), connect(r)
	join(t, r, x, "r1")
	join(t, r, y, "r1")

	send(r, x, `{"type":"dance","room":"r2"}`)
	send(r, x, `{}`)

	assert.Len(t, x.conn.Frames(), 1)
	assert.Len(t, y.conn.Frames(), 1)
	assert.Len(t, r.Rooms.List(), 1)
	assert.Equal(t, float64(2), testutil.ToFloat64(r.Metrics.Counter(metrics.MessagesUnknown)))
}

func TestLeave_DeletesEmptyRoom(t *testing.T) {
	r := newTestRelay(nil)
	x, y := connect(r), connect(r)
	join(t, r, x, "r1")
	join(t, r, y, "r1")

	send(r, x, `{"type":"leave"}`)
	rs, ok := r.Rooms.Get("r1")
	require.True(t, ok)
	assert.Equal(t, []domain.ConnectionID{y.id}, rs.Members())
	_, inRoom := r.Registry.RoomOf(x.id)
	assert.False(t, inRoom)

	send(r, y, `{"type":"leave"}`)
	_, ok = r.Rooms.Get("r1")
	assert.False(t, ok)

	// Leaving again is harmless.
	send(r, y, `{"type":"leave"}`)
	assert.Empty(t, y.conn.Frames()[1:])
}

func TestRejoinAfterEmptyCreatesFreshRoom(t *testing.T) {
	r := newTestRelay(nil)
	x, y := connect(r), connect(r)
	join(t, r, x, "r1")
	old, _ := r.Rooms.Get("r1")
	r.Disconnect(x.id)

	join(t, r, y, "r1")
	fresh, ok := r.Rooms.Get("r1")
	require.True(t, ok)
	assert.NotSame(t, old, fresh)
	assert.Equal(t, []domain.ConnectionID{y.id}, fresh.Members())
	assert.Equal(t, float64(2), testutil.ToFloat64(r.Metrics.Counter(metrics.RoomsCreated)))
}

func TestJoinSecondRoomLeavesFirst(t *testing.T) {
	r := newTestRelay(nil)
	x, y := connect(r), connect(r)
	join(t, r, y, "r1")
	join(t, r, x, "r1")
	join(t, r, x, "r2")

	r1, _ := r.Rooms.Get("r1")
	assert.False(t, r1.Has(x.id))
	r2, _ := r.Rooms.Get("r2")
	assert.True(t, r2.Has(x.id))

	// y's traffic no longer reaches x.
	send(r, y, `{"type":"offer","sdp":"abc"}`)
	assert.Len(t, x.conn.Frames(), 2)

	// Rejoining the same room is idempotent.
	join(t, r, x, "r2")
	assert.Equal(t, 1, r2.MemberCount())
}

func TestDisconnect_Idempotent(t *testing.T) {
	r := newTestRelay(nil)
	x, y := connect(r), connect(r)
	join(t, r, x, "r1")
	join(t, r, y, "r1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Disconnect(x.id)
		}()
	}
	wg.Wait()
	r.Disconnect(x.id)

	assert.Equal(t, float64(1), testutil.ToFloat64(r.Metrics.Counter(metrics.ConnectionsClosed)))
	rs, ok := r.Rooms.Get("r1")
	require.True(t, ok)
	assert.Equal(t, []domain.ConnectionID{y.id}, rs.Members())
	assert.Equal(t, 1, r.Registry.Len())

	// Messages from a released connection are ignored.
	send(r, x, `{"type":"join","room":"r9"}`)
	_, ok = r.Rooms.Get("r9")
	assert.False(t, ok)
}

func TestDisconnect_LastMemberDeletesRoom(t *testing.T) {
	r := newTestRelay(nil)
	x := connect(r)
	join(t, r, x, "r1")

	r.Disconnect(x.id)

	_, ok := r.Rooms.Get("r1")
	assert.False(t, ok)
	assert.Equal(t, float64(1), testutil.ToFloat64(r.Metrics.Counter(metrics.RoomsDeleted)))
}

func TestConcurrentJoinLeave_RoomExistsIffMembers(t *testing.T) {
	r := newTestRelay(nil)
	const n = 32
	peers := make([]peer, n)
	for i := range peers {
		peers[i] = connect(r)
	}

	var wg sync.WaitGroup
	for i, p := range peers {
		wg.Add(1)
		go func(i int, p peer) {
			defer wg.Done()
			for k := 0; k < 50; k++ {
				send(r, p, `{"type":"join","room":"hot"}`)
				send(r, p, `{"type":"ice-candidate","candidate":"x"}`)
				if i%2 == 0 || k < 49 {
					send(r, p, `{"type":"leave"}`)
				}
			}
		}(i, p)
	}
	wg.Wait()

	rs, ok := r.Rooms.Get("hot")
	require.True(t, ok)
	assert.Equal(t, n/2, rs.MemberCount())

	for i, p := range peers {
		if i%2 == 1 {
			r.Disconnect(p.id)
		}
	}
	_, ok = r.Rooms.Get("hot")
	assert.False(t, ok)
}

func TestKickPolicy_ClosesSlowMember(t *testing.T) {
	r := newTestRelay(KickPolicy{})
	x, slow, ok := connect(r), connect(r), connect(r)
	canceled := false
	r.Registry.sessions[slow.id].Cancel = func() { canceled = true }
	join(t, r, x, "r1")
	join(t, r, slow, "r1")
	join(t, r, ok, "r1")
	slow.conn.Fail = core.ErrBackpressure

	send(r, x, `{"type":"offer","sdp":"abc"}`)

	assert.True(t, canceled)
	assert.Equal(t, domain.StateClosed, slow.conn.State())
	assert.Len(t, ok.conn.Frames(), 2)
	assert.Equal(t, float64(1), testutil.ToFloat64(r.Metrics.Counter(metrics.MembersKicked)))
}

func TestDropPolicy_KeepsSlowMember(t *testing.T) {
	r := newTestRelay(DropPolicy{})
	x, slow := connect(r), connect(r)
	join(t, r, x, "r1")
	join(t, r, slow, "r1")
	slow.conn.Fail = core.ErrBackpressure

	send(r, x, `{"type":"offer","sdp":"abc"}`)

	assert.Equal(t, domain.StateOpen, slow.conn.State())
	assert.Equal(t, float64(1), testutil.ToFloat64(r.Metrics.Counter(metrics.FramesDropped)))
}

func TestPolicyByName(t *testing.T) {
	p, err := PolicyByName("")
	require.NoError(t, err)
	assert.IsType(t, DropPolicy{}, p)
	p, err = PolicyByName("kick")
	require.NoError(t, err)
	assert.IsType(t, KickPolicy{}, p)
	_, err = PolicyByName("retry")
	assert.Error(t, err)
}

func TestUUIDGenerator_Unique(t *testing.T) {
	seen := make(map[domain.ConnectionID]struct{})
	for i := 0; i < 1000; i++ {
		id := UUIDGenerator()
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestDecode_KeysAreCaseSensitive(t *testing.T) {
	r := newTestRelay(nil)
	x, y := connect(r), connect(r)

	send(r, x, `{"TYPE":"join","Room":"r1"}`)
	assert.Empty(t, x.conn.Frames())
	assert.Empty(t, r.Rooms.List())

	send(r, x, `{"type":"join","Room":"r1"}`)
	msgs := x.conn.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "error", msgs[0]["type"])
	assert.Empty(t, r.Rooms.List())

	join(t, r, x, "r1")
	join(t, r, y, "r1")
	send(r, x, `{"type":"offer","SDP":"abc","Candidate":{"a":1}}`)

	got := y.conn.Messages()
	assert.Equal(t, map[string]any{"type": "offer", "from": string(x.id)}, got[len(got)-1])
}

func TestControlFrame(t *testing.T) {
	tests := map[string]bool{
		`{"type":"join","room":"r1"}`: true,
		`{"type":"leave"}`:            true,
		`{"type":"offer","sdp":"x"}`:  false,
		`{"TYPE":"leave"}`:            false,
		`{"type":7}`:                  false,
		`not json`:                    false,
	}
	for raw, want := range tests {
		assert.Equal(t, want, ControlFrame([]byte(raw)), "input %q", raw)
	}
}

func TestJoin_JoinedPrecedesRoomTraffic(t *testing.T) {
	r := newTestRelay(nil)
	y := connect(r)
	join(t, r, y, "r1")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				send(r, y, `{"type":"call-ended"}`)
			}
		}
	}()

	for i := 0; i < 200; i++ {
		x := connect(r)
		send(r, x, `{"type":"join","room":"r1"}`)
		msgs := x.conn.Messages()
		require.NotEmpty(t, msgs)
		require.Equal(t, "joined", msgs[0]["type"], "iteration %d", i)
		r.Disconnect(x.id)
	}
	close(stop)
	wg.Wait()
}
