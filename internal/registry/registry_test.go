package registry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peder1981/p2p-chat/internal/errs"
)

func mustPeer(t *testing.T, ip string, port int) Peer {
	t.Helper()
	p, err := NewPeer(ip, port)
	require.NoError(t, err)
	return p
}

func TestRegisterIsIdempotentUpsert(t *testing.T) {
	r := New(0)
	a := mustPeer(t, "127.0.0.1", 9001)

	require.True(t, r.Register(a))
	require.False(t, r.Register(a))
	require.Equal(t, 1, r.Len())
	require.Equal(t, []Peer{{ID: "127.0.0.1:9001", IP: "127.0.0.1", Port: 9001}}, stripTimes(r.List("")))
}

func TestListKeepsOrderAndExcludesSelf(t *testing.T) {
	r := New(0)
	for _, port := range []int{9003, 9001, 9002} {
		r.Register(mustPeer(t, "10.0.0.1", port))
	}

	var ids []string
	for _, p := range r.List("10.0.0.1:9001") {
		ids = append(ids, p.ID)
	}
	require.Equal(t, []string{"10.0.0.1:9003", "10.0.0.1:9002"}, ids)
}

func TestRemove(t *testing.T) {
	r := New(0)
	r.Register(mustPeer(t, "10.0.0.1", 9001))
	require.True(t, r.Remove("10.0.0.1:9001"))
	require.False(t, r.Remove("10.0.0.1:9001"))
	require.Empty(t, r.List(""))
}

func TestExpireDropsStalePeers(t *testing.T) {
	now := time.Unix(1000, 0)
	r := New(time.Minute, WithClock(func() time.Time { return now }))
	r.Register(mustPeer(t, "10.0.0.1", 9001))
	r.Register(mustPeer(t, "10.0.0.1", 9002))

	now = now.Add(45 * time.Second)
	r.Register(mustPeer(t, "10.0.0.1", 9002)) // heartbeat

	now = now.Add(30 * time.Second)
	require.Equal(t, []string{"10.0.0.1:9001"}, r.Expire())
	require.Len(t, r.List(""), 1)
}

func TestConcurrentRegister(t *testing.T) {
	r := New(0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Register(Peer{ID: PeerID("10.0.0.1", 9000+i%10), IP: "10.0.0.1", Port: 9000 + i%10})
			r.List("")
		}(i)
	}
	wg.Wait()
	require.Equal(t, 10, r.Len())
}

func TestInfo(t *testing.T) {
	r := New(0)
	require.Empty(t, r.Info("alice"))
	r.SubmitInfo("alice", map[string]interface{}{"name": "alice", "room": "general"})
	require.Equal(t, "general", r.Info("alice")["room"])
	require.Len(t, r.AllInfo(), 1)
}

func TestParseID(t *testing.T) {
	p, err := ParseID("192.168.1.4:9100")
	require.NoError(t, err)
	require.Equal(t, "192.168.1.4", p.IP)
	require.Equal(t, 9100, p.Port)

	for _, bad := range []string{"nohost", "1.2.3.4:port", "1.2.3.4:70000", ":9000"} {
		_, err := ParseID(bad)
		require.True(t, errors.Is(err, errs.ErrInvalid), bad)
	}
}

func stripTimes(peers []Peer) []Peer {
	for i := range peers {
		peers[i].LastSeen = time.Time{}
	}
	return peers
}
