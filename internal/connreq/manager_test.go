package connreq

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/peder1981/p2p-chat/internal/errs"
	"github.com/peder1981/p2p-chat/internal/registry"
)

func peer(t testing.TB, port int) registry.Peer {
	p, err := registry.NewPeer("127.0.0.1", port)
	require.NoError(t, err)
	return p
}

func mustRequest(t testing.TB, m *Manager, target registry.Peer) {
	t.Helper()
	created, err := m.RequestConnect(target)
	require.NoError(t, err)
	require.True(t, created)
}

func TestHandshakeAccept(t *testing.T) {
	a, b := peer(t, 9001), peer(t, 9002)
	ma := NewManager(a.ID, nil, nil)
	mb := NewManager(b.ID, nil, nil)

	mustRequest(t, ma, b)
	require.Equal(t, registry.StatusPendingOutgoing, ma.Status(b.ID))

	out, err := mb.Receive(a)
	require.NoError(t, err)
	require.Equal(t, Queued, out)
	require.Equal(t, registry.StatusPendingIncoming, mb.Status(a.ID))

	pending := mb.ListPending()
	require.Len(t, pending, 1)
	require.Equal(t, a.ID, pending[0].From)

	_, err = mb.Accept(a.ID)
	require.NoError(t, err)
	require.True(t, mb.IsConnected(a.ID))
	require.Empty(t, mb.ListPending())

	require.NoError(t, ma.Accepted(b))
	require.True(t, ma.IsConnected(b.ID))
	require.Equal(t, registry.StatusConnected, ma.Status(b.ID))
}

func TestDenyReturnsToNone(t *testing.T) {
	a, b := peer(t, 9001), peer(t, 9002)
	ma := NewManager(a.ID, nil, nil)
	mb := NewManager(b.ID, nil, nil)

	mustRequest(t, ma, b)
	_, err := mb.Receive(a)
	require.NoError(t, err)

	_, err = mb.Deny(a.ID)
	require.NoError(t, err)
	require.False(t, mb.IsConnected(a.ID))
	require.Equal(t, registry.StatusKnown, mb.Status(a.ID))

	require.NoError(t, ma.Denied(b.ID))
	require.Equal(t, registry.StatusKnown, ma.Status(b.ID))

	// a new request after a denial is allowed
	out, err := mb.Receive(a)
	require.NoError(t, err)
	require.Equal(t, Queued, out)
}

func TestSecondResolutionConflicts(t *testing.T) {
	a, b := peer(t, 9001), peer(t, 9002)
	mb := NewManager(b.ID, nil, nil)
	_, err := mb.Receive(a)
	require.NoError(t, err)

	_, err = mb.Accept(a.ID)
	require.NoError(t, err)
	_, err = mb.Deny(a.ID)
	require.ErrorIs(t, err, errs.ErrConflict)
	_, err = mb.Accept(a.ID)
	require.ErrorIs(t, err, errs.ErrConflict)
	require.True(t, mb.IsConnected(a.ID))
}

func TestResolveByRequestID(t *testing.T) {
	a, b := peer(t, 9001), peer(t, 9002)
	mb := NewManager(b.ID, nil, nil)
	_, err := mb.Receive(a)
	require.NoError(t, err)
	id := mb.ListPending()[0].ID

	got, err := mb.Deny(id)
	require.NoError(t, err)
	require.Equal(t, a.ID, got.From)
}

func TestUnknownRequest(t *testing.T) {
	mb := NewManager("127.0.0.1:9002", nil, nil)
	_, err := mb.Accept("127.0.0.1:9999")
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = mb.Deny("nope")
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.ErrorIs(t, mb.Denied("127.0.0.1:9999"), errs.ErrNotFound)
	require.ErrorIs(t, mb.Accepted(peer(t, 9999)), errs.ErrNotFound)
}

func TestDuplicateRequest(t *testing.T) {
	a, b := peer(t, 9001), peer(t, 9002)
	mb := NewManager(b.ID, nil, nil)
	_, err := mb.Receive(a)
	require.NoError(t, err)
	out, err := mb.Receive(a)
	require.NoError(t, err)
	require.Equal(t, Duplicate, out)
	require.Len(t, mb.ListPending(), 1)
}

func TestRequestWhileConnected(t *testing.T) {
	a, b := peer(t, 9001), peer(t, 9002)
	mb := NewManager(b.ID, nil, nil)
	_, err := mb.Receive(a)
	require.NoError(t, err)
	_, err = mb.Accept(a.ID)
	require.NoError(t, err)

	_, err = mb.Receive(a)
	require.ErrorIs(t, err, errs.ErrConflict)
	_, err = mb.RequestConnect(a)
	require.ErrorIs(t, err, errs.ErrConflict)
	require.Empty(t, mb.ListPending())
}

func TestConnectToSelf(t *testing.T) {
	a := peer(t, 9001)
	ma := NewManager(a.ID, nil, nil)
	_, err := ma.RequestConnect(a)
	require.ErrorIs(t, err, errs.ErrInvalid)
	_, err = ma.Receive(a)
	require.ErrorIs(t, err, errs.ErrInvalid)
}

func TestSimultaneousOpen(t *testing.T) {
	a, b := peer(t, 9001), peer(t, 9002)
	ma := NewManager(a.ID, nil, nil)
	mustRequest(t, ma, b)

	out, err := ma.Receive(b)
	require.NoError(t, err)
	require.Equal(t, Connected, out)
	require.True(t, ma.IsConnected(b.ID))
	require.Empty(t, ma.ListPending())

	// the peer's own accept arriving later is harmless
	require.NoError(t, ma.Accepted(b))
}

func TestRepeatedRequestConnect(t *testing.T) {
	a, b := peer(t, 9001), peer(t, 9002)
	ma := NewManager(a.ID, nil, nil)
	mustRequest(t, ma, b)

	created, err := ma.RequestConnect(b)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, registry.StatusPendingOutgoing, ma.Status(b.ID))
}

func TestAcceptedSettlesTheirRequest(t *testing.T) {
	a, b := peer(t, 9001), peer(t, 9002)
	ma := NewManager(a.ID, nil, nil)

	// b asked first, then a asked b before answering
	_, err := ma.Receive(b)
	require.NoError(t, err)
	mustRequest(t, ma, b)

	require.NoError(t, ma.Accepted(b))
	require.True(t, ma.IsConnected(b.ID))
	require.Empty(t, ma.ListPending())

	_, err = ma.Deny(b.ID)
	require.ErrorIs(t, err, errs.ErrConflict)
	require.Contains(t, err.Error(), "already accepted")
}

func TestAcceptRacesAccepted(t *testing.T) {
	a, b := peer(t, 9001), peer(t, 9002)
	for round := 0; round < 50; round++ {
		ma := NewManager(a.ID, nil, nil)
		_, err := ma.Receive(b)
		require.NoError(t, err)
		mustRequest(t, ma, b)

		var wg sync.WaitGroup
		var acceptErr, acceptedErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, acceptErr = ma.Accept(b.ID)
		}()
		go func() {
			defer wg.Done()
			acceptedErr = ma.Accepted(b)
		}()
		wg.Wait()

		if acceptErr != nil {
			require.ErrorIs(t, acceptErr, errs.ErrConflict)
		}
		if acceptedErr != nil {
			require.ErrorIs(t, acceptedErr, errs.ErrNotFound)
		}
		require.True(t, ma.IsConnected(b.ID))
		require.Empty(t, ma.ListPending())
	}
}

func TestDisconnect(t *testing.T) {
	a, b := peer(t, 9001), peer(t, 9002)
	mb := NewManager(b.ID, nil, nil)
	_, err := mb.Receive(a)
	require.NoError(t, err)
	_, err = mb.Accept(a.ID)
	require.NoError(t, err)

	got, err := mb.Disconnect(a.ID)
	require.NoError(t, err)
	require.Equal(t, a.ID, got.ID)
	require.Equal(t, registry.StatusDisconnected, mb.Status(a.ID))
	require.Empty(t, mb.Connected())

	_, err = mb.Disconnect(a.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)

	// disconnected is re-enterable
	out, err := mb.Receive(a)
	require.NoError(t, err)
	require.Equal(t, Queued, out)
}

func TestConnectedSnapshotOrder(t *testing.T) {
	self := peer(t, 9000)
	m := NewManager(self.ID, nil, nil)
	for _, port := range []int{9003, 9001, 9002} {
		p := peer(t, port)
		_, err := m.Receive(p)
		require.NoError(t, err)
		_, err = m.Accept(p.ID)
		require.NoError(t, err)
	}
	snap := m.Connected()
	require.Len(t, snap, 3)
	for i := 1; i < len(snap); i++ {
		require.False(t, snap[i].Since.Before(snap[i-1].Since))
	}
	_, err := m.Disconnect(snap[0].ID)
	require.NoError(t, err)
	require.Len(t, snap, 3)
}

func TestConcurrentResolutionSingleWinner(t *testing.T) {
	a, b := peer(t, 9001), peer(t, 9002)
	for round := 0; round < 50; round++ {
		mb := NewManager(b.ID, nil, nil)
		_, err := mb.Receive(a)
		require.NoError(t, err)

		var wins, conflicts int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				var err error
				if i%2 == 0 {
					_, err = mb.Accept(a.ID)
				} else {
					_, err = mb.Deny(a.ID)
				}
				switch {
				case err == nil:
					atomic.AddInt32(&wins, 1)
				case errors.Is(err, errs.ErrConflict):
					atomic.AddInt32(&conflicts, 1)
				}
			}(i)
		}
		wg.Wait()
		require.EqualValues(t, 1, wins)
		require.EqualValues(t, 7, conflicts)
	}
}

// TestResolutionProperty drives random sequences of requests and
// resolutions against a simple model.
func TestResolutionProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		self := "127.0.0.1:9000"
		m := NewManager(self, nil, nil)
		ports := []int{9001, 9002, 9003}

		pending := map[string]bool{}
		connected := map[string]bool{}

		steps := rapid.IntRange(1, 40).Draw(t, "steps").(int)
		for i := 0; i < steps; i++ {
			port := rapid.SampledFrom(ports).Draw(t, "port").(int)
			p, _ := registry.NewPeer("127.0.0.1", port)
			switch rapid.IntRange(0, 3).Draw(t, "op").(int) {
			case 0:
				_, err := m.Receive(p)
				if connected[p.ID] {
					if !errors.Is(err, errs.ErrConflict) {
						t.Fatalf("receive from connected peer: %v", err)
					}
					continue
				}
				if err != nil {
					t.Fatalf("receive: %v", err)
				}
				pending[p.ID] = true
			case 1:
				_, err := m.Accept(p.ID)
				if pending[p.ID] {
					if err != nil {
						t.Fatalf("accept: %v", err)
					}
					delete(pending, p.ID)
					connected[p.ID] = true
				} else if err == nil {
					t.Fatalf("accept without pending request succeeded")
				}
			case 2:
				_, err := m.Deny(p.ID)
				if pending[p.ID] {
					if err != nil {
						t.Fatalf("deny: %v", err)
					}
					delete(pending, p.ID)
				} else if err == nil {
					t.Fatalf("deny without pending request succeeded")
				}
			case 3:
				_, err := m.Disconnect(p.ID)
				if connected[p.ID] != (err == nil) {
					t.Fatalf("disconnect %s: connected=%v err=%v", p.ID, connected[p.ID], err)
				}
				delete(connected, p.ID)
			}

			if len(m.ListPending()) != len(pending) {
				t.Fatalf("pending = %d; want %d", len(m.ListPending()), len(pending))
			}
			if len(m.Connected()) != len(connected) {
				t.Fatalf("connected = %d; want %d", len(m.Connected()), len(connected))
			}
			for id := range pending {
				if connected[id] {
					t.Fatalf("%s both pending and connected", id)
				}
			}
		}
	})
}
