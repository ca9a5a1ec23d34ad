package connection

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/notemesh/notemesh/core"
)

func TestStoreUpsertGet(t *testing.T) {
	require := require.New(t)

	store, cleanup := StoreFixture()
	defer cleanup()

	peer := core.PeerIDFixture()

	_, err := store.Get(peer)
	require.Equal(ErrPeerNotFound, err)

	c := &PeerConnection{
		PubKey:          peer.String(),
		State:           StateDiscovering,
		Priority:        6,
		SubscriberCount: 150,
		LastLatencyMs:   80,
		IsFollowed:      true,
	}
	require.NoError(store.Upsert(c))

	result, err := store.Get(peer)
	require.NoError(err)
	require.Equal(c, result)

	// Upsert replaces.
	c.Priority = 1
	require.NoError(store.Upsert(c))
	result, err = store.Get(peer)
	require.NoError(err)
	require.Equal(1, result.Priority)
}

func TestStoreUpsertRejectsUnknownState(t *testing.T) {
	require := require.New(t)

	store, cleanup := StoreFixture()
	defer cleanup()

	c := PeerConnectionFixture(core.PeerIDFixture())
	c.State = "zombie"
	require.Error(store.Upsert(c))
}

func TestStoreUpdateState(t *testing.T) {
	require := require.New(t)

	store, cleanup := StoreFixture()
	defer cleanup()

	peer := core.PeerIDFixture()
	require.NoError(store.Upsert(PeerConnectionFixture(peer)))

	require.NoError(store.UpdateState(peer, StateConnecting))
	c, err := store.Get(peer)
	require.NoError(err)
	require.Equal(StateConnecting, c.State)

	require.Equal(ErrPeerNotFound, store.UpdateState(core.PeerIDFixture(), StateConnecting))
}

func TestStoreUpdateStateConnectedResetsAttempts(t *testing.T) {
	require := require.New(t)

	store, cleanup := StoreFixture()
	defer cleanup()

	peer := core.PeerIDFixture()
	require.NoError(store.Upsert(PeerConnectionFixture(peer)))

	for i := 1; i <= 3; i++ {
		n, err := store.IncrementReconnect(peer)
		require.NoError(err)
		require.Equal(i, n)
	}

	// Non-connected transitions keep the count.
	require.NoError(store.UpdateState(peer, StateConnecting))
	c, err := store.Get(peer)
	require.NoError(err)
	require.Equal(3, c.ReconnectAttempts)

	require.NoError(store.UpdateState(peer, StateConnected))
	c, err = store.Get(peer)
	require.NoError(err)
	require.Equal(0, c.ReconnectAttempts)
}

func TestStoreIncrementReconnectUnknownPeer(t *testing.T) {
	require := require.New(t)

	store, cleanup := StoreFixture()
	defer cleanup()

	_, err := store.IncrementReconnect(core.PeerIDFixture())
	require.Equal(ErrPeerNotFound, err)
}

func TestStoreUpdatePriority(t *testing.T) {
	require := require.New(t)

	store, cleanup := StoreFixture()
	defer cleanup()

	peer := core.PeerIDFixture()
	require.NoError(store.Upsert(PeerConnectionFixture(peer)))

	require.NoError(store.UpdatePriority(peer, 4))
	c, err := store.Get(peer)
	require.NoError(err)
	require.Equal(4, c.Priority)

	require.Error(store.UpdatePriority(peer, 0))
	require.Error(store.UpdatePriority(peer, 11))
}

func TestStoreTouchContact(t *testing.T) {
	require := require.New(t)

	store, cleanup := StoreFixture()
	defer cleanup()

	peer := core.PeerIDFixture()
	require.NoError(store.Upsert(PeerConnectionFixture(peer)))

	require.NoError(store.TouchContact(peer, 1700000000000, 42))
	c, err := store.Get(peer)
	require.NoError(err)
	require.Equal(int64(1700000000000), c.LastContactAt)
	require.Equal(int64(42), c.LastLatencyMs)
}

func TestStoreListByStateOrdersByPriority(t *testing.T) {
	require := require.New(t)

	store, cleanup := StoreFixture()
	defer cleanup()

	var disconnected []*PeerConnection
	for _, p := range []int{7, 2, 5} {
		c := PeerConnectionFixture(core.PeerIDFixture())
		c.State = StateDisconnected
		c.Priority = p
		require.NoError(store.Upsert(c))
		disconnected = append(disconnected, c)
	}
	other := PeerConnectionFixture(core.PeerIDFixture())
	other.State = StateConnected
	require.NoError(store.Upsert(other))

	result, err := store.ListByState(StateDisconnected)
	require.NoError(err)
	require.Len(result, 3)
	require.Equal([]int{2, 5, 7}, []int{
		result[0].Priority, result[1].Priority, result[2].Priority})

	all, err := store.ListAll()
	require.NoError(err)
	require.Len(all, 4)
}
