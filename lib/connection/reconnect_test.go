package connection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/notemesh/notemesh/core"
)

func schedulerConfigFixture() Config {
	return Config{}
}

// schedulerFixture wires a Lifecycle and Scheduler together the way the
// daemon does, with the scheduler listening on lifecycle disconnects.
func schedulerFixture(config Config) (*Scheduler, *Lifecycle, *FakeDialer, *clock.Mock, func()) {
	store, cleanup := StoreFixture()
	clk := clock.NewMock()
	clk.Set(time.Now())
	dialer := NewFakeDialer()
	l := NewLifecycle(
		config, tally.NoopScope, clk, zap.NewNop().Sugar(), store, dialer)
	s := NewScheduler(
		config, tally.NoopScope, clk, zap.NewNop().Sugar(), store, l)
	l.OnDisconnect(s.PeerDisconnected)
	return s, l, dialer, clk, cleanup
}

func waitForDialCount(t *testing.T, dialer *FakeDialer, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for dialer.DialCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for dial count %d, at %d", n, dialer.DialCount())
		}
		time.Sleep(time.Millisecond)
	}
}

func waitForState(t *testing.T, store *Store, peer core.PeerID, state State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		c, err := store.Get(peer)
		require.NoError(t, err)
		if c.State == state {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for state %s, at %s", state, c.State)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSchedulerBacksOffUntilPeerFails(t *testing.T) {
	require := require.New(t)

	s, l, dialer, clk, cleanup := schedulerFixture(schedulerConfigFixture())
	defer cleanup()
	defer s.Stop()

	dialer.SetDialErr(errors.New("connection refused"))

	peer := core.PeerIDFixture()
	require.NoError(l.Discover(peer, Signals{}))
	require.Error(l.Connect(context.Background(), peer))
	require.Equal(1, dialer.DialCount())

	// Each failure doubles the previous delay, capped at the backoff max,
	// until the attempt limit marks the peer failed.
	delays := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		64 * time.Second,
		128 * time.Second,
		256 * time.Second,
		300 * time.Second,
	}
	for i, delay := range delays {
		clk.Add(delay)
		waitForDialCount(t, dialer, i+2)
	}
	waitForState(t, s.store, peer, StateFailed)

	c, err := s.store.Get(peer)
	require.NoError(err)
	require.Equal(10, c.ReconnectAttempts)

	// Failed peers get no further attempts.
	clk.Add(time.Hour)
	require.Equal(11, dialer.DialCount())
}

func TestSchedulerSuccessfulReconnectResetsAttempts(t *testing.T) {
	require := require.New(t)

	s, l, dialer, clk, cleanup := schedulerFixture(schedulerConfigFixture())
	defer cleanup()
	defer s.Stop()

	dialer.SetDialErr(errors.New("connection refused"))

	peer := core.PeerIDFixture()
	require.NoError(l.Discover(peer, Signals{}))
	require.Error(l.Connect(context.Background(), peer))

	clk.Add(time.Second)
	waitForDialCount(t, dialer, 2)
	clk.Add(2 * time.Second)
	waitForDialCount(t, dialer, 3)

	dialer.SetDialErr(nil)
	clk.Add(4 * time.Second)
	waitForDialCount(t, dialer, 4)
	waitForState(t, s.store, peer, StateConnected)

	c, err := s.store.Get(peer)
	require.NoError(err)
	require.Equal(0, c.ReconnectAttempts)

	// The next disconnect starts over from the shortest delay.
	require.NoError(l.Disconnect(peer))
	clk.Add(time.Second)
	waitForDialCount(t, dialer, 5)
	waitForState(t, s.store, peer, StateConnected)
}

func TestSchedulerPeerConnectedCancelsPendingAttempt(t *testing.T) {
	require := require.New(t)

	s, l, dialer, clk, cleanup := schedulerFixture(schedulerConfigFixture())
	defer cleanup()
	defer s.Stop()

	dialer.SetDialErr(errors.New("connection refused"))

	peer := core.PeerIDFixture()
	require.NoError(l.Discover(peer, Signals{}))
	require.Error(l.Connect(context.Background(), peer))
	require.Equal(1, dialer.DialCount())

	// The peer dialed us before our timer fired.
	s.PeerConnected(peer)

	clk.Add(time.Hour)
	require.Equal(1, dialer.DialCount())
}

func TestSchedulerStopCancelsTimers(t *testing.T) {
	require := require.New(t)

	s, l, dialer, clk, cleanup := schedulerFixture(schedulerConfigFixture())
	defer cleanup()

	dialer.SetDialErr(errors.New("connection refused"))

	peer := core.PeerIDFixture()
	require.NoError(l.Discover(peer, Signals{}))
	require.Error(l.Connect(context.Background(), peer))

	s.Stop()
	clk.Add(time.Hour)
	require.Equal(1, dialer.DialCount())
}

func TestSchedulerReconcileOnStartupDemotesStaleStates(t *testing.T) {
	require := require.New(t)

	config := schedulerConfigFixture()
	config.Reconnect.DisableAutoOnStartup = true
	s, _, _, _, cleanup := schedulerFixture(config)
	defer cleanup()
	defer s.Stop()

	stale := map[core.PeerID]State{}
	for _, state := range []State{StateConnecting, StateChannelOpening, StateConnected} {
		peer := core.PeerIDFixture()
		c := PeerConnectionFixture(peer)
		c.State = state
		require.NoError(s.store.Upsert(c))
		stale[peer] = state
	}
	failed := core.PeerIDFixture()
	fc := PeerConnectionFixture(failed)
	fc.State = StateFailed
	require.NoError(s.store.Upsert(fc))

	require.NoError(s.ReconcileOnStartup())

	for peer := range stale {
		c, err := s.store.Get(peer)
		require.NoError(err)
		require.Equal(StateDisconnected, c.State)
	}
	c, err := s.store.Get(failed)
	require.NoError(err)
	require.Equal(StateFailed, c.State)
}

func TestSchedulerReconcileOnStartupAutoReconnects(t *testing.T) {
	require := require.New(t)

	// Zero config: startup reconnection is on unless explicitly disabled.
	s, _, dialer, clk, cleanup := schedulerFixture(Config{})
	defer cleanup()
	defer s.Stop()

	for i := 0; i < 3; i++ {
		c := PeerConnectionFixture(core.PeerIDFixture())
		c.State = StateConnected
		c.Priority = i + 1
		require.NoError(s.store.Upsert(c))
	}

	require.NoError(s.ReconcileOnStartup())

	clk.Add(time.Second)
	waitForDialCount(t, dialer, 3)

	conns, err := s.store.ListByState(StateConnected)
	require.NoError(err)
	require.Len(conns, 3)
}

func TestSchedulerReconcileOnStartupDisabled(t *testing.T) {
	require := require.New(t)

	config := schedulerConfigFixture()
	config.Reconnect.DisableAutoOnStartup = true
	s, _, dialer, clk, cleanup := schedulerFixture(config)
	defer cleanup()
	defer s.Stop()

	c := PeerConnectionFixture(core.PeerIDFixture())
	c.State = StateDisconnected
	require.NoError(s.store.Upsert(c))

	require.NoError(s.ReconcileOnStartup())

	clk.Add(time.Hour)
	require.Equal(0, dialer.DialCount())
}
