package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/notemesh/notemesh/core"
	"github.com/notemesh/notemesh/lib/payment"
	"github.com/notemesh/notemesh/lib/stream"
)

func renewerFixture(
	m *Manager, channels payment.Channels) *Renewer {

	return NewRenewer(
		RenewerConfig{Price: 10},
		tally.NoopScope,
		m.clk,
		m,
		channels,
		zap.NewNop().Sugar())
}

func TestRenewerExtendsExpiringSubscription(t *testing.T) {
	require := require.New(t)

	m, clk := ManagerFixture()
	defer m.Stop()

	peer := core.PeerIDFixture()
	f := stream.NewFake()
	sub := CustomFixture(peer, f, &core.Filter{Kinds: []int{1}})
	sub.AutoRenew = true
	sub.SetExpiresAt(clk.Now().Add(time.Hour))
	require.NoError(m.Add(sub))

	r := renewerFixture(m, payment.FixedChannels{peer: 100})
	r.Tick()

	require.Equal(clk.Now().Add(time.Hour).Add(24*time.Hour), sub.ExpiresAt())

	packets := f.Packets()
	require.Len(packets, 1)
	require.Contains(string(packets[0]), "RENEW")
	require.Contains(string(packets[0]), sub.ID)
}

func TestRenewerIgnoresSubscriptionsOutsideWindow(t *testing.T) {
	require := require.New(t)

	m, clk := ManagerFixture()
	defer m.Stop()

	peer := core.PeerIDFixture()
	f := stream.NewFake()
	sub := CustomFixture(peer, f, &core.Filter{Kinds: []int{1}})
	sub.AutoRenew = true
	sub.SetExpiresAt(clk.Now().Add(48 * time.Hour))
	require.NoError(m.Add(sub))

	r := renewerFixture(m, payment.FixedChannels{peer: 100})
	r.Tick()

	require.Empty(f.Packets())
	require.Equal(clk.Now().Add(48*time.Hour), sub.ExpiresAt())
}

func TestRenewerSkipsWithoutAutoRenewPreference(t *testing.T) {
	require := require.New(t)

	m, clk := ManagerFixture()
	defer m.Stop()

	peer := core.PeerIDFixture()
	f := stream.NewFake()
	sub := CustomFixture(peer, f, &core.Filter{Kinds: []int{1}})
	sub.SetExpiresAt(clk.Now().Add(time.Hour))
	require.NoError(m.Add(sub))

	r := renewerFixture(m, payment.FixedChannels{peer: 100})
	r.Tick()

	require.Empty(f.Packets())
}

func TestRenewerSkipsInsufficientBalance(t *testing.T) {
	require := require.New(t)

	m, clk := ManagerFixture()
	defer m.Stop()

	peer := core.PeerIDFixture()
	f := stream.NewFake()
	sub := CustomFixture(peer, f, &core.Filter{Kinds: []int{1}})
	sub.AutoRenew = true
	sub.SetExpiresAt(clk.Now().Add(time.Hour))
	require.NoError(m.Add(sub))

	r := renewerFixture(m, payment.FixedChannels{peer: 5})
	r.Tick()

	require.Empty(f.Packets())
	require.Equal(clk.Now().Add(time.Hour), sub.ExpiresAt())
}

func TestRenewerSkipsMissingChannel(t *testing.T) {
	require := require.New(t)

	m, clk := ManagerFixture()
	defer m.Stop()

	f := stream.NewFake()
	sub := CustomFixture(core.PeerIDFixture(), f, &core.Filter{Kinds: []int{1}})
	sub.AutoRenew = true
	sub.SetExpiresAt(clk.Now().Add(time.Hour))
	require.NoError(m.Add(sub))

	r := renewerFixture(m, payment.FixedChannels{})
	r.Tick()

	require.Empty(f.Packets())
}

func TestRenewerRunsWithZeroConfig(t *testing.T) {
	require := require.New(t)

	m, clk := ManagerFixture()
	defer m.Stop()

	peer := core.PeerIDFixture()
	f := stream.NewFake()
	sub := CustomFixture(peer, f, &core.Filter{Kinds: []int{1}})
	sub.AutoRenew = true
	sub.SetExpiresAt(clk.Now().Add(time.Hour))
	require.NoError(m.Add(sub))

	r := NewRenewer(
		RenewerConfig{},
		tally.NoopScope,
		clk,
		m,
		payment.FixedChannels{peer: 100},
		zap.NewNop().Sugar())
	r.Start()
	defer r.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for len(f.Packets()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for renewal sweep")
		}
		clk.Add(time.Hour)
		time.Sleep(10 * time.Millisecond)
	}
	require.Contains(string(f.Packets()[0]), "RENEW")
}

func TestRenewerDisabledDoesNotStart(t *testing.T) {
	require := require.New(t)

	m, clk := ManagerFixture()
	defer m.Stop()

	peer := core.PeerIDFixture()
	f := stream.NewFake()
	sub := CustomFixture(peer, f, &core.Filter{Kinds: []int{1}})
	sub.AutoRenew = true
	sub.SetExpiresAt(clk.Now().Add(time.Hour))
	require.NoError(m.Add(sub))

	r := NewRenewer(
		RenewerConfig{Disabled: true},
		tally.NoopScope,
		clk,
		m,
		payment.FixedChannels{peer: 100},
		zap.NewNop().Sugar())
	r.Start()
	defer r.Stop()

	clk.Add(2 * time.Hour)
	time.Sleep(50 * time.Millisecond)
	require.Empty(f.Packets())
}
