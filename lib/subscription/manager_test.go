package subscription

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/notemesh/notemesh/core"
	"github.com/notemesh/notemesh/lib/stream"
)

func TestManagerAdd(t *testing.T) {
	require := require.New(t)

	m, _ := ManagerFixture()
	defer m.Stop()

	sub := Fixture(&core.Filter{Kinds: []int{1}})
	require.NoError(m.Add(sub))

	result, ok := m.Get(sub.ID)
	require.True(ok)
	require.Equal(sub, result)
}

func TestManagerAddDuplicate(t *testing.T) {
	require := require.New(t)

	m, _ := ManagerFixture()
	defer m.Stop()

	sub := Fixture()
	require.NoError(m.Add(sub))
	require.Equal(ErrDuplicateSubscription, m.Add(sub))
}

func TestManagerAddIDTooLong(t *testing.T) {
	require := require.New(t)

	m, _ := ManagerFixture()
	defer m.Stop()

	sub := Fixture()
	sub.ID = strings.Repeat("x", 65)
	require.Equal(ErrIDTooLong, m.Add(sub))
}

func TestManagerRemove(t *testing.T) {
	require := require.New(t)

	m, _ := ManagerFixture()
	defer m.Stop()

	sub := Fixture(&core.Filter{Kinds: []int{1}})
	require.NoError(m.Add(sub))
	require.True(m.Remove(sub.ID))
	require.False(m.Remove(sub.ID))

	e := core.CustomEventFixture(core.PubKeyFixture(), 1)
	require.Empty(m.FindMatching(e))
}

func TestManagerFindMatchingSoundAndComplete(t *testing.T) {
	require := require.New(t)

	m, _ := ManagerFixture()
	defer m.Stop()

	author := core.PubKeyFixture()
	matching := Fixture(&core.Filter{Authors: []core.PubKey{author}, Kinds: []int{1}})
	kindOnly := Fixture(&core.Filter{Kinds: []int{1}})
	otherAuthor := Fixture(&core.Filter{Authors: []core.PubKey{core.PubKeyFixture()}})
	require.NoError(m.Add(matching))
	require.NoError(m.Add(kindOnly))
	require.NoError(m.Add(otherAuthor))

	e := core.CustomEventFixture(author, 1)
	matched := m.FindMatching(e)
	require.Len(matched, 2)

	// Every returned subscription has a filter satisfied by the event.
	for _, sub := range matched {
		found := false
		for _, f := range sub.Filters {
			if f.Matches(e) {
				found = true
			}
		}
		require.True(found, "unsound match for %s", sub)
	}
}

func TestManagerFindMatchingORAcrossFilters(t *testing.T) {
	require := require.New(t)

	m, _ := ManagerFixture()
	defer m.Stop()

	author := core.PubKeyFixture()
	sub := Fixture(
		&core.Filter{Kinds: []int{42}},
		&core.Filter{Authors: []core.PubKey{author}})
	require.NoError(m.Add(sub))

	// Matches via the second filter even though the first misses.
	require.Len(m.FindMatching(core.CustomEventFixture(author, 1)), 1)
}

func TestManagerFindMatchingSkipsExpired(t *testing.T) {
	require := require.New(t)

	m, clk := ManagerFixture()
	defer m.Stop()

	sub := Fixture(&core.Filter{Kinds: []int{1}})
	sub.SetExpiresAt(clk.Now().Add(time.Minute))
	require.NoError(m.Add(sub))

	e := core.CustomEventFixture(core.PubKeyFixture(), 1)
	require.Len(m.FindMatching(e), 1)

	// Past the expiry the subscription never matches, even before any
	// expiry tick runs.
	clk.Add(time.Minute)
	require.Empty(m.FindMatching(e))
}

func TestManagerFindMatchingSkipsInactive(t *testing.T) {
	require := require.New(t)

	m, _ := ManagerFixture()
	defer m.Stop()

	sub := Fixture(&core.Filter{Kinds: []int{1}})
	require.NoError(m.Add(sub))
	sub.Deactivate()

	require.Empty(m.FindMatching(core.CustomEventFixture(core.PubKeyFixture(), 1)))
}

func TestManagerRemoveBySubscriber(t *testing.T) {
	require := require.New(t)

	m, _ := ManagerFixture()
	defer m.Stop()

	peer := core.PeerIDFixture()
	s1 := CustomFixture(peer, stream.NewFake(), &core.Filter{Kinds: []int{1}})
	s2 := CustomFixture(peer, stream.NewFake(), &core.Filter{Kinds: []int{2}})
	other := Fixture(&core.Filter{Kinds: []int{1}})
	require.NoError(m.Add(s1))
	require.NoError(m.Add(s2))
	require.NoError(m.Add(other))

	removed := m.RemoveBySubscriber(peer)
	require.Len(removed, 2)
	require.Len(m.ListBySubscriber(other.Subscriber), 1)

	_, ok := m.Get(s1.ID)
	require.False(ok)
}

func TestManagerExpiryTickSendsCloseAndRemoves(t *testing.T) {
	require := require.New(t)

	m, clk := ManagerFixture()
	defer m.Stop()

	f := stream.NewFake()
	sub := CustomFixture(core.PeerIDFixture(), f, &core.Filter{Kinds: []int{1}})
	sub.SetExpiresAt(clk.Now().Add(time.Second))
	require.NoError(m.Add(sub))

	clk.Add(time.Second)
	m.expireTick()

	packets := f.Packets()
	require.Len(packets, 1)
	require.Contains(string(packets[0]), "CLOSE")
	require.Contains(string(packets[0]), sub.ID)

	_, ok := m.Get(sub.ID)
	require.False(ok)
}

func TestManagerExpiryTickSurvivesStreamFailure(t *testing.T) {
	require := require.New(t)

	m, clk := ManagerFixture()
	defer m.Stop()

	f := stream.NewFake()
	f.Close()
	sub := CustomFixture(core.PeerIDFixture(), f, &core.Filter{Kinds: []int{1}})
	sub.SetExpiresAt(clk.Now().Add(time.Second))
	require.NoError(m.Add(sub))

	clk.Add(time.Second)
	m.expireTick()

	// Failed CLOSE must not prevent removal.
	_, ok := m.Get(sub.ID)
	require.False(ok)
}

func TestManagerExpiringWithin(t *testing.T) {
	require := require.New(t)

	m, clk := ManagerFixture()
	defer m.Stop()

	soon := Fixture(&core.Filter{Kinds: []int{1}})
	soon.SetExpiresAt(clk.Now().Add(time.Hour))
	later := Fixture(&core.Filter{Kinds: []int{1}})
	later.SetExpiresAt(clk.Now().Add(48 * time.Hour))
	require.NoError(m.Add(soon))
	require.NoError(m.Add(later))

	expiring := m.ExpiringWithin(6 * time.Hour)
	require.Len(expiring, 1)
	require.Equal(soon.ID, expiring[0].ID)
}

func BenchmarkFindMatching10kSubscriptions(b *testing.B) {
	m, _ := ManagerFixture()
	defer m.Stop()

	var target core.PubKey
	for i := 0; i < 10000; i++ {
		author := core.PubKeyFixture()
		if i == 4242 {
			target = author
		}
		sub := Fixture(&core.Filter{Authors: []core.PubKey{author}, Kinds: []int{1}})
		sub.ID = fmt.Sprintf("sub-%d", i)
		if err := m.Add(sub); err != nil {
			b.Fatal(err)
		}
	}
	e := core.CustomEventFixture(target, 1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if len(m.FindMatching(e)) != 1 {
			b.Fatal("expected exactly one match")
		}
	}
}
