package subscription

import (
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/satori/go.uuid"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/notemesh/notemesh/core"
	"github.com/notemesh/notemesh/lib/stream"
)

// Fixture returns an active subscription over a fake stream, expiring far
// in the future.
func Fixture(filters ...*core.Filter) *Subscription {
	return CustomFixture(core.PeerIDFixture(), stream.NewFake(), filters...)
}

// CustomFixture returns an active subscription for the given subscriber
// and stream.
func CustomFixture(
	subscriber core.PeerID, s stream.Handle, filters ...*core.Filter) *Subscription {

	if len(filters) == 0 {
		filters = []*core.Filter{{}}
	}
	return New(
		uuid.NewV4().String(),
		subscriber,
		s,
		filters,
		time.Now().Add(24*time.Hour))
}

// ManagerFixture returns a Manager backed by a mock clock.
func ManagerFixture() (*Manager, *clock.Mock) {
	clk := clock.NewMock()
	clk.Set(time.Now())
	m := NewManager(Config{}, tally.NoopScope, clk, zap.NewNop().Sugar())
	return m, clk
}
