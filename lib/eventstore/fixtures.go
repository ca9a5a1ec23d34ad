package eventstore

import (
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/notemesh/notemesh/localdb"
)

// SQLStoreFixture returns a SQLStore backed by a temporary database and a
// mock clock set to the current time.
func SQLStoreFixture() (*SQLStore, *clock.Mock, func()) {
	db, cleanup := localdb.Fixture()
	clk := clock.NewMock()
	clk.Set(time.Now())
	return NewSQLStore(db, clk), clk, cleanup
}
