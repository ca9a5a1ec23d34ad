// relayd is the notemesh relay daemon: it maintains paid connections to
// peers, ingests signed content events and propagates them to matching
// subscribers.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/andres-erbsen/clock"

	"github.com/notemesh/notemesh/core"
	"github.com/notemesh/notemesh/lib/connection"
	"github.com/notemesh/notemesh/lib/eventstore"
	"github.com/notemesh/notemesh/lib/gossip"
	"github.com/notemesh/notemesh/lib/payment"
	"github.com/notemesh/notemesh/lib/subscription"
	"github.com/notemesh/notemesh/localdb"
	"github.com/notemesh/notemesh/metrics"
	"github.com/notemesh/notemesh/utils/configutil"
	"github.com/notemesh/notemesh/utils/log"
)

func main() {
	configFile := flag.String("config", "", "configuration file path")
	pubkey := flag.String("pubkey", "", "this node's public key, hex encoded")

	flag.Parse()

	var config Config
	if err := configutil.Load(*configFile, &config); err != nil {
		panic(err)
	}
	logger := log.ConfigureLogger(config.ZapLogging)

	self, err := core.NewPeerID(*pubkey)
	if err != nil {
		log.Fatalf("Invalid node pubkey: %s", err)
	}

	stats, closer, err := metrics.New(config.Metrics)
	if err != nil {
		log.Fatalf("Failed to init metrics: %s", err)
	}
	defer closer.Close()

	clk := clock.New()

	db, err := localdb.New(config.Database)
	if err != nil {
		log.Fatalf("Failed to open local database: %s", err)
	}

	var archive eventstore.Store = eventstore.NewSQLStore(db, clk)
	if config.EventCache.Addr != "" {
		archive, err = eventstore.NewCachedStore(config.EventCache, stats, logger, archive)
		if err != nil {
			log.Fatalf("Failed to init event cache: %s", err)
		}
	}

	channels := payment.FixedChannels{}
	for pk, balance := range config.Channels {
		peer, err := core.NewPeerID(pk)
		if err != nil {
			log.Fatalf("Invalid channel peer key %q: %s", pk, err)
		}
		channels[peer] = balance
	}

	dialer, err := newTCPDialer(self, config.Peers)
	if err != nil {
		log.Fatalf("Failed to build peer address book: %s", err)
	}

	connStore := connection.NewStore(db)
	lifecycle := connection.NewLifecycle(
		config.Connection, stats, clk, logger, connStore, dialer)
	scheduler := connection.NewScheduler(
		config.Connection, stats, clk, logger, connStore, lifecycle)
	lifecycle.OnDisconnect(scheduler.PeerDisconnected)

	subs := subscription.NewManager(config.Subscription, stats, clk, logger)
	renewer := subscription.NewRenewer(config.Renewer, stats, clk, subs, channels, logger)

	engine := gossip.New(config.Gossip, stats, clk, logger, subs, archive, lifecycle)

	if err := scheduler.ReconcileOnStartup(); err != nil {
		log.Fatalf("Failed to reconcile peer records: %s", err)
	}
	renewer.Start()

	srv := &server{
		config:    config,
		stats:     stats.Tagged(map[string]string{"module": "relayd"}),
		logger:    logger,
		engine:    engine,
		subs:      subs,
		lifecycle: lifecycle,
		scheduler: scheduler,
		maxHops:   engine.MaxTTL(),
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.listenAndServe() }()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		log.Errorf("Server failed: %s", err)
	case sig := <-sigc:
		log.Infof("Received %s, shutting down", sig)
	}

	scheduler.Stop()
	renewer.Stop()
	if err := engine.Shutdown(); err != nil {
		log.Errorf("Engine shutdown: %s", err)
	}
	subs.Stop()
	for _, peer := range lifecycle.ConnectedPeers() {
		if err := lifecycle.Disconnect(peer); err != nil {
			log.Errorf("Disconnect %s: %s", peer, err)
		}
	}
}
