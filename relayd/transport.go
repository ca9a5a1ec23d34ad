package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/satori/go.uuid"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/notemesh/notemesh/core"
	"github.com/notemesh/notemesh/lib/connection"
	"github.com/notemesh/notemesh/lib/stream"
	"github.com/notemesh/notemesh/lib/subscription"
)

const (
	_maxPacketSize        = 1 << 20
	_maxSubscriptionIDLen = 64
	_writeTimeout         = 30 * time.Second
)

// tcpStream is a stream.Handle over one TCP connection. Packets are
// length-prefixed JSON frames.
type tcpStream struct {
	mu   sync.Mutex
	conn net.Conn

	closeOnce sync.Once
}

func newTCPStream(conn net.Conn) *tcpStream {
	return &tcpStream{conn: conn}
}

func (s *tcpStream) SendPacket(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(_writeTimeout))
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := s.conn.Write(hdr[:]); err != nil {
		return stream.ErrClosed
	}
	if _, err := s.conn.Write(b); err != nil {
		return stream.ErrClosed
	}
	return nil
}

func (s *tcpStream) Close() {
	s.closeOnce.Do(func() { s.conn.Close() })
}

func readPacket(r *bufio.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > _maxPacketSize {
		return nil, fmt.Errorf("packet size %d exceeds limit", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// handshake identifies each side of a fresh connection.
type handshake struct {
	PubKey string `json:"pubkey"`
}

// tcpDialer dials peers from a static address book.
type tcpDialer struct {
	self  core.PeerID
	peers map[core.PeerID]string
}

func newTCPDialer(self core.PeerID, addrs map[string]string) (*tcpDialer, error) {
	peers := make(map[core.PeerID]string, len(addrs))
	for pk, addr := range addrs {
		peer, err := core.NewPeerID(pk)
		if err != nil {
			return nil, fmt.Errorf("peer key %q: %s", pk, err)
		}
		peers[peer] = addr
	}
	return &tcpDialer{self, peers}, nil
}

func (d *tcpDialer) Dial(ctx context.Context, peer core.PeerID) (stream.Handle, error) {
	addr, ok := d.peers[peer]
	if !ok {
		return nil, errors.New("no known address")
	}
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	s := newTCPStream(conn)
	hello, err := json.Marshal(handshake{PubKey: d.self.String()})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := s.SendPacket(hello); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// OpenChannel observes settlement readiness with peer. Channel funding
// happens out of band; a configured balance is taken as an open channel.
func (d *tcpDialer) OpenChannel(ctx context.Context, peer core.PeerID) error {
	return nil
}

// controlPacket is the union shape of inbound non-event frames.
type controlPacket struct {
	Type           string            `json:"type"`
	SubscriptionID string            `json:"subscription_id"`
	Filters        []json.RawMessage `json:"filters,omitempty"`
	ExpiresAtMs    int64             `json:"expires_at_ms,omitempty"`
	AutoRenew      bool              `json:"auto_renew,omitempty"`
	ExtensionMs    int64             `json:"extension_ms,omitempty"`
}

// Ingester is the engine surface the peer reader feeds.
type Ingester interface {
	Ingest(env *core.Envelope) error
}

// server accepts inbound peer connections and runs a reader loop per
// peer: envelopes go to the engine, subscription control frames to the
// manager.
type server struct {
	config    Config
	stats     tally.Scope
	logger    *zap.SugaredLogger
	engine    Ingester
	subs      *subscription.Manager
	lifecycle *connection.Lifecycle
	scheduler *connection.Scheduler

	// maxHops is the engine's defaulted relay budget cap, not the raw
	// config value.
	maxHops uint8
}

func (s *server) listenAndServe() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %s", addr, err)
	}
	s.logger.Infof("Listening on %s", addr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accept: %s", err)
		}
		go s.servePeer(conn)
	}
}

func (s *server) servePeer(conn net.Conn) {
	r := bufio.NewReader(conn)

	b, err := readPacket(r)
	if err != nil {
		conn.Close()
		return
	}
	var hello handshake
	if err := json.Unmarshal(b, &hello); err != nil {
		conn.Close()
		return
	}
	peer, err := core.NewPeerID(hello.PubKey)
	if err != nil {
		s.logger.Infow("Rejecting peer with invalid key", "error", err)
		conn.Close()
		return
	}

	h := newTCPStream(conn)
	if err := s.lifecycle.HandleInbound(peer, h); err != nil {
		s.logger.Errorw("Failed to adopt inbound peer", "peer", peer, "error", err)
		conn.Close()
		return
	}
	s.scheduler.PeerConnected(peer)
	defer func() {
		if err := s.lifecycle.Disconnect(peer); err != nil && err != connection.ErrNotConnected {
			s.logger.Errorw("Failed to disconnect peer", "peer", peer, "error", err)
		}
	}()

	for {
		b, err := readPacket(r)
		if err != nil {
			return
		}
		if err := s.handlePacket(peer, h, b); err != nil {
			s.logger.Infow("Dropping bad packet", "peer", peer, "error", err)
		}
	}
}

func (s *server) handlePacket(peer core.PeerID, h stream.Handle, b []byte) error {
	var ctrl controlPacket
	if err := json.Unmarshal(b, &ctrl); err != nil {
		return fmt.Errorf("unmarshal packet: %s", err)
	}
	switch ctrl.Type {
	case "":
		return s.handleEvent(peer, b)
	case "REQ":
		return s.handleSubscribe(peer, h, &ctrl)
	case "CLOSE":
		if s.subs.Remove(ctrl.SubscriptionID) {
			s.observeSubscriberCount(peer)
		}
		return nil
	case "RENEW":
		return s.handleRenew(peer, &ctrl)
	default:
		return fmt.Errorf("unknown packet type %q", ctrl.Type)
	}
}

func (s *server) handleEvent(peer core.PeerID, b []byte) error {
	recv, err := core.UnmarshalWireEnvelope(b)
	if err != nil {
		return err
	}
	// The wire sender field is informational; trust only the handshake
	// identity of the connection.
	env, err := core.NewRelayedEnvelope(
		recv.Event, peer, recv.TTL, recv.HopCount, s.maxHops, time.Now())
	if err != nil {
		// Out of relay budget on arrival. Normal at the mesh edge.
		s.stats.Counter("drops_relay_budget").Inc(1)
		return nil
	}
	return s.engine.Ingest(env)
}

func (s *server) handleSubscribe(
	peer core.PeerID, h stream.Handle, ctrl *controlPacket) error {

	var filters []*core.Filter
	for _, raw := range ctrl.Filters {
		f, err := core.ParseFilter(raw)
		if err != nil {
			return err
		}
		filters = append(filters, f)
	}
	if len(filters) == 0 {
		filters = []*core.Filter{{}}
	}
	id := ctrl.SubscriptionID
	if len(id) > _maxSubscriptionIDLen {
		return fmt.Errorf("subscription id exceeds %d chars", _maxSubscriptionIDLen)
	}
	if id == "" {
		id = uuid.NewV4().String()
	}
	sub := subscription.New(
		id, peer, h, filters, time.UnixMilli(ctrl.ExpiresAtMs))
	sub.AutoRenew = ctrl.AutoRenew
	if err := s.subs.Add(sub); err != nil {
		return err
	}
	s.observeSubscriberCount(peer)
	return nil
}

// observeSubscriberCount feeds the peer's current subscription count into
// priority recalculation.
func (s *server) observeSubscriberCount(peer core.PeerID) {
	c, err := s.lifecycle.Store().Get(peer)
	if err != nil {
		return
	}
	sig := c.Signals()
	sig.SubscriberCount = len(s.subs.ListBySubscriber(peer))
	if err := s.lifecycle.ObserveSignals(peer, sig); err != nil {
		s.logger.Errorw("Failed to update peer signals", "peer", peer, "error", err)
	}
}

func (s *server) handleRenew(peer core.PeerID, ctrl *controlPacket) error {
	sub, ok := s.subs.Get(ctrl.SubscriptionID)
	if !ok || sub.Subscriber != peer {
		// Renewal is owner-only; other peers see the id as unknown.
		return subscription.ErrNotFound
	}
	sub.SetExpiresAt(sub.ExpiresAt().Add(time.Duration(ctrl.ExtensionMs) * time.Millisecond))
	return nil
}
