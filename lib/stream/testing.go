package stream

import "sync"

// Fake is an in-memory Handle which records sent packets. Useful for
// driving the propagation engine against motionless peers.
type Fake struct {
	mu      sync.Mutex
	packets [][]byte
	closed  bool
	closes  int

	// SendErr, if set, is returned by every SendPacket call.
	SendErr error
}

// NewFake creates a new Fake.
func NewFake() *Fake {
	return &Fake{}
}

// SendPacket records b, or fails if the fake is closed or SendErr is set.
func (f *Fake) SendPacket(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if f.SendErr != nil {
		return f.SendErr
	}
	c := make([]byte, len(b))
	copy(c, b)
	f.packets = append(f.packets, c)
	return nil
}

// Close marks the fake closed. Subsequent calls are no-ops.
func (f *Fake) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.closes++
}

// Closed returns whether the fake has been closed.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// CloseCount returns how many times Close took effect.
func (f *Fake) CloseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// Packets returns a copy of all packets sent so far.
func (f *Fake) Packets() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	packets := make([][]byte, len(f.packets))
	copy(packets, f.packets)
	return packets
}
