package boot

import (
	"sync"

	"github.com/canboot/hostdriver/pkg/can"
)

// fakeBus is a minimal in-memory can.Bus test double. Send synchronously
// invokes an optional onSend hook, which lets a test simulate a target
// board's reply by calling back into the registered listener — standing in
// for the bus adapter's own receive goroutine without any real concurrency.
type fakeBus struct {
	mu       sync.Mutex
	listener can.FrameListener
	sent     []can.Frame
	onSend   func(frame can.Frame)
}

func (b *fakeBus) Connect(...any) error { return nil }
func (b *fakeBus) Disconnect() error    { return nil }

func (b *fakeBus) Subscribe(listener can.FrameListener) error {
	b.listener = listener
	return nil
}

func (b *fakeBus) Send(frame can.Frame) error {
	b.mu.Lock()
	b.sent = append(b.sent, frame)
	onSend := b.onSend
	b.mu.Unlock()
	if onSend != nil {
		onSend(frame)
	}
	return nil
}

// deliver simulates a board reply: frames from a board arrive on
// InboundIdentifier, never OutboundIdentifier (the host's own send identifier).
func (b *fakeBus) deliver(msg Message) {
	frame := Encode(msg)
	frame.ID = InboundIdentifier
	b.listener.Handle(frame)
}

func (b *fakeBus) sentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

func (b *fakeBus) sentAt(i int) can.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent[i]
}

// newTestSession wires a fakeBus to a Session the way a caller would wire a
// real adapter: construct, connect, subscribe.
func newTestSession(boardID uint8) (*Session, *fakeBus) {
	bus := &fakeBus{}
	s := New(bus, boardID, false)
	_ = bus.Connect()
	_ = bus.Subscribe(s)
	return s, bus
}
