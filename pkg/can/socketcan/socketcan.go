// Package socketcan wraps github.com/brutella/can as a can.Bus
// implementation for real hardware.
package socketcan

import (
	sockcan "github.com/brutella/can"

	"github.com/canboot/hostdriver/pkg/can"
)

func init() {
	can.RegisterInterface("socketcan", NewBus)
}

type Bus struct {
	bus        *sockcan.Bus
	rxCallback can.FrameListener
}

func NewBus(channel string) (can.Bus, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(channel)
	if err != nil {
		return nil, err
	}
	return &Bus{bus: bus}, nil
}

// Connect starts the brutella/can receive loop in the background.
func (b *Bus) Connect(...any) error {
	go b.bus.ConnectAndPublish()
	return nil
}

func (b *Bus) Disconnect() error {
	return b.bus.Disconnect()
}

// Like the teacher's own socketcan wrapper, outbound frames always publish
// with Flags 0; a frame's extended and RTR bits are packed into the ID
// above the 11/29-bit identifier, per the SocketCAN convention below.
func (b *Bus) Send(frame can.Frame) error {
	id := frame.ID
	if frame.Extended {
		id |= extendedFrameFlag
	}
	if frame.RTR {
		id |= remoteFrameFlag
	}
	return b.bus.Publish(sockcan.Frame{
		ID:     id,
		Length: frame.DLC,
		Data:   frame.Data,
	})
}

func (b *Bus) Subscribe(rxCallback can.FrameListener) error {
	b.rxCallback = rxCallback
	// brutella/can defines its own Handle(can.Frame) interface.
	b.bus.Subscribe(b)
	return nil
}

// SocketCAN convention: the extended and RTR bits live in the 32-bit
// identifier field itself, above the 11/29-bit id.
const (
	extendedFrameFlag uint32 = 0x80000000
	remoteFrameFlag   uint32 = 0x40000000
)

// Handle implements brutella/can's Handler interface, translating its frame
// type into ours before forwarding to the registered listener.
func (b *Bus) Handle(frame sockcan.Frame) {
	b.rxCallback.Handle(can.Frame{
		ID:       frame.ID &^ (extendedFrameFlag | remoteFrameFlag),
		DLC:      frame.Length,
		Data:     frame.Data,
		Extended: frame.ID&extendedFrameFlag != 0,
		RTR:      frame.ID&remoteFrameFlag != 0,
	})
}
