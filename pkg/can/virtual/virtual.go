// Package virtual implements a TCP-based virtual CAN bus, for exercising
// the bootloader driver without real hardware. Wire format is compatible
// with windelbouwman/virtualcan: a 4-byte big-endian length header followed
// by the serialized frame.
package virtual

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/canboot/hostdriver/pkg/can"
)

func init() {
	can.RegisterInterface("virtual", NewBus)
	can.RegisterInterface("virtualcan", NewBus)
}

type wireFrame struct {
	ID       uint32
	DLC      uint8
	Extended bool
	RTR      bool
	Data     [8]byte
}

type Bus struct {
	logger     *slog.Logger
	mu         sync.Mutex
	channel    string
	conn       net.Conn
	listener   can.FrameListener
	stopChan   chan struct{}
	wg         sync.WaitGroup
	isRunning  bool
	ReceiveOwn bool
}

func NewBus(channel string) (can.Bus, error) {
	return &Bus{channel: channel, stopChan: make(chan struct{}), logger: slog.Default()}, nil
}

func serializeFrame(frame can.Frame) ([]byte, error) {
	wf := wireFrame{ID: frame.ID, DLC: frame.DLC, Extended: frame.Extended, RTR: frame.RTR, Data: frame.Data}
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.BigEndian, wf); err != nil {
		return nil, err
	}
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(buf.Len()))
	return append(header, buf.Bytes()...), nil
}

func deserializeFrame(raw []byte) (can.Frame, error) {
	var wf wireFrame
	if err := binary.Read(bytes.NewReader(raw), binary.BigEndian, &wf); err != nil {
		return can.Frame{}, err
	}
	return can.Frame{ID: wf.ID, DLC: wf.DLC, Extended: wf.Extended, RTR: wf.RTR, Data: wf.Data}, nil
}

// Connect dials the virtual CAN broker, e.g. "localhost:18000".
func (b *Bus) Connect(...any) error {
	conn, err := net.Dial("tcp", b.channel)
	if err != nil {
		return err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	b.conn = conn
	return nil
}

func (b *Bus) Disconnect() error {
	b.mu.Lock()
	running := b.isRunning
	b.mu.Unlock()
	if running {
		close(b.stopChan)
		b.wg.Wait()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

func (b *Bus) Send(frame can.Frame) error {
	if b.ReceiveOwn && b.listener != nil {
		b.listener.Handle(frame)
	}
	if b.conn == nil {
		return errors.New("virtual: no active connection")
	}
	raw, err := serializeFrame(frame)
	if err != nil {
		return err
	}
	_ = b.conn.SetWriteDeadline(time.Now().Add(10 * time.Millisecond))
	_, err = b.conn.Write(raw)
	return err
}

func (b *Bus) Subscribe(listener can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = listener
	if b.isRunning {
		return nil
	}
	b.isRunning = true
	b.stopChan = make(chan struct{})
	b.wg.Add(1)
	go b.receiveLoop()
	return nil
}

func (b *Bus) receiveLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopChan:
			return
		default:
		}
		frame, err := b.recv()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			b.logger.Warn("virtual bus receive error", "err", err)
			return
		}
		b.listener.Handle(frame)
	}
}

func (b *Bus) recv() (can.Frame, error) {
	if b.conn == nil {
		return can.Frame{}, fmt.Errorf("virtual: no active connection")
	}
	_ = b.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	header := make([]byte, 4)
	if _, err := readFull(b.conn, header); err != nil {
		return can.Frame{}, err
	}
	length := binary.BigEndian.Uint32(header)
	payload := make([]byte, length)
	if _, err := readFull(b.conn, payload); err != nil {
		return can.Frame{}, err
	}
	return deserializeFrame(payload)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
