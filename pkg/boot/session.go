package boot

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/canboot/hostdriver/internal/respqueue"
	"github.com/canboot/hostdriver/pkg/can"
)

// Defaults for the request engine's send operation, per §4.4.
const (
	DefaultTimeout     = 500 * time.Millisecond
	DefaultMaxAttempts = 2
	// responseQueueCapacity bounds how many stray/duplicate replies the bus
	// receive goroutine may buffer before a drain catches up.
	responseQueueCapacity = 8
)

// PreIdentifyHook is the out-of-band reset hook: some deployments need to
// emit a legacy extended-identifier frame to force the target into
// bootloader mode before Identify is attempted. The core ships a no-op;
// concrete strategies are injected by the caller. See SPEC_FULL.md §9.
type PreIdentifyHook func() error

// Session owns the protocol engine's mutable state: the current board
// record, message number, and response queue. It is driven from a single
// caller goroutine; the bus adapter's receive goroutine is the sole
// producer into the response queue via Session.Handle.
type Session struct {
	bus             can.Bus
	logger          *slog.Logger
	debug           bool
	preIdentifyHook PreIdentifyHook

	defaultTimeout     time.Duration
	defaultMaxAttempts int

	mu     sync.Mutex // guards board, read by Handle on the bus's goroutine
	board  *Board
	number uint8

	queue *respqueue.Queue[Message]
}

// New creates a Session targeting boardID on bus. The caller is responsible
// for bus.Connect and registering Session as the frame listener (bus.Subscribe(session)).
func New(bus can.Bus, boardID uint8, debug bool) *Session {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return &Session{
		bus:                bus,
		logger:             logger,
		debug:              debug,
		board:              newBoard(boardID),
		queue:              respqueue.New[Message](responseQueueCapacity),
		defaultTimeout:     DefaultTimeout,
		defaultMaxAttempts: DefaultMaxAttempts,
	}
}

// SetDefaults overrides the per-attempt timeout and attempt count SendDefault
// uses; both fall back to DefaultTimeout/DefaultMaxAttempts if left zero.
func (s *Session) SetDefaults(timeout time.Duration, maxAttempts int) {
	if timeout > 0 {
		s.defaultTimeout = timeout
	}
	if maxAttempts > 0 {
		s.defaultMaxAttempts = maxAttempts
	}
}

// SetPreIdentifyHook installs the out-of-band reset hook used before every
// Identify attempt.
func (s *Session) SetPreIdentifyHook(hook PreIdentifyHook) {
	s.preIdentifyHook = hook
}

// SetLogger overrides the default stderr logger, e.g. to silence output in
// tests or to route diagnostics through an application's own logger.
func (s *Session) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Board returns the current board record.
func (s *Session) Board() *Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board
}

// setBoard swaps in a fresh board record and resets the message number. Only
// called by the caller goroutine while no request is in flight, so the
// mutex only needs to make the ID write visible to Handle.
func (s *Session) setBoard(board *Board) {
	s.mu.Lock()
	s.board = board
	s.number = 0
	s.mu.Unlock()
}

// Handle implements can.FrameListener. It is the inbound filter + demux of
// §4.2: accept only non-extended, non-RTR frames with identifier
// InboundIdentifier, decode them, and drop anything not addressed to the
// board currently being driven.
func (s *Session) Handle(frame can.Frame) {
	if frame.ID != InboundIdentifier || frame.Extended || frame.RTR {
		return
	}
	msg, err := Decode(frame)
	if err != nil {
		return // silently dropped, per §4.2 step 1
	}

	s.mu.Lock()
	targetID := s.board.ID
	s.mu.Unlock()
	if msg.BoardID != targetID {
		return // stray traffic for another board, per §4.2 step 2
	}

	if dropped := s.queue.Push(msg); dropped {
		s.logger.Warn("response queue full, dropping inbound message", "subject", msg.Subject)
	}
}

// Send implements the request engine of §4.4. counter, timeout, and
// maxAttempts follow the caller's choice; use SendDefault for the common
// case of a single-message, response-expected request.
func (s *Session) Send(subject Subject, data []byte, counter uint8, expectResponse bool, timeout time.Duration, maxAttempts int) (*Message, error) {
	s.mu.Lock()
	number := s.number
	boardID := s.board.ID
	s.mu.Unlock()

	msg := Message{
		BoardID:     boardID,
		Type:        Request,
		Subject:     subject,
		Number:      number,
		DataCounter: counter,
		Data:        data,
	}

	if !expectResponse {
		if err := s.transmit(msg); err != nil {
			return nil, err
		}
		s.advanceNumber()
		return nil, nil
	}

	s.queue.Drain()

	attempts := 0
	for maxAttempts == 0 || attempts < maxAttempts {
		attempts++
		if err := s.transmit(msg); err != nil {
			return nil, err
		}

	receive:
		for {
			resp, err := s.queue.Get(timeout)
			if err != nil {
				break receive // timeout consumes this attempt, retry
			}
			if resp.Subject != subject {
				s.logger.Debug("discarding stale reply", "subject", resp.Subject, "expected", subject)
				continue receive
			}

			switch resp.Type {
			case Success:
				s.queue.Drain()
				s.advanceNumber()
				return &resp, nil

			case WrongNumber:
				if msg.Number != 0 {
					// Mid-session drift: do not resync, surface via retry/NoResponse.
					break receive
				}
				s.mu.Lock()
				s.number = resp.Number
				s.mu.Unlock()
				msg.Number = resp.Number
				time.Sleep(100 * time.Millisecond)
				s.queue.Drain()
				if err := s.transmit(msg); err != nil {
					return nil, err
				}
				continue receive

			default:
				return nil, &ProtocolError{Type: resp.Type, Subject: resp.Subject}
			}
		}
	}

	s.advanceNumber()
	return nil, &NoResponse{Attempts: attempts, Timeout: timeout, Subject: subject}
}

// SendDefault sends a single-message request with the §4.4 defaults:
// counter 0x80, the session's configured timeout/attempts, response expected.
func (s *Session) SendDefault(subject Subject, data []byte) (*Message, error) {
	return s.Send(subject, data, StartOfMessageMask, true, s.defaultTimeout, s.defaultMaxAttempts)
}

func (s *Session) transmit(msg Message) error {
	return s.bus.Send(Encode(msg))
}

func (s *Session) advanceNumber() {
	s.mu.Lock()
	s.number++
	s.mu.Unlock()
}
