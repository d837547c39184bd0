//go:build !tinygo

package protocol

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds how long SendCommand waits for an acknowledgement.
	DefaultTimeout = 2 * time.Second

	// DefaultRetries is how often a block is retransmitted after its
	// acknowledgement times out.
	DefaultRetries = 2
)

var (
	ErrTransportClosed = errors.New("transport closed")
	ErrTimeout         = errors.New("timed out")
)

// ResponseHandler observes every response block as it arrives.
type ResponseHandler func(cmdID uint16, data *[]byte) error

// Message is one received block.
type Message struct {
	Sequence uint8
	Payload  []byte // Command ID and arguments
}

// HostTransport is the host side of the link. A background goroutine reads
// the port and routes acknowledgements and responses to channels; commands
// are sent one at a time and each waits for its acknowledgement.
type HostTransport struct {
	port   io.ReadWriteCloser
	logger *zap.Logger

	currentSeq   uint32 // atomic, next sequence to send
	acked        uint32 // atomic, sequence carried by the last good ACK
	synchronized uint32 // atomic bool
	retries      int

	input *FifoBuffer

	ackChan      chan *Message
	responseChan chan *Message

	handlerMu       sync.Mutex
	responseHandler ResponseHandler

	sendMu    sync.Mutex // Serializes command round trips
	readMu    sync.Mutex
	closeOnce sync.Once
	stopChan  chan struct{}
	doneChan  chan struct{}
}

// NewHostTransport starts reading port. Pass a nil logger to log nothing.
func NewHostTransport(port io.ReadWriteCloser, logger *zap.Logger) *HostTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &HostTransport{
		port:         port,
		logger:       logger,
		currentSeq:   MessageDest,
		synchronized: 1,
		retries:      DefaultRetries,
		input:        NewFifoBuffer(MessageMax),
		ackChan:      make(chan *Message, 1),
		responseChan: make(chan *Message, 16),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// SendCommand sends one command and waits DefaultTimeout for its
// acknowledgement, retransmitting up to DefaultRetries times.
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	return t.SendCommandWithTimeout(cmdID, args, DefaultTimeout)
}

// SendCommandWithTimeout is SendCommand with a per attempt timeout.
//
// A retransmitted block keeps its sequence, so the MCU runs it at most once
// and acknowledges the copy it already ran. When every attempt times out the
// MCU may or may not have run the block; the sequence is then restarted so
// the next command is accepted whatever the MCU expects.
func (t *HostTransport) SendCommandWithTimeout(cmdID uint16, args func(output OutputBuffer), timeout time.Duration) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, uint32(cmdID))
	if args != nil {
		args(scratch)
	}
	payload := scratch.Result()
	if n := MessageLengthMin + len(payload); n > MessageLengthMax {
		return fmt.Errorf("command %d: block of %d bytes exceeds %d", cmdID, n, MessageLengthMax)
	}

	seq := uint8(atomic.LoadUint32(&t.currentSeq))
	msg := AppendFrame(make([]byte, 0, MessageLengthMax), seq, payload)
	t.drain()

	for attempt := 0; ; attempt++ {
		t.logger.Debug("send",
			zap.Uint16("cmd", cmdID),
			zap.Uint8("seq", seq),
			zap.Int("len", len(msg)),
			zap.Int("attempt", attempt),
		)
		if _, err := t.port.Write(msg); err != nil {
			return fmt.Errorf("write command %d: %w", cmdID, err)
		}
		err := t.waitForAck(seq, timeout)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrTimeout) {
			return fmt.Errorf("command %d: %w", cmdID, err)
		}
		if attempt >= t.retries {
			t.logger.Warn("no acknowledgement, restarting sequence",
				zap.Uint16("cmd", cmdID),
				zap.Uint8("seq", seq),
				zap.Int("attempts", attempt+1),
			)
			t.Reset()
			return fmt.Errorf("command %d: %w", cmdID, err)
		}
	}
}

// drain drops acknowledgements and responses left over from earlier
// commands.
func (t *HostTransport) drain() {
	for {
		select {
		case <-t.ackChan:
		case msg := <-t.responseChan:
			t.logger.Debug("dropping stale response", zap.Uint8("seq", msg.Sequence))
		default:
			return
		}
	}
}

// waitForAck waits for the acknowledgement of the block sent with seq. The
// MCU acknowledges with the sequence it expects next.
func (t *HostTransport) waitForAck(seq uint8, timeout time.Duration) error {
	want := NextSequence(seq)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-t.ackChan:
			if ack.Sequence != want {
				t.logger.Debug("stale ack", zap.Uint8("got", ack.Sequence), zap.Uint8("want", want))
				continue
			}
			atomic.StoreUint32(&t.currentSeq, uint32(want))
			atomic.StoreUint32(&t.acked, uint32(want))
			return nil
		case <-timer.C:
			return fmt.Errorf("ack for seq 0x%02x: %w after %v", seq, ErrTimeout, timeout)
		case <-t.stopChan:
			return ErrTransportClosed
		}
	}
}

// ReceiveResponse returns the oldest unread response to the last
// acknowledged command. The MCU tags a response with the sequence it expects
// next, so responses to earlier blocks are skipped.
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case resp := <-t.responseChan:
			if want := uint8(atomic.LoadUint32(&t.acked)); resp.Sequence != want {
				t.logger.Debug("stale response", zap.Uint8("got", resp.Sequence), zap.Uint8("want", want))
				continue
			}
			return resp, nil
		case <-timer.C:
			return nil, fmt.Errorf("response: %w after %v", ErrTimeout, timeout)
		case <-t.stopChan:
			return nil, ErrTransportClosed
		}
	}
}

// SetResponseHandler installs a callback run on the reader goroutine for each
// response, before it is queued for ReceiveResponse.
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.responseHandler = handler
}

func (t *HostTransport) readLoop() {
	defer close(t.doneChan)
	buf := make([]byte, 256)

	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			t.processMessages(buf[:n])
		}
		if err == nil {
			continue
		}
		select {
		case <-t.stopChan:
			return
		default:
		}
		if errors.Is(err, io.ErrClosedPipe) {
			return
		}
		// Serial ports report read timeouts as EOF.
		if !errors.Is(err, io.EOF) {
			t.logger.Debug("read", zap.Error(err))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (t *HostTransport) processMessages(chunk []byte) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	t.input.Write(chunk)
	data := t.input.Data()
	for len(data) > 0 {
		if !t.isSynchronized() {
			rest, ok := skipToSync(data)
			data = rest
			if ok {
				t.setSynchronized(true)
			}
			continue
		}
		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}

		msgLen, res := scanFrame(data)
		if res == frameShort {
			break
		}
		if res == frameBad {
			t.logger.Debug("bad block, resynchronizing")
			t.setSynchronized(false)
			continue
		}

		payload := make([]byte, msgLen-MessageLengthMin)
		copy(payload, data[MessageHeaderSize:msgLen-MessageTrailerSize])
		msg := &Message{Sequence: data[MessagePositionSeq], Payload: payload}
		data = data[msgLen:]
		t.dispatch(msg)
	}

	if consumed := t.input.Available() - len(data); consumed > 0 {
		t.input.Pop(consumed)
	}
}

func (t *HostTransport) dispatch(msg *Message) {
	if len(msg.Payload) == 0 {
		select {
		case t.ackChan <- msg:
		default:
			// Only the newest acknowledgement matters.
			select {
			case <-t.ackChan:
			default:
			}
			t.ackChan <- msg
		}
		return
	}

	t.handlerMu.Lock()
	handler := t.responseHandler
	t.handlerMu.Unlock()
	if handler != nil {
		data := append([]byte(nil), msg.Payload...)
		if cmdID, err := DecodeVLQUint(&data); err == nil {
			if err := handler(uint16(cmdID), &data); err != nil {
				t.logger.Debug("response handler", zap.Uint32("cmd", cmdID), zap.Error(err))
			}
		}
	}

	select {
	case t.responseChan <- msg:
	default:
		select {
		case <-t.responseChan:
		default:
		}
		t.responseChan <- msg
	}
}

// Close stops the reader and closes the port. The port is closed first so a
// blocked Read returns.
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stopChan)
		if t.port != nil {
			err = t.port.Close()
		}
		<-t.doneChan
	})
	return err
}

// Reset drops buffered input and queued messages and restarts the sequence.
// The MCU treats the next block as a host restart.
func (t *HostTransport) Reset() {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	t.setSynchronized(true)
	atomic.StoreUint32(&t.currentSeq, MessageDest)
	for len(t.ackChan) > 0 {
		<-t.ackChan
	}
	for len(t.responseChan) > 0 {
		<-t.responseChan
	}
	t.input.Reset()
}

// CurrentSequence returns the sequence the next command will carry.
func (t *HostTransport) CurrentSequence() uint8 {
	return uint8(atomic.LoadUint32(&t.currentSeq))
}

func (t *HostTransport) isSynchronized() bool {
	return atomic.LoadUint32(&t.synchronized) != 0
}

func (t *HostTransport) setSynchronized(v bool) {
	var n uint32
	if v {
		n = 1
	}
	atomic.StoreUint32(&t.synchronized, n)
}
