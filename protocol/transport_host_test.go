//go:build !tinygo

package protocol

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// echoMCU answers every command with response 1 carrying its argument plus one.
func echoMCU(conn net.Conn) {
	out := NewScratchOutput()
	var tr *Transport
	tr = NewTransport(out, func(cmdID uint16, data *[]byte) error {
		v, err := DecodeVLQUint(data)
		if err != nil {
			return err
		}
		tr.SendCommand(1, func(o OutputBuffer) { EncodeVLQUint(o, v+1) })
		return nil
	})

	fifo := NewFifoBuffer(MessageMax)
	buf := make([]byte, 64)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		fifo.Write(buf[:n])
		tr.Receive(fifo)
		if _, err := conn.Write(out.Result()); err != nil {
			return
		}
		out.Reset()
	}
}

func TestHostTransportRoundTrip(t *testing.T) {
	hostEnd, mcuEnd := net.Pipe()
	go echoMCU(mcuEnd)

	ht := NewHostTransport(hostEnd, nil)
	defer ht.Close()

	for i, arg := range []uint32{41, 1000} {
		err := ht.SendCommand(5, func(o OutputBuffer) { EncodeVLQUint(o, arg) })
		if err != nil {
			t.Fatalf("command %d: %v", i, err)
		}
		resp, err := ht.ReceiveResponse(time.Second)
		if err != nil {
			t.Fatalf("response %d: %v", i, err)
		}
		payload := resp.Payload
		var cmd, v uint32
		if err := DecodeArgs(&payload, &cmd, &v); err != nil {
			t.Fatal(err)
		}
		if cmd != 1 || v != arg+1 {
			t.Errorf("response %d: cmd=%d value=%d", i, cmd, v)
		}
	}

	if seq := ht.CurrentSequence(); seq != MessageDest+2 {
		t.Errorf("sequence = 0x%02x, want 0x%02x", seq, MessageDest+2)
	}
}

func TestHostTransportResponseHandler(t *testing.T) {
	hostEnd, mcuEnd := net.Pipe()
	go echoMCU(mcuEnd)

	ht := NewHostTransport(hostEnd, nil)
	defer ht.Close()

	seen := make(chan uint32, 1)
	ht.SetResponseHandler(func(cmdID uint16, data *[]byte) error {
		v, err := DecodeVLQUint(data)
		seen <- v
		return err
	})

	if err := ht.SendCommand(5, func(o OutputBuffer) { EncodeVLQUint(o, 7) }); err != nil {
		t.Fatal(err)
	}
	select {
	case v := <-seen:
		if v != 8 {
			t.Errorf("handler saw %d, want 8", v)
		}
	case <-time.After(time.Second):
		t.Fatal("response handler not called")
	}
}

func TestHostTransportAckTimeout(t *testing.T) {
	hostEnd, mcuEnd := net.Pipe()
	go func() {
		// Swallow commands without answering.
		buf := make([]byte, 64)
		for {
			if _, err := mcuEnd.Read(buf); err != nil {
				return
			}
		}
	}()

	ht := NewHostTransport(hostEnd, nil)
	defer ht.Close()

	err := ht.SendCommandWithTimeout(5, nil, 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

// lossyMCU runs a firmware Transport that answers every command with
// response 1 carrying its argument plus one. Each block read from the host
// is passed to shape, which can delay the reply or drop it.
type lossyMCU struct {
	mu    sync.Mutex
	ran   []uint32
	reads int
	shape func(read int, seq uint8) (delay time.Duration, drop bool)
}

func (m *lossyMCU) serve(conn net.Conn) {
	out := NewScratchOutput()
	var tr *Transport
	tr = NewTransport(out, func(cmdID uint16, data *[]byte) error {
		v, err := DecodeVLQUint(data)
		if err != nil {
			return err
		}
		m.mu.Lock()
		m.ran = append(m.ran, v)
		m.mu.Unlock()
		tr.SendCommand(1, func(o OutputBuffer) { EncodeVLQUint(o, v+1) })
		return nil
	})

	fifo := NewFifoBuffer(MessageMax)
	buf := make([]byte, 64)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		fifo.Write(buf[:n])
		tr.Receive(fifo)

		m.mu.Lock()
		read := m.reads
		m.reads++
		m.mu.Unlock()
		delay, drop := m.shape(read, buf[MessagePositionSeq])
		time.Sleep(delay)
		if !drop {
			if _, err := conn.Write(out.Result()); err != nil {
				return
			}
		}
		out.Reset()
	}
}

func (m *lossyMCU) executed() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint32(nil), m.ran...)
}

func (m *lossyMCU) blocks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

func sendAndReceive(t *testing.T, ht *HostTransport, arg uint32, timeout time.Duration) error {
	t.Helper()
	if err := ht.SendCommandWithTimeout(5, func(o OutputBuffer) { EncodeVLQUint(o, arg) }, timeout); err != nil {
		return err
	}
	resp, err := ht.ReceiveResponse(time.Second)
	if err != nil {
		t.Fatalf("response to %d: %v", arg, err)
	}
	payload := resp.Payload
	var cmd, v uint32
	if err := DecodeArgs(&payload, &cmd, &v); err != nil {
		t.Fatal(err)
	}
	if v != arg+1 {
		t.Errorf("response to %d carries %d", arg, v)
	}
	return nil
}

func equalArgs(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestHostTransportLateAck(t *testing.T) {
	hostEnd, mcuEnd := net.Pipe()
	m := &lossyMCU{shape: func(read int, seq uint8) (time.Duration, bool) {
		if read == 1 {
			return 150 * time.Millisecond, false
		}
		return 0, false
	}}
	go m.serve(mcuEnd)

	ht := NewHostTransport(hostEnd, nil)
	defer ht.Close()

	// The second block is acknowledged after its timeout; the retransmitted
	// copy must not run again and the third block must still run.
	for _, arg := range []uint32{1, 2, 3} {
		if err := sendAndReceive(t, ht, arg, 50*time.Millisecond); err != nil {
			t.Fatalf("command %d: %v", arg, err)
		}
	}
	if got := m.executed(); !equalArgs(got, []uint32{1, 2, 3}) {
		t.Errorf("executed %v, want [1 2 3]", got)
	}
}

func TestHostTransportRestartsAfterLostAcks(t *testing.T) {
	hostEnd, mcuEnd := net.Pipe()
	m := &lossyMCU{shape: func(read int, seq uint8) (time.Duration, bool) {
		return 0, seq == MessageDest+1
	}}
	go m.serve(mcuEnd)

	ht := NewHostTransport(hostEnd, nil)
	defer ht.Close()

	if err := sendAndReceive(t, ht, 1, 50*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	err := sendAndReceive(t, ht, 2, 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if seq := ht.CurrentSequence(); seq != MessageDest {
		t.Errorf("sequence after lost acks = 0x%02x, want 0x%02x", seq, MessageDest)
	}

	// The restarted sequence makes the MCU accept the next block.
	if err := sendAndReceive(t, ht, 3, 50*time.Millisecond); err != nil {
		t.Fatalf("command after restart: %v", err)
	}
	if got := m.executed(); !equalArgs(got, []uint32{1, 2, 3}) {
		t.Errorf("executed %v, want [1 2 3]", got)
	}
	if n := m.blocks(); n != 3+DefaultRetries {
		t.Errorf("MCU read %d blocks, want %d", n, 3+DefaultRetries)
	}
}

func TestHostTransportSkipsStaleResponses(t *testing.T) {
	hostEnd, mcuEnd := net.Pipe()
	defer mcuEnd.Close()
	ht := NewHostTransport(hostEnd, nil)
	defer ht.Close()

	atomic.StoreUint32(&ht.acked, MessageDest+2)
	ht.dispatch(&Message{Sequence: MessageDest + 1, Payload: []byte{1, 5}})
	ht.dispatch(&Message{Sequence: MessageDest + 2, Payload: []byte{1, 6}})

	resp, err := ht.ReceiveResponse(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Sequence != MessageDest+2 || resp.Payload[1] != 6 {
		t.Errorf("got response seq 0x%02x payload %v", resp.Sequence, resp.Payload)
	}
}

func TestHostTransportClose(t *testing.T) {
	hostEnd, mcuEnd := net.Pipe()
	defer mcuEnd.Close()

	ht := NewHostTransport(hostEnd, nil)
	if err := ht.Close(); err != nil {
		t.Fatal(err)
	}
	if err := ht.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := ht.ReceiveResponse(time.Second); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("expected ErrTransportClosed, got %v", err)
	}
}

func TestHostTransportTooLong(t *testing.T) {
	hostEnd, mcuEnd := net.Pipe()
	defer mcuEnd.Close()
	ht := NewHostTransport(hostEnd, nil)
	defer ht.Close()

	err := ht.SendCommand(5, func(o OutputBuffer) { o.Output(make([]byte, MessageLengthMax)) })
	if err == nil {
		t.Error("oversized command accepted")
	}
}
