package protocol

import "sync/atomic"

// CommandHandler decodes and runs one command. It must consume exactly its
// own arguments from data.
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the MCU side of the link: it validates incoming blocks,
// dispatches their commands in order and acknowledges every block.
//
// Acknowledgements and responses carry the sequence the MCU expects next.
type Transport struct {
	synchronized uint32 // atomic bool
	nextSequence uint32 // atomic, 0x10-0x1F

	output  OutputBuffer
	handler CommandHandler

	resetCallback func()
	flushCallback func()
	errorCallback func(cmdID uint16, err error)
}

func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	return &Transport{
		synchronized: 1,
		nextSequence: MessageDest,
		output:       output,
		handler:      handler,
	}
}

// Receive consumes every complete block in input. A trailing partial block
// is left in place for the next call.
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()

	for len(data) > 0 {
		if !t.isSynchronized() {
			rest, ok := skipToSync(data)
			data = rest
			if ok {
				t.setSynchronized(true)
				t.encodeAckNak()
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
			t.setSynchronized(false)
			continue
		}

		seq := data[MessagePositionSeq]
		frame := data[MessageHeaderSize : msgLen-MessageTrailerSize]
		data = data[msgLen:]

		expected := uint8(atomic.LoadUint32(&t.nextSequence))
		if seq == MessageDest && expected != MessageDest {
			// Host restarted its sequence
			atomic.StoreUint32(&t.nextSequence, MessageDest)
			expected = MessageDest
			if t.resetCallback != nil {
				t.resetCallback()
			}
		}
		if seq == expected {
			atomic.StoreUint32(&t.nextSequence, uint32(NextSequence(seq)))
			t.parseFrame(frame)
		}
		// A mismatched sequence still gets an ACK; it tells the host which
		// block to retransmit.
		t.encodeAckNak()
	}

	if consumed := input.Available() - len(data); consumed > 0 {
		input.Pop(consumed)
	}
}

func (t *Transport) parseFrame(frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.setSynchronized(false)
		}
	}()

	for len(frame) > 0 {
		cmdID, err := DecodeVLQUint(&frame)
		if err != nil {
			t.setSynchronized(false)
			return
		}
		if t.handler == nil {
			return
		}
		if err := t.handler(uint16(cmdID), &frame); err != nil {
			// The rest of the block cannot be decoded reliably.
			if t.errorCallback != nil {
				t.errorCallback(uint16(cmdID), err)
			}
			return
		}
	}
}

func (t *Transport) encodeAckNak() {
	seq := uint8(atomic.LoadUint32(&t.nextSequence))
	var buf [MessageLengthMin]byte
	t.output.Output(AppendFrame(buf[:0], seq, nil))
	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// SendCommand writes one block holding cmdID and the arguments written by
// args.
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	cursor := t.output.CurPosition()
	seq := uint8(atomic.LoadUint32(&t.nextSequence))
	t.output.Output([]byte{0, seq})

	EncodeVLQUint(t.output, uint32(cmdID))
	if args != nil {
		args(t.output)
	}

	written := len(t.output.DataSince(cursor))
	t.output.Update(cursor, uint8(written+MessageTrailerSize))
	crc := CRC16(t.output.DataSince(cursor))
	t.output.Output([]byte{uint8(crc >> 8), uint8(crc), MessageValueSync})
}

// SetResetCallback installs a hook run when the host restarts its sequence.
func (t *Transport) SetResetCallback(callback func()) { t.resetCallback = callback }

// SetFlushCallback installs a hook run right after each ACK is queued.
func (t *Transport) SetFlushCallback(callback func()) { t.flushCallback = callback }

// SetErrorCallback installs a hook for command handler failures.
func (t *Transport) SetErrorCallback(callback func(cmdID uint16, err error)) {
	t.errorCallback = callback
}

func (t *Transport) isSynchronized() bool {
	return atomic.LoadUint32(&t.synchronized) != 0
}

func (t *Transport) setSynchronized(v bool) {
	var n uint32
	if v {
		n = 1
	}
	atomic.StoreUint32(&t.synchronized, n)
}
