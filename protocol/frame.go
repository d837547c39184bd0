package protocol

type scanResult uint8

const (
	frameOK    scanResult = iota
	frameShort            // Block not complete yet
	frameBad              // Not a valid block; resynchronize
)

// scanFrame validates the block at the front of data and returns its total
// length.
func scanFrame(data []byte) (int, scanResult) {
	if len(data) < MessageLengthMin {
		return 0, frameShort
	}
	msgLen := int(data[MessagePositionLen])
	if msgLen < MessageLengthMin || msgLen > MessageLengthMax {
		return 0, frameBad
	}
	if data[MessagePositionSeq]&^MessageSeqMask != MessageDest {
		return 0, frameBad
	}
	if len(data) < msgLen {
		return 0, frameShort
	}
	if data[msgLen-MessageTrailerSync] != MessageValueSync {
		return 0, frameBad
	}
	crc := uint16(data[msgLen-MessageTrailerCRC])<<8 | uint16(data[msgLen-MessageTrailerCRC+1])
	if crc != CRC16(data[:msgLen-MessageTrailerSize]) {
		return 0, frameBad
	}
	return msgLen, frameOK
}

// skipToSync drops everything up to and including the first sync byte. ok is
// false when data holds no sync byte.
func skipToSync(data []byte) (rest []byte, ok bool) {
	for i, b := range data {
		if b == MessageValueSync {
			return data[i+1:], true
		}
	}
	return nil, false
}

// AppendFrame appends a complete block carrying payload to dst.
func AppendFrame(dst []byte, seq uint8, payload []byte) []byte {
	start := len(dst)
	dst = append(dst, uint8(MessageHeaderSize+len(payload)+MessageTrailerSize), seq)
	dst = append(dst, payload...)
	crc := CRC16(dst[start:])
	return append(dst, uint8(crc>>8), uint8(crc), MessageValueSync)
}
