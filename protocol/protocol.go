// Package protocol implements the framed command protocol spoken between a
// host and the pin firmware. A message block is
//
//	<len> <seq> <payload...> <crc16 hi> <crc16 lo> 0x7E
//
// where the payload is a run of VLQ-encoded command IDs and arguments.
// Empty payloads are acknowledgements.
package protocol

const (
	MessageMax         = 512 // Scratch output capacity
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10
	MessageSeqMask     = 0x0F
)

// NextSequence returns the sequence byte following seq. The low nibble wraps
// and the destination bits stay set.
func NextSequence(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}
