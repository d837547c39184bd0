// Package tinycompress writes zlib streams made of stored DEFLATE blocks.
// Any zlib reader (Python's zlib, Go's compress/zlib) can inflate the
// output. It needs no Huffman tables, which keeps it small enough for the
// firmware image.
package tinycompress

import (
	"errors"
	"hash"
	"hash/adler32"
	"io"
)

// maxStored is the largest payload of one stored block.
const maxStored = 0xFFFF

var ErrClosed = errors.New("tinycompress: write after close")

// Writer buffers everything written to it and emits the zlib stream on
// Close.
type Writer struct {
	w      io.Writer
	buf    []byte
	adler  hash.Hash32
	closed bool
}

// NewWriter returns a Writer that sends the stream to w. sizeHint
// preallocates the input buffer.
func NewWriter(w io.Writer, sizeHint int) *Writer {
	return &Writer{
		w:     w,
		buf:   make([]byte, 0, sizeHint),
		adler: adler32.New(),
	}
}

func (z *Writer) Write(p []byte) (int, error) {
	if z.closed {
		return 0, ErrClosed
	}
	z.buf = append(z.buf, p...)
	z.adler.Write(p)
	return len(p), nil
}

// Close writes the header, the stored blocks and the Adler-32 trailer.
func (z *Writer) Close() error {
	if z.closed {
		return nil
	}
	z.closed = true

	out := make([]byte, 0, StoredSize(len(z.buf)))
	out = append(out, 0x78, 0x01)

	data := z.buf
	for {
		n := len(data)
		if n > maxStored {
			n = maxStored
		}
		var final byte
		if n == len(data) {
			final = 1
		}
		out = append(out, final,
			byte(n), byte(n>>8),
			byte(^n), byte(^n>>8))
		out = append(out, data[:n]...)
		data = data[n:]
		if final == 1 {
			break
		}
	}

	sum := z.adler.Sum32()
	out = append(out, byte(sum>>24), byte(sum>>16), byte(sum>>8), byte(sum))
	_, err := z.w.Write(out)
	return err
}

// StoredSize is the length of the stream for n input bytes.
func StoredSize(n int) int {
	blocks := (n + maxStored - 1) / maxStored
	if blocks == 0 {
		blocks = 1
	}
	return 2 + blocks*5 + n + 4
}

// Compress returns data as a zlib stream.
func Compress(data []byte) []byte {
	var out sliceWriter
	z := NewWriter(&out, len(data))
	z.Write(data)
	z.Close()
	return out
}

type sliceWriter []byte

func (s *sliceWriter) Write(p []byte) (int, error) {
	*s = append(*s, p...)
	return len(p), nil
}
