package session

import ncerr "otad/internal/errors"

// BufferSize is the fixed capacity of a session buffer.
const BufferSize = 512

// Buffer is a fixed-capacity byte buffer.  Bytes are appended at the
// end and consumed from the front; it never grows.
type Buffer struct {
	data [BufferSize]byte
	fill int
}

// Append copies as much of p as fits and returns the count.  It fails
// with ErrBufferOverflow only when nothing fits because the buffer is
// already full; a short append is not an error and the caller retries
// the remainder after consuming.
func (b *Buffer) Append(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if b.fill == BufferSize {
		return 0, ncerr.ErrBufferOverflow
	}
	n := copy(b.data[b.fill:], p)
	b.fill += n
	return n, nil
}

// ConsumePrefix drops the first n buffered bytes, moving the rest to
// the front.
func (b *Buffer) ConsumePrefix(n int) {
	if n <= 0 {
		return
	}
	if n >= b.fill {
		b.fill = 0
		return
	}
	copy(b.data[:], b.data[n:b.fill])
	b.fill -= n
}

// Bytes returns the buffered bytes.  The slice aliases the buffer and
// is only valid until the next Append or ConsumePrefix.
func (b *Buffer) Bytes() []byte { return b.data[:b.fill] }

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int { return b.fill }

// Free returns the remaining capacity.
func (b *Buffer) Free() int { return BufferSize - b.fill }

// Reset empties the buffer.
func (b *Buffer) Reset() { b.fill = 0 }
