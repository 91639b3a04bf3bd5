package kfmt

import "io"

// backlogSize is the number of bytes of Printf output retained until the
// first output sink is attached. It must be a power of 2.
const backlogSize = 4096

// backlog holds the most recent backlogSize bytes written to it. Once full,
// each write overwrites the oldest data and the number of overwritten bytes
// is tracked in dropped.
type backlog struct {
	data    [backlogSize]byte
	start   int
	size    int
	dropped int
}

// Write implements io.Writer. It never fails.
func (b *backlog) Write(p []byte) (int, error) {
	for _, ch := range p {
		b.data[(b.start+b.size)&(backlogSize-1)] = ch
		if b.size < backlogSize {
			b.size++
			continue
		}

		b.start = (b.start + 1) & (backlogSize - 1)
		b.dropped++
	}

	return len(p), nil
}

// WriteTo drains the backlog into w. The data is emitted in at most two
// writes: the tail of the underlying array followed by the wrapped head.
func (b *backlog) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for b.size > 0 {
		end := b.start + b.size
		if end > backlogSize {
			end = backlogSize
		}

		n, err := w.Write(b.data[b.start:end])
		total += int64(n)
		b.start = (b.start + n) & (backlogSize - 1)
		b.size -= n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}

	b.start = 0
	return total, nil
}

// Len returns the number of buffered bytes.
func (b *backlog) Len() int { return b.size }
