package stream

import (
	"context"
	"fmt"
	"io"
)

// DefaultBufferSize is the chunk size used by Pump when none is configured.
const DefaultBufferSize = 32 * 1024

// Observer is notified after every chunk written to the sink.
type Observer interface {
	Copied(n int)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(n int)

// Copied calls f(n).
func (f ObserverFunc) Copied(n int) { f(n) }

// Pump drains a stream into a sink through a fixed-size buffer.
type Pump struct {
	bufSize  int
	observer Observer
}

// NewPump creates a pump. A non-positive bufSize selects DefaultBufferSize.
// observer may be nil.
func NewPump(bufSize int, observer Observer) *Pump {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Pump{bufSize: bufSize, observer: observer}
}

// Copy reads chunks from src and writes them to dst until EOF, an error, or
// ctx is cancelled. It returns the number of bytes written. Bytes already
// written stay in dst on failure.
func (p *Pump) Copy(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, p.bufSize)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			nw, writeErr := dst.Write(buf[:n])
			written += int64(nw)
			if nw > 0 && p.observer != nil {
				p.observer.Copied(nw)
			}
			if writeErr != nil {
				return written, fmt.Errorf("write: %w", writeErr)
			}
			if nw != n {
				return written, fmt.Errorf("write: %w", io.ErrShortWrite)
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return written, ctxErr
			}
			return written, fmt.Errorf("read: %w", readErr)
		}
	}
}
