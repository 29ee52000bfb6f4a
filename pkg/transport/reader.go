package transport

import (
	"context"
	"errors"
	"io"
)

// ReadChunks copies r into out in chunks of at most size bytes until EOF.
// It is the replay counterpart of Listener for capture files and stdin.
func ReadChunks(ctx context.Context, r io.Reader, out chan<- []byte, size int) (int64, error) {
	if size <= 0 {
		size = 4 * 1024
	}
	buf := make([]byte, size)
	var total int64
	for {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		n, err := r.Read(buf)
		if n > 0 {
			total += int64(n)
			if serr := send(ctx, out, buf[:n]); serr != nil {
				return total, serr
			}
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}
