package transport

import (
	"context"
	"errors"
	"net"
	"time"
)

// Listener dials a TCP byte source and forwards whatever arrives as raw
// chunks. It never looks at frame boundaries; that is the decoder's job.
// On disconnect it redials with a linear backoff capped at reconnectMax.
type Listener struct {
	addr         string
	out          chan<- []byte
	reconnect    time.Duration
	reconnectMax time.Duration
	bufSize      int
	dialTimeout  time.Duration
	readTimeout  time.Duration
	errorHandler func(error)
	connHandler  func(net.Addr)
}

type Option func(*Listener)

func WithReconnectInterval(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.reconnect = d
		}
	}
}

func WithReconnectMax(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.reconnectMax = d
		}
	}
}

// WithBufferSize caps how many bytes a single chunk may carry.
func WithBufferSize(n int) Option {
	return func(l *Listener) {
		if n > 0 {
			l.bufSize = n
		}
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.dialTimeout = d
		}
	}
}

func WithReadTimeout(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.readTimeout = d
		}
	}
}

func WithErrorHandler(fn func(error)) Option {
	return func(l *Listener) {
		if fn != nil {
			l.errorHandler = fn
		}
	}
}

// WithConnectHandler is called after every successful dial.
func WithConnectHandler(fn func(net.Addr)) Option {
	return func(l *Listener) {
		if fn != nil {
			l.connHandler = fn
		}
	}
}

func StartListener(ctx context.Context, addr string, out chan<- []byte, opts ...Option) *Listener {
	l := &Listener{
		addr:         addr,
		out:          out,
		reconnect:    1 * time.Second,
		reconnectMax: 30 * time.Second,
		bufSize:      4 * 1024,
		dialTimeout:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.run(ctx)
	return l
}

func (l *Listener) Addr() string {
	return l.addr
}

func (l *Listener) run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		dialer := net.Dialer{Timeout: l.dialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", l.addr)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.handleError(err)
			attempt++
			l.sleepBackoff(ctx, attempt)
			continue
		}

		attempt = 0
		if l.connHandler != nil {
			l.connHandler(conn.RemoteAddr())
		}
		err = l.handleConn(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			l.handleError(err)
		}
		l.sleepBackoff(ctx, 1)
	}
}

func (l *Listener) handleConn(ctx context.Context, conn net.Conn) error {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, l.bufSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if l.readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(l.readTimeout))
		}
		n, err := conn.Read(buf)
		if n > 0 {
			if serr := send(ctx, l.out, buf[:n]); serr != nil {
				return serr
			}
		}
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() && ctx.Err() == nil {
				continue
			}
			return err
		}
	}
}

// send copies chunk, since the read buffer is reused for the next read.
func send(ctx context.Context, out chan<- []byte, chunk []byte) error {
	payload := append([]byte(nil), chunk...)
	select {
	case out <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Listener) sleepBackoff(ctx context.Context, attempt int) {
	wait := min(l.reconnect*time.Duration(attempt), l.reconnectMax)
	timer := time.NewTimer(wait)
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	timer.Stop()
}

func (l *Listener) handleError(err error) {
	if l.errorHandler != nil {
		l.errorHandler(err)
	}
}
