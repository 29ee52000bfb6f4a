package logger

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"telemlink/pkg/protocol"
)

// JSONLWriter writes one JSON object per decoded record.
type JSONLWriter struct {
	enc     *json.Encoder
	now     func() time.Time
	written uint64
	err     error
}

type jsonRecord struct {
	TS     string          `json:"ts"`
	Seq    uint64          `json:"seq"`
	Record protocol.Record `json:"record"`
}

type Option func(*JSONLWriter)

// WithClock replaces the receive timestamp source.
func WithClock(now func() time.Time) Option {
	return func(j *JSONLWriter) {
		if now != nil {
			j.now = now
		}
	}
}

func NewJSONLWriter(w io.Writer, opts ...Option) *JSONLWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	j := &JSONLWriter{
		enc: enc,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Write encodes a single record. After the first failure every call
// returns that same error.
func (j *JSONLWriter) Write(rec protocol.Record) error {
	if j.err != nil {
		return j.err
	}
	j.written++
	if err := j.enc.Encode(jsonRecord{
		TS:     j.now().UTC().Format(time.RFC3339Nano),
		Seq:    j.written,
		Record: rec,
	}); err != nil {
		j.err = err
		return err
	}
	return nil
}

// Consume writes records from in until ctx ends or in is closed.
func (j *JSONLWriter) Consume(ctx context.Context, in <-chan protocol.Record) error {
	for {
		select {
		case <-ctx.Done():
			return j.err
		case rec, ok := <-in:
			if !ok {
				return j.err
			}
			if err := j.Write(rec); err != nil {
				return err
			}
		}
	}
}

// Err returns the first write failure, if any.
func (j *JSONLWriter) Err() error {
	return j.err
}

// Written counts records handed to Write, including a failed one.
func (j *JSONLWriter) Written() uint64 {
	return j.written
}
