package main

import (
	"bytes"
	"context"
	"math"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"telemlink/pkg/protocol"
)

func TestMockFrameRoundTrip(t *testing.T) {
	dec, err := protocol.NewDecoder(protocol.CanphonLayout, protocol.DefaultFrameSize)
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}
	frame := mockFrame(1500*time.Millisecond, 3)

	recs := dec.Feed(protocol.EncoderFor(dec).Encode(frame))
	if len(recs) != 1 {
		t.Fatalf("expected one record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.Timestamp != 1500 {
		t.Fatalf("unexpected timestamp: %d", rec.Timestamp)
	}
	if math.Abs(rec.Get(protocol.FieldRoll)-frame.Values[protocol.FieldRoll]) > 0.051 {
		t.Fatalf("roll drifted: %v vs %v", rec.Get(protocol.FieldRoll), frame.Values[protocol.FieldRoll])
	}
	tel := rec.Telemetry()
	for ch := 1; ch <= protocol.ServoChannels; ch++ {
		if !tel.ChannelOnline(ch) {
			t.Fatalf("servo channel %d offline", ch)
		}
	}
	if tel.GPSFix != 3 || tel.Satellites != 14 {
		t.Fatalf("unexpected gps block: %+v", tel)
	}
}

func TestMockEulerAnglesAtZero(t *testing.T) {
	roll, pitch, yaw := mockEulerAngles(0)
	if roll != 0 {
		t.Fatalf("unexpected roll: %v", roll)
	}
	if math.Abs(pitch-mockPitchAmplitudeDeg*math.Sin(math.Pi/3)) > 1e-9 {
		t.Fatalf("unexpected pitch: %v", pitch)
	}
	if math.Abs(yaw-mockYawAmplitudeDeg*math.Sin(2*math.Pi/3)) > 1e-9 {
		t.Fatalf("unexpected yaw: %v", yaw)
	}
}

func TestServeMockStreamsDecodableFrames(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dec, err := protocol.NewDecoder(protocol.Viewer32Layout, protocol.DefaultFrameSize)
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- serveMock(ctx, ln, protocol.EncoderFor(dec), mockOptions{hz: 200, junkEvery: 2, corruptEvery: 3}, zerolog.Nop())
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	var recs []protocol.Record
	buf := make([]byte, 256)
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for len(recs) < 4 {
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("read failed after %d records: %v", len(recs), err)
		}
		recs = append(recs, dec.Feed(buf[:n])...)
	}

	for i := 1; i < len(recs); i++ {
		if recs[i].Timestamp < recs[i-1].Timestamp {
			t.Fatalf("timestamps went backwards: %d then %d", recs[i-1].Timestamp, recs[i].Timestamp)
		}
	}
	st := dec.Stats()
	if st.Rejected == 0 || st.DroppedBytes == 0 {
		t.Fatalf("expected injected faults to show in stats: %+v", st)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serveMock: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serveMock did not stop")
	}
}

func TestRunMockRejectsBadRate(t *testing.T) {
	for _, hz := range []string{"0", "-5", "2000000000"} {
		var stdout, stderr bytes.Buffer
		code := run([]string{"mock", "--hz=" + hz, "--listen", "127.0.0.1:0", "--config", missingConfig(t)}, &stdout, &stderr)
		if code == 0 {
			t.Fatalf("hz=%s: expected failure", hz)
		}
		if !strings.Contains(stderr.String(), "--hz") {
			t.Fatalf("hz=%s: unexpected error output %q", hz, stderr.String())
		}
	}
}

func TestMockOptionsValidate(t *testing.T) {
	if err := (mockOptions{hz: 50}).validate(); err != nil {
		t.Fatalf("default options rejected: %v", err)
	}
	if err := (mockOptions{hz: maxMockHz + 1}).validate(); err == nil {
		t.Fatalf("expected rate above the limit to fail")
	}
	if err := (mockOptions{hz: 50, corruptEvery: -1}).validate(); err == nil {
		t.Fatalf("expected negative fault interval to fail")
	}
}
