package protocol_test

import (
	"bytes"
	"errors"
	"math/rand"
	"reflect"
	"testing"

	"telemlink/pkg/protocol"
)

func newDecoder(t *testing.T) *protocol.Decoder {
	t.Helper()
	d, err := protocol.NewDecoder(protocol.CanphonLayout, protocol.DefaultFrameSize)
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}
	return d
}

// scenarioFrame is AA 55 00, ts=1000, roll=10.0, 60 zero bytes, xor.
func scenarioFrame() []byte {
	frame := []byte{0xAA, 0x55, 0x00, 0xE8, 0x03, 0x00, 0x00, 0x64, 0x00, 0x00, 0x00, 0x00, 0x00}
	frame = append(frame, make([]byte, 60)...)
	var x byte
	for _, b := range frame[:72] {
		x ^= b
	}
	frame[72] = x
	return frame
}

func sampleFrame(t *testing.T, ts uint32) []byte {
	t.Helper()
	enc, err := protocol.NewEncoder(protocol.CanphonLayout, protocol.DefaultFrameSize, protocol.DefaultHeader1, protocol.DefaultHeader2)
	if err != nil {
		t.Fatalf("new encoder: %v", err)
	}
	return enc.Encode(protocol.Frame{
		Timestamp: ts,
		Values: map[string]float64{
			protocol.FieldRoll:        -12.3,
			protocol.FieldPitch:       4.5,
			protocol.FieldYaw:         179.9,
			protocol.FieldAccelZ:      0.98,
			protocol.FieldPressure:    1013,
			protocol.FieldLatitude:    55.7558261,
			protocol.FieldLongitude:   37.6172999,
			protocol.FieldSatellites:  9,
			protocol.FieldGPSFix:      2,
			"servo_cmd_2":             -15.5,
			protocol.FieldServoOnline: 0x0F,
			protocol.FieldTemperature: 36.6,
		},
	})
}

func TestScenarioValidFrame(t *testing.T) {
	d := newDecoder(t)
	records := d.Feed(scenarioFrame())
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.Timestamp != 1000 {
		t.Fatalf("unexpected timestamp: %d", rec.Timestamp)
	}
	if got := rec.Get(protocol.FieldRoll); got != 10.0 {
		t.Fatalf("unexpected roll: %v", got)
	}
	if got := rec.Get(protocol.FieldPitch); got != 0 {
		t.Fatalf("unexpected pitch: %v", got)
	}
	if got := rec.Get(protocol.FieldYaw); got != 0 {
		t.Fatalf("unexpected yaw: %v", got)
	}
	if st := d.Stats(); st.Accepted != 1 || st.Rejected != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestScenarioCorruptChecksum(t *testing.T) {
	d := newDecoder(t)
	frame := scenarioFrame()
	frame[72] ^= 0xFF
	if records := d.Feed(frame); len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
	if st := d.Stats(); st.Accepted != 0 || st.Rejected != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if d.Buffered() != 0 {
		t.Fatalf("rejected frame should leave the buffer, %d bytes left", d.Buffered())
	}
}

func TestScenarioShortNoise(t *testing.T) {
	d := newDecoder(t)
	if records := d.Feed(make([]byte, 10)); len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
	if st := d.Stats(); st.Accepted != 0 || st.Rejected != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if d.Buffered() != 0 {
		t.Fatalf("expected empty buffer, got %d bytes", d.Buffered())
	}
}

func TestFullFrameOfNoiseIsDropped(t *testing.T) {
	d := newDecoder(t)
	junk := bytes.Repeat([]byte{0x13}, protocol.DefaultFrameSize)
	if records := d.Feed(junk); len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
	st := d.Stats()
	if st.Accepted != 0 || st.Rejected != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.ResyncDrops != 1 || st.DroppedBytes != uint64(len(junk)) {
		t.Fatalf("unexpected diagnostics: %+v", st)
	}
	if d.Buffered() != 0 {
		t.Fatalf("expected empty buffer, got %d bytes", d.Buffered())
	}
}

func TestChunkBoundaryInvariance(t *testing.T) {
	frame := sampleFrame(t, 4242)

	ref := newDecoder(t).Feed(frame)
	if len(ref) != 1 {
		t.Fatalf("reference decode produced %d records", len(ref))
	}

	for cut := 1; cut < len(frame); cut++ {
		d := newDecoder(t)
		got := d.Feed(frame[:cut])
		got = append(got, d.Feed(frame[cut:])...)
		if len(got) != 1 {
			t.Fatalf("cut at %d: expected 1 record, got %d", cut, len(got))
		}
		if got[0].Timestamp != ref[0].Timestamp || !reflect.DeepEqual(got[0].Values(), ref[0].Values()) {
			t.Fatalf("cut at %d: record differs from one-shot decode", cut)
		}
	}

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		d := newDecoder(t)
		var got []protocol.Record
		rest := frame
		for len(rest) > 0 {
			n := 1 + rng.Intn(len(rest))
			got = append(got, d.Feed(rest[:n])...)
			rest = rest[n:]
		}
		if len(got) != 1 || !reflect.DeepEqual(got[0].Values(), ref[0].Values()) {
			t.Fatalf("round %d: unexpected decode %v", round, got)
		}
	}
}

func TestPartialFrameSurvivesShortFeed(t *testing.T) {
	frame := sampleFrame(t, 77)
	d := newDecoder(t)

	head := append([]byte{0x01, 0x02, 0x03}, frame[:20]...)
	if records := d.Feed(head); len(records) != 0 {
		t.Fatalf("expected no records yet, got %d", len(records))
	}
	records := d.Feed(frame[20:])
	if len(records) != 1 || records[0].Timestamp != 77 {
		t.Fatalf("expected the frame after completion, got %v", records)
	}
}

func TestSingleBitFlipRejectsOnlyThatFrame(t *testing.T) {
	first := sampleFrame(t, 1)
	second := sampleFrame(t, 2)

	for bit := 3 * 8; bit < (len(first)-1)*8; bit++ {
		corrupt := append([]byte(nil), first...)
		corrupt[bit/8] ^= 1 << (bit % 8)

		d := newDecoder(t)
		records := d.Feed(append(corrupt, second...))
		st := d.Stats()
		if st.Rejected != 1 {
			t.Fatalf("bit %d: expected 1 rejection, got %+v", bit, st)
		}
		if len(records) != 1 || records[0].Timestamp != 2 {
			t.Fatalf("bit %d: following frame not decoded: %v", bit, records)
		}
	}
}

func TestDecodeIsDeterministic(t *testing.T) {
	frame := sampleFrame(t, 99)
	a := newDecoder(t).Feed(frame)
	b := newDecoder(t).Feed(frame)
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("unexpected record counts %d/%d", len(a), len(b))
	}
	if !reflect.DeepEqual(a[0].Values(), b[0].Values()) || a[0].Timestamp != b[0].Timestamp {
		t.Fatalf("decoding is not deterministic")
	}
}

func TestFalseHeaderSkipsOneByte(t *testing.T) {
	frame := sampleFrame(t, 5)
	d := newDecoder(t)
	stream := append([]byte{0x10, 0xAA, 0x11}, frame...)
	records := d.Feed(stream)
	if len(records) != 1 || records[0].Timestamp != 5 {
		t.Fatalf("expected frame after false headers, got %v", records)
	}
	st := d.Stats()
	if st.FalseHeaders != 1 {
		t.Fatalf("expected 1 false header, got %+v", st)
	}
	if st.Rejected != 0 {
		t.Fatalf("false headers must not count as rejections: %+v", st)
	}
}

func TestRejectedFrameIsNotRescanned(t *testing.T) {
	// A corrupt frame carrying a header pair inside its payload: the inner
	// pair is never tried because the whole candidate is consumed.
	inner := sampleFrame(t, 3)
	outer := make([]byte, protocol.DefaultFrameSize)
	outer[0], outer[1] = 0xAA, 0x55
	copy(outer[10:], inner[:protocol.DefaultFrameSize-11])
	var x byte
	for _, b := range outer[:len(outer)-1] {
		x ^= b
	}
	outer[len(outer)-1] = ^x

	d := newDecoder(t)
	d.Feed(outer)
	st := d.Stats()
	if st.Rejected != 1 || st.Accepted != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestManyFramesInOneChunk(t *testing.T) {
	var stream []byte
	for i := uint32(0); i < 20; i++ {
		stream = append(stream, 0x00, 0x13)
		stream = append(stream, sampleFrame(t, i*10)...)
	}
	d := newDecoder(t)
	records := d.Feed(stream)
	if len(records) != 20 {
		t.Fatalf("expected 20 records, got %d", len(records))
	}
	for i, rec := range records {
		if rec.Timestamp != uint32(i*10) {
			t.Fatalf("record %d out of order: ts=%d", i, rec.Timestamp)
		}
	}
	if d.Buffered() != 0 {
		t.Fatalf("expected empty buffer, got %d", d.Buffered())
	}
}

func TestResetClearsCounters(t *testing.T) {
	d := newDecoder(t)
	d.Feed(scenarioFrame())
	d.Reset()
	if st := d.Stats(); st != (protocol.Stats{}) {
		t.Fatalf("expected zero stats after reset, got %+v", st)
	}
}

func TestCustomHeader(t *testing.T) {
	d, err := protocol.NewDecoder(protocol.LiteLayout, protocol.DefaultFrameSize, protocol.WithHeader(0xB5, 0x62))
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}
	frame := protocol.EncoderFor(d).Encode(protocol.Frame{Timestamp: 8})
	if frame[0] != 0xB5 || frame[1] != 0x62 {
		t.Fatalf("encoder ignored header: % x", frame[:2])
	}
	if records := d.Feed(frame); len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records := newDecoder(t).Feed(frame); len(records) != 0 {
		t.Fatalf("default header decoder must not match")
	}
}

func TestNewDecoderRejectsOversizedLayout(t *testing.T) {
	_, err := protocol.NewDecoder(protocol.CanphonLayout, 60)
	if !errors.Is(err, protocol.ErrLayoutExceedsFrame) {
		t.Fatalf("expected ErrLayoutExceedsFrame, got %v", err)
	}
	if _, err := protocol.NewDecoder(protocol.CanphonLayout, 4); !errors.Is(err, protocol.ErrFrameTooSmall) {
		t.Fatalf("expected ErrFrameTooSmall, got %v", err)
	}
	if _, err := protocol.NewDecoder(protocol.CanphonLayout, protocol.CanphonLayout.MinFrameSize()); err != nil {
		t.Fatalf("minimal frame size should be accepted: %v", err)
	}
}

func TestResyncPolicyParse(t *testing.T) {
	p, err := protocol.ParseResyncPolicy("drop_buffer")
	if err != nil || p != protocol.DropBuffer {
		t.Fatalf("unexpected parse result: %v %v", p, err)
	}
	if _, err := protocol.ParseResyncPolicy("stall"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}

func TestDropBufferPolicyDiscardsHeaderlessTail(t *testing.T) {
	d, err := protocol.NewDecoder(protocol.CanphonLayout, protocol.DefaultFrameSize,
		protocol.WithResyncPolicy(protocol.DropBuffer))
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}
	if d.Policy() != protocol.DropBuffer {
		t.Fatalf("unexpected policy %s", d.Policy())
	}

	d.Feed(bytes.Repeat([]byte{0x13}, 10))
	if d.Buffered() != 0 {
		t.Fatalf("headerless bytes kept: %d", d.Buffered())
	}
	if st := d.Stats(); st.ResyncDrops != 1 || st.DroppedBytes != 10 {
		t.Fatalf("unexpected stats: %+v", st)
	}

	frame := protocol.EncoderFor(d).Encode(protocol.Frame{Timestamp: 5})
	if recs := d.Feed(frame); len(recs) != 1 || recs[0].Timestamp != 5 {
		t.Fatalf("decoder did not recover after drop: %d records", len(recs))
	}
}

func TestNewDecoderRejectsUnknownPolicy(t *testing.T) {
	_, err := protocol.NewDecoder(protocol.CanphonLayout, protocol.DefaultFrameSize,
		protocol.WithResyncPolicy(protocol.ResyncPolicy(9)))
	if err == nil {
		t.Fatalf("expected error for unknown resync policy")
	}
}
