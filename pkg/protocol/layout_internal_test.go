package protocol

import "testing"

func TestDecodeOutOfBoundsIsALayoutDefect(t *testing.T) {
	defer func() {
		r := recover()
		defect, ok := r.(*LayoutDefect)
		if !ok {
			t.Fatalf("expected *LayoutDefect panic, got %#v", r)
		}
		if defect.Field != FieldTemperature || defect.Layout != "canphon" {
			t.Fatalf("unexpected defect: %v", defect)
		}
	}()
	// Skips the NewDecoder size check on purpose.
	CanphonLayout.decode(make([]byte, 71))
}

func TestChecksum(t *testing.T) {
	if got := checksum([]byte{0xAA, 0x55, 0x0F}); got != 0xF0 {
		t.Fatalf("unexpected checksum 0x%02x", got)
	}
	if got := checksum(nil); got != 0 {
		t.Fatalf("empty checksum should be zero, got 0x%02x", got)
	}
}
