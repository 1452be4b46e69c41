package identifier

import "testing"

func TestFormatGateAcceptsCanonical(t *testing.T) {
	state, err := FormatGate("AB-1-XYZ-1234-C-567890-1-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != StateFormatOK {
		t.Fatalf("state = %v, want FormatOK", state)
	}
}

func TestFormatGateRejectsTooLong(t *testing.T) {
	long := "AB-1-XYZ-1234-C-567890-1-2"
	for len(long) <= 50 {
		long += "0"
	}
	if _, err := FormatGate(long); err == nil {
		t.Fatalf("expected error for over-length identifier")
	}
}

func TestFormatGateRejectsInjection(t *testing.T) {
	cases := []string{
		"AB-1-XYZ-1234-C-567890-1-2; DROP TABLE users",
		"../../etc/passwd",
		"<script>alert(1)</script>",
		"%3cscript%3e",
	}
	for _, c := range cases {
		if _, err := FormatGate(c); err == nil {
			t.Fatalf("expected rejection for %q", c)
		}
	}
}

func TestFormatGateTagsReservedVersion(t *testing.T) {
	state, err := FormatGate("AB-0-XYZ-1234-C-567890-1-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != StateReserved {
		t.Fatalf("state = %v, want Reserved", state)
	}
}

func TestFormatGateTagsReservedPrefix(t *testing.T) {
	state, err := FormatGate("00-0-SYS-0001-A-000001-0-0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != StateReserved {
		t.Fatalf("state = %v, want Reserved", state)
	}
}

func TestDecodeFallbackKnownSentinel(t *testing.T) {
	fb, ok := DecodeFallback("fb-0-cir-0004-a-000000-0-0")
	if !ok {
		t.Fatal("expected known fallback sentinel")
	}
	if fb.Type != FallbackCircuit || fb.Action != ActionUseFallback {
		t.Fatalf("unexpected decode: %+v", fb)
	}
}

func TestDecodeFallbackUnknown(t *testing.T) {
	if _, ok := DecodeFallback("AB-1-XYZ-1234-C-567890-1-2"); ok {
		t.Fatal("expected unrecognized sentinel")
	}
}
