package memio

import "testing"

func TestParsePatternExact(t *testing.T) {
	p, err := ParsePattern([]string{"DE", "AD", "BE", "EF"})
	if err != nil {
		t.Fatalf("ParsePattern failed: %v", err)
	}
	want := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	for i, b := range want {
		if p.bytes[i] != b {
			t.Errorf("byte %d = 0x%x, want 0x%x", i, p.bytes[i], b)
		}
		if p.mask[i] {
			t.Errorf("byte %d should not be a wildcard", i)
		}
	}
}

func TestParsePatternWithWildcards(t *testing.T) {
	p, err := ParsePattern([]string{"DE", "?", "BE", "EF"})
	if err != nil {
		t.Fatalf("ParsePattern failed: %v", err)
	}
	if !p.mask[1] {
		t.Error("index 1 should be a wildcard")
	}
	if p.mask[0] || p.mask[2] || p.mask[3] {
		t.Error("only index 1 should be a wildcard")
	}
}

func TestParsePatternRejectsBadToken(t *testing.T) {
	if _, err := ParsePattern([]string{"ZZ"}); err == nil {
		t.Error("ParsePattern should reject a non-hex token")
	}
}

func TestNewExactPatternHasNoWildcards(t *testing.T) {
	p := NewExactPattern([]byte{1, 2, 3})
	for i, m := range p.mask {
		if m {
			t.Errorf("NewExactPattern byte %d should not be a wildcard", i)
		}
	}
}

func TestMatchesWithWildcards(t *testing.T) {
	data := []byte{0x90, 0xDE, 0x12, 0xEF, 0x90}
	p, _ := ParsePattern([]string{"DE", "?", "EF"})
	if !matches(data, 1, p.bytes, p.mask) {
		t.Error("expected match at offset 1 with wildcard in the middle")
	}
	if matches(data, 0, p.bytes, p.mask) {
		t.Error("did not expect a match at offset 0")
	}
}

func TestMatchesRejectsShortTail(t *testing.T) {
	data := []byte{0xDE, 0xAD}
	p := NewExactPattern([]byte{0xDE, 0xAD, 0xBE})
	if matches(data, 0, p.bytes, p.mask) {
		t.Error("matches should reject a pattern longer than the remaining data")
	}
}

func TestASLR(t *testing.T) {
	if got := ASLR(0x140000000, 0x1000); got != 0x140001000 {
		t.Errorf("ASLR = 0x%x, want 0x140001000", got)
	}
}
