package metadata

import "testing"

func TestHashBytesEmptyIsSeed(t *testing.T) {
	if got := hashBytes(nil); got != hashSeed {
		t.Fatalf("got %d, want seed %d", got, hashSeed)
	}
}

func TestHashBytesEqualInputsEqualHashes(t *testing.T) {
	a := hashBytes([]byte("extent_size"))
	b := hashBytes([]byte("extent_size"))
	if a != b {
		t.Fatalf("expected equal hashes, got %d and %d", a, b)
	}
	if c := hashBytes([]byte("extent_sizes")); c == a {
		t.Fatal("expected different inputs to hash differently (not guaranteed, but true for this pair)")
	}
}

func TestHashBytesMatchesDjb2Formula(t *testing.T) {
	h := uint64(199999)
	for _, b := range []byte("pe_start") {
		h = (h << 5) + h + uint64(b)
	}
	if got := hashBytes([]byte("pe_start")); got != h {
		t.Fatalf("got %d, want %d", got, h)
	}
}
