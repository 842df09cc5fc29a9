package checksum

import "testing"

func TestSum_KnownDigests(t *testing.T) {
	data := []byte("depot")
	cases := map[string]int{
		SHA1:   40,
		SHA256: 64,
		SHA512: 128,
		MD5:    32,
	}
	for algo, hexLen := range cases {
		digest, err := Sum(algo, data)
		if err != nil {
			t.Fatalf("Sum(%s): %v", algo, err)
		}
		if len(digest) != hexLen {
			t.Errorf("Sum(%s) length = %d, want %d", algo, len(digest), hexLen)
		}
	}
}

func TestSum_UnknownAlgorithm(t *testing.T) {
	if _, err := Sum("crc32", []byte("x")); err == nil {
		t.Fatal("expected error for unknown algorithm")
	}
}

func TestSum_Deterministic(t *testing.T) {
	a, _ := Sum(SHA1, []byte("same"))
	b, _ := Sum(SHA1, []byte("same"))
	if a != b {
		t.Fatal("digests differ for identical input")
	}
	c, _ := Sum(SHA1, []byte("other"))
	if a == c {
		t.Fatal("digests collide for different input")
	}
}

func TestSumAll(t *testing.T) {
	digests := SumAll([]byte("depot"))
	if len(digests) != len(All) {
		t.Fatalf("got %d digests, want %d", len(digests), len(All))
	}
	for _, algo := range All {
		want, _ := Sum(algo, []byte("depot"))
		if digests[algo] != want {
			t.Errorf("%s = %q, want %q", algo, digests[algo], want)
		}
	}
}
