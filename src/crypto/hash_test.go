package crypto

import (
	"bytes"
	"testing"
)

func TestSHA256Chunks(t *testing.T) {
	whole := SHA256([]byte("hashgraph gossip"))
	chunked := SHA256Chunks([]byte("hashgraph"), []byte(" "), []byte("gossip"))

	if !bytes.Equal(whole, chunked) {
		t.Fatalf("chunked hash %X differs from %X", chunked, whole)
	}

	if !bytes.Equal(SimpleHashFromTwoHashes([]byte("a"), []byte("b")), SHA256([]byte("ab"))) {
		t.Fatal("SimpleHashFromTwoHashes should hash the concatenation")
	}
}
