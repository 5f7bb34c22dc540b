package boot_test

import (
	"crypto/ed25519"
	"encoding/binary"
	"testing"

	"github.com/k23-systems/kcore/internal/boot"
)

// literalOnlyBlock encodes data as a single-sequence raw LZ4 block: a
// token byte whose high nibble is the literal length (data must be
// shorter than 15 bytes to fit in one nibble) followed by the literal
// bytes themselves and no match — the minimal valid terminal sequence
// the LZ4 block format allows.
func literalOnlyBlock(data []byte) []byte {
	if len(data) >= 15 {
		panic("literalOnlyBlock: test helper only supports short payloads")
	}
	block := make([]byte, 0, 1+len(data))
	block = append(block, byte(len(data))<<4)
	block = append(block, data...)
	return block
}

func sizePrefixedBlock(data []byte) []byte {
	block := literalOnlyBlock(data)
	out := make([]byte, 4+len(block))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(data)))
	copy(out[4:], block)
	return out
}

func TestVerifyAndDecompressRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}

	plain := []byte("hello k23")
	body := sizePrefixedBlock(plain)
	sig := ed25519.Sign(priv, body)

	raw := append(append([]byte{}, sig...), body...)

	out, err := boot.VerifyAndDecompress(pub, raw)
	if err != nil {
		t.Fatalf("VerifyAndDecompress: %v", err)
	}
	if string(out) != string(plain) {
		t.Fatalf("decompressed = %q, want %q", out, plain)
	}
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}

	body := sizePrefixedBlock([]byte("hello"))
	sig := ed25519.Sign(priv, body)
	raw := append(append([]byte{}, sig...), body...)
	raw[len(raw)-1] ^= 0xFF

	if _, err := boot.Verify(pub, raw); err != boot.ErrBadSignature {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestVerifyRejectsTooShortPayload(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := boot.Verify(pub, []byte("too short")); err != boot.ErrPayloadTooShort {
		t.Fatalf("err = %v, want ErrPayloadTooShort", err)
	}
}
