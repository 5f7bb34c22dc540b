// Package boot verifies and unpacks the signed, compressed boot
// payload a loader hands the kernel, and defines the board-description
// contract (internal/boot.BoardInfo) a device-tree parser populates.
// Grounded on `original_source/build/bootimg-runner/src/main.rs`'s
// `Builder::compress_and_sign` (the exact wire layout: a 64-byte
// Ed25519 signature over the compressed bytes, followed by a 4-byte
// little-endian original-size prefix and a raw LZ4 block — the
// `lz4_flex::compress_prepend_size` convention) and
// `original_source/crates/kernel/src/board_info.rs` for the BoardInfo
// field set a DTB walk populates.
package boot

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

const signatureSize = ed25519.SignatureSize // 64

var (
	// ErrPayloadTooShort means the payload is too small to even hold a
	// signature and a size prefix.
	ErrPayloadTooShort = errors.New("boot: payload shorter than signature + size prefix")
	// ErrBadSignature means the Ed25519 signature did not verify
	// against the compressed body.
	ErrBadSignature = errors.New("boot: payload signature verification failed")
)

// Verify checks raw's Ed25519 signature against pub, returning the
// signed (still-compressed) body on success. raw is
// `signature ++ sizePrefix ++ lz4Block`, matching
// `compress_and_sign`'s `write_vectored([signature, compressed])` where
// `compressed` itself already carries the size prefix.
func Verify(pub ed25519.PublicKey, raw []byte) ([]byte, error) {
	if len(raw) < signatureSize+4 {
		return nil, ErrPayloadTooShort
	}
	sig := raw[:signatureSize]
	body := raw[signatureSize:]
	if !ed25519.Verify(pub, body, sig) {
		return nil, ErrBadSignature
	}
	return body, nil
}

// Decompress unpacks a `compress_prepend_size`-framed LZ4 block: a
// 4-byte little-endian original size followed by a raw (non-framed)
// LZ4 block of exactly that decompressed length.
func Decompress(body []byte) ([]byte, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("boot: compressed body shorter than its size prefix")
	}
	origSize := binary.LittleEndian.Uint32(body[:4])
	block := body[4:]
	dst := make([]byte, origSize)
	n, err := lz4.UncompressBlock(block, dst)
	if err != nil {
		return nil, fmt.Errorf("boot: lz4 decompress: %w", err)
	}
	return dst[:n], nil
}

// VerifyAndDecompress is the full pipeline a loader's entry point runs
// on the payload it was handed: verify the signature, then inflate the
// compressed kernel image.
func VerifyAndDecompress(pub ed25519.PublicKey, raw []byte) ([]byte, error) {
	body, err := Verify(pub, raw)
	if err != nil {
		return nil, err
	}
	return Decompress(body)
}
