package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/k23-systems/kcore/internal/boot"
)

func runBootVerify(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("boot-verify: want <pubkey-hex-file> <payload-file>")
	}
	pubHex, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("boot-verify: reading public key: %w", err)
	}
	pubBytes, err := hex.DecodeString(trimNewline(string(pubHex)))
	if err != nil {
		return fmt.Errorf("boot-verify: decoding public key: %w", err)
	}
	if len(pubBytes) != ed25519.PublicKeySize {
		return fmt.Errorf("boot-verify: public key is %d bytes, want %d", len(pubBytes), ed25519.PublicKeySize)
	}

	raw, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("boot-verify: reading payload: %w", err)
	}

	image, err := boot.VerifyAndDecompress(ed25519.PublicKey(pubBytes), raw)
	if err != nil {
		return fmt.Errorf("boot-verify: %w", err)
	}

	fmt.Printf("signature OK, decompressed image is %d bytes\n", len(image))
	return nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
