package watermark

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// TokenBits is the width of a carrier token. 16 random bits keep the
// embedded payload short; collisions are vanishingly unlikely but the
// ledger's unique key tolerates them via mint-and-retry.
const TokenBits = 16

// MintCarrierToken returns a fresh carrier token: TokenBits random bits
// textually encoded as a bit-string, e.g. "0110100111010001".
func MintCarrierToken() (string, error) {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("failed to read random bits for carrier token: %w", err)
	}

	bits := binary.BigEndian.Uint16(buf[:])
	return fmt.Sprintf("%016b", bits), nil
}
