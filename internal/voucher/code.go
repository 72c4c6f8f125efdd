package voucher

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Alphabet without lookalike characters (0/O, 1/I/L) so codes survive
// being read over the phone at pickup.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const codePattern = "PZA-%s-%s"

func generateCode() (string, error) {
	block := func() (string, error) {
		b := make([]byte, 4)
		for i := range b {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
			if err != nil {
				return "", err
			}
			b[i] = codeAlphabet[n.Int64()]
		}
		return string(b), nil
	}

	first, err := block()
	if err != nil {
		return "", err
	}
	second, err := block()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(codePattern, first, second), nil
}
