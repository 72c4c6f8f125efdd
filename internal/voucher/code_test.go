package voucher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCodeShape(t *testing.T) {
	code, err := generateCode()
	require.NoError(t, err)

	parts := strings.Split(code, "-")
	require.Len(t, parts, 3)
	assert.Equal(t, "PZA", parts[0])
	assert.Len(t, parts[1], 4)
	assert.Len(t, parts[2], 4)

	for _, ch := range parts[1] + parts[2] {
		assert.Contains(t, codeAlphabet, string(ch))
	}
}

func TestGenerateCodeAvoidsLookalikes(t *testing.T) {
	for _, forbidden := range []string{"0", "O", "1", "I", "L"} {
		assert.NotContains(t, codeAlphabet, forbidden)
	}
}

func TestGenerateCodeVaries(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		seen[code] = true
	}
	// 8 random characters over a 31-letter alphabet; 50 draws
	// colliding would mean the generator is broken.
	assert.Len(t, seen, 50)
}

func TestDiscountAmount(t *testing.T) {
	fixed := Voucher{DiscountType: DiscountFixed, DiscountValue: 500}
	assert.Equal(t, int64(500), discountAmount(fixed, 3000))

	pct := Voucher{DiscountType: DiscountPercentage, DiscountValue: 20}
	assert.Equal(t, int64(600), discountAmount(pct, 3000))

	delivery := Voucher{DiscountType: DiscountDeliveryFee, DiscountValue: 500}
	assert.Equal(t, int64(500), discountAmount(delivery, 3000))
}
