package domain

import (
	"crypto/sha256"
	"strings"

	"github.com/shopspring/decimal"
)

// SkuHash is the first 16 bytes of SHA-256 over
// lower(trim(title))|upc|sku|price, the DealerSku dedup key.
func SkuHash(title, upc, sku string, price decimal.Decimal) [16]byte {
	norm := strings.ToLower(strings.TrimSpace(title))
	input := norm + "|" + upc + "|" + sku + "|" + price.String()
	sum := sha256.Sum256([]byte(input))
	var out [16]byte
	copy(out[:], sum[:16])
	return out
}

// MatchKey is the first 16 bytes of SHA-256 over lower(trim(title))|sku,
// the QuarantinedRecord dedup key.
func MatchKey(title, sku string) [16]byte {
	norm := strings.ToLower(strings.TrimSpace(title))
	input := norm + "|" + sku
	sum := sha256.Sum256([]byte(input))
	var out [16]byte
	copy(out[:], sum[:16])
	return out
}
