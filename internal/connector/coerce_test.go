package connector

import (
	"testing"

	"github.com/dealerfeed/ingest-pipeline/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupFieldMatchesSynonymCaseInsensitive(t *testing.T) {
	raw := map[string]any{"Product_Name": "Federal 9mm"}
	val, key, ok := lookupField(raw, defaultFieldGroups, "title")
	require.True(t, ok)
	assert.Equal(t, "Federal 9mm", val)
	assert.Equal(t, "Product_Name", key)
}

func TestLookupFieldMissing(t *testing.T) {
	_, _, ok := lookupField(map[string]any{"foo": "bar"}, defaultFieldGroups, "title")
	assert.False(t, ok)
}

func TestCoercePriceStripsCurrencySymbols(t *testing.T) {
	d, ok := coercePrice("$12.99")
	require.True(t, ok)
	assert.True(t, d.Equal(decimal.NewFromFloat(12.99)))
}

func TestCoercePriceEmptyInput(t *testing.T) {
	_, ok := coercePrice("")
	assert.False(t, ok)
}

func TestCoerceStockRecognizesTrueWords(t *testing.T) {
	assert.True(t, coerceStock("In Stock"))
	assert.True(t, coerceStock("yes"))
	assert.True(t, coerceStock("y"))
}

func TestCoerceStockRecognizesFalseWords(t *testing.T) {
	assert.False(t, coerceStock("Out of Stock"))
	assert.False(t, coerceStock("no"))
	assert.False(t, coerceStock("n"))
}

func TestCoerceStockPositiveQuantityMeansInStock(t *testing.T) {
	assert.True(t, coerceStock("42"))
}

func TestCoerceStockZeroQuantityMeansOutOfStock(t *testing.T) {
	assert.False(t, coerceStock("0"))
}

func TestCoerceStockDefaultsToInStockForUnrecognized(t *testing.T) {
	assert.True(t, coerceStock("whatever"))
}

func TestCoerceGrainExtractsFromSuffixedString(t *testing.T) {
	n, ok := coerceGrain("115gr")
	require.True(t, ok)
	assert.Equal(t, 115, n)
}

func TestCoerceGrainFallsBackToBareDigits(t *testing.T) {
	n, ok := coerceGrain("115")
	require.True(t, ok)
	assert.Equal(t, 115, n)
}

func TestCoerceGrainNoDigits(t *testing.T) {
	_, ok := coerceGrain("heavy")
	assert.False(t, ok)
}

func TestNormalizeUPCStripsNonDigits(t *testing.T) {
	upc, ok := normalizeUPC("029-465064-565")
	require.True(t, ok)
	assert.Equal(t, "029465064565", upc)
}

func TestNormalizeUPCRejectsTooShort(t *testing.T) {
	_, ok := normalizeUPC("1234")
	assert.False(t, ok)
}

func TestNormalizeUPCRejectsTooLong(t *testing.T) {
	_, ok := normalizeUPC("123456789012345")
	assert.False(t, ok)
}

// AmmoSeek's sale_price override is preferred whether it is lower or higher
// than list price: the dealer stated it.
func TestApplySalePricePreferredWhenLower(t *testing.T) {
	rec := &domain.ParsedRecord{Price: decimal.NewFromFloat(25.99)}
	applySalePrice(rec, "19.99", true)
	assert.True(t, rec.Price.Equal(decimal.NewFromFloat(19.99)))
	assert.True(t, rec.SalePrice.Equal(decimal.NewFromFloat(19.99)))
}

func TestApplySalePricePreferredEvenWhenHigher(t *testing.T) {
	rec := &domain.ParsedRecord{Price: decimal.NewFromFloat(19.99)}
	applySalePrice(rec, "25.99", true)
	assert.True(t, rec.Price.Equal(decimal.NewFromFloat(25.99)))
	assert.True(t, rec.SalePrice.Equal(decimal.NewFromFloat(25.99)))
}

func TestApplySalePriceIgnoredWhenAbsent(t *testing.T) {
	rec := &domain.ParsedRecord{Price: decimal.NewFromFloat(19.99)}
	applySalePrice(rec, "", false)
	assert.True(t, rec.Price.Equal(decimal.NewFromFloat(19.99)))
	assert.True(t, rec.SalePrice.IsZero())
}
