package connector

import (
	"testing"

	"github.com/dealerfeed/ingest-pipeline/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnwrapJSONTopLevelArray(t *testing.T) {
	rows, err := Unwrap([]byte(`[{"title": "A"}, {"title": "B"}]`))
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestUnwrapJSONWrappedUnderProducts(t *testing.T) {
	rows, err := Unwrap([]byte(`{"products": [{"title": "A"}]}`))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "A", rows[0]["title"])
}

func TestUnwrapJSONBareObjectIsSingleRecord(t *testing.T) {
	rows, err := Unwrap([]byte(`{"title": "A", "price": "9.99"}`))
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestUnwrapXMLProductsContainer(t *testing.T) {
	body := []byte(`<?xml version="1.0"?>
<products>
  <product><title>A</title><price>9.99</price></product>
  <product><title>B</title><price>8.99</price></product>
</products>`)
	rows, err := Unwrap(body)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "A", rows[0]["title"])
}

func TestUnwrapXMLNestedFeedContainer(t *testing.T) {
	body := []byte(`<feed><products><product><title>A</title></product></products></feed>`)
	rows, err := Unwrap(body)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestUnwrapCSVAutoDetectsComma(t *testing.T) {
	body := []byte("title,upc,price\n\"Federal, 9mm\",029465064565,12.99\n\nWinchester 556,020892212345,9.49\n")
	rows, err := Unwrap(body)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	// quoted comma survives, empty line skipped
	assert.Equal(t, "Federal, 9mm", rows[0]["title"])
}

func TestUnwrapTSVAutoDetectsTab(t *testing.T) {
	body := []byte("title\tupc\tprice\nFederal 9mm\t029465064565\t12.99\n")
	rows, err := Unwrap(body)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "12.99", rows[0]["price"])
}

func TestUnwrapCSVRelaxedColumnCount(t *testing.T) {
	body := []byte("title,upc,price\nShort Row,029465064565\nFull Row,020892212345,9.49,extra\n")
	rows, err := Unwrap(body)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	_, hasPrice := rows[0]["price"]
	assert.False(t, hasPrice)
}

func TestResolveDeclaredFormatWins(t *testing.T) {
	r := NewRegistry()
	c := r.Resolve(domain.FormatImpact, []byte(`[{"title": "A"}]`))
	assert.Equal(t, domain.FormatImpact, c.FormatType())
}

func TestResolveGenericAutoDetectsGunEngine(t *testing.T) {
	r := NewRegistry()
	body := []byte(`[{"item_id": "X1", "manufacturer": "Federal", "stock_status": "in", "title": "A", "price": "9.99"}]`)
	c := r.Resolve(domain.FormatGeneric, body)
	assert.Equal(t, domain.FormatGunEngineV2, c.FormatType())
}

func TestResolveGenericAutoDetectsAmmoSeek(t *testing.T) {
	r := NewRegistry()
	body := []byte(`[{"upc": "029465064565", "product_name": "A", "price": "9.99", "link": "https://x.test/a"}]`)
	c := r.Resolve(domain.FormatGeneric, body)
	assert.Equal(t, domain.FormatAmmoSeekV1, c.FormatType())
}

func TestResolveGenericFallsBackToGeneric(t *testing.T) {
	r := NewRegistry()
	body := []byte(`[{"foo": "bar"}]`)
	c := r.Resolve(domain.FormatGeneric, body)
	assert.Equal(t, domain.FormatGeneric, c.FormatType())
}

func TestGenericParseNeverRejectsContent(t *testing.T) {
	c := NewGenericConnector()
	result, err := c.Parse([]byte(`[{"foo": "bar"}]`))
	require.NoError(t, err)
	assert.Len(t, result.Records, 1)
}

func TestGenericParseMapsSynonymsAndCoerces(t *testing.T) {
	c := NewGenericConnector()
	result, err := c.Parse([]byte(`[{
		"product_name": "  Federal 9mm 115gr  ",
		"gtin": "UPC:029-465-064-565",
		"cost": "$1,234.56",
		"grain": "115 grains",
		"availability": "In Stock",
		"product_url": "https://shop.test/federal-9mm"
	}]`))
	require.NoError(t, err)
	require.Len(t, result.Records, 1)

	rec := result.Records[0]
	assert.Equal(t, "Federal 9mm 115gr", rec.Title)
	assert.Equal(t, "029465064565", rec.UPC)
	assert.True(t, rec.Price.Equal(decimal.NewFromFloat(1234.56)))
	assert.Equal(t, 115, rec.Grain)
	assert.True(t, rec.InStock)
	assert.Equal(t, "https://shop.test/federal-9mm", rec.URL)
	assert.NotEmpty(t, rec.Coercions)
}

func TestAmmoSeekSalePriceOverridesEvenWhenHigher(t *testing.T) {
	c := NewAmmoSeekConnector()
	result, err := c.Parse([]byte(`[
		{"upc": "029465064565", "product_name": "A", "price": "25.99", "sale_price": "19.99", "link": "https://x.test/a"},
		{"upc": "020892212345", "product_name": "B", "price": "19.99", "sale_price": "25.99", "link": "https://x.test/b"}
	]`))
	require.NoError(t, err)
	require.Len(t, result.Records, 2)
	assert.True(t, result.Records[0].Price.Equal(decimal.NewFromFloat(19.99)))
	assert.True(t, result.Records[1].Price.Equal(decimal.NewFromFloat(25.99)))
	assert.Equal(t, "https://x.test/a", result.Records[0].URL)
}

func TestGunEngineStockWords(t *testing.T) {
	c := NewGunEngineConnector()
	result, err := c.Parse([]byte(`[
		{"item_id": "1", "manufacturer": "Federal", "title": "A", "price": "9.99", "stock_status": "limited"},
		{"item_id": "2", "manufacturer": "Federal", "title": "B", "price": "9.99", "stock_status": "out"},
		{"item_id": "3", "manufacturer": "Federal", "title": "C", "price": "9.99"}
	]`))
	require.NoError(t, err)
	require.Len(t, result.Records, 3)
	assert.True(t, result.Records[0].InStock)
	assert.False(t, result.Records[1].InStock)
	assert.True(t, result.Records[2].InStock) // default when missing
}

func TestImpactStockQuantityStrings(t *testing.T) {
	c := NewImpactConnector()
	result, err := c.Parse([]byte(`[
		{"title": "A", "upc": "029465064565", "price": "9.99", "stock_quantity": "5 in stock"},
		{"title": "B", "upc": "020892212345", "price": "9.99", "stock_quantity": "0"},
		{"title": "C", "upc": "011111111111", "price": "9.99", "stock_quantity": "plenty"}
	]`))
	require.NoError(t, err)
	require.Len(t, result.Records, 3)
	assert.True(t, result.Records[0].InStock)
	assert.False(t, result.Records[1].InStock)
	assert.True(t, result.Records[2].InStock) // unknown strings default true
}

func TestImpactCanHandleRequiresNumericStock(t *testing.T) {
	c := NewImpactConnector()
	assert.True(t, c.CanHandle([]byte(`[{"title": "A", "stock_quantity": "5 in stock"}]`)))
	assert.False(t, c.CanHandle([]byte(`[{"title": "A"}]`)))
}
