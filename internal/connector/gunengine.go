package connector

import (
	"fmt"

	"github.com/dealerfeed/ingest-pipeline/internal/domain"
)

// gunEngineFieldGroups is the GUNENGINE_V2 dialect's column-name dialect.
var gunEngineFieldGroups = []fieldGroup{
	{"sku", []string{"item_id"}},
	{"brand", []string{"manufacturer"}},
	{"title", []string{"title", "name", "product_name"}},
	{"upc", []string{"upc", "gtin"}},
	{"price", []string{"price"}},
	{"sale_price", []string{"sale_price"}},
	{"stock", []string{"stock_status"}},
	{"grain", []string{"bullet_weight"}},
	{"round_count", []string{"rounds_per_box"}},
	{"caliber", []string{"caliber"}},
	{"url", []string{"url", "link"}},
	{"image", []string{"image_url", "image"}},
	{"description", []string{"description"}},
	{"category", []string{"category"}},
	{"bullet_type", []string{"bullet_type"}},
	{"case_material", []string{"case_material"}},
}

// GunEngineConnector implements the GUNENGINE_V2 dialect: a feed
// qualifies when it carries item_id and manufacturer plus at least one of
// stock_status, bullet_weight, or rounds_per_box as a GUNENGINE-specific
// marker (distinguishing it from a plain generic feed that happens to use
// "manufacturer" as a header).
type GunEngineConnector struct{}

func NewGunEngineConnector() *GunEngineConnector {
	return &GunEngineConnector{}
}

func (c *GunEngineConnector) Name() string { return "gunengine_v2" }

func (c *GunEngineConnector) FormatType() domain.FormatType { return domain.FormatGunEngineV2 }

func (c *GunEngineConnector) CanHandle(body []byte) bool {
	rows, err := Unwrap(body)
	if err != nil || len(rows) == 0 {
		return false
	}
	sample := rows[0]
	_, _, hasItemID := lookupField(sample, gunEngineFieldGroups, "sku")
	_, _, hasManufacturer := lookupField(sample, gunEngineFieldGroups, "brand")
	if !hasItemID || !hasManufacturer {
		return false
	}
	_, _, hasStockStatus := lookupField(sample, gunEngineFieldGroups, "stock")
	_, _, hasBulletWeight := lookupField(sample, gunEngineFieldGroups, "grain")
	_, _, hasRoundsPerBox := lookupField(sample, gunEngineFieldGroups, "round_count")
	return hasStockStatus || hasBulletWeight || hasRoundsPerBox
}

func (c *GunEngineConnector) FieldMapping() map[string][]string {
	m := make(map[string][]string, len(gunEngineFieldGroups))
	for _, g := range gunEngineFieldGroups {
		m[g.Field] = g.Synonyms
	}
	return m
}

func (c *GunEngineConnector) Parse(body []byte) (ParseResult, error) {
	rows, err := Unwrap(body)
	if err != nil {
		return ParseResult{}, fmt.Errorf("gunengine_v2: %w", err)
	}

	result := ParseResult{Records: make([]domain.ParsedRecord, 0, len(rows))}
	for _, row := range rows {
		rec := domain.ParsedRecord{Raw: domain.RawRecord(row)}

		title, _, _ := lookupField(row, gunEngineFieldGroups, "title")
		rec.Title = title

		sku, _, _ := lookupField(row, gunEngineFieldGroups, "sku")
		rec.SKU = sku

		upc, _, upcOk := lookupField(row, gunEngineFieldGroups, "upc")
		applyUPC(&rec, upc, upcOk)

		price, _, priceOk := lookupField(row, gunEngineFieldGroups, "price")
		applyPrice(&rec, price, priceOk)

		salePrice, _, saleOk := lookupField(row, gunEngineFieldGroups, "sale_price")
		applySalePrice(&rec, salePrice, saleOk)

		brand, _, _ := lookupField(row, gunEngineFieldGroups, "brand")
		rec.Brand = brand

		caliber, _, _ := lookupField(row, gunEngineFieldGroups, "caliber")
		rec.Caliber = caliber

		grain, _, grainOk := lookupField(row, gunEngineFieldGroups, "grain")
		applyGrain(&rec, grain, grainOk)

		bulletType, _, _ := lookupField(row, gunEngineFieldGroups, "bullet_type")
		rec.BulletType = bulletType

		caseMaterial, _, _ := lookupField(row, gunEngineFieldGroups, "case_material")
		rec.CaseMaterial = caseMaterial

		roundCount, _, roundOk := lookupField(row, gunEngineFieldGroups, "round_count")
		applyRoundCount(&rec, roundCount, roundOk)

		// stock_status goes through the shared stock-word coercion
		// (coerceStock), the same vocabulary the other connectors use.
		stock, _, stockOk := lookupField(row, gunEngineFieldGroups, "stock")
		applyStock(&rec, stock, stockOk)

		url, _, _ := lookupField(row, gunEngineFieldGroups, "url")
		rec.URL = url

		imageURL, _, _ := lookupField(row, gunEngineFieldGroups, "image")
		rec.ImageURL = imageURL

		description, _, _ := lookupField(row, gunEngineFieldGroups, "description")
		rec.Description = description

		category, _, _ := lookupField(row, gunEngineFieldGroups, "category")
		rec.Category = category

		checkRequiredAttributes(&rec)

		result.Records = append(result.Records, rec)
	}
	return result, nil
}
