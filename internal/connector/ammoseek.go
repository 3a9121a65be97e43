package connector

import (
	"fmt"

	"github.com/dealerfeed/ingest-pipeline/internal/domain"
)

// ammoSeekFieldGroups narrows the generic synonym table to the AMMOSEEK_V1
// dialect's known column names.
var ammoSeekFieldGroups = []fieldGroup{
	{"title", []string{"title", "product_name"}},
	{"upc", []string{"upc"}},
	{"sku", []string{"sku"}},
	{"price", []string{"price"}},
	{"sale_price", []string{"sale_price"}},
	{"url", []string{"link", "url"}},
	{"brand", []string{"brand", "manufacturer"}},
	{"caliber", []string{"caliber"}},
	{"stock", []string{"stock", "in_stock"}},
	{"image", []string{"image_url", "image"}},
	{"description", []string{"description"}},
	{"category", []string{"category"}},
	{"grain", []string{"grain"}},
	{"bullet_type", []string{"bullet_type"}},
	{"case_material", []string{"case_material"}},
	{"round_count", []string{"round_count"}},
}

// AmmoSeekConnector implements the AMMOSEEK_V1 dialect: a feed
// qualifies when it carries upc, a title field, price, and a link field.
// sale_price overrides price when positive, and missing caliber/brand are
// warnings rather than rejections.
type AmmoSeekConnector struct{}

func NewAmmoSeekConnector() *AmmoSeekConnector {
	return &AmmoSeekConnector{}
}

func (c *AmmoSeekConnector) Name() string { return "ammoseek_v1" }

func (c *AmmoSeekConnector) FormatType() domain.FormatType { return domain.FormatAmmoSeekV1 }

func (c *AmmoSeekConnector) CanHandle(body []byte) bool {
	rows, err := Unwrap(body)
	if err != nil || len(rows) == 0 {
		return false
	}
	sample := rows[0]
	_, _, hasUPC := lookupField(sample, ammoSeekFieldGroups, "upc")
	_, _, hasTitle := lookupField(sample, ammoSeekFieldGroups, "title")
	_, _, hasPrice := lookupField(sample, ammoSeekFieldGroups, "price")
	_, _, hasURL := lookupField(sample, ammoSeekFieldGroups, "url")
	return hasUPC && hasTitle && hasPrice && hasURL
}

func (c *AmmoSeekConnector) FieldMapping() map[string][]string {
	m := make(map[string][]string, len(ammoSeekFieldGroups))
	for _, g := range ammoSeekFieldGroups {
		m[g.Field] = g.Synonyms
	}
	return m
}

func (c *AmmoSeekConnector) Parse(body []byte) (ParseResult, error) {
	rows, err := Unwrap(body)
	if err != nil {
		return ParseResult{}, fmt.Errorf("ammoseek_v1: %w", err)
	}

	result := ParseResult{Records: make([]domain.ParsedRecord, 0, len(rows))}
	for _, row := range rows {
		rec := domain.ParsedRecord{Raw: domain.RawRecord(row)}

		title, _, _ := lookupField(row, ammoSeekFieldGroups, "title")
		rec.Title = title

		upc, _, upcOk := lookupField(row, ammoSeekFieldGroups, "upc")
		applyUPC(&rec, upc, upcOk)

		sku, _, _ := lookupField(row, ammoSeekFieldGroups, "sku")
		rec.SKU = sku

		price, _, priceOk := lookupField(row, ammoSeekFieldGroups, "price")
		applyPrice(&rec, price, priceOk)

		salePrice, _, saleOk := lookupField(row, ammoSeekFieldGroups, "sale_price")
		applySalePrice(&rec, salePrice, saleOk)

		url, _, _ := lookupField(row, ammoSeekFieldGroups, "url")
		rec.URL = url

		brand, _, _ := lookupField(row, ammoSeekFieldGroups, "brand")
		rec.Brand = brand

		caliber, _, _ := lookupField(row, ammoSeekFieldGroups, "caliber")
		rec.Caliber = caliber

		grain, _, grainOk := lookupField(row, ammoSeekFieldGroups, "grain")
		applyGrain(&rec, grain, grainOk)

		bulletType, _, _ := lookupField(row, ammoSeekFieldGroups, "bullet_type")
		rec.BulletType = bulletType

		caseMaterial, _, _ := lookupField(row, ammoSeekFieldGroups, "case_material")
		rec.CaseMaterial = caseMaterial

		roundCount, _, roundOk := lookupField(row, ammoSeekFieldGroups, "round_count")
		applyRoundCount(&rec, roundCount, roundOk)

		stock, _, stockOk := lookupField(row, ammoSeekFieldGroups, "stock")
		applyStock(&rec, stock, stockOk)

		imageURL, _, _ := lookupField(row, ammoSeekFieldGroups, "image")
		rec.ImageURL = imageURL

		description, _, _ := lookupField(row, ammoSeekFieldGroups, "description")
		rec.Description = description

		category, _, _ := lookupField(row, ammoSeekFieldGroups, "category")
		rec.Category = category

		checkRequiredAttributes(&rec)

		result.Records = append(result.Records, rec)
	}
	return result, nil
}
