package connector

import (
	"fmt"

	"github.com/dealerfeed/ingest-pipeline/internal/domain"
)

// GenericConnector is the fallback format family: it never rejects content
// outright, maps fields by the broadest synonym table, and leaves
// quarantine/reject routing entirely to classify's truth table.
type GenericConnector struct{}

func NewGenericConnector() *GenericConnector {
	return &GenericConnector{}
}

func (c *GenericConnector) Name() string { return "generic" }

func (c *GenericConnector) FormatType() domain.FormatType { return domain.FormatGeneric }

// CanHandle always returns true; GenericConnector is the Resolve fallback
// and is never probed via specificityOrder.
func (c *GenericConnector) CanHandle(body []byte) bool { return true }

func (c *GenericConnector) FieldMapping() map[string][]string {
	m := make(map[string][]string, len(defaultFieldGroups))
	for _, g := range defaultFieldGroups {
		m[g.Field] = g.Synonyms
	}
	return m
}

func (c *GenericConnector) Parse(body []byte) (ParseResult, error) {
	rows, err := Unwrap(body)
	if err != nil {
		return ParseResult{}, fmt.Errorf("generic: %w", err)
	}

	result := ParseResult{Records: make([]domain.ParsedRecord, 0, len(rows))}
	for _, row := range rows {
		rec := domain.ParsedRecord{Raw: domain.RawRecord(row)}

		title, _, _ := lookupField(row, defaultFieldGroups, "title")
		rec.Title = title

		upc, _, ok2 := lookupField(row, defaultFieldGroups, "upc")
		applyUPC(&rec, upc, ok2)

		sku, _, _ := lookupField(row, defaultFieldGroups, "sku")
		rec.SKU = sku

		price, _, pok := lookupField(row, defaultFieldGroups, "price")
		applyPrice(&rec, price, pok)

		salePrice, _, sok := lookupField(row, defaultFieldGroups, "sale_price")
		applySalePrice(&rec, salePrice, sok)

		desc, _, _ := lookupField(row, defaultFieldGroups, "description")
		rec.Description = desc

		brand, _, _ := lookupField(row, defaultFieldGroups, "brand")
		rec.Brand = brand

		caliber, _, _ := lookupField(row, defaultFieldGroups, "caliber")
		rec.Caliber = caliber

		grain, _, gok := lookupField(row, defaultFieldGroups, "grain")
		applyGrain(&rec, grain, gok)

		bulletType, _, _ := lookupField(row, defaultFieldGroups, "bullet_type")
		rec.BulletType = bulletType

		caseMaterial, _, _ := lookupField(row, defaultFieldGroups, "case_material")
		rec.CaseMaterial = caseMaterial

		roundCount, _, rok := lookupField(row, defaultFieldGroups, "round_count")
		applyRoundCount(&rec, roundCount, rok)

		stock, _, stockOk := lookupField(row, defaultFieldGroups, "stock")
		applyStock(&rec, stock, stockOk)

		url, _, _ := lookupField(row, defaultFieldGroups, "url")
		rec.URL = url

		imageURL, _, _ := lookupField(row, defaultFieldGroups, "image")
		rec.ImageURL = imageURL

		category, _, _ := lookupField(row, defaultFieldGroups, "category")
		rec.Category = category

		checkRequiredAttributes(&rec)

		result.Records = append(result.Records, rec)
	}
	return result, nil
}
