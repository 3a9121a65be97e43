package connector

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dealerfeed/ingest-pipeline/internal/domain"
)

var impactFieldGroups = []fieldGroup{
	{"title", []string{"title", "product_name", "name"}},
	{"upc", []string{"upc"}},
	{"sku", []string{"sku", "item_number"}},
	{"price", []string{"price"}},
	{"sale_price", []string{"sale_price"}},
	{"stock", []string{"stock_quantity", "quantity_available", "qty"}},
	{"brand", []string{"brand", "manufacturer"}},
	{"caliber", []string{"caliber"}},
	{"url", []string{"url", "link"}},
	{"image", []string{"image_url", "image"}},
	{"description", []string{"description"}},
	{"category", []string{"category"}},
	{"grain", []string{"grain"}},
	{"bullet_type", []string{"bullet_type"}},
	{"case_material", []string{"case_material"}},
	{"round_count", []string{"round_count"}},
}

var impactQtyRe = regexp.MustCompile(`-?\d+`)

// impactStockQuantity extracts the leading integer from stock-quantity
// strings like "5 in stock" or "0", for the IMPACT dialect. Strings
// with no numeric component default to in-stock (true).
func impactStockQuantity(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return true
	}
	match := impactQtyRe.FindString(trimmed)
	if match == "" {
		return true
	}
	qty, err := strconv.Atoi(match)
	if err != nil {
		return true
	}
	return qty > 0
}

// ImpactConnector implements the IMPACT dialect, whose defining
// trait is a numeric stock_quantity field rather than a word-based status.
type ImpactConnector struct{}

func NewImpactConnector() *ImpactConnector {
	return &ImpactConnector{}
}

func (c *ImpactConnector) Name() string { return "impact" }

func (c *ImpactConnector) FormatType() domain.FormatType { return domain.FormatImpact }

func (c *ImpactConnector) CanHandle(body []byte) bool {
	rows, err := Unwrap(body)
	if err != nil || len(rows) == 0 {
		return false
	}
	sample := rows[0]
	raw, _, ok := lookupField(sample, impactFieldGroups, "stock")
	if !ok {
		return false
	}
	return impactQtyRe.MatchString(raw)
}

func (c *ImpactConnector) FieldMapping() map[string][]string {
	m := make(map[string][]string, len(impactFieldGroups))
	for _, g := range impactFieldGroups {
		m[g.Field] = g.Synonyms
	}
	return m
}

func (c *ImpactConnector) Parse(body []byte) (ParseResult, error) {
	rows, err := Unwrap(body)
	if err != nil {
		return ParseResult{}, fmt.Errorf("impact: %w", err)
	}

	result := ParseResult{Records: make([]domain.ParsedRecord, 0, len(rows))}
	for _, row := range rows {
		rec := domain.ParsedRecord{Raw: domain.RawRecord(row)}

		title, _, _ := lookupField(row, impactFieldGroups, "title")
		rec.Title = title

		upc, _, upcOk := lookupField(row, impactFieldGroups, "upc")
		applyUPC(&rec, upc, upcOk)

		sku, _, _ := lookupField(row, impactFieldGroups, "sku")
		rec.SKU = sku

		price, _, priceOk := lookupField(row, impactFieldGroups, "price")
		applyPrice(&rec, price, priceOk)

		salePrice, _, saleOk := lookupField(row, impactFieldGroups, "sale_price")
		applySalePrice(&rec, salePrice, saleOk)

		brand, _, _ := lookupField(row, impactFieldGroups, "brand")
		rec.Brand = brand

		caliber, _, _ := lookupField(row, impactFieldGroups, "caliber")
		rec.Caliber = caliber

		grain, _, grainOk := lookupField(row, impactFieldGroups, "grain")
		applyGrain(&rec, grain, grainOk)

		bulletType, _, _ := lookupField(row, impactFieldGroups, "bullet_type")
		rec.BulletType = bulletType

		caseMaterial, _, _ := lookupField(row, impactFieldGroups, "case_material")
		rec.CaseMaterial = caseMaterial

		roundCount, _, roundOk := lookupField(row, impactFieldGroups, "round_count")
		applyRoundCount(&rec, roundCount, roundOk)

		stockRaw, _, stockOk := lookupField(row, impactFieldGroups, "stock")
		if stockOk {
			rec.InStock = impactStockQuantity(stockRaw)
		} else {
			rec.InStock = true
		}

		url, _, _ := lookupField(row, impactFieldGroups, "url")
		rec.URL = url

		imageURL, _, _ := lookupField(row, impactFieldGroups, "image")
		rec.ImageURL = imageURL

		description, _, _ := lookupField(row, impactFieldGroups, "description")
		rec.Description = description

		category, _, _ := lookupField(row, impactFieldGroups, "category")
		rec.Category = category

		checkRequiredAttributes(&rec)

		result.Records = append(result.Records, rec)
	}
	return result, nil
}
