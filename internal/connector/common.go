package connector

import (
	"strconv"

	"github.com/dealerfeed/ingest-pipeline/internal/domain"
)

// applyUPC looks up and coerces the UPC field onto rec, recording a
// coercion or error as appropriate. Missing UPC is MISSING_UPC; present
// but out-of-range is INVALID_UPC. Both are non-fatal here; classify
// decides whether that routes the record to quarantine.
func applyUPC(rec *domain.ParsedRecord, raw string, found bool) {
	if !found || raw == "" {
		rec.Errors = append(rec.Errors, domain.RecordError{
			Field: "upc", Code: domain.ErrMissingUPC, Message: "no upc field present",
		})
		return
	}
	normalized, ok := normalizeUPC(raw)
	if !ok {
		rec.Errors = append(rec.Errors, domain.RecordError{
			Field: "upc", Code: domain.ErrInvalidUPC, Message: "upc length out of range", RawValue: raw,
		})
		return
	}
	if normalized != raw {
		rec.Coercions = append(rec.Coercions, domain.Coercion{
			Field: "upc", From: raw, To: normalized, Rule: "strip_non_digits",
		})
	}
	rec.UPC = normalized
}

// applyPrice looks up and coerces the price field onto rec.
func applyPrice(rec *domain.ParsedRecord, raw string, found bool) {
	if !found || raw == "" {
		rec.Errors = append(rec.Errors, domain.RecordError{
			Field: "price", Code: domain.ErrInvalidPrice, Message: "no price field present",
		})
		return
	}
	d, ok := coercePrice(raw)
	if !ok || !d.IsPositive() {
		rec.Errors = append(rec.Errors, domain.RecordError{
			Field: "price", Code: domain.ErrInvalidPrice, Message: "price not parseable or non-positive", RawValue: raw,
		})
		return
	}
	rec.Price = d
	rec.Coercions = append(rec.Coercions, domain.Coercion{
		Field: "price", From: raw, To: d.String(), Rule: "currency_string_to_decimal",
	})
}

// applySalePrice coerces an optional sale-price field. A positive sale
// price always becomes the effective price, even when it is higher than
// the list price: the dealer stated it, and the override is never
// "corrected" toward the lower of the two.
func applySalePrice(rec *domain.ParsedRecord, raw string, found bool) {
	if !found || raw == "" {
		return
	}
	d, ok := coercePrice(raw)
	if !ok || !d.IsPositive() {
		return
	}
	rec.SalePrice = d
	rec.Coercions = append(rec.Coercions, domain.Coercion{
		Field: "price", From: rec.Price.String(), To: d.String(), Rule: "sale_price_override",
	})
	rec.Price = d
}

// applyGrain coerces an optional grain/bullet-weight field.
func applyGrain(rec *domain.ParsedRecord, raw string, found bool) {
	if !found || raw == "" {
		return
	}
	n, ok := coerceGrain(raw)
	if !ok {
		return
	}
	rec.Grain = n
	rec.Coercions = append(rec.Coercions, domain.Coercion{
		Field: "grain", From: raw, To: strconv.Itoa(n), Rule: "extract_grain_digits",
	})
}

// applyRoundCount coerces an optional round-count field.
func applyRoundCount(rec *domain.ParsedRecord, raw string, found bool) {
	if !found || raw == "" {
		return
	}
	n, ok := coerceInt(raw)
	if !ok {
		return
	}
	rec.RoundCount = n
}

// applyStock coerces the stock/availability field, defaulting true when
// the field is absent.
func applyStock(rec *domain.ParsedRecord, raw string, found bool) {
	if !found {
		rec.InStock = true
		return
	}
	rec.InStock = coerceStock(raw)
}

// checkRequiredAttributes attaches non-fatal warnings for caliber/brand
// gaps; these never block indexability on their own.
func checkRequiredAttributes(rec *domain.ParsedRecord) {
	if rec.Caliber == "" {
		rec.Errors = append(rec.Errors, domain.RecordError{
			Field: "caliber", Code: domain.ErrMissingCaliber, Message: "caliber not present",
		})
	}
	if rec.Brand == "" {
		rec.Errors = append(rec.Errors, domain.RecordError{
			Field: "brand", Code: domain.ErrMissingBrand, Message: "brand not present",
		})
	}
}
