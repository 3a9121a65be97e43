package connector

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// fieldGroup is one semantic field's synonym set for raw-key lookup,
// checked case-insensitively against the raw record's keys.
type fieldGroup struct {
	Field    string
	Synonyms []string
}

// defaultFieldGroups is the generic synonym table shared by GENERIC parsing
// and as a fallback for fields a specific connector doesn't override.
var defaultFieldGroups = []fieldGroup{
	{"title", []string{"title", "name", "product_name", "productname", "item_name"}},
	{"upc", []string{"upc", "gtin", "ean", "barcode"}},
	{"sku", []string{"sku", "item_id", "itemid", "mpn", "part_number"}},
	{"price", []string{"price", "cost", "retail_price", "msrp"}},
	{"sale_price", []string{"sale_price", "saleprice", "special_price", "discount_price"}},
	{"description", []string{"description", "desc", "details"}},
	{"brand", []string{"brand", "manufacturer", "maker"}},
	{"stock", []string{"stock", "in_stock", "instock", "availability", "stock_status", "quantity", "qty"}},
	{"url", []string{"url", "link", "product_url"}},
	{"image", []string{"image", "image_url", "imageurl", "img"}},
	{"category", []string{"category", "cat", "product_type"}},
	{"caliber", []string{"caliber", "cal"}},
	{"grain", []string{"grain", "bullet_weight", "weight_grains"}},
	{"bullet_type", []string{"bullet_type", "bullettype", "projectile_type"}},
	{"case_material", []string{"case_material", "casematerial", "case"}},
	{"round_count", []string{"round_count", "roundcount", "rounds_per_box", "box_count"}},
}

// lookupField returns the first non-empty raw value matching any synonym
// of field, and the raw key it was found under.
func lookupField(raw map[string]any, groups []fieldGroup, field string) (string, string, bool) {
	for _, g := range groups {
		if g.Field != field {
			continue
		}
		for _, syn := range g.Synonyms {
			for key, val := range raw {
				if strings.EqualFold(key, syn) {
					s := stringify(val)
					if s != "" {
						return s, key, true
					}
				}
			}
		}
	}
	return "", "", false
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

var currencyStripRe = regexp.MustCompile(`[^0-9.\-]`)

// coercePrice parses a currency string like "$12.99" or "$1,234.56" into a
// decimal, stripping symbols and thousands separators.
func coercePrice(raw string) (decimal.Decimal, bool) {
	cleaned := currencyStripRe.ReplaceAllString(raw, "")
	if cleaned == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

var (
	stockTrueWords  = []string{"in", "instock", "in_stock", "in-stock", "available", "yes", "y", "true", "1", "limited"}
	stockFalseWords = []string{"out", "outofstock", "out_of_stock", "out-of-stock", "unavailable", "no", "n", "false", "0"}
)

// coerceStock interprets a stock field's synonym vocabulary,
// defaulting to true (in-stock) for unrecognized strings, and treating a
// positive numeric quantity as in-stock.
func coerceStock(raw string) bool {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return true
	}
	if qty, err := strconv.Atoi(currencyStripRe.ReplaceAllString(normalized, "")); err == nil {
		if digitsOnly(normalized) {
			return qty > 0
		}
	}
	for _, w := range stockFalseWords {
		if normalized == w {
			return false
		}
	}
	for _, w := range stockTrueWords {
		if normalized == w {
			return true
		}
	}
	if strings.Contains(normalized, "out") || strings.Contains(normalized, "unavailable") {
		return false
	}
	if strings.Contains(normalized, "stock") || strings.Contains(normalized, "available") {
		return true
	}
	return true
}

func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var grainRe = regexp.MustCompile(`(\d+)\s*gr`)

// coerceGrain extracts a bullet-weight integer from strings like
// "115 grains" or "115gr", falling back to a bare integer parse.
func coerceGrain(raw string) (int, bool) {
	if m := grainRe.FindStringSubmatch(strings.ToLower(raw)); len(m) == 2 {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n, true
		}
	}
	digits := regexp.MustCompile(`\d+`).FindString(raw)
	if digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

func coerceInt(raw string) (int, bool) {
	digits := regexp.MustCompile(`\d+`).FindString(raw)
	if digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

var upcDigitsRe = regexp.MustCompile(`[^0-9]`)

// normalizeUPC strips non-digit characters and validates the resulting
// length falls within the accepted 8-14 digit range (UPC-E through
// GTIN-14).
func normalizeUPC(raw string) (string, bool) {
	digits := upcDigitsRe.ReplaceAllString(raw, "")
	if len(digits) < 8 || len(digits) > 14 {
		return digits, false
	}
	return digits, true
}
