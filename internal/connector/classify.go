package connector

import (
	"strings"

	"github.com/dealerfeed/ingest-pipeline/internal/domain"
)

// Classify applies the lane truth table to one already-mapped record:
//
//	missing title                      -> reject
//	missing/invalid price               -> reject
//	missing/invalid UPC, has title+price -> quarantine
//	otherwise                           -> indexable
//
// Caliber/brand gaps never block indexability; they only attach a
// non-fatal RecordError the caller can surface as a warning.
func Classify(rec *domain.ParsedRecord) domain.Lane {
	hasTitle := strings.TrimSpace(rec.Title) != ""
	hasPrice := rec.Price.IsPositive()
	hasValidUPC := rec.UPC != "" && !hasError(rec.Errors, "upc")

	if !hasTitle {
		if !hasError(rec.Errors, "title") {
			rec.Errors = append(rec.Errors, domain.RecordError{
				Field: "title", Code: domain.ErrMissingTitle, Message: "title is required",
			})
		}
		return domain.LaneReject
	}
	if !hasPrice {
		// the field-mapping pass usually recorded the price error already
		if !hasError(rec.Errors, "price") {
			rec.Errors = append(rec.Errors, domain.RecordError{
				Field: "price", Code: domain.ErrInvalidPrice, Message: "price missing or not positive",
			})
		}
		return domain.LaneReject
	}
	if !hasValidUPC {
		return domain.LaneQuarantine
	}
	return domain.LaneIndexable
}

func hasError(errs []domain.RecordError, field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}
