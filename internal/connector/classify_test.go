package connector

import (
	"testing"

	"github.com/dealerfeed/ingest-pipeline/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestClassifyIndexableWithValidUPCTitlePrice(t *testing.T) {
	rec := &domain.ParsedRecord{Title: "Federal 9mm", UPC: "029465064565", Price: decimal.NewFromFloat(12.99)}
	assert.Equal(t, domain.LaneIndexable, Classify(rec))
	assert.Empty(t, rec.Errors)
}

func TestClassifyRejectsMissingTitle(t *testing.T) {
	rec := &domain.ParsedRecord{UPC: "029465064565", Price: decimal.NewFromFloat(12.99)}
	assert.Equal(t, domain.LaneReject, Classify(rec))
	assert.Equal(t, domain.ErrMissingTitle, rec.Errors[0].Code)
}

func TestClassifyRejectsMissingPrice(t *testing.T) {
	rec := &domain.ParsedRecord{Title: "Federal 9mm", UPC: "029465064565"}
	assert.Equal(t, domain.LaneReject, Classify(rec))
	assert.Equal(t, domain.ErrInvalidPrice, rec.Errors[0].Code)
}

func TestClassifyRejectsNonPositivePrice(t *testing.T) {
	rec := &domain.ParsedRecord{Title: "Federal 9mm", UPC: "029465064565", Price: decimal.Zero}
	assert.Equal(t, domain.LaneReject, Classify(rec))
}

func TestClassifyQuarantinesMissingUPC(t *testing.T) {
	rec := &domain.ParsedRecord{Title: "Federal 9mm", Price: decimal.NewFromFloat(12.99)}
	assert.Equal(t, domain.LaneQuarantine, Classify(rec))
}

func TestClassifyQuarantinesInvalidUPC(t *testing.T) {
	rec := &domain.ParsedRecord{
		Title: "Federal 9mm", Price: decimal.NewFromFloat(12.99), UPC: "123",
		Errors: []domain.RecordError{{Field: "upc", Code: domain.ErrInvalidUPC}},
	}
	assert.Equal(t, domain.LaneQuarantine, Classify(rec))
}

func TestClassifyIndexableDespiteMissingCaliberAndBrand(t *testing.T) {
	rec := &domain.ParsedRecord{Title: "Federal 9mm", UPC: "029465064565", Price: decimal.NewFromFloat(12.99)}
	assert.Equal(t, domain.LaneIndexable, Classify(rec))
}
