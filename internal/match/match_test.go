package match

import (
	"testing"

	"github.com/dealerfeed/ingest-pipeline/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestLookupUPCHit(t *testing.T) {
	w := &Worker{upcMap: map[string]domain.CanonicalSku{"029465064565": {ID: 1}}}
	c, ok := w.lookupUPC("029465064565")
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.ID)
}

func TestLookupUPCMiss(t *testing.T) {
	w := &Worker{upcMap: map[string]domain.CanonicalSku{}}
	_, ok := w.lookupUPC("000000000000")
	assert.False(t, ok)
}

func TestLookupUPCEmptyInputNeverHits(t *testing.T) {
	w := &Worker{upcMap: map[string]domain.CanonicalSku{"": {ID: 1}}}
	_, ok := w.lookupUPC("")
	assert.False(t, ok)
}

func TestAddToCacheIndexesByAttributes(t *testing.T) {
	w := &Worker{attrMap: map[string]domain.CanonicalSku{}}
	w.addToCache(domain.CanonicalSku{ID: 5, Caliber: "9mm Luger", Brand: "Federal"})
	c, ok := w.attrMap["9mm Luger|Federal"]
	assert.True(t, ok)
	assert.Equal(t, int64(5), c.ID)
}

func TestAddToCacheSkipsIncompleteAttributes(t *testing.T) {
	w := &Worker{attrMap: map[string]domain.CanonicalSku{}}
	w.addToCache(domain.CanonicalSku{ID: 6, Caliber: "9mm Luger"})
	assert.Len(t, w.attrMap, 0)
}
