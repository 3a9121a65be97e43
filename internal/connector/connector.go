// Package connector implements format auto-detection and the four feed
// connectors (GENERIC, AMMOSEEK_V1, GUNENGINE_V2, IMPACT), each exposing
// the canHandle/parse/fieldMapping capability interface.
package connector

import (
	"github.com/dealerfeed/ingest-pipeline/internal/domain"
)

// ParseResult is the output of one connector's parse pass over raw bytes.
type ParseResult struct {
	Records []domain.ParsedRecord
}

// Connector is the capability interface every format family implements.
type Connector interface {
	Name() string
	FormatType() domain.FormatType
	CanHandle(body []byte) bool
	Parse(body []byte) (ParseResult, error)
	FieldMapping() map[string][]string
}

// Registry maps format tags to their connector and implements the
// auto-detect policy for GENERIC jobs.
type Registry struct {
	connectors map[domain.FormatType]Connector
	// specificityOrder is the auto-detect probe order: most specific first.
	specificityOrder []domain.FormatType
}

// NewRegistry builds the registry with all four connectors wired in, most
// specific format probed first.
func NewRegistry() *Registry {
	r := &Registry{
		connectors: make(map[domain.FormatType]Connector),
		specificityOrder: []domain.FormatType{
			domain.FormatGunEngineV2,
			domain.FormatAmmoSeekV1,
			domain.FormatImpact,
		},
	}
	r.Register(NewGenericConnector())
	r.Register(NewAmmoSeekConnector())
	r.Register(NewGunEngineConnector())
	r.Register(NewImpactConnector())
	return r
}

func (r *Registry) Register(c Connector) {
	r.connectors[c.FormatType()] = c
}

func (r *Registry) Get(format domain.FormatType) (Connector, bool) {
	c, ok := r.connectors[format]
	return c, ok
}

// Resolve picks the connector to use for a feed. A declared format other
// than GENERIC is used directly; GENERIC feeds run auto-detection, trying
// each specific connector's CanHandle in order and falling back to the
// GENERIC connector (which never rejects content).
func (r *Registry) Resolve(declared domain.FormatType, body []byte) Connector {
	if declared != domain.FormatGeneric {
		if c, ok := r.connectors[declared]; ok {
			return c
		}
	}
	for _, format := range r.specificityOrder {
		c := r.connectors[format]
		if c != nil && c.CanHandle(body) {
			return c
		}
	}
	return r.connectors[domain.FormatGeneric]
}
