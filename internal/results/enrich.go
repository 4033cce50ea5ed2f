// internal/results/enrich.go
package results

import (
	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/results/providers"
	"go.uber.org/zap"
)

// Enricher is responsible for enhancing cluster records with additional context.
type Enricher struct {
	weaknesses providers.WeaknessProvider
	logger     *zap.Logger
}

// NewEnricher creates a new Enricher instance.
func NewEnricher(weaknesses providers.WeaknessProvider, logger *zap.Logger) *Enricher {
	return &Enricher{
		weaknesses: weaknesses,
		logger:     logger.Named("enricher"),
	}
}

// EnrichRecord enhances a single record.
func (e *Enricher) EnrichRecord(record *schemas.ClusterRecord) {
	e.enrichWeakness(record)
}

func (e *Enricher) enrichWeakness(record *schemas.ClusterRecord) {
	if e.weaknesses == nil {
		return
	}
	if record.WeaknessID == "" {
		record.WeaknessID = e.weaknesses.DefaultFor(record.Type)
		if record.WeaknessID == "" {
			return
		}
	}

	entry, ok := e.weaknesses.Lookup(record.WeaknessID)
	if !ok {
		e.logger.Debug("Could not resolve weakness id", zap.String("weakness_id", record.WeaknessID))
		return
	}
	record.WeaknessID = entry.ID
	if record.WeaknessTitle == "" {
		record.WeaknessTitle = entry.Title
	}
}
