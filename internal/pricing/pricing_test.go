package pricing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcriptdesk/internal/config"
	"transcriptdesk/internal/domain"
	"transcriptdesk/internal/pricing"
)

func tariff() pricing.Tariff {
	return pricing.Tariff{
		Currency:     "USD",
		PerUnit:      map[domain.Kind]int64{domain.KindEvaluation: 1000, domain.KindTranslation: 400},
		Notarization: 2500,
		Shipping:     1500,
	}
}

func TestQuoteUnitsOnly(t *testing.T) {
	q, err := tariff().Quote([]domain.WorkItem{
		{ID: "i1", Kind: domain.KindEvaluation, PriceableUnits: 3},
		{ID: "i2", Kind: domain.KindEvaluation, PriceableUnits: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, q.Units)
	assert.Equal(t, int64(5000), q.Total)
	assert.Empty(t, q.Addons)
}

func TestQuoteAddonsChargedOncePerBatch(t *testing.T) {
	q, err := tariff().Quote([]domain.WorkItem{
		{ID: "i1", Kind: domain.KindTranslation, PriceableUnits: 1, Notarize: true},
		{ID: "i2", Kind: domain.KindTranslation, PriceableUnits: 1, Notarize: true, ShipPhysical: true},
		{ID: "i3", Kind: domain.KindEvaluation, PriceableUnits: 2, ShipPhysical: true},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(400+400+2000), q.UnitsAmount)
	assert.Equal(t, map[string]int64{pricing.AddonNotarization: 2500, pricing.AddonShipping: 1500}, q.Addons)
	assert.Equal(t, int64(2800+2500+1500), q.Total)
}

func TestQuoteIsDeterministic(t *testing.T) {
	items := []domain.WorkItem{
		{ID: "a", Kind: domain.KindEvaluation, PriceableUnits: 4, Notarize: true},
		{ID: "b", Kind: domain.KindTranslation, PriceableUnits: 7},
	}
	reversed := []domain.WorkItem{items[1], items[0]}
	q1, err := tariff().Quote(items)
	require.NoError(t, err)
	q2, err := tariff().Quote(reversed)
	require.NoError(t, err)
	assert.Equal(t, q1, q2)
}

func TestQuoteRejectsUnknownKind(t *testing.T) {
	_, err := tariff().Quote([]domain.WorkItem{{ID: "x", Kind: "audit", PriceableUnits: 1}})
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	tr := pricing.FromConfig(cfg)
	assert.Equal(t, cfg.Currency, tr.Currency)
	assert.Equal(t, cfg.Tariff.PerUnit.Evaluation, tr.PerUnit[domain.KindEvaluation])
	assert.Equal(t, cfg.Tariff.Addons.Shipping, tr.Shipping)
}
