// Package pricing computes the amount expected for a payment batch. All
// amounts are integer minor units of a single currency.
package pricing

import (
	"fmt"

	"transcriptdesk/internal/config"
	"transcriptdesk/internal/domain"
)

// Add-on names used in Quote.Addons.
const (
	AddonNotarization = "notarization"
	AddonShipping     = "shipping"
)

type Tariff struct {
	Currency     string
	PerUnit      map[domain.Kind]int64
	Notarization int64
	Shipping     int64
}

func FromConfig(cfg *config.Config) Tariff {
	return Tariff{
		Currency: cfg.Currency,
		PerUnit: map[domain.Kind]int64{
			domain.KindEvaluation:  cfg.Tariff.PerUnit.Evaluation,
			domain.KindTranslation: cfg.Tariff.PerUnit.Translation,
		},
		Notarization: cfg.Tariff.Addons.Notarization,
		Shipping:     cfg.Tariff.Addons.Shipping,
	}
}

type Quote struct {
	Currency    string           `json:"currency"`
	Units       int              `json:"units"`
	UnitsAmount int64            `json:"units_amount"`
	Addons      map[string]int64 `json:"addons,omitempty"`
	Total       int64            `json:"total"`
}

// Quote prices a batch. Units are charged per item at the item kind's rate;
// each flat add-on is charged once if any member asks for it.
func (t Tariff) Quote(items []domain.WorkItem) (Quote, error) {
	q := Quote{Currency: t.Currency}
	var notarize, ship bool
	for _, it := range items {
		rate, ok := t.PerUnit[it.Kind]
		if !ok {
			return Quote{}, fmt.Errorf("no tariff for kind %q", it.Kind)
		}
		if it.PriceableUnits < 0 {
			return Quote{}, fmt.Errorf("item %s has negative units", it.ID)
		}
		q.Units += it.PriceableUnits
		q.UnitsAmount += int64(it.PriceableUnits) * rate
		notarize = notarize || it.Notarize
		ship = ship || it.ShipPhysical
	}
	q.Total = q.UnitsAmount
	if notarize && t.Notarization > 0 {
		q.addon(AddonNotarization, t.Notarization)
	}
	if ship && t.Shipping > 0 {
		q.addon(AddonShipping, t.Shipping)
	}
	return q, nil
}

func (q *Quote) addon(name string, amount int64) {
	if q.Addons == nil {
		q.Addons = map[string]int64{}
	}
	q.Addons[name] = amount
	q.Total += amount
}
