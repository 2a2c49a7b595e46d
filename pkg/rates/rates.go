// Package rates holds the priced shipping service type shared by the
// carrier integrations and the logic that picks between them.
package rates

import (
	"fmt"
	"sort"
	"time"
)

// PreferenceWindow is how much more we are willing to pay for a service
// that arrives earlier than the cheapest one.
const PreferenceWindow = 0.35

// GroundSaverMinSaving is the least Ground Saver must save before it is
// worth the extra transit day.
const GroundSaverMinSaving = 0.30

// Rate is a priced shipping service.
type Rate struct {
	CarrierCode  string
	ServiceCode  string
	Price        float64
	DeliveryDate time.Time
}

func (r *Rate) String() string {
	return fmt.Sprintf("%v | %v | $%.2f", r.CarrierCode, r.ServiceCode, r.Price)
}

// Best picks the winning option from one carrier's priced services.
// The cheapest option wins unless a slightly dearer one arrives earlier.
func Best(options []Rate) *Rate {

	if len(options) == 0 {
		return nil
	}

	sorted := make([]Rate, len(options))
	copy(sorted, options)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Price < sorted[j].Price })

	cheapest := sorted[0]

	var better []Rate
	for _, o := range sorted[1:] {
		d := o.Price - cheapest.Price
		if d > 0 && d < PreferenceWindow && o.DeliveryDate.Before(cheapest.DeliveryDate) {
			better = append(better, o)
		}
	}

	if len(better) == 0 {
		return &cheapest
	}

	best := better[0]
	for _, o := range better[1:] {
		if o.DeliveryDate.Before(best.DeliveryDate) {
			best = o
		}
	}
	return &best
}

// RoundCents rounds a price to whole cents.
func RoundCents(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// Champion compares the winning rates of all carriers and returns the
// cheapest. Nil entries are carriers that did not qualify.
func Champion(candidates ...*Rate) *Rate {

	var champ *Rate
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if champ == nil || c.Price < champ.Price {
			champ = c
		}
	}
	return champ
}
