package engine

import (
	"prime-flipper/internal/catalog"
	"prime-flipper/internal/market"
)

// etaVolumeless is the sentinel ETA for sets with no trade volume.
const etaVolumeless = 999999

// computeProfit fills the price, cost, and margin fields of d from the
// set's order book and the order books of its parts. Both execution-mode
// variants are computed; primary fields follow mode. A missing price on
// either side zeroes the affected variant's margin.
func computeProfit(d *SetDatum, set catalog.Set, setBook *market.OrderBook, partBooks map[string]*market.OrderBook, mode ExecutionMode) {
	d.Parts = make([]PartDetail, 0, len(set.Parts))

	instantSet, instantSetOK := ResolveSetPrice(setBook, ModeInstant)
	patientSet, patientSetOK := ResolveSetPrice(setBook, ModePatient)

	var instantCost, patientCost float64
	instantCostOK, patientCostOK := true, true
	for _, p := range set.Parts {
		book := partBooks[p.Slug]
		iPrice, iOK := ResolvePartPrice(book, ModeInstant)
		pPrice, pOK := ResolvePartPrice(book, ModePatient)
		if iOK {
			instantCost += iPrice * float64(p.Quantity)
		} else {
			instantCostOK = false
		}
		if pOK {
			patientCost += pPrice * float64(p.Quantity)
		} else {
			patientCostOK = false
		}

		// The breakdown reports the primary-mode unit price.
		unit := iPrice
		if mode == ModePatient {
			unit = pPrice
		}
		d.Parts = append(d.Parts, PartDetail{
			Slug:      p.Slug,
			Name:      p.Name,
			Quantity:  p.Quantity,
			UnitPrice: unit,
			TotalCost: unit * float64(p.Quantity),
		})
	}

	if instantSetOK && instantCostOK && len(set.Parts) > 0 {
		d.InstantSetPrice = instantSet
		d.InstantPartCost = instantCost
		d.InstantProfitMargin = instantSet - instantCost
		d.InstantProfitPercentage = profitPercentage(d.InstantProfitMargin, instantCost)
	}
	if patientSetOK && patientCostOK && len(set.Parts) > 0 {
		d.PatientSetPrice = patientSet
		d.PatientPartCost = patientCost
		d.PatientProfitMargin = patientSet - patientCost
		d.PatientProfitPercentage = profitPercentage(d.PatientProfitMargin, patientCost)
	}

	d.applyMode(mode)
}

// applyMode copies the selected variant into the primary fields.
func (d *SetDatum) applyMode(mode ExecutionMode) {
	d.ExecutionMode = mode
	if mode == ModePatient {
		d.SetPrice = d.PatientSetPrice
		d.PartCost = d.PatientPartCost
		d.ProfitMargin = d.PatientProfitMargin
		d.ProfitPercentage = d.PatientProfitPercentage
	} else {
		d.SetPrice = d.InstantSetPrice
		d.PartCost = d.InstantPartCost
		d.ProfitMargin = d.InstantProfitMargin
		d.ProfitPercentage = d.InstantProfitPercentage
	}

	// Refresh part breakdown unit prices only when the variant data is
	// present; rescoring keeps the captured breakdown otherwise.
	d.ETAHours = etaHours(d.Volume)
	if d.ETAHours > 0 && d.ETAHours < etaVolumeless {
		d.ProfitPerDay = d.ProfitMargin * 24 / d.ETAHours
	} else {
		d.ProfitPerDay = 0
	}
}

func profitPercentage(margin, cost float64) float64 {
	if cost <= 0 {
		return 0
	}
	return margin / cost * 100
}

// etaHours estimates hours to move one unit given 48h volume.
func etaHours(volume int) float64 {
	if volume <= 0 {
		return etaVolumeless
	}
	eta := 48.0 / float64(volume)
	if eta < 0.5 {
		return 0.5
	}
	return eta
}
