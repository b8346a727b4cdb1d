package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prime-flipper/internal/catalog"
	"prime-flipper/internal/market"
)

var demoSet = catalog.Set{
	Slug: "demo_set",
	Name: "Demo Set",
	Parts: []catalog.Part{
		{Slug: "demo_a", Name: "Demo A", Quantity: 1},
		{Slug: "demo_b", Name: "Demo B", Quantity: 2},
	},
}

func demoBooks() (*market.OrderBook, map[string]*market.OrderBook) {
	setBook := book(
		[]market.Order{{Platinum: 150, Quantity: 1, Online: true}},
		[]market.Order{{Platinum: 150, Quantity: 1, Online: true}},
	)
	partBooks := map[string]*market.OrderBook{
		"demo_a": book(
			[]market.Order{{Platinum: 30, Quantity: 1, Online: true}},
			[]market.Order{{Platinum: 30, Quantity: 1, Online: true}},
		),
		"demo_b": book(
			[]market.Order{{Platinum: 20, Quantity: 1, Online: true}},
			[]market.Order{{Platinum: 20, Quantity: 1, Online: true}},
		),
	}
	return setBook, partBooks
}

func TestComputeProfitInstant(t *testing.T) {
	setBook, partBooks := demoBooks()

	var d SetDatum
	computeProfit(&d, demoSet, setBook, partBooks, ModeInstant)

	assert.Equal(t, 150.0, d.SetPrice)
	assert.Equal(t, 70.0, d.PartCost, "30 + 2*20")
	assert.Equal(t, 80.0, d.ProfitMargin)
	assert.InDelta(t, 114.3, d.ProfitPercentage, 0.05)

	require.Len(t, d.Parts, 2)
	assert.Equal(t, 30.0, d.Parts[0].UnitPrice)
	assert.Equal(t, 40.0, d.Parts[1].TotalCost)
}

func TestComputeProfitPatientVariant(t *testing.T) {
	setBook, partBooks := demoBooks()

	var d SetDatum
	computeProfit(&d, demoSet, setBook, partBooks, ModePatient)

	// Undercut the 150 ask, outbid the 30 and 20 bids.
	assert.Equal(t, 149.0, d.SetPrice)
	assert.Equal(t, 73.0, d.PartCost, "31 + 2*21")
	assert.Equal(t, 76.0, d.ProfitMargin)

	// Both variants are captured regardless of the primary mode.
	assert.Equal(t, 80.0, d.InstantProfitMargin)
	assert.Equal(t, 76.0, d.PatientProfitMargin)
}

func TestComputeProfitMissingPartPrice(t *testing.T) {
	setBook, partBooks := demoBooks()
	delete(partBooks, "demo_b")

	var d SetDatum
	computeProfit(&d, demoSet, setBook, partBooks, ModeInstant)

	assert.Zero(t, d.ProfitMargin, "missing part price yields no margin")
	assert.Zero(t, d.ProfitPercentage)
	assert.Len(t, d.Parts, 2, "set stays in output with its full part list")
}

func TestApplyModeSwitchesVariants(t *testing.T) {
	setBook, partBooks := demoBooks()

	var d SetDatum
	d.Volume = 100
	computeProfit(&d, demoSet, setBook, partBooks, ModeInstant)
	require.Equal(t, 80.0, d.ProfitMargin)

	d.applyMode(ModePatient)
	assert.Equal(t, ModePatient, d.ExecutionMode)
	assert.Equal(t, 76.0, d.ProfitMargin)
	assert.Equal(t, 149.0, d.SetPrice)
}

func TestEtaAndProfitPerDay(t *testing.T) {
	assert.Equal(t, 0.5, etaHours(100), "floor at half an hour")
	assert.Equal(t, 4.8, etaHours(10))
	assert.Equal(t, float64(etaVolumeless), etaHours(0))

	var d SetDatum
	d.Volume = 10
	d.InstantProfitMargin = 50
	d.applyMode(ModeInstant)
	assert.InDelta(t, 250.0, d.ProfitPerDay, 1e-9, "50 * 24 / 4.8")

	d.Volume = 0
	d.applyMode(ModeInstant)
	assert.Zero(t, d.ProfitPerDay)
}
