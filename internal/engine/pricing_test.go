package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prime-flipper/internal/market"
)

func book(sells, buys []market.Order) *market.OrderBook {
	return &market.OrderBook{Sell: sells, Buy: buys}
}

func TestResolveSetPriceInstantUsesTopBid(t *testing.T) {
	b := book(
		[]market.Order{{Platinum: 160, Quantity: 1, Online: true}},
		[]market.Order{{Platinum: 150, Quantity: 1, Online: true}, {Platinum: 140, Quantity: 2, Online: true}},
	)
	price, ok := ResolveSetPrice(b, ModeInstant)
	require.True(t, ok)
	assert.Equal(t, 150.0, price)
}

func TestResolveSetPricePatientUndercutsBestAsk(t *testing.T) {
	b := book(
		[]market.Order{{Platinum: 150, Quantity: 1, Online: true}},
		[]market.Order{{Platinum: 120, Quantity: 1, Online: true}},
	)
	price, ok := ResolveSetPrice(b, ModePatient)
	require.True(t, ok)
	assert.Equal(t, 149.0, price)
}

func TestResolveSetPricePatientFloorsAtOne(t *testing.T) {
	b := book([]market.Order{{Platinum: 1, Quantity: 1, Online: true}}, nil)
	price, ok := ResolveSetPrice(b, ModePatient)
	require.True(t, ok)
	assert.Equal(t, 1.0, price)
}

func TestResolvePriceSkipsOfflineOrders(t *testing.T) {
	b := book(
		[]market.Order{
			{Platinum: 100, Quantity: 1, Online: false},
			{Platinum: 130, Quantity: 1, Online: true},
		},
		[]market.Order{
			{Platinum: 90, Quantity: 1, Online: false},
			{Platinum: 80, Quantity: 1, Online: true},
		},
	)
	ask, ok := ResolveSetPrice(b, ModePatient)
	require.True(t, ok)
	assert.Equal(t, 129.0, ask, "offline low ask must be ignored")

	bid, ok := ResolveSetPrice(b, ModeInstant)
	require.True(t, ok)
	assert.Equal(t, 80.0, bid, "offline high bid must be ignored")
}

func TestResolvePartPriceBothModes(t *testing.T) {
	b := book(
		[]market.Order{{Platinum: 30, Quantity: 1, Online: true}},
		[]market.Order{{Platinum: 25, Quantity: 1, Online: true}},
	)
	instant, ok := ResolvePartPrice(b, ModeInstant)
	require.True(t, ok)
	assert.Equal(t, 30.0, instant)

	patient, ok := ResolvePartPrice(b, ModePatient)
	require.True(t, ok)
	assert.Equal(t, 26.0, patient)
}

func TestResolvePriceEmptyOrNilBook(t *testing.T) {
	_, ok := ResolveSetPrice(nil, ModeInstant)
	assert.False(t, ok)

	_, ok = ResolvePartPrice(book(nil, nil), ModePatient)
	assert.False(t, ok)

	_, ok = ResolveSetPrice(book([]market.Order{{Platinum: 10, Online: false}}, nil), ModePatient)
	assert.False(t, ok, "all-offline book resolves no price")
}
