package market

import "time"

// Item is one entry of the upstream catalog index.
type Item struct {
	ID   string
	Slug string
	Name string
}

// ItemDetail is the full record for a single item, including set
// decomposition for set items and the per-set quantity for part items.
type ItemDetail struct {
	ID            string
	Slug          string
	Name          string
	SetParts      []string
	QuantityInSet int
}

// Order is a single order book level. Only orders from online sellers
// are returned by the top-orders endpoint, but the flag is kept so the
// resolver can filter explicitly.
type Order struct {
	Platinum float64
	Quantity int
	Online   bool
}

// OrderBook holds the top orders for one item: sell orders sorted by
// ascending price, buy orders by descending price.
type OrderBook struct {
	Sell []Order
	Buy  []Order
}

// StatEntry is one closed-trade statistics bucket.
type StatEntry struct {
	Timestamp time.Time
	Volume    int
	Median    float64
	AvgPrice  float64
	MinPrice  float64
	MaxPrice  float64
	MovingAvg float64
}

// Statistics holds the closed-trade series for one item, oldest first.
type Statistics struct {
	Hours48 []StatEntry
	Days90  []StatEntry
}

// Wire shapes. The upstream payloads carry many more fields; only the
// consumed ones are declared and unknowns are ignored.

type itemListResponse struct {
	Data []wireItem `json:"data"`
}

type itemDetailResponse struct {
	Data wireItem `json:"data"`
}

type wireItem struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	I18n struct {
		En struct {
			Name string `json:"name"`
		} `json:"en"`
	} `json:"i18n"`
	SetParts      []string `json:"setParts"`
	QuantityInSet int      `json:"quantityInSet"`
}

type ordersResponse struct {
	Data struct {
		Sell []wireOrder `json:"sell"`
		Buy  []wireOrder `json:"buy"`
	} `json:"data"`
}

type wireOrder struct {
	Platinum float64 `json:"platinum"`
	Quantity float64 `json:"quantity"`
	User     struct {
		Status string `json:"status"`
	} `json:"user"`
}

type statisticsResponse struct {
	Payload struct {
		StatisticsClosed struct {
			Hours48 []wireStatEntry `json:"48hours"`
			Days90  []wireStatEntry `json:"90days"`
		} `json:"statistics_closed"`
	} `json:"payload"`
}

type wireStatEntry struct {
	Datetime  string  `json:"datetime"`
	Volume    int     `json:"volume"`
	Median    float64 `json:"median"`
	AvgPrice  float64 `json:"avg_price"`
	MinPrice  float64 `json:"min_price"`
	MaxPrice  float64 `json:"max_price"`
	MovingAvg float64 `json:"moving_avg"`
}
