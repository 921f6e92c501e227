package hyperliquid

// API payload mirrors for the Hyperliquid info and exchange endpoints.
// Numeric fields arrive as strings to avoid precision loss and are parsed
// into decimals at the normalization boundary in client.go.

// marginSummary consolidates the margin metrics of one account.
type marginSummary struct {
	AccountValue    string `json:"accountValue"`
	TotalMarginUsed string `json:"totalMarginUsed"`
	TotalNtlPos     string `json:"totalNtlPos"`
	TotalRawUSD     string `json:"totalRawUsd"`
}

// apiLeverage describes the leverage configured for one position.
type apiLeverage struct {
	Type  string `json:"type"` // "cross" or "isolated"
	Value int    `json:"value"`
}

// apiPosition is one open perpetual position inside a user state response.
type apiPosition struct {
	Coin           string      `json:"coin"`
	Szi            string      `json:"szi"` // signed size, negative = short
	EntryPx        string      `json:"entryPx"`
	PositionValue  string      `json:"positionValue"`
	UnrealizedPnl  string      `json:"unrealizedPnl"`
	ReturnOnEquity string      `json:"returnOnEquity"`
	MarginUsed     string      `json:"marginUsed"`
	Leverage       apiLeverage `json:"leverage"`
	LiquidationPx  string      `json:"liquidationPx,omitempty"`
}

// assetPosition wraps a position with its margining mode.
type assetPosition struct {
	Type     string      `json:"type"`
	Position apiPosition `json:"position"`
}

// userState is the response to an info request of type "clearinghouseState".
type userState struct {
	MarginSummary      marginSummary   `json:"marginSummary"`
	CrossMarginSummary marginSummary   `json:"crossMarginSummary"`
	Withdrawable       string          `json:"withdrawable"`
	AssetPositions     []assetPosition `json:"assetPositions"`
}

// apiMarket is one perpetual market in the meta universe.
type apiMarket struct {
	Name        string `json:"name"`
	SzDecimals  int    `json:"szDecimals"`
	MaxLeverage int    `json:"maxLeverage"`
}

// metaResponse is the response to an info request of type "meta".
type metaResponse struct {
	Universe []apiMarket `json:"universe"`
}

// apiFill is one entry of a "userFillsByTime" info response.
type apiFill struct {
	Coin      string `json:"coin"`
	Px        string `json:"px"`
	Sz        string `json:"sz"`
	Side      string `json:"side"`
	Time      int64  `json:"time"` // unix milliseconds
	ClosedPnl string `json:"closedPnl"`
	Fee       string `json:"fee"`
	Oid       int64  `json:"oid"`
	Crossed   bool   `json:"crossed"`
}

// apiSubAccount is one entry of a "subAccounts" info response.
type apiSubAccount struct {
	Name               string    `json:"name"`
	SubAccountUser     string    `json:"subAccountUser"`
	Master             string    `json:"master"`
	ClearinghouseState userState `json:"clearinghouseState"`
}

// wireOrder is one order inside an exchange "order" action. Field names
// follow the exchange wire format: a = asset index, b = is buy, p = price,
// s = size, r = reduce only, t = order type.
type wireOrder struct {
	Asset      int           `json:"a"`
	IsBuy      bool          `json:"b"`
	Price      string        `json:"p"`
	Size       string        `json:"s"`
	ReduceOnly bool          `json:"r"`
	Type       wireOrderType `json:"t"`
}

type wireOrderType struct {
	Limit *wireLimit `json:"limit,omitempty"`
}

type wireLimit struct {
	TIF string `json:"tif"` // "Alo", "Ioc", "Gtc"
}

// exchangeAction is the action envelope of an exchange endpoint request.
// Exactly the fields for the requested type are populated.
type exchangeAction struct {
	Type     string      `json:"type"`
	Orders   []wireOrder `json:"orders,omitempty"`
	Grouping string      `json:"grouping,omitempty"`

	// updateLeverage
	Asset    *int  `json:"asset,omitempty"`
	IsCross  *bool `json:"isCross,omitempty"`
	Leverage *int  `json:"leverage,omitempty"`

	// createSubAccount
	Name string `json:"name,omitempty"`

	// subAccountTransfer
	SubAccountUser string `json:"subAccountUser,omitempty"`
	IsDeposit      *bool  `json:"isDeposit,omitempty"`
	USD            string `json:"usd,omitempty"`
}

// exchangeRequest is the signed envelope posted to the exchange endpoint.
type exchangeRequest struct {
	Action       exchangeAction `json:"action"`
	Nonce        int64          `json:"nonce"`
	Signature    wireSignature  `json:"signature"`
	VaultAddress string         `json:"vaultAddress,omitempty"`
}

type wireSignature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

// restingOrder is an order resting on the book after placement.
type restingOrder struct {
	Oid int64 `json:"oid"`
}

// filledOrder is an immediately matched order.
type filledOrder struct {
	TotalSz string `json:"totalSz"`
	AvgPx   string `json:"avgPx"`
	Oid     int64  `json:"oid"`
}

// orderStatus is the per-order status nested inside an order response. The
// outer response can report "ok" while individual statuses carry errors, so
// every status must be checked.
type orderStatus struct {
	Resting *restingOrder `json:"resting,omitempty"`
	Filled  *filledOrder  `json:"filled,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// exchangeResponse is the outer response of the exchange endpoint.
type exchangeResponse struct {
	Status   string `json:"status"` // "ok" or "err"
	Response struct {
		Type string `json:"type"`
		Data struct {
			Statuses []orderStatus `json:"statuses"`
		} `json:"data"`
	} `json:"response"`
}

// infoRequest is the generic request body of the info endpoint.
type infoRequest struct {
	Type      string `json:"type"`
	User      string `json:"user,omitempty"`
	StartTime int64  `json:"startTime,omitempty"`
}

// wsSubscription subscribes to a websocket channel.
type wsSubscription struct {
	Method       string `json:"method"`
	Subscription struct {
		Type string `json:"type"`
	} `json:"subscription"`
}

// wsMessage is one inbound websocket frame. Data is decoded per channel.
type wsMessage struct {
	Channel string `json:"channel"`
	Data    struct {
		Mids map[string]string `json:"mids"`
	} `json:"data"`
}
