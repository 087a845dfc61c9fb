package streamtypes

// The structs below mirror the raw JSON shapes sent over the Polymarket
// WebSocket market/user channels (spec §6). They are intentionally
// string-and-json.Number typed (not FixedDecimal/time.Time) because they
// are the unmarshal target before internal/wire normalizes them — keeping
// the wire shape separate from the domain shape is what lets the decoder
// tolerate both a quoted-string and a lossless numeric literal for the
// same field.

// WireEnvelope is used to peek at the discriminator field before deciding
// which concrete struct to unmarshal into. The server uses either key.
type WireEnvelope struct {
	Type1 string `json:"event_type"`
	Type2 string `json:"type"`
}

// WireBookEvent is a full order-book snapshot ("book").
type WireBookEvent struct {
	AssetID string          `json:"asset_id"`
	Market  string          `json:"market"`
	Buys    []WirePriceSize `json:"buys"`
	Sells   []WirePriceSize `json:"sells"`
	Hash    string          `json:"hash"`
	Tick    string          `json:"tick_size,omitempty"`
}

// WirePriceSize is one (price, size) pair as the wire sends it: either a
// quoted decimal string or (when lossless) a bare JSON number.
type WirePriceSize struct {
	Price RawDecimal `json:"price"`
	Size  RawDecimal `json:"size"`
}

// WirePriceChangeEvent is an incremental update ("price_change"), carrying
// one or more level changes applied atomically.
type WirePriceChangeEvent struct {
	Market       string              `json:"market"`
	PriceChanges []WirePriceChangeOp `json:"price_changes"`
}

type WirePriceChangeOp struct {
	AssetID string     `json:"asset_id"`
	Price   RawDecimal `json:"price"`
	Size    RawDecimal `json:"size"`
	Side    string     `json:"side"`
	Hash    string     `json:"hash"`
}

// WireTradeEvent is a public trade print ("trade" on the market channel).
type WireTradeEvent struct {
	ID        string     `json:"id"`
	AssetID   string     `json:"asset_id"`
	Price     RawDecimal `json:"price"`
	Size      RawDecimal `json:"size"`
	Side      string     `json:"side"`
	Timestamp RawMillis  `json:"timestamp"`
}

// WireLastTradePriceEvent ("last_trade_price").
type WireLastTradePriceEvent struct {
	AssetID   string     `json:"asset_id"`
	Price     RawDecimal `json:"price"`
	Timestamp RawMillis  `json:"timestamp"`
}

// WireTickSizeChangeEvent ("tick_size_change").
type WireTickSizeChangeEvent struct {
	AssetID string     `json:"asset_id"`
	Tick    RawDecimal `json:"new_tick_size"`
}

// WireMyOrderEvent is a user-channel order lifecycle notification.
type WireMyOrderEvent struct {
	ID      string     `json:"id"`
	AssetID string     `json:"asset_id"`
	Side    string     `json:"side"`
	Price   RawDecimal `json:"price"`
	Size    RawDecimal `json:"original_size"`
	Status  string     `json:"type"`
}

// WireMyTradeEvent is a user-channel fill notification.
type WireMyTradeEvent struct {
	ID      string     `json:"id"`
	AssetID string     `json:"asset_id"`
	Side    string     `json:"side"`
	Price   RawDecimal `json:"price"`
	Size    RawDecimal `json:"size"`
}

// WireSubscribeMsg is the client->server subscription frame (spec §6).
type WireSubscribeMsg struct {
	Type     string    `json:"type"` // "MARKET" or "USER"
	AssetIDs []string  `json:"assets_ids,omitempty"`
	Markets  []string  `json:"markets,omitempty"`
	Auth     *WireAuth `json:"auth,omitempty"`
}

// WireAuth carries the user-channel HMAC auth payload.
type WireAuth struct {
	ApiKey     string `json:"apiKey"`
	Passphrase string `json:"passphrase"`
	Signature  string `json:"signature"`
	Timestamp  string `json:"timestamp"`
}
