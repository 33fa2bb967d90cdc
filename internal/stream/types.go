package stream

// KlineMessage is a Binance kline stream event. Only the fields the pipeline
// reads are declared; pointers tell an absent field apart from a zero value.
type KlineMessage struct {
	EventType string        `json:"e"` // "kline"
	EventTime int64         `json:"E"` // event emission time (ms)
	Symbol    string        `json:"s"` // e.g. "BTCUSDT"
	Kline     *KlinePayload `json:"k"`
}

// KlinePayload is the "k" sub-object of a kline event.
//
// encoding/json falls back to case-insensitive key matching, so every key
// whose other-case twin is read here must be declared too: "L" would
// otherwise decode into Low.
type KlinePayload struct {
	StartTime    *int64  `json:"t"` // kline open time (ms)
	CloseTime    *int64  `json:"T"` // kline close time (ms), used as the event time
	Interval     string  `json:"i"`
	FirstTradeID *int64  `json:"f"`
	LastTradeID  *int64  `json:"L"`
	Open         *string `json:"o"`
	High         *string `json:"h"`
	Low          *string `json:"l"`
	Close        *string `json:"c"`
	Closed       *bool   `json:"x"` // true once the interval has elapsed
}
