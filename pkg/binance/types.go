package binance

import "fmt"

// APIError is the error body returned by the Binance REST API.
type APIError struct {
	Code int    `json:"code"` // negative Binance error code, e.g. -1121 invalid symbol
	Msg  string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance error %d: %s", e.Code, e.Msg)
}

// Kline is one row of the REST klines endpoint.
type Kline struct {
	OpenTime  int64
	CloseTime int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// OrderResponse is the subset of the order endpoint response we log.
type OrderResponse struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	TransactTime  int64  `json:"transactTime"`
}
