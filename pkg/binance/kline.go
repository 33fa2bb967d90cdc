package binance

import (
	"encoding/json"
	"strconv"
)

// ParseKlineList converts raw REST kline rows into Klines.
// Rows are heterogeneous JSON arrays; invalid rows are skipped.
func ParseKlineList(raw [][]json.RawMessage) []Kline {
	out := make([]Kline, 0, len(raw))

	for _, row := range raw {
		if len(row) < 7 {
			continue // skip incomplete row
		}

		var openTime, closeTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			continue
		}
		if err := json.Unmarshal(row[6], &closeTime); err != nil {
			continue
		}

		var prices [5]float64
		ok := true
		for i := range prices {
			v, err := parseDecimal(row[i+1])
			if err != nil {
				ok = false
				break
			}
			prices[i] = v
		}
		if !ok {
			continue
		}

		out = append(out, Kline{
			OpenTime:  openTime,
			CloseTime: closeTime,
			Open:      prices[0],
			High:      prices[1],
			Low:       prices[2],
			Close:     prices[3],
			Volume:    prices[4],
		})
	}
	return out
}

// parseDecimal reads a quoted decimal string such as "37000.10".
func parseDecimal(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}
