package sqlstore

import (
	"time"

	"klinewatch/internal/model"
)

// IndicatorRecord is one closed candle with its indicators.
type IndicatorRecord struct {
	ID uint `gorm:"primaryKey"`

	// unique index
	Symbol    string `gorm:"type:varchar(32);not null;index:idx_record_symbol_interval_time,unique"`
	Interval  string `gorm:"type:varchar(10);not null;index:idx_record_symbol_interval_time,unique"`
	EventTime int64  `gorm:"not null;index:idx_record_symbol_interval_time,unique"`

	Open  float64 `gorm:"type:numeric;not null"`
	High  float64 `gorm:"type:numeric;not null"`
	Low   float64 `gorm:"type:numeric;not null"`
	Close float64 `gorm:"type:numeric;not null"`

	RSI           float64 `gorm:"column:rsi;not null"`
	MedianClose   float64 `gorm:"not null"`
	MovingAverage float64 `gorm:"not null"`

	RecordedAt time.Time `gorm:"autoCreateTime"`
}

// TableName overrides the default table name for GORM.
func (IndicatorRecord) TableName() string {
	return "kline_indicator_record"
}

// ToIndicatorRecord converts a pipeline record into a row.
func ToIndicatorRecord(r model.Record) *IndicatorRecord {
	return &IndicatorRecord{
		Symbol:        r.Symbol,
		Interval:      string(r.Interval),
		EventTime:     r.EventTime,
		Open:          r.Open,
		High:          r.High,
		Low:           r.Low,
		Close:         r.Close,
		RSI:           r.RSI,
		MedianClose:   r.MedianClose,
		MovingAverage: r.MovingAverage,
	}
}

// ToRecord converts a row back into a pipeline record.
func (r IndicatorRecord) ToRecord() model.Record {
	return model.Record{
		Symbol:        r.Symbol,
		Interval:      model.Interval(r.Interval),
		EventTime:     r.EventTime,
		Open:          r.Open,
		High:          r.High,
		Low:           r.Low,
		Close:         r.Close,
		RSI:           r.RSI,
		MedianClose:   r.MedianClose,
		MovingAverage: r.MovingAverage,
	}
}
