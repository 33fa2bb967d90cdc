package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"klinewatch/internal/model"

	"gorm.io/gorm/clause"
)

// ErrDuplicate reports a record already stored for the same candle.
var ErrDuplicate = errors.New("duplicate record")

func (c *Client) InsertRecord(ctx context.Context, record *IndicatorRecord) error {
	tx := c.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "symbol"},
			{Name: "interval"},
			{Name: "event_time"},
		},
		DoNothing: true,
	}).Create(record)

	if tx.Error != nil {
		return tx.Error
	}

	if tx.RowsAffected == 0 {
		return fmt.Errorf("%w: symbol=%s interval=%s event_time=%d",
			ErrDuplicate, record.Symbol, record.Interval, record.EventTime)
	}

	return nil
}

// ListRecords returns up to limit records of key, newest first.
func (c *Client) ListRecords(ctx context.Context, key model.Key, limit int) ([]model.Record, error) {
	var rows []IndicatorRecord
	q := c.DB.WithContext(ctx).
		Where(&IndicatorRecord{Symbol: key.Symbol, Interval: string(key.Interval)}).
		Order("event_time DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]model.Record, len(rows))
	for i, r := range rows {
		out[i] = r.ToRecord()
	}
	return out, nil
}

// DeleteOlderThan removes records whose event time is before the cutoff (ms).
func (c *Client) DeleteOlderThan(ctx context.Context, cutoffMs int64) (int64, error) {
	tx := c.DB.WithContext(ctx).
		Where("event_time < ?", cutoffMs).
		Delete(&IndicatorRecord{})
	return tx.RowsAffected, tx.Error
}

// Sink adapts Client to the dispatcher's sink interface.
type Sink struct {
	client *Client
}

func NewSink(client *Client) *Sink {
	return &Sink{client: client}
}

func (s *Sink) Name() string { return "sql" }

// Write stores rec. A redelivered candle is not an error.
func (s *Sink) Write(ctx context.Context, rec model.Record) error {
	err := s.client.InsertRecord(ctx, ToIndicatorRecord(rec))
	if errors.Is(err, ErrDuplicate) {
		return nil
	}
	return err
}
