package store

import (
	"context"

	"github.com/dlmsbridge/bridge/internal/worker"
)

// RecordMetric persists one per-cycle performance snapshot for meterID,
// matching internal/worker.MetricsSink (spec.md §6 "per-cycle metrics
// (avg read time, success rate, messages sent)").
func (s *GORMStore) RecordMetric(ctx context.Context, meterID int64, m worker.Metric) error {
	record := MetricRecord{
		MeterID:      meterID,
		Timestamp:    m.Timestamp,
		AvgReadTime:  m.AvgReadTime.Seconds(),
		SuccessRate:  m.SuccessRate,
		MessagesSent: m.MessagesSent,
		CacheHitRate: m.CacheHitRate,
	}
	return s.db.WithContext(ctx).Create(&record).Error
}

// ListMetrics returns the most recent per-cycle metric snapshots for
// meterID, newest first, bounded by limit (0 means unbounded).
func (s *GORMStore) ListMetrics(ctx context.Context, meterID int64, limit int) ([]MetricRecord, error) {
	q := s.db.WithContext(ctx).Where("meter_id = ?", meterID).Order("timestamp desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var metrics []MetricRecord
	if err := q.Find(&metrics).Error; err != nil {
		return nil, err
	}
	return metrics, nil
}
