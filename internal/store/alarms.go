package store

import (
	"context"

	"github.com/dlmsbridge/bridge/internal/orchestrator"
)

// RecordAlarm implements internal/orchestrator.Store.
func (s *GORMStore) RecordAlarm(ctx context.Context, a orchestrator.Alarm) error {
	record := AlarmRecord{
		MeterID:   a.MeterID,
		Severity:  a.Severity,
		Category:  a.Category,
		Message:   a.Message,
		RawFrame:  a.RawFrame,
		Timestamp: a.Timestamp,
	}
	return s.db.WithContext(ctx).Create(&record).Error
}

// ListAlarms returns the most recent alarms for meterID, newest first,
// bounded by limit (0 means unbounded).
func (s *GORMStore) ListAlarms(ctx context.Context, meterID int64, limit int) ([]AlarmRecord, error) {
	q := s.db.WithContext(ctx).Where("meter_id = ?", meterID).Order("timestamp desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var alarms []AlarmRecord
	if err := q.Find(&alarms).Error; err != nil {
		return nil, err
	}
	return alarms, nil
}
