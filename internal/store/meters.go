package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/dlmsbridge/bridge/internal/obis"
	"github.com/dlmsbridge/bridge/internal/worker"
)

// ErrMeterNotFound is returned when a lookup by ID finds nothing.
var ErrMeterNotFound = errors.New("store: meter not found")

// CreateMeter persists a new meter and its measurement map.
func (s *GORMStore) CreateMeter(ctx context.Context, m MeterRecord) (int64, error) {
	if m.Status == "" {
		m.Status = StatusInactive
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return 0, fmt.Errorf("store: create meter: %w", err)
	}
	return m.ID, nil
}

// GetMeter returns the meter record with the given ID, including its
// measurement map.
func (s *GORMStore) GetMeter(ctx context.Context, id int64) (*MeterRecord, error) {
	var m MeterRecord
	if err := s.db.WithContext(ctx).Preload("Measurements").First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMeterNotFound
		}
		return nil, err
	}
	return &m, nil
}

// ListMeters returns every meter record, regardless of status.
func (s *GORMStore) ListMeters(ctx context.Context) ([]MeterRecord, error) {
	var meters []MeterRecord
	if err := s.db.WithContext(ctx).Preload("Measurements").Find(&meters).Error; err != nil {
		return nil, err
	}
	return meters, nil
}

// DeleteMeter removes a meter and its measurement map.
func (s *GORMStore) DeleteMeter(ctx context.Context, id int64) error {
	if err := s.db.WithContext(ctx).Where("meter_id = ?", id).Delete(&MeasurementRecord{}).Error; err != nil {
		return err
	}
	return s.db.WithContext(ctx).Delete(&MeterRecord{}, id).Error
}

// ListActiveMeters implements internal/orchestrator.Store: it returns every
// meter whose status is "active", translated into worker.Meter.
func (s *GORMStore) ListActiveMeters(ctx context.Context) ([]worker.Meter, error) {
	var records []MeterRecord
	if err := s.db.WithContext(ctx).Preload("Measurements").Where("status = ?", StatusActive).Find(&records).Error; err != nil {
		return nil, err
	}

	meters := make([]worker.Meter, 0, len(records))
	for _, r := range records {
		measurements := make([]worker.Measurement, 0, len(r.Measurements))
		for _, mm := range r.Measurements {
			code, err := obis.Parse(mm.OBIS)
			if err != nil {
				continue
			}
			measurements = append(measurements, worker.Measurement{Key: mm.Key, OBIS: code})
		}
		meters = append(meters, worker.Meter{
			ID:             r.ID,
			Name:           r.Name,
			Host:           r.Host,
			Port:           r.Port,
			ClientSAP:      r.ClientSAP,
			ServerLogical:  r.ServerLogical,
			ServerPhysical: r.ServerPhysical,
			Password:       []byte(r.Password),
			DeviceToken:    r.DeviceToken,
			Measurements:   measurements,
			Interval:       time.Duration(r.IntervalSecs) * time.Second,
		})
	}
	return meters, nil
}

// SetMeterStatus implements internal/orchestrator.Store.
func (s *GORMStore) SetMeterStatus(ctx context.Context, meterID int64, status string) error {
	return s.db.WithContext(ctx).Model(&MeterRecord{}).Where("id = ?", meterID).
		Update("status", status).Error
}

// Heartbeat implements internal/orchestrator.Store.
func (s *GORMStore) Heartbeat(ctx context.Context, meterID int64, at time.Time) error {
	return s.db.WithContext(ctx).Model(&MeterRecord{}).Where("id = ?", meterID).
		Update("last_heartbeat", at).Error
}
