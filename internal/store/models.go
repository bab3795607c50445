// Package store is the control-plane catalogue: the meters, their OBIS
// measurement maps, and the alarm log, persisted via GORM against either
// SQLite (single node) or PostgreSQL (spec.md §6).
package store

import "time"

// MeterRecord is the persisted configuration for one meter.
type MeterRecord struct {
	ID            int64  `gorm:"primaryKey" json:"id"`
	Name          string `gorm:"not null;size:255" json:"name"`
	Host          string `gorm:"not null;size:255" json:"host"`
	Port          int    `gorm:"not null" json:"port"`
	ClientSAP     int    `gorm:"not null;default:1" json:"client_sap"`
	ServerLogical int    `gorm:"not null;default:1" json:"server_logical"`
	ServerPhysical int   `gorm:"not null;default:17" json:"server_physical"`
	Password      string `gorm:"size:255" json:"-"`
	DeviceToken   string `gorm:"size:255" json:"-"`
	IntervalSecs  int    `gorm:"not null;default:900" json:"interval_seconds"`
	Status        string `gorm:"not null;default:inactive;size:50" json:"status"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`

	Measurements []MeasurementRecord `gorm:"foreignKey:MeterID" json:"measurements,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for MeterRecord.
func (MeterRecord) TableName() string { return "meters" }

// MeasurementRecord maps a telemetry key to an OBIS code for one meter.
type MeasurementRecord struct {
	ID      int64  `gorm:"primaryKey" json:"id"`
	MeterID int64  `gorm:"not null;index" json:"meter_id"`
	Key     string `gorm:"not null;size:100" json:"key"`
	OBIS    string `gorm:"not null;size:40" json:"obis"`
}

// TableName returns the table name for MeasurementRecord.
func (MeasurementRecord) TableName() string { return "measurements" }

// AlarmRecord is one diagnostic event raised by a worker or the orchestrator.
type AlarmRecord struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	MeterID   int64     `gorm:"not null;index" json:"meter_id"`
	Severity  string    `gorm:"not null;size:20" json:"severity"`
	Category  string    `gorm:"not null;size:50" json:"category"`
	Message   string    `gorm:"type:text" json:"message"`
	RawFrame  []byte    `gorm:"type:blob" json:"raw_frame,omitempty"`
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`
}

// TableName returns the table name for AlarmRecord.
func (AlarmRecord) TableName() string { return "alarms" }

// MetricRecord is one per-cycle performance snapshot for a meter, written
// periodically by its worker (spec.md §6 "per-cycle metrics (avg read time,
// success rate, messages sent)").
type MetricRecord struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	MeterID      int64     `gorm:"not null;index" json:"meter_id"`
	Timestamp    time.Time `gorm:"not null;index" json:"timestamp"`
	AvgReadTime  float64   `json:"avg_read_time_seconds"`
	SuccessRate  float64   `json:"success_rate"`
	MessagesSent uint64    `json:"messages_sent"`
	CacheHitRate float64   `json:"cache_hit_rate"`
}

// TableName returns the table name for MetricRecord.
func (MetricRecord) TableName() string { return "meter_metrics" }

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusError    = "error"
)
