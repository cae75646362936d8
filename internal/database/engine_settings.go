package database

import "time"

// EngineSettings controls trigger engine behavior (singleton row)
type EngineSettings struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	Enabled            bool      `gorm:"default:true" json:"enabled"`
	DefaultIngestLimit int       `gorm:"default:500" json:"default_ingest_limit"`
	AlertRecencyDays   int       `gorm:"default:365" json:"alert_recency_days"`
	DeliveryEnabled    bool      `gorm:"default:true" json:"delivery_enabled"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (EngineSettings) TableName() string {
	return "engine_settings"
}

// NewDefaultEngineSettings returns settings with default values
func NewDefaultEngineSettings() *EngineSettings {
	return &EngineSettings{
		Enabled:            true,
		DefaultIngestLimit: 500,
		AlertRecencyDays:   365,
		DeliveryEnabled:    true,
	}
}
