package eventlog

import "time"

// FireEvent is one persisted alert, stored in the fire_events table.
type FireEvent struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp   time.Time `gorm:"not null;index" json:"timestamp"`
	Confidence  float64   `gorm:"not null" json:"confidence"`
	ChaosScore  float64   `gorm:"not null" json:"chaos_score"`
	Severity    string    `gorm:"type:varchar(6);not null;index" json:"severity"`
	Zone        string    `gorm:"size:50;not null" json:"zone"`
	ImagePath   string    `gorm:"size:255;not null" json:"image_path"`
	AlertSent   bool      `gorm:"not null" json:"alert_sent"`
	Latitude    *float64  `json:"latitude"`
	Longitude   *float64  `json:"longitude"`
	LocationURL *string   `gorm:"size:255" json:"location_url"`
}

// TableName keeps the table name stable across gorm naming strategies.
func (FireEvent) TableName() string {
	return "fire_events"
}

// Entry is the input to Record.
type Entry struct {
	Confidence  float64
	Chaos       float64
	Severity    string // normalized to LOW, MEDIUM or HIGH
	Zone        string
	EvidenceRef string
	AlertSent   bool
	Latitude    *float64
	Longitude   *float64
	LocationURL string
}

// Stats summarizes the event log for the analytics view.
type Stats struct {
	TotalEvents    int64            `json:"total_events"`
	SeverityCounts map[string]int64 `json:"severity_counts"`
	AvgConfidence  float64          `json:"avg_confidence"`
}
