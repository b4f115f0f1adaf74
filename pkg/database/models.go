package database

import (
	"time"

	"gorm.io/gorm"
)

// Transmission represents one completed YSF transmission
type Transmission struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	Gateway    string    `gorm:"index;size:10;not null" json:"gateway"`
	Source     string    `gorm:"index;size:10" json:"source"`
	TalkGroup  uint8     `gorm:"index;not null" json:"talk_group"`
	Duration   float64   `gorm:"not null" json:"duration"` // Duration in seconds
	Frames     uint32    `gorm:"default:0" json:"frames"`
	EndReason  string    `gorm:"size:16" json:"end_reason"` // terminator, timeout or reset
	StartTime  time.Time `gorm:"index;not null" json:"start_time"`
	EndTime    time.Time `gorm:"not null" json:"end_time"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName specifies the table name for Transmission
func (Transmission) TableName() string {
	return "transmissions"
}

// BeforeCreate hook to ensure timestamps are set
func (t *Transmission) BeforeCreate(tx *gorm.DB) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.StartTime.IsZero() {
		t.StartTime = time.Now()
	}
	if t.EndTime.IsZero() {
		t.EndTime = time.Now()
	}
	return nil
}

// Gateway represents a gateway that has registered with the reflector
type Gateway struct {
	Callsign  string    `gorm:"primarykey;size:10;not null" json:"callsign"`
	Address   string    `gorm:"size:48" json:"address"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `gorm:"index" json:"last_seen"`
	Sessions  uint64    `gorm:"default:0" json:"sessions"`
}

// TableName specifies the table name for Gateway
func (Gateway) TableName() string {
	return "gateways"
}
