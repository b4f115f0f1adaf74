package database

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TransmissionRepository handles transmission database operations
type TransmissionRepository struct {
	db *gorm.DB
}

// NewTransmissionRepository creates a new transmission repository
func NewTransmissionRepository(db *gorm.DB) *TransmissionRepository {
	return &TransmissionRepository{db: db}
}

// Create adds a new transmission record
func (r *TransmissionRepository) Create(tx *Transmission) error {
	return r.db.Create(tx).Error
}

// GetRecent retrieves the most recent N transmissions
func (r *TransmissionRepository) GetRecent(limit int) ([]Transmission, error) {
	var transmissions []Transmission
	err := r.db.Order("start_time DESC").Limit(limit).Find(&transmissions).Error
	return transmissions, err
}

// GetRecentPaginated retrieves transmissions with pagination
func (r *TransmissionRepository) GetRecentPaginated(page, perPage int) ([]Transmission, int64, error) {
	var transmissions []Transmission
	var total int64

	if err := r.db.Model(&Transmission{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	err := r.db.Order("start_time DESC").
		Offset(offset).
		Limit(perPage).
		Find(&transmissions).Error

	return transmissions, total, err
}

// GetByGateway retrieves transmissions originated by a gateway
func (r *TransmissionRepository) GetByGateway(callsign string, limit int) ([]Transmission, error) {
	var transmissions []Transmission
	err := r.db.Where("gateway = ?", callsign).
		Order("start_time DESC").
		Limit(limit).
		Find(&transmissions).Error
	return transmissions, err
}

// GetByTalkGroup retrieves transmissions on a DG-ID
func (r *TransmissionRepository) GetByTalkGroup(tg uint8, limit int) ([]Transmission, error) {
	var transmissions []Transmission
	err := r.db.Where("talk_group = ?", tg).
		Order("start_time DESC").
		Limit(limit).
		Find(&transmissions).Error
	return transmissions, err
}

// GetByTimeRange retrieves transmissions within a time range
func (r *TransmissionRepository) GetByTimeRange(start, end time.Time, limit int) ([]Transmission, error) {
	var transmissions []Transmission
	err := r.db.Where("start_time BETWEEN ? AND ?", start, end).
		Order("start_time DESC").
		Limit(limit).
		Find(&transmissions).Error
	return transmissions, err
}

// DeleteOlderThan deletes transmissions older than the specified time
func (r *TransmissionRepository) DeleteOlderThan(before time.Time) (int64, error) {
	result := r.db.Where("start_time < ?", before).Delete(&Transmission{})
	return result.RowsAffected, result.Error
}

// GatewayRepository handles gateway directory operations
type GatewayRepository struct {
	db *gorm.DB
}

// NewGatewayRepository creates a new gateway repository
func NewGatewayRepository(db *gorm.DB) *GatewayRepository {
	return &GatewayRepository{db: db}
}

// RecordSeen upserts a gateway sighting. A new callsign gets a directory
// row; an existing one has its address, last-seen time and session count
// updated.
func (r *GatewayRepository) RecordSeen(callsign, address string, seen time.Time) error {
	gw := Gateway{
		Callsign:  callsign,
		Address:   address,
		FirstSeen: seen,
		LastSeen:  seen,
		Sessions:  1,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "callsign"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"address":   address,
			"last_seen": seen,
			"sessions":  gorm.Expr("sessions + 1"),
		}),
	}).Create(&gw).Error
}

// Get retrieves one gateway by callsign
func (r *GatewayRepository) Get(callsign string) (*Gateway, error) {
	var gw Gateway
	err := r.db.First(&gw, "callsign = ?", callsign).Error
	if err != nil {
		return nil, err
	}
	return &gw, nil
}

// GetRecent retrieves the most recently seen gateways
func (r *GatewayRepository) GetRecent(limit int) ([]Gateway, error) {
	var gateways []Gateway
	err := r.db.Order("last_seen DESC").Limit(limit).Find(&gateways).Error
	return gateways, err
}

// Count returns the number of known gateways
func (r *GatewayRepository) Count() (int64, error) {
	var total int64
	err := r.db.Model(&Gateway{}).Count(&total).Error
	return total, err
}
