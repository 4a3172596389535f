package devices

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 64

// ErrInvalidDeviceID indicates that a device identifier is empty or exceeds
// storage bounds.
var ErrInvalidDeviceID = errors.New("devices: invalid device id")

// DeviceID represents a validated opaque device identifier.
type DeviceID string

// NewDeviceID validates raw input and returns a DeviceID.
func NewDeviceID(rawInput string) (DeviceID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDeviceID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidDeviceID, maxIdentifierLength)
	}
	return DeviceID(trimmed), nil
}

// String returns the underlying string identifier.
func (id DeviceID) String() string {
	return string(id)
}

// Device models one registered e-paper frame.
type Device struct {
	ID                  uint       `gorm:"column:id;primaryKey;autoIncrement"`
	DeviceID            string     `gorm:"column:device_id;size:64;not null;uniqueIndex:uq_devices_device_id"`
	Name                string     `gorm:"column:name;size:128"`
	Location            string     `gorm:"column:location;size:128"`
	Timezone            string     `gorm:"column:timezone;size:64"`
	CreatedAt           time.Time  `gorm:"column:created_at;not null"`
	LastSeenAt          *time.Time `gorm:"column:last_seen_at"`
	DefaultWakeTime     string     `gorm:"column:default_wake_time;size:8;not null"`
	MinDaysBeforeRepeat int        `gorm:"column:min_days_before_repeat;not null"`
	LastAssetID         string     `gorm:"column:last_asset_id;size:64"`
}

// TableName provides the explicit table binding for GORM.
func (Device) TableName() string {
	return "devices"
}

// Schedule is one cron-style recurrence rule owned by a device. The
// expression is validated at creation time; rows with `active` false are
// kept but never contribute to wake computation.
type Schedule struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	DeviceRef uint      `gorm:"column:device_ref;not null;index:idx_schedules_device"`
	Name      string    `gorm:"column:name;size:64;not null"`
	Cron      string    `gorm:"column:cron;size:64;not null"`
	Active    bool      `gorm:"column:active;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Schedule) TableName() string {
	return "device_schedules"
}

// DeliveryRecord is an append-only fact: this device received this asset at
// this instant. Rows are never updated; they exist only to compute the
// rolling recency window and disappear with their device.
type DeliveryRecord struct {
	DeliveryID  string    `gorm:"column:delivery_id;primaryKey;size:190;not null"`
	DeviceRef   uint      `gorm:"column:device_ref;not null;index:idx_deliveries_device_time,priority:1"`
	AssetID     string    `gorm:"column:asset_id;size:64;not null"`
	DeliveredAt time.Time `gorm:"column:delivered_at;not null;index:idx_deliveries_device_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (DeliveryRecord) TableName() string {
	return "image_deliveries"
}
