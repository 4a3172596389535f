package devices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/easel/backend/internal/wake"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrDeviceNotFound indicates no device row exists for the identifier.
	ErrDeviceNotFound = errors.New("devices: device not found")
	// ErrScheduleNotFound indicates the schedule does not exist or belongs
	// to another device.
	ErrScheduleNotFound = errors.New("devices: schedule not found")
	// ErrInvalidCron indicates a recurrence expression that fails to parse.
	ErrInvalidCron = errors.New("devices: invalid cron expression")
)

// ServiceError carries a dotted operation code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew     = "devices.service.new"
	opRegister       = "devices.register"
	opGetDevice      = "devices.get_device"
	opListSchedules  = "devices.list_schedules"
	opCreateSchedule = "devices.create_schedule"
	opDeleteSchedule = "devices.delete_schedule"
	opRecentAssets   = "devices.recent_assets"
	opRecordDelivery = "devices.record_delivery"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for delivery records.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies and per-deployment defaults for
// the device service. DefaultWakeTime and MinDaysBeforeRepeat seed newly
// registered devices only; existing rows keep their stored values.
type ServiceConfig struct {
	Database            *gorm.DB
	Clock               func() time.Time
	IDProvider          IDProvider
	Logger              *zap.Logger
	DefaultWakeTime     string
	MinDaysBeforeRepeat int
}

// Service owns device registration, schedules and the delivery history.
type Service struct {
	db              *gorm.DB
	clock           func() time.Time
	idProvider      IDProvider
	logger          *zap.Logger
	defaultWakeTime string
	repeatDays      int
}

// NewService constructs the device service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	defaultWakeTime := cfg.DefaultWakeTime
	if defaultWakeTime == "" {
		defaultWakeTime = "03:00"
	}

	repeatDays := cfg.MinDaysBeforeRepeat
	if repeatDays <= 0 {
		repeatDays = 7
	}

	return &Service{
		db:              cfg.Database,
		clock:           clock,
		idProvider:      cfg.IDProvider,
		logger:          logger,
		defaultWakeTime: defaultWakeTime,
		repeatDays:      repeatDays,
	}, nil
}

// RegistrationRequest carries the payload a device sends on boot. Optional
// fields left empty never overwrite stored values.
type RegistrationRequest struct {
	DeviceID DeviceID
	Name     string
	Location string
	Timezone string
}

// Register upserts the device row keyed by its opaque identifier. First
// registration seeds the configured wake default and repeat window; every
// registration merges the optional fields if present and touches
// last_seen_at.
func (s *Service) Register(ctx context.Context, request RegistrationRequest) (Device, error) {
	now := s.clock().UTC()

	var device Device
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lookupErr := tx.Where("device_id = ?", request.DeviceID.String()).Take(&device).Error
		switch {
		case errors.Is(lookupErr, gorm.ErrRecordNotFound):
			device = Device{
				DeviceID:            request.DeviceID.String(),
				Name:                request.Name,
				Location:            request.Location,
				Timezone:            request.Timezone,
				CreatedAt:           now,
				LastSeenAt:          &now,
				DefaultWakeTime:     s.defaultWakeTime,
				MinDaysBeforeRepeat: s.repeatDays,
			}
			return tx.Create(&device).Error
		case lookupErr != nil:
			return lookupErr
		}

		if request.Name != "" {
			device.Name = request.Name
		}
		if request.Location != "" {
			device.Location = request.Location
		}
		if request.Timezone != "" {
			device.Timezone = request.Timezone
		}
		device.LastSeenAt = &now
		return tx.Save(&device).Error
	})
	if err != nil {
		s.logError(opRegister, "upsert_failed", err)
		return Device{}, newServiceError(opRegister, "upsert_failed", err)
	}

	return device, nil
}

// GetDevice loads a device by its opaque identifier.
func (s *Service) GetDevice(ctx context.Context, deviceID DeviceID) (Device, error) {
	var device Device
	err := s.db.WithContext(ctx).Where("device_id = ?", deviceID.String()).Take(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Device{}, ErrDeviceNotFound
	}
	if err != nil {
		s.logError(opGetDevice, "lookup_failed", err)
		return Device{}, newServiceError(opGetDevice, "lookup_failed", err)
	}
	return device, nil
}

// ListSchedules returns all schedules owned by the device, creation order.
func (s *Service) ListSchedules(ctx context.Context, device Device) ([]Schedule, error) {
	var schedules []Schedule
	err := s.db.WithContext(ctx).
		Where("device_ref = ?", device.ID).
		Order("id asc").
		Find(&schedules).Error
	if err != nil {
		s.logError(opListSchedules, "query_failed", err)
		return nil, newServiceError(opListSchedules, "query_failed", err)
	}
	return schedules, nil
}

// CreateSchedule validates the cron expression and appends a schedule row.
// A recurrence that does not parse is rejected here so it can never reach
// wake computation.
func (s *Service) CreateSchedule(ctx context.Context, device Device, name, cronExpression string, active bool) (Schedule, error) {
	if _, err := wake.Parser.Parse(cronExpression); err != nil {
		return Schedule{}, fmt.Errorf("%w: %v", ErrInvalidCron, err)
	}

	schedule := Schedule{
		DeviceRef: device.ID,
		Name:      name,
		Cron:      cronExpression,
		Active:    active,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&schedule).Error; err != nil {
		s.logError(opCreateSchedule, "insert_failed", err)
		return Schedule{}, newServiceError(opCreateSchedule, "insert_failed", err)
	}
	return schedule, nil
}

// DeleteSchedule removes a schedule if it belongs to the device.
func (s *Service) DeleteSchedule(ctx context.Context, device Device, scheduleID uint) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND device_ref = ?", scheduleID, device.ID).
		Delete(&Schedule{})
	if result.Error != nil {
		s.logError(opDeleteSchedule, "delete_failed", result.Error)
		return newServiceError(opDeleteSchedule, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// RecentAssetIDs returns the set of asset ids delivered to the device
// within the trailing window. The cutoff comparison is inclusive.
func (s *Service) RecentAssetIDs(ctx context.Context, device Device, windowDays int) (map[string]struct{}, error) {
	cutoff := s.clock().UTC().AddDate(0, 0, -windowDays)

	var assetIDs []string
	err := s.db.WithContext(ctx).
		Model(&DeliveryRecord{}).
		Where("device_ref = ? AND delivered_at >= ?", device.ID, cutoff).
		Pluck("asset_id", &assetIDs).Error
	if err != nil {
		s.logError(opRecentAssets, "query_failed", err)
		return nil, newServiceError(opRecentAssets, "query_failed", err)
	}

	recent := make(map[string]struct{}, len(assetIDs))
	for _, assetID := range assetIDs {
		recent[assetID] = struct{}{}
	}
	return recent, nil
}

// RecordDelivery appends a delivery fact and updates the device's last
// shown asset. Each delivery is its own write; nothing serializes the
// surrounding select-transcode-record sequence, so concurrent polls from
// one device may record the same asset twice, which self-corrects on the
// next poll.
func (s *Service) RecordDelivery(ctx context.Context, device Device, assetID string) error {
	deliveryID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRecordDelivery, "id_generation_failed", err)
		return newServiceError(opRecordDelivery, "id_generation_failed", err)
	}

	record := DeliveryRecord{
		DeliveryID:  deliveryID,
		DeviceRef:   device.ID,
		AssetID:     assetID,
		DeliveredAt: s.clock().UTC(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		return tx.Model(&Device{}).
			Where("id = ?", device.ID).
			Update("last_asset_id", assetID).Error
	})
	if err != nil {
		s.logError(opRecordDelivery, "insert_failed", err)
		return newServiceError(opRecordDelivery, "insert_failed", err)
	}
	return nil
}

// WakeRules projects schedules into the resolver's rule shape.
func WakeRules(schedules []Schedule) []wake.Rule {
	rules := make([]wake.Rule, 0, len(schedules))
	for _, schedule := range schedules {
		rules = append(rules, wake.Rule{
			Expression: schedule.Cron,
			Active:     schedule.Active,
		})
	}
	return rules
}

func (s *Service) logError(operation, reason string, err error) {
	s.logger.Error("device service operation failed",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err))
}
