package devices

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDProvider struct {
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("delivery-%d", p.next), nil
}

func newTestService(t *testing.T, clock func() time.Time) *Service {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "devices.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Device{}, &Schedule{}, &DeliveryRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database:            db,
		Clock:               clock,
		IDProvider:          &sequenceIDProvider{},
		DefaultWakeTime:     "03:00",
		MinDaysBeforeRepeat: 7,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func mustDeviceID(t *testing.T, value string) DeviceID {
	t.Helper()
	deviceID, err := NewDeviceID(value)
	if err != nil {
		t.Fatalf("unexpected device id error: %v", err)
	}
	return deviceID
}

func TestNewDeviceIDRejectsBlankAndOversized(t *testing.T) {
	if _, err := NewDeviceID("   "); !errors.Is(err, ErrInvalidDeviceID) {
		t.Fatalf("expected ErrInvalidDeviceID for blank input, got %v", err)
	}
	oversized := make([]byte, maxIdentifierLength+1)
	for i := range oversized {
		oversized[i] = 'x'
	}
	if _, err := NewDeviceID(string(oversized)); !errors.Is(err, ErrInvalidDeviceID) {
		t.Fatalf("expected ErrInvalidDeviceID for oversized input, got %v", err)
	}
}

func TestRegisterSeedsDefaultsOnFirstRegistration(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	service := newTestService(t, func() time.Time { return now })

	device, err := service.Register(context.Background(), RegistrationRequest{
		DeviceID: mustDeviceID(t, "frame-1"),
		Name:     "Kitchen",
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if device.DefaultWakeTime != "03:00" {
		t.Fatalf("expected seeded wake time, got %q", device.DefaultWakeTime)
	}
	if device.MinDaysBeforeRepeat != 7 {
		t.Fatalf("expected seeded repeat window, got %d", device.MinDaysBeforeRepeat)
	}
	if device.LastSeenAt == nil || !device.LastSeenAt.Equal(now) {
		t.Fatalf("expected last seen at %v, got %v", now, device.LastSeenAt)
	}
}

func TestRegisterIsIdempotentAndMergesIfPresent(t *testing.T) {
	service := newTestService(t, time.Now)
	ctx := context.Background()
	deviceID := mustDeviceID(t, "frame-1")

	first, err := service.Register(ctx, RegistrationRequest{
		DeviceID: deviceID,
		Name:     "Kitchen",
		Location: "Downstairs",
	})
	if err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	second, err := service.Register(ctx, RegistrationRequest{
		DeviceID: deviceID,
		Timezone: "Europe/Amsterdam",
	})
	if err != nil {
		t.Fatalf("second register failed: %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("expected the same row, got ids %d and %d", first.ID, second.ID)
	}
	if second.Name != "Kitchen" || second.Location != "Downstairs" {
		t.Fatalf("expected empty fields to preserve stored values, got %+v", second)
	}
	if second.Timezone != "Europe/Amsterdam" {
		t.Fatalf("expected timezone merge, got %q", second.Timezone)
	}
}

func TestGetDeviceUnknownIdentifier(t *testing.T) {
	service := newTestService(t, time.Now)

	_, err := service.GetDevice(context.Background(), mustDeviceID(t, "ghost"))
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestCreateScheduleRejectsInvalidCron(t *testing.T) {
	service := newTestService(t, time.Now)
	ctx := context.Background()

	device, err := service.Register(ctx, RegistrationRequest{DeviceID: mustDeviceID(t, "frame-1")})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	_, err = service.CreateSchedule(ctx, device, "broken", "61 * * * *", true)
	if !errors.Is(err, ErrInvalidCron) {
		t.Fatalf("expected ErrInvalidCron, got %v", err)
	}

	schedules, err := service.ListSchedules(ctx, device)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(schedules) != 0 {
		t.Fatalf("expected rejected schedule to leave no row, got %d", len(schedules))
	}
}

func TestScheduleLifecycle(t *testing.T) {
	service := newTestService(t, time.Now)
	ctx := context.Background()

	device, err := service.Register(ctx, RegistrationRequest{DeviceID: mustDeviceID(t, "frame-1")})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	created, err := service.CreateSchedule(ctx, device, "morning", "0 7 * * *", true)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := service.CreateSchedule(ctx, device, "inactive", "0 9 * * *", false); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	schedules, err := service.ListSchedules(ctx, device)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(schedules) != 2 {
		t.Fatalf("expected 2 schedules, got %d", len(schedules))
	}

	if err := service.DeleteSchedule(ctx, device, created.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := service.DeleteSchedule(ctx, device, created.ID); !errors.Is(err, ErrScheduleNotFound) {
		t.Fatalf("expected ErrScheduleNotFound on repeated delete, got %v", err)
	}

	schedules, err = service.ListSchedules(ctx, device)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(schedules) != 1 || schedules[0].Name != "inactive" {
		t.Fatalf("unexpected surviving schedules: %+v", schedules)
	}
}

func TestDeleteScheduleScopedToOwningDevice(t *testing.T) {
	service := newTestService(t, time.Now)
	ctx := context.Background()

	owner, err := service.Register(ctx, RegistrationRequest{DeviceID: mustDeviceID(t, "frame-1")})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	stranger, err := service.Register(ctx, RegistrationRequest{DeviceID: mustDeviceID(t, "frame-2")})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	schedule, err := service.CreateSchedule(ctx, owner, "morning", "0 7 * * *", true)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := service.DeleteSchedule(ctx, stranger, schedule.ID); !errors.Is(err, ErrScheduleNotFound) {
		t.Fatalf("expected cross-device delete to fail, got %v", err)
	}
}

func TestRecentAssetIDsHonorsInclusiveWindow(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	clockValue := now
	service := newTestService(t, func() time.Time { return clockValue })
	ctx := context.Background()

	device, err := service.Register(ctx, RegistrationRequest{DeviceID: mustDeviceID(t, "frame-1")})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	clockValue = now.AddDate(0, 0, -10)
	if err := service.RecordDelivery(ctx, device, "stale"); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	clockValue = now.AddDate(0, 0, -7)
	if err := service.RecordDelivery(ctx, device, "boundary"); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	clockValue = now.AddDate(0, 0, -1)
	if err := service.RecordDelivery(ctx, device, "fresh"); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	clockValue = now
	recent, err := service.RecentAssetIDs(ctx, device, 7)
	if err != nil {
		t.Fatalf("recent lookup failed: %v", err)
	}

	if _, ok := recent["stale"]; ok {
		t.Fatalf("expected stale delivery outside window, got %v", recent)
	}
	if _, ok := recent["boundary"]; !ok {
		t.Fatalf("expected delivery exactly at cutoff to be included, got %v", recent)
	}
	if _, ok := recent["fresh"]; !ok {
		t.Fatalf("expected fresh delivery in window, got %v", recent)
	}
}

func TestRecordDeliveryAppendsAndUpdatesLastAsset(t *testing.T) {
	service := newTestService(t, time.Now)
	ctx := context.Background()

	device, err := service.Register(ctx, RegistrationRequest{DeviceID: mustDeviceID(t, "frame-1")})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if err := service.RecordDelivery(ctx, device, "asset-1"); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := service.RecordDelivery(ctx, device, "asset-2"); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	reloaded, err := service.GetDevice(ctx, mustDeviceID(t, "frame-1"))
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.LastAssetID != "asset-2" {
		t.Fatalf("expected last asset asset-2, got %q", reloaded.LastAssetID)
	}

	var count int64
	if err := service.db.Model(&DeliveryRecord{}).Where("device_ref = ?", device.ID).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 delivery records, got %d", count)
	}
}
