package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/easel/backend/internal/devices"
	"github.com/MarcoPoloResearchLab/easel/backend/internal/imaging"
	"github.com/MarcoPoloResearchLab/easel/backend/internal/photos"
	"github.com/MarcoPoloResearchLab/easel/backend/internal/rotation"
	"github.com/MarcoPoloResearchLab/easel/backend/internal/wake"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	serviceName     = "easel-api"
	octetStreamType = "application/octet-stream"
	deviceIDParam   = "device_id"
	scheduleIDParam = "schedule_id"
)

var (
	errMissingDeviceService = errors.New("device service dependency required")
	errMissingWakeResolver  = errors.New("wake resolver dependency required")
	errMissingCatalog       = errors.New("photo catalog dependency required")
	errMissingPanelSize     = errors.New("panel dimensions required")
)

// PhotoCatalog abstracts the external photo source the frame rotates
// through.
type PhotoCatalog interface {
	ListAlbumAssets(ctx context.Context, albumID string) ([]photos.Asset, error)
	FetchAssetBytes(ctx context.Context, assetID string) ([]byte, error)
}

// Dependencies wires the HTTP layer to its collaborators.
type Dependencies struct {
	DeviceService *devices.Service
	WakeResolver  *wake.Resolver
	Catalog       PhotoCatalog
	AlbumID       string
	ServerBaseURL string
	PanelWidth    int
	PanelHeight   int
	Logger        *zap.Logger
}

// NewHTTPHandler assembles the gin router for the API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.DeviceService == nil {
		return nil, errMissingDeviceService
	}
	if deps.WakeResolver == nil {
		return nil, errMissingWakeResolver
	}
	if deps.Catalog == nil {
		return nil, errMissingCatalog
	}
	if deps.PanelWidth <= 0 || deps.PanelHeight <= 0 {
		return nil, errMissingPanelSize
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", "Range"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		deviceService: deps.DeviceService,
		wakeResolver:  deps.WakeResolver,
		catalog:       deps.Catalog,
		albumID:       deps.AlbumID,
		serverBaseURL: deps.ServerBaseURL,
		panelWidth:    deps.PanelWidth,
		panelHeight:   deps.PanelHeight,
		logger:        logger,
	}

	router.GET("/", handler.handleRoot)
	router.POST("/devices/register", handler.handleRegisterDevice)
	router.GET("/devices/:device_id/config", handler.handleDeviceConfig)
	router.GET("/devices/:device_id/schedules", handler.handleListSchedules)
	router.POST("/devices/:device_id/schedules", handler.handleCreateSchedule)
	router.DELETE("/devices/:device_id/schedules/:schedule_id", handler.handleDeleteSchedule)
	router.GET("/images/next", handler.handleNextImage)

	return router, nil
}

type httpHandler struct {
	deviceService *devices.Service
	wakeResolver  *wake.Resolver
	catalog       PhotoCatalog
	albumID       string
	serverBaseURL string
	panelWidth    int
	panelHeight   int
	logger        *zap.Logger
}

func (h *httpHandler) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "service": serviceName})
}

type registerRequestPayload struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Timezone string `json:"timezone"`
}

type deviceResponsePayload struct {
	DeviceID            string `json:"device_id"`
	Name                string `json:"name,omitempty"`
	Location            string `json:"location,omitempty"`
	Timezone            string `json:"timezone,omitempty"`
	DefaultWakeTime     string `json:"default_wake_time"`
	MinDaysBeforeRepeat int    `json:"min_days_before_repeat"`
}

func deviceResponse(device devices.Device) deviceResponsePayload {
	return deviceResponsePayload{
		DeviceID:            device.DeviceID,
		Name:                device.Name,
		Location:            device.Location,
		Timezone:            device.Timezone,
		DefaultWakeTime:     device.DefaultWakeTime,
		MinDaysBeforeRepeat: device.MinDaysBeforeRepeat,
	}
}

func (h *httpHandler) handleRegisterDevice(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	deviceID, err := devices.NewDeviceID(request.DeviceID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_device_id"})
		return
	}

	device, err := h.deviceService.Register(c.Request.Context(), devices.RegistrationRequest{
		DeviceID: deviceID,
		Name:     request.Name,
		Location: request.Location,
		Timezone: request.Timezone,
	})
	if err != nil {
		h.respondServiceError(c, "device registration failed", err)
		return
	}

	c.JSON(http.StatusOK, deviceResponse(device))
}

type configResponsePayload struct {
	ServerBaseURL       string `json:"server_base_url"`
	ImageURL            string `json:"image_url"`
	WakeTime            string `json:"wake_time"`
	NextWakeEpoch       int64  `json:"next_wake_epoch"`
	PanelWidth          int    `json:"panel_width"`
	PanelHeight         int    `json:"panel_height"`
	MinDaysBeforeRepeat int    `json:"min_days_before_repeat"`
}

func (h *httpHandler) handleDeviceConfig(c *gin.Context) {
	device, ok := h.lookupDevice(c, c.Param(deviceIDParam))
	if !ok {
		return
	}

	schedules, err := h.deviceService.ListSchedules(c.Request.Context(), device)
	if err != nil {
		h.respondServiceError(c, "schedule listing failed", err)
		return
	}

	nextWake := h.wakeResolver.NextWake(devices.WakeRules(schedules), device.DefaultWakeTime, time.Now())

	c.JSON(http.StatusOK, configResponsePayload{
		ServerBaseURL:       h.serverBaseURL,
		ImageURL:            h.serverBaseURL + "/images/next?device_id=" + device.DeviceID,
		WakeTime:            device.DefaultWakeTime,
		NextWakeEpoch:       nextWake.Unix(),
		PanelWidth:          h.panelWidth,
		PanelHeight:         h.panelHeight,
		MinDaysBeforeRepeat: device.MinDaysBeforeRepeat,
	})
}

type scheduleRequestPayload struct {
	Name   string `json:"name"`
	Cron   string `json:"cron"`
	Active *bool  `json:"active"`
}

type scheduleResponsePayload struct {
	ID     uint   `json:"id"`
	Name   string `json:"name"`
	Cron   string `json:"cron"`
	Active bool   `json:"active"`
}

func (h *httpHandler) handleListSchedules(c *gin.Context) {
	device, ok := h.lookupDevice(c, c.Param(deviceIDParam))
	if !ok {
		return
	}

	schedules, err := h.deviceService.ListSchedules(c.Request.Context(), device)
	if err != nil {
		h.respondServiceError(c, "schedule listing failed", err)
		return
	}

	response := make([]scheduleResponsePayload, 0, len(schedules))
	for _, schedule := range schedules {
		response = append(response, scheduleResponsePayload{
			ID:     schedule.ID,
			Name:   schedule.Name,
			Cron:   schedule.Cron,
			Active: schedule.Active,
		})
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleCreateSchedule(c *gin.Context) {
	device, ok := h.lookupDevice(c, c.Param(deviceIDParam))
	if !ok {
		return
	}

	var request scheduleRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Name == "" || request.Cron == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	active := true
	if request.Active != nil {
		active = *request.Active
	}

	schedule, err := h.deviceService.CreateSchedule(c.Request.Context(), device, request.Name, request.Cron, active)
	if errors.Is(err, devices.ErrInvalidCron) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cron"})
		return
	}
	if err != nil {
		h.respondServiceError(c, "schedule creation failed", err)
		return
	}

	c.JSON(http.StatusOK, scheduleResponsePayload{
		ID:     schedule.ID,
		Name:   schedule.Name,
		Cron:   schedule.Cron,
		Active: schedule.Active,
	})
}

func (h *httpHandler) handleDeleteSchedule(c *gin.Context) {
	device, ok := h.lookupDevice(c, c.Param(deviceIDParam))
	if !ok {
		return
	}

	scheduleID, err := strconv.ParseUint(c.Param(scheduleIDParam), 10, 32)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "schedule_not_found"})
		return
	}

	err = h.deviceService.DeleteSchedule(c.Request.Context(), device, uint(scheduleID))
	if errors.Is(err, devices.ErrScheduleNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "schedule_not_found"})
		return
	}
	if err != nil {
		h.respondServiceError(c, "schedule deletion failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *httpHandler) handleNextImage(c *gin.Context) {
	device, ok := h.lookupDevice(c, c.Query(deviceIDParam))
	if !ok {
		return
	}

	assets, err := h.catalog.ListAlbumAssets(c.Request.Context(), h.albumID)
	if err != nil {
		h.logger.Error("album listing failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "catalog_unavailable"})
		return
	}

	candidates := make([]string, 0, len(assets))
	for _, asset := range assets {
		if assetID := asset.ID(); assetID != "" {
			candidates = append(candidates, assetID)
		}
	}

	recent, err := h.deviceService.RecentAssetIDs(c.Request.Context(), device, device.MinDaysBeforeRepeat)
	if err != nil {
		h.respondServiceError(c, "recency lookup failed", err)
		return
	}

	assetID, err := rotation.SelectNext(candidates, recent)
	if errors.Is(err, rotation.ErrEmptyCatalog) {
		c.JSON(http.StatusNotFound, gin.H{"error": "album_empty"})
		return
	}
	if err != nil {
		h.respondServiceError(c, "asset selection failed", err)
		return
	}

	source, err := h.catalog.FetchAssetBytes(c.Request.Context(), assetID)
	if err != nil {
		h.logger.Error("asset fetch failed", zap.String("asset_id", assetID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "catalog_unavailable"})
		return
	}

	packed, err := imaging.Transcode(source, h.panelWidth, h.panelHeight)
	if errors.Is(err, imaging.ErrDecode) {
		h.logger.Error("asset transcode failed", zap.String("asset_id", assetID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "undecodable_asset"})
		return
	}
	if err != nil {
		h.respondServiceError(c, "asset transcode failed", err)
		return
	}

	if err := h.deviceService.RecordDelivery(c.Request.Context(), device, assetID); err != nil {
		h.respondServiceError(c, "delivery recording failed", err)
		return
	}

	h.serveRange(c, packed)
}

// serveRange writes the packed buffer honoring a single bytes= range. The
// buffer is built fresh per request; nothing is cached across polls.
func (h *httpHandler) serveRange(c *gin.Context, packed []byte) {
	span, status, err := ResolveRange(c.GetHeader("Range"), len(packed))
	if err != nil {
		c.Header("Accept-Ranges", "bytes")
		c.Status(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	c.Header("Accept-Ranges", "bytes")
	c.Header("Content-Length", strconv.Itoa(span.Length()))
	if status == http.StatusPartialContent {
		c.Header("Content-Range", span.ContentRange(len(packed)))
	}
	c.Data(status, octetStreamType, packed[span.Start:span.End+1])
}

func (h *httpHandler) lookupDevice(c *gin.Context, rawDeviceID string) (devices.Device, bool) {
	deviceID, err := devices.NewDeviceID(rawDeviceID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "device_not_found"})
		return devices.Device{}, false
	}

	device, err := h.deviceService.GetDevice(c.Request.Context(), deviceID)
	if errors.Is(err, devices.ErrDeviceNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "device_not_found"})
		return devices.Device{}, false
	}
	if err != nil {
		h.respondServiceError(c, "device lookup failed", err)
		return devices.Device{}, false
	}
	return device, true
}

func (h *httpHandler) respondServiceError(c *gin.Context, message string, err error) {
	h.logger.Error(message, zap.Error(err))

	var serviceErr *devices.ServiceError
	if errors.As(err, &serviceErr) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "code": serviceErr.Code()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}
