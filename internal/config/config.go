package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "EASEL"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultServerBaseURL = "http://localhost:8080"
	defaultDatabasePath  = "easel.db"
	defaultLogLevel      = "info"
	defaultPanelWidth    = 1600
	defaultPanelHeight   = 1200
	defaultWakeTime      = "03:00"
	defaultRepeatDays    = 7
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress         string
	ServerBaseURL       string
	DatabasePath        string
	LogLevel            string
	PanelWidth          int
	PanelHeight         int
	DefaultWakeTime     string
	MinDaysBeforeRepeat int
	ImmichBaseURL       string
	ImmichAPIKey        string
	ImmichAlbumID       string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("server.base_url", defaultServerBaseURL)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("panel.width", defaultPanelWidth)
	configViper.SetDefault("panel.height", defaultPanelHeight)
	configViper.SetDefault("wake.default_time", defaultWakeTime)
	configViper.SetDefault("rotation.min_days_before_repeat", defaultRepeatDays)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		ServerBaseURL:       configViper.GetString("server.base_url"),
		DatabasePath:        configViper.GetString("database.path"),
		LogLevel:            configViper.GetString("log.level"),
		PanelWidth:          configViper.GetInt("panel.width"),
		PanelHeight:         configViper.GetInt("panel.height"),
		DefaultWakeTime:     configViper.GetString("wake.default_time"),
		MinDaysBeforeRepeat: configViper.GetInt("rotation.min_days_before_repeat"),
		ImmichBaseURL:       configViper.GetString("immich.base_url"),
		ImmichAPIKey:        configViper.GetString("immich.api_key"),
		ImmichAlbumID:       configViper.GetString("immich.album_id"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.ServerBaseURL) == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.PanelWidth <= 0 || c.PanelHeight <= 0 {
		return fmt.Errorf("panel.width and panel.height must be positive")
	}
	if c.MinDaysBeforeRepeat < 0 {
		return fmt.Errorf("rotation.min_days_before_repeat must not be negative")
	}
	if strings.TrimSpace(c.ImmichBaseURL) == "" {
		return fmt.Errorf("immich.base_url is required")
	}
	if strings.TrimSpace(c.ImmichAPIKey) == "" {
		return fmt.Errorf("immich.api_key is required")
	}
	if strings.TrimSpace(c.ImmichAlbumID) == "" {
		return fmt.Errorf("immich.album_id is required")
	}
	return nil
}
