package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/dukerupert/chefagenda/internal/agenda"
	"github.com/dukerupert/chefagenda/internal/dates"
	"github.com/natefinch/atomic"
	str2duration "github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

const (
	defaultListen        = "127.0.0.1:8080"
	defaultDBPath        = "chefagenda.db"
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultTimezone      = "Europe/Madrid"
	defaultUrgencyWindow = "20d"
	defaultUpcomingLimit = 8
	defaultNotifySpec    = "*/15 * * * *"
	defaultRetentionDays = 30
	defaultSubscriber    = "mailto:admin@chefagenda.local"
)

// Regional holidays for the 2025/26 Murcia school calendar.
var defaultHolidays = []string{
	"2025-09-16", "2025-10-12", "2025-11-01", "2025-12-06", "2025-12-08", "2025-12-25",
	"2026-01-01", "2026-01-06", "2026-03-19", "2026-04-02", "2026-04-03", "2026-04-07",
	"2026-05-01", "2026-06-09", "2026-08-15",
}

// AcademicYearConfig bounds the school year, both dates inclusive.
type AcademicYearConfig struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// NotifyConfig controls due-today push notifications. Notifications are
// disabled unless both VAPID keys are set.
type NotifyConfig struct {
	Schedule        string `yaml:"schedule"`
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	Subscriber      string `yaml:"subscriber"`
}

// S3Config is the off-site target for encrypted backups.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Prefix    string `yaml:"prefix"`
}

// BackupConfig controls encrypted off-site backups.
type BackupConfig struct {
	Passphrase    string   `yaml:"passphrase"`
	Schedule      string   `yaml:"schedule"`
	RetentionDays int      `yaml:"retention_days"`
	S3            S3Config `yaml:"s3"`
}

// Config is the top-level application configuration.
type Config struct {
	Listen        string             `yaml:"listen"`
	DBPath        string             `yaml:"db_path"`
	LogLevel      string             `yaml:"log_level"`
	LogFormat     string             `yaml:"log_format"`
	Timezone      string             `yaml:"timezone"`
	StoragePrefix string             `yaml:"storage_prefix"`
	AcademicYear  AcademicYearConfig `yaml:"academic_year"`
	Holidays      []string           `yaml:"holidays"`
	// UrgencyWindow accepts day and week units, e.g. "20d" or "3w".
	UrgencyWindow string       `yaml:"urgency_window"`
	UpcomingLimit int          `yaml:"upcoming_limit"`
	Notify        NotifyConfig `yaml:"notify"`
	Backup        BackupConfig `yaml:"backup"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:        defaultListen,
		DBPath:        defaultDBPath,
		LogLevel:      defaultLogLevel,
		LogFormat:     defaultLogFormat,
		Timezone:      defaultTimezone,
		StoragePrefix: agenda.DefaultPrefix,
		AcademicYear: AcademicYearConfig{
			Start: "2025-09-01",
			End:   "2026-08-31",
		},
		Holidays:      append([]string(nil), defaultHolidays...),
		UrgencyWindow: defaultUrgencyWindow,
		UpcomingLimit: defaultUpcomingLimit,
		Notify: NotifyConfig{
			Schedule:   defaultNotifySpec,
			Subscriber: defaultSubscriber,
		},
		Backup: BackupConfig{
			RetentionDays: defaultRetentionDays,
		},
	}
}

// Normalize fills in missing values so partially written files still work.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.DBPath == "" {
		c.DBPath = d.DBPath
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = d.LogFormat
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.StoragePrefix == "" {
		c.StoragePrefix = d.StoragePrefix
	}
	if c.AcademicYear.Start == "" {
		c.AcademicYear.Start = d.AcademicYear.Start
	}
	if c.AcademicYear.End == "" {
		c.AcademicYear.End = d.AcademicYear.End
	}
	// An explicit empty list means no holidays; only a missing key gets defaults.
	if c.Holidays == nil {
		c.Holidays = d.Holidays
	}
	if c.UrgencyWindow == "" {
		c.UrgencyWindow = d.UrgencyWindow
	}
	if c.UpcomingLimit <= 0 {
		c.UpcomingLimit = d.UpcomingLimit
	}
	if c.Notify.Schedule == "" {
		c.Notify.Schedule = d.Notify.Schedule
	}
	if c.Notify.Subscriber == "" {
		c.Notify.Subscriber = d.Notify.Subscriber
	}
	if c.Backup.RetentionDays <= 0 {
		c.Backup.RetentionDays = d.Backup.RetentionDays
	}
}

// Validate checks the values that are parsed later, so mistakes surface at
// startup instead of on first use.
func (c *Config) Validate() error {
	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		return fmt.Errorf("log format %q: want text or json", c.LogFormat)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.UrgencyDuration(); err != nil {
		return err
	}
	if _, err := c.HolidayList(); err != nil {
		return err
	}
	if _, err := c.Year(); err != nil {
		return err
	}
	return nil
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// UrgencyDuration parses the urgency window.
func (c *Config) UrgencyDuration() (time.Duration, error) {
	d, err := str2duration.ParseDuration(c.UrgencyWindow)
	if err != nil {
		return 0, fmt.Errorf("parse urgency window %q: %w", c.UrgencyWindow, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("urgency window %q must be positive", c.UrgencyWindow)
	}
	return d, nil
}

// HolidayList builds the holiday lookup.
func (c *Config) HolidayList() (dates.Holidays, error) {
	return dates.NewHolidays(c.Holidays)
}

// Year builds the academic year bounds.
func (c *Config) Year() (dates.AcademicYear, error) {
	return dates.NewAcademicYear(c.AcademicYear.Start, c.AcademicYear.End)
}

// ApplyEnv overrides file values with CHEFAGENDA_* environment variables.
// getenv is os.Getenv outside of tests.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, name string) {
		if v := getenv("CHEFAGENDA_" + name); v != "" {
			*dst = v
		}
	}
	set(&c.Listen, "LISTEN")
	set(&c.DBPath, "DB_PATH")
	set(&c.LogLevel, "LOG_LEVEL")
	set(&c.LogFormat, "LOG_FORMAT")
	set(&c.Timezone, "TIMEZONE")
	set(&c.StoragePrefix, "STORAGE_PREFIX")
	set(&c.UrgencyWindow, "URGENCY_WINDOW")
	set(&c.Notify.Schedule, "NOTIFY_SCHEDULE")
	set(&c.Notify.VAPIDPublicKey, "VAPID_PUBLIC_KEY")
	set(&c.Notify.VAPIDPrivateKey, "VAPID_PRIVATE_KEY")
	set(&c.Notify.Subscriber, "VAPID_SUBSCRIBER")
	set(&c.Backup.Passphrase, "BACKUP_PASSPHRASE")
	set(&c.Backup.Schedule, "BACKUP_SCHEDULE")
	set(&c.Backup.S3.Endpoint, "S3_ENDPOINT")
	set(&c.Backup.S3.Bucket, "S3_BUCKET")
	set(&c.Backup.S3.Region, "S3_REGION")
	set(&c.Backup.S3.AccessKey, "S3_ACCESS_KEY")
	set(&c.Backup.S3.SecretKey, "S3_SECRET_KEY")
	set(&c.Backup.S3.Prefix, "S3_PREFIX")

	if v := getenv("CHEFAGENDA_HOLIDAYS"); v != "" {
		var list []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				list = append(list, s)
			}
		}
		c.Holidays = list
	}
	if v := getenv("CHEFAGENDA_UPCOMING_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.UpcomingLimit = n
		}
	}
	if v := getenv("CHEFAGENDA_BACKUP_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Backup.RetentionDays = n
		}
	}
}

// Load reads the YAML file at path. A missing file is created with the
// defaults (0600) and the defaults are returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, fmt.Errorf("write default config: %w", err)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes cfg to path atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := atomic.WriteFile(path, strings.NewReader(string(data))); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	// atomic.WriteFile keeps the mode of an existing file but not of a new one.
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("chmod config: %w", err)
	}
	return nil
}
