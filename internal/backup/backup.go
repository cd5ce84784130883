// Package backup exports and restores the agenda, and keeps encrypted
// copies in S3-compatible storage.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/robfig/cron/v3"

	"github.com/dukerupert/chefagenda/internal/agenda"
	"github.com/dukerupert/chefagenda/internal/model"
	"github.com/dukerupert/chefagenda/internal/store"
)

var (
	ErrNotConfigured = errors.New("offsite backup not configured")
	ErrNoPassphrase  = errors.New("backup passphrase required")
	ErrBackupMissing = errors.New("backup not found")
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string
}

func (c S3Config) enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// Config holds backup manager configuration. Scheduled backups run only
// when both Schedule and Passphrase are set.
type Config struct {
	S3            S3Config
	Passphrase    string
	Schedule      string
	RetentionDays int
	Location      *time.Location
}

// State represents the backup manager state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

// Status holds the current backup manager status.
type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	Error      string     `json:"error,omitempty"`
	InProgress bool       `json:"in_progress"`
}

// StatusCallback is called whenever the backup state changes.
type StatusCallback func(Status)

// Agenda is the state the manager exports and restores.
type Agenda interface {
	State() agenda.State
	Restorer
}

// Manager uploads encrypted exports to S3-compatible storage.
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	status   Status
	callback StatusCallback
	logger   *slog.Logger

	agenda      Agenda
	backupStore *store.BackupStore
	client      s3Client

	cron *cron.Cron
}

// NewManager creates a new backup manager.
func NewManager(cfg Config, a Agenda, bs *store.BackupStore, logger *slog.Logger, callback StatusCallback) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	m := &Manager{
		cfg:         cfg,
		agenda:      a,
		backupStore: bs,
		logger:      logger,
		callback:    callback,
		status:      Status{State: StateDisabled},
	}

	if cfg.S3.enabled() {
		m.client = newS3Client(cfg.S3)
		m.status.State = StateIdle
	}

	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Start schedules backups on the configured cron spec.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status.State == StateDisabled || m.cfg.Schedule == "" || m.cfg.Passphrase == "" {
		return nil
	}

	c := cron.New(cron.WithLocation(m.cfg.Location))
	if _, err := c.AddFunc(m.cfg.Schedule, func() { m.scheduled(ctx) }); err != nil {
		return fmt.Errorf("schedule backups %q: %w", m.cfg.Schedule, err)
	}
	c.Start()
	m.cron = c
	m.logger.Info("scheduled backups enabled", "schedule", m.cfg.Schedule)
	return nil
}

// Stop waits for a running backup to finish and stops the schedule.
func (m *Manager) Stop() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// Status returns the current backup status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
	if m.callback != nil {
		m.callback(s)
	}
}

func (m *Manager) scheduled(ctx context.Context) {
	if _, err := m.RunNow(ctx, m.cfg.Passphrase); err != nil {
		m.logger.Error("scheduled backup failed", "error", err)
	}
	if err := m.Cleanup(ctx); err != nil {
		m.logger.Error("backup cleanup failed", "error", err)
	}
}

func (m *Manager) target() (s3Client, string, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client, m.cfg.S3.Bucket, m.cfg.S3.Prefix
}

// passphrase falls back to the configured one.
func (m *Manager) passphrase(p string) string {
	if p != "" {
		return p
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Passphrase
}

// RunNow exports the agenda, encrypts it and uploads it. It returns the id
// of the backup record. An empty passphrase uses the configured one.
func (m *Manager) RunNow(ctx context.Context, passphrase string) (int64, error) {
	client, bucket, prefix := m.target()
	if client == nil {
		return 0, ErrNotConfigured
	}
	passphrase = m.passphrase(passphrase)
	if passphrase == "" {
		return 0, ErrNoPassphrase
	}

	m.setStatus(Status{State: StateRunning, InProgress: true})

	timestamp := time.Now().UTC().Format("2006-01-02T150405Z")
	filename := fmt.Sprintf("agenda-%s.json.enc", timestamp)
	s3Key := prefix + filename

	record, err := m.backupStore.Create(filename, s3Key)
	if err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return 0, fmt.Errorf("create backup record: %w", err)
	}

	fail := func(step string, err error) (int64, error) {
		m.backupStore.UpdateStatus(record.ID, model.BackupStatusFailed, err.Error())
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return 0, fmt.Errorf("%s: %w", step, err)
	}

	m.backupStore.UpdateStatus(record.ID, model.BackupStatusUploading, "")

	doc := Export(m.agenda.State())
	plain, err := doc.Bytes()
	if err != nil {
		return fail("export", err)
	}
	sealed, err := Encrypt(plain, passphrase)
	if err != nil {
		return fail("encrypt", err)
	}

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(s3Key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return fail("upload to s3", err)
	}

	events := len(*doc.Events)
	if err := m.backupStore.UpdateCompleted(record.ID, int64(len(sealed)), events); err != nil {
		m.logger.Warn("record completed backup", "id", record.ID, "error", err)
	}

	now := time.Now().UTC()
	m.setStatus(Status{State: StateIdle, LastBackup: &now})
	m.logger.Info("backup uploaded", "key", s3Key, "bytes", len(sealed), "events", events)

	return record.ID, nil
}

// Fetch downloads and decrypts one backup.
func (m *Manager) Fetch(ctx context.Context, backupID int64, passphrase string) (Document, error) {
	client, bucket, _ := m.target()
	if client == nil {
		return Document{}, ErrNotConfigured
	}
	passphrase = m.passphrase(passphrase)
	if passphrase == "" {
		return Document{}, ErrNoPassphrase
	}

	record, err := m.backupStore.GetByID(backupID)
	if err != nil {
		return Document{}, fmt.Errorf("get backup: %w", err)
	}
	if record == nil {
		return Document{}, ErrBackupMissing
	}
	if !record.Restorable() {
		return Document{}, fmt.Errorf("%w: backup %d is %s", ErrBackupMissing, backupID, record.Status)
	}

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(record.S3Key),
	})
	if err != nil {
		return Document{}, fmt.Errorf("download from s3: %w", err)
	}
	defer result.Body.Close()

	sealed, err := io.ReadAll(result.Body)
	if err != nil {
		return Document{}, fmt.Errorf("read backup: %w", err)
	}
	plain, err := Decrypt(sealed, passphrase)
	if err != nil {
		return Document{}, err
	}
	return Parse(plain)
}

// RestoreOffsite replaces the agenda with the contents of one backup.
func (m *Manager) RestoreOffsite(ctx context.Context, backupID int64, passphrase string) error {
	d, err := m.Fetch(ctx, backupID, passphrase)
	if err != nil {
		return err
	}
	if err := m.agenda.Replace(d.Replacement()); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	m.logger.Info("agenda restored from offsite backup", "backup_id", backupID)
	return nil
}

// List returns recent backup records, newest first.
func (m *Manager) List(limit int) ([]model.Backup, error) {
	return m.backupStore.List(limit)
}

// Cleanup deletes backups older than the retention period.
func (m *Manager) Cleanup(ctx context.Context) error {
	client, bucket, _ := m.target()
	if client == nil {
		return nil
	}

	before := time.Now().UTC().AddDate(0, 0, -m.cfg.RetentionDays)
	keys, err := m.backupStore.DeleteOlderThan(before)
	if err != nil {
		return fmt.Errorf("delete old backups: %w", err)
	}

	for _, key := range keys {
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}); err != nil {
			m.logger.Warn("delete S3 object", "key", key, "error", err)
		}
	}

	return nil
}
