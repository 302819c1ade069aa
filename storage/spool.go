// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/soothill/tachometer-monitor/pkg/logger"
	"github.com/soothill/tachometer-monitor/pkg/util"
	"github.com/soothill/tachometer-monitor/session"
)

const (
	defaultSpoolDir     = "/var/cache/tachometer-monitor"
	spoolFilePrefix     = "spool_"
	defaultSpoolMaxSize = 50 * 1024 * 1024 // 50 MB
	defaultSpoolMaxAge  = 7 * 24 * time.Hour
	replayCheckInterval = 30 * time.Second
	alertTimeout        = 5 * time.Second
)

// Archiver stores closed sessions outside the session slot.
type Archiver interface {
	Archive(ctx context.Context, deviceID string, s session.Session) error
	Health(ctx context.Context) error
	Close()
}

// SpooledSession is a session waiting to be archived.
type SpooledSession struct {
	DeviceID  string          `json:"device_id"`
	Session   session.Session `json:"session"`
	SpooledAt time.Time       `json:"spooled_at"`
}

// Spool keeps sessions on disk while the archive is unreachable.
type Spool struct {
	dir         string
	maxSize     int64
	maxAge      time.Duration
	mu          sync.Mutex
	currentSize int64
}

// NewSpool creates the spool directory and drops entries older than maxAge.
func NewSpool(dir string, maxSize int64, maxAge time.Duration) (*Spool, error) {
	if dir == "" {
		dir = defaultSpoolDir
	}
	if maxSize <= 0 {
		maxSize = defaultSpoolMaxSize
	}
	if maxAge <= 0 {
		maxAge = defaultSpoolMaxAge
	}

	if err := os.MkdirAll(dir, dataDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}

	sp := &Spool{dir: dir, maxSize: maxSize, maxAge: maxAge}

	if err := sp.updateCurrentSize(); err != nil {
		logger.Warn().Err(err).Msg("Failed to calculate initial spool size")
	}
	if err := sp.CleanupOld(); err != nil {
		logger.Warn().Err(err).Msg("Failed to cleanup old spool files")
	}

	return sp, nil
}

// Write spools one session. A session already in the spool is overwritten.
func (sp *Spool) Write(deviceID string, s session.Session) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.currentSize >= sp.maxSize {
		return fmt.Errorf("spool is full (%d >= %d bytes)", sp.currentSize, sp.maxSize)
	}

	data, err := json.Marshal(SpooledSession{DeviceID: deviceID, Session: s, SpooledAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	filename := sp.filename(s.ID)
	var previous int64
	if info, err := os.Stat(filename); err == nil {
		previous = info.Size()
	}
	if err := os.WriteFile(filename, data, slotFilePerm); err != nil {
		return fmt.Errorf("failed to write spool file: %w", err)
	}

	sp.currentSize += int64(len(data)) - previous
	logger.Debug().
		Str("session_id", s.ID).
		Int64("spool_size", sp.currentSize).
		Msg("Spooled session")
	return nil
}

// List returns the spooled sessions, oldest first.
func (sp *Spool) List() ([]SpooledSession, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	files, err := sp.files()
	if err != nil {
		return nil, err
	}

	entries := make([]SpooledSession, 0, len(files))
	for _, file := range files {
		entry, _, err := readSpoolFile(file)
		if err != nil {
			logger.Warn().Err(err).Str("file", file).Msg("Skipping unreadable spool file")
			continue
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].SpooledAt.Before(entries[j].SpooledAt)
	})
	return entries, nil
}

// Delete removes a spooled session.
func (sp *Spool) Delete(sessionID string) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	filename := sp.filename(sessionID)
	info, err := os.Stat(filename)
	if err != nil {
		return fmt.Errorf("failed to stat spool file: %w", err)
	}
	if err := os.Remove(filename); err != nil {
		return fmt.Errorf("failed to delete spool file: %w", err)
	}

	sp.currentSize -= info.Size()
	return nil
}

// CleanupOld removes spooled sessions older than maxAge.
func (sp *Spool) CleanupOld() error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	files, err := sp.files()
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-sp.maxAge)
	deleted := 0
	for _, file := range files {
		entry, size, err := readSpoolFile(file)
		if err != nil || !entry.SpooledAt.Before(cutoff) {
			continue
		}
		if err := os.Remove(file); err != nil {
			logger.Warn().Err(err).Str("file", file).Msg("Failed to delete old spool file")
			continue
		}
		deleted++
		sp.currentSize -= size
	}

	if deleted > 0 {
		logger.Info().Int("count", deleted).Msg("Cleaned up old spool files")
	}
	return nil
}

// Size returns the spool size in bytes.
func (sp *Spool) Size() int64 {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.currentSize
}

func (sp *Spool) updateCurrentSize() error {
	files, err := sp.files()
	if err != nil {
		return err
	}

	var total int64
	for _, file := range files {
		if info, err := os.Stat(file); err == nil {
			total += info.Size()
		}
	}
	sp.currentSize = total
	return nil
}

func (sp *Spool) files() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(sp.dir, spoolFilePrefix+"*"+slotFileExt))
	if err != nil {
		return nil, fmt.Errorf("failed to list spool files: %w", err)
	}
	return files, nil
}

func (sp *Spool) filename(sessionID string) string {
	return filepath.Join(sp.dir, spoolFilePrefix+sessionID+slotFileExt)
}

func readSpoolFile(file string) (SpooledSession, int64, error) {
	var entry SpooledSession
	data, err := util.ReadFileSafely(file)
	if err != nil {
		return entry, 0, err
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		return entry, 0, err
	}
	return entry, int64(len(data)), nil
}

// Notifier receives archive outage alerts.
type Notifier interface {
	SendArchiveFailure(ctx context.Context, err error) error
	SendArchiveRecovery(ctx context.Context) error
	IsEnabled() bool
}

// SpoolingArchive archives sessions and spools them locally while the
// underlying archive is failing. A background loop replays the spool once
// the archive reports healthy again.
type SpoolingArchive struct {
	archive  Archiver
	spool    *Spool
	notifier Notifier
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	spooling bool
	alerted  bool
}

// NewSpoolingArchive starts the replay loop. notifier may be nil. Sessions
// left in the spool by an earlier run are replayed on the first healthy check.
func NewSpoolingArchive(archive Archiver, spool *Spool, notifier Notifier) *SpoolingArchive {
	return newSpoolingArchive(archive, spool, notifier, replayCheckInterval)
}

func newSpoolingArchive(archive Archiver, spool *Spool, notifier Notifier, interval time.Duration) *SpoolingArchive {
	ctx, cancel := context.WithCancel(context.Background())
	sa := &SpoolingArchive{
		archive:  archive,
		spool:    spool,
		notifier: notifier,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		spooling: spool.Size() > 0,
	}
	if sa.spooling {
		logger.Info().Int64("spool_size", spool.Size()).Msg("Spool holds sessions from a previous run, replay pending")
	}

	sa.wg.Add(1)
	go sa.monitorAndReplay()
	return sa
}

// Archive writes s to the archive, falling back to the spool.
func (sa *SpoolingArchive) Archive(ctx context.Context, deviceID string, s session.Session) error {
	err := sa.archive.Archive(ctx, deviceID, s)
	if err == nil {
		return nil
	}

	logger.Warn().Err(err).Str("session_id", s.ID).Msg("Archive write failed, spooling locally")

	sa.mu.Lock()
	first := !sa.alerted
	sa.spooling = true
	sa.alerted = true
	sa.mu.Unlock()

	if first && sa.notifier != nil && sa.notifier.IsEnabled() {
		alertCtx, alertCancel := context.WithTimeout(sa.ctx, alertTimeout)
		if notifyErr := sa.notifier.SendArchiveFailure(alertCtx, err); notifyErr != nil {
			logger.Error().Err(notifyErr).Msg("Failed to send archive failure alert")
		}
		alertCancel()
	}

	if spoolErr := sa.spool.Write(deviceID, s); spoolErr != nil {
		return fmt.Errorf("archive write failed and spool write failed: archive=%w, spool=%w", err, spoolErr)
	}
	return nil
}

// Health checks the underlying archive.
func (sa *SpoolingArchive) Health(ctx context.Context) error {
	return sa.archive.Health(ctx)
}

// Close stops the replay loop and closes the archive.
func (sa *SpoolingArchive) Close() {
	logger.Info().Msg("Closing spooling archive")
	sa.cancel()
	sa.wg.Wait()
	sa.archive.Close()
}

// Spooling reports whether writes are currently being diverted.
func (sa *SpoolingArchive) Spooling() bool {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	return sa.spooling
}

func (sa *SpoolingArchive) monitorAndReplay() {
	defer sa.wg.Done()

	ticker := time.NewTicker(sa.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sa.ctx.Done():
			return
		case <-ticker.C:
			if !sa.Spooling() {
				continue
			}

			healthCtx, healthCancel := context.WithTimeout(sa.ctx, alertTimeout)
			err := sa.archive.Health(healthCtx)
			healthCancel()
			if err != nil {
				logger.Debug().Err(err).Msg("Archive still unhealthy, keeping spool enabled")
				continue
			}

			logger.Info().Msg("Archive is healthy, replaying spooled sessions")
			if failed := sa.replay(); failed > 0 {
				continue
			}

			sa.mu.Lock()
			alerted := sa.alerted
			sa.spooling = false
			sa.alerted = false
			sa.mu.Unlock()

			if alerted && sa.notifier != nil && sa.notifier.IsEnabled() {
				alertCtx, alertCancel := context.WithTimeout(sa.ctx, alertTimeout)
				if notifyErr := sa.notifier.SendArchiveRecovery(alertCtx); notifyErr != nil {
					logger.Error().Err(notifyErr).Msg("Failed to send archive recovery alert")
				}
				alertCancel()
			}
		}
	}
}

// replay archives every spooled session and returns how many failed.
func (sa *SpoolingArchive) replay() int {
	entries, err := sa.spool.List()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list spooled sessions")
		return 1
	}

	failed := 0
	for _, entry := range entries {
		if err := sa.archive.Archive(sa.ctx, entry.DeviceID, entry.Session); err != nil {
			logger.Warn().Err(err).Str("session_id", entry.Session.ID).Msg("Failed to replay spooled session")
			failed++
			continue
		}
		if err := sa.spool.Delete(entry.Session.ID); err != nil {
			logger.Warn().Err(err).Str("session_id", entry.Session.ID).Msg("Failed to delete replayed session from spool")
		}
	}

	logger.Info().
		Int("success", len(entries)-failed).
		Int("failed", failed).
		Msg("Finished replaying spooled sessions")
	return failed
}
