// Package store persists the client registry and the delivery log.
//
// The registry (clients.json) is a single JSON object keyed by client id,
// held in memory and rewritten wholesale on every mutation via a
// write-temp-then-rename so a crash mid-write never corrupts the file. The
// delivery log (notifications.log) is an append-only, size-rotated NDJSON
// file. Every operation serializes on one mutex — the registry is small
// enough, and this system small enough in scale, that concurrent readers
// are not worth a separate RWMutex.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hermesrelay/hermes/internal/models"
)

const (
	clientsFileName = "clients.json"
	logFileName     = "notifications.log"

	// DefaultLogMaxBytes is the rotation threshold when Config.LogMaxBytes
	// is left at zero.
	DefaultLogMaxBytes = 5 * 1024 * 1024
	// DefaultLogBackupCount is the number of rotated backups kept when
	// Config.LogBackupCount is left at zero.
	DefaultLogBackupCount = 3
)

// Config configures a Store.
type Config struct {
	// DataDir is the directory holding clients.json and notifications.log.
	// Created if it does not exist.
	DataDir string
	// LogMaxBytes is the size threshold that triggers log rotation.
	// Defaults to DefaultLogMaxBytes.
	LogMaxBytes int64
	// LogBackupCount is the number of numbered backups retained.
	// Defaults to DefaultLogBackupCount.
	LogBackupCount int
}

// Store is the process-wide registry and delivery-log persistence layer.
type Store struct {
	log *zap.Logger

	dataDir     string
	maxBytes    int64
	backupCount int

	mu      sync.Mutex
	clients map[string]*models.Client

	logFile *os.File
	logSize int64
}

// New opens (or creates) the store under cfg.DataDir.
func New(cfg Config, log *zap.Logger) (*Store, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("store: data dir required")
	}
	if cfg.LogMaxBytes <= 0 {
		cfg.LogMaxBytes = DefaultLogMaxBytes
	}
	if cfg.LogBackupCount <= 0 {
		cfg.LogBackupCount = DefaultLogBackupCount
	}
	if log == nil {
		log = zap.NewNop()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	s := &Store{
		log:         log.Named("store"),
		dataDir:     cfg.DataDir,
		maxBytes:    cfg.LogMaxBytes,
		backupCount: cfg.LogBackupCount,
		clients:     make(map[string]*models.Client),
	}

	if err := s.loadClients(); err != nil {
		return nil, err
	}
	if err := s.openLogFile(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the underlying log file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logFile != nil {
		return s.logFile.Close()
	}
	return nil
}

func (s *Store) clientsPath() string {
	return filepath.Join(s.dataDir, clientsFileName)
}

func (s *Store) logPath() string {
	return filepath.Join(s.dataDir, logFileName)
}

func (s *Store) loadClients() error {
	data, err := os.ReadFile(s.clientsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("store: read clients.json: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	var onDisk map[string]*models.Client
	if err := json.Unmarshal(data, &onDisk); err != nil {
		return fmt.Errorf("store: decode clients.json: %w", err)
	}
	s.clients = onDisk
	return nil
}

// persistClients must be called with s.mu held. It writes the full registry
// to a sibling temp file and renames it over clients.json.
func (s *Store) persistClients() error {
	data, err := json.MarshalIndent(s.clients, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode clients.json: %w", err)
	}
	tmp, err := os.CreateTemp(s.dataDir, "clients-*.json.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.clientsPath()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: rename temp file: %w", err)
	}
	return nil
}

// ListClients returns a snapshot of every client in the registry (active and
// soft-deleted), sorted by id for deterministic output.
func (s *Store) ListClients(_ context.Context) ([]models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Stats is a point-in-time snapshot of registry and log size, used by the
// housekeeping job and the active-clients gauge. It is pure observability —
// never consulted by the dispatcher or relevance predicate.
type Stats struct {
	ActiveClients   int
	InactiveClients int
	LogSizeBytes    int64
}

// Stats returns the current registry and log-file statistics.
func (s *Store) Stats(_ context.Context) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	for _, c := range s.clients {
		if c.Active {
			st.ActiveClients++
		} else {
			st.InactiveClients++
		}
	}
	st.LogSizeBytes = s.logSize
	return st
}

// Get returns the client with the given id, or ErrNotFound.
func (s *Store) Get(_ context.Context, id string) (*models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// GetByCallback returns the client registered under the given callback URL,
// or ErrNotFound. Soft-deleted clients are matched too, so a re-registration
// finds and reactivates the existing record instead of creating a new one.
func (s *Store) GetByCallback(_ context.Context, callbackURL string) (*models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.clients {
		if c.CallbackURL == callbackURL {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// Save upserts a client. If client.ID is empty a new id is assigned. A
// client that already exists under the same CallbackURL is updated in place
// (re-registration reactivates a soft-deleted client) rather than
// duplicated, keeping Invariant 1 (at most one active record per
// callback_url).
func (s *Store) Save(_ context.Context, c *models.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	if c.ID == "" {
		if existing := s.findByCallbackLocked(c.CallbackURL); existing != nil {
			c.ID = existing.ID
			c.RegisteredAt = existing.RegisteredAt
		} else {
			c.ID = uuid.NewString()
			c.RegisteredAt = now
		}
	}
	if c.RegisteredAt.IsZero() {
		c.RegisteredAt = now
	}
	if c.LastSeen.IsZero() {
		c.LastSeen = now
	}
	c.Active = true

	cp := *c
	s.clients[c.ID] = &cp

	if err := s.persistClients(); err != nil {
		return err
	}
	*c = cp
	return nil
}

func (s *Store) findByCallbackLocked(callbackURL string) *models.Client {
	for _, c := range s.clients {
		if c.CallbackURL == callbackURL {
			return c
		}
	}
	return nil
}

// UpdateLastSeen stamps last_seen to when and persists it. Called by the
// dispatcher after a successful (2xx) delivery.
func (s *Store) UpdateLastSeen(_ context.Context, id string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[id]
	if !ok {
		return ErrNotFound
	}
	c.LastSeen = when
	return s.persistClients()
}

// UpdateSubscriptions replaces a client's subscription set.
func (s *Store) UpdateSubscriptions(_ context.Context, id string, subs []models.EventType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[id]
	if !ok {
		return ErrNotFound
	}
	c.Subscriptions = subs
	return s.persistClients()
}

// Delete soft-deletes a client (sets active=false). Returns false if id is
// unknown. Deleting an already-inactive client is a no-op that still
// reports success (idempotent soft-delete).
func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[id]
	if !ok {
		return false, nil
	}
	if !c.Active {
		return true, nil
	}
	c.Active = false
	if err := s.persistClients(); err != nil {
		return false, err
	}
	return true, nil
}
