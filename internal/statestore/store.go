package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"sort"
	"sync"
	"time"
)

// ErrInvalidEntity is returned for an empty entity id.
var ErrInvalidEntity = errors.New("statestore: entity id is required")

// Write sources recorded in state_history.
const (
	SourceZone     = "zone"
	SourceBridge   = "bridge"
	SourceAPI      = "api"
	SourceEnforcer = "enforcer"
)

// timeFormat sorts lexicographically, which the history queries rely on.
const timeFormat = "2006-01-02T15:04:05.000000Z"

// Entry is the current state of one entity.
type Entry struct {
	EntityID   string         `json:"entity_id"`
	Value      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (e Entry) clone() Entry {
	e.Attributes = maps.Clone(e.Attributes)
	return e
}

// Change describes a write that altered an entity's value or attributes.
type Change struct {
	EntityID string
	Old      Entry // zero when the entity is new
	New      Entry
	Source   string
}

// Logger is the logging interface used by the store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type sourceKey struct{}

// WithSource tags writes made with ctx. Set falls back to SourceZone.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func sourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return SourceZone
}

// Store is the SQLite-backed entity state store with a read cache.
type Store struct {
	db     *sql.DB
	logger Logger
	now    func() time.Time

	mu    sync.RWMutex
	cache map[string]Entry

	listenerMu sync.RWMutex
	listeners  []func(Change)
}

// New creates a store on an open, migrated database.
//
// Parameters:
//   - db: SQLite connection with the entity_state and state_history tables
//
// Returns:
//   - *Store: Store with an empty cache; call Load to warm it
func New(db *sql.DB) *Store {
	return &Store{
		db:     db,
		logger: noopLogger{},
		now:    time.Now,
		cache:  make(map[string]Entry),
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// OnChange registers fn to be called after every write that changes an
// entity's value or attributes.
func (s *Store) OnChange(fn func(Change)) {
	s.listenerMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenerMu.Unlock()
}

// Load replaces the cache with the contents of entity_state.
func (s *Store) Load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT entity_id, value, attributes, updated_at FROM entity_state",
	)
	if err != nil {
		return fmt.Errorf("querying entity state: %w", err)
	}
	defer rows.Close()

	cache := make(map[string]Entry)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return err
		}
		cache[e.EntityID] = e
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating entity state: %w", err)
	}

	s.mu.Lock()
	s.cache = cache
	s.mu.Unlock()

	s.logger.Info("state cache loaded", "entities", len(cache))
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e         Entry
		attrsJSON string
		updatedAt string
	)
	if err := row.Scan(&e.EntityID, &e.Value, &attrsJSON, &updatedAt); err != nil {
		return Entry{}, fmt.Errorf("scanning entity state: %w", err)
	}
	if err := json.Unmarshal([]byte(attrsJSON), &e.Attributes); err != nil {
		return Entry{}, fmt.Errorf("unmarshalling attributes of %s: %w", e.EntityID, err)
	}
	ts, err := parseTime(updatedAt)
	if err != nil {
		return Entry{}, err
	}
	e.UpdatedAt = ts
	return e, nil
}

// Get returns the value and attributes of an entity. An entity that has
// never been written returns "" with a nil error.
func (s *Store) Get(ctx context.Context, entityID string) (string, map[string]any, error) {
	if e, ok := s.Lookup(entityID); ok {
		return e.Value, e.Attributes, nil
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT entity_id, value, attributes, updated_at FROM entity_state WHERE entity_id = ?",
		entityID,
	)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, err
	}

	s.mu.Lock()
	s.cache[entityID] = e
	s.mu.Unlock()
	return e.Value, maps.Clone(e.Attributes), nil
}

// Lookup returns the cached entry for an entity.
func (s *Store) Lookup(entityID string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.cache[entityID]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// List returns every cached entry sorted by entity id.
func (s *Store) List() []Entry {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.cache))
	for _, e := range s.cache {
		out = append(out, e.clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// Set writes an entity's state. The history source is taken from ctx
// (see WithSource).
func (s *Store) Set(ctx context.Context, entityID, value string, attrs map[string]any) error {
	return s.SetWithSource(ctx, entityID, value, attrs, sourceFrom(ctx))
}

// SetWithSource writes an entity's state and appends a history row in one
// transaction. Nil attributes are stored as an empty object. Listeners are
// notified only when the value or attributes changed.
func (s *Store) SetWithSource(ctx context.Context, entityID, value string, attrs map[string]any, source string) error {
	if entityID == "" {
		return ErrInvalidEntity
	}
	if attrs == nil {
		attrs = map[string]any{}
	}

	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("marshalling attributes of %s: %w", entityID, err)
	}
	// Round-trip so the cache holds what a reload would return.
	var stored map[string]any
	if err := json.Unmarshal(attrsJSON, &stored); err != nil {
		return fmt.Errorf("unmarshalling attributes of %s: %w", entityID, err)
	}

	now := s.now().UTC()
	ts := now.Format(timeFormat)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entity_state (entity_id, value, attributes, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(entity_id) DO UPDATE SET
		     value = excluded.value,
		     attributes = excluded.attributes,
		     updated_at = excluded.updated_at`,
		entityID, value, string(attrsJSON), ts,
	); err != nil {
		return fmt.Errorf("writing state of %s: %w", entityID, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO state_history (entity_id, value, attributes, source, created_at) VALUES (?, ?, ?, ?, ?)",
		entityID, value, string(attrsJSON), source, ts,
	); err != nil {
		return fmt.Errorf("recording history of %s: %w", entityID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing state of %s: %w", entityID, err)
	}

	next := Entry{EntityID: entityID, Value: value, Attributes: stored, UpdatedAt: now.Truncate(time.Microsecond)}

	s.mu.Lock()
	prev, existed := s.cache[entityID]
	s.cache[entityID] = next
	s.mu.Unlock()

	if existed && prev.Value == value && reflect.DeepEqual(prev.Attributes, stored) {
		return nil
	}

	s.logger.Debug("entity state changed", "entity_id", entityID, "state", value, "source", source)
	s.notify(Change{EntityID: entityID, Old: prev.clone(), New: next.clone(), Source: source})
	return nil
}

func (s *Store) notify(c Change) {
	s.listenerMu.RLock()
	listeners := s.listeners
	s.listenerMu.RUnlock()

	for _, fn := range listeners {
		fn(c)
	}
}

func parseTime(value string) (time.Time, error) {
	ts, err := time.Parse(timeFormat, value)
	if err == nil {
		return ts, nil
	}
	if ts, rfcErr := time.Parse(time.RFC3339, value); rfcErr == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
}
