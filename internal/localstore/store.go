// Package localstore persists response records on the respondent's device.
//
// Entries are kept in a single SQLite table using the same layout the web client
// kept in localStorage:
//
//	current            {"data": "<record id>"}
//	<record id>        {"data": <record>}
//	resource/<name>    {"data": <payload>, "timestamp": <fetch time>}
//	session            {"data": {"page": ..., "language": ...}}
//
// Every write is committed with synchronous=FULL before the call returns, so a
// crash right after a mutation does not lose it. A single writer is assumed.
package localstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/soaringjerry/Malasakit/internal/logging"
	"github.com/soaringjerry/Malasakit/internal/record"
)

const (
	currentKey     = "current"
	sessionKey     = "session"
	resourcePrefix = "resource/"

	kindPointer  = "pointer"
	kindRecord   = "record"
	kindResource = "resource"
	kindSession  = "session"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	key        TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_kind ON entries (kind);
`

// envelope is the {"data": ...} wrapper around every stored value.
type envelope struct {
	Data      json.RawMessage `json:"data"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

// Session is the navigation state persisted next to the current record.
type Session struct {
	RecordID string `json:"record-id"`
	Page     string `json:"page"`
	Language string `json:"language"`
}

// Store is the durable key/value store backing the offline client.
type Store struct {
	db  *sql.DB
	log *zap.Logger
	now func() time.Time
}

// Open creates or opens the store at path.
func Open(path string, log *zap.Logger) (*Store, error) {
	log = logging.OrNop(log)
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.ToSlash(path))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create local store schema: %w", err)
	}
	log.Debug("local store opened", zap.String("path", path))
	return &Store{db: db, log: log, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) read(key string) (*envelope, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM entries WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &record.NotFoundError{Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &env, nil
}

func encode(data any, ts *time.Time) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(envelope{Data: b, Timestamp: ts})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (s *Store) write(x execer, key, kind string, data any, ts *time.Time) error {
	value, err := encode(data, ts)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = x.Exec(`INSERT INTO entries (key, kind, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET kind = excluded.kind, value = excluded.value, updated_at = excluded.updated_at`,
		key, kind, value, s.now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func validRecordKey(id string) error {
	if id == "" || id == currentKey || id == sessionKey || strings.HasPrefix(id, resourcePrefix) {
		return fmt.Errorf("invalid record id %q", id)
	}
	return nil
}

func (s *Store) decodeRecord(key string, env *envelope) (*record.Record, error) {
	var r record.Record
	if err := json.Unmarshal(env.Data, &r); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", key, err)
	}
	if r.ID == "" {
		r.ID = key
	}
	r.Normalize()
	return &r, nil
}

// Get loads one record by id. It returns nil when the record is absent or unreadable.
func (s *Store) Get(id string) *record.Record {
	env, err := s.read(id)
	if err != nil {
		if !errors.Is(err, record.ErrNotFound) {
			s.log.Error("local store: read record", zap.String("id", id), zap.Error(err))
		}
		return nil
	}
	r, err := s.decodeRecord(id, env)
	if err != nil {
		s.log.Error("local store: corrupt record", zap.String("id", id), zap.Error(err))
		return nil
	}
	return r
}

// CurrentID returns the id the current pointer refers to.
func (s *Store) CurrentID() (string, error) {
	env, err := s.read(currentKey)
	if err != nil {
		return "", err
	}
	var id string
	if err := json.Unmarshal(env.Data, &id); err != nil {
		return "", fmt.Errorf("decode current pointer: %w", err)
	}
	if id == "" {
		return "", &record.NotFoundError{Key: currentKey}
	}
	return id, nil
}

// GetCurrent returns the current record, or nil when there is none or it cannot
// be read. Callers treat nil as "start fresh".
func (s *Store) GetCurrent() *record.Record {
	id, err := s.CurrentID()
	if err != nil {
		if !errors.Is(err, record.ErrNotFound) {
			s.log.Error("local store: current pointer unreadable, starting fresh", zap.Error(err))
		}
		return nil
	}
	env, err := s.read(id)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			s.log.Error("local store: current pointer is dangling, starting fresh", zap.String("id", id))
		} else {
			s.log.Error("local store: current record unreadable, starting fresh", zap.String("id", id), zap.Error(err))
		}
		return nil
	}
	r, err := s.decodeRecord(id, env)
	if err != nil {
		s.log.Error("local store: current record corrupt, starting fresh", zap.String("id", id), zap.Error(err))
		return nil
	}
	return r
}

// Put writes r without moving the current pointer.
func (s *Store) Put(r *record.Record) error {
	if err := validRecordKey(r.ID); err != nil {
		return err
	}
	return s.write(s.db, r.ID, kindRecord, r, nil)
}

// PutCurrent writes r and makes it the current record in one transaction.
func (s *Store) PutCurrent(r *record.Record) error {
	if err := validRecordKey(r.ID); err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if err := s.write(tx, r.ID, kindRecord, r, nil); err != nil {
		return err
	}
	if err := s.write(tx, currentKey, kindPointer, r.ID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// NewCurrent creates an empty record and makes it current. The previous current
// record stays in the store as history.
func (s *Store) NewCurrent(language string) (*record.Record, error) {
	r := record.New(language)
	if err := s.PutCurrent(r); err != nil {
		return nil, err
	}
	s.log.Info("started new response", zap.String("id", r.ID), zap.String("language", language))
	return r, nil
}

// ListAll returns every readable record ordered by creation time. Unreadable
// entries are logged and skipped.
func (s *Store) ListAll() ([]*record.Record, error) {
	rows, err := s.db.Query(`SELECT key, value FROM entries WHERE kind = ?`, kindRecord)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []*record.Record
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var env envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			s.log.Error("local store: corrupt entry skipped", zap.String("id", key), zap.Error(err))
			continue
		}
		r, err := s.decodeRecord(key, &env)
		if err != nil {
			s.log.Error("local store: corrupt record skipped", zap.String("id", key), zap.Error(err))
			continue
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Delete explicitly clears a record. Clearing the current record also clears the pointer.
func (s *Store) Delete(id string) error {
	cur, curErr := s.CurrentID()
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM entries WHERE key = ? AND kind = ?`, id, kindRecord); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if curErr == nil && cur == id {
		if _, err := tx.Exec(`DELETE FROM entries WHERE key = ?`, currentKey); err != nil {
			return fmt.Errorf("clear current pointer: %w", err)
		}
	}
	return tx.Commit()
}

// GetResource returns a cached resource payload and the time it was fetched.
func (s *Store) GetResource(name string) ([]byte, time.Time, bool) {
	env, err := s.read(resourcePrefix + name)
	if err != nil {
		if !errors.Is(err, record.ErrNotFound) {
			s.log.Warn("local store: cached resource unreadable", zap.String("resource", name), zap.Error(err))
		}
		return nil, time.Time{}, false
	}
	var fetched time.Time
	if env.Timestamp != nil {
		fetched = *env.Timestamp
	}
	return env.Data, fetched, true
}

// PutResource stores a resource payload with its fetch time.
func (s *Store) PutResource(name string, data []byte, fetchedAt time.Time) error {
	if !json.Valid(data) {
		return fmt.Errorf("resource %s: payload is not JSON", name)
	}
	return s.write(s.db, resourcePrefix+name, kindResource, json.RawMessage(data), &fetchedAt)
}

// LoadSession returns the persisted navigation state, if any.
func (s *Store) LoadSession() (*Session, bool) {
	env, err := s.read(sessionKey)
	if err != nil {
		return nil, false
	}
	var sess Session
	if err := json.Unmarshal(env.Data, &sess); err != nil {
		s.log.Warn("local store: session unreadable, ignoring", zap.Error(err))
		return nil, false
	}
	return &sess, true
}

// SaveSession persists navigation state.
func (s *Store) SaveSession(sess Session) error {
	return s.write(s.db, sessionKey, kindSession, sess, nil)
}
