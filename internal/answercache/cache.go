package answercache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"donecast/internal/config"
	"donecast/internal/logging"
	"donecast/internal/session"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const schema = `
CREATE TABLE IF NOT EXISTS audio_answers (
	audio_ref        TEXT PRIMARY KEY,
	transcript_ready INTEGER NOT NULL DEFAULT 0,
	transcript_path  TEXT NOT NULL DEFAULT '',
	resolutions      TEXT NOT NULL DEFAULT '{}',
	accepted         TEXT NOT NULL DEFAULT '{}',
	updated_at       TEXT NOT NULL
);
`

// Entry summarizes one cached audio reference for presentation.
type Entry struct {
	AudioRef        string
	TranscriptReady bool
	Resolved        int
	UpdatedAt       time.Time
}

// Store manages the answer cache backed by SQLite. A disabled store is valid
// and turns every operation into a no-op.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open initializes or connects to the answer cache database. Returns a no-op
// store when the cache is disabled in configuration.
func Open(cfg *config.Config, logger *slog.Logger) (*Store, error) {
	logger = logging.NewComponentLogger(logger, "answercache")
	if cfg == nil || !cfg.Cache.Enabled {
		return &Store{logger: logger}, nil
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Cache.Dir, "answers.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init answer cache schema: %w", err)
	}

	return &Store{db: db, path: dbPath, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Enabled reports whether the store persists anything.
func (s *Store) Enabled() bool {
	return s != nil && s.db != nil
}

// Lookup returns the cached state for an audio reference if present.
func (s *Store) Lookup(ctx context.Context, audioRef string) (session.CachedState, bool, error) {
	audioRef = strings.TrimSpace(audioRef)
	if !s.Enabled() || audioRef == "" {
		return session.CachedState{}, false, nil
	}

	var (
		ready           int
		path            string
		resolutionsJSON string
		acceptedJSON    string
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT transcript_ready, transcript_path, resolutions, accepted FROM audio_answers WHERE audio_ref = ?`,
		audioRef)
	if err := row.Scan(&ready, &path, &resolutionsJSON, &acceptedJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.CachedState{}, false, nil
		}
		return session.CachedState{}, false, fmt.Errorf("lookup answer cache: %w", err)
	}

	state := session.CachedState{
		Transcript:  session.Transcript{Ready: ready != 0, Path: path},
		Resolutions: map[session.IntentKind]session.Resolution{},
		Accepted:    map[session.IntentKind][]session.ReviewItem{},
	}
	if err := json.Unmarshal([]byte(resolutionsJSON), &state.Resolutions); err != nil {
		return session.CachedState{}, false, fmt.Errorf("parse cached resolutions: %w", err)
	}
	if err := json.Unmarshal([]byte(acceptedJSON), &state.Accepted); err != nil {
		return session.CachedState{}, false, fmt.Errorf("parse cached accepted edits: %w", err)
	}
	return state, true, nil
}

// Save upserts the cached state for an audio reference.
func (s *Store) Save(ctx context.Context, audioRef string, state session.CachedState) error {
	audioRef = strings.TrimSpace(audioRef)
	if audioRef == "" {
		return errors.New("audio reference cannot be empty")
	}
	if !s.Enabled() {
		return nil
	}

	resolutionsJSON, err := json.Marshal(state.Resolutions)
	if err != nil {
		return fmt.Errorf("encode resolutions: %w", err)
	}
	acceptedJSON, err := json.Marshal(state.Accepted)
	if err != nil {
		return fmt.Errorf("encode accepted edits: %w", err)
	}
	ready := 0
	if state.Transcript.Ready {
		ready = 1
	}

	err = s.execWithRetry(ctx, `
INSERT INTO audio_answers (audio_ref, transcript_ready, transcript_path, resolutions, accepted, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(audio_ref) DO UPDATE SET
	transcript_ready = excluded.transcript_ready,
	transcript_path  = excluded.transcript_path,
	resolutions      = excluded.resolutions,
	accepted         = excluded.accepted,
	updated_at       = excluded.updated_at`,
		audioRef, ready, state.Transcript.Path,
		string(resolutionsJSON), string(acceptedJSON),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("persist answer cache: %w", err)
	}

	s.logger.Debug("cached audio answers",
		logging.String(logging.FieldAudioRef, audioRef),
		logging.Bool("transcript_ready", state.Transcript.Ready))
	return nil
}

// Remove deletes the cached state for an audio reference.
func (s *Store) Remove(ctx context.Context, audioRef string) error {
	audioRef = strings.TrimSpace(audioRef)
	if audioRef == "" {
		return errors.New("audio reference cannot be empty")
	}
	if !s.Enabled() {
		return nil
	}
	if err := s.execWithRetry(ctx, `DELETE FROM audio_answers WHERE audio_ref = ?`, audioRef); err != nil {
		return fmt.Errorf("remove cached answers: %w", err)
	}
	return nil
}

// List returns cache entries newest first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	if !s.Enabled() {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT audio_ref, transcript_ready, resolutions, updated_at FROM audio_answers ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list answer cache: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry           Entry
			ready           int
			resolutionsJSON string
			updated         string
		)
		if err := rows.Scan(&entry.AudioRef, &ready, &resolutionsJSON, &updated); err != nil {
			return nil, fmt.Errorf("scan answer cache row: %w", err)
		}
		entry.TranscriptReady = ready != 0
		resolutions := map[session.IntentKind]session.Resolution{}
		if err := json.Unmarshal([]byte(resolutionsJSON), &resolutions); err == nil {
			for _, res := range resolutions {
				if res != session.ResolutionUnknown {
					entry.Resolved++
				}
			}
		}
		if ts, err := time.Parse(time.RFC3339, updated); err == nil {
			entry.UpdatedAt = ts
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Clear removes every cached entry.
func (s *Store) Clear(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.execWithRetry(ctx, `DELETE FROM audio_answers`); err != nil {
		return fmt.Errorf("clear answer cache: %w", err)
	}
	return nil
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		_, lastErr = s.db.ExecContext(ctx, query, args...)
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
