package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sjawhar/meetroom/internal/transcript"
)

const (
	SummaryPending   = "pending"
	SummaryRunning   = "running"
	SummaryCompleted = "completed"
	SummaryFailed    = "failed"
)

type MeetingStatus string

const (
	StatusScheduled  MeetingStatus = "scheduled"
	StatusInProgress MeetingStatus = "in-progress"
	StatusCompleted  MeetingStatus = "completed"
	StatusCancelled  MeetingStatus = "cancelled"
)

func (s MeetingStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// ErrNotFound is returned when a meeting does not exist.
var ErrNotFound = errors.New("not found")

// AssistantConfig is the knowledge and persona handed to the voice assistant.
// It exists per user and, optionally, per meeting.
type AssistantConfig struct {
	Name          string   `json:"name,omitempty"`
	Objective     string   `json:"objective"`
	OpeningPhrase string   `json:"opening_phrase"`
	KnowledgeBase string   `json:"knowledge_base"`
	Links         []string `json:"links"`
}

type Meeting struct {
	ID              string             `json:"id"`
	UserID          string             `json:"user_id"`
	Title           string             `json:"title"`
	ScheduledAt     time.Time          `json:"scheduled_at"`
	DurationMinutes int                `json:"duration_minutes"`
	Status          MeetingStatus      `json:"status"`
	AssistantConfig AssistantConfig    `json:"assistant_config"`
	Transcript      []transcript.Entry `json:"transcript,omitempty"`
	Summary         string             `json:"summary"`
	SummaryStatus   string             `json:"summary_status"`
	SummaryPreset   string             `json:"summary_preset"`
	RecordingPath   string             `json:"recording_path,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "meetroom.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS meetings (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			scheduled_at TEXT NOT NULL,
			duration_minutes INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'scheduled',
			objective TEXT NOT NULL DEFAULT '',
			opening_phrase TEXT NOT NULL DEFAULT '',
			knowledge_base TEXT NOT NULL DEFAULT '',
			links TEXT NOT NULL DEFAULT '[]',
			summary TEXT NOT NULL DEFAULT '',
			summary_status TEXT NOT NULL DEFAULT 'pending',
			summary_preset TEXT NOT NULL DEFAULT '',
			recording_path TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create meetings table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS transcript_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			meeting_id TEXT NOT NULL,
			entry_id TEXT NOT NULL,
			speaker TEXT NOT NULL,
			text TEXT NOT NULL,
			kind TEXT NOT NULL,
			timestamp_ms INTEGER NOT NULL,
			FOREIGN KEY(meeting_id) REFERENCES meetings(id) ON DELETE CASCADE
		);
	`); err != nil {
		return fmt.Errorf("create transcript_entries table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS assistant_configs (
			user_id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			objective TEXT NOT NULL DEFAULT '',
			opening_phrase TEXT NOT NULL DEFAULT '',
			knowledge_base TEXT NOT NULL DEFAULT '',
			links TEXT NOT NULL DEFAULT '[]',
			updated_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create assistant_configs table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS summary_requests (
			meeting_id TEXT NOT NULL,
			prompt_hash TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(meeting_id, prompt_hash)
		);
	`); err != nil {
		return fmt.Errorf("create summary_requests table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_meetings_user_id ON meetings(user_id, scheduled_at)"); err != nil {
		return fmt.Errorf("create meetings index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_transcript_entries_meeting_id ON transcript_entries(meeting_id, id)"); err != nil {
		return fmt.Errorf("create transcript_entries index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// CreateMeeting schedules a meeting. A blank ID is replaced with a new UUID and
// a blank status defaults to scheduled.
func (s *SQLiteStore) CreateMeeting(ctx context.Context, m Meeting) (Meeting, error) {
	if strings.TrimSpace(m.UserID) == "" {
		return Meeting{}, errors.New("user id is required")
	}
	if strings.TrimSpace(m.Title) == "" {
		return Meeting{}, errors.New("meeting title is required")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = StatusScheduled
	}
	if !m.Status.Valid() {
		return Meeting{}, fmt.Errorf("invalid meeting status %q", m.Status)
	}

	links, err := encodeLinks(m.AssistantConfig.Links)
	if err != nil {
		return Meeting{}, err
	}

	now := s.timestamp()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO meetings(id, user_id, title, scheduled_at, duration_minutes, status,
			objective, opening_phrase, knowledge_base, links, summary_status, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID,
		m.UserID,
		strings.TrimSpace(m.Title),
		m.ScheduledAt.UTC().Format(time.RFC3339Nano),
		m.DurationMinutes,
		string(m.Status),
		strings.TrimSpace(m.AssistantConfig.Objective),
		strings.TrimSpace(m.AssistantConfig.OpeningPhrase),
		strings.TrimSpace(m.AssistantConfig.KnowledgeBase),
		links,
		SummaryPending,
		now,
		now,
	)
	if err != nil {
		return Meeting{}, fmt.Errorf("create meeting %s: %w", m.ID, err)
	}

	return s.LoadMeeting(ctx, m.ID)
}

// LoadMeeting returns the meeting together with its persisted transcript.
func (s *SQLiteStore) LoadMeeting(ctx context.Context, id string) (Meeting, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = ?`, id)

	m, err := scanMeeting(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Meeting{}, fmt.Errorf("meeting %s: %w", id, ErrNotFound)
		}
		return Meeting{}, fmt.Errorf("query meeting %s: %w", id, err)
	}

	entries, err := s.GetTranscript(ctx, id)
	if err != nil {
		return Meeting{}, err
	}
	m.Transcript = entries

	return m, nil
}

func (s *SQLiteStore) ListMeetings(ctx context.Context, userID string) ([]Meeting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE user_id = ? ORDER BY scheduled_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query meetings for user %s: %w", userID, err)
	}
	defer func() { _ = rows.Close() }()

	meetings := make([]Meeting, 0, 16)
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		meetings = append(meetings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate meetings rows: %w", err)
	}

	return meetings, nil
}

func (s *SQLiteStore) UpdateMeetingStatus(ctx context.Context, id string, status MeetingStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid meeting status %q", status)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE meetings SET status = ?, updated_at = ? WHERE id = ?`,
		string(status),
		s.timestamp(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update status for meeting %s: %w", id, err)
	}
	return requireRow(res, id)
}

// SaveSessionResult replaces the meeting's transcript with entries and sets its
// status in one transaction. entries is only read.
func (s *SQLiteStore) SaveSessionResult(ctx context.Context, meetingID string, entries []transcript.Entry, status MeetingStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid meeting status %q", status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session result tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE meetings SET status = ?, updated_at = ? WHERE id = ?`,
		string(status),
		s.timestamp(),
		meetingID,
	)
	if err != nil {
		return fmt.Errorf("update status for meeting %s: %w", meetingID, err)
	}
	if err := requireRow(res, meetingID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_entries WHERE meeting_id = ?`, meetingID); err != nil {
		return fmt.Errorf("clear transcript for meeting %s: %w", meetingID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO transcript_entries(meeting_id, entry_id, speaker, text, kind, timestamp_ms) VALUES(?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare transcript insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			meetingID,
			e.ID,
			string(e.Speaker),
			strings.TrimSpace(e.Text),
			string(e.Kind),
			e.Timestamp,
		); err != nil {
			return fmt.Errorf("insert transcript entry for meeting %s: %w", meetingID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session result for meeting %s: %w", meetingID, err)
	}
	return nil
}

func (s *SQLiteStore) GetTranscript(ctx context.Context, meetingID string) ([]transcript.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id, speaker, text, kind, timestamp_ms
		 FROM transcript_entries
		 WHERE meeting_id = ?
		 ORDER BY id ASC`,
		meetingID,
	)
	if err != nil {
		return nil, fmt.Errorf("query transcript for meeting %s: %w", meetingID, err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]transcript.Entry, 0, 32)
	for rows.Next() {
		var e transcript.Entry
		var speaker, kind string
		if err := rows.Scan(&e.ID, &speaker, &e.Text, &kind, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan transcript entry for meeting %s: %w", meetingID, err)
		}
		e.Speaker = transcript.Speaker(speaker)
		e.Kind = transcript.Kind(kind)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows for meeting %s: %w", meetingID, err)
	}

	return entries, nil
}

// LoadAssistantConfig returns the user's assistant config, or an empty config
// when the user never saved one.
func (s *SQLiteStore) LoadAssistantConfig(ctx context.Context, userID string) (AssistantConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, objective, opening_phrase, knowledge_base, links FROM assistant_configs WHERE user_id = ?`,
		userID,
	)

	var cfg AssistantConfig
	var links string
	if err := row.Scan(&cfg.Name, &cfg.Objective, &cfg.OpeningPhrase, &cfg.KnowledgeBase, &links); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AssistantConfig{Links: []string{}}, nil
		}
		return AssistantConfig{}, fmt.Errorf("query assistant config for user %s: %w", userID, err)
	}

	parsed, err := decodeLinks(links)
	if err != nil {
		return AssistantConfig{}, fmt.Errorf("decode assistant links for user %s: %w", userID, err)
	}
	cfg.Links = parsed

	return cfg, nil
}

func (s *SQLiteStore) SaveAssistantConfig(ctx context.Context, userID string, cfg AssistantConfig) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("user id is required")
	}

	links, err := encodeLinks(cfg.Links)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO assistant_configs(user_id, name, objective, opening_phrase, knowledge_base, links, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			name = excluded.name,
			objective = excluded.objective,
			opening_phrase = excluded.opening_phrase,
			knowledge_base = excluded.knowledge_base,
			links = excluded.links,
			updated_at = excluded.updated_at`,
		userID,
		strings.TrimSpace(cfg.Name),
		strings.TrimSpace(cfg.Objective),
		strings.TrimSpace(cfg.OpeningPhrase),
		strings.TrimSpace(cfg.KnowledgeBase),
		links,
		s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("save assistant config for user %s: %w", userID, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateSummary(ctx context.Context, meetingID, summary, status, preset string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE meetings SET summary = ?, summary_status = ?, summary_preset = ?, updated_at = ? WHERE id = ?`,
		summary,
		status,
		preset,
		s.timestamp(),
		meetingID,
	)
	if err != nil {
		return fmt.Errorf("update summary for meeting %s: %w", meetingID, err)
	}
	return requireRow(res, meetingID)
}

func (s *SQLiteStore) SetRecordingPath(ctx context.Context, meetingID, path string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE meetings SET recording_path = ?, updated_at = ? WHERE id = ?`,
		path,
		s.timestamp(),
		meetingID,
	)
	if err != nil {
		return fmt.Errorf("set recording path for meeting %s: %w", meetingID, err)
	}
	return requireRow(res, meetingID)
}

func (s *SQLiteStore) ClaimSummaryRequest(meetingID, promptHash string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO summary_requests(meeting_id, prompt_hash) VALUES(?, ?)`,
		meetingID,
		promptHash,
	)
	if err != nil {
		return false, fmt.Errorf("claim summary request for meeting %s: %w", meetingID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim summary rows affected: %w", err)
	}

	return rows > 0, nil
}

const meetingColumns = `id, user_id, title, scheduled_at, duration_minutes, status,
	objective, opening_phrase, knowledge_base, links,
	summary, summary_status, summary_preset, recording_path, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row rowScanner) (Meeting, error) {
	var m Meeting
	var status, scheduledAt, links, createdAt, updatedAt string
	if err := row.Scan(
		&m.ID, &m.UserID, &m.Title, &scheduledAt, &m.DurationMinutes, &status,
		&m.AssistantConfig.Objective, &m.AssistantConfig.OpeningPhrase, &m.AssistantConfig.KnowledgeBase, &links,
		&m.Summary, &m.SummaryStatus, &m.SummaryPreset, &m.RecordingPath, &createdAt, &updatedAt,
	); err != nil {
		return Meeting{}, err
	}
	m.Status = MeetingStatus(status)

	var err error
	if m.ScheduledAt, err = time.Parse(time.RFC3339Nano, scheduledAt); err != nil {
		return Meeting{}, fmt.Errorf("parse meeting %s scheduled_at: %w", m.ID, err)
	}
	if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Meeting{}, fmt.Errorf("parse meeting %s created_at: %w", m.ID, err)
	}
	if m.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Meeting{}, fmt.Errorf("parse meeting %s updated_at: %w", m.ID, err)
	}
	if m.AssistantConfig.Links, err = decodeLinks(links); err != nil {
		return Meeting{}, fmt.Errorf("decode meeting %s links: %w", m.ID, err)
	}

	return m, nil
}

func requireRow(res sql.Result, meetingID string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for meeting %s: %w", meetingID, err)
	}
	if rows == 0 {
		return fmt.Errorf("meeting %s: %w", meetingID, ErrNotFound)
	}
	return nil
}

func encodeLinks(links []string) (string, error) {
	cleaned := make([]string, 0, len(links))
	for _, l := range links {
		if l = strings.TrimSpace(l); l != "" {
			cleaned = append(cleaned, l)
		}
	}
	b, err := json.Marshal(cleaned)
	if err != nil {
		return "", fmt.Errorf("encode links: %w", err)
	}
	return string(b), nil
}

func decodeLinks(raw string) ([]string, error) {
	links := []string{}
	if strings.TrimSpace(raw) == "" {
		return links, nil
	}
	if err := json.Unmarshal([]byte(raw), &links); err != nil {
		return nil, err
	}
	return links, nil
}
