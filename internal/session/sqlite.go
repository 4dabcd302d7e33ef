package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"Rectify/internal/apperr"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists sessions as JSON state rows
type SQLiteStore struct {
	db     *sql.DB
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path
func NewSQLiteStore(path string, ttl time.Duration, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	createSessionsTable := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		chart_id TEXT,
		status TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0,
		question_count INTEGER NOT NULL DEFAULT 0,
		answer_count INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL,
		created_at DATETIME,
		updated_at DATETIME,
		expires_at DATETIME
	);`

	createExchangesTable := `
	CREATE TABLE IF NOT EXISTS exchanges (
		session_id TEXT NOT NULL,
		question_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		category TEXT,
		question TEXT,
		answer TEXT,
		quality REAL,
		answered_at DATETIME,
		PRIMARY KEY (session_id, question_id),
		FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);`

	if _, err := db.Exec(createSessionsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sessions table: %w", err)
	}

	if _, err := db.Exec(createExchangesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create exchanges table: %w", err)
	}

	return &SQLiteStore{db: db, ttl: ttl, logger: logger, now: time.Now}, nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get loads a session by id. Expired rows are reported as not found.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	var state string
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx, "SELECT state, expires_at FROM sessions WHERE id = ?", id).
		Scan(&state, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindSessionNotFound, "session %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if expiresAt.Valid && s.now().After(expiresAt.Time) {
		return nil, apperr.New(apperr.KindSessionNotFound, "session %s expired", id)
	}

	var sess Session
	if err := json.Unmarshal([]byte(state), &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session state: %w", err)
	}
	return &sess, nil
}

// Put inserts or replaces the session row and records any new exchanges
func (s *SQLiteStore) Put(ctx context.Context, sess *Session) error {
	state, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}

	var expiresAt sql.NullTime
	if s.ttl > 0 {
		expiresAt = sql.NullTime{Time: s.now().Add(s.ttl), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions
			(id, chart_id, status, confidence, question_count, answer_count, state, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ChartID, string(sess.Status), sess.Confidence,
		len(sess.Questions), len(sess.Answers), string(state),
		sess.CreatedAt, sess.UpdatedAt, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	for i, ex := range sess.Exchanges() {
		var quality sql.NullFloat64
		if ex.Answer.Quality != nil {
			quality = sql.NullFloat64{Float64: *ex.Answer.Quality, Valid: true}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO exchanges
				(session_id, question_id, seq, category, question, answer, quality, answered_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, ex.Question.ID, i, string(ex.Question.Category),
			ex.Question.Text, ex.Answer.Text, quality, ex.Answer.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to save exchange: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}

	s.logger.Debug("session saved", "session_id", sess.ID, "status", sess.Status, "answers", len(sess.Answers))
	return nil
}

// TranscriptRow is one answered question as recorded in the exchanges table
type TranscriptRow struct {
	QuestionID string    `json:"question_id"`
	Category   string    `json:"category"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Quality    *float64  `json:"quality,omitempty"`
	AnsweredAt time.Time `json:"answered_at"`
}

// Transcript returns the recorded exchanges of a session in answer order
func (s *SQLiteStore) Transcript(ctx context.Context, id string) ([]TranscriptRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT question_id, category, question, answer, quality, answered_at
		FROM exchanges WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	defer rows.Close()

	out := []TranscriptRow{}
	for rows.Next() {
		var row TranscriptRow
		var quality sql.NullFloat64
		if err := rows.Scan(&row.QuestionID, &row.Category, &row.Question, &row.Answer, &quality, &row.AnsweredAt); err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		if quality.Valid {
			q := quality.Float64
			row.Quality = &q
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// List returns summaries of live sessions, most recently updated first
func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chart_id, status, confidence, question_count, answer_count, updated_at
		FROM sessions
		WHERE expires_at IS NULL OR expires_at > ?
		ORDER BY updated_at DESC`, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var sum Summary
		var chartID sql.NullString
		var status string
		if err := rows.Scan(&sum.ID, &chartID, &status, &sum.Confidence, &sum.Questions, &sum.Answers, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sum.ChartID = chartID.String
		sum.Status = Status(status)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Purge deletes expired rows and returns how many were removed
func (s *SQLiteStore) Purge(ctx context.Context) (int64, error) {
	now := s.now()
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM exchanges WHERE session_id IN (SELECT id FROM sessions WHERE expires_at IS NOT NULL AND expires_at <= ?)", now); err != nil {
		return 0, fmt.Errorf("failed to purge exchanges: %w", err)
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at IS NOT NULL AND expires_at <= ?", now)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("purged expired sessions", "count", n)
	}
	return n, nil
}
