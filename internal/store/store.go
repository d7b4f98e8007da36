// Package store persists answer logs and regression run reports to postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

type Store struct {
	DB *sql.DB
}

// New opens a postgres connection pool.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

// AnswerLogRecord is one persisted answer.
type AnswerLogRecord struct {
	ID        string
	FlowRunID string
	SessionID string
	Question  string
	RouteType string
	Country   string
	Answer    json.RawMessage
	Cost      float64
	Tokens    int64
	CreatedAt time.Time
}

// SaveAnswerLog persists one answered question.
func (s *Store) SaveAnswerLog(ctx context.Context, rec AnswerLogRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO answer_logs (id, flow_run_id, session_id, question, route_type, country, answer, cost, tokens, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rec.ID, rec.FlowRunID, rec.SessionID, rec.Question, rec.RouteType, rec.Country,
		[]byte(rec.Answer), rec.Cost, rec.Tokens, rec.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("insert answer log: %w", err)
	}
	return rec.ID, nil
}

// RecentAnswerLogs returns the newest answer logs, newest first.
func (s *Store) RecentAnswerLogs(ctx context.Context, limit int) ([]AnswerLogRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, flow_run_id, session_id, question, route_type, country, answer, cost, tokens, created_at
FROM answer_logs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query answer logs: %w", err)
	}
	defer rows.Close()

	var out []AnswerLogRecord
	for rows.Next() {
		var rec AnswerLogRecord
		var answer []byte
		if err := rows.Scan(&rec.ID, &rec.FlowRunID, &rec.SessionID, &rec.Question,
			&rec.RouteType, &rec.Country, &answer, &rec.Cost, &rec.Tokens, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan answer log: %w", err)
		}
		rec.Answer = answer
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RegressionRunRecord is one persisted regression run report.
type RegressionRunRecord struct {
	ID        string
	Total     int
	Passed    int
	Failed    int
	Report    json.RawMessage
	CreatedAt time.Time
}

// SaveRegressionRun persists an aggregated regression report.
func (s *Store) SaveRegressionRun(ctx context.Context, rec RegressionRunRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO regression_runs (id, total, passed, failed, report, created_at)
VALUES ($1,$2,$3,$4,$5,$6)`,
		rec.ID, rec.Total, rec.Passed, rec.Failed, []byte(rec.Report), rec.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("insert regression run: %w", err)
	}
	return rec.ID, nil
}

// LastRegressionRun returns the most recent run report, if any.
func (s *Store) LastRegressionRun(ctx context.Context) (*RegressionRunRecord, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, total, passed, failed, report, created_at
FROM regression_runs ORDER BY created_at DESC LIMIT 1`)

	var rec RegressionRunRecord
	var report []byte
	if err := row.Scan(&rec.ID, &rec.Total, &rec.Passed, &rec.Failed, &report, &rec.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan regression run: %w", err)
	}
	rec.Report = report
	return &rec, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.DB.Close() }
