package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSaveAnswerLog(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := &Store{DB: db}

	mock.ExpectExec("INSERT INTO answer_logs").
		WithArgs(sqlmock.AnyArg(), "run-1", "sess-1", "금리 전망", "macro_indicator", "KR",
			[]byte(`{"text":"답변"}`), 0.01, int64(500), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := s.SaveAnswerLog(context.Background(), AnswerLogRecord{
		FlowRunID: "run-1",
		SessionID: "sess-1",
		Question:  "금리 전망",
		RouteType: "macro_indicator",
		Country:   "KR",
		Answer:    json.RawMessage(`{"text":"답변"}`),
		Cost:      0.01,
		Tokens:    500,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if id == "" {
		t.Fatalf("id not assigned")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecentAnswerLogs(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := &Store{DB: db}

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "flow_run_id", "session_id", "question", "route_type", "country", "answer", "cost", "tokens", "created_at",
	}).AddRow("a1", "run-1", "", "q1", "general", "KR", []byte(`{}`), 0.0, int64(0), now)

	mock.ExpectQuery("SELECT (.+) FROM answer_logs ORDER BY created_at DESC").
		WithArgs(10).
		WillReturnRows(rows)

	logs, err := s.RecentAnswerLogs(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(logs) != 1 || logs[0].ID != "a1" {
		t.Fatalf("logs = %+v", logs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveRegressionRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := &Store{DB: db}

	mock.ExpectExec("INSERT INTO regression_runs").
		WithArgs(sqlmock.AnyArg(), 10, 8, 2, []byte(`{"cases":[]}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if _, err := s.SaveRegressionRun(context.Background(), RegressionRunRecord{
		Total: 10, Passed: 8, Failed: 2, Report: json.RawMessage(`{"cases":[]}`),
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLastRegressionRunEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := &Store{DB: db}

	mock.ExpectQuery("SELECT (.+) FROM regression_runs").
		WillReturnRows(sqlmock.NewRows([]string{"id", "total", "passed", "failed", "report", "created_at"}))

	rec, err := s.LastRegressionRun(context.Background())
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if rec != nil {
		t.Fatalf("rec = %+v, want nil on empty table", rec)
	}
}
