// Package intentlog 只追加的交易意图审计日志，每个 tick 一行。
package intentlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"perpflow/internal/types"

	_ "modernc.org/sqlite"
)

type IntentStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Entry 查询结果，附带自增 ID 与写入时间。
type Entry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"ts"`
	types.IntentRecord
}

type Query struct {
	Symbol      string
	AllowedOnly bool
	Limit       int
	Offset      int
}

func NewIntentStore(path string) (*IntentStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("intent log path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &IntentStore{db: db, path: path}, nil
}

func (s *IntentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS intents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			trace_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			signal TEXT NOT NULL,
			confidence TEXT,
			score REAL NOT NULL DEFAULT 0,
			size REAL NOT NULL DEFAULT 0,
			reduce_only INTEGER NOT NULL DEFAULT 0,
			price REAL NOT NULL DEFAULT 0,
			source TEXT,
			allowed INTEGER NOT NULL DEFAULT 0,
			reason TEXT,
			rationale_json TEXT
		);
		`,
		`CREATE INDEX IF NOT EXISTS idx_intents_symbol_ts ON intents(symbol, ts DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_intents_trace ON intents(trace_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *IntentStore) conn() (*sql.DB, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("intent log store 未初始化")
	}
	return db, nil
}

// Append 写入一条意图记录。
func (s *IntentStore) Append(ctx context.Context, rec types.IntentRecord) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	ts := rec.Intent.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	rationale := "[]"
	if len(rec.Intent.Rationale) > 0 {
		b, err := json.Marshal(rec.Intent.Rationale)
		if err != nil {
			return fmt.Errorf("marshal rationale: %w", err)
		}
		rationale = string(b)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO intents
			(ts, trace_id, symbol, signal, confidence, score, size, reduce_only, price, source, allowed, reason, rationale_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.UnixMilli(),
		rec.TraceID,
		strings.ToUpper(strings.TrimSpace(rec.Symbol)),
		rec.Intent.Signal,
		rec.Intent.Confidence,
		rec.Intent.ConfidenceScore,
		rec.Intent.Size,
		boolToInt(rec.Intent.ReduceOnly),
		rec.Intent.Price,
		rec.Intent.Source,
		boolToInt(rec.Allowed),
		rec.Reason,
		rationale,
	)
	return err
}

// List 按时间倒序分页。
func (s *IntentStore) List(ctx context.Context, q Query) ([]Entry, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	var (
		where []string
		args  []interface{}
	)
	if sym := strings.ToUpper(strings.TrimSpace(q.Symbol)); sym != "" {
		where = append(where, "symbol = ?")
		args = append(args, sym)
	}
	if q.AllowedOnly {
		where = append(where, "allowed = 1")
	}
	var sb strings.Builder
	sb.WriteString(`SELECT id, ts, trace_id, symbol, signal, confidence, score, size, reduce_only, price,
		source, allowed, reason, rationale_json FROM intents`)
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e          Entry
		ts         int64
		confidence sql.NullString
		source     sql.NullString
		reason     sql.NullString
		rationale  sql.NullString
		reduceOnly int
		allowed    int
	)
	in := &e.Intent
	if err := rows.Scan(&e.ID, &ts, &e.TraceID, &e.Symbol, &in.Signal, &confidence, &in.ConfidenceScore,
		&in.Size, &reduceOnly, &in.Price, &source, &allowed, &reason, &rationale); err != nil {
		return Entry{}, err
	}
	e.Timestamp = time.UnixMilli(ts)
	in.CreatedAt = e.Timestamp
	in.Confidence = confidence.String
	in.Source = source.String
	in.ReduceOnly = reduceOnly == 1
	e.Allowed = allowed == 1
	e.Reason = reason.String
	if rationale.Valid && rationale.String != "" {
		_ = json.Unmarshal([]byte(rationale.String), &in.Rationale)
	}
	return e, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
