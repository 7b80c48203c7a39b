package sqlite

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const defaultMaxConns = 2

// SqliteStore 交易日志与风控状态快照，实现 engine.Journal。
type SqliteStore struct {
	db *gorm.DB
}

type Option func(*storeOptions)

type storeOptions struct {
	maxConns int
	logMode  gormlogger.LogLevel
}

// WithMaxConns WAL 模式下允许 HTTP 查询与 tick 写入并行。
func WithMaxConns(n int) Option {
	return func(o *storeOptions) {
		if n > 0 {
			o.maxConns = n
		}
	}
}

// WithSQLLog 打印每条 SQL，排查用。
func WithSQLLog() Option {
	return func(o *storeOptions) { o.logMode = gormlogger.Info }
}

func NewSqliteStore(path string, opts ...Option) (*SqliteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	o := storeOptions{maxConns: defaultMaxConns, logMode: gormlogger.Silent}
	for _, opt := range opts {
		opt(&o)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	db, err := gorm.Open(sqlite.Open(journalDSN(path)), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(o.logMode),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	st, err := migrate(db)
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(o.maxConns)
		sqlDB.SetMaxIdleConns(o.maxConns)
	}
	return st, nil
}

// NewSqliteStoreFromDB 复用已打开的连接，测试或共享库文件时使用。
func NewSqliteStoreFromDB(db *gorm.DB) (*SqliteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db 不能为空")
	}
	return migrate(db)
}

func journalDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
}

func migrate(db *gorm.DB) (*SqliteStore, error) {
	if err := db.AutoMigrate(&TradeRecord{}, &RiskSnapshotRecord{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
