package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/healthmate/internal/model"
	_ "github.com/mattn/go-sqlite3"
)

const createKVTable = `CREATE TABLE IF NOT EXISTS kv_store (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// SQLiteStore はSQLiteのキー・バリューテーブルを使うTokenStore。
type SQLiteStore struct {
	db *sql.DB
}

var _ TokenStore = (*SQLiteStore)(nil)

// OpenSQLiteStore はSQLiteファイルを開き、テーブルが無ければ作成する。
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite token store: %w", err)
	}
	// 書き込みはアクター1つからのみ
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite token store: %w", err)
	}
	if _, err := db.ExecContext(ctx, createKVTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create kv_store table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close はデータベースを閉じる。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load は保存済みのセッションを読み込む。
func (s *SQLiteStore) Load(ctx context.Context) (*model.Session, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, SessionKey).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return decodeSession([]byte(value))
}

// Save はセッションを保存する。
func (s *SQLiteStore) Save(ctx context.Context, session *model.Session) error {
	data, err := encodeSession(session)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		SessionKey, string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Clear は保存済みのセッションを削除する。
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, SessionKey); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
