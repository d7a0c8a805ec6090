package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/hitoshi/healthmate/internal/model"
)

// FileStore はJSONファイルをキー・バリューストアとして使うTokenStore。
// ファイルは {"<key>": <value>} の形で、他のキーがあれば保持する。
type FileStore struct {
	path string
	mu   sync.Mutex
}

var _ TokenStore = (*FileStore)(nil)

// NewFileStore はFileStoreを生成する。ファイルは最初の保存時に作成される。
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load は保存済みのセッションを読み込む。
func (s *FileStore) Load(ctx context.Context) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return nil, err
	}
	raw, ok := entries[SessionKey]
	if !ok {
		return nil, nil
	}
	return decodeSession(raw)
}

// Save はセッションを保存する。
func (s *FileStore) Save(ctx context.Context, session *model.Session) error {
	data, err := encodeSession(session)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		// 壊れたファイルは上書きする
		entries = map[string]json.RawMessage{}
	}
	entries[SessionKey] = data
	return s.write(entries)
}

// Clear は保存済みのセッションを削除する。
func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return s.write(map[string]json.RawMessage{})
	}
	if _, ok := entries[SessionKey]; !ok {
		return nil
	}
	delete(entries, SessionKey)
	return s.write(entries)
}

func (s *FileStore) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token store: %w", err)
	}
	entries := map[string]json.RawMessage{}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse token store: %w", err)
	}
	return entries, nil
}

// write は一時ファイルに書いてからrenameし、途中で中断しても既存の内容を壊さない。
func (s *FileStore) write(entries map[string]json.RawMessage) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode token store: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create token store directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".healthmate-session-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token store: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod token store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close token store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace token store: %w", err)
	}
	return nil
}
