package cart

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Storage — локальное хранилище устройства: один сериализованный блок на ключ.
// Load возвращает nil без ошибки, если ключ ещё не записан.
type Storage interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
}

// FileStorage хранит каждый ключ в отдельном JSON-файле каталога состояния.
type FileStorage struct {
	dir string
}

// NewFileStorage создаёт файловое хранилище в dir.
func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{dir: dir}
}

// Load читает файл ключа.
func (f *FileStorage) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Save атомарно перезаписывает файл ключа через временный файл и rename.
func (f *FileStorage) Save(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(f.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), f.path(key)); err != nil {
		return fmt.Errorf("replace %s: %w", key, err)
	}
	return nil
}

func (f *FileStorage) path(key string) string {
	return filepath.Join(f.dir, key+".json")
}

// MemoryStorage — хранилище в памяти процесса (тесты и одноразовые сессии).
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string][]byte
	saves int
}

// NewMemoryStorage создаёт пустое хранилище.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string][]byte)}
}

func (m *MemoryStorage) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.items[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStorage) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = append([]byte(nil), data...)
	m.saves++
	return nil
}

// Saves возвращает число выполненных записей.
func (m *MemoryStorage) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

var (
	_ Storage = (*FileStorage)(nil)
	_ Storage = (*MemoryStorage)(nil)
)
