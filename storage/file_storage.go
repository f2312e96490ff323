package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/vultisig/sharekeeper/contexthelper"
)

const (
	fileMode = 0o600
	dirMode  = 0o700
)

// FileStorage keeps objects as files. Keys are paths.
type FileStorage struct{}

func NewFileStorage() *FileStorage {
	return &FileStorage{}
}

func (f *FileStorage) Read(ctx context.Context, key string) ([]byte, error) {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("fail to read %s, err: %w", key, err)
	}
	return data, nil
}

func (f *FileStorage) Write(ctx context.Context, key string, data []byte) error {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return err
	}
	dir := filepath.Dir(key)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("fail to create directory %s, err: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(key)+".tmp-*")
	if err != nil {
		return fmt.Errorf("fail to create temp file, err: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("fail to write %s, err: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fail to sync %s, err: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("fail to close %s, err: %w", key, err)
	}
	if err := os.Chmod(tmp.Name(), fileMode); err != nil {
		return fmt.Errorf("fail to chmod %s, err: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), key); err != nil {
		return fmt.Errorf("fail to move %s into place, err: %w", key, err)
	}
	return nil
}

func (f *FileStorage) Rename(ctx context.Context, from, to string) error {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return err
	}
	if err := os.Rename(from, to); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, from)
		}
		return fmt.Errorf("fail to rename %s to %s, err: %w", from, to, err)
	}
	return nil
}

func (f *FileStorage) Delete(ctx context.Context, key string) error {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return err
	}
	if err := os.Remove(key); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("fail to delete %s, err: %w", key, err)
	}
	return nil
}

func (f *FileStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return false, err
	}
	_, err := os.Stat(key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("fail to stat %s, err: %w", key, err)
}
