// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/ffutop/modbus-master/internal/simulator/model"
)

// FileStorage keeps the model in an in-memory copy of the file and writes
// modified ranges back with WriteAt.
type FileStorage struct {
	path string

	mu    sync.Mutex
	file  *os.File
	data  []byte
	model *model.DataModel
}

// NewFileStorage creates a new FileStorage.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{
		path: path,
	}
}

// Load reads the file, creating or resizing it to the layout size.
func (fs *FileStorage) Load() (*model.DataModel, error) {
	f, err := openSized(fs.path)
	if err != nil {
		return nil, err
	}

	data := make([]byte, totalSize)
	if _, err := io.ReadFull(f, data); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	m := mapBytesToModel(data)

	fs.mu.Lock()
	fs.file, fs.data, fs.model = f, data, m
	fs.mu.Unlock()
	return m, nil
}

// Save writes the whole model and syncs it to disk.
func (fs *FileStorage) Save(*model.DataModel) error {
	return fs.sync(0, totalSize)
}

// OnWrite writes the modified range back and syncs it to disk.
func (fs *FileStorage) OnWrite(table model.TableType, address, quantity uint16) {
	offset, length := region(table, address, quantity)
	if err := fs.sync(offset, length); err != nil {
		slog.Error("failed to sync file", "table", table, "address", address, "err", err)
	}
}

func (fs *FileStorage) sync(offset, length int) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.syncLocked(offset, length)
}

func (fs *FileStorage) syncLocked(offset, length int) error {
	if fs.data == nil || fs.file == nil {
		return nil
	}
	end := offset + length
	if end > len(fs.data) {
		end = len(fs.data)
	}

	// The model writes these bytes under its own lock.
	var err error
	fs.model.View(func() {
		_, err = fs.file.WriteAt(fs.data[offset:end], int64(offset))
	})
	if err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file to disk: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (fs *FileStorage) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.file == nil {
		return nil
	}
	err := fs.syncLocked(0, totalSize)
	if e := fs.file.Close(); err == nil {
		err = e
	}
	fs.file, fs.data, fs.model = nil, nil, nil
	return err
}

// openSized opens path read-write and makes it exactly totalSize long.
func openSized(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() != int64(totalSize) {
		if err := f.Truncate(int64(totalSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to resize file: %w", err)
		}
	}
	return f, nil
}
