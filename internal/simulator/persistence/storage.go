// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"log/slog"

	"github.com/ffutop/modbus-master/internal/config"
	"github.com/ffutop/modbus-master/internal/simulator/model"
)

// Storage keeps the simulated slave's data model across restarts.
type Storage interface {
	// Load returns the stored model, or a zeroed one when nothing is stored yet.
	Load() (*model.DataModel, error)

	// Save flushes the whole model.
	Save(model *model.DataModel) error

	// OnWrite is called after a range of a table was modified.
	OnWrite(table model.TableType, address, quantity uint16)

	Close() error
}

// New returns the storage selected by cfg.
func New(cfg config.PersistenceConfig) (Storage, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "file":
		return NewFileStorage(cfg.Path), nil
	case "mmap":
		return NewMmapStorage(cfg.Path), nil
	}
	return nil, fmt.Errorf("persistence: unknown type %q", cfg.Type)
}

// Open creates the storage selected by cfg and loads its model. When the
// backing file cannot be loaded it falls back to a fresh in-memory model.
func Open(cfg config.PersistenceConfig) (Storage, *model.DataModel, error) {
	storage, err := New(cfg)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("loading simulator data", "persistence", cfg.Type, "path", cfg.Path)

	m, err := storage.Load()
	if err != nil {
		slog.Error("failed to load persistence data, falling back to memory storage", "err", err)
		storage.Close()
		storage = NewMemoryStorage()
		m, _ = storage.Load()
	}
	return storage, m, nil
}
