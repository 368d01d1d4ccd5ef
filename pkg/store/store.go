// Package store owns the durable patient and consultation collections.
//
// Every mutation runs inside Write, which holds a process-wide lock for the
// whole read-modify-write cycle and wraps it in a database transaction.
// Reads outside Write are plain snapshots.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/novacare/clinic-intake/pkg/common/models"
	"gorm.io/gorm"
)

type Store struct {
	db      *gorm.DB
	writeMu sync.Mutex
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&models.Patient{}, &models.Consultation{}); err != nil {
		return fmt.Errorf("migrating record store: %w", err)
	}
	return nil
}

// Read returns a handle for snapshot reads bound to ctx.
func (s *Store) Read(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// Write runs fn with exclusive access to the store. If fn returns an error
// the transaction is rolled back and nothing is persisted.
func (s *Store) Write(ctx context.Context, fn func(tx *gorm.DB) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.WithContext(ctx).Transaction(fn)
}
