// Package repotest opens throwaway in-memory databases for tests in other
// packages.
package repotest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/timmy/mediavault/internal/config"
	"github.com/timmy/mediavault/internal/repository"
)

// NewDB returns a migrated memory database closed when t finishes.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{Driver: "memory", Path: "test-" + uuid.New().String()})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}
