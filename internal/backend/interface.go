package backend

import (
	"context"
	"time"

	"campi/internal/sheets"
	"campi/internal/sheets/cached"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the store and what is needed to tear it down.
type BackendResult struct {
	Store   sheets.RowStore
	Cache   *cached.Store // nil when caching is off
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// Google Sheets specific
	GoogleSpreadsheetID      string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// File backends
	XLSXPath     string
	SQLiteDBPath string

	// Read cache; zero TTL disables it
	CacheTTL       time.Duration
	CacheMaxTables int
	CacheSweep     time.Duration
}

// BackendType represents the type of backend
type BackendType string

const (
	MemoryBackend BackendType = "memory"
	SheetsBackend BackendType = "sheets"
	XLSXBackend   BackendType = "xlsx"
	SQLiteBackend BackendType = "sqlite"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SheetsBackend, XLSXBackend, SQLiteBackend:
		return true
	default:
		return false
	}
}

// Remote reports whether reads leave the process, which is when a read
// cache pays off.
func (bt BackendType) Remote() bool {
	return bt != MemoryBackend
}
