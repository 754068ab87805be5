package backend

import (
	"context"
	"errors"
	"fmt"

	"campi/internal/cache"
	"campi/internal/log"
	"campi/internal/sheets"
	"campi/internal/sheets/cached"
	gsheet "campi/internal/sheets/google"
	"campi/internal/sheets/memory"
	"campi/internal/sheets/xlsx"
	"campi/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
}

// CreateBackend builds the store selected by config and, for backends
// that leave the process, puts a read cache in front of it.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		store   sheets.RowStore
		closers []CleanupFunc
	)
	switch config.Type {
	case MemoryBackend:
		store = memory.New()
		f.logger.Info("Initialized memory backend")

	case SheetsBackend:
		cli, err := gsheet.New(ctx, gsheet.Config{
			SpreadsheetID:      config.GoogleSpreadsheetID,
			ServiceAccountJSON: config.GoogleServiceAccountJSON,
			ServiceAccountFile: config.GoogleServiceAccountFile,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
		}
		store = cli
		f.logger.Info("Initialized Google Sheets backend", "spreadsheet_id", config.GoogleSpreadsheetID)

	case XLSXBackend:
		wb, err := xlsx.New(config.XLSXPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize xlsx workbook: %w", err)
		}
		store = wb
		f.logger.Info("Initialized xlsx backend", "path", config.XLSXPath)

	case SQLiteBackend:
		db, err := storage.NewSQLiteStore(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
		}
		store = db
		closers = append(closers, db.Close)
		f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}

	result := &BackendResult{Store: store}
	if config.Type.Remote() && config.CacheTTL > 0 {
		maxTables := config.CacheMaxTables
		if maxTables <= 0 {
			maxTables = 16
		}
		rc := cached.New(store, config.CacheTTL, maxTables)
		mgr := cache.NewManager()
		mgr.Register(rc.Cache())
		if config.CacheSweep > 0 {
			mgr.StartCleanup(context.WithoutCancel(ctx), config.CacheSweep)
		}
		closers = append([]CleanupFunc{func() error { mgr.Stop(); return nil }}, closers...)

		result.Store = rc
		result.Cache = rc
		f.logger.Info("Read cache enabled", "ttl", config.CacheTTL.String(), "max_tables", maxTables)
	}

	result.Cleanup = func() error {
		var errs []error
		for _, c := range closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	return result, nil
}
