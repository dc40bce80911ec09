package commands

import (
	"database/sql"
	"errors"
	"log/slog"

	"github.com/dotcommander/oakd/internal/app"
	"github.com/dotcommander/oakd/internal/models"
	"github.com/dotcommander/oakd/internal/store"
)

// DB is an alias so command code doesn't need to import database/sql.
type DB = sql.DB

type printedError struct {
	err error
}

func (e printedError) Error() string {
	// Intentionally hide the original error: the JSON error response is the output.
	return "error already printed"
}

// openDB opens the resolved database path and verifies its schema is
// current. Unlike InitDBWithPath (used by tests and the migrate command
// itself), a normal command never applies migrations implicitly -- an
// out-of-date schema is a "run oakd migrate" error, not a silent upgrade.
func openDB() (*DB, func(), error) {
	dbPath, err := app.GetDBPath()
	if err != nil {
		return nil, nil, err
	}

	db, err := store.OpenDB(dbPath)
	if err != nil {
		return nil, nil, err
	}
	if err := store.CheckSchemaVersion(db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	return db, func() { _ = db.Close() }, nil
}

func withDB(fn func(db *DB) error) error {
	db, closeDB, err := openDB()
	if err != nil {
		return cmdErr(err)
	}
	defer closeDB()

	if err := fn(db); err != nil {
		return cmdErr(err)
	}
	return nil
}

func cmdErr(err error) error {
	if err == nil {
		return nil
	}
	attrs := []any{"error", err.Error()}
	var recoverable models.RecoverableError
	if errors.As(err, &recoverable) {
		attrs = append(attrs, "error_code", recoverable.ErrorCode(), "suggested_action", recoverable.SuggestedAction())
		for k, v := range recoverable.Context() {
			attrs = append(attrs, k, v)
		}
	}
	slog.Error("command error", attrs...)
	return printedError{err: err}
}
