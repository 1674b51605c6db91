// Package logging wires the structured, key=value logging style the
// sync core uses throughout: every component logger is scoped with
// account_id and, where relevant, folder, mirroring how the original
// Python source binds logging context per account/folder.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger for the process. levelName is one of
// "debug", "info", "warn", "error" (case-insensitive); unrecognized values
// default to "info".
func New(levelName string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(strings.ToLower(levelName))
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// ForAccount scopes a logger to one account, the unit every Folder Sync
// Engine and pool operation logs against.
func ForAccount(base zerolog.Logger, accountID int64, emailAddress string) zerolog.Logger {
	return base.With().Int64("account_id", accountID).Str("account", emailAddress).Logger()
}

// ForFolder further scopes an account logger to one folder, the unit one
// Engine instance owns for its lifetime.
func ForFolder(base zerolog.Logger, folderID int64, displayName string) zerolog.Logger {
	return base.With().Int64("folder_id", folderID).Str("folder", displayName).Logger()
}
