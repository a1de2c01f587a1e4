package storage

import (
	"errors"
	"strings"

	logx "remindbot/pkg/logx"
)

// Open creates the configured persistence backend.
// It returns ErrDisabled when the driver is empty or "none"; callers that
// tolerate running without persistence check for it with errors.Is.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, ErrDisabled
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
