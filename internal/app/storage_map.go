package app

import (
	"fmt"
	"strings"

	"github.com/geoffrothman/smores/internal/config"
	"github.com/geoffrothman/smores/internal/storage"
)

func mapStorageConfig(cfg *config.Config, res config.Resolved) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "sqlite", "sqlite3":
		if path == "" {
			path = "./data/smores.db"
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: res.BusyTimeout}, nil
	case "postgres", "postgresql", "pq":
		return storage.Config{Driver: "postgres", DSN: sc.DSN, MaxOpenConns: sc.MaxOpenConns}, nil
	case "memory", "mem":
		return storage.Config{Driver: "memory"}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}
