package survey

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/kwv/tapmesh/points"
)

// OpenStore opens the configured point store. The returned close function
// flushes it: a memory store with a path is saved back as JSON, a SQLite
// store is closed.
func OpenStore(cfg StoreConfig) (points.Store, func() error, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := points.OpenSQLiteStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("[STORE] using sqlite store %s", cfg.Path)
		return s, s.Close, nil

	case "memory", "":
		if cfg.Path == "" {
			return points.NewMemoryStore(), func() error { return nil }, nil
		}
		s, err := points.LoadMemoryStore(cfg.Path)
		if errors.Is(err, os.ErrNotExist) {
			s, err = points.NewMemoryStore(), nil
		}
		if err != nil {
			return nil, nil, err
		}
		log.Printf("[STORE] using memory store backed by %s (%d points)", cfg.Path, s.Len())
		return s, func() error { return s.Save(cfg.Path) }, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
