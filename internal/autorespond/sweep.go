package autorespond

import (
	"context"
	"log/slog"
	"time"
)

// sweepGracePeriod keeps files younger than this out of a sweep, covering
// the window between a store write and the rule row recording its path.
const sweepGracePeriod = time.Hour

// StoredMediaIndex lists every stored path the rule store still references.
type StoredMediaIndex interface {
	ListStoredMediaPaths(ctx context.Context) (map[string]struct{}, error)
}

// Sweeper removes stored media files no rule references anymore. Deletes
// are best-effort; the sweep reports counters instead of failing.
type Sweeper struct {
	logger *slog.Logger
	index  StoredMediaIndex
	store  *Store
}

func NewSweeper(log *slog.Logger, index StoredMediaIndex, store *Store) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		logger: log.With(slog.String("component", "media_sweeper")),
		index:  index,
		store:  store,
	}
}

// Sweep deletes orphaned files older than the grace period and returns how
// many were removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	referenced, err := s.index.ListStoredMediaPaths(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	scanned := 0
	for _, rel := range s.store.ListAll() {
		scanned++
		if _, ok := referenced[rel]; ok {
			continue
		}
		if modTime, ok := s.store.ModTime(rel); !ok || time.Since(modTime) < sweepGracePeriod {
			continue
		}
		if s.store.Delete(rel) {
			removed++
		}
	}

	s.logger.Info("media sweep finished",
		slog.Int("scanned", scanned),
		slog.Int("removed", removed),
		slog.Int("referenced", len(referenced)))
	return removed, nil
}
