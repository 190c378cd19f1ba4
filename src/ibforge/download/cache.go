package download

import (
	"os"

	"github.com/bitswalk/ibforge/src/common/errors"
	"github.com/bitswalk/ibforge/src/ibforge/db"
)

// errNoIndex is returned by cache maintenance when no index is configured
var errNoIndex = errors.ErrInvalidConfig.WithMessage("archive cache index is disabled (database.enabled=false)")

// CacheStats summarises the indexed archive cache
type CacheStats struct {
	Entries    int
	TotalBytes int64
}

// List returns indexed archives, least recently used first
func (m *Manager) List() ([]db.ArchiveEntry, error) {
	if m.index == nil {
		return nil, errNoIndex
	}
	entries, err := m.index.ListLRU(0)
	if err != nil {
		return nil, errors.ErrDatabaseQuery.WithCause(err)
	}
	return entries, nil
}

// Stats returns cache statistics
func (m *Manager) Stats() (CacheStats, error) {
	if m.index == nil {
		return CacheStats{}, errNoIndex
	}
	total, err := m.index.TotalSize()
	if err != nil {
		return CacheStats{}, errors.ErrDatabaseQuery.WithCause(err)
	}
	count, err := m.index.Count()
	if err != nil {
		return CacheStats{}, errors.ErrDatabaseQuery.WithCause(err)
	}
	return CacheStats{Entries: count, TotalBytes: total}, nil
}

// Prune evicts least recently used archives until the indexed total is at
// most maxBytes. Index entries whose file has vanished are dropped as well.
// It returns the evicted entries.
func (m *Manager) Prune(maxBytes int64) ([]db.ArchiveEntry, error) {
	if m.index == nil {
		return nil, errNoIndex
	}

	entries, err := m.index.ListLRU(0)
	if err != nil {
		return nil, errors.ErrDatabaseQuery.WithCause(err)
	}

	var evicted []db.ArchiveEntry
	var remaining []db.ArchiveEntry
	for _, entry := range entries {
		if _, err := os.Stat(entry.CachePath); os.IsNotExist(err) {
			log.Info("Removing stale cache entry", "file", entry.FileName)
			if err := m.index.Delete(entry.ID); err != nil {
				log.Warn("Failed to delete cache entry", "id", entry.ID, "error", err)
				continue
			}
			evicted = append(evicted, entry)
			continue
		}
		remaining = append(remaining, entry)
	}

	total, err := m.index.TotalSize()
	if err != nil {
		return evicted, errors.ErrDatabaseQuery.WithCause(err)
	}

	for _, entry := range remaining {
		if total <= maxBytes {
			break
		}
		if err := os.Remove(entry.CachePath); err != nil && !os.IsNotExist(err) {
			log.Warn("Failed to delete cached archive", "path", entry.CachePath, "error", err)
			continue
		}
		if err := m.index.Delete(entry.ID); err != nil {
			log.Warn("Failed to delete cache entry", "id", entry.ID, "error", err)
			continue
		}
		total -= entry.SizeBytes
		evicted = append(evicted, entry)
		log.Info("Evicted cache entry", "file", entry.FileName, "size", formatBytes(entry.SizeBytes))
	}

	return evicted, nil
}
