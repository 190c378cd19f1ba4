package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ArchiveEntry records one Image Builder archive held in the local cache
type ArchiveEntry struct {
	ID         string    `json:"id"`
	FileName   string    `json:"file_name"`
	Distro     string    `json:"distro"`
	Branch     string    `json:"branch"`
	Target     string    `json:"target"`
	SourceURL  string    `json:"source_url"`
	Checksum   string    `json:"checksum"`
	CachePath  string    `json:"cache_path"`
	SizeBytes  int64     `json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	UseCount   int       `json:"use_count"`
}

// ArchiveRepository handles archive cache index operations
type ArchiveRepository struct {
	db  *Database
	now func() time.Time
}

// NewArchiveRepository creates a new archive repository
func NewArchiveRepository(db *Database) *ArchiveRepository {
	return &ArchiveRepository{db: db, now: time.Now}
}

const archiveColumns = `id, file_name, distro, branch, target, source_url, checksum,
	cache_path, size_bytes, created_at, last_used_at, use_count`

// Upsert records an archive, replacing any previous entry for the same cache path
func (r *ArchiveRepository) Upsert(entry *ArchiveEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	now := r.now().UTC()
	entry.CreatedAt = now
	entry.LastUsedAt = now
	if entry.UseCount == 0 {
		entry.UseCount = 1
	}

	_, err := r.db.DB().Exec(`
		INSERT INTO archives (`+archiveColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_path) DO UPDATE SET
			file_name = excluded.file_name,
			distro = excluded.distro,
			branch = excluded.branch,
			target = excluded.target,
			source_url = excluded.source_url,
			checksum = excluded.checksum,
			size_bytes = excluded.size_bytes,
			last_used_at = excluded.last_used_at,
			use_count = archives.use_count + 1`,
		entry.ID, entry.FileName, entry.Distro, entry.Branch, entry.Target,
		entry.SourceURL, entry.Checksum, entry.CachePath, entry.SizeBytes,
		entry.CreatedAt, entry.LastUsedAt, entry.UseCount,
	)
	if err != nil {
		return fmt.Errorf("failed to record archive: %w", err)
	}
	return nil
}

// GetByPath retrieves an entry by cache path; nil when absent
func (r *ArchiveRepository) GetByPath(cachePath string) (*ArchiveEntry, error) {
	row := r.db.DB().QueryRow(`SELECT `+archiveColumns+` FROM archives WHERE cache_path = ?`, cachePath)

	var e ArchiveEntry
	err := scanArchive(row.Scan, &e)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan archive entry: %w", err)
	}
	return &e, nil
}

// TouchLastUsed updates last_used_at and increments use_count
func (r *ArchiveRepository) TouchLastUsed(cachePath string) error {
	_, err := r.db.DB().Exec(`
		UPDATE archives SET last_used_at = ?, use_count = use_count + 1 WHERE cache_path = ?`,
		r.now().UTC(), cachePath,
	)
	return err
}

// Delete removes an entry by ID
func (r *ArchiveRepository) Delete(id string) error {
	result, err := r.db.DB().Exec(`DELETE FROM archives WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete archive entry: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("archive entry not found: %s", id)
	}
	return nil
}

// ListLRU returns entries ordered least recently used first. A limit <= 0
// returns every entry.
func (r *ArchiveRepository) ListLRU(limit int) ([]ArchiveEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.DB().Query(`
		SELECT `+archiveColumns+` FROM archives
		ORDER BY last_used_at ASC, created_at ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list archive entries: %w", err)
	}
	defer rows.Close()

	var entries []ArchiveEntry
	for rows.Next() {
		var e ArchiveEntry
		if err := scanArchive(rows.Scan, &e); err != nil {
			return nil, fmt.Errorf("failed to scan archive entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// TotalSize returns the sum of all indexed archive sizes in bytes
func (r *ArchiveRepository) TotalSize() (int64, error) {
	var total sql.NullInt64
	err := r.db.DB().QueryRow(`SELECT SUM(size_bytes) FROM archives`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to get total cache size: %w", err)
	}
	if !total.Valid {
		return 0, nil
	}
	return total.Int64, nil
}

// Count returns the number of indexed archives
func (r *ArchiveRepository) Count() (int, error) {
	var count int
	err := r.db.DB().QueryRow(`SELECT COUNT(*) FROM archives`).Scan(&count)
	return count, err
}

func scanArchive(scan func(dest ...any) error, e *ArchiveEntry) error {
	return scan(
		&e.ID, &e.FileName, &e.Distro, &e.Branch, &e.Target, &e.SourceURL,
		&e.Checksum, &e.CachePath, &e.SizeBytes,
		&e.CreatedAt, &e.LastUsedAt, &e.UseCount,
	)
}
