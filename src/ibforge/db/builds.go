package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BuildStatus represents the outcome of a build run
type BuildStatus string

const (
	BuildStatusRunning   BuildStatus = "running"
	BuildStatusCompleted BuildStatus = "completed"
	BuildStatusFailed    BuildStatus = "failed"
)

// Build is one invocation of the build pipeline
type Build struct {
	ID           string       `json:"id"`
	Target       string       `json:"target"`
	Profile      string       `json:"profile"`
	Distro       string       `json:"distro"`
	Branch       string       `json:"branch"`
	Tunnel       string       `json:"tunnel"`
	Status       BuildStatus  `json:"status"`
	ErrorMessage string       `json:"error_message,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	CompletedAt  sql.NullTime `json:"completed_at"`
}

// BuildArtifact is one published firmware image
type BuildArtifact struct {
	ID        string    `json:"id"`
	BuildID   string    `json:"build_id"`
	Variant   string    `json:"variant"`
	FileName  string    `json:"file_name"`
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	SizeBytes int64     `json:"size_bytes"`
	RemoteKey string    `json:"remote_key"`
	CreatedAt time.Time `json:"created_at"`
}

// BuildRepository handles build history operations
type BuildRepository struct {
	db  *Database
	now func() time.Time
}

// NewBuildRepository creates a new build repository
func NewBuildRepository(db *Database) *BuildRepository {
	return &BuildRepository{db: db, now: time.Now}
}

// Create inserts a build in running state
func (r *BuildRepository) Create(b *Build) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	b.Status = BuildStatusRunning
	b.StartedAt = r.now().UTC()

	_, err := r.db.DB().Exec(`
		INSERT INTO builds (id, target, profile, distro, branch, tunnel, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Target, b.Profile, b.Distro, b.Branch, b.Tunnel, b.Status, b.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create build: %w", err)
	}
	return nil
}

// MarkCompleted marks a build as successfully finished
func (r *BuildRepository) MarkCompleted(id string) error {
	return r.finish(id, BuildStatusCompleted, "")
}

// MarkFailed marks a build as failed with the given message
func (r *BuildRepository) MarkFailed(id, message string) error {
	return r.finish(id, BuildStatusFailed, message)
}

func (r *BuildRepository) finish(id string, status BuildStatus, message string) error {
	result, err := r.db.DB().Exec(`
		UPDATE builds SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		status, message, r.now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update build: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("build not found: %s", id)
	}
	return nil
}

// Get retrieves a build by ID; nil when absent
func (r *BuildRepository) Get(id string) (*Build, error) {
	row := r.db.DB().QueryRow(`
		SELECT id, target, profile, distro, branch, tunnel, status, error_message, started_at, completed_at
		FROM builds WHERE id = ?`, id)

	var b Build
	err := row.Scan(&b.ID, &b.Target, &b.Profile, &b.Distro, &b.Branch, &b.Tunnel,
		&b.Status, &b.ErrorMessage, &b.StartedAt, &b.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan build: %w", err)
	}
	return &b, nil
}

// List returns the most recent builds first
func (r *BuildRepository) List(limit int) ([]Build, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.DB().Query(`
		SELECT id, target, profile, distro, branch, tunnel, status, error_message, started_at, completed_at
		FROM builds ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list builds: %w", err)
	}
	defer rows.Close()

	var builds []Build
	for rows.Next() {
		var b Build
		if err := rows.Scan(&b.ID, &b.Target, &b.Profile, &b.Distro, &b.Branch, &b.Tunnel,
			&b.Status, &b.ErrorMessage, &b.StartedAt, &b.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan build: %w", err)
		}
		builds = append(builds, b)
	}
	return builds, rows.Err()
}

// AddArtifact records an artifact for a build
func (r *BuildRepository) AddArtifact(a *BuildArtifact) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.CreatedAt = r.now().UTC()

	_, err := r.db.DB().Exec(`
		INSERT INTO build_artifacts (id, build_id, variant, file_name, path, checksum, size_bytes, remote_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.BuildID, a.Variant, a.FileName, a.Path, a.Checksum, a.SizeBytes, a.RemoteKey, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add build artifact: %w", err)
	}
	return nil
}

// SetArtifactChecksum stores the published digest of an artifact
func (r *BuildRepository) SetArtifactChecksum(buildID, fileName, checksum string) error {
	_, err := r.db.DB().Exec(`
		UPDATE build_artifacts SET checksum = ? WHERE build_id = ? AND file_name = ?`,
		checksum, buildID, fileName)
	return err
}

// SetArtifactRemoteKey stores where an artifact was published
func (r *BuildRepository) SetArtifactRemoteKey(buildID, fileName, key string) error {
	_, err := r.db.DB().Exec(`
		UPDATE build_artifacts SET remote_key = ? WHERE build_id = ? AND file_name = ?`,
		key, buildID, fileName)
	return err
}

// ListArtifacts returns the artifacts of a build in creation order
func (r *BuildRepository) ListArtifacts(buildID string) ([]BuildArtifact, error) {
	rows, err := r.db.DB().Query(`
		SELECT id, build_id, variant, file_name, path, checksum, size_bytes, remote_key, created_at
		FROM build_artifacts WHERE build_id = ? ORDER BY created_at ASC, rowid ASC`, buildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list build artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []BuildArtifact
	for rows.Next() {
		var a BuildArtifact
		if err := rows.Scan(&a.ID, &a.BuildID, &a.Variant, &a.FileName, &a.Path,
			&a.Checksum, &a.SizeBytes, &a.RemoteKey, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan build artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}
