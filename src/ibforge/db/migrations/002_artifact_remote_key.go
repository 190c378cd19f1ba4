package migrations

import "database/sql"

func migration002ArtifactRemoteKey() Migration {
	return Migration{
		Version:     2,
		Description: "Track published storage keys for build artifacts",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`ALTER TABLE build_artifacts ADD COLUMN remote_key TEXT NOT NULL DEFAULT ''`)
			return err
		},
	}
}
