package migrations

import "database/sql"

func migration001InitialSchema() Migration {
	return Migration{
		Version:     1,
		Description: "Archive cache index and build history",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS archives (
					id TEXT PRIMARY KEY,
					file_name TEXT NOT NULL,
					distro TEXT NOT NULL DEFAULT '',
					branch TEXT NOT NULL DEFAULT '',
					target TEXT NOT NULL DEFAULT '',
					source_url TEXT NOT NULL DEFAULT '',
					checksum TEXT NOT NULL DEFAULT '',
					cache_path TEXT NOT NULL UNIQUE,
					size_bytes INTEGER DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					last_used_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					use_count INTEGER DEFAULT 1
				)
			`)
			if err != nil {
				return err
			}

			_, err = tx.Exec(`CREATE INDEX IF NOT EXISTS idx_archives_last_used ON archives(last_used_at)`)
			if err != nil {
				return err
			}

			_, err = tx.Exec(`
				CREATE TABLE IF NOT EXISTS builds (
					id TEXT PRIMARY KEY,
					target TEXT NOT NULL,
					profile TEXT NOT NULL,
					distro TEXT NOT NULL,
					branch TEXT NOT NULL,
					tunnel TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'running',
					error_message TEXT NOT NULL DEFAULT '',
					started_at DATETIME NOT NULL,
					completed_at DATETIME
				)
			`)
			if err != nil {
				return err
			}

			_, err = tx.Exec(`CREATE INDEX IF NOT EXISTS idx_builds_started ON builds(started_at)`)
			if err != nil {
				return err
			}

			_, err = tx.Exec(`
				CREATE TABLE IF NOT EXISTS build_artifacts (
					id TEXT PRIMARY KEY,
					build_id TEXT NOT NULL,
					variant TEXT NOT NULL,
					file_name TEXT NOT NULL,
					path TEXT NOT NULL,
					checksum TEXT NOT NULL DEFAULT '',
					size_bytes INTEGER DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (build_id) REFERENCES builds(id) ON DELETE CASCADE
				)
			`)
			if err != nil {
				return err
			}

			_, err = tx.Exec(`CREATE INDEX IF NOT EXISTS idx_build_artifacts_build ON build_artifacts(build_id)`)
			return err
		},
	}
}
