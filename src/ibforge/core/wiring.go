package core

import (
	"context"

	"github.com/spf13/viper"

	"github.com/bitswalk/ibforge/src/common/cli"
	"github.com/bitswalk/ibforge/src/common/errors"
	"github.com/bitswalk/ibforge/src/ibforge/build"
	"github.com/bitswalk/ibforge/src/ibforge/db"
	"github.com/bitswalk/ibforge/src/ibforge/download"
	"github.com/bitswalk/ibforge/src/ibforge/hostdeps"
	"github.com/bitswalk/ibforge/src/ibforge/release"
	"github.com/bitswalk/ibforge/src/ibforge/runner"
	"github.com/bitswalk/ibforge/src/ibforge/storage"
	"github.com/bitswalk/ibforge/src/ibforge/workspace"
)

// downloadConfig reads the archive cache settings
func downloadConfig() (download.Config, error) {
	cfg := download.DefaultConfig()
	cfg.CacheDir = cli.GetExpandedString("paths.cache")
	cfg.UserAgent = VersionInfo.UserAgent()
	cfg.Enforce = viper.GetBool("verify.enforce")
	cfg.RemoveManifest = viper.GetBool("remove")
	cfg.RequestTimeout = viper.GetDuration("download.request_timeout")
	cfg.MaxRetries = viper.GetInt("download.max_retries")
	cfg.RetryDelay = viper.GetDuration("download.retry_delay")
	cfg.BytesPerSec = viper.GetInt64("download.bytes_per_sec")
	cfg.Mirror = download.MirrorConfig{
		ProxyURL:  viper.GetString("download.proxy_url"),
		LocalPath: cli.GetExpandedString("download.local_mirror"),
	}
	if err := viper.UnmarshalKey("download.mirrors", &cfg.Mirror.Mirrors); err != nil {
		return cfg, errors.ErrInvalidConfig.WithMessage("invalid download.mirrors").WithCause(err)
	}
	return cfg, nil
}

// storageConfig reads the publishing backend settings
func storageConfig() storage.Config {
	return storage.Config{
		Type: viper.GetString("storage.type"),
		Local: storage.LocalConfig{
			BasePath: cli.GetExpandedString("storage.local.path"),
		},
		S3: storage.S3Config{
			Endpoint:        viper.GetString("storage.s3.endpoint"),
			Region:          viper.GetString("storage.s3.region"),
			Bucket:          viper.GetString("storage.s3.bucket"),
			AccessKeyID:     viper.GetString("storage.s3.access_key"),
			SecretAccessKey: viper.GetString("storage.s3.secret_key"),
			UsePathStyle:    viper.GetBool("storage.s3.path_style"),
		},
	}
}

// hostConfig reads the host package manager settings
func hostConfig() hostdeps.Config {
	return hostdeps.Config{
		UpdateCommand:  viper.GetString("host.update_command"),
		InstallCommand: viper.GetString("host.install_command"),
		Packages:       viper.GetStringSlice("host.packages"),
		RequiredTools:  viper.GetStringSlice("host.required_tools"),
	}
}

// openDatabase opens the history database, or returns nil when disabled
func openDatabase() (*db.Database, error) {
	if !viper.GetBool("database.enabled") {
		return nil, nil
	}
	return db.Open(db.Config{Path: viper.GetString("database.path")})
}

// requireDatabase opens the history database for commands that need it
func requireDatabase() (*db.Database, error) {
	database, err := openDatabase()
	if err != nil {
		return nil, err
	}
	if database == nil {
		return nil, errors.ErrInvalidConfig.WithMessage("the history database is disabled (database.enabled=false)")
	}
	return database, nil
}

// session holds the resources opened for one build
type session struct {
	database *db.Database
	backend  storage.Backend
	builder  *build.Builder
}

// newSession wires every collaborator of a build from configuration.
// An unavailable history database is only a warning; an unreachable
// publishing destination fails before anything is built.
func newSession(ctx context.Context, executor runner.Executor, publish bool) (*session, error) {
	s := &session{}

	database, err := openDatabase()
	if err != nil {
		log.Warn("History database unavailable, continuing without it", "error", err)
	}
	s.database = database

	var (
		archives *db.ArchiveRepository
		builds   *db.BuildRepository
	)
	if database != nil {
		archives = db.NewArchiveRepository(database)
		builds = db.NewBuildRepository(database)
	}

	if publish {
		backend, err := storage.New(storageConfig())
		if err != nil {
			s.Close()
			return nil, err
		}
		if err := backend.Ping(ctx); err != nil {
			s.Close()
			return nil, errors.ErrStorageUploadFailed.WithMessagef("cannot reach %s storage at %s", backend.Type(), backend.Location()).WithCause(err)
		}
		s.backend = backend
	}

	dlCfg, err := downloadConfig()
	if err != nil {
		s.Close()
		return nil, err
	}

	workRoot := cli.GetExpandedString("paths.work")
	assetsDir := cli.GetExpandedString("paths.assets")

	s.builder = build.NewBuilder(
		build.Config{
			WorkRoot:     workRoot,
			AssetsDir:    assetsDir,
			LegacyBranch: viper.GetString("build.legacy_branch"),
		},
		build.Dependencies{
			Locator:   release.NewLocator(viper.GetString("release.download_base")),
			Downloads: download.NewManager(dlCfg, archives),
			Materializer: workspace.NewMaterializer(workspace.Config{
				WorkRoot:  workRoot,
				AssetsDir: assetsDir,
				Scripts:   viper.GetStringSlice("workspace.scripts"),
			}, executor),
			Compiler: build.NewCompiler(viper.GetString("build.image_prefix"), executor),
			Host:     hostdeps.NewRefresher(hostConfig(), executor),
			Storage:  s.backend,
			Builds:   builds,
		},
	)
	return s, nil
}

// Close releases the session's resources
func (s *session) Close() {
	if s.database != nil {
		if err := s.database.Close(); err != nil {
			log.Warn("Failed to close history database", "error", err)
		}
	}
}
