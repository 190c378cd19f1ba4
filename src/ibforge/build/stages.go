package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bitswalk/ibforge/src/common/errors"
	"github.com/bitswalk/ibforge/src/common/paths"
	"github.com/bitswalk/ibforge/src/ibforge/archive"
	"github.com/bitswalk/ibforge/src/ibforge/checksum"
	"github.com/bitswalk/ibforge/src/ibforge/download"
	"github.com/bitswalk/ibforge/src/ibforge/hostdeps"
	"github.com/bitswalk/ibforge/src/ibforge/release"
	"github.com/bitswalk/ibforge/src/ibforge/storage"
	"github.com/bitswalk/ibforge/src/ibforge/targets"
	"github.com/bitswalk/ibforge/src/ibforge/workspace"
)

// extractDirName holds extracted archives inside the work root, apart from
// the working directories whose names can equal the archive's top level
const extractDirName = ".extract"

// resolveStage turns the user's options into build coordinates. It touches
// neither the network nor the working directory.
type resolveStage struct {
	locator      *release.Locator
	assetsDir    string
	legacyBranch string
	now          func() time.Time
	history      *history
}

func (s *resolveStage) Name() StageName { return StageResolve }

func (s *resolveStage) Validate(ctx context.Context, sc *StageContext) error {
	if sc.Options.Tunnel == "" {
		return errors.ErrInvalidConfig.WithMessage("tunnel must not be empty")
	}
	return nil
}

func (s *resolveStage) Execute(ctx context.Context, sc *StageContext, progress ProgressFunc) error {
	target, err := targets.Resolve(sc.Options.Target)
	if err != nil {
		return err
	}
	spec, err := release.Parse(sc.Options.ReleaseID)
	if err != nil {
		return err
	}
	if err := workspace.CheckAssets(s.assetsDir); err != nil {
		return err
	}
	progress(50, "Target and release resolved")

	sc.Target = target
	sc.Release = spec
	sc.Archive = s.locator.Describe(spec, target)
	sc.WorkDirName = release.WorkDirName(spec, target)
	sc.Variants = Variants(sc.Options.Tunnel, spec.Branch, s.legacyBranch)
	sc.Env = Environment{
		Target:       target,
		Release:      spec,
		DownloadBase: s.locator.DownloadBase(spec),
		WorkDirName:  sc.WorkDirName,
		Squashfs:     sc.Options.Squashfs,
		Time:         s.now(),
	}

	log.Info("Build resolved",
		"target", target.DisplayName,
		"profile", target.Profile,
		"release", spec.String(),
		"snapshot", spec.IsSnapshot,
		"archive", sc.Archive.FileName,
		"work_dir", sc.WorkDirName,
		"variants", len(sc.Variants),
	)

	s.history.start(sc)
	progress(100, "Build resolved")
	return nil
}

// hostStage refreshes host packages on request and reports missing tools
type hostStage struct {
	refresher *hostdeps.Refresher
}

func (s *hostStage) Name() StageName { return StageHost }

func (s *hostStage) Validate(ctx context.Context, sc *StageContext) error {
	if sc.Options.Update && s.refresher == nil {
		return errors.ErrInvalidConfig.WithMessage("host package refresh requested but not configured")
	}
	return nil
}

func (s *hostStage) Execute(ctx context.Context, sc *StageContext, progress ProgressFunc) error {
	if s.refresher == nil {
		return nil
	}
	if sc.Options.Update {
		if err := s.refresher.Update(ctx); err != nil {
			return err
		}
		progress(80, "Host packages refreshed")
	}
	s.refresher.Check()
	progress(100, "Host checked")
	return nil
}

// fetchStage makes the verified Image Builder archive available locally
type fetchStage struct {
	downloads *download.Manager
}

func (s *fetchStage) Name() StageName { return StageFetch }

func (s *fetchStage) Validate(ctx context.Context, sc *StageContext) error {
	if sc.Archive.FileName == "" || sc.Archive.DownloadURL == "" {
		return errors.ErrInternal.WithMessage("fetch stage requires a resolved archive")
	}
	return nil
}

func (s *fetchStage) Execute(ctx context.Context, sc *StageContext, progress ProgressFunc) error {
	result, err := s.downloads.Ensure(ctx, download.Request{
		Archive: sc.Archive,
		Distro:  sc.Release.Distro,
		Branch:  sc.Release.Branch,
		Target:  sc.Target.Slug(),
	})
	if err != nil {
		return err
	}

	sc.ArchivePath = result.ArchivePath
	sc.CacheHit = result.CacheHit
	progress(100, fmt.Sprintf("Archive ready (verified=%t)", result.Verified))
	return nil
}

// prepareStage extracts the archive and materializes the working directory
type prepareStage struct {
	workRoot     string
	materializer *workspace.Materializer
	downloads    *download.Manager
}

func (s *prepareStage) Name() StageName { return StagePrepare }

func (s *prepareStage) Validate(ctx context.Context, sc *StageContext) error {
	if !paths.IsFile(sc.ArchivePath) {
		return errors.ErrMissingAsset.WithMessagef("archive %s not found", sc.ArchivePath)
	}
	return nil
}

func (s *prepareStage) Execute(ctx context.Context, sc *StageContext, progress ProgressFunc) error {
	sc.ExtractDir = filepath.Join(s.workRoot, extractDirName, archive.Stem(sc.Archive.FileName))
	if err := os.RemoveAll(sc.ExtractDir); err != nil {
		return errors.ErrInternal.WithMessagef("cannot clear %s", sc.ExtractDir).WithCause(err)
	}

	if err := archive.Extract(ctx, sc.ArchivePath, sc.ExtractDir); err != nil {
		return err
	}
	progress(40, "Archive extracted")

	root, err := archive.Root(sc.ExtractDir)
	if err != nil {
		return errors.ErrExtractionFailed.WithMessagef("cannot read %s", sc.ExtractDir).WithCause(err)
	}

	workDir, err := s.materializer.Materialize(ctx, root, sc.WorkDirName, sc.Env.Map())
	if err != nil {
		return err
	}
	sc.WorkDir = workDir
	progress(90, "Working directory ready")

	if sc.Options.Remove {
		if err := os.RemoveAll(sc.ExtractDir); err != nil {
			log.Warn("Failed to remove extracted tree", "path", sc.ExtractDir, "error", err)
		}
		if err := s.downloads.Forget(sc.ArchivePath); err != nil {
			log.Warn("Failed to remove cached archive", "path", sc.ArchivePath, "error", err)
		} else {
			log.Info("Removed cached archive and extracted tree", "archive", sc.Archive.FileName)
		}
	}

	progress(100, "Prepared")
	return nil
}

// compileStage runs the variant build loop
type compileStage struct {
	compiler *Compiler
	history  *history
}

func (s *compileStage) Name() StageName { return StageCompile }

func (s *compileStage) Validate(ctx context.Context, sc *StageContext) error {
	if sc.WorkDir == "" || !paths.IsDir(sc.WorkDir) {
		return errors.ErrInternal.WithMessagef("working directory %q not prepared", sc.WorkDir)
	}
	if len(sc.Variants) == 0 {
		return errors.ErrInvalidConfig.WithMessage("no variants to build")
	}
	return nil
}

func (s *compileStage) Execute(ctx context.Context, sc *StageContext, progress ProgressFunc) error {
	sc.OutputDir = OutputDir(sc.WorkDir)

	artifacts, err := s.compiler.Run(ctx, Request{
		Target:                 sc.Target,
		Release:                sc.Release,
		Variants:               sc.Variants,
		CleanBeforeEachVariant: sc.Options.Clean,
		GenerateSquashfs:       sc.Options.Squashfs,
		WorkDir:                sc.WorkDir,
		Env:                    sc.Env,
	})
	sc.Artifacts = artifacts
	for _, a := range artifacts {
		s.history.artifact(sc, a)
	}
	if err != nil {
		return err
	}

	progress(100, fmt.Sprintf("%d images built", len(artifacts)))
	return nil
}

// publishStage writes the checksum manifest and optionally uploads the
// images and manifest to storage
type publishStage struct {
	backend storage.Backend
	history *history
}

func (s *publishStage) Name() StageName { return StagePublish }

func (s *publishStage) Validate(ctx context.Context, sc *StageContext) error {
	if sc.OutputDir == "" {
		return errors.ErrInternal.WithMessage("publish stage requires an output directory")
	}
	if sc.Options.Publish && s.backend == nil {
		return errors.ErrInvalidConfig.WithMessage("publishing requested but no storage backend is configured")
	}
	return nil
}

func (s *publishStage) Execute(ctx context.Context, sc *StageContext, progress ProgressFunc) error {
	names := make([]string, len(sc.Artifacts))
	for i, a := range sc.Artifacts {
		names[i] = a.DestinationName
	}
	manifestPath, err := checksum.PublishFiles(sc.OutputDir, names)
	if err != nil {
		return err
	}
	sc.ManifestPath = manifestPath

	manifest, err := checksum.ParseFile(manifestPath)
	if err != nil {
		return err
	}
	digests := make(map[string]string, len(sc.Artifacts))
	for _, a := range sc.Artifacts {
		if digest, ok := manifest.Lookup(a.DestinationName); ok {
			log.Info("Image ready", "image", a.DestinationName, "sha256", digest)
			s.history.checksum(sc, a.DestinationName, digest)
			digests[a.Path] = digest
		}
	}
	progress(50, "Checksum manifest written")

	if !sc.Options.Publish {
		progress(100, "Published locally")
		return nil
	}

	uploads := make([]string, 0, len(sc.Artifacts)+1)
	for _, a := range sc.Artifacts {
		uploads = append(uploads, a.Path)
	}
	uploads = append(uploads, manifestPath)

	for i, path := range uploads {
		name := filepath.Base(path)
		key := storage.JoinKey(sc.Release.Distro, sc.Release.Branch, sc.Target.Profile, name)
		uploaded, err := storage.PublishFile(ctx, s.backend, key, path, digests[path])
		if err != nil {
			return err
		}
		sc.RemoteKeys = append(sc.RemoteKeys, key)
		s.history.remoteKey(sc, name, key)
		if uploaded {
			log.Info("Uploaded", "key", key, "location", s.backend.Location())
		} else {
			log.Info("Already published", "key", key, "location", s.backend.Location())
		}
		progress(50+50*(i+1)/len(uploads), "Published "+name)
	}
	return nil
}
