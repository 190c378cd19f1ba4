package build

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bitswalk/ibforge/src/ibforge/db"
	"github.com/bitswalk/ibforge/src/ibforge/download"
	"github.com/bitswalk/ibforge/src/ibforge/hostdeps"
	"github.com/bitswalk/ibforge/src/ibforge/release"
	"github.com/bitswalk/ibforge/src/ibforge/storage"
	"github.com/bitswalk/ibforge/src/ibforge/workspace"
)

// Pipeline runs stages in order and stops at the first failure
type Pipeline struct {
	stages []Stage
}

// NewPipeline creates a pipeline from stages
func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Stages returns the stage names in execution order
func (p *Pipeline) Stages() []StageName {
	names := make([]StageName, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Run executes every stage against sc
func (p *Pipeline) Run(ctx context.Context, sc *StageContext) error {
	pipelineStart := time.Now()

	for i, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			log.Warn("Build cancelled", "build_id", sc.BuildID, "stage", stage.Name())
			return err
		}

		stageName := stage.Name()
		log.Info("Starting stage",
			"build_id", sc.BuildID,
			"stage", stageName,
			"index", fmt.Sprintf("%d/%d", i+1, len(p.stages)),
		)

		if err := stage.Validate(ctx, sc); err != nil {
			log.Error("Stage validation failed", "build_id", sc.BuildID, "stage", stageName, "error", err)
			return err
		}

		progressFn := func(percent int, message string) {
			log.Debug("Stage progress", "stage", stageName, "percent", percent, "message", message)
		}

		stageStart := time.Now()
		err := stage.Execute(ctx, sc, progressFn)
		duration := time.Since(stageStart)
		if err != nil {
			log.Error("Stage failed",
				"build_id", sc.BuildID,
				"stage", stageName,
				"duration", duration.Round(time.Millisecond),
				"error", err,
			)
			return err
		}

		log.Info("Stage completed",
			"build_id", sc.BuildID,
			"stage", stageName,
			"duration", duration.Round(time.Millisecond),
		)
	}

	log.Info("Pipeline completed",
		"build_id", sc.BuildID,
		"duration", time.Since(pipelineStart).Round(time.Second),
	)
	return nil
}

// Config holds builder configuration
type Config struct {
	WorkRoot     string // Parent of working directories and extracted archives
	AssetsDir    string // Source of make-build.sh and the overlay
	LegacyBranch string // Branch that never expands "all"
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		WorkRoot:     ".",
		AssetsDir:    ".",
		LegacyBranch: DefaultLegacyBranch,
	}
}

// Dependencies are the collaborators of a build. Host, Storage and Builds
// are optional.
type Dependencies struct {
	Locator      *release.Locator
	Downloads    *download.Manager
	Materializer *workspace.Materializer
	Compiler     *Compiler
	Host         *hostdeps.Refresher
	Storage      storage.Backend
	Builds       *db.BuildRepository
	Clock        func() time.Time
}

// Builder wires the stages of a firmware run
type Builder struct {
	config Config
	deps   Dependencies
}

// NewBuilder creates a builder
func NewBuilder(cfg Config, deps Dependencies) *Builder {
	if cfg.LegacyBranch == "" {
		cfg.LegacyBranch = DefaultLegacyBranch
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Builder{config: cfg, deps: deps}
}

// pipeline assembles the stages for one run
func (b *Builder) pipeline(h *history) *Pipeline {
	return NewPipeline(
		&resolveStage{
			locator:      b.deps.Locator,
			assetsDir:    b.config.AssetsDir,
			legacyBranch: b.config.LegacyBranch,
			now:          b.deps.Clock,
			history:      h,
		},
		&hostStage{refresher: b.deps.Host},
		&fetchStage{downloads: b.deps.Downloads},
		&prepareStage{
			workRoot:     b.config.WorkRoot,
			materializer: b.deps.Materializer,
			downloads:    b.deps.Downloads,
		},
		&compileStage{compiler: b.deps.Compiler, history: h},
		&publishStage{backend: b.deps.Storage, history: h},
	)
}

// Run executes one build and returns the final stage context. The build
// is recorded in history once its target and release are resolved.
func (b *Builder) Run(ctx context.Context, opts Options) (*StageContext, error) {
	sc := &StageContext{
		BuildID: uuid.New().String(),
		Options: opts,
	}
	h := &history{repo: b.deps.Builds}

	err := b.pipeline(h).Run(ctx, sc)
	h.finish(sc, err)
	return sc, err
}
