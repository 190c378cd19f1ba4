// Package build drives one firmware run as a pipeline of stages: resolve
// the target and release, refresh host packages, fetch the Image Builder,
// prepare the working directory, compile every variant and publish the
// images.
package build

import (
	"context"

	"github.com/bitswalk/ibforge/src/common/logs"
	"github.com/bitswalk/ibforge/src/ibforge/release"
	"github.com/bitswalk/ibforge/src/ibforge/targets"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the build package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// StageName identifies a pipeline stage
type StageName string

// Pipeline stages, in execution order
const (
	StageResolve StageName = "resolve"
	StageHost    StageName = "host"
	StageFetch   StageName = "fetch"
	StagePrepare StageName = "prepare"
	StageCompile StageName = "compile"
	StagePublish StageName = "publish"
)

// Stage defines the interface for a single build pipeline stage
type Stage interface {
	// Name returns the stage name
	Name() StageName

	// Validate checks whether this stage can run given the current context
	Validate(ctx context.Context, sc *StageContext) error

	// Execute runs the stage, updating progress via the callback
	Execute(ctx context.Context, sc *StageContext, progress ProgressFunc) error
}

// ProgressFunc reports stage progress (0-100) with an optional message
type ProgressFunc func(percent int, message string)

// Options is the user's request for one run, before resolution
type Options struct {
	Target    string // Device display name
	ReleaseID string // <distro>:<branch>
	Tunnel    string // Variant name or "all"
	Clean     bool   // make clean before each variant
	Squashfs  bool   // Select the squashfs image instead of ext4
	Update    bool   // Refresh host packages first
	Remove    bool   // Delete the archive and extracted tree after use
	Publish   bool   // Upload images and manifest to storage
}

// StageContext holds shared state passed through the pipeline
type StageContext struct {
	BuildID string
	Options Options

	// Populated by the resolve stage
	Target      targets.TargetSpec
	Release     release.Spec
	Archive     release.ArchiveDescriptor
	WorkDirName string
	Variants    []string
	Env         Environment

	// Populated by the fetch stage
	ArchivePath string
	CacheHit    bool

	// Populated by the prepare stage
	ExtractDir string
	WorkDir    string

	// Populated by the compile stage
	OutputDir string
	Artifacts []Artifact

	// Populated by the publish stage
	ManifestPath string
	RemoteKeys   []string
}
