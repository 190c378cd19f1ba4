package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bitswalk/ibforge/src/common/errors"
	"github.com/bitswalk/ibforge/src/ibforge/release"
	"github.com/bitswalk/ibforge/src/ibforge/runner"
	"github.com/bitswalk/ibforge/src/ibforge/targets"
	"github.com/bitswalk/ibforge/src/ibforge/workspace"
)

// DefaultImagePrefix is the short prefix of every published image name
const DefaultImagePrefix = "fri"

// OutputDirName is the directory inside the working directory that
// receives the renamed images and their manifest
const OutputDirName = "compiled_images"

// Request drives one run of the variant build loop
type Request struct {
	Target                 targets.TargetSpec
	Release                release.Spec
	Variants               []string
	CleanBeforeEachVariant bool
	GenerateSquashfs       bool
	WorkDir                string
	Env                    Environment
}

// Artifact is one renamed output image
type Artifact struct {
	Variant         string
	SourcePath      string // As produced by the Image Builder
	DestinationName string // <prefix>_<profile>_<variant>_<date>.img.gz
	Path            string // Final location in the output directory
}

// Compiler runs the Image Builder once per variant
type Compiler struct {
	prefix   string
	executor runner.Executor
}

// NewCompiler creates a compiler naming images with prefix
func NewCompiler(prefix string, executor runner.Executor) *Compiler {
	if prefix == "" {
		prefix = DefaultImagePrefix
	}
	return &Compiler{prefix: prefix, executor: executor}
}

// ArtifactName returns the deterministic output name of one variant image
func (c *Compiler) ArtifactName(profile, variant string, date time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%s.img.gz", c.prefix, profile, variant, date.Format(dateLayout))
}

// OutputDir returns the output directory for a working directory
func OutputDir(workDir string) string {
	return filepath.Join(workDir, OutputDirName)
}

// Run builds every requested variant in order. The first failure aborts
// the loop; artifacts completed before it are returned with the error.
func (c *Compiler) Run(ctx context.Context, req Request) ([]Artifact, error) {
	if len(req.Variants) == 0 {
		return nil, errors.ErrInvalidConfig.WithMessage("no variants to build")
	}

	outputDir := OutputDir(req.WorkDir)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, errors.ErrInternal.WithMessagef("cannot create output directory %s", outputDir).WithCause(err)
	}

	artifacts := make([]Artifact, 0, len(req.Variants))
	for i, variant := range req.Variants {
		if err := ctx.Err(); err != nil {
			return artifacts, err
		}

		log.Info("Building variant",
			"variant", variant,
			"index", i+1,
			"total", len(req.Variants),
			"profile", req.Target.Profile,
		)
		start := time.Now()

		artifact, err := c.buildVariant(ctx, req, variant, outputDir)
		if err != nil {
			log.Error("Variant build failed", "variant", variant, "error", err)
			return artifacts, err
		}
		artifacts = append(artifacts, artifact)

		log.Info("Variant built",
			"variant", variant,
			"image", artifact.DestinationName,
			"duration", time.Since(start).Round(time.Second),
		)
	}

	return artifacts, nil
}

// buildVariant runs Clean? -> Build -> Locate -> Rename for one variant
func (c *Compiler) buildVariant(ctx context.Context, req Request, variant, outputDir string) (Artifact, error) {
	env := req.Env.WithTunnel(variant).Map()

	if req.CleanBeforeEachVariant {
		err := c.executor.Run(ctx, runner.Command{
			Name: "make",
			Args: []string{"clean"},
			Dir:  req.WorkDir,
			Env:  env,
		})
		if err != nil {
			return Artifact{}, err
		}
	}

	err := c.executor.Run(ctx, runner.Command{
		Name: "bash",
		Args: []string{workspace.BuildScript, req.Target.Profile, variant},
		Dir:  req.WorkDir,
		Env:  env,
	})
	if err != nil {
		return Artifact{}, err
	}

	source, err := LocateImage(req.WorkDir, req.Target, req.GenerateSquashfs)
	if err != nil {
		return Artifact{}, err
	}

	name := c.ArtifactName(req.Target.Profile, variant, req.Env.Time)
	dest := filepath.Join(outputDir, name)
	if err := os.Rename(source, dest); err != nil {
		return Artifact{}, errors.ErrInternal.WithMessagef("moving %s to %s", source, dest).WithCause(err)
	}

	return Artifact{
		Variant:         variant,
		SourcePath:      source,
		DestinationName: name,
		Path:            dest,
	}, nil
}

// ImagePattern returns the glob matching the single image the Image
// Builder produces for a target
func ImagePattern(workDir string, target targets.TargetSpec, squashfs bool) string {
	fs := "ext4"
	if squashfs {
		fs = "squashfs"
	}
	name := fmt.Sprintf("*-%s-%s-%s-%s.img.gz", target.TargetName, target.Profile, fs, target.ImageKind)
	return filepath.Join(workDir, "bin", "targets", filepath.FromSlash(target.TargetSystem), name)
}

// LocateImage returns the one produced image. No match or several matches
// are errors.
func LocateImage(workDir string, target targets.TargetSpec, squashfs bool) (string, error) {
	pattern := ImagePattern(workDir, target, squashfs)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", errors.ErrInternal.WithMessagef("bad image pattern %s", pattern).WithCause(err)
	}

	switch len(matches) {
	case 0:
		return "", errors.ErrImageNotFound.WithMessagef("no image matches %s", pattern)
	case 1:
		return matches[0], nil
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = filepath.Base(m)
		}
		return "", errors.ErrImageAmbiguous.WithMessagef("%d images match %s: %s", len(matches), pattern, strings.Join(names, ", "))
	}
}
