// Package release derives Image Builder download locations and file names
// from a "<distro>:<branch>" identifier and a target.
package release

import (
	"fmt"
	"strings"

	"github.com/bitswalk/ibforge/src/common/errors"
	"github.com/bitswalk/ibforge/src/ibforge/targets"
)

// SnapshotBranch is the rolling, unversioned build channel.
const SnapshotBranch = "snapshots"

// DefaultBranchID is the release used when none is requested.
const DefaultBranchID = "openwrt:snapshots"

// Spec is a parsed release branch identifier.
type Spec struct {
	Distro     string // e.g. "openwrt", "immortalwrt"
	Branch     string // e.g. "snapshots", "23.05.2"
	IsSnapshot bool
}

// ArchiveDescriptor locates one Image Builder archive and its checksum manifest.
type ArchiveDescriptor struct {
	FileName    string
	BaseURL     string
	DownloadURL string
	ChecksumURL string
}

// IsZstd reports whether the archive is zstd-compressed.
func (d ArchiveDescriptor) IsZstd() bool {
	return strings.HasSuffix(d.FileName, ".zst")
}

// Parse splits a release identifier on its first ':'.
func Parse(id string) (Spec, error) {
	distro, branch, ok := strings.Cut(id, ":")
	distro = strings.TrimSpace(distro)
	branch = strings.TrimSpace(branch)
	if !ok || distro == "" || branch == "" {
		return Spec{}, errors.ErrInvalidRelease.WithMessagef(
			"invalid release branch %q: expected <distro>:<branch>, e.g. openwrt:snapshots", id)
	}
	return Spec{
		Distro:     distro,
		Branch:     branch,
		IsSnapshot: branch == SnapshotBranch,
	}, nil
}

// String returns the identifier in "<distro>:<branch>" form
func (s Spec) String() string {
	return s.Distro + ":" + s.Branch
}

// DownloadBase returns the canonical download host for the distro.
func (s Spec) DownloadBase() string {
	return fmt.Sprintf("https://downloads.%s.org", s.Distro)
}

// URL and file name templates. Placeholders:
//   - {base_url}      : download host, e.g. https://downloads.openwrt.org
//   - {distro}        : distro base name
//   - {branch}        : release branch token
//   - {target_system} : target path, e.g. x86/64
//   - {target_name}   : target name, e.g. x86-64
const (
	snapshotBaseTemplate = "{base_url}/snapshots/targets/{target_system}"
	releaseBaseTemplate  = "{base_url}/releases/{branch}/targets/{target_system}"
	snapshotFileTemplate = "{distro}-imagebuilder-{target_name}.Linux-x86_64.tar.zst"
	releaseFileTemplate  = "{distro}-imagebuilder-{branch}-{target_name}.Linux-x86_64.tar.xz"
	checksumFileName     = "sha256sums"
)

// Locator builds archive descriptors. A non-empty BaseOverride replaces the
// canonical download host, e.g. to point at a LAN mirror of the same layout.
type Locator struct {
	BaseOverride string
}

// NewLocator creates a locator with an optional download host override.
func NewLocator(baseOverride string) *Locator {
	return &Locator{BaseOverride: strings.TrimSuffix(baseOverride, "/")}
}

// DownloadBase returns the effective download host for a release.
func (l *Locator) DownloadBase(spec Spec) string {
	if l != nil && l.BaseOverride != "" {
		return l.BaseOverride
	}
	return spec.DownloadBase()
}

// Describe computes the archive descriptor for a release and target.
func (l *Locator) Describe(spec Spec, target targets.TargetSpec) ArchiveDescriptor {
	baseTemplate, fileTemplate := releaseBaseTemplate, releaseFileTemplate
	if spec.IsSnapshot {
		baseTemplate, fileTemplate = snapshotBaseTemplate, snapshotFileTemplate
	}

	base := applyTemplate(baseTemplate, l.DownloadBase(spec), spec, target)
	file := applyTemplate(fileTemplate, l.DownloadBase(spec), spec, target)

	return ArchiveDescriptor{
		FileName:    file,
		BaseURL:     base,
		DownloadURL: base + "/" + file,
		ChecksumURL: base + "/" + checksumFileName,
	}
}

// Describe computes the archive descriptor using the canonical download host.
func Describe(spec Spec, target targets.TargetSpec) ArchiveDescriptor {
	return (*Locator)(nil).Describe(spec, target)
}

// WorkDirName returns the deterministic working directory name for a release
// and target: <distro>-imagebuilder-<display name, spaces as hyphens>.Linux-x86_64
func WorkDirName(spec Spec, target targets.TargetSpec) string {
	return fmt.Sprintf("%s-imagebuilder-%s.Linux-x86_64", spec.Distro, target.Slug())
}

func applyTemplate(template, baseURL string, spec Spec, target targets.TargetSpec) string {
	r := strings.NewReplacer(
		"{base_url}", baseURL,
		"{distro}", spec.Distro,
		"{branch}", spec.Branch,
		"{target_system}", target.TargetSystem,
		"{target_name}", target.TargetName,
	)
	return r.Replace(template)
}
