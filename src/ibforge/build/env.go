package build

import (
	"strconv"
	"strings"
	"time"

	"github.com/bitswalk/ibforge/src/ibforge/release"
	"github.com/bitswalk/ibforge/src/ibforge/targets"
)

// Environment is the variable contract handed to make-build.sh and the
// customization scripts
type Environment struct {
	Target       targets.TargetSpec
	Release      release.Spec
	DownloadBase string
	WorkDirName  string
	Squashfs     bool
	Tunnel       string // Set only while a variant is being compiled
	Time         time.Time
}

// WithTunnel returns a copy of the environment for one variant build
func (e Environment) WithTunnel(tunnel string) Environment {
	e.Tunnel = tunnel
	return e
}

// Map renders the environment as process variables
func (e Environment) Map() map[string]string {
	m := map[string]string{
		"TARGET":        e.Target.DisplayName,
		"PROFILE":       e.Target.Profile,
		"TARGET_SYSTEM": e.Target.TargetSystem,
		"TARGET_NAME":   e.Target.TargetName,
		"ARCH_1":        e.Target.Arch.Go,
		"ARCH_2":        e.Target.Arch.Kernel,
		"ARCH_3":        e.Target.Arch.Package,
		"BASE":          e.Release.Distro,
		"BRANCH":        e.Release.Branch,
		"DATE":          e.Time.Format(dateLayout),
		"DATETIME":      e.Time.Format("20060102-150405"),
		"MONTH_YEAR":    strings.ToLower(e.Time.Format("Jan-2006")),
		"DOWNLOAD_BASE": e.DownloadBase,
		"WORK_DIR":      e.WorkDirName,
		"SQUASHFS":      strconv.FormatBool(e.Squashfs),
	}
	if e.Tunnel != "" {
		m["TUNNEL"] = e.Tunnel
	}
	return m
}

// dateLayout is the YYYYMMDD stamp used in artifact names and DATE
const dateLayout = "20060102"
