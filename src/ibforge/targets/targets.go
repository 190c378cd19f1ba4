// Package targets holds the closed registry of supported router devices and
// the Image Builder coordinates needed to build firmware for each of them.
package targets

import (
	"strings"

	"github.com/bitswalk/ibforge/src/common/errors"
)

// Device identifies one supported board. The set is closed: any name that
// does not parse into a Device is rejected.
type Device int

const (
	RaspberryPi3B Device = iota + 1
	RaspberryPi4B
	NanoPiR2S
	NanoPiR5S
	OrangePiZero3
	X86_64
)

// ArchTuple carries the three architecture spellings the build scripts need:
// the Go/container style name, the kernel name and the opkg package arch.
type ArchTuple struct {
	Go      string // e.g. "arm64"
	Kernel  string // e.g. "aarch64"
	Package string // e.g. "aarch64_cortex-a53"
}

// TargetSpec is the resolved build coordinates of a device.
type TargetSpec struct {
	Device       Device
	DisplayName  string
	Profile      string // Image Builder PROFILE, e.g. "rpi-3"
	TargetSystem string // download path segment, e.g. "bcm27xx/bcm2710"
	TargetName   string // archive name segment, e.g. "bcm27xx-bcm2710"
	Arch         ArchTuple
	ImageKind    string // image flavour suffix selecting exactly one output, e.g. "factory"
}

// registry maps each device to its coordinates.
var registry = map[Device]TargetSpec{
	RaspberryPi3B: {
		DisplayName:  "Raspberry Pi 3B",
		Profile:      "rpi-3",
		TargetSystem: "bcm27xx/bcm2710",
		TargetName:   "bcm27xx-bcm2710",
		Arch:         ArchTuple{Go: "arm64", Kernel: "aarch64", Package: "aarch64_cortex-a53"},
		ImageKind:    "factory",
	},
	RaspberryPi4B: {
		DisplayName:  "Raspberry Pi 4B",
		Profile:      "rpi-4",
		TargetSystem: "bcm27xx/bcm2711",
		TargetName:   "bcm27xx-bcm2711",
		Arch:         ArchTuple{Go: "arm64", Kernel: "aarch64", Package: "aarch64_cortex-a72"},
		ImageKind:    "factory",
	},
	NanoPiR2S: {
		DisplayName:  "NanoPi R2S",
		Profile:      "friendlyarm_nanopi-r2s",
		TargetSystem: "rockchip/armv8",
		TargetName:   "rockchip-armv8",
		Arch:         ArchTuple{Go: "arm64", Kernel: "aarch64", Package: "aarch64_generic"},
		ImageKind:    "sysupgrade",
	},
	NanoPiR5S: {
		DisplayName:  "NanoPi R5S",
		Profile:      "friendlyarm_nanopi-r5s",
		TargetSystem: "rockchip/armv8",
		TargetName:   "rockchip-armv8",
		Arch:         ArchTuple{Go: "arm64", Kernel: "aarch64", Package: "aarch64_generic"},
		ImageKind:    "sysupgrade",
	},
	OrangePiZero3: {
		DisplayName:  "Orange Pi Zero 3",
		Profile:      "xunlong_orangepi-zero3",
		TargetSystem: "sunxi/cortexa53",
		TargetName:   "sunxi-cortexa53",
		Arch:         ArchTuple{Go: "arm64", Kernel: "aarch64", Package: "aarch64_cortex-a53"},
		ImageKind:    "sdcard",
	},
	X86_64: {
		DisplayName:  "x86-64",
		Profile:      "generic",
		TargetSystem: "x86/64",
		TargetName:   "x86-64",
		Arch:         ArchTuple{Go: "amd64", Kernel: "x86_64", Package: "x86_64"},
		ImageKind:    "combined-efi",
	},
}

// order is the listing order used by All.
var order = []Device{RaspberryPi3B, RaspberryPi4B, NanoPiR2S, NanoPiR5S, OrangePiZero3, X86_64}

// DefaultDisplayName is the device built when none is requested.
const DefaultDisplayName = "Orange Pi Zero 3"

// ParseDevice maps a display name to a Device. Matching is exact.
func ParseDevice(displayName string) (Device, error) {
	for _, d := range order {
		if registry[d].DisplayName == displayName {
			return d, nil
		}
	}
	return 0, errors.ErrUnknownTarget.WithMessagef("unknown target %q (supported: %s)",
		displayName, strings.Join(DisplayNames(), ", "))
}

// Resolve looks up the build coordinates for a display name.
func Resolve(displayName string) (TargetSpec, error) {
	d, err := ParseDevice(displayName)
	if err != nil {
		return TargetSpec{}, err
	}
	return d.Spec(), nil
}

// Spec returns the coordinates of a device. It panics on a Device value
// outside the enumeration, which can only come from a programming error.
func (d Device) Spec() TargetSpec {
	spec, ok := registry[d]
	if !ok {
		panic("targets: unknown device value")
	}
	spec.Device = d
	return spec
}

// String returns the display name
func (d Device) String() string {
	if spec, ok := registry[d]; ok {
		return spec.DisplayName
	}
	return "unknown"
}

// All returns every supported target in a stable order.
func All() []TargetSpec {
	specs := make([]TargetSpec, 0, len(order))
	for _, d := range order {
		specs = append(specs, d.Spec())
	}
	return specs
}

// DisplayNames returns the supported display names in listing order.
func DisplayNames() []string {
	names := make([]string, 0, len(order))
	for _, d := range order {
		names = append(names, registry[d].DisplayName)
	}
	return names
}

// Slug returns the display name with spaces replaced by hyphens, as used in
// working directory names.
func (t TargetSpec) Slug() string {
	return strings.ReplaceAll(t.DisplayName, " ", "-")
}
