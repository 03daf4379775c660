package kernelsnap

import (
	"fmt"
	"os"
	"strings"
)

// Arch is a Debian architecture name as used by snap builds.
type Arch int

const (
	// ArchUnknown is the zero value; it maps to no kernel architecture.
	ArchUnknown Arch = iota
	ArchAMD64
	ArchI386
	ArchARMHF
	ArchARM64
	ArchRISCV64
	ArchPowerPC
	ArchPPC64EL
	ArchS390X
)

var archNames = map[Arch]string{
	ArchAMD64:   "amd64",
	ArchI386:    "i386",
	ArchARMHF:   "armhf",
	ArchARM64:   "arm64",
	ArchRISCV64: "riscv64",
	ArchPowerPC: "powerpc",
	ArchPPC64EL: "ppc64el",
	ArchS390X:   "s390x",
}

// kernelArchs maps a deb architecture to the kernel ARCH= value.
var kernelArchs = map[Arch]string{
	ArchAMD64:   "x86",
	ArchI386:    "x86",
	ArchARMHF:   "arm",
	ArchARM64:   "arm64",
	ArchRISCV64: "riscv",
	ArchPowerPC: "powerpc",
	ArchPPC64EL: "powerpc",
	ArchS390X:   "s390",
}

// efiArchs maps a deb architecture to the systemd EFI stub suffix.
var efiArchs = map[Arch]string{
	ArchAMD64: "x64",
	ArchARM64: "aa64",
}

// Kernel image targets built when kernel-image-target is not set.
var (
	defaultKernelImageTarget = map[Arch]string{
		ArchAMD64:   "bzImage",
		ArchI386:    "bzImage",
		ArchARMHF:   "zImage",
		ArchARM64:   "Image.gz",
		ArchPowerPC: "uImage",
		ArchPPC64EL: "vmlinux.strip",
		ArchS390X:   "bzImage",
		ArchRISCV64: "Image",
	}
	// Distribution kernels install as vmlinuz on arm and riscv.
	defaultInitrdImageTarget = map[Arch]string{
		ArchAMD64:   "bzImage",
		ArchI386:    "bzImage",
		ArchARMHF:   "vmlinuz",
		ArchARM64:   "vmlinuz",
		ArchPowerPC: "uImage",
		ArchPPC64EL: "vmlinux.strip",
		ArchS390X:   "bzImage",
		ArchRISCV64: "vmlinuz",
	}
)

func (a Arch) String() string {
	if name, ok := archNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Arch(%d)", a)
}

// KernelArch returns the kernel source tree architecture for a.
func (a Arch) KernelArch() (string, error) {
	if ka, ok := kernelArchs[a]; ok {
		return ka, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownArch, a)
}

// EFIArch returns the EFI stub suffix for a, if a can boot an EFI image.
func (a Arch) EFIArch() (string, bool) {
	ea, ok := efiArchs[a]
	return ea, ok
}

// ArchValues returns all known architectures in declaration order.
func ArchValues() []Arch {
	return []Arch{ArchAMD64, ArchI386, ArchARMHF, ArchARM64, ArchRISCV64, ArchPowerPC, ArchPPC64EL, ArchS390X}
}

// ArchNames returns the names of [ArchValues].
func ArchNames() []string {
	vals := ArchValues()
	names := make([]string, 0, len(vals))
	for _, a := range vals {
		names = append(names, a.String())
	}
	return names
}

// ParseArch resolves a Debian architecture name, ignoring case.
func ParseArch(name string) (Arch, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for a, n := range archNames {
		if n == name {
			return a, nil
		}
	}
	return ArchUnknown, fmt.Errorf("%w: %q (available: %s)", ErrUnknownArch, name, strings.Join(ArchNames(), ", "))
}

// archFromMachine maps a uname machine string to a Debian architecture.
func archFromMachine(machine string) (Arch, error) {
	switch machine {
	case "x86_64":
		return ArchAMD64, nil
	case "i386", "i486", "i586", "i686":
		return ArchI386, nil
	case "aarch64", "arm64":
		return ArchARM64, nil
	case "armv6l", "armv7l", "armv8l", "arm":
		return ArchARMHF, nil
	case "riscv64":
		return ArchRISCV64, nil
	case "ppc":
		return ArchPowerPC, nil
	case "ppc64le":
		return ArchPPC64EL, nil
	case "s390x":
		return ArchS390X, nil
	}
	return ArchUnknown, fmt.Errorf("%w: machine %q", ErrUnknownArch, machine)
}

// Host describes the machine running the part build.
type Host struct {
	// Arch is the build host architecture. ArchUnknown forces a cross build.
	Arch Arch
	// MakeFlags is the MAKEFLAGS value inherited from the build tool.
	MakeFlags string
	// HasMakeFlags is true when MAKEFLAGS was set at all.
	HasMakeFlags bool
}

// DetectHost inspects the current process environment.
// SNAP_ARCH wins over the architecture reported by the running system.
func DetectHost() Host {
	var h Host
	if v, ok := os.LookupEnv("SNAP_ARCH"); ok {
		h.Arch, _ = ParseArch(v)
	} else {
		h.Arch, _ = hostArch()
	}
	h.MakeFlags, h.HasMakeFlags = os.LookupEnv("MAKEFLAGS")
	return h
}
