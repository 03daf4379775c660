//go:build !linux

package kernelsnap

import (
	"fmt"
	"runtime"
)

// hostArch maps the Go runtime architecture, since there is no uname here.
func hostArch() (Arch, error) {
	switch runtime.GOARCH {
	case "amd64":
		return ArchAMD64, nil
	case "386":
		return ArchI386, nil
	case "arm":
		return ArchARMHF, nil
	case "arm64":
		return ArchARM64, nil
	case "riscv64":
		return ArchRISCV64, nil
	case "ppc64le":
		return ArchPPC64EL, nil
	case "s390x":
		return ArchS390X, nil
	}
	return ArchUnknown, fmt.Errorf("%w: GOARCH %q", ErrUnknownArch, runtime.GOARCH)
}
