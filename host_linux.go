//go:build linux

package kernelsnap

import "golang.org/x/sys/unix"

// hostArch returns the architecture of the running kernel (e.g. x86_64 -> amd64).
func hostArch() (Arch, error) {
	var uname unix.Utsname
	if err := unix.Uname(&uname); err != nil {
		return ArchUnknown, err
	}
	return archFromMachine(unix.ByteSliceToString(uname.Machine[:]))
}
