package kernelsnap

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newInitrd(t *testing.T, opts InitrdOptions, target Arch) *InitrdPlugin {
	t.Helper()
	p, err := NewInitrdPlugin(opts, WithHost(Host{Arch: ArchAMD64}), WithTargetArch(target))
	if err != nil {
		t.Fatalf("NewInitrdPlugin() error = %v", err)
	}
	return p
}

func TestInitrdPlugin_Environment(t *testing.T) {
	tests := []struct {
		target     Arch
		wantArch   string
		wantTarget string
	}{
		{ArchAMD64, "x86", "bzImage"},
		{ArchARMHF, "arm", "vmlinuz"},
		{ArchARM64, "arm64", "vmlinuz"},
		{ArchRISCV64, "riscv", "vmlinuz"},
		{ArchPPC64EL, "powerpc", "vmlinux.strip"},
	}

	for _, tt := range tests {
		t.Run(tt.target.String(), func(t *testing.T) {
			env := newInitrd(t, DefaultInitrdOptions(), tt.target).BuildEnvironment()
			if env["ARCH"] != tt.wantArch {
				t.Errorf("ARCH = %q, want %q", env["ARCH"], tt.wantArch)
			}
			if env["KERNEL_IMAGE_TARGET"] != tt.wantTarget {
				t.Errorf("KERNEL_IMAGE_TARGET = %q, want %q", env["KERNEL_IMAGE_TARGET"], tt.wantTarget)
			}
			if _, ok := env["KERNEL_BUILD_ARCH_DIR"]; ok {
				t.Error("initrd environment should not set KERNEL_BUILD_ARCH_DIR")
			}
		})
	}
}

func TestInitrdPlugin_ImageTargetOverride(t *testing.T) {
	opts := DefaultInitrdOptions()
	opts.ImageTarget = ImageTarget{ByArch: map[string]string{"arm64": "Image"}}

	if got := newInitrd(t, opts, ArchARM64).BuildEnvironment()["KERNEL_IMAGE_TARGET"]; got != "Image" {
		t.Errorf("arm64 target = %q, want Image", got)
	}
	if got := newInitrd(t, opts, ArchARMHF).BuildEnvironment()["KERNEL_IMAGE_TARGET"]; got != "vmlinuz" {
		t.Errorf("armhf target = %q, want vmlinuz", got)
	}
}

func TestInitrdPlugin_ScriptOrder(t *testing.T) {
	p := newInitrd(t, DefaultInitrdOptions(), ArchARM64)
	want := []string{
		"show-env",
		"link-files",
		"download-initrd",
		"sort-install-dir",
		"kernel-release",
		"kernel-image",
		"initrd-begin",
		"unpack-initrd",
		"initrd-modules",
		"pack-initrd",
		"install-config",
		"arrange-install-dir",
		"finish",
	}
	if diff := cmp.Diff(want, p.Script().Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}

	sc := p.Script()
	if got := stepLines(t, sc, "initrd-modules")[0]; got != "depmod -b ${SNAPCRAFT_PART_INSTALL} ${KERNEL_RELEASE}" {
		t.Errorf("initrd-modules first line = %q", got)
	}
	if !hasLine(stepLines(t, sc, "kernel-release"), "/usr/src/linux-headers-*/include/config/kernel.release") {
		t.Error("kernel-release does not read the installed headers")
	}
}

func TestInitrdPlugin_FullScript(t *testing.T) {
	opts := DefaultInitrdOptions()
	opts.Modules = []string{"squashfs"}
	opts.Firmware = []string{"i915/kbl_dmc_ver1_04.bin"}
	opts.Addons = []string{"usr/bin/helper"}
	opts.Compression = CompressionGZ
	opts.CompressionOptions = []string{"-9"}
	opts.BuildEFIImage = true
	p := newInitrd(t, opts, ArchAMD64)

	sc := p.Script()
	want := []string{
		"show-env", "link-files", "download-initrd", "sort-install-dir", "kernel-release", "kernel-image",
		"initrd-begin", "unpack-initrd", "initrd-modules", "initrd-firmware", "initrd-overlay", "pack-initrd",
		"efi-image", "install-config", "arrange-install-dir", "finish",
	}
	if diff := cmp.Diff(want, sc.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}

	if !hasLine(stepLines(t, sc, "pack-initrd"), "| gzip -9 >>") {
		t.Error("pack-initrd does not use the custom gzip options")
	}
	if !hasLine(stepLines(t, sc, "efi-image"), "linuxx64.efi.stub") {
		t.Error("efi-image does not use the x64 stub")
	}
	if !hasLine(stepLines(t, sc, "initrd-overlay"), "for a in usr/bin/helper; do") {
		t.Error("initrd-overlay does not copy addons")
	}
	if !hasLine(stepLines(t, sc, "initrd-firmware"), `echo "Missing firmware [${f}], ignoring it"`) {
		t.Error("initrd-firmware does not tolerate missing firmware")
	}
}

func TestInitrdPlugin_Packages(t *testing.T) {
	p := newInitrd(t, DefaultInitrdOptions(), ArchAMD64)
	want := []string{"bc", "curl", "initramfs-tools-core", "kmod", "lz4", "systemd", "xz-utils"}
	if diff := cmp.Diff(want, p.BuildPackages()); diff != "" {
		t.Errorf("BuildPackages() mismatch (-want +got):\n%s", diff)
	}
	if got := p.Snap().Channel; got != "20/stable" {
		t.Errorf("Snap().Channel = %q, want 20/stable", got)
	}
}

func TestNewInitrdPlugin_Errors(t *testing.T) {
	opts := DefaultInitrdOptions()
	opts.BuildEFIImage = true
	_, err := NewInitrdPlugin(opts, WithHost(Host{Arch: ArchRISCV64}))
	var oe *OptionError
	if !errors.As(err, &oe) {
		t.Fatalf("error = %v, want *OptionError", err)
	}

	if _, err := NewInitrdPlugin(DefaultInitrdOptions(), WithHost(Host{})); !errors.Is(err, ErrUnknownArch) {
		t.Errorf("error = %v, want ErrUnknownArch", err)
	}
}
