package kernelsnap

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

func TestLoadKernelOptionsFile(t *testing.T) {
	opts, err := LoadKernelOptionsFile("testdata/part-kernel.yaml")
	if err != nil {
		t.Fatalf("LoadKernelOptionsFile() error = %v", err)
	}

	want := KernelOptions{
		InitrdOptions: InitrdOptions{
			ImageTarget: ImageTarget{ByArch: map[string]string{"arm64": "Image", "armhf": "zImage"}},
			Modules:     []string{"squashfs", "nls_iso8859-1"},
			Compression: CompressionXZ,
			Channel:     "stable",
		},
		Defconfig:         []string{"snappy_defconfig"},
		Configs:           []string{"CONFIG_DEBUG_INFO=n"},
		ConfiguredModules: []string{"efivarfs"},
		WithFirmware:      false,
	}
	if diff := cmp.Diff(want, opts); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadKernelOptions_Defaults(t *testing.T) {
	opts, err := LoadKernelOptions(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadKernelOptions() error = %v", err)
	}
	if diff := cmp.Diff(DefaultKernelOptions(), opts); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
	if opts.Compression != CompressionLZ4 || opts.Channel != "stable" || !opts.WithFirmware {
		t.Errorf("unexpected defaults: %+v", opts)
	}
}

func TestLoadInitrdOptions(t *testing.T) {
	input := `
kernel-image-target: vmlinuz
kernel-build-efi-image: true
kernel-initrd-firmware: [firmware/a.bin]
kernel-initrd-base-url: https://example.com/initrd/
kernel-initrd-flavour: custom
`
	opts, err := LoadInitrdOptions(strings.NewReader(input))
	if err != nil {
		t.Fatalf("LoadInitrdOptions() error = %v", err)
	}
	want := InitrdOptions{
		ImageTarget:   ImageTarget{Name: "vmlinuz"},
		BuildEFIImage: true,
		Firmware:      []string{"firmware/a.bin"},
		Compression:   CompressionLZ4,
		Channel:       "stable",
		BaseURL:       "https://example.com/initrd/",
		Flavour:       "custom",
	}
	if diff := cmp.Diff(want, opts); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadOptions_Errors(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantOption string
	}{
		{name: "unknown key", input: "kernel-initrd-unknown: x\n"},
		{name: "kernel key on initrd", input: "kconfigs: [CONFIG_A=y]\n"},
		{name: "wrong type", input: "kernel-initrd-modules: squashfs\n"},
		{
			name:       "bad compression",
			input:      "kernel-initrd-compression: zstd\n",
			wantOption: "kernel-initrd-compression",
		},
		{
			name:       "duplicate modules",
			input:      "kernel-initrd-modules: [squashfs, squashfs]\n",
			wantOption: "kernel-initrd-modules",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadInitrdOptions(strings.NewReader(tt.input))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantOption == "" {
				return
			}
			var oe *OptionError
			if !errors.As(err, &oe) {
				t.Fatalf("error = %v, want *OptionError", err)
			}
			if oe.Option != tt.wantOption {
				t.Errorf("Option = %q, want %q", oe.Option, tt.wantOption)
			}
		})
	}
}

func TestKernelOptions_ValidateDuplicates(t *testing.T) {
	opts := DefaultKernelOptions()
	opts.Configs = []string{"CONFIG_A=y", "CONFIG_A=y"}
	opts.DeviceTrees = []string{"bcm2711-rpi-4-b", "bcm2711-rpi-4-b"}

	err := opts.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil, want duplicates")
	}
	for _, name := range []string{"kconfigs", "kernel-device-trees"} {
		if !strings.Contains(err.Error(), "option "+name+": duplicate item") {
			t.Errorf("Validate() error %q does not mention %s", err, name)
		}
	}
}

func TestImageTarget_YAML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  ImageTarget
	}{
		{name: "scalar", input: "t: bzImage\n", want: ImageTarget{Name: "bzImage"}},
		{name: "map", input: "t:\n  arm64: Image\n", want: ImageTarget{ByArch: map[string]string{"arm64": "Image"}}},
		{name: "null", input: "t: null\n", want: ImageTarget{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v struct {
				T ImageTarget `yaml:"t"`
			}
			if err := yaml.Unmarshal([]byte(tt.input), &v); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, v.T); diff != "" {
				t.Errorf("target mismatch (-want +got):\n%s", diff)
			}
		})
	}

	var v struct {
		T ImageTarget `yaml:"t"`
	}
	err := yaml.Unmarshal([]byte("t: [a, b]\n"), &v)
	var oe *OptionError
	if !errors.As(err, &oe) {
		t.Errorf("Unmarshal(sequence) error = %v, want *OptionError", err)
	}
}

func TestImageTarget_Resolve(t *testing.T) {
	tests := []struct {
		name    string
		target  ImageTarget
		arch    Arch
		want    string
		wantErr bool
	}{
		{name: "scalar", target: ImageTarget{Name: "Image"}, arch: ArchAMD64, want: "Image"},
		{name: "map hit", target: ImageTarget{ByArch: map[string]string{"arm64": "Image"}}, arch: ArchARM64, want: "Image"},
		{name: "map miss", target: ImageTarget{ByArch: map[string]string{"arm64": "Image"}}, arch: ArchAMD64, want: "bzImage"},
		{name: "empty", arch: ArchARMHF, want: "zImage"},
		{name: "unknown arch", arch: ArchUnknown, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.target.Resolve(tt.arch, defaultKernelImageTarget)
			if tt.wantErr {
				if !errors.Is(err, ErrNoImageTarget) {
					t.Errorf("Resolve() error = %v, want ErrNoImageTarget", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCompression_Command(t *testing.T) {
	tests := []struct {
		c       Compression
		options []string
		want    string
	}{
		{CompressionLZ4, nil, "lz4 -l -9"},
		{CompressionXZ, nil, "xz -7"},
		{CompressionGZ, nil, "gzip -7"},
		{CompressionGZ, []string{"-9", "-n"}, "gzip -9 -n"},
	}
	for _, tt := range tests {
		got, err := tt.c.Command(tt.options)
		if err != nil {
			t.Fatalf("Command() error = %v", err)
		}
		if got != tt.want {
			t.Errorf("%s.Command(%v) = %q, want %q", tt.c, tt.options, got, tt.want)
		}
	}

	if _, err := Compression("zstd").Command(nil); err == nil {
		t.Error("Command() error = nil for unsupported compression")
	}
}

func TestSchema(t *testing.T) {
	props := func(s map[string]any) map[string]any {
		return s["properties"].(map[string]any)
	}

	initrd := props(InitrdSchema())
	kernel := props(KernelSchema())

	for name := range initrd {
		if _, ok := kernel[name]; !ok {
			t.Errorf("kernel schema lacks initrd property %q", name)
		}
	}
	for _, name := range []string{"kdefconfig", "kconfigs", "kernel-enable-zfs-support"} {
		if _, ok := initrd[name]; ok {
			t.Errorf("initrd schema has kernel property %q", name)
		}
		if _, ok := kernel[name]; !ok {
			t.Errorf("kernel schema lacks %q", name)
		}
	}
	if KernelSchema()["additionalProperties"] != false {
		t.Error("additionalProperties should be false")
	}
}
