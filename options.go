package kernelsnap

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Compression selects the initrd compressor.
type Compression string

const (
	CompressionLZ4 Compression = "lz4"
	CompressionXZ  Compression = "xz"
	CompressionGZ  Compression = "gz"
)

var compressionCommands = map[Compression]string{
	CompressionGZ:  "gzip",
	CompressionLZ4: "lz4",
	CompressionXZ:  "xz",
}

var compressionDefaults = map[Compression]string{
	CompressionGZ:  "-7",
	CompressionLZ4: "-l -9",
	CompressionXZ:  "-7",
}

// Command returns the compressor invocation. Custom options replace the
// compressor defaults entirely.
func (c Compression) Command(options []string) (string, error) {
	cmd, ok := compressionCommands[c]
	if !ok {
		return "", &OptionError{Option: "kernel-initrd-compression", Reason: fmt.Sprintf("unsupported compression %q", c)}
	}
	if len(options) > 0 {
		return cmd + " " + strings.Join(options, " "), nil
	}
	return cmd + " " + compressionDefaults[c], nil
}

// ImageTarget is the kernel image make target: either one name for every
// architecture or a map keyed by Debian architecture.
type ImageTarget struct {
	Name   string
	ByArch map[string]string
}

// UnmarshalYAML accepts a scalar, a mapping or null.
func (t *ImageTarget) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag == "!!null" {
			*t = ImageTarget{}
			return nil
		}
		*t = ImageTarget{Name: value.Value}
		return nil
	case yaml.MappingNode:
		m := map[string]string{}
		if err := value.Decode(&m); err != nil {
			return err
		}
		*t = ImageTarget{ByArch: m}
		return nil
	}
	return &OptionError{Option: "kernel-image-target", Reason: "must be a string or a map of architectures"}
}

// MarshalYAML mirrors UnmarshalYAML.
func (t ImageTarget) MarshalYAML() (any, error) {
	if len(t.ByArch) > 0 {
		return t.ByArch, nil
	}
	return t.Name, nil
}

// IsZero reports whether no target was configured.
func (t ImageTarget) IsZero() bool {
	return t.Name == "" && len(t.ByArch) == 0
}

// Resolve picks the target for arch, falling back to defaults when the
// option is empty or has no entry for arch.
func (t ImageTarget) Resolve(arch Arch, defaults map[Arch]string) (string, error) {
	if t.Name != "" {
		return t.Name, nil
	}
	if name, ok := t.ByArch[arch.String()]; ok && name != "" {
		return name, nil
	}
	if name, ok := defaults[arch]; ok {
		return name, nil
	}
	return "", fmt.Errorf("%w for %s", ErrNoImageTarget, arch)
}

// InitrdOptions configures the initrd plugin. The kernel plugin embeds it.
type InitrdOptions struct {
	ImageTarget        ImageTarget `yaml:"kernel-image-target,omitempty"`
	BuildEFIImage      bool        `yaml:"kernel-build-efi-image"`
	Modules            []string    `yaml:"kernel-initrd-modules,omitempty"`
	Firmware           []string    `yaml:"kernel-initrd-firmware,omitempty"`
	Compression        Compression `yaml:"kernel-initrd-compression"`
	CompressionOptions []string    `yaml:"kernel-initrd-compression-options,omitempty"`
	Channel            string      `yaml:"kernel-initrd-channel"`
	BaseURL            string      `yaml:"kernel-initrd-base-url,omitempty"`
	Flavour            string      `yaml:"kernel-initrd-flavour,omitempty"`
	Overlay            string      `yaml:"kernel-initrd-overlay,omitempty"`
	Addons             []string    `yaml:"kernel-initrd-addons,omitempty"`
}

// KernelOptions configures the kernel plugin.
type KernelOptions struct {
	InitrdOptions `yaml:",inline"`

	Defconfig          []string `yaml:"kdefconfig"`
	ConfigFile         string   `yaml:"kconfigfile,omitempty"`
	ConfigFlavour      string   `yaml:"kconfigflavour,omitempty"`
	Configs            []string `yaml:"kconfigs,omitempty"`
	WithFirmware       bool     `yaml:"kernel-with-firmware"`
	DeviceTrees        []string `yaml:"kernel-device-trees,omitempty"`
	ConfiguredModules  []string `yaml:"kernel-initrd-configured-modules,omitempty"`
	Compiler           string   `yaml:"kernel-compiler,omitempty"`
	CompilerPaths      []string `yaml:"kernel-compiler-paths,omitempty"`
	CompilerParameters []string `yaml:"kernel-compiler-parameters,omitempty"`
	EnableZFS          bool     `yaml:"kernel-enable-zfs-support"`
}

// DefaultInitrdOptions returns the initrd plugin defaults.
func DefaultInitrdOptions() InitrdOptions {
	return InitrdOptions{
		Compression: CompressionLZ4,
		Channel:     "stable",
	}
}

// DefaultKernelOptions returns the kernel plugin defaults.
func DefaultKernelOptions() KernelOptions {
	return KernelOptions{
		InitrdOptions: DefaultInitrdOptions(),
		Defconfig:     []string{"defconfig"},
		WithFirmware:  true,
	}
}

// Validate checks the option values that the schema constrains.
func (o *InitrdOptions) Validate() error {
	if _, ok := compressionCommands[o.Compression]; !ok {
		return &OptionError{
			Option: "kernel-initrd-compression",
			Reason: fmt.Sprintf("unsupported compression %q (available: lz4, xz, gz)", o.Compression),
		}
	}
	return validateUnique(map[string][]string{
		"kernel-initrd-modules":             o.Modules,
		"kernel-initrd-firmware":            o.Firmware,
		"kernel-initrd-compression-options": o.CompressionOptions,
		"kernel-initrd-addons":              o.Addons,
	})
}

// Validate checks the option values that the schema constrains.
func (o *KernelOptions) Validate() error {
	if err := o.InitrdOptions.Validate(); err != nil {
		return err
	}
	return validateUnique(map[string][]string{
		"kconfigs":                         o.Configs,
		"kernel-device-trees":              o.DeviceTrees,
		"kernel-initrd-configured-modules": o.ConfiguredModules,
		"kernel-compiler-paths":            o.CompilerPaths,
		"kernel-compiler-parameters":       o.CompilerParameters,
	})
}

func validateUnique(lists map[string][]string) error {
	var errs []error
	for _, name := range sortedNames(lists) {
		seen := make(map[string]struct{}, len(lists[name]))
		for _, item := range lists[name] {
			if _, dup := seen[item]; dup {
				errs = append(errs, &OptionError{Option: name, Reason: fmt.Sprintf("duplicate item %q", item)})
				break
			}
			seen[item] = struct{}{}
		}
	}
	return errors.Join(errs...)
}

func sortedNames(m map[string][]string) []string {
	set := make(map[string]struct{}, len(m))
	for k := range m {
		set[k] = struct{}{}
	}
	return sortedKeys(set)
}

// LoadInitrdOptions decodes initrd plugin options from YAML over the defaults.
// Unknown keys are rejected.
func LoadInitrdOptions(r io.Reader) (InitrdOptions, error) {
	opts := DefaultInitrdOptions()
	if err := decodeStrict(r, &opts); err != nil {
		return InitrdOptions{}, fmt.Errorf("load initrd options: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return InitrdOptions{}, err
	}
	return opts, nil
}

// LoadKernelOptions decodes kernel plugin options from YAML over the defaults.
// Unknown keys are rejected.
func LoadKernelOptions(r io.Reader) (KernelOptions, error) {
	opts := DefaultKernelOptions()
	if err := decodeStrict(r, &opts); err != nil {
		return KernelOptions{}, fmt.Errorf("load kernel options: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return KernelOptions{}, err
	}
	return opts, nil
}

// LoadKernelOptionsFile is [LoadKernelOptions] on a file.
func LoadKernelOptionsFile(path string) (KernelOptions, error) {
	f, err := os.Open(path)
	if err != nil {
		return KernelOptions{}, err
	}
	defer f.Close()
	return LoadKernelOptions(f)
}

// LoadInitrdOptionsFile is [LoadInitrdOptions] on a file.
func LoadInitrdOptionsFile(path string) (InitrdOptions, error) {
	f, err := os.Open(path)
	if err != nil {
		return InitrdOptions{}, err
	}
	defer f.Close()
	return LoadInitrdOptions(f)
}

func decodeStrict(r io.Reader, out any) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
