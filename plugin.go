package kernelsnap

import (
	"github.com/rs/zerolog"
)

// Variables provided by the part build sandbox.
const (
	partBuild   = "${SNAPCRAFT_PART_BUILD}"
	partInstall = "${SNAPCRAFT_PART_INSTALL}"
	stageDir    = "${SNAPCRAFT_STAGE}"
)

// Plugin turns validated options into what the build tool needs to run a
// part: an environment and an ordered list of shell commands.
type Plugin interface {
	BuildEnvironment() map[string]string
	BuildPackages() []string
	BuildSnaps() []string
	BuildCommands() []string
	Script() Script
}

var (
	_ Plugin = (*KernelPlugin)(nil)
	_ Plugin = (*InitrdPlugin)(nil)
)

// pluginConfig holds the settings shared by both plugins.
type pluginConfig struct {
	target      Arch
	host        Host
	hostSet     bool
	series      string
	logger      zerolog.Logger
	checkerPath string
}

// PluginOption configures plugin construction.
type PluginOption func(*pluginConfig)

// WithTargetArch sets the architecture the part is built for.
// Without it the host architecture is used.
func WithTargetArch(a Arch) PluginOption {
	return func(c *pluginConfig) {
		c.target = a
	}
}

// WithHost overrides host detection.
// This is primarily for testing; production code uses [DetectHost].
func WithHost(h Host) PluginOption {
	return func(c *pluginConfig) {
		c.host = h
		c.hostSet = true
	}
}

// WithSeries sets the Ubuntu Core series of the base initrd (default "20").
func WithSeries(series string) PluginOption {
	return func(c *pluginConfig) {
		c.series = series
	}
}

// WithLogger sets the logger for build-time diagnostics.
func WithLogger(l zerolog.Logger) PluginOption {
	return func(c *pluginConfig) {
		c.logger = l
	}
}

// WithConfigCheck makes the kernel plugin run `<path> check-new-config`
// against the generated .config before compiling.
func WithConfigCheck(path string) PluginOption {
	return func(c *pluginConfig) {
		c.checkerPath = path
	}
}

func newPluginConfig(opts []PluginOption) pluginConfig {
	cfg := pluginConfig{
		series: "20",
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.hostSet {
		cfg.host = DetectHost()
	}
	if cfg.target == ArchUnknown {
		cfg.target = cfg.host.Arch
	}
	return cfg
}

// commonEnvironment is the environment both plugins export.
func commonEnvironment(kernelArch, imageTarget string) map[string]string {
	return map[string]string{
		"CROSS_COMPILE":        "${SNAPCRAFT_ARCH_TRIPLET}-",
		"ARCH":                 kernelArch,
		"DEB_ARCH":             "${SNAPCRAFT_TARGET_ARCH}",
		"INITRD_STAGING":       partBuild + "/initrd-staging",
		"INITRD_UNPACKED_SNAP": partBuild + "/unpacked_snap",
		"KERNEL_IMAGE_TARGET":  imageTarget,
	}
}
