package kernelsnap

import "slices"

// InitrdPlugin rebuilds the Ubuntu Core initrd around a kernel that was
// installed into the part by other means (typically a kernel deb), and
// arranges the part as a kernel snap.
type InitrdPlugin struct {
	opts        InitrdOptions
	cfg         pluginConfig
	kernelArch  string
	imageTarget string
	efiArch     string
	snap        InitrdSnap
	compressor  string
}

// NewInitrdPlugin validates opts and resolves the architecture specific
// parameters of the build.
func NewInitrdPlugin(opts InitrdOptions, setters ...PluginOption) (*InitrdPlugin, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	cfg := newPluginConfig(setters)
	logger := cfg.logger.With().Str("plugin", "initrd").Logger()
	logger.Info().Stringer("target_arch", cfg.target).Msg("initializing build env")

	p := &InitrdPlugin{opts: opts, cfg: cfg}

	var err error
	if p.kernelArch, err = cfg.target.KernelArch(); err != nil {
		return nil, err
	}
	if p.imageTarget, err = opts.ImageTarget.Resolve(cfg.target, defaultInitrdImageTarget); err != nil {
		return nil, err
	}
	if opts.BuildEFIImage {
		var ok bool
		if p.efiArch, ok = cfg.target.EFIArch(); !ok {
			return nil, &OptionError{Option: "kernel-build-efi-image", Reason: "no EFI stub for " + cfg.target.String()}
		}
	}
	if p.compressor, err = opts.Compression.Command(opts.CompressionOptions); err != nil {
		return nil, err
	}
	logger.Debug().Str("command", p.compressor).Msg("using initrd compression command")

	p.snap = ResolveInitrdSnap(&p.opts, cfg.series, cfg.target, logger)
	return p, nil
}

// BuildEnvironment returns the variables exported to the build commands.
func (p *InitrdPlugin) BuildEnvironment() map[string]string {
	return commonEnvironment(p.kernelArch, p.imageTarget)
}

// BuildPackages returns the sorted deb packages the build needs.
func (p *InitrdPlugin) BuildPackages() []string {
	pkgs := []string{"bc", "kmod", "xz-utils", "initramfs-tools-core", "systemd", "lz4", "curl"}
	slices.Sort(pkgs)
	return pkgs
}

// BuildSnaps returns the snaps the build needs; there are none.
func (p *InitrdPlugin) BuildSnaps() []string {
	return nil
}

// BuildCommands renders [InitrdPlugin.Script].
func (p *InitrdPlugin) BuildCommands() []string {
	return p.Script().Commands()
}

// Script returns the ordered build steps.
func (p *InitrdPlugin) Script() Script {
	sc := Script{
		{Name: "show-env", Lines: []string{`echo "PATH=$PATH"`, `echo "SNAPCRAFT_PART_SRC=$SNAPCRAFT_PART_SRC"`}},
		linkFilesStep(),
		downloadInitrdStep(p.snap),
		{Name: "sort-install-dir", Message: "Sorting install directory..."},
		{
			Name:    "kernel-release",
			Message: "Parsing created kernel release...",
			Lines:   []string{"KERNEL_RELEASE=$(cat " + partInstall + "/usr/src/linux-headers-*/include/config/kernel.release)"},
		},
		{
			Name:    "kernel-image",
			Message: "Copying kernel image...",
			Lines: []string{
				sh("mv", partInstall+"/boot/*", partInstall+"/"),
				sh("ln", "-f", partInstall+"/${KERNEL_IMAGE_TARGET}-${KERNEL_RELEASE}", partInstall+"/${KERNEL_IMAGE_TARGET}"),
				sh("ln", "-f", partInstall+"/${KERNEL_IMAGE_TARGET}", partInstall+"/kernel.img"),
				sh("ln", "-f", partInstall+"/System.map-${KERNEL_RELEASE}", partInstall+"/System.map"),
			},
		},
	}

	sc = append(sc, initrdAssembly{
		opts:       &p.opts,
		snap:       p.snap,
		compressor: p.compressor,
		modules:    p.opts.Modules,
	}.steps()...)

	if p.opts.BuildEFIImage {
		sc = append(sc, efiStep(p.efiArch))
	}

	return append(sc,
		Step{
			Name:    "install-config",
			Message: "Installing kernel config...",
			Lines:   []string{sh("ln", "-f", partInstall+"/config-${KERNEL_RELEASE}", partInstall+"/.config")},
		},
		arrangeInstallDirStep(),
		Step{Name: "finish", Message: "Initrd build finished!"},
	)
}

// Snap returns the vanilla initrd snap the build downloads.
func (p *InitrdPlugin) Snap() InitrdSnap {
	return p.snap
}
