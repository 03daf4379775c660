package kernelsnap

import (
	"path"
	"regexp"
	"slices"
	"strings"
)

const zfsURL = "https://github.com/openzfs/zfs"

// KernelPlugin compiles a kernel out of tree, installs it with modules and
// firmware, and rebuilds the Ubuntu Core initrd around it.
type KernelPlugin struct {
	opts        KernelOptions
	cfg         pluginConfig
	kernelArch  string
	imageTarget string
	efiArch     string
	snap        InitrdSnap
	compressor  string

	makeCmd        []string
	makeTargets    []string
	installTargets []string
	dtbs           []string
}

// NewKernelPlugin validates opts and resolves the architecture specific
// parameters of the build: make invocation, targets and initrd source.
func NewKernelPlugin(opts KernelOptions, setters ...PluginOption) (*KernelPlugin, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	cfg := newPluginConfig(setters)
	logger := cfg.logger.With().Str("plugin", "kernel").Logger()
	logger.Info().Stringer("target_arch", cfg.target).Msg("initializing build env")

	p := &KernelPlugin{opts: opts, cfg: cfg}

	var err error
	if p.kernelArch, err = cfg.target.KernelArch(); err != nil {
		return nil, err
	}
	if p.imageTarget, err = opts.ImageTarget.Resolve(cfg.target, defaultKernelImageTarget); err != nil {
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

	p.makeCmd = []string{"make", "-j$(nproc)", "-C", "${KERNEL_SRC}", "O=" + partBuild}
	if cfg.host.Arch != cfg.target {
		logger.Info().Str("kernel_arch", p.kernelArch).Msg("configuring cross build")
		p.makeCmd = append(p.makeCmd, "ARCH="+p.kernelArch, "CROSS_COMPILE=${SNAPCRAFT_ARCH_TRIPLET}-")
	}
	if opts.Compiler != "" {
		if opts.Compiler != "clang" {
			logger.Warn().Str("compiler", opts.Compiler).Msg("only other supported compiler is clang")
		}
		p.makeCmd = append(p.makeCmd, `CC="`+opts.Compiler+`"`)
	}
	p.makeCmd = append(p.makeCmd, opts.CompilerParameters...)

	p.setTargets()
	p.snap = ResolveInitrdSnap(&p.opts.InitrdOptions, cfg.series, cfg.target, logger)
	return p, nil
}

func (p *KernelPlugin) setTargets() {
	p.makeTargets = []string{p.imageTarget, "modules"}
	p.installTargets = []string{
		"modules_install",
		"INSTALL_MOD_STRIP=1",
		"INSTALL_MOD_PATH=" + partInstall,
	}

	for _, dt := range p.opts.DeviceTrees {
		p.dtbs = append(p.dtbs, dt+".dtb")
	}
	switch {
	case len(p.dtbs) > 0:
		p.makeTargets = append(p.makeTargets, p.dtbs...)
	case p.kernelArch == "arm" || p.kernelArch == "arm64" || p.kernelArch == "riscv":
		p.makeTargets = append(p.makeTargets, "dtbs")
		p.installTargets = append(p.installTargets, "dtbs_install", "INSTALL_DTBS_PATH="+partInstall+"/dtbs")
	}

	if p.opts.WithFirmware {
		p.installTargets = append(p.installTargets, "firmware_install", "INSTALL_FW_PATH="+partInstall+"/lib/firmware")
	}
}

var includeFlag = regexp.MustCompile(`-I\S*`)

// BuildEnvironment returns the variables exported to the build commands.
func (p *KernelPlugin) BuildEnvironment() map[string]string {
	env := commonEnvironment(p.kernelArch, p.imageTarget)
	env["KERNEL_BUILD_ARCH_DIR"] = partBuild + "/arch/${ARCH}/boot"

	if len(p.opts.CompilerPaths) > 0 {
		paths := make([]string, 0, len(p.opts.CompilerPaths)+1)
		for _, cp := range p.opts.CompilerPaths {
			paths = append(paths, path.Join(stageDir, cp))
		}
		env["PATH"] = strings.Join(append(paths, "$PATH"), ":")
	}

	// Include dirs of the build tool's own make invocation must not leak
	// into kbuild.
	if p.cfg.host.HasMakeFlags {
		env["MAKEFLAGS"] = strings.Join(strings.Fields(includeFlag.ReplaceAllString(p.cfg.host.MakeFlags, "")), " ")
	}
	return env
}

// BuildPackages returns the sorted deb packages the build needs.
func (p *KernelPlugin) BuildPackages() []string {
	pkgs := []string{"bc", "gcc", "cmake", "kmod", "xz-utils", "initramfs-tools-core", "systemd", "lz4", "curl"}
	if p.opts.EnableZFS {
		pkgs = append(pkgs, "autoconf", "automake", "libblkid-dev", "libtool", "python3")
	}
	slices.Sort(pkgs)
	return pkgs
}

// BuildSnaps returns the snaps the build needs; there are none.
func (p *KernelPlugin) BuildSnaps() []string {
	return nil
}

// BuildCommands renders [KernelPlugin.Script].
func (p *KernelPlugin) BuildCommands() []string {
	return p.Script().Commands()
}

// MakeCommand returns the base make invocation.
func (p *KernelPlugin) MakeCommand() []string {
	return slices.Clone(p.makeCmd)
}

// MakeTargets returns the build targets.
func (p *KernelPlugin) MakeTargets() []string {
	return slices.Clone(p.makeTargets)
}

// InstallTargets returns the install targets and variables.
func (p *KernelPlugin) InstallTargets() []string {
	return slices.Clone(p.installTargets)
}

// Snap returns the vanilla initrd snap the build downloads.
func (p *KernelPlugin) Snap() InitrdSnap {
	return p.snap
}

// serialMake is the make invocation with -j1; config targets are not
// parallel safe.
func (p *KernelPlugin) serialMake() string {
	cmd := slices.Clone(p.makeCmd)
	cmd[1] = "-j1"
	return sh(cmd...)
}

// Script returns the ordered build steps.
func (p *KernelPlugin) Script() Script {
	sc := Script{
		{
			Name: "kernel-source",
			Lines: []string{
				"[ -d ${SNAPCRAFT_PART_SRC}/kernel ] && KERNEL_SRC=${SNAPCRAFT_PART_SRC} || KERNEL_SRC=${SNAPCRAFT_PROJECT_DIR}",
				`echo "PATH=$PATH"`,
				`echo "KERNEL_SRC=${KERNEL_SRC}"`,
			},
		},
		linkFilesStep(),
		downloadInitrdStep(p.snap),
		p.cloneZFSStep(),
		{
			Name:    "clean-old-build",
			Message: "Cleaning previous build first...",
			Lines: []string{
				"[ -e " + partInstall + "/modules ] && rm -rf " + partInstall + "/modules",
				"[ -L " + partInstall + "/lib/modules ] && rm -rf " + partInstall + "/lib/modules",
			},
		},
		p.baseConfigStep(),
		p.patchConfigStep(),
		{
			Name:    "remake-config",
			Message: "Remaking oldconfig....",
			Lines:   []string{`bash -c 'yes "" || true' | ` + p.serialMake() + " oldconfig"},
		},
		p.checkConfigStep(),
		{
			Name:    "build",
			Message: "Building kernel...",
			Lines:   []string{sh(append(slices.Clone(p.makeCmd), p.makeTargets...)...)},
		},
		{
			Name:    "install",
			Message: "Installing kernel build...",
			Lines: []string{sh(append(append(slices.Clone(p.makeCmd), "CONFIG_PREFIX="+partInstall),
				p.installTargets...)...)},
		},
		{
			Name:    "kernel-release",
			Message: "Parsing created kernel release...",
			Lines:   []string{"KERNEL_RELEASE=$(cat " + partBuild + "/include/config/kernel.release)"},
		},
		{
			Name:    "kernel-image",
			Message: "Copying kernel image...",
			Lines: []string{
				"[ -e " + partInstall + "/kernel.img ] && rm -rf " + partInstall + "/kernel.img",
				sh("ln", "-f", "${KERNEL_BUILD_ARCH_DIR}/${KERNEL_IMAGE_TARGET}", partInstall+"/${KERNEL_IMAGE_TARGET}-${KERNEL_RELEASE}"),
				sh("ln", "-f", "${KERNEL_BUILD_ARCH_DIR}/${KERNEL_IMAGE_TARGET}", partInstall+"/kernel.img"),
			},
		},
		{
			Name:    "system-map",
			Message: "Copying System map...",
			Lines: []string{
				"[ -e " + partInstall + "/System.map ] && rm -rf " + partInstall + "/System.map*",
				sh("ln", "-f", partBuild+"/System.map", partInstall+"/System.map-${KERNEL_RELEASE}"),
			},
		},
		p.copyDTBsStep(),
	}

	sc = append(sc, initrdAssembly{
		opts:              &p.opts.InitrdOptions,
		snap:              p.snap,
		compressor:        p.compressor,
		modules:           append(slices.Clone(p.opts.Modules), p.opts.ConfiguredModules...),
		configuredModules: p.opts.ConfiguredModules,
		fromKernelBuild:   true,
	}.steps()...)

	if p.opts.BuildEFIImage {
		sc = append(sc, efiStep(p.efiArch))
	}

	return append(sc,
		Step{
			Name:    "install-config",
			Message: "Installing kernel config...",
			Lines:   []string{sh("ln", "-f", partBuild+"/.config", partInstall+"/config-${KERNEL_RELEASE}")},
		},
		arrangeInstallDirStep(),
		p.buildZFSStep(),
		Step{Name: "finish", Message: "Kernel build finished!"},
	)
}

func (p *KernelPlugin) cloneZFSStep() Step {
	if !p.opts.EnableZFS {
		return Step{Name: "zfs-clone", Message: "zfs is not enabled"}
	}
	return Step{
		Name: "zfs-clone",
		Lines: block("if [ ! -d "+partBuild+"/zfs ]; then", []string{
			`echo "cloning zfs..."`,
			sh("git", "clone", "--depth=1", zfsURL, partBuild+"/zfs", "-b", "master"),
		}, "fi"),
	}
}

// baseConfigStep seeds .config unless a previous run left one: kconfigfile
// wins, then an Ubuntu flavour, then the defconfig targets.
func (p *KernelPlugin) baseConfigStep() Step {
	var seed []string
	switch {
	case p.opts.ConfigFile != "":
		seed = []string{sh("cp", p.opts.ConfigFile, partBuild+"/.config")}
	case p.opts.ConfigFlavour != "":
		p.cfg.logger.Info().Str("flavour", p.opts.ConfigFlavour).Msg("using ubuntu config flavour")
		seed = ubuntuConfigLines(p.opts.ConfigFlavour)
	default:
		seed = []string{p.serialMake() + " " + strings.Join(p.opts.Defconfig, " ")}
	}
	return Step{
		Name:    "base-config",
		Message: "Preparing config...",
		Lines:   block("if [ ! -e "+partBuild+"/.config ]; then", seed, "fi"),
	}
}

// ubuntuConfigLines concatenates the Ubuntu kernel config fragments of a flavour.
func ubuntuConfigLines(flavour string) []string {
	return []string{
		`echo "Assembling Ubuntu config..."`,
		"branch=$(cut -d'.' -f 2- < ${KERNEL_SRC}/debian/debian.env)",
		"baseconfigdir=${KERNEL_SRC}/debian.${branch}/config",
		"archconfigdir=${KERNEL_SRC}/debian.${branch}/config/${DEB_ARCH}",
		"commonconfig=${baseconfigdir}/config.common.ports",
		"ubuntuconfig=${baseconfigdir}/config.common.ubuntu",
		"archconfig=${archconfigdir}/config.common.${DEB_ARCH}",
		"flavourconfig=${archconfigdir}/config.flavour." + flavour,
		"cat ${commonconfig} ${ubuntuconfig} ${archconfig} ${flavourconfig} > " + partBuild + "/.config",
	}
}

// patchConfigStep forces kconfigs by writing them both before and after the
// current .config; only that convinces every kbuild version during oldconfig.
func (p *KernelPlugin) patchConfigStep() Step {
	if len(p.opts.Configs) == 0 {
		return Step{Name: "patch-config"}
	}
	quoted := make([]string, 0, len(p.opts.Configs))
	for _, c := range p.opts.Configs {
		quoted = append(quoted, "'"+strings.ReplaceAll(c, "'", `'\''`)+"'")
	}
	printf := "printf '%s\\n' " + strings.Join(quoted, " ")
	snapConfig := partBuild + "/.config_snap"
	return Step{
		Name:    "patch-config",
		Message: "Applying extra config....",
		Lines: []string{
			printf + " > " + snapConfig,
			sh("cat", partBuild+"/.config", ">>", snapConfig),
			printf + " >> " + snapConfig,
			sh("mv", snapConfig, partBuild+"/.config"),
		},
	}
}

// checkConfigStep runs the config checker on the generated .config.
func (p *KernelPlugin) checkConfigStep() Step {
	if p.cfg.checkerPath == "" {
		return Step{Name: "check-config"}
	}
	args := []string{p.cfg.checkerPath, "check-new-config", "--config-path", partBuild + "/.config"}
	if len(p.opts.Modules) > 0 {
		args = append(args, "--initrd-modules", strings.Join(p.opts.Modules, ","))
	}
	return Step{
		Name:    "check-config",
		Message: "Checking config for expected options...",
		Lines:   []string{sh(args...)},
	}
}

func (p *KernelPlugin) copyDTBsStep() Step {
	if len(p.dtbs) == 0 {
		return Step{Name: "copy-dtbs"}
	}
	lines := []string{"mkdir -p " + partInstall + "/dtbs"}
	for _, dtb := range p.dtbs {
		lines = append(lines, sh("ln", "-f", "${KERNEL_BUILD_ARCH_DIR}/dts/"+dtb, partInstall+"/dtbs/"+path.Base(dtb)))
	}
	return Step{
		Name:    "copy-dtbs",
		Message: "Copying custom dtbs...",
		Lines:   lines,
	}
}

func (p *KernelPlugin) buildZFSStep() Step {
	if !p.opts.EnableZFS {
		return Step{Name: "zfs-build", Message: "Not building zfs modules"}
	}
	return Step{
		Name:    "zfs-build",
		Message: "Building zfs modules...",
		Lines: []string{
			"cd " + partBuild + "/zfs",
			"./autogen.sh",
			sh("./configure", "--with-linux=${KERNEL_SRC}", "--with-linux-obj="+partBuild, "--with-config=kernel"),
			"make -j$(nproc)",
			sh("make", "install", "DESTDIR="+partInstall+"/zfs"),
			`release_version="$(ls ` + partInstall + `/modules)"`,
			sh("mv", partInstall+"/zfs/lib/modules/${release_version}/extra", partInstall+"/modules/${release_version}"),
			sh("rm", "-rf", partInstall+"/zfs"),
			`echo "Rebuilding module dependencies"`,
			sh("depmod", "-b", partInstall, "${release_version}"),
		},
	}
}
