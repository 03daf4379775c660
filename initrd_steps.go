package kernelsnap

import (
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog"
)

const (
	initrdSnapName = "uc-initrd"
	initrdMain     = "${initrd_unpacked_path_main}"
)

// InitrdSnap locates the vanilla uc-initrd snap the initrd is rebuilt from.
type InitrdSnap struct {
	// File is uc-initrd_<series><flavour>_<arch>.snap.
	File string
	// URL is set when the snap comes from a custom base URL instead of the store.
	URL string
	// Channel is the store channel, <series>/<channel>.
	Channel string
	// Arch is the store architecture.
	Arch Arch
}

// Path is where the snap is downloaded in the part build directory.
func (s InitrdSnap) Path() string {
	return partBuild + "/" + s.File
}

// ResolveInitrdSnap picks the vanilla initrd snap for the options.
// A base URL takes precedence over the store channel; a flavour is only
// honoured together with a base URL. Ignored options are logged.
func ResolveInitrdSnap(o *InitrdOptions, series string, arch Arch, logger zerolog.Logger) InitrdSnap {
	if o.Channel != "stable" && o.BaseURL != "" {
		logger.Warn().
			Str("channel", o.Channel).
			Str("base_url", o.BaseURL).
			Msg("kernel-initrd-channel and kernel-initrd-base-url are both set, channel is ignored")
	}
	if o.Flavour != "" && o.BaseURL == "" {
		logger.Warn().
			Str("flavour", o.Flavour).
			Msg("kernel-initrd-flavour is set without kernel-initrd-base-url, flavour is ignored")
	}

	var flavour string
	switch {
	case o.BaseURL != "" && o.Flavour != "":
		flavour = "-" + o.Flavour
	case o.BaseURL == "":
		flavour = "-" + o.Channel
	}

	snap := InitrdSnap{
		File:    fmt.Sprintf("%s_%s%s_%s.snap", initrdSnapName, series, flavour, arch),
		Channel: series + "/" + o.Channel,
		Arch:    arch,
	}
	if o.BaseURL != "" {
		snap.URL = strings.TrimSuffix(o.BaseURL, "/") + "/" + snap.File
	}
	return snap
}

// linkFilesStep defines link_files <ref dir> <file(s), wildcards ok> <dst dir>,
// which hard links files below dst keeping their path relative to ref.
func linkFilesStep() Step {
	return Step{
		Name: "link-files",
		Lines: []string{
			"link_files() {",
			"\tif [ -d ${1}/${2} ]; then",
			"\t\tfor f in $(ls ${1}/${2}); do",
			"\t\t\tlink_files ${1} ${2}/${f} ${3}",
			"\t\tdone",
			"\t\treturn 0",
			"\tfi",
			"\tlocal found=\"\"",
			"\tfor f in $(ls ${1}/${2}); do",
			"\t\tif [[ -L \"${f}\" ]]; then",
			"\t\t\tlocal rel_path=$(realpath --no-symlinks --relative-to=${1} ${f})",
			"\t\telse",
			"\t\t\tlocal rel_path=$(realpath -se --relative-to=${1} ${f})",
			"\t\tfi",
			"\t\tlocal dir_path=$(dirname ${rel_path})",
			"\t\tmkdir -p ${3}/${dir_path}",
			"\t\techo \"installing ${f} to ${3}/${dir_path}\"",
			"\t\tln -f ${f} ${3}/${dir_path}",
			"\t\tfound=\"yes\"",
			"\tdone",
			"\t[ \"yes\" = \"${found}\" ]",
			"}",
		},
	}
}

// downloadInitrdStep fetches the vanilla initrd unless a previous run did.
func downloadInitrdStep(snap InitrdSnap) Step {
	var fetch []string
	if snap.URL != "" {
		fetch = []string{
			`echo "Downloading vanilla initrd from custom url"`,
			sh("curl", "-f", "-o", quote(snap.Path()), quote(snap.URL)),
		}
	} else {
		fetch = []string{
			`echo "Downloading vanilla initrd from snap store"`,
			sh("UBUNTU_STORE_ARCH="+snap.Arch.String(), "snap", "download", initrdSnapName,
				"--channel", snap.Channel,
				"--basename", strings.TrimSuffix(snap.File, ".snap")),
		}
	}
	return Step{
		Name:    "download-initrd",
		Message: "Getting generic initrd snap...",
		Lines:   block("if [ ! -e "+snap.Path()+" ]; then", fetch, "fi"),
	}
}

// unpackInitrdStep extracts the initrd image from the snap into INITRD_STAGING
// and selects the segment to modify: x86 initrds may carry an early
// (microcode) segment next to main.
func unpackInitrdStep(snap InitrdSnap) Step {
	return Step{
		Name:    "unpack-initrd",
		Message: "Unpack vanilla initrd...",
		Lines: []string{
			"[ -e ${INITRD_STAGING} ] && rm -rf ${INITRD_STAGING}",
			"mkdir -p ${INITRD_STAGING}",
			sh("unsquashfs", "-f", "-d", "${INITRD_UNPACKED_SNAP}", quote(snap.Path())),
			sh("unmkinitramfs", quote("${INITRD_UNPACKED_SNAP}/initrd.img"), "${INITRD_STAGING}"),
			"if [ -d ${INITRD_STAGING}/main ]; then",
			"\tinitrd_unpacked_path_main=${INITRD_STAGING}/main",
			"else",
			"\tinitrd_unpacked_path_main=${INITRD_STAGING}",
			"fi",
		},
	}
}

// initrdModulesStep installs modules and their dependencies, as resolved by
// modprobe against the part install tree, into the initrd.
func initrdModulesStep(modules []string, fromKernelBuild bool) Step {
	var lines []string
	if !fromKernelBuild {
		lines = append(lines, sh("depmod", "-b", partInstall, "${KERNEL_RELEASE}"))
	}
	lines = append(lines, `install_modules=""`)
	lines = append(lines, block("for m in "+strings.Join(modules, " ")+"; do", []string{
		`install_modules="${install_modules} $(modprobe -n -q --show-depends -d "` + partInstall +
			`" -S "${KERNEL_RELEASE}" ${m} | awk '{ if ($1 != "builtin") print $2;}')"`,
	}, "done")...)
	lines = append(lines, `echo "Installing modules: ${install_modules}"`)
	lines = append(lines, block("for m in $(echo ${install_modules} | tr ' ' '\\n' | sort | uniq); do", []string{
		sh("link_files", partInstall, "$(realpath --relative-to="+partInstall+" ${m})", initrdMain),
	}, "done")...)

	depmod := []string{}
	if fromKernelBuild {
		for _, f := range []string{"modules.order", "modules.builtin"} {
			depmod = append(depmod, sh("cp", partInstall+"/lib/modules/${KERNEL_RELEASE}/"+f, initrdMain+"/lib/modules/${KERNEL_RELEASE}"))
		}
	}
	depmod = append(depmod, sh("depmod", "-b", initrdMain, "${KERNEL_RELEASE}"))
	lines = append(lines, block("if [ -d "+initrdMain+"/lib/modules/${KERNEL_RELEASE} ]; then", depmod, "fi")...)

	return Step{
		Name:    "initrd-modules",
		Message: "Installing ko modules to initrd...",
		Lines:   lines,
	}
}

// initrdModulesConfStep writes the modules-load.d list of configured
// modules, keeping only those modprobe can resolve inside the initrd.
func initrdModulesConfStep(configured []string) Step {
	conf := initrdMain + "/usr/lib/modules-load.d/ubuntu-core-initramfs.conf"
	lines := []string{
		"initramfs_conf=" + conf,
		`echo "# configures modules" > ${initramfs_conf}`,
	}
	lines = append(lines, block("for m in "+strings.Join(configured, " ")+"; do", block(
		`if [ -n "$(modprobe -n -q --show-depends -d `+initrdMain+` -S "${KERNEL_RELEASE}" ${m})" ]; then`,
		[]string{"echo ${m} >> ${initramfs_conf}"},
		"fi",
	), "done")...)
	return Step{
		Name:    "initrd-modules-conf",
		Message: "Configuring ubuntu-core-initramfs.conf with supported modules",
		Lines:   lines,
	}
}

// initrdFirmwareStep links firmware into the initrd; files from the part
// build win over staged ones and missing files are only reported.
func initrdFirmwareStep(firmware []string) Step {
	if len(firmware) == 0 {
		return Step{Name: "initrd-firmware"}
	}
	return Step{
		Name:    "initrd-firmware",
		Message: "Installing initrd firmware...",
		Lines: block("for f in "+strings.Join(firmware, " ")+"; do", block(
			"if ! link_files "+partInstall+" ${f} "+initrdMain+"/lib; then",
			block(
				"if ! link_files "+stageDir+" ${f} "+initrdMain+"/lib; then",
				[]string{`echo "Missing firmware [${f}], ignoring it"`},
				"fi",
			),
			"fi",
		), "done"),
	}
}

// initrdOverlayStep applies the overlay directory and per-file addons from stage.
func initrdOverlayStep(overlay string, addons []string) Step {
	var lines []string
	if overlay != "" {
		lines = append(lines, sh("link_files", stageDir, overlay, initrdMain))
	}
	if len(addons) > 0 {
		lines = append(lines, block("for a in "+strings.Join(addons, " ")+"; do", []string{
			`echo "Copy overlay: ${a}"`,
			sh("link_files", stageDir, "${a}", initrdMain),
		}, "done")...)
	}
	if len(lines) == 0 {
		return Step{Name: "initrd-overlay"}
	}
	return Step{
		Name:    "initrd-overlay",
		Message: "Installing initrd overlay...",
		Lines:   lines,
	}
}

// packInitrdStep writes initrd.img-<release>: the uncompressed early segment
// if any, followed by the compressed main segment.
func packInitrdStep(compressor string) Step {
	img := partInstall + "/initrd.img-${KERNEL_RELEASE}"
	lines := block("if compgen -G "+partInstall+"/initrd.img* > /dev/null; then",
		[]string{"rm -rf " + partInstall + "/initrd.img*"}, "fi")
	lines = append(lines, block("if [ -d ${INITRD_STAGING}/early ]; then", []string{
		"cd ${INITRD_STAGING}/early",
		"find . | cpio --create --format=newc --owner=0:0 > " + img,
	}, "fi")...)
	lines = append(lines,
		"cd "+initrdMain,
		"find . | cpio --create --format=newc --owner=0:0 | "+compressor+" >> "+img,
		sh("ln", "-f", img, partInstall+"/initrd.img"),
	)
	return Step{
		Name:    "pack-initrd",
		Message: "Pack new initrd...",
		Lines:   lines,
	}
}

// efiStep glues kernel and initrd onto the systemd EFI stub.
func efiStep(efiArch string) Step {
	return Step{
		Name:    "efi-image",
		Message: "Building efi image...",
		Lines: []string{sh(
			"objcopy",
			"--add-section", ".linux="+partInstall+"/${KERNEL_IMAGE_TARGET}-${KERNEL_RELEASE}",
			"--change-section-vma", ".linux=0x40000",
			"--add-section", ".initrd="+partInstall+"/initrd.img",
			"--change-section-vma", ".initrd=0x3000000",
			path.Join("/usr/lib/systemd/boot/efi", "linux"+efiArch+".efi.stub"),
			partInstall+"/kernel.efi",
		)},
	}
}

// arrangeInstallDirStep moves modules and firmware to the snap root as
// snapd expects, leaving compatibility links under lib/.
func arrangeInstallDirStep() Step {
	return Step{
		Name:    "arrange-install-dir",
		Message: "Finalizing install directory...",
		Lines: []string{
			sh("mv", partInstall+"/lib/modules", partInstall+"/"),
			sh("rm", "-rf", partInstall+"/modules/*/build", partInstall+"/modules/*/source"),
			sh("[ -d "+partInstall+"/lib/firmware ]", "&&", "mv", partInstall+"/lib/firmware", partInstall),
			sh("ln", "-sf", "../modules", partInstall+"/lib/modules"),
			sh("ln", "-sf", "../firmware", partInstall+"/lib/firmware"),
		},
	}
}

// initrdAssembly is the shared initrd rebuild flow.
type initrdAssembly struct {
	opts              *InitrdOptions
	snap              InitrdSnap
	compressor        string
	modules           []string
	configuredModules []string
	fromKernelBuild   bool
}

func (a initrdAssembly) steps() Script {
	sc := Script{
		{Name: "initrd-begin", Message: "Generating initrd with ko modules for kernel release: ${KERNEL_RELEASE}"},
		unpackInitrdStep(a.snap),
		initrdModulesStep(a.modules, a.fromKernelBuild),
	}
	if a.fromKernelBuild {
		sc = append(sc, initrdModulesConfStep(a.configuredModules))
	}
	return append(sc,
		initrdFirmwareStep(a.opts.Firmware),
		initrdOverlayStep(a.opts.Overlay, a.opts.Addons),
		packInitrdStep(a.compressor),
	)
}

func quote(s string) string {
	return `"` + s + `"`
}
