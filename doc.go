// Package kernelsnap builds Ubuntu Core kernel snaps: it checks kernel
// configurations for the features Ubuntu Core expects and generates the
// part build of the kernel and initrd snap plugins.
//
// # Config Check
//
// [CheckNewConfig] parses a kernel .config and runs the two advisory checks.
// Missing features are never errors: a kernel may be minimal on purpose.
//
//	warnings, err := kernelsnap.CheckNewConfig(".config", []string{"squashfs"})
//	if err != nil {
//	    log.Fatal(err) // the file could not be read
//	}
//	_ = kernelsnap.WriteWarnings(os.Stdout, warnings)
//
// [CheckConfig] reports options of [RequirementGroups] that are neither
// built-in nor modules. [CheckInitrd] reports [RequiredBoot] features that
// would be unavailable before the root filesystem is mounted.
//
// # Plugins
//
// A plugin is a validated options struct turned into an environment and an
// ordered command list:
//
//	opts, err := kernelsnap.LoadKernelOptionsFile("part.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	p, err := kernelsnap.NewKernelPlugin(opts, kernelsnap.WithTargetArch(kernelsnap.ArchARM64))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	env := p.BuildEnvironment()
//	cmds := p.BuildCommands()
//
// The commands come from a [Script], an ordered list of declarative [Step]
// values (download, unpack, configure, compile, install, pack, finalize)
// rendered into shell lines. [KernelPlugin] compiles the kernel itself;
// [InitrdPlugin] repacks the initrd for a kernel installed by other means.
package kernelsnap
