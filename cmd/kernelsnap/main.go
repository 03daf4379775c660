package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"slices"
	"strings"

	"github.com/leodido/kernelsnap"
	"github.com/leodido/structcli"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thediveo/enumflag/v2"
)

// Build metadata injected via ldflags.
// When built without ldflags (e.g., plain `go build`), these remain
// at their zero values and the version command omits them gracefully.
var (
	version = ""
	commit  = ""
	date    = ""
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kernelsnap",
		Short: "Ubuntu Core kernel snap build helper",
		Long: `kernelsnap checks kernel configurations for the features Ubuntu Core
expects, and renders the part build of the kernel and initrd snap plugins.

Config checks are advisory: missing features are reported as warnings and
never fail the command.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging on stderr")

	root.AddCommand(checkNewConfigCmd())
	root.AddCommand(pluginCmd(kernelPluginKind))
	root.AddCommand(pluginCmd(initrdPluginKind))
	root.AddCommand(versionCmd())
	return root
}

// newLogger returns the console logger for c, honouring --verbose.
func newLogger(c *cobra.Command) zerolog.Logger {
	level := zerolog.InfoLevel
	if v, err := c.Flags().GetBool("verbose"); err == nil && v {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: c.ErrOrStderr(), NoColor: true}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// CheckNewConfigOptions defines flags for the check-new-config subcommand.
type CheckNewConfigOptions struct {
	ConfigPath    string     `flag:"config-path" flagshort:"c" flagdescr:"Path to the kernel .config to check" flagrequired:"true"`
	InitrdModules moduleList `flag:"initrd-modules" flagshort:"m" flagdescr:"Comma separated modules that will be included in the initrd" flagcustom:"true"`
	JSON          bool       `flag:"json" flagshort:"j" flagdescr:"Output in JSON format"`
}

func (o *CheckNewConfigOptions) Attach(c *cobra.Command) error {
	return structcli.Define(c, o)
}

func (o *CheckNewConfigOptions) DefineInitrdModules(name, short, descr string, structField reflect.StructField, fieldValue reflect.Value) (pflag.Value, string) {
	fieldPtr := fieldValue.Addr().Interface().(*moduleList)
	*fieldPtr = nil
	return fieldPtr, descr
}

func (o *CheckNewConfigOptions) DecodeInitrdModules(input any) (any, error) {
	s, ok := input.(string)
	if !ok {
		return input, nil
	}
	return parseModuleList(s), nil
}

func checkNewConfigCmd() *cobra.Command {
	opts := &CheckNewConfigOptions{}

	cmd := &cobra.Command{
		Use:   "check-new-config",
		Short: "Check a kernel config for the features Ubuntu Core expects",
		Long: `Check a kernel config for the features Ubuntu Core recommends or requires,
and for boot essential features that are neither built in nor part of the initrd.

Findings are printed as warnings; the command only fails when the config
can not be read.`,
		PreRunE: func(c *cobra.Command, args []string) error {
			return structcli.Unmarshal(c, opts)
		},
		RunE: func(c *cobra.Command, args []string) error {
			logger := newLogger(c)
			modules := []string(opts.InitrdModules)
			logger.Debug().Str("config", opts.ConfigPath).Strs("initrd_modules", modules).Msg("checking kernel config")

			warnings, err := kernelsnap.CheckNewConfig(opts.ConfigPath, modules)
			if err != nil {
				return err
			}

			if opts.JSON {
				if warnings == nil {
					warnings = []*kernelsnap.Warning{}
				}
				return printJSON(c.OutOrStdout(), map[string]any{
					"ok":       len(warnings) == 0,
					"warnings": warnings,
				})
			}
			return kernelsnap.WriteWarnings(c.OutOrStdout(), warnings)
		},
	}

	if err := opts.Attach(cmd); err != nil {
		panic(err)
	}
	return cmd
}

// PluginOptions defines flags shared by the plugin subcommands.
type PluginOptions struct {
	Options     string          `flag:"options" flagshort:"o" flagdescr:"YAML file with the part options"`
	TargetArch  kernelsnap.Arch `flag:"target-arch" flagshort:"a" flagdescr:"Target architecture (host when unset)" flagcustom:"true"`
	Series      string          `flag:"series" flagdescr:"Ubuntu Core series of the base initrd"`
	ConfigCheck string          `flag:"config-check" flagdescr:"Checker binary run on the generated .config (kernel only)"`
	JSON        bool            `flag:"json" flagshort:"j" flagdescr:"Output in JSON format"`
}

func (o *PluginOptions) Attach(c *cobra.Command) error {
	return structcli.Define(c, o)
}

func (o *PluginOptions) DefineTargetArch(name, short, descr string, structField reflect.StructField, fieldValue reflect.Value) (pflag.Value, string) {
	fieldPtr := fieldValue.Addr().Interface().(*kernelsnap.Arch)
	*fieldPtr = kernelsnap.ArchUnknown
	return enumflag.New(fieldPtr, "arch", archIdentifierMap, enumflag.EnumCaseInsensitive), descr
}

func (o *PluginOptions) DecodeTargetArch(input any) (any, error) {
	s, ok := input.(string)
	if !ok {
		return input, nil
	}
	return parseTargetArch(s)
}

func (o *PluginOptions) CompleteTargetArch(c *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var out []string
	for _, name := range archCandidates() {
		if strings.HasPrefix(name, strings.ToLower(toComplete)) {
			out = append(out, name)
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

// setters translates the flags into plugin options.
func (o *PluginOptions) setters(logger zerolog.Logger) []kernelsnap.PluginOption {
	setters := []kernelsnap.PluginOption{kernelsnap.WithLogger(logger)}
	if o.TargetArch != kernelsnap.ArchUnknown {
		setters = append(setters, kernelsnap.WithTargetArch(o.TargetArch))
	}
	if o.Series != "" {
		setters = append(setters, kernelsnap.WithSeries(o.Series))
	}
	if o.ConfigCheck != "" {
		setters = append(setters, kernelsnap.WithConfigCheck(o.ConfigCheck))
	}
	return setters
}

// pluginKind binds a plugin to its subcommand.
type pluginKind struct {
	name   string
	short  string
	schema func() map[string]any
	build  func(o *PluginOptions, logger zerolog.Logger) (kernelsnap.Plugin, error)
}

var kernelPluginKind = pluginKind{
	name:   "kernel",
	short:  "Render the part build of the kernel plugin",
	schema: kernelsnap.KernelSchema,
	build: func(o *PluginOptions, logger zerolog.Logger) (kernelsnap.Plugin, error) {
		opts := kernelsnap.DefaultKernelOptions()
		if o.Options != "" {
			var err error
			if opts, err = kernelsnap.LoadKernelOptionsFile(o.Options); err != nil {
				return nil, err
			}
		}
		return kernelsnap.NewKernelPlugin(opts, o.setters(logger)...)
	},
}

var initrdPluginKind = pluginKind{
	name:   "initrd",
	short:  "Render the part build of the initrd plugin",
	schema: kernelsnap.InitrdSchema,
	build: func(o *PluginOptions, logger zerolog.Logger) (kernelsnap.Plugin, error) {
		opts := kernelsnap.DefaultInitrdOptions()
		if o.Options != "" {
			var err error
			if opts, err = kernelsnap.LoadInitrdOptionsFile(o.Options); err != nil {
				return nil, err
			}
		}
		return kernelsnap.NewInitrdPlugin(opts, o.setters(logger)...)
	},
}

func pluginCmd(kind pluginKind) *cobra.Command {
	cmd := &cobra.Command{
		Use:   kind.name,
		Short: kind.short,
	}

	cmd.AddCommand(pluginLeafCmd(kind, "env", "Print the build environment", func(w io.Writer, p kernelsnap.Plugin, asJSON bool) error {
		env := p.BuildEnvironment()
		if asJSON {
			return printJSON(w, env)
		}
		return printEnv(w, env)
	}))
	cmd.AddCommand(pluginLeafCmd(kind, "commands", "Print the build commands as a shell script", func(w io.Writer, p kernelsnap.Plugin, asJSON bool) error {
		if asJSON {
			return printJSON(w, scriptJSON(p.Script()))
		}
		_, err := io.WriteString(w, p.Script().String())
		return err
	}))
	cmd.AddCommand(pluginLeafCmd(kind, "packages", "Print the build packages and snaps", func(w io.Writer, p kernelsnap.Plugin, asJSON bool) error {
		if asJSON {
			snaps := p.BuildSnaps()
			if snaps == nil {
				snaps = []string{}
			}
			return printJSON(w, map[string]any{"build-packages": p.BuildPackages(), "build-snaps": snaps})
		}
		for _, pkg := range p.BuildPackages() {
			fmt.Fprintln(w, pkg)
		}
		return nil
	}))
	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the part options",
		RunE: func(c *cobra.Command, args []string) error {
			return printJSON(c.OutOrStdout(), kind.schema())
		},
	})
	return cmd
}

func pluginLeafCmd(kind pluginKind, use, short string, run func(io.Writer, kernelsnap.Plugin, bool) error) *cobra.Command {
	opts := &PluginOptions{}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		PreRunE: func(c *cobra.Command, args []string) error {
			return structcli.Unmarshal(c, opts)
		},
		RunE: func(c *cobra.Command, args []string) error {
			p, err := kind.build(opts, newLogger(c))
			if err != nil {
				return err
			}
			return run(c.OutOrStdout(), p, opts.JSON)
		},
	}

	if err := opts.Attach(cmd); err != nil {
		panic(err)
	}
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show tool version and host architecture",
		RunE: func(c *cobra.Command, args []string) error {
			w := c.OutOrStdout()
			if version != "" {
				fmt.Fprintf(w, "kernelsnap %s", version)
				if commit != "" {
					fmt.Fprintf(w, " (%s)", commit)
				}
				if date != "" {
					fmt.Fprintf(w, " built %s", date)
				}
				fmt.Fprintln(w)
			} else {
				fmt.Fprintln(w, "kernelsnap (dev)")
			}

			fmt.Fprintf(w, "Host: %s\n", kernelsnap.DetectHost().Arch)
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printEnv(w io.Writer, env map[string]string) error {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%s=%s\n", k, env[k]); err != nil {
			return err
		}
	}
	return nil
}

type stepJSON struct {
	Name     string   `json:"name"`
	Commands []string `json:"commands"`
}

func scriptJSON(sc kernelsnap.Script) []stepJSON {
	out := make([]stepJSON, 0, len(sc))
	for _, s := range sc {
		if s.IsEmpty() {
			continue
		}
		out = append(out, stepJSON{Name: s.Name, Commands: s.Render()})
	}
	return out
}

// moduleList is a comma separated list of initrd module names.
// Repeated flags accumulate.
type moduleList []string

func (m *moduleList) String() string {
	return strings.Join(*m, ",")
}

func (m *moduleList) Set(input string) error {
	*m = append(*m, parseModuleList(input)...)
	return nil
}

func (m *moduleList) Type() string {
	return "modules"
}

// parseModuleList splits a comma separated value, dropping empty items.
func parseModuleList(input string) moduleList {
	var out moduleList
	for _, part := range strings.Split(input, ",") {
		if item := strings.TrimSpace(part); item != "" {
			out = append(out, item)
		}
	}
	return out
}

var archIdentifierMap = func() map[kernelsnap.Arch][]string {
	ids := make(map[kernelsnap.Arch][]string, len(kernelsnap.ArchValues())+1)
	ids[kernelsnap.ArchUnknown] = []string{"host"}
	for _, a := range kernelsnap.ArchValues() {
		ids[a] = []string{a.String()}
	}
	return ids
}()

func archCandidates() []string {
	return append([]string{"host"}, kernelsnap.ArchNames()...)
}

func parseTargetArch(input string) (kernelsnap.Arch, error) {
	name := strings.TrimSpace(input)
	if name == "" {
		return kernelsnap.ArchUnknown, nil
	}

	var arch kernelsnap.Arch
	enumValue := enumflag.New(&arch, "arch", archIdentifierMap, enumflag.EnumCaseInsensitive)
	if err := enumValue.Set(name); err != nil {
		return kernelsnap.ArchUnknown, fmt.Errorf("unknown architecture: %q (available: %s)", name, strings.Join(archCandidates(), ", "))
	}
	return arch, nil
}
