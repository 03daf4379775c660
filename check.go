package kernelsnap

import (
	"fmt"
	"slices"
	"strings"
)

const warningBanner = "**** WARNING **** WARNING **** WARNING **** WARNING ****"

// MissingOption is a required config option absent from a kernel config.
type MissingOption struct {
	// Option is the full key, e.g. CONFIG_SQUASHFS.
	Option string `json:"option"`
	// Note qualifies options that only apply to some kernel versions.
	Note string `json:"note,omitempty"`
}

// Warning is an advisory report about a kernel config. It is never an error:
// the build may proceed with a minimal configuration on purpose.
type Warning struct {
	Summary string          `json:"summary"`
	Missing []MissingOption `json:"missing"`
}

// Options returns the missing option keys in report order.
func (w *Warning) Options() []string {
	if w == nil {
		return nil
	}
	opts := make([]string, 0, len(w.Missing))
	for _, m := range w.Missing {
		opts = append(opts, m.Option)
	}
	return opts
}

// CheckConfig reports the options of all [RequirementGroups] that are
// neither built-in nor modules in kc. It returns nil when none is missing.
//
// Codes declared by more than one group are reported once, at their first
// position.
func CheckConfig(kc *KernelConfig) *Warning {
	var missing []MissingOption
	seen := make(map[string]struct{})

	for _, g := range RequirementGroups() {
		for _, opt := range g.Keys() {
			if _, dup := seen[opt]; dup {
				continue
			}
			seen[opt] = struct{}{}

			if kc.Get(opt).IsEnabled() {
				continue
			}
			missing = append(missing, MissingOption{Option: opt, Note: optionNotes[opt]})
		}
	}

	if len(missing) == 0 {
		return nil
	}
	return &Warning{
		Summary: "Your kernel config is missing some features that Ubuntu Core recommends or requires.\n" +
			"While we will not prevent you from building this kernel snap, we suggest you take a look at these:",
		Missing: missing,
	}
}

// CheckInitrd reports the [RequiredBoot] features that can not be available
// at early boot: a feature passes when built-in, or when built as a module
// that is listed in initrdModules.
//
// The module lookup uses the lower-case code verbatim, while the config
// lookup uses the upper-cased CONFIG_ key.
func CheckInitrd(kc *KernelConfig, initrdModules []string) *Warning {
	var missing []MissingOption

	for _, code := range RequiredBoot {
		opt := configKey(strings.ToUpper(code))
		switch kc.Get(opt) {
		case ConfigBuiltin:
			continue
		case ConfigModule:
			if slices.Contains(initrdModules, code) {
				continue
			}
		}
		missing = append(missing, MissingOption{Option: opt})
	}

	if len(missing) == 0 {
		return nil
	}
	return &Warning{
		Summary: "The following features are deemed boot essential for\n" +
			"ubuntu core, consider making them static[=Y] or adding\n" +
			"the corresponding module to initrd:",
		Missing: missing,
	}
}

// CheckNewConfig parses the config at path and runs [CheckConfig] and then
// [CheckInitrd]. Only I/O failures are returned as errors; missing features
// come back as warnings, in check order.
func CheckNewConfig(path string, initrdModules []string) ([]*Warning, error) {
	kc, err := ParseConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("check new config: %w", err)
	}

	var warnings []*Warning
	if w := CheckConfig(kc); w != nil {
		warnings = append(warnings, w)
	}
	if w := CheckInitrd(kc, initrdModules); w != nil {
		warnings = append(warnings, w)
	}
	return warnings, nil
}
