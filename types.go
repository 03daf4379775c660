package kernelsnap

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrUnknownArch is returned when a target architecture has no entry
	// in the architecture tables.
	ErrUnknownArch = errors.New("unknown architecture")
	// ErrNoImageTarget is returned when no kernel image target can be
	// resolved for the target architecture.
	ErrNoImageTarget = errors.New("no kernel image target")
)

// OptionError reports an invalid plugin option.
type OptionError struct {
	Option string
	Reason string
	Err    error
}

func (e *OptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("option %s: %s: %v", e.Option, e.Reason, e.Err)
	}
	return fmt.Sprintf("option %s: %s", e.Option, e.Reason)
}

func (e *OptionError) Unwrap() error {
	return e.Err
}

// ConfigValue represents a kernel configuration option's state.
type ConfigValue int

const (
	// ConfigNotSet means the option is not set or not found.
	ConfigNotSet ConfigValue = iota
	// ConfigModule means the option is set to =m (module).
	ConfigModule
	// ConfigBuiltin means the option is set to =y (built-in).
	ConfigBuiltin
)

// IsEnabled returns true if the config option is set (either =m or =y).
func (v ConfigValue) IsEnabled() bool {
	return v == ConfigModule || v == ConfigBuiltin
}

// IsBuiltin returns true if the config option is built-in (=y).
func (v ConfigValue) IsBuiltin() bool {
	return v == ConfigBuiltin
}

func (v ConfigValue) String() string {
	switch v {
	case ConfigNotSet:
		return "not set"
	case ConfigModule:
		return "m"
	case ConfigBuiltin:
		return "y"
	default:
		return fmt.Sprintf("ConfigValue(%d)", v)
	}
}

// KernelConfig holds the options of a kernel configuration file split into
// the built-in (=y) and module (=m) sets.
//
// Keys are stored exactly as they appear in the file, upper-cased, with the
// CONFIG_ prefix kept. The two sets are independent: an inconsistent file
// may put the same key in both.
type KernelConfig struct {
	builtin map[string]struct{}
	modules map[string]struct{}
}

// NewKernelConfig creates a KernelConfig from builtin and module key lists.
// The lists are copied, so the result is immutable after construction.
func NewKernelConfig(builtin, modules []string) *KernelConfig {
	kc := &KernelConfig{
		builtin: make(map[string]struct{}, len(builtin)),
		modules: make(map[string]struct{}, len(modules)),
	}
	for _, k := range builtin {
		kc.builtin[k] = struct{}{}
	}
	for _, k := range modules {
		kc.modules[k] = struct{}{}
	}
	return kc
}

// IsBuiltin reports whether key was set to =y.
func (kc *KernelConfig) IsBuiltin(key string) bool {
	if kc == nil {
		return false
	}
	_, ok := kc.builtin[key]
	return ok
}

// IsModule reports whether key was set to =m.
func (kc *KernelConfig) IsModule(key string) bool {
	if kc == nil {
		return false
	}
	_, ok := kc.modules[key]
	return ok
}

// IsSet returns true if the option is built-in or a module.
func (kc *KernelConfig) IsSet(key string) bool {
	return kc.IsBuiltin(key) || kc.IsModule(key)
}

// Get returns the ConfigValue for key. Built-in wins when a key is in both sets.
func (kc *KernelConfig) Get(key string) ConfigValue {
	switch {
	case kc.IsBuiltin(key):
		return ConfigBuiltin
	case kc.IsModule(key):
		return ConfigModule
	default:
		return ConfigNotSet
	}
}

// Builtin returns the sorted built-in keys.
func (kc *KernelConfig) Builtin() []string {
	if kc == nil {
		return nil
	}
	return sortedKeys(kc.builtin)
}

// Modules returns the sorted module keys.
func (kc *KernelConfig) Modules() []string {
	if kc == nil {
		return nil
	}
	return sortedKeys(kc.modules)
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
