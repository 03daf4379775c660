package kernelsnap

import (
	"errors"
	"testing"
)

func TestConfigValue(t *testing.T) {
	tests := []struct {
		value       ConfigValue
		wantEnabled bool
		wantBuiltin bool
		wantString  string
	}{
		{ConfigNotSet, false, false, "not set"},
		{ConfigModule, true, false, "m"},
		{ConfigBuiltin, true, true, "y"},
		{ConfigValue(42), false, false, "ConfigValue(42)"},
	}

	for _, tt := range tests {
		t.Run(tt.wantString, func(t *testing.T) {
			if got := tt.value.IsEnabled(); got != tt.wantEnabled {
				t.Errorf("IsEnabled() = %v, want %v", got, tt.wantEnabled)
			}
			if got := tt.value.IsBuiltin(); got != tt.wantBuiltin {
				t.Errorf("IsBuiltin() = %v, want %v", got, tt.wantBuiltin)
			}
			if got := tt.value.String(); got != tt.wantString {
				t.Errorf("String() = %q, want %q", got, tt.wantString)
			}
		})
	}
}

func TestKernelConfig(t *testing.T) {
	kc := NewKernelConfig([]string{"CONFIG_B", "CONFIG_A", "CONFIG_BOTH"}, []string{"CONFIG_M", "CONFIG_BOTH"})

	tests := []struct {
		key  string
		want ConfigValue
	}{
		{"CONFIG_A", ConfigBuiltin},
		{"CONFIG_M", ConfigModule},
		{"CONFIG_BOTH", ConfigBuiltin},
		{"CONFIG_NONE", ConfigNotSet},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := kc.Get(tt.key); got != tt.want {
				t.Errorf("Get(%q) = %v, want %v", tt.key, got, tt.want)
			}
			if got := kc.IsSet(tt.key); got != tt.want.IsEnabled() {
				t.Errorf("IsSet(%q) = %v, want %v", tt.key, got, tt.want.IsEnabled())
			}
		})
	}

	if !kc.IsModule("CONFIG_BOTH") {
		t.Error("IsModule(CONFIG_BOTH) = false, want true")
	}

	builtin := kc.Builtin()
	if len(builtin) != 3 || builtin[0] != "CONFIG_A" || builtin[2] != "CONFIG_BOTH" {
		t.Errorf("Builtin() = %v, want sorted keys", builtin)
	}
}

func TestKernelConfig_Nil(t *testing.T) {
	var kc *KernelConfig
	if kc.IsSet("CONFIG_A") {
		t.Error("nil IsSet() = true, want false")
	}
	if kc.Get("CONFIG_A") != ConfigNotSet {
		t.Error("nil Get() != ConfigNotSet")
	}
	if kc.Builtin() != nil || kc.Modules() != nil {
		t.Error("nil Builtin()/Modules() should be nil")
	}
}

func TestKernelConfig_CopiesInput(t *testing.T) {
	in := []string{"CONFIG_A"}
	kc := NewKernelConfig(in, nil)
	in[0] = "CONFIG_Z"
	if !kc.IsBuiltin("CONFIG_A") || kc.IsBuiltin("CONFIG_Z") {
		t.Errorf("Builtin() = %v after mutating input", kc.Builtin())
	}
}

func TestOptionError(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		name string
		err  *OptionError
		want string
	}{
		{
			name: "without cause",
			err:  &OptionError{Option: "kconfigs", Reason: "duplicate item"},
			want: "option kconfigs: duplicate item",
		},
		{
			name: "with cause",
			err:  &OptionError{Option: "kernel-image-target", Reason: "unresolved", Err: base},
			want: "option kernel-image-target: unresolved: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
			if got := errors.Is(tt.err, base); got != (tt.err.Err != nil) {
				t.Errorf("errors.Is(err, base) = %v", got)
			}
		})
	}
}
