package kernelsnap

// RequirementGroup is a named, ordered list of kernel feature codes.
// A code maps to the config key CONFIG_<code>.
type RequirementGroup struct {
	Name  string
	Codes []string
}

// Keys returns the CONFIG_ keys of the group in declaration order.
func (g RequirementGroup) Keys() []string {
	keys := make([]string, 0, len(g.Codes))
	for _, c := range g.Codes {
		keys = append(keys, configKey(c))
	}
	return keys
}

func configKey(code string) string {
	return "CONFIG_" + code
}

// RequiredGeneric lists generic options Ubuntu Core expects.
var RequiredGeneric = RequirementGroup{
	Name: "generic",
	Codes: []string{
		"DEVTMPFS",
		"DEVTMPFS_MOUNT",
		"TMPFS_POSIX_ACL",
		"IPV6",
		"SYSVIPC",
		"SYSVIPC_SYSCTL",
		"VFAT_FS",
		"NLS_CODEPAGE_437",
		"NLS_ISO8859_1",
	},
}

// RequiredSecurity lists the confinement and hardening options.
var RequiredSecurity = RequirementGroup{
	Name: "security",
	Codes: []string{
		"SECURITY",
		"SECURITY_APPARMOR",
		"SYN_COOKIES",
		"STRICT_DEVMEM",
		"DEFAULT_SECURITY_APPARMOR",
		"SECCOMP",
		"SECCOMP_FILTER",
		"CC_STACKPROTECTOR",
		"CC_STACKPROTECTOR_STRONG",
		"DEBUG_RODATA",
		"DEBUG_SET_MODULE_RONX",
	},
}

// RequiredSnappy lists options snapd relies on.
var RequiredSnappy = RequirementGroup{
	Name: "snappy",
	Codes: []string{
		"RD_LZMA",
		"KEYS",
		"ENCRYPTED_KEYS",
		"SQUASHFS",
		"SQUASHFS_XATTR",
		"SQUASHFS_XZ",
		"DEVPTS_MULTIPLE_INSTANCES",
	},
}

// RequiredSystemd lists options systemd needs.
var RequiredSystemd = RequirementGroup{
	Name: "systemd",
	Codes: []string{
		"DEVTMPFS",
		"CGROUPS",
		"INOTIFY_USER",
		"SIGNALFD",
		"TIMERFD",
		"EPOLL",
		"NET",
		"SYSFS",
		"PROC_FS",
		"FHANDLE",
		"BLK_DEV_BSG",
		"NET_NS",
		"IPV6",
		"AUTOFS4_FS",
		"TMPFS_POSIX_ACL",
		"TMPFS_XATTR",
		"SECCOMP",
	},
}

// RequirementGroups returns the feature completeness groups in check order.
func RequirementGroups() []RequirementGroup {
	return []RequirementGroup{
		RequiredGeneric,
		RequiredSecurity,
		RequiredSnappy,
		RequiredSystemd,
	}
}

// RequiredBoot lists boot essential features. Codes are lower case: they
// double as module names matched against the initrd module list.
var RequiredBoot = []string{"squashfs"}

// optionNotes annotates options that only exist on some kernel versions.
var optionNotes = map[string]string{
	"CONFIG_CC_STACKPROTECTOR_STRONG":  "(4.1.x and later versions only)",
	"CONFIG_DEVPTS_MULTIPLE_INSTANCES": "(4.8.x and earlier versions only)",
}
