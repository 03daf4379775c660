package kernelsnap

// Schema helpers build draft-04 JSON schema fragments.

func stringList() map[string]any {
	return map[string]any{
		"type":        "array",
		"minitems":    1,
		"uniqueItems": true,
		"items":       map[string]any{"type": "string"},
		"default":     []string{},
	}
}

func stringProp(def string) map[string]any {
	return map[string]any{"type": "string", "default": def}
}

func boolProp(def bool) map[string]any {
	return map[string]any{"type": "boolean", "default": def}
}

func objectSchema(props map[string]any) map[string]any {
	return map[string]any{
		"$schema":              "http://json-schema.org/draft-04/schema#",
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
	}
}

func initrdProperties() map[string]any {
	return map[string]any{
		"kernel-image-target": map[string]any{
			"oneOf":   []any{map[string]any{"type": "string"}, map[string]any{"type": "object"}},
			"default": "",
		},
		"kernel-build-efi-image":  boolProp(false),
		"kernel-initrd-modules":   stringList(),
		"kernel-initrd-firmware":  stringList(),
		"kernel-initrd-compression": map[string]any{
			"type":    "string",
			"default": string(CompressionLZ4),
			"enum":    []string{string(CompressionLZ4), string(CompressionXZ), string(CompressionGZ)},
		},
		"kernel-initrd-compression-options": stringList(),
		"kernel-initrd-channel":             stringProp("stable"),
		"kernel-initrd-base-url":            stringProp(""),
		"kernel-initrd-flavour":             stringProp(""),
		"kernel-initrd-overlay":             stringProp(""),
		"kernel-initrd-addons":              stringList(),
	}
}

// InitrdSchema returns the option schema of the initrd plugin.
func InitrdSchema() map[string]any {
	return objectSchema(initrdProperties())
}

// KernelSchema returns the option schema of the kernel plugin.
func KernelSchema() map[string]any {
	props := initrdProperties()
	props["kdefconfig"] = map[string]any{"type": "array", "default": []string{"defconfig"}}
	props["kconfigfile"] = map[string]any{"type": "string", "default": nil}
	props["kconfigflavour"] = stringProp("")
	props["kconfigs"] = stringList()
	props["kernel-with-firmware"] = boolProp(true)
	props["kernel-device-trees"] = stringList()
	props["kernel-initrd-configured-modules"] = stringList()
	props["kernel-compiler"] = stringProp("")
	props["kernel-compiler-paths"] = stringList()
	props["kernel-compiler-parameters"] = stringList()
	props["kernel-enable-zfs-support"] = boolProp(false)
	return objectSchema(props)
}
