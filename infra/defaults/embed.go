// Package defaults carries the built-in data devpin falls back to when a
// descriptor leaves a role unbound: the default platform list, plus the
// reference descriptor written by devpin init.
package defaults

import (
	"embed"

	"devpin/pkg/platform"
)

// Files contains the embedded default data.
//
//go:embed platforms.yaml devpin.yaml
var Files embed.FS

// Platforms returns the built-in default platform list.
func Platforms() []platform.ID {
	data, err := Files.ReadFile(platform.ListFile)
	if err != nil {
		panic("defaults: embedded platform list missing: " + err.Error())
	}
	ids, err := platform.ParseList(data)
	if err != nil {
		panic("defaults: embedded platform list invalid: " + err.Error())
	}
	return ids
}

// Descriptor returns the reference descriptor.
func Descriptor() []byte {
	data, err := Files.ReadFile("devpin.yaml")
	if err != nil {
		panic("defaults: embedded descriptor missing: " + err.Error())
	}
	return data
}
