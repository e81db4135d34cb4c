//go:build !linux

package stream

import "github.com/zsiec/mediaflow/registry"

// Device capture backends are only wired on Linux.
func registerPlatform(r *registry.Registry) {}
