//go:build !windows

package facts

func gatherPlatformFacts(*SystemFacts) {}
