//go:build windows

package config

import (
	"fmt"
	"log"
	"strconv"

	"golang.org/x/sys/windows/registry"
)

// loadPolicy overlays values from the HKLM policy key onto cfg.
func loadPolicy(cfg *Configuration) error {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, PolicyRegistryPath, registry.READ)
	if err != nil {
		return fmt.Errorf("failed to open policy registry key %s: %w", PolicyRegistryPath, err)
	}
	defer key.Close()

	loadStringFromRegistry(key, "RootPath", &cfg.RootPath)
	loadStringFromRegistry(key, "LogPath", &cfg.LogPath)
	loadStringFromRegistry(key, "LogLevel", &cfg.LogLevel)
	loadStringFromRegistry(key, "MsiexecPath", &cfg.MsiexecPath)
	loadStringFromRegistry(key, "PrereqAccessPolicy", &cfg.PrereqAccessPolicy)

	loadIntFromRegistry(key, "InstallerTimeoutMinutes", &cfg.InstallerTimeoutMinutes)
	loadIntFromRegistry(key, "LogRetentionRuns", &cfg.LogRetentionRuns)

	loadBoolFromRegistry(key, "CheckOnly", &cfg.CheckOnly)
	loadBoolFromRegistry(key, "Verbose", &cfg.Verbose)

	log.Printf("Loaded policy configuration from HKLM\\%s", PolicyRegistryPath)
	return nil
}

func loadStringFromRegistry(key registry.Key, valueName string, target *string) {
	if val, _, err := key.GetStringValue(valueName); err == nil && val != "" {
		*target = val
		log.Printf("Policy: Loaded %s = %s", valueName, val)
	}
}

// loadBoolFromRegistry accepts "true"/"false", "1"/"0" or a DWORD.
func loadBoolFromRegistry(key registry.Key, valueName string, target *bool) {
	if val, _, err := key.GetStringValue(valueName); err == nil {
		if parsed, parseErr := strconv.ParseBool(val); parseErr == nil {
			*target = parsed
			log.Printf("Policy: Loaded %s = %t", valueName, parsed)
			return
		}
	}
	if val, _, err := key.GetIntegerValue(valueName); err == nil {
		*target = val != 0
		log.Printf("Policy: Loaded %s = %t", valueName, val != 0)
	}
}

func loadIntFromRegistry(key registry.Key, valueName string, target *int) {
	if val, _, err := key.GetStringValue(valueName); err == nil {
		if parsed, parseErr := strconv.Atoi(val); parseErr == nil {
			*target = parsed
			log.Printf("Policy: Loaded %s = %d", valueName, parsed)
			return
		}
	}
	if val, _, err := key.GetIntegerValue(valueName); err == nil {
		*target = int(val)
		log.Printf("Policy: Loaded %s = %d", valueName, int(val))
	}
}
