// pkg/utils/paths.go - utility functions for working with registry and file paths.

package utils

import "strings"

// NormalizeRegistryPath returns a registry key path with single backslash
// separators and no leading or trailing separator:
//
//	"/SOFTWARE//Microsoft\\NET\\" -> `SOFTWARE\Microsoft\NET`
func NormalizeRegistryPath(path string) string {
	normalized := strings.ReplaceAll(strings.TrimSpace(path), "/", `\`)
	for strings.Contains(normalized, `\\`) {
		normalized = strings.ReplaceAll(normalized, `\\`, `\`)
	}
	return strings.Trim(normalized, `\`)
}

// IsAbsWindowsPath reports whether p is a drive-rooted ("C:\x") or UNC
// ("\\server\share") path. filepath.IsAbs only knows the host's rules, and
// manifests are authored for Windows regardless of where they are read.
func IsAbsWindowsPath(p string) bool {
	if strings.HasPrefix(p, `\\`) || strings.HasPrefix(p, "//") {
		return true
	}
	return len(p) >= 3 && isDriveLetter(p[0]) && p[1] == ':' && (p[2] == '\\' || p[2] == '/')
}

func isDriveLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
