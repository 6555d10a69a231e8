//go:build !windows

package installer

func splitArgs(_ string, parsed []string) ([]string, error) {
	return parsed, nil
}
