package installer

import "fmt"

// msiexec switches shared by every MSI action: no UI, never reboot.
var msiQuietArgs = []string{"/qn", "/norestart"}

// MsiInstallArgs returns the msiexec arguments that install pkg.
func MsiInstallArgs(pkg, logPath string) []string {
	return msiArgs("/i", pkg, logPath)
}

// MsiUninstallArgs returns the msiexec arguments that remove target, which is
// either a product code or a package path.
func MsiUninstallArgs(target, logPath string) []string {
	return msiArgs("/x", target, logPath)
}

// MsiRepairArgs returns the msiexec arguments that repair pkg, forcing every file
// to be reinstalled.
func MsiRepairArgs(pkg, logPath string) []string {
	return msiArgs("/fa", pkg, logPath)
}

func msiArgs(action, target, logPath string) []string {
	args := append([]string{action, target}, msiQuietArgs...)
	if logPath != "" {
		args = append(args, "/l*v", logPath)
	}
	return args
}

// LegacySetupArgs returns the switches passed to a self-contained setup
// executable: silent, no reboot, licence accepted. The /log pair is added only
// when logPath is set.
func LegacySetupArgs(logPath string) []string {
	args := []string{"/quiet", "/norestart", "ACCEPT_EULA=1"}
	if logPath != "" {
		args = append(args, "/log", logPath)
	}
	return args
}

// SplitCommandLine breaks an argument string from a manifest into separate
// arguments using the CommandLineToArgvW rules:
//   - whitespace separates arguments except inside double quotes, and the
//     quotes themselves are removed ("" yields an empty argument);
//   - 2n backslashes followed by a quote produce n backslashes and toggle
//     quoting, 2n+1 produce n backslashes and a literal quote;
//   - inside quotes, "" produces a literal quote;
//   - backslashes not followed by a quote are literal.
//
// An unterminated quote is an error. On Windows the arguments come from the
// system parser itself.
func SplitCommandLine(s string) ([]string, error) {
	args, unterminated := parseCommandLine(s)
	if unterminated {
		return nil, fmt.Errorf("unterminated quote in command line %q", s)
	}
	return splitArgs(s, args)
}

func parseCommandLine(s string) (args []string, unterminated bool) {
	var (
		b       []byte
		inQuote bool
		pending bool
		nslash  int
	)

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			nslash++
			pending = true
			continue
		case '"':
			b = appendBackslashes(b, nslash/2)
			pending = true
			if nslash%2 == 1 {
				b = append(b, '"')
				nslash = 0
				continue
			}
			nslash = 0
			if inQuote && i+1 < len(s) && s[i+1] == '"' {
				b = append(b, '"')
				i++
				continue
			}
			inQuote = !inQuote
			continue
		case ' ', '\t':
			if !inQuote {
				b = appendBackslashes(b, nslash)
				nslash = 0
				if pending {
					args = append(args, string(b))
					b = b[:0]
					pending = false
				}
				continue
			}
		}
		b = appendBackslashes(b, nslash)
		nslash = 0
		b = append(b, c)
		pending = true
	}

	if pending {
		args = append(args, string(appendBackslashes(b, nslash)))
	}
	return args, inQuote
}

func appendBackslashes(b []byte, n int) []byte {
	for ; n > 0; n-- {
		b = append(b, '\\')
	}
	return b
}
