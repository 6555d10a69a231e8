package registry

import (
	"errors"
	"strings"

	"github.com/windowsadmins/pkgdeploy/pkg/logging"
)

// Entry is an installed-programs inventory record.
type Entry struct {
	Root            Root
	KeyName         string // the product code for MSI-installed products
	DisplayName     string
	DisplayVersion  string
	UninstallString string
}

// Path returns the full key path of the entry.
func (e Entry) Path() string {
	return e.Root.String() + `\` + e.KeyName
}

// FindUninstallEntry scans roots in order and returns the first entry whose
// key name equals productCode, ignoring case and surrounding braces. A root
// that cannot be read is logged and skipped.
func FindUninstallEntry(r Reader, roots []Root, productCode string) (Entry, bool) {
	target := normalizeProductCode(productCode)
	if target == "" {
		return Entry{}, false
	}

	for _, root := range roots {
		key, err := r.OpenKey(root.Hive, root.Path)
		if err != nil {
			if errors.Is(err, ErrNotExist) {
				logging.Debug("Uninstall inventory root not present", "root", root.String())
			} else {
				logging.Warn("Unable to read uninstall inventory root", "root", root.String(), "error", err)
			}
			continue
		}

		names, err := key.SubkeyNames()
		key.Close()
		if err != nil {
			logging.Warn("Unable to enumerate uninstall inventory", "root", root.String(), "error", err)
			continue
		}

		for _, name := range names {
			if normalizeProductCode(name) != target {
				continue
			}
			entry := Entry{Root: root, KeyName: name}
			fillEntryDetails(r, &entry)
			logging.Debug("Found uninstall entry", "productCode", productCode, "key", entry.Path(), "displayName", entry.DisplayName)
			return entry, true
		}
	}
	return Entry{}, false
}

// fillEntryDetails reads the descriptive values of an entry. They are only used
// for logging, so failures are ignored.
func fillEntryDetails(r Reader, e *Entry) {
	key, err := r.OpenKey(e.Root.Hive, e.Root.Path+`\`+e.KeyName)
	if err != nil {
		return
	}
	defer key.Close()

	if v, err := key.Value("DisplayName"); err == nil {
		e.DisplayName = v.Text()
	}
	if v, err := key.Value("DisplayVersion"); err == nil {
		e.DisplayVersion = v.Text()
	}
	if v, err := key.Value("UninstallString"); err == nil {
		e.UninstallString = v.Text()
	}
}

func normalizeProductCode(code string) string {
	code = strings.TrimSpace(code)
	code = strings.TrimPrefix(code, "{")
	code = strings.TrimSuffix(code, "}")
	return strings.ToUpper(code)
}
