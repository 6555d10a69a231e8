// pkg/manifest/manifest.go - Loading and validating the package.manifest deployment descriptor.

package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"

	"github.com/windowsadmins/pkgdeploy/pkg/regversion"
	"github.com/windowsadmins/pkgdeploy/pkg/utils"
)

// FileName is the fixed name of the manifest inside a package root.
const FileName = "package.manifest"

// PackageType selects how the main installer is driven.
type PackageType string

const (
	MsiPackage         PackageType = "MsiPackage"
	LegacySetupPackage PackageType = "LegacySetupPackage"
)

// PreambleUninstallPackage is the only preamble type that triggers an action.
const PreambleUninstallPackage = "UninstallPackage"

// PreambleEntry describes an application to remove before anything is installed.
type PreambleEntry struct {
	PreambleType string `json:"PreambleType"`
	Data         string `json:"Data"`
}

// PrereqEntry describes a prerequisite installer and the registry value that
// tells whether it is already present.
type PrereqEntry struct {
	CheckKey         string             `json:"CheckKey"`
	CheckValue       string             `json:"CheckValue"`
	CheckValueTarget regversion.Version `json:"CheckValueTarget"`
	Path             string             `json:"Path"`
	CommandLine      string             `json:"CommandLine"`
}

// InstallerPath resolves Path against root unless it is already absolute.
func (p PrereqEntry) InstallerPath(root string) string {
	return resolve(root, p.Path)
}

// Manifest is the deployment descriptor found at <root>\package.manifest.
type Manifest struct {
	PackageType          PackageType     `json:"PackageType"`
	InstallerFile        string          `json:"InstallerFile"`
	ID                   string          `json:"ID"`
	Version              string          `json:"Version"`
	Preambles            []PreambleEntry `json:"Preambles"`
	Prereqs              []PrereqEntry   `json:"Prereqs"`
	BlockingApplications []string        `json:"BlockingApplications,omitempty"`

	// Root is the directory the manifest was loaded from.
	Root string `json:"-"`
}

// InstallerPath is the absolute path of the main installer artifact.
func (m *Manifest) InstallerPath() string {
	return resolve(m.Root, m.InstallerFile)
}

// LogFileName is the name used for installer logs of this package.
func (m *Manifest) LogFileName() string {
	return fmt.Sprintf("%s-%s.log", m.ID, m.Version)
}

// Marshal serialises the manifest using the on-disk field names.
func (m *Manifest) Marshal() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

func resolve(root, p string) string {
	if p == "" || utils.IsAbsWindowsPath(p) || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// NotFoundError is returned when the root holds no manifest.
type NotFoundError struct {
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("manifest not found at %s: %v", e.Path, e.Err)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// ParseError is returned when the manifest is not valid JSON or lacks a
// required field. Field is empty for syntax errors.
type ParseError struct {
	Path  string
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	where := e.Path
	if where == "" {
		where = "manifest"
	}
	if e.Field != "" {
		return fmt.Sprintf("invalid manifest %s: field %s: %v", where, e.Field, e.Err)
	}
	return fmt.Sprintf("invalid manifest %s: %v", where, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var errMissingField = errors.New("required field is missing")

var (
	requiredFields         = []string{"PackageType", "InstallerFile", "ID", "Version"}
	requiredPrereqFields   = []string{"CheckKey", "CheckValue", "CheckValueTarget", "Path"}
	requiredPreambleFields = []string{"PreambleType"}
)

// Path returns the manifest location for root.
func Path(root string) string {
	return filepath.Join(root, FileName)
}

// Load reads and validates <root>\package.manifest.
func Load(root string) (*Manifest, error) {
	path := Path(root)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &NotFoundError{Path: path, Err: err}
		}
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return nil, err
	}
	m.Root = root
	return m, nil
}

// Parse decodes manifest content. Comments and trailing commas are accepted.
func Parse(data []byte) (*Manifest, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	doc := jsonc.ToJSON(data)

	if !gjson.ValidBytes(doc) {
		return nil, &ParseError{Err: errors.New("content is not valid JSON")}
	}
	parsed := gjson.ParseBytes(doc)
	if !parsed.IsObject() {
		return nil, &ParseError{Err: errors.New("top level must be an object")}
	}
	if err := checkRequired(parsed, "", requiredFields); err != nil {
		return nil, err
	}
	if err := checkEntries(parsed, "Prereqs", requiredPrereqFields); err != nil {
		return nil, err
	}
	if err := checkEntries(parsed, "Preambles", requiredPreambleFields); err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, &ParseError{Err: err}
	}
	return &m, nil
}

// checkEntries validates every element of the array field name, which may be
// absent or null.
func checkEntries(doc gjson.Result, name string, required []string) error {
	arr, ok := field(doc, name)
	if !ok {
		return nil
	}
	if !arr.IsArray() {
		return &ParseError{Field: name, Err: errors.New("must be an array")}
	}
	for i, item := range arr.Array() {
		prefix := fmt.Sprintf("%s[%d]", name, i)
		if !item.IsObject() {
			return &ParseError{Field: prefix, Err: errors.New("must be an object")}
		}
		if err := checkRequired(item, prefix+".", required); err != nil {
			return err
		}
	}
	return nil
}

func checkRequired(obj gjson.Result, prefix string, names []string) error {
	for _, name := range names {
		if _, ok := field(obj, name); !ok {
			return &ParseError{Field: prefix + name, Err: errMissingField}
		}
	}
	return nil
}

// field looks up a member by case-insensitive name, the way encoding/json
// matches struct fields. A null member counts as absent.
func field(obj gjson.Result, name string) (gjson.Result, bool) {
	var found gjson.Result
	ok := false
	obj.ForEach(func(key, value gjson.Result) bool {
		if strings.EqualFold(key.String(), name) {
			found, ok = value, value.Type != gjson.Null
			return false
		}
		return true
	})
	return found, ok
}
