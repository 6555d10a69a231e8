// Package registry is the read-only view pkgdeploy has of the Windows registry:
// enumerating the installed-programs inventory and reading single values.
package registry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/windowsadmins/pkgdeploy/pkg/regversion"
	"github.com/windowsadmins/pkgdeploy/pkg/utils"
)

var (
	// ErrNotExist is returned when a key or value is absent.
	ErrNotExist = errors.New("registry key or value does not exist")

	// ErrUnsupported is returned by the live reader on non-Windows platforms.
	ErrUnsupported = errors.New("registry access is only supported on Windows")
)

// Hive names a registry root.
type Hive string

const (
	LocalMachine Hive = "HKLM"
	CurrentUser  Hive = "HKCU"
)

// Reader opens registry keys.
type Reader interface {
	OpenKey(hive Hive, path string) (Key, error)
}

// Key is an open registry key.
type Key interface {
	Name() string
	SubkeyNames() ([]string, error)
	// Value returns ErrNotExist (possibly wrapped) when the value is absent.
	Value(name string) (Value, error)
	Close() error
}

// ValueKind distinguishes string data from integer data.
type ValueKind int

const (
	KindString ValueKind = iota
	KindInteger
)

// Value is a registry value reduced to the two shapes pkgdeploy cares about:
// REG_SZ/REG_EXPAND_SZ strings and REG_DWORD/REG_QWORD integers.
type Value struct {
	Name    string
	Kind    ValueKind
	String  string
	Integer uint64
}

// StringValue builds a string Value.
func StringValue(name, s string) Value {
	return Value{Name: name, Kind: KindString, String: s}
}

// IntegerValue builds an integer Value.
func IntegerValue(name string, n uint64) Value {
	return Value{Name: name, Kind: KindInteger, Integer: n}
}

// Text renders the value the way regedit would show it.
func (v Value) Text() string {
	if v.Kind == KindInteger {
		return strconv.FormatUint(v.Integer, 10)
	}
	return v.String
}

// Version interprets the value as an ordered version.
func (v Value) Version() (regversion.Version, error) {
	if v.Kind == KindInteger {
		return regversion.FromInteger(v.Integer)
	}
	return regversion.Parse(v.String)
}

// Root is a hive plus key path, e.g. HKLM\SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall.
type Root struct {
	Hive Hive
	Path string
}

func (r Root) String() string {
	return string(r.Hive) + `\` + r.Path
}

// DefaultUninstallRoots are the installed-programs inventories, scanned in this order.
var DefaultUninstallRoots = []Root{
	{Hive: LocalMachine, Path: `SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall`},
	{Hive: LocalMachine, Path: `SOFTWARE\Wow6432Node\Microsoft\Windows\CurrentVersion\Uninstall`},
	{Hive: CurrentUser, Path: `SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall`},
}

// hivePrefixes are the spellings accepted in front of a manifest check key.
var hivePrefixes = []struct {
	prefix string
	hive   Hive
}{
	{`HKEY_LOCAL_MACHINE\`, LocalMachine},
	{`HKEY_CURRENT_USER\`, CurrentUser},
	{`HKLM:\`, LocalMachine},
	{`HKCU:\`, CurrentUser},
	{`HKLM\`, LocalMachine},
	{`HKCU\`, CurrentUser},
}

// ParseKeyPath splits a manifest check key into hive and path. Keys without a
// hive prefix are relative to HKLM.
func ParseKeyPath(s string) (Hive, string) {
	p := utils.NormalizeRegistryPath(s)
	for _, hp := range hivePrefixes {
		if len(p) >= len(hp.prefix) && strings.EqualFold(p[:len(hp.prefix)], hp.prefix) {
			return hp.hive, utils.NormalizeRegistryPath(p[len(hp.prefix):])
		}
	}
	return LocalMachine, p
}

// LookupValue reads one value. The returned error wraps ErrNotExist when either
// the key or the value is absent; any other error is an access failure.
func LookupValue(r Reader, hive Hive, path, name string) (Value, error) {
	key, err := r.OpenKey(hive, path)
	if err != nil {
		return Value{}, fmt.Errorf("opening %s\\%s: %w", hive, path, err)
	}
	defer key.Close()

	val, err := key.Value(name)
	if err != nil {
		return Value{}, fmt.Errorf("reading %s\\%s\\%s: %w", hive, path, name, err)
	}
	return val, nil
}
