// Package registrytest provides an in-memory registry.Reader for tests.
package registrytest

import (
	"sort"
	"strings"

	"github.com/windowsadmins/pkgdeploy/pkg/registry"
)

// Reader is a map-backed registry. Key lookups ignore case, as the real
// registry does.
type Reader struct {
	keys   map[string]*Key
	errors map[string]error
	Opened []string
}

// New returns an empty Reader.
func New() *Reader {
	return &Reader{
		keys:   make(map[string]*Key),
		errors: make(map[string]error),
	}
}

func id(hive registry.Hive, path string) string {
	return strings.ToLower(string(hive) + `\` + strings.Trim(path, `\`))
}

// AddKey creates hive\path (and every missing parent) and returns it.
func (r *Reader) AddKey(hive registry.Hive, path string) *Key {
	path = strings.Trim(path, `\`)
	if k, ok := r.keys[id(hive, path)]; ok {
		return k
	}
	k := &Key{hive: hive, path: path, values: make(map[string]registry.Value)}
	r.keys[id(hive, path)] = k

	if i := strings.LastIndex(path, `\`); i > 0 {
		parent := r.AddKey(hive, path[:i])
		parent.children = append(parent.children, path[i+1:])
	}
	return k
}

// SetString stores a REG_SZ value, creating the key if needed.
func (r *Reader) SetString(hive registry.Hive, path, name, value string) {
	r.AddKey(hive, path).values[strings.ToLower(name)] = registry.StringValue(name, value)
}

// SetInteger stores a REG_DWORD value, creating the key if needed.
func (r *Reader) SetInteger(hive registry.Hive, path, name string, value uint64) {
	r.AddKey(hive, path).values[strings.ToLower(name)] = registry.IntegerValue(name, value)
}

// Fail makes OpenKey(hive, path) return err, e.g. to simulate access denied.
func (r *Reader) Fail(hive registry.Hive, path string, err error) {
	r.errors[id(hive, path)] = err
}

// OpenKey implements registry.Reader.
func (r *Reader) OpenKey(hive registry.Hive, path string) (registry.Key, error) {
	r.Opened = append(r.Opened, string(hive)+`\`+path)
	if err, ok := r.errors[id(hive, path)]; ok {
		return nil, err
	}
	if k, ok := r.keys[id(hive, path)]; ok {
		return k, nil
	}
	return nil, registry.ErrNotExist
}

// Key is an in-memory registry key.
type Key struct {
	hive     registry.Hive
	path     string
	children []string
	values   map[string]registry.Value
}

// Name implements registry.Key.
func (k *Key) Name() string {
	return k.path
}

// SubkeyNames implements registry.Key; names come back sorted.
func (k *Key) SubkeyNames() ([]string, error) {
	names := append([]string(nil), k.children...)
	sort.Strings(names)
	return names, nil
}

// Value implements registry.Key.
func (k *Key) Value(name string) (registry.Value, error) {
	if v, ok := k.values[strings.ToLower(name)]; ok {
		return v, nil
	}
	return registry.Value{}, registry.ErrNotExist
}

// Close implements registry.Key.
func (k *Key) Close() error {
	return nil
}
