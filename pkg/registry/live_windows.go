//go:build windows

package registry

import (
	"errors"
	"fmt"

	winregistry "golang.org/x/sys/windows/registry"
)

// LiveReader reads the registry of the running machine.
type LiveReader struct{}

// NewLiveReader returns a Reader over the live registry.
func NewLiveReader() *LiveReader {
	return &LiveReader{}
}

// OpenKey opens hive\path for querying values and enumerating subkeys.
func (LiveReader) OpenKey(hive Hive, path string) (Key, error) {
	var root winregistry.Key
	switch hive {
	case LocalMachine:
		root = winregistry.LOCAL_MACHINE
	case CurrentUser:
		root = winregistry.CURRENT_USER
	default:
		return nil, fmt.Errorf("unsupported hive: %s", hive)
	}

	k, err := winregistry.OpenKey(root, path, winregistry.QUERY_VALUE|winregistry.ENUMERATE_SUB_KEYS)
	if err != nil {
		if errors.Is(err, winregistry.ErrNotExist) {
			return nil, ErrNotExist
		}
		return nil, err
	}
	return &liveKey{key: k, name: path}, nil
}

type liveKey struct {
	key  winregistry.Key
	name string
}

func (k *liveKey) Name() string {
	return k.name
}

func (k *liveKey) SubkeyNames() ([]string, error) {
	return k.key.ReadSubKeyNames(0)
}

func (k *liveKey) Value(name string) (Value, error) {
	_, valType, err := k.key.GetValue(name, nil)
	if err != nil {
		if errors.Is(err, winregistry.ErrNotExist) {
			return Value{}, ErrNotExist
		}
		return Value{}, err
	}

	switch valType {
	case winregistry.SZ, winregistry.EXPAND_SZ:
		s, _, err := k.key.GetStringValue(name)
		if err != nil {
			return Value{}, err
		}
		return StringValue(name, s), nil
	case winregistry.DWORD, winregistry.QWORD:
		n, _, err := k.key.GetIntegerValue(name)
		if err != nil {
			return Value{}, err
		}
		return IntegerValue(name, n), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %d for %q", valType, name)
	}
}

func (k *liveKey) Close() error {
	return k.key.Close()
}
