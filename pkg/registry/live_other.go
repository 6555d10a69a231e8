//go:build !windows

package registry

// LiveReader fails every call outside Windows.
type LiveReader struct{}

// NewLiveReader returns a Reader that reports ErrUnsupported.
func NewLiveReader() *LiveReader {
	return &LiveReader{}
}

// OpenKey always returns ErrUnsupported.
func (LiveReader) OpenKey(Hive, string) (Key, error) {
	return nil, ErrUnsupported
}
