package flash

import (
	"fmt"
	"os"
)

// File is a Mem whose content is persisted to a flash image on disk after
// every write or erase, so solutions survive restarts of the host tools.
type File struct {
	*Mem
	path string
}

var _ Device = (*File)(nil)

// OpenFile opens the flash image at path, creating an erased image of size
// bytes if it does not exist.
func OpenFile(path string, size int64) (*File, error) {
	f := &File{Mem: NewMem(size), path: path}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		f.load(data)
	case os.IsNotExist(err):
		if err := f.sync(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("failed to read flash image: %w", err)
	}

	return f, nil
}

func (f *File) WriteBlock(block int64, data []byte) error {
	if err := f.Mem.WriteBlock(block, data); err != nil {
		return err
	}
	return f.sync()
}

func (f *File) EraseBlock(block int64) error {
	if err := f.Mem.EraseBlock(block); err != nil {
		return err
	}
	return f.sync()
}

// Path returns the image file path.
func (f *File) Path() string {
	return f.path
}

func (f *File) sync() error {
	if err := os.WriteFile(f.path, f.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write flash image: %w", err)
	}
	return nil
}
