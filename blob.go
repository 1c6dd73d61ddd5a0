/* go-raspberrypi-usbboot
 *
 * Blob provider: a read-only, path-addressed byte store the boot
 * protocol pulls bootcode.bin and stage-2-requested files from.
 */

package usbboot

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// BlobProvider resolves a (family, filename) pair to bytes. A missing
// file is a normal condition, reported by returning (nil, false, nil)
// — never an error.
type BlobProvider interface {
	// ReadBlob returns the blob's content and true if present, or
	// (nil, false, nil) if absent. A non-nil error indicates the
	// store itself is unusable (e.g. permission denied), which is
	// distinct from "file doesn't exist".
	ReadBlob(family DeviceFamily, filename string) (data []byte, present bool, err error)
}

// DirBlobProvider implements BlobProvider against a directory tree
// laid out per §6:
//
//	<root>/raspberrypi/bootcode.bin
//	<root>/raspberrypi/<any filename the stage-2 loader requests>
//	<root>/cm4/bootcode.bin
//	<root>/cm4/<any filename>
type DirBlobProvider struct {
	Root string
}

// NewDirBlobProvider returns a BlobProvider rooted at root.
func NewDirBlobProvider(root string) *DirBlobProvider {
	return &DirBlobProvider{Root: root}
}

// ReadBlob implements BlobProvider.
//
// filename may contain forward-slash-separated components, as
// received verbatim from the device; it is cleaned and confined to
// the family subdirectory before any filesystem access, so a
// maliciously crafted stage-2 request (e.g. containing "..") cannot
// escape the blob root.
func (p *DirBlobProvider) ReadBlob(family DeviceFamily, filename string) ([]byte, bool, error) {
	path, ok := p.resolve(family, filename)
	if !ok {
		return nil, false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return data, true, nil
}

// resolve computes the on-disk path for (family, filename), confined
// to the family subdirectory of p.Root. It returns ok=false if the
// filename would escape that subdirectory.
func (p *DirBlobProvider) resolve(family DeviceFamily, filename string) (string, bool) {
	base := filepath.Join(p.Root, family.String())
	clean := filepath.Clean("/" + filepath.FromSlash(filename))
	path := filepath.Join(base, clean)

	if path != base && !strings.HasPrefix(path, base+string(filepath.Separator)) {
		return "", false
	}

	return path, true
}
