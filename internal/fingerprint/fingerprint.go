// Package fingerprint decides whether a local copy matches a remote item
// without transferring bytes.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/spf13/afero"
)

// NeedsUpdate reports whether the file at path must be (re)fetched.
//
// A missing file always needs an update. A declared size that differs
// from the local length needs one without reading content. A declared MD5
// is compared against the local digest. With no declared size or digest
// an existing file is trusted as current.
//
// An unexpected stat or read error is returned together with true.
func NeedsUpdate(fs afero.Fs, path string, size *int64, md5sum string) (bool, error) {
	info, err := fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return true, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return true, fmt.Errorf("%s is a directory", path)
	}

	if size != nil && info.Size() != *size {
		return true, nil
	}

	if md5sum != "" {
		local, err := MD5File(fs, path)
		if err != nil {
			return true, err
		}
		if !Equal(local, md5sum) {
			return true, nil
		}
	}

	return false, nil
}

// MD5File returns the hex MD5 digest of a file.
func MD5File(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Equal compares two hex digests case-insensitively.
func Equal(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Verifier hashes and counts bytes as they are written through it.
type Verifier struct {
	w       io.Writer
	h       hash.Hash
	written int64
}

// NewVerifier wraps w.
func NewVerifier(w io.Writer) *Verifier {
	return &Verifier{w: w, h: md5.New()}
}

func (v *Verifier) Write(p []byte) (int, error) {
	n, err := v.w.Write(p)
	v.h.Write(p[:n])
	v.written += int64(n)
	return n, err
}

// Written returns the number of bytes passed through.
func (v *Verifier) Written() int64 {
	return v.written
}

// Sum returns the hex MD5 of everything written so far.
func (v *Verifier) Sum() string {
	return hex.EncodeToString(v.h.Sum(nil))
}

// Check compares the streamed content with the declared size and digest.
// Absent declarations are not checked.
func (v *Verifier) Check(size *int64, md5sum string) error {
	if size != nil && v.written != *size {
		return fmt.Errorf("size mismatch: got %d bytes, declared %d", v.written, *size)
	}
	if md5sum != "" && !Equal(v.Sum(), md5sum) {
		return fmt.Errorf("md5 mismatch: got %s, declared %s", v.Sum(), md5sum)
	}
	return nil
}
