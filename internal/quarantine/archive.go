package quarantine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/yeka/zip"
)

// ErrEmptyPassword is returned by Archive when no passphrase is given.
var ErrEmptyPassword = errors.New("archive passphrase is empty")

// ArchiveName returns the archive file name for runID.
func ArchiveName(runID string) string {
	return "quarantine-" + runID + ".zip"
}

// Archive packs the files stored in this run, plus the manifest, into an
// AES-256 encrypted zip inside the root. Entry names are relative to the
// root. The stored files stay in place, so a failure here never affects
// manifest entries already written.
func (q *Quarantine) Archive(runID, password string) (string, error) {
	files := q.Stored()
	files = append(files, filepath.Join(q.root, ManifestName))
	dst := filepath.Join(q.root, ArchiveName(runID))
	if err := WriteArchive(dst, q.root, files, password); err != nil {
		return "", err
	}
	return dst, nil
}

// WriteArchive writes files into an AES-256 encrypted zip at dst, naming
// each entry by its path relative to base. A partly written archive is
// removed.
func WriteArchive(dst, base string, files []string, password string) (err error) {
	if password == "" {
		return ErrEmptyPassword
	}

	out, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close archive: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	zw := zip.NewWriter(out)
	for _, path := range files {
		if err = addEncrypted(zw, base, path, password); err != nil {
			_ = zw.Close()
			return err
		}
	}
	if err = zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return nil
}

func addEncrypted(zw *zip.Writer, base, path, password string) error {
	name, err := filepath.Rel(base, path)
	if err != nil {
		return fmt.Errorf("failed to name archive entry for %s: %w", path, err)
	}
	src, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer src.Close()

	w, err := zw.Encrypt(filepath.ToSlash(name), password, zip.AES256Encryption)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}
