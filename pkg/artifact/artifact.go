// Package artifact packages a run's output directory into a zip archive and
// stores it in blob storage.
package artifact

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sjscal/pkg/models"
	"sjscal/pkg/storage"
)

// ErrNoFiles is returned when the source path holds no regular files.
var ErrNoFiles = errors.New("no files found")

// File is one collected file.
type File struct {
	// Name is the slash-separated path relative to the collected root.
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
	abs    string
}

// Collect lists every regular file under root, sorted by name. root may be a
// single file, in which case its base name is used. A missing root yields an
// empty list.
func Collect(root string) ([]File, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}

	if !info.IsDir() {
		f, err := describe(root, filepath.Base(root))
		if err != nil {
			return nil, err
		}
		return []File{f}, nil
	}

	var files []File
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		f, err := describe(path, filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		files = append(files, f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collecting files from %s: %w", root, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func describe(path, name string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("reading %s: %w", name, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return File{}, fmt.Errorf("hashing %s: %w", name, err)
	}
	return File{Name: name, Size: n, SHA256: hex.EncodeToString(h.Sum(nil)), abs: path}, nil
}

// Archive writes files into a zip stream in the given order.
func Archive(w io.Writer, files []File) error {
	zw := zip.NewWriter(w)
	for _, f := range files {
		if err := addFile(zw, f); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

func addFile(zw *zip.Writer, f File) error {
	src, err := os.Open(f.abs)
	if err != nil {
		return fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", f.Name, err)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = f.Name
	header.Method = zip.Deflate

	dst, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("adding %s: %w", f.Name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("writing %s: %w", f.Name, err)
	}
	return nil
}

// Key is the blob key of a run's named artifact.
func Key(runID, name string) string {
	return fmt.Sprintf("artifacts/%s/%s.zip", runID, name)
}

// ValidateName rejects names that cannot be used as a single key segment.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("artifact name is required")
	}
	if strings.ContainsAny(name, `/\:*?"<>|`) || name == "." || name == ".." {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return nil
}

// Uploader packages directories into named artifacts.
type Uploader struct {
	Blobs storage.BlobStore
}

func NewUploader(blobs storage.BlobStore) *Uploader {
	return &Uploader{Blobs: blobs}
}

// Upload archives every file under root as artifact name of run runID.
// It returns ErrNoFiles, without uploading, when root holds nothing.
func (u *Uploader) Upload(ctx context.Context, runID, name, root string) (models.ArtifactRef, []File, error) {
	if err := ValidateName(name); err != nil {
		return models.ArtifactRef{}, nil, err
	}

	files, err := Collect(root)
	if err != nil {
		return models.ArtifactRef{}, nil, err
	}
	if len(files) == 0 {
		return models.ArtifactRef{}, nil, fmt.Errorf("%w under %s", ErrNoFiles, root)
	}

	var buf bytes.Buffer
	sum := sha256.New()
	if err := Archive(io.MultiWriter(&buf, sum), files); err != nil {
		return models.ArtifactRef{}, nil, fmt.Errorf("archiving %s: %w", name, err)
	}
	size := int64(buf.Len())

	uri, err := u.Blobs.Put(ctx, Key(runID, name), &buf, "application/zip")
	if err != nil {
		return models.ArtifactRef{}, nil, fmt.Errorf("uploading artifact %s: %w", name, err)
	}

	return models.ArtifactRef{
		Name:      name,
		URI:       uri,
		Files:     len(files),
		SizeBytes: size,
		SHA256:    hex.EncodeToString(sum.Sum(nil)),
	}, files, nil
}
