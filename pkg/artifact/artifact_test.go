package artifact

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sjscal/pkg/storage"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

func TestCollect_SortedRelativeNames(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"index.html":     "<html></html>",
		"Sea_Breeze.ics": "BEGIN:VCALENDAR",
		"nested/a.txt":   "a",
	})

	files, err := Collect(root)
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"Sea_Breeze.ics", "index.html", "nested/a.txt"}, names)
	assert.Equal(t, int64(1), files[2].Size)
	assert.Equal(t, "ca978112ca1bbdcafac231b39a23dc4da786eff8147c4e72b9807785afee48bb", files[2].SHA256)
}

func TestCollect_MissingRootIsEmpty(t *testing.T) {
	files, err := Collect(filepath.Join(t.TempDir(), "output"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestCollect_SingleFile(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"report.txt": "ok"})

	files, err := Collect(filepath.Join(root, "report.txt"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "report.txt", files[0].Name)
}

func TestUploader_ArchiveHoldsExactlyTheFiles(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "output")
	writeTree(t, root, map[string]string{
		"output/index.html": "<html></html>",
		"output/Boat_A.ics": "A",
		"output/Boat_B.ics": "B",
		"requirements.txt":  "requests",
		"scrape.py":         "print()",
	})

	blobs, err := storage.NewLocalBlobStore(t.TempDir())
	require.NoError(t, err)

	ref, files, err := NewUploader(blobs).Upload(context.Background(), "run-1", "generated-output", out)
	require.NoError(t, err)
	assert.Equal(t, "generated-output", ref.Name)
	assert.Equal(t, 3, ref.Files)
	assert.Len(t, files, 3)
	assert.NotEmpty(t, ref.SHA256)

	rc, err := blobs.Open(context.Background(), ref.URI)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, ref.SizeBytes, int64(len(data)))

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"Boat_A.ics", "Boat_B.ics", "index.html"}, names)
}

func TestUploader_NoFiles(t *testing.T) {
	blobs, err := storage.NewLocalBlobStore(t.TempDir())
	require.NoError(t, err)

	empty := t.TempDir()
	_, _, err = NewUploader(blobs).Upload(context.Background(), "run-1", "generated-output", empty)
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("generated-output"))
	assert.Error(t, ValidateName(""))
	assert.Error(t, ValidateName("../escape"))
	assert.Error(t, ValidateName("a/b"))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "artifacts/abc/generated-output.zip", Key("abc", "generated-output"))
}
