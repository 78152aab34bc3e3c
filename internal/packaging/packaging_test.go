package packaging

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		out[f.Name] = b
	}
	return out
}

func TestOutputName(t *testing.T) {
	tests := []struct {
		original, suffix, ext, want string
	}{
		{"photo.jpeg", "_compressed", "png", "photo_compressed.png"},
		{"dir/sub/scan.PNG", "_resized", ".jpg", "scan_resized.jpg"},
		{"archive.tar.gz", "", "zip", "archive.tar.zip"},
		{"noext", "_rotated", "png", "noext_rotated.png"},
		{".hidden", "_x", "png", ".hidden_x.png"},
		{`C:\Users\me\pic.gif`, "_converted", "bmp", "pic_converted.bmp"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OutputName(tt.original, tt.suffix, tt.ext), tt.original)
	}
}

func TestDedupe(t *testing.T) {
	got := Dedupe([]string{"a.png", "b.png", "a.png", "A.png", "a (2).png"})
	assert.Equal(t, []string{"a.png", "b.png", "a (2).png", "A (3).png", "a (2) (2).png"}, got)
}

func TestPackageSingleEntryIsTheFile(t *testing.T) {
	res, err := Package([]Entry{{Name: "one_compressed.png", MimeType: "image/png", Data: []byte("png")}}, "ignored")
	require.NoError(t, err)
	assert.False(t, res.Archive)
	assert.Equal(t, "one_compressed.png", res.Filename)
	assert.Equal(t, "image/png", res.MimeType)
	assert.Equal(t, []byte("png"), res.Data)
}

func TestPackageManyEntriesIsAnArchive(t *testing.T) {
	entries := []Entry{
		{Name: "a_compressed.png", Data: []byte("a")},
		{Name: "b_compressed.png", Data: []byte("b")},
		{Name: "c_compressed.png", Data: []byte("c")},
	}
	res, err := Package(entries, "compressed_images")
	require.NoError(t, err)
	assert.True(t, res.Archive)
	assert.Equal(t, "compressed_images.zip", res.Filename)
	assert.Equal(t, ArchiveMimeType, res.MimeType)
	assert.Equal(t, 3, res.Entries)

	files := readArchive(t, res.Data)
	require.Len(t, files, 3)
	for _, e := range entries {
		assert.Equal(t, e.Data, files[e.Name])
	}
}

func TestPackageDeduplicatesCollisions(t *testing.T) {
	res, err := Package([]Entry{
		{Name: "x.png", Data: []byte("1")},
		{Name: "x.png", Data: []byte("2")},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "files.zip", res.Filename)
	files := readArchive(t, res.Data)
	assert.Equal(t, []byte("1"), files["x.png"])
	assert.Equal(t, []byte("2"), files["x (2).png"])
}

func TestPackageNothing(t *testing.T) {
	_, err := Package(nil, "x.zip")
	assert.ErrorIs(t, err, ErrNothingToPackage)
}

func TestDataURIRoundTrip(t *testing.T) {
	uri := DataURI("image/png", []byte{0, 1, 2, 250})
	assert.Equal(t, "data:image/png;base64,AAEC+g==", uri)

	mime, data, err := ParseDataURI(uri)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, []byte{0, 1, 2, 250}, data)

	for _, bad := range []string{"image/png;base64,AA", "data:image/png,AA", "data:image/png;base64", "data:x;base64,%%"} {
		_, _, err := ParseDataURI(bad)
		assert.ErrorIs(t, err, ErrBadDataURI, bad)
	}
}
