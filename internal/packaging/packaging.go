// Package packaging turns a batch of processed outputs into one downloadable
// payload: the file itself for a single output, a zip archive otherwise.
package packaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
)

const ArchiveMimeType = "application/zip"

var (
	ErrNothingToPackage = errors.New("nothing to package")
	ErrBadDataURI       = errors.New("malformed data uri")
)

// Entry is one processed output.
type Entry struct {
	Name     string
	MimeType string
	Data     []byte
}

// Result is a packaged download.
type Result struct {
	Filename string
	MimeType string
	Data     []byte
	Archive  bool
	Entries  int
}

// Size is the payload size in bytes.
func (r *Result) Size() int64 { return int64(len(r.Data)) }

// DataURI encodes the payload for persisting in a string store.
func (r *Result) DataURI() string { return DataURI(r.MimeType, r.Data) }

// OutputName replaces the extension of original's basename and appends suffix
// to the stem: ("photo.jpeg", "_compressed", "png") -> "photo_compressed.png".
func OutputName(original, suffix, ext string) string {
	base := path.Base(strings.ReplaceAll(original, `\`, "/"))
	if base == "." || base == "/" {
		base = "file"
	}
	stem := strings.TrimSuffix(base, path.Ext(base))
	if stem == "" {
		stem = base
	}
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return stem + suffix
	}
	return stem + suffix + "." + ext
}

// Dedupe makes names unique by inserting " (2)", " (3)", ... before the
// extension of later duplicates. The first occurrence keeps its name.
func Dedupe(names []string) []string {
	out := make([]string, len(names))
	used := make(map[string]bool, len(names))
	for i, name := range names {
		candidate := name
		ext := path.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		for n := 2; used[strings.ToLower(candidate)]; n++ {
			candidate = fmt.Sprintf("%s (%d)%s", stem, n, ext)
		}
		used[strings.ToLower(candidate)] = true
		out[i] = candidate
	}
	return out
}

// Package returns the single entry as is, or a zip of every entry in order.
// A failure packaging any entry fails the whole result.
func Package(entries []Entry, archiveName string) (*Result, error) {
	switch len(entries) {
	case 0:
		return nil, ErrNothingToPackage
	case 1:
		e := entries[0]
		return &Result{Filename: e.Name, MimeType: e.MimeType, Data: e.Data, Entries: 1}, nil
	}

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	names = Dedupe(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	now := time.Now()
	for i, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     names[i],
			Method:   zip.Deflate,
			Modified: now,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to add %s to archive: %w", names[i], err)
		}
		if _, err := w.Write(e.Data); err != nil {
			return nil, fmt.Errorf("failed to write %s to archive: %w", names[i], err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}

	if archiveName == "" {
		archiveName = "files.zip"
	} else if !strings.HasSuffix(strings.ToLower(archiveName), ".zip") {
		archiveName += ".zip"
	}
	return &Result{
		Filename: archiveName,
		MimeType: ArchiveMimeType,
		Data:     buf.Bytes(),
		Archive:  true,
		Entries:  len(entries),
	}, nil
}

// DataURI encodes data as a base64 data URI.
func DataURI(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseDataURI decodes a base64 data URI produced by DataURI.
func ParseDataURI(s string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, ErrBadDataURI
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrBadDataURI
	}
	mimeType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, fmt.Errorf("%w: only base64 payloads are supported", ErrBadDataURI)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrBadDataURI, err)
	}
	return mimeType, data, nil
}
