package export

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Format selects the per-user file layout inside an archive.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts "csv" or "json"; an empty string means csv.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// WriteArchive writes a gzip-compressed tar with one entry per user and file:
// <user>-test.csv and <user>-forms.csv for csv, <user>.json for json.
func WriteArchive(w io.Writer, format Format, users []User) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	modTime := time.Now()

	for _, u := range users {
		name := fileName(u.UserID)
		var files []archiveFile
		switch format {
		case FormatJSON:
			var buf bytes.Buffer
			if err := WriteJSON(&buf, u); err != nil {
				return fmt.Errorf("user %s json: %w", u.UserID, err)
			}
			files = append(files, archiveFile{name + ".json", buf.Bytes()})
		default:
			var test, forms bytes.Buffer
			if err := WriteTestCSV(&test, u); err != nil {
				return fmt.Errorf("user %s test csv: %w", u.UserID, err)
			}
			if err := WriteFormCSV(&forms, u); err != nil {
				return fmt.Errorf("user %s form csv: %w", u.UserID, err)
			}
			files = append(files, archiveFile{name + "-test.csv", test.Bytes()}, archiveFile{name + "-forms.csv", forms.Bytes()})
		}

		for _, f := range files {
			hdr := &tar.Header{Name: f.name, Mode: 0o644, Size: int64(len(f.data)), ModTime: modTime}
			if err := tw.WriteHeader(hdr); err != nil {
				return fmt.Errorf("tar header %s: %w", f.name, err)
			}
			if _, err := tw.Write(f.data); err != nil {
				return fmt.Errorf("tar write %s: %w", f.name, err)
			}
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	return gz.Close()
}

type archiveFile struct {
	name string
	data []byte
}

// fileName keeps user ids usable as flat archive entry names.
func fileName(userID string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, userID)
}
