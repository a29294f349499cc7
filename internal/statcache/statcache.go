// Package statcache builds the compressed stat snapshot pushed to clients so
// they can prime their local file caches without issuing per-file stats.
package statcache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/pierrec/lz4/v4"

	"github.com/seoulengine/moriarty/pkg/proto"
)

// Build walks root and serializes one record per regular file whose extension
// maps to a known file type. Files of unknown type are skipped: they cannot
// be expressed on the wire. Returns nil when the directory yields no records.
func Build(dir proto.GameDirectory, root string) ([]byte, error) {
	var raw bytes.Buffer
	wr := proto.Writer{Writer: &raw}

	records := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		fp, ok := proto.NewFilePath(dir, rel)
		if !ok {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// deleted mid-walk, skip
			return nil
		}

		if err := wr.WriteStatCacheRecord(fp, uint64(info.Size()), uint64(info.ModTime().Unix())); err != nil {
			return err
		}

		records++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s failed: %w", root, err)
	}

	if records == 0 {
		return nil, nil
	}

	return compress(raw.Bytes())
}

func compress(raw []byte) ([]byte, error) {
	var out bytes.Buffer

	zw := lz4.NewWriter(&out)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress failed: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress failed: %w", err)
	}

	return out.Bytes(), nil
}

// Decode expands a snapshot back into its records. Primarily used by tests
// and diagnostic tooling.
func Decode(payload []byte) ([]Record, error) {
	rd := proto.Reader{Reader: lz4.NewReader(bytes.NewReader(payload))}

	var records []Record
	for {
		fp, size, mtime, err := rd.ReadStatCacheRecord()
		if err != nil {
			if isEOF(err) {
				return records, nil
			}
			return nil, fmt.Errorf("decode stat cache record failed: %w", err)
		}

		records = append(records, Record{FilePath: fp, Size: size, ModifiedTime: mtime})
	}
}

type Record struct {
	FilePath     proto.FilePath
	Size         uint64
	ModifiedTime uint64
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
