package storage

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"chatvault/internal/fs"
)

const gzSuffix = ".gz"

// writeArtifact writes data at path, gzip-compressed under path+".gz" when
// compress is set. The other variant is removed so readers never see a
// stale copy.
func writeArtifact(path string, data []byte, compress bool) error {
	target, stale := path, path+gzSuffix
	if compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return fmt.Errorf("compressing %s: %w", filepath.Base(path), err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("compressing %s: %w", filepath.Base(path), err)
		}
		data = buf.Bytes()
		target, stale = path+gzSuffix, path
	}
	if err := fs.WriteFileAtomic(target, data); err != nil {
		return err
	}
	if err := fs.RemoveIfExists(stale); err != nil {
		return fmt.Errorf("removing stale %s: %w", filepath.Base(stale), err)
	}
	return nil
}

// readArtifact reads path+".gz" if present, else path. It returns an error
// matching os.ErrNotExist when neither exists.
func readArtifact(path string) ([]byte, error) {
	f, err := os.Open(path + gzSuffix)
	if err == nil {
		defer f.Close()
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", filepath.Base(path)+gzSuffix, err)
		}
		defer zr.Close()
		data, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("decompressing %s: %w", filepath.Base(path)+gzSuffix, err)
		}
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("opening %s: %w", filepath.Base(path)+gzSuffix, err)
	}
	return os.ReadFile(path)
}

// artifactExists reports whether either variant of path exists.
func artifactExists(path string) (bool, error) {
	for _, p := range []string{path + gzSuffix, path} {
		_, err := os.Stat(p)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("checking %s: %w", p, err)
		}
	}
	return false, nil
}

// readJSONArtifact decodes the artifact at path into v. found is false when
// no variant exists.
func readJSONArtifact(path string, v any) (found bool, err error) {
	data, err := readArtifact(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func marshalJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
