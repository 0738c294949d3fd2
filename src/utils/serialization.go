package utils

import (
	"encoding"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ulikunitz/xz"
)

// CompressedExt marks files that are transparently xz (de)compressed by
// Serialize and Deserialize.
const CompressedExt = ".xz"

func IsCompressed(path string) bool {
	return strings.HasSuffix(path, CompressedExt)
}

// Serialize writes object to path. The object must implement io.WriterTo or
// encoding.BinaryMarshaler. Paths ending in .xz are compressed.
func Serialize(object any, path string) (err error) {
	if err = EnsureParentDir(path); err != nil {
		return fmt.Errorf("mkdir for %s: %w", path, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("os.Create(%s): %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("file.Close: %w", cerr)
		}
	}()

	var w io.Writer = f
	if IsCompressed(path) {
		xw, err := xz.NewWriter(f)
		if err != nil {
			return fmt.Errorf("xz.NewWriter: %w", err)
		}
		defer func() {
			if cerr := xw.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("xz.Close: %w", cerr)
			}
		}()
		w = xw
	}

	switch object := object.(type) {
	case io.WriterTo:
		if _, err = object.WriteTo(w); err != nil {
			return fmt.Errorf("%T.WriteTo: %w", object, err)
		}
	case encoding.BinaryMarshaler:
		var data []byte
		if data, err = object.MarshalBinary(); err != nil {
			return fmt.Errorf("%T.MarshalBinary: %w", object, err)
		}
		if _, err = w.Write(data); err != nil {
			return fmt.Errorf("file.Write: %w", err)
		}
	default:
		return fmt.Errorf("%T does not implement io.WriterTo or encoding.BinaryMarshaler", object)
	}

	return
}

// Deserialize reads path into object, which must implement io.ReaderFrom or
// encoding.BinaryUnmarshaler.
func Deserialize(object any, path string) (err error) {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("os.Open(%s): %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if IsCompressed(path) {
		if r, err = xz.NewReader(f); err != nil {
			return fmt.Errorf("xz.NewReader(%s): %w", path, err)
		}
	}

	switch object := object.(type) {
	case io.ReaderFrom:
		if _, err = object.ReadFrom(r); err != nil {
			return fmt.Errorf("%T.ReadFrom: %w", object, err)
		}
	case encoding.BinaryUnmarshaler:
		var data []byte
		if data, err = io.ReadAll(r); err != nil {
			return fmt.Errorf("io.ReadAll(%s): %w", path, err)
		}
		if err = object.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("%T.UnmarshalBinary: %w", object, err)
		}
	default:
		return fmt.Errorf("%T does not implement io.ReaderFrom or encoding.BinaryUnmarshaler", object)
	}

	return
}

// SaveToJSON encodes data as JSON into path
func SaveToJSON(path string, data any) error {
	if err := EnsureParentDir(path); err != nil {
		return fmt.Errorf("mkdir for %s: %w", path, err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("os.Create(%s): %w", path, err)
	}
	defer file.Close()

	if err = json.NewEncoder(file).Encode(data); err != nil {
		return fmt.Errorf("json.Encode(%s): %w", path, err)
	}
	return nil
}

// LoadFromJSON decodes the JSON file at path into data
func LoadFromJSON(path string, data any) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("os.Open(%s): %w", path, err)
	}
	defer file.Close()

	if err = json.NewDecoder(file).Decode(data); err != nil {
		return fmt.Errorf("json.Decode(%s): %w", path, err)
	}
	return nil
}

// CountingWriter counts the bytes passed through to W.
type CountingWriter struct {
	W io.Writer
	N int64
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.W.Write(p)
	c.N += int64(n)
	return n, err
}

// CountingReader counts the bytes read from R.
type CountingReader struct {
	R io.Reader
	N int64
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.R.Read(p)
	c.N += int64(n)
	return n, err
}
