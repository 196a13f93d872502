package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CompressedExt marks zstd-compressed outputs.
const CompressedExt = ".zst"

// Encode renders doc in format f.
func Encode(doc Document, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return json.MarshalIndent(doc, "", "  ")
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatMermaid:
		return []byte(Mermaid(doc.Graph)), nil
	case FormatHTML:
		html, err := RenderHTML(doc)
		if err != nil {
			return nil, err
		}
		return []byte(html), nil
	default:
		return nil, fmt.Errorf("unknown report format %q", f)
	}
}

// Write encodes doc to path, compressing when path ends in ".zst". The
// file is replaced atomically.
func Write(path string, f Format, doc Document) error {
	data, err := Encode(doc, f)
	if err != nil {
		return fmt.Errorf("encode %s: %w", f, err)
	}
	if strings.HasSuffix(path, CompressedExt) {
		if !f.Compressible() {
			return fmt.Errorf("%s reports cannot be compressed", f)
		}
		if data, err = compress(data); err != nil {
			return fmt.Errorf("compress %s: %w", path, err)
		}
	}
	return atomicWrite(path, data)
}

// WriteAll writes every format into dir under its default name and returns
// the written paths.
func WriteAll(dir string, formats []Format, compressed bool, doc Document) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	var paths []string
	for _, f := range formats {
		path := filepath.Join(dir, f.FileName())
		if compressed && f.Compressible() {
			path += CompressedExt
		}
		if err := Write(path, f, doc); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// Read loads a JSON or YAML document, decompressing ".zst" files.
func Read(path string) (Document, error) {
	var doc Document
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, err
	}
	name := path
	if strings.HasSuffix(name, CompressedExt) {
		if data, err = decompress(data); err != nil {
			return doc, fmt.Errorf("decompress %s: %w", path, err)
		}
		name = strings.TrimSuffix(name, CompressedExt)
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		err = json.Unmarshal(data, &doc)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &doc)
	default:
		return doc, fmt.Errorf("cannot read %s: expected .json or .yaml", path)
	}
	if err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func compress(data []byte) ([]byte, error) {
	var out bytes.Buffer
	enc, err := zstd.NewWriter(&out)
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}

// atomicWrite writes to a temp file in the target directory and renames
// it into place.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
