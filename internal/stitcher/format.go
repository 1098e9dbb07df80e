package stitcher

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chai2010/webp"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// ErrResourceUnavailable means no encoder exists for the requested output format.
var ErrResourceUnavailable = errors.New("imaging support unavailable")

// Format is an output encoder.
type Format struct {
	Ext         string
	ContentType string
	// Alpha is false for formats that cannot store transparency.
	Alpha  bool
	encode func(w io.Writer, img image.Image) error
}

var formats = map[string]Format{
	".png": {Ext: ".png", ContentType: "image/png", Alpha: true, encode: png.Encode},
	".jpg": {Ext: ".jpg", ContentType: "image/jpeg", encode: func(w io.Writer, img image.Image) error {
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
	}},
	".gif": {Ext: ".gif", ContentType: "image/gif", Alpha: true, encode: func(w io.Writer, img image.Image) error {
		return gif.Encode(w, img, nil)
	}},
	".bmp": {Ext: ".bmp", ContentType: "image/bmp", Alpha: true, encode: bmp.Encode},
	".tif": {Ext: ".tif", ContentType: "image/tiff", Alpha: true, encode: func(w io.Writer, img image.Image) error {
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	}},
	".webp": {Ext: ".webp", ContentType: "image/webp", Alpha: true, encode: func(w io.Writer, img image.Image) error {
		return webp.Encode(w, img, &webp.Options{Lossless: true})
	}},
}

var aliases = map[string]string{
	".jpeg": ".jpg",
	".jpe":  ".jpg",
	".tiff": ".tif",
}

// NormalizeExt lower-cases ext and adds the leading dot.
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// Lookup returns the encoder for ext ("png", ".JPG", ...).
func Lookup(ext string) (Format, error) {
	ext = NormalizeExt(ext)
	key := ext
	if a, ok := aliases[key]; ok {
		key = a
	}
	f, ok := formats[key]
	if !ok {
		return Format{}, fmt.Errorf("%w: no encoder for %q", ErrResourceUnavailable, ext)
	}
	// keep the spelling the caller asked for in file names
	f.Ext = ext
	return f, nil
}

// Supported reports whether stitched images can be written as ext.
func Supported(ext string) error {
	_, err := Lookup(ext)
	return err
}

// Encode writes img to w. PNG output carries meta as tEXt chunks when possible;
// failing to embed them is not an error.
func (f Format) Encode(w io.Writer, img image.Image, meta map[string]string, log logrus.FieldLogger) error {
	if f.ContentType != "image/png" || len(meta) == 0 {
		return f.encode(w, img)
	}

	var buf bytes.Buffer
	if err := f.encode(&buf, img); err != nil {
		return err
	}
	data, err := embedText(buf.Bytes(), meta)
	if err != nil {
		if log != nil {
			log.Warnf("Could not embed metadata: %v", err)
		}
		data = buf.Bytes()
	}
	_, err = w.Write(data)
	return err
}

// WriteFile encodes img to path. The image is written to a temporary file in
// the same directory and renamed, so a failed run leaves no partial output.
func (f Format) WriteFile(path string, img image.Image, meta map[string]string, log logrus.FieldLogger) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".stitch-*"+f.Ext)
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := f.Encode(tmp, img, meta, log); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// embedText inserts one tEXt chunk per key right after IHDR.
func embedText(data []byte, meta map[string]string) ([]byte, error) {
	const ihdrEnd = 8 + 4 + 4 + 13 + 4
	if len(data) < ihdrEnd || !bytes.Equal(data[:8], pngSignature) || string(data[12:16]) != "IHDR" {
		return nil, errors.New("not a PNG stream")
	}

	keys := make([]string, 0, len(meta))
	for k := range meta {
		if len(k) == 0 || len(k) > 79 || strings.ContainsRune(k, 0) {
			return nil, fmt.Errorf("invalid PNG text keyword %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out bytes.Buffer
	out.Write(data[:ihdrEnd])
	for _, k := range keys {
		writeChunk(&out, "tEXt", []byte(k+"\x00"+meta[k]))
	}
	out.Write(data[ihdrEnd:])
	return out.Bytes(), nil
}

func writeChunk(w *bytes.Buffer, typ string, payload []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(payload)))
	w.Write(n[:])

	crc := crc32.NewIEEE()
	crc.Write([]byte(typ))
	crc.Write(payload)
	w.WriteString(typ)
	w.Write(payload)
	binary.BigEndian.PutUint32(n[:], crc.Sum32())
	w.Write(n[:])
}

// ReadText returns the tEXt chunks of a PNG stream.
func ReadText(data []byte) (map[string]string, error) {
	if len(data) < 8 || !bytes.Equal(data[:8], pngSignature) {
		return nil, errors.New("not a PNG stream")
	}
	text := map[string]string{}
	for p := 8; p+12 <= len(data); {
		n := int(binary.BigEndian.Uint32(data[p : p+4]))
		typ := string(data[p+4 : p+8])
		if p+12+n > len(data) {
			return nil, errors.New("truncated PNG chunk")
		}
		if typ == "tEXt" {
			if k, v, ok := bytes.Cut(data[p+8:p+8+n], []byte{0}); ok {
				text[string(k)] = string(v)
			}
		}
		if typ == "IEND" {
			break
		}
		p += 12 + n
	}
	return text, nil
}
