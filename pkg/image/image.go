// Package image reads and writes compiled executable images. An image is a
// fixed little-endian header followed by the raw code and data segments; it
// carries everything a loader needs to place and start the program.
package image

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"oscc/pkg/compiler"
)

// Magic identifies an executable image file.
var Magic = [4]byte{'O', 'C', 'X', '1'}

// Version is the current image format version.
const Version = 1

// maxSegment rejects absurd sizes when reading untrusted images.
const maxSegment = 16 * 1024 * 1024

// header is the on-disk layout, little-endian.
type header struct {
	Magic    [4]byte
	Version  uint32
	Entry    uint32
	CodeBase uint32
	CodeSize uint32
	DataBase uint32
	DataSize uint32
}

// Image is a loadable program.
type Image struct {
	Entry    uint32
	CodeBase uint32
	DataBase uint32
	Code     []byte
	Data     []byte
}

// FromProgram packages a compiled unit as an image.
func FromProgram(p *compiler.Program) *Image {
	return &Image{
		Entry:    p.Entry,
		CodeBase: p.CodeBase,
		DataBase: p.DataBase,
		Code:     p.Code,
		Data:     p.Data,
	}
}

// WriteTo serializes the image.
func (img *Image) WriteTo(w io.Writer) (int64, error) {
	h := header{
		Magic:    Magic,
		Version:  Version,
		Entry:    img.Entry,
		CodeBase: img.CodeBase,
		CodeSize: uint32(len(img.Code)),
		DataBase: img.DataBase,
		DataSize: uint32(len(img.Data)),
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return 0, err
	}
	buf.Write(img.Code)
	buf.Write(img.Data)
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// Read deserializes and validates an image.
func Read(r io.Reader) (*Image, error) {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("reading image header: %w", err)
	}
	if h.Magic != Magic {
		return nil, fmt.Errorf("not an executable image (magic %q)", h.Magic)
	}
	if h.Version != Version {
		return nil, fmt.Errorf("unsupported image version %d", h.Version)
	}
	if h.CodeSize > maxSegment || h.DataSize > maxSegment {
		return nil, fmt.Errorf("image segment sizes %d/%d out of range", h.CodeSize, h.DataSize)
	}
	img := &Image{
		Entry:    h.Entry,
		CodeBase: h.CodeBase,
		DataBase: h.DataBase,
		Code:     make([]byte, h.CodeSize),
		Data:     make([]byte, h.DataSize),
	}
	if _, err := io.ReadFull(r, img.Code); err != nil {
		return nil, fmt.Errorf("reading code segment: %w", err)
	}
	if _, err := io.ReadFull(r, img.Data); err != nil {
		return nil, fmt.Errorf("reading data segment: %w", err)
	}
	return img, nil
}

// WriteFile writes the image through a temporary file in the same
// directory so a crash never leaves a truncated image behind.
func WriteFile(path string, img *Image) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".oscc-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := img.WriteTo(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadFile loads an image from disk.
func ReadFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}
