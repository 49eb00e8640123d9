// Package npy persists volumes in the NumPy .npy container (format
// version 1.0) so the crops can be memory-mapped straight into a training
// data loader. Intensity volumes are written as little-endian float64
// ("<f8"), label volumes as little-endian int32 ("<i4"), both C-ordered.
package npy

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"volcrop/pkg/volume"
)

var magic = [6]byte{0x93, 'N', 'U', 'M', 'P', 'Y'}

// header builds the ASCII header dict for a 3D C-ordered array, padded
// with spaces so that the data section starts on a 64-byte boundary as
// the format requires.
func header(descr string, dims volume.Dims) []byte {
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%d, %d, %d), }",
		descr, dims.Z, dims.Y, dims.X)

	// magic(6) + version(2) + header length(2) + dict + '\n', padded to 64.
	total := 10 + len(dict) + 1
	pad := (64 - total%64) % 64
	return append([]byte(dict), append([]byte(strings.Repeat(" ", pad)), '\n')...)
}

func writeArray(path, descr string, dims volume.Dims, write func(io.Writer) error) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create array file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	hdr := header(descr, dims)

	if _, err := w.Write(magic[:]); err != nil {
		return 0, fmt.Errorf("failed to write magic: %w", err)
	}
	// Format version 1.0, then the little-endian header length.
	if _, err := w.Write([]byte{1, 0}); err != nil {
		return 0, fmt.Errorf("failed to write version: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(hdr))); err != nil {
		return 0, fmt.Errorf("failed to write header length: %w", err)
	}
	if _, err := w.Write(hdr); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}
	if err := write(w); err != nil {
		return 0, fmt.Errorf("failed to write array data: %w", err)
	}
	if err := w.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush array file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// WriteVolume saves an intensity volume as a float64 .npy array and
// returns the number of bytes written.
func WriteVolume(path string, v *volume.Volume) (int64, error) {
	return writeArray(path, "<f8", v.Dims, func(w io.Writer) error {
		return binary.Write(w, binary.LittleEndian, v.Data)
	})
}

// WriteLabels saves a label volume as an int32 .npy array and returns the
// number of bytes written.
func WriteLabels(path string, l *volume.LabelVolume) (int64, error) {
	return writeArray(path, "<i4", l.Dims, func(w io.Writer) error {
		return binary.Write(w, binary.LittleEndian, l.Data)
	})
}

// readHeader parses the container preamble and returns the dtype string
// and array shape.
func readHeader(r io.Reader) (descr string, dims volume.Dims, err error) {
	var pre [10]byte
	if _, err = io.ReadFull(r, pre[:]); err != nil {
		return "", dims, fmt.Errorf("failed to read preamble: %w", err)
	}
	if [6]byte(pre[:6]) != magic {
		return "", dims, fmt.Errorf("not a .npy file")
	}
	if pre[6] != 1 {
		return "", dims, fmt.Errorf("unsupported .npy format version %d.%d", pre[6], pre[7])
	}

	hdrLen := binary.LittleEndian.Uint16(pre[8:10])
	hdr := make([]byte, hdrLen)
	if _, err = io.ReadFull(r, hdr); err != nil {
		return "", dims, fmt.Errorf("failed to read header: %w", err)
	}

	dict := string(hdr)
	descr, err = dictValue(dict, "'descr':", "'", "'")
	if err != nil {
		return "", dims, err
	}
	shape, err := dictValue(dict, "'shape':", "(", ")")
	if err != nil {
		return "", dims, err
	}

	var axes []int
	for _, part := range strings.Split(shape, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return "", dims, fmt.Errorf("malformed shape %q: %w", shape, err)
		}
		axes = append(axes, n)
	}
	if len(axes) != 3 {
		return "", dims, fmt.Errorf("expected a 3D array, got shape (%s)", shape)
	}
	return descr, volume.Dims{Z: axes[0], Y: axes[1], X: axes[2]}, nil
}

func dictValue(dict, key, opening, closing string) (string, error) {
	i := strings.Index(dict, key)
	if i < 0 {
		return "", fmt.Errorf("header missing %s", key)
	}
	rest := dict[i+len(key):]
	a := strings.Index(rest, opening)
	if a < 0 {
		return "", fmt.Errorf("malformed header near %s", key)
	}
	b := strings.Index(rest[a+1:], closing)
	if b < 0 {
		return "", fmt.Errorf("malformed header near %s", key)
	}
	return rest[a+1 : a+1+b], nil
}

// ReadVolume loads a float64 .npy array written by WriteVolume.
func ReadVolume(path string) (*volume.Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	descr, dims, err := readHeader(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if descr != "<f8" {
		return nil, fmt.Errorf("%s: expected dtype <f8, got %s", path, descr)
	}

	v := volume.NewVolume(dims)
	if err := binary.Read(r, binary.LittleEndian, v.Data); err != nil {
		return nil, fmt.Errorf("%s: failed to read array data: %w", path, err)
	}
	return v, nil
}

// ReadLabels loads an int32 .npy array written by WriteLabels.
func ReadLabels(path string) (*volume.LabelVolume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	descr, dims, err := readHeader(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if descr != "<i4" {
		return nil, fmt.Errorf("%s: expected dtype <i4, got %s", path, descr)
	}

	l := volume.NewLabelVolume(dims)
	if err := binary.Read(r, binary.LittleEndian, l.Data); err != nil {
		return nil, fmt.Errorf("%s: failed to read array data: %w", path, err)
	}
	return l, nil
}
