// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and
// .nii.gz), the standard container for CT scans and their voxel-level
// segmentation labels. Only the subset of the format the pipeline needs is
// implemented: dense 3D arrays of the common scalar datatypes plus the
// spacing, origin and orientation metadata carried through to the output.
package nifti

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"volcrop/pkg/volume"
)

// NIfTI-1 datatype codes for the voxel types the reader accepts.
const (
	typeUint8   = 2
	typeInt16   = 4
	typeInt32   = 8
	typeFloat32 = 16
	typeFloat64 = 64
)

// header is the fixed 348-byte NIfTI-1 header, read and written as-is in
// little-endian order.
type header struct {
	SizeofHdr      int32
	DataType       [10]byte
	DBName         [18]byte
	Extents        int32
	SessionError   int16
	Regular        byte
	DimInfo        byte
	Dim            [8]int16
	IntentP1       float32
	IntentP2       float32
	IntentP3       float32
	IntentCode     int16
	Datatype       int16
	Bitpix         int16
	SliceStart     int16
	Pixdim         [8]float32
	VoxOffset      float32
	SclSlope       float32
	SclInter       float32
	SliceEnd       int16
	SliceCode      byte
	XyztUnits      byte
	CalMax         float32
	CalMin         float32
	SliceDuration  float32
	Toffset        float32
	Glmax          int32
	Glmin          int32
	Descrip        [80]byte
	AuxFile        [24]byte
	QformCode      int16
	SformCode      int16
	QuaternB       float32
	QuaternC       float32
	QuaternD       float32
	QoffsetX       float32
	QoffsetY       float32
	QoffsetZ       float32
	SrowX          [4]float32
	SrowY          [4]float32
	SrowZ          [4]float32
	IntentName     [16]byte
	Magic          [4]byte
}

// openReader opens the file and layers a gzip reader when the path carries
// a .gz suffix. The caller closes via the returned func.
func openReader(path string) (io.Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return bufio.NewReader(f), f.Close, nil
	}
	zr, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	closer := func() error {
		zr.Close()
		return f.Close()
	}
	return zr, closer, nil
}

// readRaw reads the header and the raw voxel data as float64, applying the
// scl_slope/scl_inter intensity scaling the header declares.
func readRaw(path string) (*header, []float64, volume.Dims, error) {
	r, closeFn, err := openReader(path)
	if err != nil {
		return nil, nil, volume.Dims{}, err
	}
	defer closeFn()

	var hdr header
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, nil, volume.Dims{}, fmt.Errorf("failed to read NIfTI header: %w", err)
	}
	if hdr.SizeofHdr != 348 {
		return nil, nil, volume.Dims{}, fmt.Errorf("not a NIfTI-1 file (header size %d)", hdr.SizeofHdr)
	}
	if hdr.Dim[0] != 3 {
		return nil, nil, volume.Dims{}, fmt.Errorf("expected a 3D volume, got %d dimensions", hdr.Dim[0])
	}

	// Voxel data starts at vox_offset; skip any header extension bytes.
	if skip := int64(hdr.VoxOffset) - 348; skip > 0 {
		if _, err := io.CopyN(io.Discard, r, skip); err != nil {
			return nil, nil, volume.Dims{}, fmt.Errorf("failed to skip header extensions: %w", err)
		}
	}

	dims := volume.Dims{Z: int(hdr.Dim[3]), Y: int(hdr.Dim[2]), X: int(hdr.Dim[1])}
	n := dims.Len()
	if n <= 0 {
		return nil, nil, volume.Dims{}, fmt.Errorf("degenerate volume dimensions %v", dims)
	}

	data := make([]float64, n)
	switch hdr.Datatype {
	case typeUint8:
		buf := make([]uint8, n)
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return nil, nil, volume.Dims{}, fmt.Errorf("failed to read voxel data: %w", err)
		}
		for i, v := range buf {
			data[i] = float64(v)
		}
	case typeInt16:
		buf := make([]int16, n)
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return nil, nil, volume.Dims{}, fmt.Errorf("failed to read voxel data: %w", err)
		}
		for i, v := range buf {
			data[i] = float64(v)
		}
	case typeInt32:
		buf := make([]int32, n)
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return nil, nil, volume.Dims{}, fmt.Errorf("failed to read voxel data: %w", err)
		}
		for i, v := range buf {
			data[i] = float64(v)
		}
	case typeFloat32:
		buf := make([]float32, n)
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return nil, nil, volume.Dims{}, fmt.Errorf("failed to read voxel data: %w", err)
		}
		for i, v := range buf {
			data[i] = float64(v)
		}
	case typeFloat64:
		if err := binary.Read(r, binary.LittleEndian, data); err != nil {
			return nil, nil, volume.Dims{}, fmt.Errorf("failed to read voxel data: %w", err)
		}
	default:
		return nil, nil, volume.Dims{}, fmt.Errorf("unsupported NIfTI datatype %d", hdr.Datatype)
	}

	if hdr.SclSlope != 0 && (hdr.SclSlope != 1 || hdr.SclInter != 0) {
		slope, inter := float64(hdr.SclSlope), float64(hdr.SclInter)
		for i := range data {
			data[i] = data[i]*slope + inter
		}
	}
	return &hdr, data, dims, nil
}

// direction extracts the voxel-to-world direction cosines, preferring the
// sform affine when present and falling back to identity otherwise.
func (h *header) direction() [9]float64 {
	dir := [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
	if h.SformCode <= 0 {
		return dir
	}
	rows := [3][4]float32{h.SrowX, h.SrowY, h.SrowZ}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			scale := float64(h.Pixdim[c+1])
			if scale != 0 {
				dir[r*3+c] = float64(rows[r][c]) / scale
			}
		}
	}
	return dir
}

// ReadVolume loads a CT intensity volume with its physical metadata.
func ReadVolume(path string) (*volume.Volume, error) {
	hdr, data, dims, err := readRaw(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &volume.Volume{
		Data: data,
		Dims: dims,
		Spacing: [3]float64{
			float64(hdr.Pixdim[1]),
			float64(hdr.Pixdim[2]),
			float64(hdr.Pixdim[3]),
		},
		Origin:    [3]float64{float64(hdr.QoffsetX), float64(hdr.QoffsetY), float64(hdr.QoffsetZ)},
		Direction: hdr.direction(),
	}, nil
}

// ReadLabelVolume loads a segmentation volume, truncating each voxel to
// its integer class code.
func ReadLabelVolume(path string) (*volume.LabelVolume, error) {
	_, data, dims, err := readRaw(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	l := volume.NewLabelVolume(dims)
	for i, v := range data {
		l.Data[i] = int32(math.Round(v))
	}
	return l, nil
}

// newHeader fills a NIfTI-1 header for a 3D int16 volume with the given
// geometry.
func newHeader(dims volume.Dims, spacing [3]float64, origin [3]float64, dir [9]float64) header {
	hdr := header{
		SizeofHdr: 348,
		Regular:   'r',
		Datatype:  typeInt16,
		Bitpix:    16,
		VoxOffset: 352,
		SclSlope:  1,
		XyztUnits: 2, // millimeters
		SformCode: 1,
		QformCode: 0,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	hdr.Dim = [8]int16{3, int16(dims.X), int16(dims.Y), int16(dims.Z), 1, 1, 1, 1}
	hdr.Pixdim = [8]float32{1, float32(spacing[0]), float32(spacing[1]), float32(spacing[2]), 0, 0, 0, 0}
	hdr.QoffsetX = float32(origin[0])
	hdr.QoffsetY = float32(origin[1])
	hdr.QoffsetZ = float32(origin[2])

	rows := [3]*[4]float32{&hdr.SrowX, &hdr.SrowY, &hdr.SrowZ}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			rows[r][c] = float32(dir[r*3+c] * spacing[c])
		}
		rows[r][3] = float32(origin[r])
	}
	return hdr
}

// writeFile writes the header and int16 voxel data, gzip-compressed when
// the path ends in .gz.
func writeFile(path string, hdr header, data []int16) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	var w io.Writer
	bw := bufio.NewWriter(f)
	var zw *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		zw = gzip.NewWriter(bw)
		w = zw
	} else {
		w = bw
	}

	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("failed to write NIfTI header: %w", err)
	}
	// Four pad bytes bring the data offset to vox_offset (352).
	if _, err := w.Write(make([]byte, 4)); err != nil {
		return fmt.Errorf("failed to write header padding: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, data); err != nil {
		return fmt.Errorf("failed to write voxel data: %w", err)
	}

	if zw != nil {
		if err := zw.Close(); err != nil {
			return fmt.Errorf("failed to finish gzip stream: %w", err)
		}
	}
	return bw.Flush()
}

// WriteVolume saves an intensity volume as int16, rounding each voxel.
// The pipeline clips intensities to a range well inside int16 before any
// volume reaches this writer.
func WriteVolume(path string, v *volume.Volume) error {
	buf := make([]int16, len(v.Data))
	for i, val := range v.Data {
		buf[i] = int16(math.Round(val))
	}
	return writeFile(path, newHeader(v.Dims, v.Spacing, v.Origin, v.Direction), buf)
}

// WriteLabelVolume saves a segmentation volume as int16 class codes with
// the geometry of the given reference volume.
func WriteLabelVolume(path string, l *volume.LabelVolume, ref *volume.Volume) error {
	buf := make([]int16, len(l.Data))
	for i, val := range l.Data {
		buf[i] = int16(val)
	}
	return writeFile(path, newHeader(l.Dims, ref.Spacing, ref.Origin, ref.Direction), buf)
}
