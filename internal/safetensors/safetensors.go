// Package safetensors reads and writes the safetensors container used for
// model weights.
package safetensors

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"github.com/goccy/go-json"
	"golang.org/x/sys/unix"

	"github.com/samcharles93/qcal/internal/tensor"
)

var (
	ErrTensorNotFound   = errors.New("safetensors: tensor not found")
	ErrUnsupportedDType = errors.New("safetensors: unsupported dtype")
	ErrCorrupt          = errors.New("safetensors: corrupt file")
)

// maxHeaderLen bounds the JSON header so a corrupt length cannot trigger a
// huge allocation.
const maxHeaderLen = 100 << 20

type TensorInfo struct {
	DType string
	Shape []int
	Start int64
	End   int64
}

// File is an opened safetensors file. The file is mapped read-only when mmap
// is available; otherwise tensor data is read on demand. Close releases the
// mapping.
type File struct {
	Path      string
	DataStart int64
	Tensors   map[string]TensorInfo

	data []byte
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// Open parses the header of a safetensors file and maps the file read-only.
// If mmap is unavailable it falls back to ReadAt-based loading.
func Open(path string) (*File, error) {
	return open(path, mmapReadOnly)
}

func mmapReadOnly(fd, size int) ([]byte, error) {
	return unix.Mmap(fd, 0, size, unix.PROT_READ, unix.MAP_SHARED)
}

func open(path string, mmap func(fd, size int) ([]byte, error)) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := stat.Size()
	if size > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("%w: file too large to index", ErrCorrupt)
	}

	var lenBuf [8]byte
	if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: header length: %v", ErrCorrupt, err)
	}
	headerLen := binary.LittleEndian.Uint64(lenBuf[:])
	if headerLen > maxHeaderLen {
		return nil, fmt.Errorf("%w: header length %d", ErrCorrupt, headerLen)
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(f, headerBytes); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, fmt.Errorf("%w: header json: %v", ErrCorrupt, err)
	}
	delete(raw, "__metadata__")

	dataStart := int64(8 + headerLen)
	tensors := make(map[string]TensorInfo, len(raw))
	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("%w: tensor %s: %v", ErrCorrupt, name, err)
		}
		if len(th.DataOffsets) != 2 || th.DataOffsets[0] < 0 || th.DataOffsets[1] < th.DataOffsets[0] {
			return nil, fmt.Errorf("%w: tensor %s: invalid data_offsets", ErrCorrupt, name)
		}
		if dataStart+th.DataOffsets[1] > size {
			return nil, fmt.Errorf("%w: tensor %s: data past end of file", ErrCorrupt, name)
		}
		tensors[name] = TensorInfo{
			DType: th.DType,
			Shape: th.Shape,
			Start: th.DataOffsets[0],
			End:   th.DataOffsets[1],
		}
	}

	sf := &File{
		Path:      path,
		DataStart: dataStart,
		Tensors:   tensors,
	}
	if data, err := mmap(int(f.Fd()), int(size)); err == nil {
		sf.data = data
	}
	return sf, nil
}

// Mapped reports whether tensor data is served from a memory mapping.
func (f *File) Mapped() bool { return f.data != nil }

// Close releases the mapping. Later reads use ReadAt.
func (f *File) Close() error {
	if f.data == nil {
		return nil
	}
	data := f.data
	f.data = nil
	return unix.Munmap(data)
}

// Names returns the tensor names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Tensors))
	for name := range f.Tensors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ReadRaw returns the undecoded bytes of a tensor. For a mapped file the
// slice aliases the read-only mapping and is valid until Close.
func (f *File) ReadRaw(name string) ([]byte, TensorInfo, error) {
	info, ok := f.Tensors[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	if f.data != nil {
		return f.data[f.DataStart+info.Start : f.DataStart+info.End], info, nil
	}
	buf := make([]byte, info.End-info.Start)

	file, err := os.Open(f.Path)
	if err != nil {
		return nil, TensorInfo{}, err
	}
	defer func() { _ = file.Close() }()

	if _, err := file.ReadAt(buf, f.DataStart+info.Start); err != nil {
		return nil, TensorInfo{}, fmt.Errorf("read tensor %s: %w", name, err)
	}
	return buf, info, nil
}

// Tensor decodes a F32, F16 or BF16 tensor to float32.
func (f *File) Tensor(name string) (*tensor.Tensor, error) {
	raw, info, err := f.ReadRaw(name)
	if err != nil {
		return nil, err
	}
	n := 1
	for _, d := range info.Shape {
		n *= d
	}
	var width int
	var decode func([]byte) float32
	switch info.DType {
	case "F32":
		width = 4
		decode = func(b []byte) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b)) }
	case "F16":
		width = 2
		decode = func(b []byte) float32 { return fp16ToF32(binary.LittleEndian.Uint16(b)) }
	case "BF16":
		width = 2
		decode = func(b []byte) float32 { return bf16ToF32(binary.LittleEndian.Uint16(b)) }
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrUnsupportedDType, name, info.DType)
	}
	if len(raw) != n*width {
		return nil, fmt.Errorf("%w: tensor %s has %d bytes, shape %v needs %d", ErrCorrupt, name, len(raw), info.Shape, n*width)
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = decode(raw[i*width:])
	}
	return tensor.New(info.Shape, data)
}

// WriteFile stores tensors as F32 in a new safetensors file. Tensors are laid
// out in name order.
func WriteFile(path string, tensors map[string]*tensor.Tensor) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	slices.Sort(names)

	header := make(map[string]tensorHeader, len(tensors))
	var off int64
	for _, name := range names {
		t := tensors[name]
		size := int64(t.Len() * 4)
		shape := t.Shape()
		if shape == nil {
			shape = []int{}
		}
		header[name] = tensorHeader{DType: "F32", Shape: shape, DataOffsets: []int64{off, off + size}}
		off += size
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return err
	}

	buf := make([]byte, 8, 8+len(headerBytes)+int(off))
	binary.LittleEndian.PutUint64(buf, uint64(len(headerBytes)))
	buf = append(buf, headerBytes...)
	for _, name := range names {
		for _, v := range tensors[name].Data() {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
	}
	return os.WriteFile(path, buf, 0o644)
}

func bf16ToF32(u uint16) float32 {
	return math.Float32frombits(uint32(u) << 16)
}

func fp16ToF32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1F
	frac := uint32(h & 0x3FF)
	var f uint32
	switch exp {
	case 0:
		if frac == 0 {
			f = sign << 31
		} else {
			e := uint32(127 - 15 + 1)
			for (frac & 0x400) == 0 {
				frac <<= 1
				e--
			}
			frac &= 0x3FF
			f = (sign << 31) | (e << 23) | (frac << 13)
		}
	case 0x1F:
		f = (sign << 31) | 0x7F800000 | (frac << 13)
	default:
		e := exp + (127 - 15)
		f = (sign << 31) | (e << 23) | (frac << 13)
	}
	return math.Float32frombits(f)
}
