// Package h5 reads RoboSet trial recordings from HDF5 files.
//
// A file holds one group per trial (Trial0, Trial1, ...), each with a nested
// "data" group of named arrays whose first dimension is time.
package h5

import (
	"errors"
	"fmt"
	"sync"

	"gonum.org/v1/hdf5"

	"github.com/tetraminz/roboset/internal/episode"
)

// libhdf5 is usually built without its thread-safety option.
var libMu sync.Mutex

// DataGroup is the group inside each trial that holds the arrays.
const DataGroup = "data"

// File is an open recording.
type File struct {
	path string
	f    *hdf5.File
}

// Open opens path read-only.
func Open(path string) (*File, error) {
	libMu.Lock()
	defer libMu.Unlock()

	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	return &File{path: path, f: f}, nil
}

// TrialKeys lists the top-level groups in name order, so Trial10 sorts
// before Trial2.
func (f *File) TrialKeys() ([]string, error) {
	libMu.Lock()
	defer libMu.Unlock()

	n, err := f.f.NumObjects()
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", f.path, err)
	}
	keys := make([]string, 0, n)
	for i := uint(0); i < n; i++ {
		typ, err := f.f.ObjectTypeByIndex(i)
		if err != nil {
			return nil, fmt.Errorf("list %q object %d: %w", f.path, i, err)
		}
		if typ != hdf5.H5G_GROUP {
			continue
		}
		name, err := f.f.ObjectNameByIndex(i)
		if err != nil {
			return nil, fmt.Errorf("list %q object %d: %w", f.path, i, err)
		}
		keys = append(keys, name)
	}
	return keys, nil
}

// Trial opens the data group of one trial.
func (f *File) Trial(key string) (*Trial, error) {
	libMu.Lock()
	defer libMu.Unlock()

	g, err := f.f.OpenGroup(key + "/" + DataGroup)
	if err != nil {
		return nil, fmt.Errorf("open %s/%s in %q: %w", key, DataGroup, f.path, err)
	}
	return &Trial{key: key, g: g}, nil
}

func (f *File) Close() error {
	libMu.Lock()
	defer libMu.Unlock()
	return f.f.Close()
}

// Trial is the data group of one trial and implements episode.TrialSource.
type Trial struct {
	key string
	g   *hdf5.Group
}

var _ episode.TrialSource = (*Trial)(nil)

func (t *Trial) Close() error {
	libMu.Lock()
	defer libMu.Unlock()
	return t.g.Close()
}

// ReadImages reads an array shaped (T, H, W, C) of 8-bit values. Wider
// element types are rejected.
func (t *Trial) ReadImages(name string) (episode.ImageStream, error) {
	libMu.Lock()
	defer libMu.Unlock()

	ds, dims, err := t.open(name)
	if err != nil {
		return episode.ImageStream{}, err
	}
	defer ds.Close()

	if len(dims) != 4 {
		return episode.ImageStream{}, fmt.Errorf("%s: want 4 dimensions, got %v", name, dims)
	}
	stream := episode.ImageStream{
		Len:      int(dims[0]),
		Height:   int(dims[1]),
		Width:    int(dims[2]),
		Channels: int(dims[3]),
	}
	dtype, err := ds.Datatype()
	if err != nil {
		return episode.ImageStream{}, fmt.Errorf("datatype of %s: %w", name, err)
	}
	defer dtype.Close()
	if dtype.Class() != hdf5.T_INTEGER || dtype.Size() != 1 {
		return episode.ImageStream{}, fmt.Errorf("%s: want 8-bit integer pixels, got class %d size %d", name, dtype.Class(), dtype.Size())
	}

	stream.Pix = make([]uint8, points(dims))
	if len(stream.Pix) > 0 {
		if err := ds.Read(&stream.Pix); err != nil {
			return episode.ImageStream{}, fmt.Errorf("read %s: %w", name, err)
		}
	}
	return stream, nil
}

// ReadFloats reads an array shaped (T, ...) converting values to float64.
// Trailing dimensions are flattened into the row width.
func (t *Trial) ReadFloats(name string) (episode.FloatStream, error) {
	libMu.Lock()
	defer libMu.Unlock()

	ds, dims, err := t.open(name)
	if err != nil {
		return episode.FloatStream{}, err
	}
	defer ds.Close()

	if len(dims) == 0 {
		return episode.FloatStream{}, fmt.Errorf("%s: scalar dataset has no time dimension", name)
	}
	width := 1
	for _, d := range dims[1:] {
		width *= int(d)
	}
	data, err := readFloat64s(ds, points(dims))
	if err != nil {
		return episode.FloatStream{}, fmt.Errorf("read %s: %w", name, err)
	}
	return episode.FloatStream{Len: int(dims[0]), Width: width, Data: data}, nil
}

// readFloat64s reads n values of ds and widens them to float64. H5Dread is
// given the file datatype, so the buffer must have exactly that layout.
func readFloat64s(ds *hdf5.Dataset, n int) ([]float64, error) {
	dtype, err := ds.Datatype()
	if err != nil {
		return nil, fmt.Errorf("datatype: %w", err)
	}
	defer dtype.Close()

	switch {
	case dtype.Equal(hdf5.T_NATIVE_DOUBLE):
		out := make([]float64, n)
		if n > 0 {
			if err := ds.Read(&out); err != nil {
				return nil, err
			}
		}
		return out, nil
	case dtype.Equal(hdf5.T_NATIVE_FLOAT):
		return readAs[float32](ds, n)
	case dtype.Equal(hdf5.T_NATIVE_INT8):
		return readAs[int8](ds, n)
	case dtype.Equal(hdf5.T_NATIVE_UINT8):
		return readAs[uint8](ds, n)
	case dtype.Equal(hdf5.T_NATIVE_INT16):
		return readAs[int16](ds, n)
	case dtype.Equal(hdf5.T_NATIVE_UINT16):
		return readAs[uint16](ds, n)
	case dtype.Equal(hdf5.T_NATIVE_INT32):
		return readAs[int32](ds, n)
	case dtype.Equal(hdf5.T_NATIVE_UINT32):
		return readAs[uint32](ds, n)
	case dtype.Equal(hdf5.T_NATIVE_INT64):
		return readAs[int64](ds, n)
	case dtype.Equal(hdf5.T_NATIVE_UINT64):
		return readAs[uint64](ds, n)
	}
	return nil, fmt.Errorf("unsupported element type: class %d size %d", dtype.Class(), dtype.Size())
}

type number interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64 | ~float32
}

func readAs[T number](ds *hdf5.Dataset, n int) ([]float64, error) {
	buf := make([]T, n)
	if n > 0 {
		if err := ds.Read(&buf); err != nil {
			return nil, err
		}
	}
	out := make([]float64, n)
	for i, v := range buf {
		out[i] = float64(v)
	}
	return out, nil
}

// Array names one dataset of a trial and its shape.
type Array struct {
	Name string
	Dims []uint
}

// Arrays lists the datasets of the trial without reading their values.
func (t *Trial) Arrays() ([]Array, error) {
	libMu.Lock()
	defer libMu.Unlock()

	n, err := t.g.NumObjects()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", t.key, err)
	}
	var out []Array
	for i := uint(0); i < n; i++ {
		typ, err := t.g.ObjectTypeByIndex(i)
		if err != nil {
			return nil, fmt.Errorf("list %s object %d: %w", t.key, i, err)
		}
		if typ != hdf5.H5G_DATASET {
			continue
		}
		name, err := t.g.ObjectNameByIndex(i)
		if err != nil {
			return nil, fmt.Errorf("list %s object %d: %w", t.key, i, err)
		}
		ds, dims, err := t.open(name)
		if err != nil {
			return nil, err
		}
		ds.Close()
		out = append(out, Array{Name: name, Dims: dims})
	}
	return out, nil
}

func (t *Trial) open(name string) (*hdf5.Dataset, []uint, error) {
	ds, err := t.g.OpenDataset(name)
	if err != nil {
		return nil, nil, fmt.Errorf("open dataset %s: %w", name, err)
	}
	space := ds.Space()
	if space == nil {
		ds.Close()
		return nil, nil, errors.New("dataset " + name + " has no dataspace")
	}
	defer space.Close()

	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		ds.Close()
		return nil, nil, fmt.Errorf("dims of %s: %w", name, err)
	}
	return ds, dims, nil
}

func points(dims []uint) int {
	n := 1
	for _, d := range dims {
		n *= int(d)
	}
	return n
}
