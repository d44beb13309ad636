// Package episodetest provides in-memory trial sources for tests.
package episodetest

import (
	"fmt"

	"github.com/tetraminz/roboset/internal/episode"
)

const (
	ArmDOF = 7
	Height = 4
	Width  = 6
)

// Trial is an in-memory episode.TrialSource.
type Trial struct {
	Images  map[string]episode.ImageStream
	Floats  map[string]episode.FloatStream
	Missing map[string]bool
}

// NewTrial returns a trial of the given length with small frames and
// deterministic, NaN-free values. Arm streams have ArmDOF columns and
// end-effector streams one column, so concatenated vectors have 8 values.
func NewTrial(length int) *Trial {
	t := &Trial{
		Images:  map[string]episode.ImageStream{},
		Floats:  map[string]episode.FloatStream{},
		Missing: map[string]bool{},
	}
	for c, name := range episode.ImageFields {
		pix := make([]uint8, length*Height*Width*3)
		for i := range pix {
			pix[i] = uint8((i + 31*c) % 251)
		}
		t.Images[name] = episode.ImageStream{Len: length, Height: Height, Width: Width, Channels: 3, Pix: pix}
	}
	for n, name := range episode.NumericFields {
		width := 1
		if name == episode.FieldCtrlArm || name == episode.FieldQPArm || name == episode.FieldQVArm {
			width = ArmDOF
		}
		data := make([]float64, length*width)
		for i := range data {
			data[i] = float64(n) + float64(i)/8
		}
		t.Floats[name] = episode.FloatStream{Len: length, Width: width, Data: data}
	}
	return t
}

// Set overwrites one value of a numeric stream.
func (t *Trial) Set(name string, row, col int, v float64) {
	s := t.Floats[name]
	s.Data[row*s.Width+col] = v
}

// Truncate shortens a stream to n rows.
func (t *Trial) Truncate(name string, n int) {
	if s, ok := t.Images[name]; ok {
		size := s.Height * s.Width * s.Channels
		s.Len = n
		s.Pix = s.Pix[:n*size]
		t.Images[name] = s
		return
	}
	s := t.Floats[name]
	s.Len = n
	s.Data = s.Data[:n*s.Width]
	t.Floats[name] = s
}

func (t *Trial) ReadImages(name string) (episode.ImageStream, error) {
	s, ok := t.Images[name]
	if !ok || t.Missing[name] {
		return episode.ImageStream{}, fmt.Errorf("array %q not found", name)
	}
	return s, nil
}

func (t *Trial) ReadFloats(name string) (episode.FloatStream, error) {
	s, ok := t.Floats[name]
	if !ok || t.Missing[name] {
		return episode.FloatStream{}, fmt.Errorf("array %q not found", name)
	}
	return s, nil
}
