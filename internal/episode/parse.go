package episode

import (
	"fmt"
	"log/slog"
	"math"
)

// Instructions resolves a file path to a language instruction.
type Instructions interface {
	Lookup(path string) (string, error)
}

// Parser turns the raw arrays of one trial into an Episode.
type Parser struct {
	instructions Instructions
	logger       *slog.Logger
}

// NewParser returns a parser. A nil logger means slog.Default().
func NewParser(instructions Instructions, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{instructions: instructions, logger: logger}
}

type trialArrays struct {
	images [4]ImageStream

	ctrlArm, ctrlEE, qpArm, qpEE, qvArm, qvEE FloatStream
}

func (a *trialArrays) numeric() [6]*FloatStream {
	return [6]*FloatStream{&a.ctrlArm, &a.ctrlEE, &a.qpArm, &a.qpEE, &a.qvArm, &a.qvEE}
}

// Parse reads, validates and filters one trial. Any failure is returned as a
// *SkipError after the diagnostic has been logged; no partial episode is returned.
func (p *Parser) Parse(src TrialSource, filePath, trialID string) (Episode, error) {
	ep, skip := p.parse(src, filePath, trialID)
	if skip != nil {
		p.logger.Warn(skip.Message(),
			slog.String("file_path", filePath),
			slog.String("trial_id", trialID),
			slog.String("reason", string(skip.Reason)),
			slog.Any("error", skip.Err),
		)
		return Episode{}, skip
	}
	return ep, nil
}

func (p *Parser) parse(src TrialSource, filePath, trialID string) (Episode, *SkipError) {
	skip := func(reason SkipReason, err error) *SkipError {
		return &SkipError{Reason: reason, FilePath: filePath, TrialID: trialID, Err: err}
	}

	instruction, err := p.instructions.Lookup(filePath)
	if err != nil {
		return Episode{}, skip(ReasonLookup, err)
	}

	arrays, err := readArrays(src)
	if err != nil {
		return Episode{}, skip(ReasonRead, err)
	}

	length, err := commonLength(arrays)
	if err != nil {
		return Episode{}, skip(ReasonConsistency, err)
	}

	steps := make([]Step, 0, length)
	for i := 0; i < length; i++ {
		if hasNaN(arrays, i) {
			continue
		}
		steps = append(steps, Step{
			Observation: Observation{
				ImageLeft:     cloneFrame(arrays.images[0].Frame(i)),
				ImageRight:    cloneFrame(arrays.images[1].Frame(i)),
				ImageTop:      cloneFrame(arrays.images[2].Frame(i)),
				ImageWrist:    cloneFrame(arrays.images[3].Frame(i)),
				State:         concat32(arrays.qpArm.Row(i), arrays.qpEE.Row(i)),
				StateVelocity: concat32(arrays.qvArm.Row(i), arrays.qvEE.Row(i)),
			},
			Action:              concat32(arrays.ctrlArm.Row(i), arrays.ctrlEE.Row(i)),
			Discount:            1.0,
			Reward:              0,
			IsFirst:             len(steps) == 0,
			LanguageInstruction: instruction,
			SourceIndex:         i,
		})
	}

	ep, err := Assemble(steps, filePath, trialID, length)
	if err != nil {
		return Episode{}, skip(ReasonEmpty, err)
	}
	return ep, nil
}

func readArrays(src TrialSource) (*trialArrays, error) {
	arrays := &trialArrays{}
	for i, name := range ImageFields {
		stream, err := src.ReadImages(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrRead, name, err)
		}
		if want := stream.Len * stream.frameSize(); stream.Len < 0 || len(stream.Pix) != want {
			return nil, fmt.Errorf("%w: %s: %d bytes for %d frames of %dx%dx%d",
				ErrRead, name, len(stream.Pix), stream.Len, stream.Height, stream.Width, stream.Channels)
		}
		arrays.images[i] = stream
	}
	for i, name := range NumericFields {
		stream, err := src.ReadFloats(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrRead, name, err)
		}
		if want := stream.Len * stream.Width; stream.Len < 0 || len(stream.Data) != want {
			return nil, fmt.Errorf("%w: %s: %d values for %d rows of width %d",
				ErrRead, name, len(stream.Data), stream.Len, stream.Width)
		}
		*arrays.numeric()[i] = stream
	}
	return arrays, nil
}

func commonLength(a *trialArrays) (int, error) {
	length := a.images[0].Len
	for i, img := range a.images {
		if img.Len != length {
			return 0, fmt.Errorf("%w: %s has %d, %s has %d",
				ErrInconsistentLength, ImageFields[i], img.Len, ImageFields[0], length)
		}
	}
	for i, stream := range a.numeric() {
		if stream.Len != length {
			return 0, fmt.Errorf("%w: %s has %d, %s has %d",
				ErrInconsistentLength, NumericFields[i], stream.Len, ImageFields[0], length)
		}
	}
	return length, nil
}

func hasNaN(a *trialArrays, i int) bool {
	for _, stream := range a.numeric() {
		for _, v := range stream.Row(i) {
			if math.IsNaN(v) {
				return true
			}
		}
	}
	return false
}

func concat32(head, tail []float64) []float32 {
	out := make([]float32, 0, len(head)+len(tail))
	for _, v := range head {
		out = append(out, float32(v))
	}
	for _, v := range tail {
		out = append(out, float32(v))
	}
	return out
}

func cloneFrame(f Frame) Frame {
	pix := make([]uint8, len(f.Pix))
	copy(pix, f.Pix)
	f.Pix = pix
	return f
}
