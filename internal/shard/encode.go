// Package shard writes RoboSet episodes as a sharded TFRecord dataset.
package shard

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/anthonynsimon/bild/imgio"

	"github.com/tetraminz/roboset/internal/episode"
	"github.com/tetraminz/roboset/internal/tfrecord"
)

// Feature keys, flattened the way nested episode features are stored.
const (
	KeyImageLeft           = "steps/observation/image_left"
	KeyImageRight          = "steps/observation/image_right"
	KeyImageTop            = "steps/observation/image_top"
	KeyImageWrist          = "steps/observation/image_wrist"
	KeyState               = "steps/observation/state"
	KeyStateVelocity       = "steps/observation/state_velocity"
	KeyAction              = "steps/action"
	KeyDiscount            = "steps/discount"
	KeyReward              = "steps/reward"
	KeyIsFirst             = "steps/is_first"
	KeyIsLast              = "steps/is_last"
	KeyIsTerminal          = "steps/is_terminal"
	KeyLanguageInstruction = "steps/language_instruction"
	KeyFilePath            = "episode_metadata/file_path"
	KeyTrialID             = "episode_metadata/trial_id"
)

const DefaultJPEGQuality = 95

// Encoder converts episodes to serialized tf.train.Example records.
// It holds no mutable state and may be shared between goroutines.
type Encoder struct {
	encodeJPEG imgio.Encoder
}

func NewEncoder(jpegQuality int) (*Encoder, error) {
	if jpegQuality < 1 || jpegQuality > 100 {
		return nil, fmt.Errorf("jpeg quality must be in 1..100, got %d", jpegQuality)
	}
	return &Encoder{encodeJPEG: imgio.JPEGEncoder(jpegQuality)}, nil
}

// Encode serializes one episode. Equal episodes encode to equal bytes.
func (e *Encoder) Encode(ep episode.Episode) ([]byte, error) {
	n := len(ep.Steps)
	images := [4][][]byte{}
	var (
		state      []float32
		velocity   []float32
		action     []float32
		discount   = make([]float32, 0, n)
		reward     = make([]float32, 0, n)
		isFirst    = make([]int64, 0, n)
		isLast     = make([]int64, 0, n)
		isTerminal = make([]int64, 0, n)
		language   = make([]string, 0, n)
	)

	for i, step := range ep.Steps {
		obs := step.Observation
		for c, frame := range [4]episode.Frame{obs.ImageLeft, obs.ImageRight, obs.ImageTop, obs.ImageWrist} {
			encoded, err := e.jpeg(frame)
			if err != nil {
				return nil, fmt.Errorf("episode %s step %d %s: %w", ep.Key, i, episode.ImageFields[c], err)
			}
			images[c] = append(images[c], encoded)
		}
		state = append(state, obs.State...)
		velocity = append(velocity, obs.StateVelocity...)
		action = append(action, step.Action...)
		discount = append(discount, step.Discount)
		reward = append(reward, step.Reward)
		isFirst = append(isFirst, boolToInt64(step.IsFirst))
		isLast = append(isLast, boolToInt64(step.IsLast))
		isTerminal = append(isTerminal, boolToInt64(step.IsTerminal))
		language = append(language, step.LanguageInstruction)
	}

	ex := tfrecord.Example{
		KeyImageLeft:           tfrecord.BytesFeature(images[0]...),
		KeyImageRight:          tfrecord.BytesFeature(images[1]...),
		KeyImageTop:            tfrecord.BytesFeature(images[2]...),
		KeyImageWrist:          tfrecord.BytesFeature(images[3]...),
		KeyState:               tfrecord.FloatFeature(state...),
		KeyStateVelocity:       tfrecord.FloatFeature(velocity...),
		KeyAction:              tfrecord.FloatFeature(action...),
		KeyDiscount:            tfrecord.FloatFeature(discount...),
		KeyReward:              tfrecord.FloatFeature(reward...),
		KeyIsFirst:             tfrecord.Int64Feature(isFirst...),
		KeyIsLast:              tfrecord.Int64Feature(isLast...),
		KeyIsTerminal:          tfrecord.Int64Feature(isTerminal...),
		KeyLanguageInstruction: tfrecord.StringFeature(language...),
		KeyFilePath:            tfrecord.StringFeature(ep.Metadata.FilePath),
		KeyTrialID:             tfrecord.StringFeature(ep.Metadata.TrialID),
	}
	return ex.Marshal()
}

func (e *Encoder) jpeg(f episode.Frame) ([]byte, error) {
	img, err := frameImage(f)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := e.encodeJPEG(&buf, img); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func frameImage(f episode.Frame) (image.Image, error) {
	rect := image.Rect(0, 0, f.Width, f.Height)
	switch f.Channels {
	case 1:
		img := image.NewGray(rect)
		copy(img.Pix, f.Pix)
		return img, nil
	case 3:
		img := image.NewRGBA(rect)
		for src, dst := 0, 0; src+2 < len(f.Pix); src, dst = src+3, dst+4 {
			img.Pix[dst] = f.Pix[src]
			img.Pix[dst+1] = f.Pix[src+1]
			img.Pix[dst+2] = f.Pix[src+2]
			img.Pix[dst+3] = 0xff
		}
		return img, nil
	default:
		return nil, fmt.Errorf("unsupported channel count %d", f.Channels)
	}
}

// DecodeFrame decodes one stored JPEG image.
func DecodeFrame(b []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decode jpeg: %w", err)
	}
	return img, nil
}

func boolToInt64(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

// Summary is the episode-level view of one stored record.
type Summary struct {
	FilePath    string
	TrialID     string
	Instruction string
	Steps       int
	Rewards     []float32
	IsLast      []int64
}

// Summarize decodes the metadata and per-step scalars of a record.
func Summarize(record []byte) (Summary, error) {
	ex, err := tfrecord.UnmarshalExample(record)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{
		FilePath: firstString(ex[KeyFilePath]),
		TrialID:  firstString(ex[KeyTrialID]),
		Steps:    ex[KeyReward].Len(),
		Rewards:  ex[KeyReward].Floats,
		IsLast:   ex[KeyIsLast].Int64s,
	}
	s.Instruction = firstString(ex[KeyLanguageInstruction])
	if got := ex[KeyImageLeft].Len(); got != s.Steps {
		return Summary{}, fmt.Errorf("record %s: %d images for %d steps", s.FilePath, got, s.Steps)
	}
	return s, nil
}

func firstString(f tfrecord.Feature) string {
	if len(f.Bytes) == 0 {
		return ""
	}
	return string(f.Bytes[0])
}
