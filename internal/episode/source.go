package episode

// Array names inside a trial's data group.
const (
	FieldRGBLeft  = "rgb_left"
	FieldRGBRight = "rgb_right"
	FieldRGBTop   = "rgb_top"
	FieldRGBWrist = "rgb_wrist"
	FieldCtrlArm  = "ctrl_arm"
	FieldCtrlEE   = "ctrl_ee"
	FieldQPArm    = "qp_arm"
	FieldQPEE     = "qp_ee"
	FieldQVArm    = "qv_arm"
	FieldQVEE     = "qv_ee"
)

// ImageFields are the camera streams in observation order.
var ImageFields = []string{FieldRGBLeft, FieldRGBRight, FieldRGBTop, FieldRGBWrist}

// NumericFields are the streams checked for NaN values.
var NumericFields = []string{FieldCtrlArm, FieldCtrlEE, FieldQPArm, FieldQPEE, FieldQVArm, FieldQVEE}

// TrialSource reads the named arrays of one trial.
type TrialSource interface {
	ReadImages(name string) (ImageStream, error)
	ReadFloats(name string) (FloatStream, error)
}

// ImageStream holds Len frames of Height x Width x Channels bytes, row-major.
type ImageStream struct {
	Len      int
	Height   int
	Width    int
	Channels int
	Pix      []uint8
}

func (s ImageStream) frameSize() int {
	return s.Height * s.Width * s.Channels
}

// Frame returns frame i without copying.
func (s ImageStream) Frame(i int) Frame {
	size := s.frameSize()
	return Frame{
		Height:   s.Height,
		Width:    s.Width,
		Channels: s.Channels,
		Pix:      s.Pix[i*size : (i+1)*size : (i+1)*size],
	}
}

// FloatStream holds Len rows of Width values. Width is the product of the
// trailing dimensions, so a per-step scalar stream has Width 1.
type FloatStream struct {
	Len   int
	Width int
	Data  []float64
}

// Row returns row i without copying.
func (s FloatStream) Row(i int) []float64 {
	return s.Data[i*s.Width : (i+1)*s.Width : (i+1)*s.Width]
}
