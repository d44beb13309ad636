package episode

// Frame is one 8-bit camera image, Height x Width x Channels, row-major.
type Frame struct {
	Height   int
	Width    int
	Channels int
	Pix      []uint8
}

// Observation is what the robot sees and senses at one step.
type Observation struct {
	ImageLeft  Frame
	ImageRight Frame
	ImageTop   Frame
	ImageWrist Frame

	// State is arm joint positions followed by end-effector position.
	State []float32
	// StateVelocity is arm joint velocities followed by end-effector velocity.
	StateVelocity []float32
}

// Step is one time index of a trial that survived NaN filtering.
type Step struct {
	Observation Observation
	// Action is arm control followed by end-effector control.
	Action              []float32
	Discount            float32
	Reward              float32
	IsFirst             bool
	IsLast              bool
	IsTerminal          bool
	LanguageInstruction string

	// SourceIndex is the time index in the source arrays.
	SourceIndex int
}

// Metadata identifies where an episode came from.
type Metadata struct {
	FilePath string
	TrialID  string
}

// Episode is the ordered steps of one trial.
type Episode struct {
	Key      string
	Steps    []Step
	Metadata Metadata

	// SourceLength is the leading dimension of the trial arrays.
	SourceLength int
}

// DroppedSteps is the number of source indices filtered out.
func (e Episode) DroppedSteps() int {
	return e.SourceLength - len(e.Steps)
}

// Key returns the identity key of a trial's episode.
func Key(filePath, trialID string) string {
	return filePath + "_" + trialID
}

// Assemble marks the last step terminal with reward 1 and wraps the steps
// with their metadata. Steps are taken over, not copied.
func Assemble(steps []Step, filePath, trialID string, sourceLength int) (Episode, error) {
	if len(steps) == 0 {
		return Episode{}, ErrEmptyTrial
	}

	for i := range steps {
		steps[i].IsFirst = i == 0
		steps[i].IsLast = false
		steps[i].IsTerminal = false
		steps[i].Reward = 0
	}
	last := &steps[len(steps)-1]
	last.Reward = 1.0
	last.IsLast = true
	last.IsTerminal = true

	return Episode{
		Key:   Key(filePath, trialID),
		Steps: steps,
		Metadata: Metadata{
			FilePath: filePath,
			TrialID:  trialID,
		},
		SourceLength: sourceLength,
	}, nil
}
