package shard

// FeatureSpec documents one stored feature.
type FeatureSpec struct {
	Key      string `json:"key"`
	Type     string `json:"type"`
	Dtype    string `json:"dtype"`
	Shape    []int  `json:"shape"`
	Encoding string `json:"encoding,omitempty"`
	Doc      string `json:"doc"`
}

const (
	ImageHeight   = 240
	ImageWidth    = 424
	ImageChannels = 3
	StateSize     = 8
	ActionSize    = 8
)

// Features returns the episode schema. Step features have a leading
// per-step dimension in the stored record.
func Features() []FeatureSpec {
	image := func(key, doc string) FeatureSpec {
		return FeatureSpec{
			Key:      key,
			Type:     "image",
			Dtype:    "uint8",
			Shape:    []int{ImageHeight, ImageWidth, ImageChannels},
			Encoding: "jpeg",
			Doc:      doc,
		}
	}
	return []FeatureSpec{
		image(KeyImageLeft, "Left camera RGB observation."),
		image(KeyImageRight, "Right camera RGB observation."),
		image(KeyImageTop, "Top camera RGB observation."),
		image(KeyImageWrist, "Wrist camera RGB observation."),
		{Key: KeyState, Type: "tensor", Dtype: "float32", Shape: []int{StateSize},
			Doc: "Robot state, consists of [7x robot joint angles, 1x gripper position]."},
		{Key: KeyStateVelocity, Type: "tensor", Dtype: "float32", Shape: []int{StateSize},
			Doc: "Robot state, consists of [7x robot joint velocities, 1x gripper velocity]."},
		{Key: KeyAction, Type: "tensor", Dtype: "float32", Shape: []int{ActionSize},
			Doc: "Robot action, consists of [7x joint velocities, 1x gripper velocity -- -1 = open, +1 = close]."},
		{Key: KeyDiscount, Type: "scalar", Dtype: "float32", Shape: []int{},
			Doc: "Discount if provided, default to 1."},
		{Key: KeyReward, Type: "scalar", Dtype: "float32", Shape: []int{},
			Doc: "Reward if provided, 1 on final step for demos."},
		{Key: KeyIsFirst, Type: "scalar", Dtype: "bool", Shape: []int{},
			Doc: "True on first step of the episode."},
		{Key: KeyIsLast, Type: "scalar", Dtype: "bool", Shape: []int{},
			Doc: "True on last step of the episode."},
		{Key: KeyIsTerminal, Type: "scalar", Dtype: "bool", Shape: []int{},
			Doc: "True on last step of the episode if it is a terminal step, True for demos."},
		{Key: KeyLanguageInstruction, Type: "text", Dtype: "string", Shape: []int{},
			Doc: "Language Instruction."},
		{Key: KeyFilePath, Type: "text", Dtype: "string", Shape: []int{},
			Doc: "Path to the original data file."},
		{Key: KeyTrialID, Type: "text", Dtype: "string", Shape: []int{},
			Doc: "ID of trial in file."},
	}
}
