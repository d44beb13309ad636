package compute

import (
	"math"

	"github.com/tetraminz/roboset/internal/episode"
)

// Metrics are deterministic values computed directly from an episode.
type Metrics struct {
	StepCount            int     `json:"step_count"`
	SourceLength         int     `json:"source_length"`
	DroppedSteps         int     `json:"dropped_steps"`
	ActionAbsMax         float64 `json:"action_abs_max"`
	StateVelocityAbsMean float64 `json:"state_velocity_abs_mean"`
	GripperCloseFraction float64 `json:"gripper_close_fraction"`
	LongestDroppedRun    int     `json:"longest_dropped_run"`
}

// ComputeMetrics derives deterministic metrics from an episode.
func ComputeMetrics(ep episode.Episode) Metrics {
	metrics := Metrics{
		StepCount:    len(ep.Steps),
		SourceLength: ep.SourceLength,
		DroppedSteps: ep.DroppedSteps(),
	}
	if len(ep.Steps) == 0 {
		return metrics
	}

	var velocitySum float64
	var velocityCount int
	var closing int
	prev := -1
	for _, step := range ep.Steps {
		for _, v := range step.Action {
			metrics.ActionAbsMax = math.Max(metrics.ActionAbsMax, math.Abs(float64(v)))
		}
		for _, v := range step.Observation.StateVelocity {
			velocitySum += math.Abs(float64(v))
			velocityCount++
		}
		// The last action value is the gripper command, +1 closes.
		if n := len(step.Action); n > 0 && step.Action[n-1] > 0 {
			closing++
		}
		if gap := step.SourceIndex - prev - 1; gap > metrics.LongestDroppedRun {
			metrics.LongestDroppedRun = gap
		}
		prev = step.SourceIndex
	}
	if tail := ep.SourceLength - prev - 1; tail > metrics.LongestDroppedRun {
		metrics.LongestDroppedRun = tail
	}

	if velocityCount > 0 {
		metrics.StateVelocityAbsMean = velocitySum / float64(velocityCount)
	}
	metrics.GripperCloseFraction = float64(closing) / float64(len(ep.Steps))
	return metrics
}
