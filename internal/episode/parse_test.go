package episode_test

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/tetraminz/roboset/internal/episode"
	"github.com/tetraminz/roboset/internal/episode/episodetest"
	"github.com/tetraminz/roboset/internal/instruct"
)

const butterPath = "/mnt/roboset/pick_butter/trial_0.h5"

func newParser(buf *bytes.Buffer) *episode.Parser {
	if buf == nil {
		return episode.NewParser(instruct.Default(), slog.New(slog.DiscardHandler))
	}
	return episode.NewParser(instruct.Default(), slog.New(slog.NewTextHandler(buf, nil)))
}

func sourceIndices(ep episode.Episode) []int {
	out := make([]int, 0, len(ep.Steps))
	for _, step := range ep.Steps {
		out = append(out, step.SourceIndex)
	}
	return out
}

func skipReason(t *testing.T, err error) episode.SkipReason {
	t.Helper()
	var skip *episode.SkipError
	if !errors.As(err, &skip) {
		t.Fatalf("error %v is not a *SkipError", err)
	}
	return skip.Reason
}

func TestParseMarksOnlyLastStepTerminal(t *testing.T) {
	t.Parallel()

	ep, err := newParser(nil).Parse(episodetest.NewTrial(5), butterPath, "Trial0")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if got, want := len(ep.Steps), 5; got != want {
		t.Fatalf("step count got %d want %d", got, want)
	}
	for i, step := range ep.Steps {
		last := i == len(ep.Steps)-1
		if step.IsFirst != (i == 0) {
			t.Fatalf("step %d is_first got %v", i, step.IsFirst)
		}
		if step.IsLast != last || step.IsTerminal != last {
			t.Fatalf("step %d is_last=%v is_terminal=%v", i, step.IsLast, step.IsTerminal)
		}
		wantReward := float32(0)
		if last {
			wantReward = 1
		}
		if step.Reward != wantReward {
			t.Fatalf("step %d reward got %v want %v", i, step.Reward, wantReward)
		}
		if step.Discount != 1 {
			t.Fatalf("step %d discount got %v want 1", i, step.Discount)
		}
		if step.LanguageInstruction != "Pick up the butter." {
			t.Fatalf("step %d instruction got %q", i, step.LanguageInstruction)
		}
	}
	if got, want := ep.Key, butterPath+"_Trial0"; got != want {
		t.Fatalf("key got %q want %q", got, want)
	}
	if ep.Metadata.FilePath != butterPath || ep.Metadata.TrialID != "Trial0" {
		t.Fatalf("metadata mismatch: %+v", ep.Metadata)
	}
	if ep.DroppedSteps() != 0 {
		t.Fatalf("dropped got %d want 0", ep.DroppedSteps())
	}
}

func TestParseConcatenatesArmBeforeEndEffector(t *testing.T) {
	t.Parallel()

	trial := episodetest.NewTrial(2)
	for c := 0; c < episodetest.ArmDOF; c++ {
		trial.Set(episode.FieldQPArm, 1, c, float64(c))
		trial.Set(episode.FieldQVArm, 1, c, float64(-c))
		trial.Set(episode.FieldCtrlArm, 1, c, float64(10+c))
	}
	trial.Set(episode.FieldQPEE, 1, 0, 0.5)
	trial.Set(episode.FieldQVEE, 1, 0, -0.5)
	trial.Set(episode.FieldCtrlEE, 1, 0, 1)

	ep, err := newParser(nil).Parse(trial, butterPath, "Trial0")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	step := ep.Steps[1]

	wantState := []float32{0, 1, 2, 3, 4, 5, 6, 0.5}
	wantVel := []float32{0, -1, -2, -3, -4, -5, -6, -0.5}
	wantAction := []float32{10, 11, 12, 13, 14, 15, 16, 1}
	if !reflect.DeepEqual(step.Observation.State, wantState) {
		t.Fatalf("state got %v want %v", step.Observation.State, wantState)
	}
	if !reflect.DeepEqual(step.Observation.StateVelocity, wantVel) {
		t.Fatalf("state_velocity got %v want %v", step.Observation.StateVelocity, wantVel)
	}
	if !reflect.DeepEqual(step.Action, wantAction) {
		t.Fatalf("action got %v want %v", step.Action, wantAction)
	}

	src := trial.Images[episode.FieldRGBWrist].Frame(1)
	if !bytes.Equal(step.Observation.ImageWrist.Pix, src.Pix) {
		t.Fatalf("wrist frame differs from source frame 1")
	}
	if step.Observation.ImageWrist.Height != episodetest.Height || step.Observation.ImageWrist.Width != episodetest.Width {
		t.Fatalf("wrist frame shape %dx%d", step.Observation.ImageWrist.Height, step.Observation.ImageWrist.Width)
	}
}

func TestParseDropsStepsWithNaN(t *testing.T) {
	t.Parallel()

	trial := episodetest.NewTrial(5)
	trial.Set(episode.FieldQPArm, 2, 3, math.NaN())

	ep, err := newParser(nil).Parse(trial, butterPath, "Trial0")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if got, want := sourceIndices(ep), []int{0, 1, 3, 4}; !reflect.DeepEqual(got, want) {
		t.Fatalf("source indices got %v want %v", got, want)
	}
	if got, want := ep.DroppedSteps(), 1; got != want {
		t.Fatalf("dropped got %d want %d", got, want)
	}
	if !ep.Steps[3].IsLast || ep.Steps[3].Reward != 1 {
		t.Fatalf("last surviving step not terminal: %+v", ep.Steps[3])
	}
}

func TestParseNaNInEveryNumericStream(t *testing.T) {
	t.Parallel()

	for row, name := range episode.NumericFields {
		trial := episodetest.NewTrial(len(episode.NumericFields))
		trial.Set(name, row, 0, math.NaN())

		ep, err := newParser(nil).Parse(trial, butterPath, "Trial0")
		if err != nil {
			t.Fatalf("%s: Parse error: %v", name, err)
		}
		for _, idx := range sourceIndices(ep) {
			if idx == row {
				t.Fatalf("%s: NaN row %d was kept", name, row)
			}
		}
		if got, want := len(ep.Steps), len(episode.NumericFields)-1; got != want {
			t.Fatalf("%s: step count got %d want %d", name, got, want)
		}
	}
}

func TestParseMovesFirstAndLastFlagsPastDroppedEdges(t *testing.T) {
	t.Parallel()

	trial := episodetest.NewTrial(4)
	trial.Set(episode.FieldCtrlEE, 0, 0, math.NaN())
	trial.Set(episode.FieldQVEE, 3, 0, math.NaN())

	ep, err := newParser(nil).Parse(trial, butterPath, "Trial0")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if got, want := sourceIndices(ep), []int{1, 2}; !reflect.DeepEqual(got, want) {
		t.Fatalf("source indices got %v want %v", got, want)
	}
	if !ep.Steps[0].IsFirst || ep.Steps[1].IsFirst {
		t.Fatalf("is_first flags wrong")
	}
	if ep.Steps[0].Reward != 0 || ep.Steps[1].Reward != 1 {
		t.Fatalf("rewards got %v, %v", ep.Steps[0].Reward, ep.Steps[1].Reward)
	}
}

func TestParseSkipsInconsistentLengths(t *testing.T) {
	t.Parallel()

	trial := episodetest.NewTrial(5)
	trial.Truncate(episode.FieldQVEE, 4)

	var logs bytes.Buffer
	_, err := newParser(&logs).Parse(trial, butterPath, "Trial3")
	if !errors.Is(err, episode.ErrInconsistentLength) {
		t.Fatalf("err=%v want ErrInconsistentLength", err)
	}
	if got := skipReason(t, err); got != episode.ReasonConsistency {
		t.Fatalf("reason got %q want %q", got, episode.ReasonConsistency)
	}
	if !strings.Contains(logs.String(), "Array lengths are not consistent for "+butterPath+", trial Trial3.") {
		t.Fatalf("diagnostic missing from log: %s", logs.String())
	}
}

func TestParseSkipsShortImageStream(t *testing.T) {
	t.Parallel()

	trial := episodetest.NewTrial(5)
	trial.Truncate(episode.FieldRGBTop, 4)

	_, err := newParser(nil).Parse(trial, butterPath, "Trial0")
	if got := skipReason(t, err); got != episode.ReasonConsistency {
		t.Fatalf("reason got %q want %q", got, episode.ReasonConsistency)
	}
}

func TestParseSkipsMissingArray(t *testing.T) {
	t.Parallel()

	trial := episodetest.NewTrial(3)
	trial.Missing[episode.FieldQPEE] = true

	var logs bytes.Buffer
	_, err := newParser(&logs).Parse(trial, butterPath, "Trial1")
	if !errors.Is(err, episode.ErrRead) {
		t.Fatalf("err=%v want ErrRead", err)
	}
	if got := skipReason(t, err); got != episode.ReasonRead {
		t.Fatalf("reason got %q want %q", got, episode.ReasonRead)
	}
	if !strings.Contains(logs.String(), "Could not load data for") {
		t.Fatalf("diagnostic missing from log: %s", logs.String())
	}
}

func TestParseSkipsUnknownInstruction(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	_, err := newParser(&logs).Parse(episodetest.NewTrial(3), "/mnt/roboset/juggle/trial_0.h5", "Trial0")
	if !errors.Is(err, instruct.ErrNoInstruction) {
		t.Fatalf("err=%v want ErrNoInstruction", err)
	}
	if got := skipReason(t, err); got != episode.ReasonLookup {
		t.Fatalf("reason got %q want %q", got, episode.ReasonLookup)
	}
	if !strings.Contains(logs.String(), "No matching instruction for /mnt/roboset/juggle/trial_0.h5!") {
		t.Fatalf("diagnostic missing from log: %s", logs.String())
	}
}

func TestParseSkipsTrialWithNoValidSteps(t *testing.T) {
	t.Parallel()

	trial := episodetest.NewTrial(3)
	for row := 0; row < 3; row++ {
		trial.Set(episode.FieldQVArm, row, 6, math.NaN())
	}

	_, err := newParser(nil).Parse(trial, butterPath, "Trial0")
	if !errors.Is(err, episode.ErrEmptyTrial) {
		t.Fatalf("err=%v want ErrEmptyTrial", err)
	}
	if got := skipReason(t, err); got != episode.ReasonEmpty {
		t.Fatalf("reason got %q want %q", got, episode.ReasonEmpty)
	}
}

func TestParseZeroLengthTrialIsEmpty(t *testing.T) {
	t.Parallel()

	_, err := newParser(nil).Parse(episodetest.NewTrial(0), butterPath, "Trial0")
	if !errors.Is(err, episode.ErrEmptyTrial) {
		t.Fatalf("err=%v want ErrEmptyTrial", err)
	}
}

func TestParseIsIdempotent(t *testing.T) {
	t.Parallel()

	trial := episodetest.NewTrial(6)
	trial.Set(episode.FieldCtrlArm, 4, 1, math.NaN())
	parser := newParser(nil)

	first, err := parser.Parse(trial, butterPath, "Trial0")
	if err != nil {
		t.Fatalf("first Parse error: %v", err)
	}
	second, err := parser.Parse(trial, butterPath, "Trial0")
	if err != nil {
		t.Fatalf("second Parse error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("episodes differ between runs")
	}
}

func TestParseEndToEndButterTrial(t *testing.T) {
	t.Parallel()

	ep, err := newParser(nil).Parse(episodetest.NewTrial(3), "/data/pick_butter/trial_0.h5", "Trial0")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	rewards := make([]float32, 0, len(ep.Steps))
	for _, step := range ep.Steps {
		rewards = append(rewards, step.Reward)
		if step.LanguageInstruction != "Pick up the butter." {
			t.Fatalf("instruction got %q", step.LanguageInstruction)
		}
	}
	if want := []float32{0, 0, 1}; !reflect.DeepEqual(rewards, want) {
		t.Fatalf("rewards got %v want %v", rewards, want)
	}
}

func TestAssembleRejectsEmptySteps(t *testing.T) {
	t.Parallel()

	if _, err := episode.Assemble(nil, butterPath, "Trial0", 0); !errors.Is(err, episode.ErrEmptyTrial) {
		t.Fatalf("err=%v want ErrEmptyTrial", err)
	}
}
