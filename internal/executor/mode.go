package executor

import (
	"math/rand"

	"github.com/ralphx/ralphx/internal/config"
	"github.com/ralphx/ralphx/internal/domain"
	"github.com/ralphx/ralphx/pkg/apperrors"
)

// phase1Modes returns the names of every phase_1-tagged mode, walked in
// the YAML definition order (spec §4.5 step 3: "in definition order"),
// not map iteration order.
func phase1Modes(loop *config.Loop) []string {
	var names []string
	for _, name := range loop.ModeOrder {
		if m, ok := loop.Modes[name]; ok && m.Phase == "phase_1" {
			names = append(names, name)
		}
	}
	return names
}

// selectMode resolves the mode to run this iteration per loop.ModeSelection
// (spec §4.5 step 3). rng must be non-nil for random/weighted_random.
func selectMode(loop *config.Loop, run *domain.Run, rng *rand.Rand) (string, config.Mode, error) {
	switch loop.ModeSelection.Strategy {
	case domain.StrategyFixed:
		return resolveFixed(loop)

	case domain.StrategyRandom:
		return resolveRandom(loop, rng)

	case domain.StrategyWeightedRandom:
		return resolveWeighted(loop, rng)

	case domain.StrategyPhaseAware:
		return resolvePhaseAware(loop, run, rng)

	default:
		return "", config.Mode{}, apperrors.NewValidationError(
			"loop " + loop.Name + ": unknown mode_selection strategy")
	}
}

func resolveFixed(loop *config.Loop) (string, config.Mode, error) {
	name := loop.ModeSelection.FixedMode
	mode, ok := loop.Modes[name]
	if !ok {
		return "", config.Mode{}, apperrors.NewValidationError(
			"loop " + loop.Name + ": fixed_mode does not name a declared mode")
	}
	return name, mode, nil
}

func resolveRandom(loop *config.Loop, rng *rand.Rand) (string, config.Mode, error) {
	names := loop.ModeOrder
	if len(names) == 0 {
		for name := range loop.Modes {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", config.Mode{}, apperrors.NewValidationError("loop " + loop.Name + ": no modes declared")
	}
	name := names[rng.Intn(len(names))]
	return name, loop.Modes[name], nil
}

func resolveWeighted(loop *config.Loop, rng *rand.Rand) (string, config.Mode, error) {
	names := loop.ModeOrder
	if len(names) == 0 {
		for name := range loop.ModeSelection.Weights {
			names = append(names, name)
		}
	}
	total := 0
	for _, name := range names {
		total += loop.ModeSelection.Weights[name]
	}
	if total <= 0 {
		return "", config.Mode{}, apperrors.NewValidationError(
			"loop " + loop.Name + ": weighted_random has no positive weights")
	}

	pick := rng.Intn(total)
	cursor := 0
	for _, name := range names {
		cursor += loop.ModeSelection.Weights[name]
		if pick < cursor {
			return name, loop.Modes[name], nil
		}
	}
	// Rounding fallback: land on the last candidate.
	last := names[len(names)-1]
	return last, loop.Modes[last], nil
}

// resolvePhaseAware walks phase_1-tagged modes in definition order until
// every one has completed a successful iteration, then falls through to
// fixed_mode for every iteration after (spec §4.5 step 3).
func resolvePhaseAware(loop *config.Loop, run *domain.Run, rng *rand.Rand) (string, config.Mode, error) {
	if run.Phase1Complete {
		return resolveFixed(loop)
	}

	phase1 := phase1Modes(loop)
	if len(phase1) == 0 {
		// Nothing tagged phase_1: treat phase 1 as already satisfied.
		return resolveFixed(loop)
	}

	idx := run.Phase1ModeIndex
	if idx >= len(phase1) {
		return resolveFixed(loop)
	}
	name := phase1[idx]
	return name, loop.Modes[name], nil
}

// advancePhase1 records a successful phase_1 iteration, advancing to the
// next phase_1 mode or, once all have run once, marking phase 1 complete.
// Called only when loop.ModeSelection.Strategy is phase_aware and the
// iteration that just finished actually used a phase_1 mode.
func advancePhase1(loop *config.Loop, run *domain.Run) {
	if run.Phase1Complete {
		return
	}
	phase1 := phase1Modes(loop)
	if len(phase1) == 0 {
		run.Phase1Complete = true
		return
	}
	run.Phase1ModeIndex++
	if run.Phase1ModeIndex >= len(phase1) {
		run.Phase1Complete = true
	}
}
