package container

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/mfahub/container-backend/interfaces"
)

// defaultStateTypes is the state vocabulary shared by the built-in
// container types, mapping each state to the states it excludes. The map
// is symmetric: active and disabled exclude each other.
func defaultStateTypes() map[string][]string {
	return map[string][]string{
		interfaces.StateActive:   {interfaces.StateDisabled},
		interfaces.StateDisabled: {interfaces.StateActive},
		interfaces.StateLost:     {},
		interfaces.StateDamaged:  {},
	}
}

func (b *Base) States() []string {
	return slices.Clone(b.record.States)
}

// hasExcludedStates reports whether the list contains two states that
// exclude each other.
func (b *Base) hasExcludedStates(states []string) bool {
	for _, state := range states {
		excluded, ok := b.desc.StateTypes[state]
		if !ok {
			continue
		}
		for _, other := range excluded {
			if slices.Contains(states, other) {
				return true
			}
		}
	}
	return false
}

// SetStates replaces the container states. A list that contains mutually
// exclusive states fails with ErrParameter before anything is mutated.
// Unsupported state names inside a valid list are skipped with a per-item
// false, not an error.
func (b *Base) SetStates(ctx context.Context, states []string) (map[string]bool, error) {
	if b.hasExcludedStates(states) {
		return nil, fmt.Errorf("%w: the state list %v contains exclusive states", interfaces.ErrParameter, states)
	}

	b.record.States = nil
	result := map[string]bool{}
	for _, state := range states {
		if _, ok := b.desc.StateTypes[state]; !ok {
			// Not fatal so the remaining states can still be set.
			b.log.Warn("State not supported", slog.String("state", state))
			result[state] = false
			continue
		}
		b.record.States = append(b.record.States, state)
		result[state] = true
	}
	if err := b.save(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

// AddStates adds states to the container. Existing states are only removed
// when a new state excludes them. A list that contains mutually exclusive
// states fails with ErrParameter before anything is mutated.
func (b *Base) AddStates(ctx context.Context, states []string) (map[string]bool, error) {
	if len(states) == 0 {
		return map[string]bool{}, nil
	}
	if b.hasExcludedStates(states) {
		return nil, fmt.Errorf("%w: the state list %v contains exclusive states", interfaces.ErrParameter, states)
	}

	result := map[string]bool{}
	for _, state := range states {
		excluded, ok := b.desc.StateTypes[state]
		if !ok {
			result[state] = false
			b.log.Warn("State not supported", slog.String("state", state))
			continue
		}
		for _, old := range excluded {
			if idx := slices.Index(b.record.States, old); idx >= 0 {
				b.record.States = slices.Delete(b.record.States, idx, idx+1)
				b.log.Debug("Removed state excluded by new state",
					slog.String("removed", old), slog.String("state", state))
			}
		}
		if !slices.Contains(b.record.States, state) {
			b.record.States = append(b.record.States, state)
		}
		result[state] = true
	}
	if err := b.save(ctx); err != nil {
		return nil, err
	}
	return result, nil
}
