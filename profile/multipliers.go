package profile

import "fmt"

// BuildMultipliers pairs SH_PROFILE_ALL_EVENTS with the parallel
// SH_PROFILE_ALL_MULTIPLIERS list, mirroring sicm_runtime_init.c's
// validation that the two comma-separated env lists are the same
// length ("Number of multipliers doesn't equal the number of
// PROFILE_ALL events. Aborting."), returned here as an error instead
// of an exit(1) for the caller to decide how to fail.
//
// An empty mults list is not an error: it means the env var was unset
// and every event keeps its default weight of 1.
func BuildMultipliers(events []string, mults []float64) (map[string]float64, error) {
	if len(mults) == 0 {
		return map[string]float64{}, nil
	}
	if len(mults) != len(events) {
		return nil, fmt.Errorf("profile: %d multipliers for %d profile-all events", len(mults), len(events))
	}
	out := make(map[string]float64, len(events))
	for i, ev := range events {
		out[ev] = mults[i]
	}
	return out, nil
}
