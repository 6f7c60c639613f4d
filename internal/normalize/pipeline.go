package normalize

import (
	"encoding/json"

	"example.com/wearablesync/internal/domain"
)

// Raw holds one run's fetched payloads per record type.
type Raw struct {
	Cycles     []json.RawMessage
	Recoveries []json.RawMessage
	Sleeps     []json.RawMessage
	Workouts   []json.RawMessage
}

// Count returns the number of raw payloads.
func (r Raw) Count() int {
	return len(r.Cycles) + len(r.Recoveries) + len(r.Sleeps) + len(r.Workouts)
}

// Outcome is the validated, normalized and deduplicated result of Process.
type Outcome struct {
	Batch      domain.MetricBatch
	Rejected   []Rejection
	Duplicates int
}

// Process validates every payload, normalizes the valid subset and resolves same-day
// duplicates. Invalid payloads never fail the batch.
func Process(userID, platform string, raw Raw) Outcome {
	var out Outcome

	cycles, rejected := ValidateCycles(raw.Cycles)
	out.Rejected = append(out.Rejected, rejected...)
	recoveries, rejected := ValidateRecoveries(raw.Recoveries)
	out.Rejected = append(out.Rejected, rejected...)
	sleeps, rejected := ValidateSleeps(raw.Sleeps)
	out.Rejected = append(out.Rejected, rejected...)
	workouts, rejected := ValidateWorkouts(raw.Workouts)
	out.Rejected = append(out.Rejected, rejected...)

	normalized := len(cycles) + len(recoveries) + len(sleeps) + len(workouts)
	out.Batch = domain.MetricBatch{
		Cycles:     DedupeCycles(NormalizeCycles(userID, platform, cycles)),
		Recoveries: DedupeRecoveries(NormalizeRecoveries(userID, platform, recoveries)),
		Sleeps:     DedupeSleeps(NormalizeSleeps(userID, platform, sleeps)),
		Workouts:   DedupeWorkouts(NormalizeWorkouts(userID, platform, workouts)),
	}
	out.Duplicates = normalized - out.Batch.Count()
	return out
}
