package normalize

import (
	"sort"
	"time"

	"example.com/wearablesync/internal/domain"
)

type dayKey struct {
	userID   string
	platform string
	date     time.Time
}

// dedupeByDay keeps one record per (user, platform, date), replacing the current
// winner only when better reports the candidate strictly ahead. better must be a strict
// total order so the winner does not depend on input order. Output is ordered by date.
func dedupeByDay[T any](in []T, key func(T) dayKey, better func(candidate, current T) bool) []T {
	winners := make(map[dayKey]int, len(in))
	out := make([]T, 0, len(in))
	for _, item := range in {
		k := key(item)
		if idx, ok := winners[k]; ok {
			if better(item, out[idx]) {
				out[idx] = item
			}
			continue
		}
		winners[k] = len(out)
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool { return key(out[i]).date.Before(key(out[j]).date) })
	return out
}

// DedupeCycles keeps the highest-strain cycle per day.
func DedupeCycles(in []domain.CycleMetric) []domain.CycleMetric {
	return dedupeByDay(in,
		func(c domain.CycleMetric) dayKey { return dayKey{c.UserID, c.Platform, c.Date} },
		func(candidate, current domain.CycleMetric) bool {
			return outranks(candidate.Strain, current.Strain, candidate.CycleID, current.CycleID)
		},
	)
}

// DedupeRecoveries keeps the highest-scoring recovery per day.
func DedupeRecoveries(in []domain.RecoveryMetric) []domain.RecoveryMetric {
	return dedupeByDay(in,
		func(r domain.RecoveryMetric) dayKey { return dayKey{r.UserID, r.Platform, r.Date} },
		func(candidate, current domain.RecoveryMetric) bool {
			return outranks(candidate.RecoveryScore, current.RecoveryScore,
				candidate.CycleID+"/"+candidate.SleepID, current.CycleID+"/"+current.SleepID)
		},
	)
}

// DedupeSleeps keeps the longest sleep per day.
func DedupeSleeps(in []domain.SleepMetric) []domain.SleepMetric {
	return dedupeByDay(in,
		func(s domain.SleepMetric) dayKey { return dayKey{s.UserID, s.Platform, s.Date} },
		func(candidate, current domain.SleepMetric) bool {
			return outranks(candidate.TotalSleepMinutes, current.TotalSleepMinutes, candidate.SleepID, current.SleepID)
		},
	)
}

// outranks orders by score, breaking ties on the vendor record id so reruns over
// reordered pages pick the same winner. Numeric ids compare numerically.
func outranks(candidate, current float64, candidateID, currentID string) bool {
	if candidate != current {
		return candidate > current
	}
	if len(candidateID) != len(currentID) {
		return len(candidateID) > len(currentID)
	}
	return candidateID > currentID
}

// DedupeWorkouts collapses repeats of the same workout id, which pagination overlap can
// produce. Distinct workouts on the same day are all kept.
func DedupeWorkouts(in []domain.WorkoutMetric) []domain.WorkoutMetric {
	seen := make(map[string]int, len(in))
	out := make([]domain.WorkoutMetric, 0, len(in))
	for _, w := range in {
		k := w.UserID + "\x00" + w.Platform + "\x00" + w.WorkoutID
		if idx, ok := seen[k]; ok {
			out[idx] = w
			continue
		}
		seen[k] = len(out)
		out = append(out, w)
	}
	return out
}
