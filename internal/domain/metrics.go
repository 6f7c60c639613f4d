package domain

import (
	"context"
	"sort"
	"time"
)

// ActivityType enumerates the named workout categories derived from vendor sport ids.
type ActivityType string

const (
	ActivityRunning     ActivityType = "running"
	ActivityCycling     ActivityType = "cycling"
	ActivitySwimming    ActivityType = "swimming"
	ActivityWalking     ActivityType = "walking"
	ActivityHiking      ActivityType = "hiking"
	ActivityStrength    ActivityType = "strength"
	ActivityHIIT        ActivityType = "hiit"
	ActivityYoga        ActivityType = "yoga"
	ActivityRowing      ActivityType = "rowing"
	ActivityTeamSport   ActivityType = "team_sport"
	ActivityRacketSport ActivityType = "racket_sport"
	ActivityCombat      ActivityType = "combat"
	ActivityWinterSport ActivityType = "winter_sport"
	ActivityWaterSport  ActivityType = "water_sport"
	ActivityRecovery    ActivityType = "recovery"
	ActivityGeneral     ActivityType = "general_activity"
	ActivityOther       ActivityType = "other"
)

// CycleMetric is the canonical daily physiological cycle. Keyed by (user, platform, date).
type CycleMetric struct {
	UserID           string
	Platform         string
	Date             time.Time // UTC midnight of the local calendar day.
	CycleID          string
	StartedAt        time.Time
	EndedAt          *time.Time
	Strain           float64
	KilojoulesBurned float64
	Calories         float64
	AverageHeartRate int
	MaxHeartRate     int
}

// RecoveryMetric is the canonical daily recovery reading. Keyed by (user, platform, date).
type RecoveryMetric struct {
	UserID           string
	Platform         string
	Date             time.Time
	CycleID          string
	SleepID          string
	RecoveryScore    float64
	RestingHeartRate float64
	HRVRmssdMilli    float64
	SpO2Percentage   *float64
	SkinTempCelsius  *float64
	UserCalibrating  bool
}

// SleepMetric is the canonical nightly sleep summary. Keyed by (user, platform, date).
type SleepMetric struct {
	UserID            string
	Platform          string
	Date              time.Time
	SleepID           string
	StartedAt         time.Time
	EndedAt           time.Time
	Nap               bool
	TotalSleepMinutes float64
	InBedMinutes      float64
	AwakeMinutes      float64
	LightMinutes      float64
	DeepMinutes       float64
	REMMinutes        float64
	PerformancePct    *float64
	EfficiencyPct     *float64
	RespiratoryRate   *float64
}

// WorkoutMetric is a discrete workout event keyed by its vendor workout id.
type WorkoutMetric struct {
	UserID           string
	Platform         string
	WorkoutID        string
	Date             time.Time
	StartedAt        time.Time
	EndedAt          time.Time
	DurationMinutes  float64
	SportID          int
	ActivityType     ActivityType
	Strain           float64
	Calories         float64
	AverageHeartRate int
	MaxHeartRate     int
	DistanceMeters   *float64
}

// Profile carries the optional best-effort profile and body-measurement data.
type Profile struct {
	UserID       string
	Platform     string
	FirstName    string
	LastName     string
	Email        string
	HeightMeter  *float64
	WeightKg     *float64
	MaxHeartRate *int
	UpdatedAt    time.Time
}

// MetricBatch groups the validated, deduplicated records of one sync run.
type MetricBatch struct {
	Cycles     []CycleMetric
	Recoveries []RecoveryMetric
	Sleeps     []SleepMetric
	Workouts   []WorkoutMetric
}

// Count returns the number of records in the batch.
func (b MetricBatch) Count() int {
	return len(b.Cycles) + len(b.Recoveries) + len(b.Sleeps) + len(b.Workouts)
}

// Dates returns every distinct date touched by the batch in ascending order.
func (b MetricBatch) Dates() []time.Time {
	seen := make(map[time.Time]struct{})
	add := func(d time.Time) {
		if !d.IsZero() {
			seen[d] = struct{}{}
		}
	}
	for _, c := range b.Cycles {
		add(c.Date)
	}
	for _, r := range b.Recoveries {
		add(r.Date)
	}
	for _, s := range b.Sleeps {
		add(s.Date)
	}
	for _, w := range b.Workouts {
		add(w.Date)
	}

	out := make([]time.Time, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// DateOf truncates a timestamp to its UTC calendar day.
func DateOf(ts time.Time) time.Time {
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MetricRepository upserts canonical records by natural key. Repeating an upsert with
// the same input leaves the stored state unchanged.
type MetricRepository interface {
	UpsertMetrics(ctx context.Context, batch MetricBatch) error
	UpsertProfile(ctx context.Context, profile Profile) error
}
