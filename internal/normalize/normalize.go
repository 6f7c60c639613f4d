package normalize

import (
	"math"
	"strconv"
	"strings"
	"time"

	"example.com/wearablesync/internal/domain"
	"example.com/wearablesync/internal/whoop"
)

// KilojoulesToKcal converts vendor energy to dietary calories.
const KilojoulesToKcal = 0.239006

const millisPerMinute = float64(time.Minute / time.Millisecond)

// Calories converts kilojoules to kcal rounded to one decimal.
func Calories(kilojoules float64) float64 {
	return round1(kilojoules * KilojoulesToKcal)
}

// NormalizeCycles maps validated cycles onto canonical metrics.
func NormalizeCycles(userID, platform string, in []whoop.RawCycle) []domain.CycleMetric {
	out := make([]domain.CycleMetric, 0, len(in))
	for _, c := range in {
		var end *time.Time
		if c.End != nil {
			e := c.End.UTC()
			end = &e
		}
		out = append(out, domain.CycleMetric{
			UserID:           userID,
			Platform:         platform,
			Date:             localDate(c.Start, c.TimezoneOffset),
			CycleID:          string(c.ID),
			StartedAt:        c.Start.UTC(),
			EndedAt:          end,
			Strain:           *c.Score.Strain,
			KilojoulesBurned: *c.Score.Kilojoule,
			Calories:         Calories(*c.Score.Kilojoule),
			AverageHeartRate: *c.Score.AverageHeartRate,
			MaxHeartRate:     *c.Score.MaxHeartRate,
		})
	}
	return out
}

// NormalizeRecoveries maps validated recoveries onto canonical metrics. The date comes
// from when the vendor scored the recovery.
func NormalizeRecoveries(userID, platform string, in []whoop.RawRecovery) []domain.RecoveryMetric {
	out := make([]domain.RecoveryMetric, 0, len(in))
	for _, r := range in {
		out = append(out, domain.RecoveryMetric{
			UserID:           userID,
			Platform:         platform,
			Date:             domain.DateOf(r.CreatedAt.UTC()),
			CycleID:          string(r.CycleID),
			SleepID:          string(r.SleepID),
			RecoveryScore:    *r.Score.RecoveryScore,
			RestingHeartRate: *r.Score.RestingHeartRate,
			HRVRmssdMilli:    *r.Score.HRVRmssdMilli,
			SpO2Percentage:   r.Score.SpO2Percentage,
			SkinTempCelsius:  r.Score.SkinTempCelsius,
			UserCalibrating:  r.Score.UserCalibrating,
		})
	}
	return out
}

// NormalizeSleeps maps validated sleeps onto canonical metrics. Total sleep is the sum
// of light, slow-wave and REM stages.
func NormalizeSleeps(userID, platform string, in []whoop.RawSleep) []domain.SleepMetric {
	out := make([]domain.SleepMetric, 0, len(in))
	for _, s := range in {
		stages := s.Score.StageSummary
		light := minutes(*stages.TotalLightSleepTimeMilli)
		deep := minutes(*stages.TotalSlowWaveSleepTimeMilli)
		rem := minutes(*stages.TotalRemSleepTimeMilli)
		out = append(out, domain.SleepMetric{
			UserID:            userID,
			Platform:          platform,
			Date:              localDate(s.Start, s.TimezoneOffset),
			SleepID:           string(s.ID),
			StartedAt:         s.Start.UTC(),
			EndedAt:           s.End.UTC(),
			Nap:               s.Nap,
			TotalSleepMinutes: round1(light + deep + rem),
			InBedMinutes:      minutes(*stages.TotalInBedTimeMilli),
			AwakeMinutes:      minutes(*stages.TotalAwakeTimeMilli),
			LightMinutes:      light,
			DeepMinutes:       deep,
			REMMinutes:        rem,
			PerformancePct:    s.Score.SleepPerformancePercentage,
			EfficiencyPct:     s.Score.SleepEfficiencyPercentage,
			RespiratoryRate:   s.Score.RespiratoryRate,
		})
	}
	return out
}

// NormalizeWorkouts maps validated workouts onto canonical metrics.
func NormalizeWorkouts(userID, platform string, in []whoop.RawWorkout) []domain.WorkoutMetric {
	out := make([]domain.WorkoutMetric, 0, len(in))
	for _, w := range in {
		sportID := -1
		activity := ActivityForName(w.SportName)
		if w.SportID != nil {
			sportID = *w.SportID
			activity = ActivityForSport(sportID)
		}
		out = append(out, domain.WorkoutMetric{
			UserID:           userID,
			Platform:         platform,
			WorkoutID:        string(w.ID),
			Date:             localDate(w.Start, w.TimezoneOffset),
			StartedAt:        w.Start.UTC(),
			EndedAt:          w.End.UTC(),
			DurationMinutes:  round1(w.End.Sub(w.Start).Minutes()),
			SportID:          sportID,
			ActivityType:     activity,
			Strain:           *w.Score.Strain,
			Calories:         Calories(*w.Score.Kilojoule),
			AverageHeartRate: *w.Score.AverageHeartRate,
			MaxHeartRate:     *w.Score.MaxHeartRate,
			DistanceMeters:   w.Score.DistanceMeter,
		})
	}
	return out
}

// NormalizeProfile merges the basic profile and body measurement. Either may be nil.
func NormalizeProfile(userID, platform string, profile *whoop.RawProfile, body *whoop.RawBodyMeasurement, at time.Time) domain.Profile {
	out := domain.Profile{UserID: userID, Platform: platform, UpdatedAt: at.UTC()}
	if profile != nil {
		out.FirstName = strings.TrimSpace(profile.FirstName)
		out.LastName = strings.TrimSpace(profile.LastName)
		out.Email = strings.TrimSpace(profile.Email)
	}
	if body != nil {
		out.HeightMeter = body.HeightMeter
		out.WeightKg = body.WeightKilogram
		out.MaxHeartRate = body.MaxHeartRate
	}
	return out
}

// localDate is the calendar day of ts in the record's own offset, falling back to UTC.
func localDate(ts time.Time, offset string) time.Time {
	if secs, ok := parseOffset(offset); ok {
		return domain.DateOf(ts.In(time.FixedZone(offset, secs)))
	}
	return domain.DateOf(ts.UTC())
}

func parseOffset(offset string) (int, bool) {
	if offset == "" {
		return 0, false
	}
	if offset == "Z" {
		return 0, true
	}
	if len(offset) != 6 || offset[3] != ':' {
		return 0, false
	}
	sign := 1
	switch offset[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return 0, false
	}
	hours, err := strconv.Atoi(offset[1:3])
	if err != nil {
		return 0, false
	}
	mins, err := strconv.Atoi(offset[4:6])
	if err != nil {
		return 0, false
	}
	return sign * (hours*3600 + mins*60), true
}

func minutes(millis int64) float64 {
	return round1(float64(millis) / millisPerMinute)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
