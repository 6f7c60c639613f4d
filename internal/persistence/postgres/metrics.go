package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"example.com/wearablesync/internal/domain"
)

const upsertCycle = `INSERT INTO cycle_metrics
    (user_id, platform, metric_date, cycle_id, started_at, ended_at, strain, kilojoules_burned, calories, average_heart_rate, max_heart_rate, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
ON CONFLICT (user_id, platform, metric_date) DO UPDATE SET
    cycle_id = EXCLUDED.cycle_id,
    started_at = EXCLUDED.started_at,
    ended_at = EXCLUDED.ended_at,
    strain = EXCLUDED.strain,
    kilojoules_burned = EXCLUDED.kilojoules_burned,
    calories = EXCLUDED.calories,
    average_heart_rate = EXCLUDED.average_heart_rate,
    max_heart_rate = EXCLUDED.max_heart_rate,
    updated_at = NOW()`

const upsertRecovery = `INSERT INTO recovery_metrics
    (user_id, platform, metric_date, cycle_id, sleep_id, recovery_score, resting_heart_rate, hrv_rmssd_milli, spo2_percentage, skin_temp_celsius, user_calibrating, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
ON CONFLICT (user_id, platform, metric_date) DO UPDATE SET
    cycle_id = EXCLUDED.cycle_id,
    sleep_id = EXCLUDED.sleep_id,
    recovery_score = EXCLUDED.recovery_score,
    resting_heart_rate = EXCLUDED.resting_heart_rate,
    hrv_rmssd_milli = EXCLUDED.hrv_rmssd_milli,
    spo2_percentage = EXCLUDED.spo2_percentage,
    skin_temp_celsius = EXCLUDED.skin_temp_celsius,
    user_calibrating = EXCLUDED.user_calibrating,
    updated_at = NOW()`

const upsertSleep = `INSERT INTO sleep_metrics
    (user_id, platform, metric_date, sleep_id, started_at, ended_at, nap, total_sleep_minutes, in_bed_minutes, awake_minutes,
     light_minutes, deep_minutes, rem_minutes, performance_pct, efficiency_pct, respiratory_rate, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW())
ON CONFLICT (user_id, platform, metric_date) DO UPDATE SET
    sleep_id = EXCLUDED.sleep_id,
    started_at = EXCLUDED.started_at,
    ended_at = EXCLUDED.ended_at,
    nap = EXCLUDED.nap,
    total_sleep_minutes = EXCLUDED.total_sleep_minutes,
    in_bed_minutes = EXCLUDED.in_bed_minutes,
    awake_minutes = EXCLUDED.awake_minutes,
    light_minutes = EXCLUDED.light_minutes,
    deep_minutes = EXCLUDED.deep_minutes,
    rem_minutes = EXCLUDED.rem_minutes,
    performance_pct = EXCLUDED.performance_pct,
    efficiency_pct = EXCLUDED.efficiency_pct,
    respiratory_rate = EXCLUDED.respiratory_rate,
    updated_at = NOW()`

const upsertWorkout = `INSERT INTO workout_metrics
    (user_id, platform, workout_id, metric_date, started_at, ended_at, duration_minutes, sport_id, activity_type, strain,
     calories, average_heart_rate, max_heart_rate, distance_meters, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
ON CONFLICT (user_id, platform, workout_id) DO UPDATE SET
    metric_date = EXCLUDED.metric_date,
    started_at = EXCLUDED.started_at,
    ended_at = EXCLUDED.ended_at,
    duration_minutes = EXCLUDED.duration_minutes,
    sport_id = EXCLUDED.sport_id,
    activity_type = EXCLUDED.activity_type,
    strain = EXCLUDED.strain,
    calories = EXCLUDED.calories,
    average_heart_rate = EXCLUDED.average_heart_rate,
    max_heart_rate = EXCLUDED.max_heart_rate,
    distance_meters = EXCLUDED.distance_meters,
    updated_at = NOW()`

// UpsertMetrics implements domain.MetricRepository. The whole batch commits or none of it does.
func (r *Repository) UpsertMetrics(ctx context.Context, batch domain.MetricBatch) error {
	if batch.Count() == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, c := range batch.Cycles {
		b.Queue(upsertCycle, c.UserID, c.Platform, c.Date, c.CycleID, c.StartedAt, c.EndedAt,
			c.Strain, c.KilojoulesBurned, c.Calories, c.AverageHeartRate, c.MaxHeartRate)
	}
	for _, rec := range batch.Recoveries {
		b.Queue(upsertRecovery, rec.UserID, rec.Platform, rec.Date, rec.CycleID, rec.SleepID, rec.RecoveryScore,
			rec.RestingHeartRate, rec.HRVRmssdMilli, rec.SpO2Percentage, rec.SkinTempCelsius, rec.UserCalibrating)
	}
	for _, s := range batch.Sleeps {
		b.Queue(upsertSleep, s.UserID, s.Platform, s.Date, s.SleepID, s.StartedAt, s.EndedAt, s.Nap,
			s.TotalSleepMinutes, s.InBedMinutes, s.AwakeMinutes, s.LightMinutes, s.DeepMinutes, s.REMMinutes,
			s.PerformancePct, s.EfficiencyPct, s.RespiratoryRate)
	}
	for _, w := range batch.Workouts {
		b.Queue(upsertWorkout, w.UserID, w.Platform, w.WorkoutID, w.Date, w.StartedAt, w.EndedAt, w.DurationMinutes,
			w.SportID, string(w.ActivityType), w.Strain, w.Calories, w.AverageHeartRate, w.MaxHeartRate, w.DistanceMeters)
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("upsert %d metrics: %w", batch.Count(), err)
		}
		return nil
	})
}

// UpsertProfile implements domain.MetricRepository. Absent body fields keep their
// stored values.
func (r *Repository) UpsertProfile(ctx context.Context, p domain.Profile) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO wearable_profiles (user_id, platform, first_name, last_name, email, height_meter, weight_kg, max_heart_rate, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (user_id, platform) DO UPDATE SET
		     first_name = COALESCE(NULLIF(EXCLUDED.first_name, ''), wearable_profiles.first_name),
		     last_name = COALESCE(NULLIF(EXCLUDED.last_name, ''), wearable_profiles.last_name),
		     email = COALESCE(NULLIF(EXCLUDED.email, ''), wearable_profiles.email),
		     height_meter = COALESCE(EXCLUDED.height_meter, wearable_profiles.height_meter),
		     weight_kg = COALESCE(EXCLUDED.weight_kg, wearable_profiles.weight_kg),
		     max_heart_rate = COALESCE(EXCLUDED.max_heart_rate, wearable_profiles.max_heart_rate),
		     updated_at = EXCLUDED.updated_at`,
		p.UserID, p.Platform, p.FirstName, p.LastName, p.Email, p.HeightMeter, p.WeightKg, p.MaxHeartRate, p.UpdatedAt)
	return err
}
