package whoop

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// SchemaVersion tags which known payload shape a record was decoded from.
type SchemaVersion int

const (
	SchemaUnknown SchemaVersion = iota
	// SchemaV1 records carry numeric identifiers.
	SchemaV1
	// SchemaV2 records carry UUID string identifiers.
	SchemaV2
)

func (v SchemaVersion) String() string {
	switch v {
	case SchemaV1:
		return "v1"
	case SchemaV2:
		return "v2"
	default:
		return "unknown"
	}
}

// FlexID decodes an identifier that is numeric in v1 payloads and a string in v2.
type FlexID string

// UnmarshalJSON accepts a JSON string, number or null.
func (id *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = FlexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	*id = FlexID(n.String())
	return nil
}

// Envelope carries what normalization never reads: the detected schema version and
// any fields the known shapes do not declare, kept for debugging.
type Envelope struct {
	Version SchemaVersion
	Extra   map[string]json.RawMessage
}

// CycleScore is the scored portion of a cycle.
type CycleScore struct {
	Strain           *float64 `json:"strain" validate:"required,gte=0,lte=21"`
	Kilojoule        *float64 `json:"kilojoule" validate:"required,gte=0"`
	AverageHeartRate *int     `json:"average_heart_rate" validate:"required,gte=20,lte=250"`
	MaxHeartRate     *int     `json:"max_heart_rate" validate:"required,gte=20,lte=250"`
}

// RawCycle is a vendor physiological cycle.
type RawCycle struct {
	ID             FlexID      `json:"id" validate:"required"`
	UserID         FlexID      `json:"user_id"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	Start          time.Time   `json:"start" validate:"required"`
	End            *time.Time  `json:"end"`
	TimezoneOffset string      `json:"timezone_offset" validate:"omitempty,tzoffset"`
	ScoreState     string      `json:"score_state" validate:"required,eq=SCORED"`
	Score          *CycleScore `json:"score" validate:"required"`
	Envelope       `json:"-"`
}

// RecoveryScore is the scored portion of a recovery.
type RecoveryScore struct {
	UserCalibrating  bool     `json:"user_calibrating"`
	RecoveryScore    *float64 `json:"recovery_score" validate:"required,gte=0,lte=100"`
	RestingHeartRate *float64 `json:"resting_heart_rate" validate:"required,gt=0,lte=250"`
	HRVRmssdMilli    *float64 `json:"hrv_rmssd_milli" validate:"required,gte=0"`
	SpO2Percentage   *float64 `json:"spo2_percentage" validate:"omitempty,gte=0,lte=100"`
	SkinTempCelsius  *float64 `json:"skin_temp_celsius" validate:"omitempty,gte=20,lte=45"`
}

// RawRecovery is a vendor recovery reading, attached to a cycle.
type RawRecovery struct {
	CycleID    FlexID         `json:"cycle_id" validate:"required"`
	SleepID    FlexID         `json:"sleep_id"`
	UserID     FlexID         `json:"user_id"`
	CreatedAt  time.Time      `json:"created_at" validate:"required"`
	UpdatedAt  time.Time      `json:"updated_at"`
	ScoreState string         `json:"score_state" validate:"required,eq=SCORED"`
	Score      *RecoveryScore `json:"score" validate:"required"`
	Envelope   `json:"-"`
}

// StageSummary breaks a sleep into stage durations in milliseconds.
type StageSummary struct {
	TotalInBedTimeMilli         *int64 `json:"total_in_bed_time_milli" validate:"required,gte=0"`
	TotalAwakeTimeMilli         *int64 `json:"total_awake_time_milli" validate:"required,gte=0"`
	TotalNoDataTimeMilli        *int64 `json:"total_no_data_time_milli" validate:"omitempty,gte=0"`
	TotalLightSleepTimeMilli    *int64 `json:"total_light_sleep_time_milli" validate:"required,gte=0"`
	TotalSlowWaveSleepTimeMilli *int64 `json:"total_slow_wave_sleep_time_milli" validate:"required,gte=0"`
	TotalRemSleepTimeMilli      *int64 `json:"total_rem_sleep_time_milli" validate:"required,gte=0"`
	SleepCycleCount             *int   `json:"sleep_cycle_count" validate:"omitempty,gte=0"`
	DisturbanceCount            *int   `json:"disturbance_count" validate:"omitempty,gte=0"`
}

// SleepScore is the scored portion of a sleep.
type SleepScore struct {
	StageSummary               *StageSummary `json:"stage_summary" validate:"required"`
	RespiratoryRate            *float64      `json:"respiratory_rate" validate:"omitempty,gte=0,lte=60"`
	SleepPerformancePercentage *float64      `json:"sleep_performance_percentage" validate:"omitempty,gte=0,lte=100"`
	SleepConsistencyPercentage *float64      `json:"sleep_consistency_percentage" validate:"omitempty,gte=0,lte=100"`
	SleepEfficiencyPercentage  *float64      `json:"sleep_efficiency_percentage" validate:"omitempty,gte=0,lte=100"`
}

// RawSleep is a vendor sleep or nap.
type RawSleep struct {
	ID             FlexID      `json:"id" validate:"required"`
	UserID         FlexID      `json:"user_id"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	Start          time.Time   `json:"start" validate:"required"`
	End            time.Time   `json:"end" validate:"required"`
	TimezoneOffset string      `json:"timezone_offset" validate:"omitempty,tzoffset"`
	Nap            bool        `json:"nap"`
	ScoreState     string      `json:"score_state" validate:"required,eq=SCORED"`
	Score          *SleepScore `json:"score" validate:"required"`
	Envelope       `json:"-"`
}

// WorkoutScore is the scored portion of a workout.
type WorkoutScore struct {
	Strain           *float64 `json:"strain" validate:"required,gte=0,lte=21"`
	AverageHeartRate *int     `json:"average_heart_rate" validate:"required,gte=20,lte=250"`
	MaxHeartRate     *int     `json:"max_heart_rate" validate:"required,gte=20,lte=250"`
	Kilojoule        *float64 `json:"kilojoule" validate:"required,gte=0"`
	PercentRecorded  *float64 `json:"percent_recorded" validate:"omitempty,gte=0,lte=100"`
	DistanceMeter    *float64 `json:"distance_meter" validate:"omitempty,gte=0"`
}

// RawWorkout is a vendor workout. v1 identifies the sport by number, v2 may send
// only the sport name.
type RawWorkout struct {
	ID             FlexID        `json:"id" validate:"required"`
	UserID         FlexID        `json:"user_id"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	Start          time.Time     `json:"start" validate:"required"`
	End            time.Time     `json:"end" validate:"required"`
	TimezoneOffset string        `json:"timezone_offset" validate:"omitempty,tzoffset"`
	SportID        *int          `json:"sport_id" validate:"required_without=SportName"`
	SportName      string        `json:"sport_name"`
	ScoreState     string        `json:"score_state" validate:"required,eq=SCORED"`
	Score          *WorkoutScore `json:"score" validate:"required"`
	Envelope       `json:"-"`
}

// RawProfile is the basic user profile.
type RawProfile struct {
	UserID    FlexID `json:"user_id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// RawBodyMeasurement is the latest body measurement.
type RawBodyMeasurement struct {
	HeightMeter    *float64 `json:"height_meter"`
	WeightKilogram *float64 `json:"weight_kilogram"`
	MaxHeartRate   *int     `json:"max_heart_rate"`
}

var (
	cycleKeys    = jsonKeys(reflect.TypeOf(RawCycle{}))
	recoveryKeys = jsonKeys(reflect.TypeOf(RawRecovery{}))
	sleepKeys    = jsonKeys(reflect.TypeOf(RawSleep{}))
	workoutKeys  = jsonKeys(reflect.TypeOf(RawWorkout{}))
)

// UnmarshalJSON decodes the known shape and records version and unknown fields.
func (r *RawCycle) UnmarshalJSON(b []byte) error {
	type plain RawCycle
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	env, err := splitEnvelope(b, "id", cycleKeys)
	if err != nil {
		return err
	}
	p.Envelope = env
	*r = RawCycle(p)
	return nil
}

// UnmarshalJSON decodes the known shape and records version and unknown fields.
func (r *RawRecovery) UnmarshalJSON(b []byte) error {
	type plain RawRecovery
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	env, err := splitEnvelope(b, "sleep_id", recoveryKeys)
	if err != nil {
		return err
	}
	p.Envelope = env
	*r = RawRecovery(p)
	return nil
}

// UnmarshalJSON decodes the known shape and records version and unknown fields.
func (r *RawSleep) UnmarshalJSON(b []byte) error {
	type plain RawSleep
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	env, err := splitEnvelope(b, "id", sleepKeys)
	if err != nil {
		return err
	}
	p.Envelope = env
	*r = RawSleep(p)
	return nil
}

// UnmarshalJSON decodes the known shape and records version and unknown fields.
func (r *RawWorkout) UnmarshalJSON(b []byte) error {
	type plain RawWorkout
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	env, err := splitEnvelope(b, "id", workoutKeys)
	if err != nil {
		return err
	}
	p.Envelope = env
	*r = RawWorkout(p)
	return nil
}

func splitEnvelope(b []byte, versionKey string, known map[string]struct{}) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return Envelope{}, err
	}
	env := Envelope{Version: detectVersion(fields[versionKey])}
	for key, value := range fields {
		if _, ok := known[key]; ok {
			continue
		}
		if env.Extra == nil {
			env.Extra = make(map[string]json.RawMessage)
		}
		env.Extra[key] = value
	}
	return env, nil
}

func detectVersion(raw json.RawMessage) SchemaVersion {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return SchemaUnknown
	}
	switch c := raw[0]; {
	case c == '"':
		return SchemaV2
	case c == '-' || (c >= '0' && c <= '9'):
		return SchemaV1
	default:
		return SchemaUnknown
	}
}

func jsonKeys(t reflect.Type) map[string]struct{} {
	keys := make(map[string]struct{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		name, _, _ := strings.Cut(tag, ",")
		if name == "" || name == "-" {
			continue
		}
		keys[name] = struct{}{}
	}
	return keys
}
