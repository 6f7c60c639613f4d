// Package normalize validates vendor payloads, maps them onto canonical metrics and
// resolves same-day duplicates.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"example.com/wearablesync/internal/whoop"
)

// Record types as written to validation error rows.
const (
	RecordCycle    = "cycle"
	RecordRecovery = "recovery"
	RecordSleep    = "sleep"
	RecordWorkout  = "workout"
)

// Rejection is a raw item that failed decoding or schema validation.
type Rejection struct {
	RecordType string
	RecordID   string
	Reason     string
	Payload    json.RawMessage
}

var (
	validate     *validator.Validate
	tzOffsetExpr = regexp.MustCompile(`^(Z|[+-](0\d|1[0-4]):[0-5]\d)$`)
)

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("tzoffset", func(fl validator.FieldLevel) bool {
		return tzOffsetExpr.MatchString(fl.Field().String())
	})
	validate.RegisterStructValidation(func(sl validator.StructLevel) {
		c := sl.Current().Interface().(whoop.RawCycle)
		if c.End != nil && !c.Start.IsZero() && c.End.Before(c.Start) {
			sl.ReportError(c.End, "end", "End", "endafterstart", "")
		}
	}, whoop.RawCycle{})
	validate.RegisterStructValidation(func(sl validator.StructLevel) {
		s := sl.Current().Interface().(whoop.RawSleep)
		if !s.Start.IsZero() && !s.End.IsZero() && !s.End.After(s.Start) {
			sl.ReportError(s.End, "end", "End", "endafterstart", "")
		}
	}, whoop.RawSleep{})
	validate.RegisterStructValidation(func(sl validator.StructLevel) {
		w := sl.Current().Interface().(whoop.RawWorkout)
		if !w.Start.IsZero() && !w.End.IsZero() && !w.End.After(w.Start) {
			sl.ReportError(w.End, "end", "End", "endafterstart", "")
		}
	}, whoop.RawWorkout{})
}

// ValidateCycles decodes and validates raw cycle payloads.
func ValidateCycles(raws []json.RawMessage) ([]whoop.RawCycle, []Rejection) {
	return decodeAll(RecordCycle, raws, func(c *whoop.RawCycle) string { return string(c.ID) })
}

// ValidateRecoveries decodes and validates raw recovery payloads.
func ValidateRecoveries(raws []json.RawMessage) ([]whoop.RawRecovery, []Rejection) {
	return decodeAll(RecordRecovery, raws, func(r *whoop.RawRecovery) string { return string(r.CycleID) })
}

// ValidateSleeps decodes and validates raw sleep payloads.
func ValidateSleeps(raws []json.RawMessage) ([]whoop.RawSleep, []Rejection) {
	return decodeAll(RecordSleep, raws, func(s *whoop.RawSleep) string { return string(s.ID) })
}

// ValidateWorkouts decodes and validates raw workout payloads.
func ValidateWorkouts(raws []json.RawMessage) ([]whoop.RawWorkout, []Rejection) {
	return decodeAll(RecordWorkout, raws, func(w *whoop.RawWorkout) string { return string(w.ID) })
}

func decodeAll[T any](recordType string, raws []json.RawMessage, idOf func(*T) string) ([]T, []Rejection) {
	valid := make([]T, 0, len(raws))
	var rejected []Rejection
	for _, raw := range raws {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			rejected = append(rejected, Rejection{
				RecordType: recordType,
				RecordID:   probeID(raw),
				Reason:     "malformed payload: " + err.Error(),
				Payload:    raw,
			})
			continue
		}
		if err := validate.Struct(&item); err != nil {
			rejected = append(rejected, Rejection{
				RecordType: recordType,
				RecordID:   idOf(&item),
				Reason:     describe(err),
				Payload:    raw,
			})
			continue
		}
		valid = append(valid, item)
	}
	return valid, rejected
}

// describe flattens validator errors into "field: rule" reasons.
func describe(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	reasons := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		reasons = append(reasons, fmt.Sprintf("%s: failed %s", field, rule))
	}
	return strings.Join(reasons, "; ")
}

// probeID recovers an identifier from a payload that did not decode as a whole.
func probeID(raw json.RawMessage) string {
	var probe struct {
		ID      whoop.FlexID `json:"id"`
		CycleID whoop.FlexID `json:"cycle_id"`
	}
	if json.Unmarshal(raw, &probe) != nil {
		return ""
	}
	if probe.ID != "" {
		return string(probe.ID)
	}
	return string(probe.CycleID)
}
