package entity

import (
	"fmt"
	"time"

	"github.com/carecoord/carecoord/internal/store"
)

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04", "2006-01-02"}

var (
	appointmentStatuses  = []string{"scheduled", "completed", "cancelled"}
	prescriptionStatuses = []string{"active", "paused", "completed"}
	itineraryStatuses    = []string{"planned", "active", "completed", "cancelled"}
)

func copyFields(in store.Fields) store.Fields {
	out := make(store.Fields, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// coerceTime converts a date string into time.Time (UTC). An empty string
// removes the field.
func coerceTime(f store.Fields, field string) error {
	v, ok := f[field]
	if !ok || v == nil {
		return nil
	}
	switch x := v.(type) {
	case time.Time:
		f[field] = x.UTC()
		return nil
	case string:
		if x == "" {
			delete(f, field)
			return nil
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, x); err == nil {
				f[field] = t.UTC()
				return nil
			}
		}
		return fmt.Errorf("%w: %s: cannot parse %q as a date", ErrInvalidField, field, x)
	}
	return fmt.Errorf("%w: %s: expected a date, got %T", ErrInvalidField, field, v)
}

func coerceTimes(f store.Fields, fields ...string) error {
	for _, field := range fields {
		if err := coerceTime(f, field); err != nil {
			return err
		}
	}
	return nil
}

// checkStatus validates f["status"] against allowed. When def is not empty a
// missing status is set to def.
func checkStatus(f store.Fields, def string, allowed []string) error {
	v, ok := f["status"]
	if !ok || v == nil || v == "" {
		if def != "" {
			f["status"] = def
		}
		return nil
	}
	s, isString := v.(string)
	if isString {
		for _, a := range allowed {
			if s == a {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: status %v not one of %v", ErrInvalidField, v, allowed)
}

func stringList(v any, field string) ([]string, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return x, nil
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must hold strings", ErrInvalidField, field)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s must be a list", ErrInvalidField, field)
}

// withMember returns members with uid appended when absent, duplicates removed.
func withMember(members []string, uid string) []string {
	seen := make(map[string]bool, len(members)+1)
	out := make([]string, 0, len(members)+1)
	for _, m := range members {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	if uid != "" && !seen[uid] {
		out = append(out, uid)
	}
	return out
}

func patientTransform(_ string, in store.Fields) (store.Fields, error) {
	out := copyFields(in)
	return out, coerceTime(out, "dateOfBirth")
}

func doctorCreate(actor string, in store.Fields) (store.Fields, error) {
	out := copyFields(in)
	if v, _ := out["userId"].(string); v == "" {
		out["userId"] = actor
	}
	return out, nil
}

func appointmentCreate(_ string, in store.Fields) (store.Fields, error) {
	out := copyFields(in)
	if err := coerceTime(out, "date"); err != nil {
		return nil, err
	}
	return out, checkStatus(out, "scheduled", appointmentStatuses)
}

func appointmentUpdate(_ string, in store.Fields) (store.Fields, error) {
	out := copyFields(in)
	if err := coerceTime(out, "date"); err != nil {
		return nil, err
	}
	return out, checkStatus(out, "", appointmentStatuses)
}

func prescriptionCreate(_ string, in store.Fields) (store.Fields, error) {
	out := copyFields(in)
	if err := coerceTimes(out, "startDate", "endDate"); err != nil {
		return nil, err
	}
	if _, ok := out["intakes"]; !ok {
		out["intakes"] = []any{}
	}
	return out, checkStatus(out, "active", prescriptionStatuses)
}

func prescriptionUpdate(_ string, in store.Fields) (store.Fields, error) {
	out := copyFields(in)
	if err := coerceTimes(out, "startDate", "endDate"); err != nil {
		return nil, err
	}
	return out, checkStatus(out, "", prescriptionStatuses)
}

func itineraryCreate(actor string, in store.Fields) (store.Fields, error) {
	out := copyFields(in)
	owner, _ := out["ownerId"].(string)
	if owner == "" {
		owner = actor
		out["ownerId"] = owner
	}
	members, err := stringList(out["memberIds"], "memberIds")
	if err != nil {
		return nil, err
	}
	out["memberIds"] = withMember(members, owner)
	if err := coerceTimes(out, "startDate", "endDate"); err != nil {
		return nil, err
	}
	return out, checkStatus(out, "planned", itineraryStatuses)
}

func itineraryUpdate(_ string, in store.Fields) (store.Fields, error) {
	out := copyFields(in)
	if v, ok := out["memberIds"]; ok && v != nil {
		members, err := stringList(v, "memberIds")
		if err != nil {
			return nil, err
		}
		owner, _ := out["ownerId"].(string)
		out["memberIds"] = withMember(members, owner)
	}
	if err := coerceTimes(out, "startDate", "endDate"); err != nil {
		return nil, err
	}
	return out, checkStatus(out, "", itineraryStatuses)
}

// Intake builds one dosage-intake event for a prescription's intakes list.
// takenAt defaults to now.
func Intake(actor string, in store.Fields, now time.Time) (store.Fields, error) {
	out := copyFields(in)
	if err := coerceTime(out, "takenAt"); err != nil {
		return nil, err
	}
	if _, ok := out["takenAt"]; !ok {
		out["takenAt"] = now.UTC()
	}
	out["by"] = actor
	return out, nil
}
