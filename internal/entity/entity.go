// Package entity defines the closed set of entity kinds and the static
// repository configuration of each.
package entity

import (
	"errors"
	"fmt"

	"github.com/carecoord/carecoord/internal/store"
)

var (
	ErrUnknownKind = errors.New("unknown entity kind")
	// ErrInvalidField is returned by transforms that reject a payload.
	ErrInvalidField = errors.New("invalid field")
)

type Kind int

const (
	Patients Kind = iota
	Doctors
	Appointments
	Prescriptions
	Itineraries
)

// Kinds lists every kind in declaration order.
var Kinds = []Kind{Patients, Doctors, Appointments, Prescriptions, Itineraries}

// String returns the collection name of the kind.
func (k Kind) String() string {
	switch k {
	case Patients:
		return "patients"
	case Doctors:
		return "doctors"
	case Appointments:
		return "appointments"
	case Prescriptions:
		return "prescriptions"
	case Itineraries:
		return "itineraries"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func ParseKind(name string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// Transform adjusts a write payload before it is stamped and stored. actor
// is the identity performing the write.
type Transform func(actor string, in store.Fields) (store.Fields, error)

// Config is the static repository descriptor of a kind.
type Config struct {
	Kind             Kind
	Collection       string
	OwnershipField   string
	OwnershipIsArray bool
	// OwnerField names the single owner when ownership is an array of members.
	OwnerField    string
	SortField     string
	SortDirection store.Direction
	OnCreate      Transform
	OnUpdate      Transform
	// FilterFields are the fields a filtered query may use from outside.
	FilterFields []string
	// Parents are the reference fields naming a record of another kind.
	// Whoever reaches the parent reaches the record.
	Parents []Parent
}

// Parent is a reference from a record to a record of another kind.
type Parent struct {
	Field string
	Kind  Kind
}

// ParentKind returns the kind field refers to, if field is a parent reference.
func (c Config) ParentKind(field string) (Kind, bool) {
	for _, p := range c.Parents {
		if p.Field == field {
			return p.Kind, true
		}
	}
	return 0, false
}

// AllowsFilter reports whether field may be used in a filtered query.
func (c Config) AllowsFilter(field string) bool {
	for _, f := range c.FilterFields {
		if f == field {
			return true
		}
	}
	return false
}

// ConfigFor resolves the configuration of k.
func ConfigFor(k Kind) Config {
	switch k {
	case Patients:
		return Config{
			Kind:           k,
			Collection:     k.String(),
			OwnershipField: "created.by",
			SortField:      "created.on",
			SortDirection:  store.Descending,
			OnCreate:       patientTransform,
			OnUpdate:       patientTransform,
			FilterFields:   []string{"doctorId", "itineraryId"},
			Parents:        []Parent{{"doctorId", Doctors}, {"itineraryId", Itineraries}},
		}
	case Doctors:
		return Config{
			Kind:           k,
			Collection:     k.String(),
			OwnershipField: "userId",
			SortField:      "created.on",
			SortDirection:  store.Descending,
			OnCreate:       doctorCreate,
			FilterFields:   []string{"specialty", "itineraryId"},
			Parents:        []Parent{{"itineraryId", Itineraries}},
		}
	case Appointments:
		return Config{
			Kind:           k,
			Collection:     k.String(),
			OwnershipField: "created.by",
			SortField:      "date",
			SortDirection:  store.Ascending,
			OnCreate:       appointmentCreate,
			OnUpdate:       appointmentUpdate,
			FilterFields:   []string{"itineraryId", "patientId", "doctorId", "status"},
			Parents:        []Parent{{"itineraryId", Itineraries}, {"patientId", Patients}, {"doctorId", Doctors}},
		}
	case Prescriptions:
		return Config{
			Kind:           k,
			Collection:     k.String(),
			OwnershipField: "created.by",
			SortField:      "created.on",
			SortDirection:  store.Descending,
			OnCreate:       prescriptionCreate,
			OnUpdate:       prescriptionUpdate,
			FilterFields:   []string{"patientId", "doctorId", "itineraryId", "status"},
			Parents:        []Parent{{"patientId", Patients}, {"doctorId", Doctors}, {"itineraryId", Itineraries}},
		}
	case Itineraries:
		return Config{
			Kind:             k,
			Collection:       k.String(),
			OwnershipField:   "memberIds",
			OwnershipIsArray: true,
			OwnerField:       "ownerId",
			SortField:        "created.on",
			SortDirection:    store.Descending,
			OnCreate:         itineraryCreate,
			OnUpdate:         itineraryUpdate,
			FilterFields:     []string{"ownerId", "status"},
		}
	}
	panic(fmt.Sprintf("entity: no configuration for %v", k))
}
