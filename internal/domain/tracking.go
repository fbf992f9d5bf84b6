package domain

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Dose selects which dose capacity a tracking entry watches.
type Dose int

const (
	DoseAny    Dose = 0
	DoseFirst  Dose = 1
	DoseSecond Dose = 2
)

func (d Dose) String() string {
	if d == DoseAny {
		return "Any Dose"
	}
	return fmt.Sprintf("Dose %d", int(d))
}

// Age groups offered by the provider.
const (
	AgeGroup18 = 18
	AgeGroup45 = 45
)

// TrackingEntry is a subscription to a (pincode, age group, dose) combination.
type TrackingEntry struct {
	ID        string    `validate:"required,uuid4"`
	Pincode   string    `validate:"required,len=6,numeric"`
	AgeGroup  int       `validate:"oneof=18 45"`
	Dose      Dose      `validate:"min=0,max=2"`
	CreatedAt time.Time // UTC
}

var validate = validator.New()

// NewTrackingEntry builds a validated entry with a fresh id.
func NewTrackingEntry(pincode string, ageGroup int, dose Dose) (TrackingEntry, error) {
	t := TrackingEntry{
		ID:        uuid.NewString(),
		Pincode:   pincode,
		AgeGroup:  ageGroup,
		Dose:      dose,
		CreatedAt: time.Now().UTC(),
	}
	if err := validate.Struct(t); err != nil {
		return TrackingEntry{}, fmt.Errorf("invalid tracking entry: %w", err)
	}
	return t, nil
}
