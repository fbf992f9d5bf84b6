package domain

// Vaccine is a vaccine brand, or VaccineAny as a preference.
type Vaccine string

const (
	VaccineAny        Vaccine = "ANY"
	VaccineCovishield Vaccine = "COVISHIELD"
	VaccineCovaxin    Vaccine = "COVAXIN"
	VaccineSputnikV   Vaccine = "SPUTNIK V"
)

// Vaccines lists the selectable vaccine preferences.
func Vaccines() []Vaccine {
	return []Vaccine{VaccineAny, VaccineCovishield, VaccineCovaxin, VaccineSputnikV}
}

// FeeType is a center's fee type, or FeeAny as a preference.
type FeeType string

const (
	FeeAny  FeeType = "ANY"
	FeeFree FeeType = "Free"
	FeePaid FeeType = "Paid"
)

// FeeTypes lists the selectable fee preferences.
func FeeTypes() []FeeType {
	return []FeeType{FeeAny, FeeFree, FeePaid}
}

// Session is a bookable unit within a center listing.
type Session struct {
	ID                string
	Date              string // DD-MM-YYYY
	AvailableCapacity int
	Dose1Capacity     int
	Dose2Capacity     int
	MinAgeLimit       int
	AllowAllAge       bool
	Vaccine           string
	Slots             []string
}

// Center is one listing: a center and its current sessions.
type Center struct {
	ID       int
	Name     string
	Address  string
	Pincode  string
	FeeType  string
	Sessions []Session
}

// withSessions returns a shallow copy of c carrying only the given sessions.
func (c Center) withSessions(sessions []Session) Center {
	c.Sessions = sessions
	return c
}
