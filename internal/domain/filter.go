package domain

// Criteria selects sessions for one tracking entry.
// Fee is only applied when non-nil.
type Criteria struct {
	Pincode  string
	AgeGroup int
	Dose     Dose
	Vaccine  Vaccine
	Fee      *FeeType
}

// CriteriaFor builds the per-entry criteria for a user, with the fee preference applied.
func CriteriaFor(u *User, t TrackingEntry) Criteria {
	fee := u.FeeType
	return Criteria{
		Pincode:  t.Pincode,
		AgeGroup: t.AgeGroup,
		Dose:     t.Dose,
		Vaccine:  u.Vaccine,
		Fee:      &fee,
	}
}

// Available keeps only sessions with remaining capacity and at least one slot.
// Centers left without sessions are dropped.
func Available(centers []Center) []Center {
	var out []Center
	for _, c := range centers {
		var sessions []Session
		for _, s := range c.Sessions {
			if s.AvailableCapacity > 0 && len(s.Slots) > 0 {
				sessions = append(sessions, s)
			}
		}
		if len(sessions) > 0 {
			out = append(out, c.withSessions(sessions))
		}
	}
	return out
}

// Match returns the centers matching c's pincode (and fee, when set), each carrying
// only the sessions that pass the dose/age/vaccine predicate. The result is unordered.
func Match(centers []Center, c Criteria) []Center {
	var out []Center
	for _, center := range centers {
		if center.Pincode != c.Pincode {
			continue
		}
		if c.Fee != nil && *c.Fee != FeeAny && string(*c.Fee) != center.FeeType {
			continue
		}
		var sessions []Session
		for _, s := range center.Sessions {
			if c.sessionMatches(s) {
				sessions = append(sessions, s)
			}
		}
		if len(sessions) > 0 {
			out = append(out, center.withSessions(sessions))
		}
	}
	return out
}

func (c Criteria) sessionMatches(s Session) bool {
	switch c.Dose {
	case DoseFirst:
		if s.Dose1Capacity <= 0 {
			return false
		}
	case DoseSecond:
		if s.Dose2Capacity <= 0 {
			return false
		}
	default:
		if s.AvailableCapacity <= 0 {
			return false
		}
	}
	// exact threshold, not "at least"
	if !s.AllowAllAge && s.MinAgeLimit != c.AgeGroup {
		return false
	}
	return c.Vaccine == "" || c.Vaccine == VaccineAny || string(c.Vaccine) == s.Vaccine
}

// MatchingEntries returns the user's tracking entries that intersect centers,
// with the vaccine preference applied and the fee preference not.
func MatchingEntries(u *User, centers []Center) []TrackingEntry {
	var out []TrackingEntry
	for _, t := range u.Tracking {
		c := Criteria{Pincode: t.Pincode, AgeGroup: t.AgeGroup, Dose: t.Dose, Vaccine: u.Vaccine}
		if len(Match(centers, c)) > 0 {
			out = append(out, t)
		}
	}
	return out
}
