package domain

import "time"

// User is a subscriber's tracking criteria, credentials and preferences.
type User struct {
	ChatID      int64
	Allowed     bool
	Mobile      string
	TxnID       string     // pending OTP login transaction
	LastOTPAt   *time.Time // UTC, nullable
	OTPCount    int        // OTP requests today
	Token       string     // session token, empty when logged out
	StateID     int        // 0 = not selected
	DistrictID  int        // 0 = not selected
	Vaccine     Vaccine
	FeeType     FeeType
	Centers     []int // preferred reservation centers, empty = any
	Tracking    []TrackingEntry
	AutoBook    bool
	ExpireCount int        // unacknowledged expiry reminders
	SnoozeUntil *time.Time // UTC, nullable
	SnoozedAt   *time.Time // UTC, nullable

	Beneficiaries []Beneficiary
	Preferred     *Beneficiary // preferred beneficiary for auto-reservation

	Walkthrough bool
	CreatedAt   time.Time // UTC
}

// Snoozed reports whether notifications are currently suppressed.
func (u *User) Snoozed(now time.Time) bool {
	return u.SnoozeUntil != nil && u.SnoozeUntil.After(now)
}

// SnoozeElapsed reports whether a snooze window was set and has run out.
func (u *User) SnoozeElapsed(now time.Time) bool {
	return u.SnoozeUntil != nil && !u.SnoozeUntil.After(now)
}

// HasDistrict reports whether a district was selected.
func (u *User) HasDistrict() bool {
	return u.DistrictID != 0
}

// HasPreferred reports whether a preferred beneficiary with a reference id is set.
func (u *User) HasPreferred() bool {
	return u.Preferred != nil && u.Preferred.ReferenceID != ""
}

// CanAutoBook checks the per-user preconditions of an auto-reservation attempt:
// flag on, live credential and a preferred beneficiary.
func (u *User) CanAutoBook(now time.Time) bool {
	return u.AutoBook && TokenValid(u.Token, now) && u.HasPreferred()
}

// HasEntry reports whether the user already tracks (pincode, age group).
func (u *User) HasEntry(pincode string, ageGroup int) bool {
	for _, t := range u.Tracking {
		if t.Pincode == pincode && t.AgeGroup == ageGroup {
			return true
		}
	}
	return false
}

// DistinctDistricts returns the districts with at least one subscriber,
// in first-seen order.
func DistinctDistricts(users []User) []int {
	seen := make(map[int]struct{}, len(users))
	var out []int
	for _, u := range users {
		if !u.HasDistrict() {
			continue
		}
		if _, ok := seen[u.DistrictID]; ok {
			continue
		}
		seen[u.DistrictID] = struct{}{}
		out = append(out, u.DistrictID)
	}
	return out
}
