package store

import (
	"context"
	"errors"
	"time"

	"github.com/csfx-py/vaccine-tracker/internal/domain"
)

// ErrNotFound is returned when a user does not exist.
var ErrNotFound = errors.New("user not found")

// Stats is an aggregate view for the operator.
type Stats struct {
	Users           int
	AllowedUsers    int
	TrackedPincodes int
	LoggedIn        int
	Districts       int
	AutoBook        int
	Appointments    int
}

// Repo defines storage operations for subscribers and their tracking entries.
type Repo interface {
	UpsertUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, chatID int64) (*domain.User, error)
	ListAllowed(ctx context.Context) ([]domain.User, error)
	DeleteUser(ctx context.Context, chatID int64) error

	SetAutoBook(ctx context.Context, chatID int64, on bool) error
	SetToken(ctx context.Context, chatID int64, token string) error
	LoginSucceeded(ctx context.Context, chatID int64, mobile, token string) error
	SetLoginTxn(ctx context.Context, chatID int64, mobile, txnID string, at time.Time) error
	SetExpireCount(ctx context.Context, chatID int64, n int) error
	ForceDisableAutoBook(ctx context.Context, chatID int64) error
	SetSnooze(ctx context.Context, chatID int64, until *time.Time, at *time.Time) error

	SetPreferences(ctx context.Context, chatID int64, vaccine domain.Vaccine, fee domain.FeeType) error
	SetDistrict(ctx context.Context, chatID int64, stateID, districtID int) error
	SetCenters(ctx context.Context, chatID int64, centers []int) error
	SetBeneficiaries(ctx context.Context, chatID int64, list []domain.Beneficiary) error
	SetPreferredBeneficiary(ctx context.Context, chatID int64, b *domain.Beneficiary) error
	SetWalkthrough(ctx context.Context, chatID int64, on bool) error

	AddTracking(ctx context.Context, chatID int64, t domain.TrackingEntry) error
	RemoveTracking(ctx context.Context, chatID int64, id string) error

	Stats(ctx context.Context) (Stats, error)
	Close() error
}
