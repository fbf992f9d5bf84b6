package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Registers the "sqlite" driver (pure Go).
	_ "modernc.org/sqlite"

	"github.com/csfx-py/vaccine-tracker/internal/domain"
)

// SQLiteRepo implements Repo using an embedded SQLite database.
type SQLiteRepo struct{ db *sql.DB }

// OpenSQLite opens (or creates) the SQLite database at the given path,
// applies recommended PRAGMAs, runs SQL migrations, and returns a repository.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Single writer; also keeps PRAGMA foreign_keys on the one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &SQLiteRepo{db: db}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database resources.
func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

const userColumns = `chat_id, allowed, mobile, txn_id, last_otp_at, otp_count, token,
	state_id, district_id, vaccine, fee_type, centers, autobook, expire_count,
	snooze_until, snoozed_at, beneficiaries, preferred, walkthrough, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u             domain.User
		allowed       int
		lastOTP       sql.NullInt64
		token         sql.NullString
		vaccine, fee  string
		centers       string
		autobook      int
		snoozeUntil   sql.NullInt64
		snoozedAt     sql.NullInt64
		beneficiaries string
		preferred     sql.NullString
		walkthrough   int
		createdAt     int64
	)
	if err := row.Scan(
		&u.ChatID, &allowed, &u.Mobile, &u.TxnID, &lastOTP, &u.OTPCount, &token,
		&u.StateID, &u.DistrictID, &vaccine, &fee, &centers, &autobook, &u.ExpireCount,
		&snoozeUntil, &snoozedAt, &beneficiaries, &preferred, &walkthrough, &createdAt,
	); err != nil {
		return nil, err
	}
	u.Allowed = allowed != 0
	u.LastOTPAt = fromNullInt64(lastOTP)
	u.Token = token.String
	u.Vaccine = domain.Vaccine(vaccine)
	u.FeeType = domain.FeeType(fee)
	u.AutoBook = autobook != 0
	u.SnoozeUntil = fromNullInt64(snoozeUntil)
	u.SnoozedAt = fromNullInt64(snoozedAt)
	u.Walkthrough = walkthrough != 0
	u.CreatedAt = time.Unix(createdAt, 0).UTC()

	if err := json.Unmarshal([]byte(centers), &u.Centers); err != nil {
		return nil, fmt.Errorf("decode centers: %w", err)
	}
	if err := json.Unmarshal([]byte(beneficiaries), &u.Beneficiaries); err != nil {
		return nil, fmt.Errorf("decode beneficiaries: %w", err)
	}
	if preferred.Valid && preferred.String != "" {
		var b domain.Beneficiary
		if err := json.Unmarshal([]byte(preferred.String), &b); err != nil {
			return nil, fmt.Errorf("decode preferred: %w", err)
		}
		u.Preferred = &b
	}
	return &u, nil
}

// UpsertUser inserts or updates a user's scalar fields. Tracking entries are
// managed by AddTracking/RemoveTracking.
func (r *SQLiteRepo) UpsertUser(ctx context.Context, u *domain.User) error {
	if u == nil {
		return errors.New("nil user")
	}
	centers, err := toJSON(u.Centers)
	if err != nil {
		return err
	}
	beneficiaries, err := toJSON(u.Beneficiaries)
	if err != nil {
		return err
	}
	var preferred sql.NullString
	if u.Preferred != nil {
		b, err := json.Marshal(u.Preferred)
		if err != nil {
			return err
		}
		preferred = sql.NullString{String: string(b), Valid: true}
	}
	created := u.CreatedAt.UTC().Unix()
	if u.CreatedAt.IsZero() {
		created = time.Now().UTC().Unix()
	}
	vaccine, fee := u.Vaccine, u.FeeType
	if vaccine == "" {
		vaccine = domain.VaccineAny
	}
	if fee == "" {
		fee = domain.FeeAny
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			allowed       = excluded.allowed,
			mobile        = excluded.mobile,
			txn_id        = excluded.txn_id,
			last_otp_at   = excluded.last_otp_at,
			otp_count     = excluded.otp_count,
			token         = excluded.token,
			state_id      = excluded.state_id,
			district_id   = excluded.district_id,
			vaccine       = excluded.vaccine,
			fee_type      = excluded.fee_type,
			centers       = excluded.centers,
			autobook      = excluded.autobook,
			expire_count  = excluded.expire_count,
			snooze_until  = excluded.snooze_until,
			snoozed_at    = excluded.snoozed_at,
			beneficiaries = excluded.beneficiaries,
			preferred     = excluded.preferred,
			walkthrough   = excluded.walkthrough`,
		u.ChatID, boolToInt(u.Allowed), u.Mobile, u.TxnID, toNullInt64(u.LastOTPAt), u.OTPCount,
		toNullString(u.Token), u.StateID, u.DistrictID, string(vaccine), string(fee), centers,
		boolToInt(u.AutoBook), u.ExpireCount, toNullInt64(u.SnoozeUntil), toNullInt64(u.SnoozedAt),
		beneficiaries, preferred, boolToInt(u.Walkthrough), created,
	)
	return err
}

// GetUser returns a user with its tracking entries, or ErrNotFound.
func (r *SQLiteRepo) GetUser(ctx context.Context, chatID int64) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE chat_id = ?`, chatID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	tracking, err := r.listTracking(ctx, `WHERE chat_id = ?`, chatID)
	if err != nil {
		return nil, err
	}
	u.Tracking = tracking[chatID]
	return u, nil
}

// ListAllowed returns every allowed user with tracking entries, ordered by chat id.
func (r *SQLiteRepo) ListAllowed(ctx context.Context) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE allowed = 1 ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tracking, err := r.listTracking(ctx,
		`WHERE chat_id IN (SELECT chat_id FROM users WHERE allowed = 1)`)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Tracking = tracking[res[i].ChatID]
	}
	return res, nil
}

func (r *SQLiteRepo) listTracking(ctx context.Context, where string, args ...any) (map[int64][]domain.TrackingEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, chat_id, pincode, age_group, dose, created_at
		FROM tracking `+where+`
		ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]domain.TrackingEntry)
	for rows.Next() {
		var (
			t       domain.TrackingEntry
			chatID  int64
			dose    int
			created int64
		)
		if err := rows.Scan(&t.ID, &chatID, &t.Pincode, &t.AgeGroup, &dose, &created); err != nil {
			return nil, err
		}
		t.Dose = domain.Dose(dose)
		t.CreatedAt = time.Unix(created, 0).UTC()
		out[chatID] = append(out[chatID], t)
	}
	return out, rows.Err()
}

// DeleteUser removes a user; tracking entries cascade.
func (r *SQLiteRepo) DeleteUser(ctx context.Context, chatID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE chat_id = ?`, chatID)
	return err
}

func (r *SQLiteRepo) exec(ctx context.Context, query string, args ...any) error {
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

// SetAutoBook toggles the auto-reservation flag.
func (r *SQLiteRepo) SetAutoBook(ctx context.Context, chatID int64, on bool) error {
	return r.exec(ctx, `UPDATE users SET autobook = ? WHERE chat_id = ?`, boolToInt(on), chatID)
}

// SetToken stores a session token; an empty token clears it.
func (r *SQLiteRepo) SetToken(ctx context.Context, chatID int64, token string) error {
	return r.exec(ctx, `UPDATE users SET token = ? WHERE chat_id = ?`, toNullString(token), chatID)
}

// LoginSucceeded stores the new token and resets the expiry reminder counter.
func (r *SQLiteRepo) LoginSucceeded(ctx context.Context, chatID int64, mobile, token string) error {
	return r.exec(ctx, `
		UPDATE users
		SET token = ?, mobile = ?, txn_id = '', expire_count = 0
		WHERE chat_id = ?`,
		toNullString(token), mobile, chatID)
}

// SetLoginTxn records a pending OTP transaction and bumps the daily OTP count.
// The count restarts at 1 on the first request of a new UTC day.
func (r *SQLiteRepo) SetLoginTxn(ctx context.Context, chatID int64, mobile, txnID string, at time.Time) error {
	ts := at.UTC().Unix()
	return r.exec(ctx, `
		UPDATE users
		SET otp_count = CASE
				WHEN last_otp_at IS NOT NULL AND date(last_otp_at, 'unixepoch') = date(?, 'unixepoch')
				THEN otp_count + 1 ELSE 1 END,
			mobile = ?, txn_id = ?, last_otp_at = ?
		WHERE chat_id = ?`,
		ts, mobile, txnID, ts, chatID)
}

// SetExpireCount stores the expiry reminder counter.
func (r *SQLiteRepo) SetExpireCount(ctx context.Context, chatID int64, n int) error {
	return r.exec(ctx, `UPDATE users SET expire_count = ? WHERE chat_id = ?`, n, chatID)
}

// ForceDisableAutoBook turns auto-reservation off and resets the reminder counter in one write.
func (r *SQLiteRepo) ForceDisableAutoBook(ctx context.Context, chatID int64) error {
	return r.exec(ctx, `UPDATE users SET autobook = 0, expire_count = 0 WHERE chat_id = ?`, chatID)
}

// SetSnooze sets or clears (nil) the snooze window.
func (r *SQLiteRepo) SetSnooze(ctx context.Context, chatID int64, until *time.Time, at *time.Time) error {
	return r.exec(ctx, `UPDATE users SET snooze_until = ?, snoozed_at = ? WHERE chat_id = ?`,
		toNullInt64(until), toNullInt64(at), chatID)
}

// SetPreferences stores the vaccine and fee-type filters.
func (r *SQLiteRepo) SetPreferences(ctx context.Context, chatID int64, vaccine domain.Vaccine, fee domain.FeeType) error {
	return r.exec(ctx, `UPDATE users SET vaccine = ?, fee_type = ? WHERE chat_id = ?`,
		string(vaccine), string(fee), chatID)
}

// SetDistrict stores the district selection and clears preferred centers.
func (r *SQLiteRepo) SetDistrict(ctx context.Context, chatID int64, stateID, districtID int) error {
	return r.exec(ctx, `UPDATE users SET state_id = ?, district_id = ?, centers = '[]' WHERE chat_id = ?`,
		stateID, districtID, chatID)
}

// SetCenters stores the preferred reservation centers.
func (r *SQLiteRepo) SetCenters(ctx context.Context, chatID int64, centers []int) error {
	s, err := toJSON(centers)
	if err != nil {
		return err
	}
	return r.exec(ctx, `UPDATE users SET centers = ? WHERE chat_id = ?`, s, chatID)
}

// SetBeneficiaries stores the beneficiary snapshot.
func (r *SQLiteRepo) SetBeneficiaries(ctx context.Context, chatID int64, list []domain.Beneficiary) error {
	s, err := toJSON(list)
	if err != nil {
		return err
	}
	return r.exec(ctx, `UPDATE users SET beneficiaries = ? WHERE chat_id = ?`, s, chatID)
}

// SetPreferredBeneficiary stores or clears (nil) the preferred beneficiary.
func (r *SQLiteRepo) SetPreferredBeneficiary(ctx context.Context, chatID int64, b *domain.Beneficiary) error {
	var v sql.NullString
	if b != nil {
		raw, err := json.Marshal(b)
		if err != nil {
			return err
		}
		v = sql.NullString{String: string(raw), Valid: true}
	}
	return r.exec(ctx, `UPDATE users SET preferred = ? WHERE chat_id = ?`, v, chatID)
}

// SetWalkthrough toggles the first-run walkthrough.
func (r *SQLiteRepo) SetWalkthrough(ctx context.Context, chatID int64, on bool) error {
	return r.exec(ctx, `UPDATE users SET walkthrough = ? WHERE chat_id = ?`, boolToInt(on), chatID)
}

// AddTracking appends a tracking entry for an existing user.
func (r *SQLiteRepo) AddTracking(ctx context.Context, chatID int64, t domain.TrackingEntry) error {
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return r.exec(ctx, `
		INSERT INTO tracking (id, chat_id, pincode, age_group, dose, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, chatID, t.Pincode, t.AgeGroup, int(t.Dose), created.UTC().Unix())
}

// RemoveTracking deletes one tracking entry of a user.
func (r *SQLiteRepo) RemoveTracking(ctx context.Context, chatID int64, id string) error {
	return r.exec(ctx, `DELETE FROM tracking WHERE chat_id = ? AND id = ?`, chatID, id)
}

// Stats aggregates counters for the operator's /botstat.
func (r *SQLiteRepo) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(allowed), 0),
			COALESCE(SUM(CASE WHEN allowed = 1 AND token IS NOT NULL THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT CASE WHEN allowed = 1 AND district_id != 0 THEN district_id END),
			COALESCE(SUM(CASE WHEN allowed = 1 AND autobook = 1 THEN 1 ELSE 0 END), 0)
		FROM users`).Scan(&s.Users, &s.AllowedUsers, &s.LoggedIn, &s.Districts, &s.AutoBook)
	if err != nil {
		return s, err
	}
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tracking t JOIN users u ON u.chat_id = t.chat_id
		WHERE u.allowed = 1`).Scan(&s.TrackedPincodes); err != nil {
		return s, err
	}

	rows, err := r.db.QueryContext(ctx, `SELECT beneficiaries FROM users`)
	if err != nil {
		return s, err
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return s, err
		}
		var list []domain.Beneficiary
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			continue
		}
		for _, b := range list {
			s.Appointments += len(b.Appointments)
		}
	}
	return s, rows.Err()
}
