package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"forager/internal/config"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const (
	queryLookupHash = `SELECT hash, original, classification, filename, created_at FROM hashes WHERE hash = $1`
	queryInsertHash = `INSERT INTO hashes (hash, original, classification, filename, created_at)
			  VALUES ($1, $2, $3, $4, $5) ON CONFLICT (hash) DO NOTHING`

	queryGetClaim = `SELECT kind, key, last_claim, total_sent, total_claims, fail_count, reserved_until, reservation_id
			  FROM claims WHERE kind = $1 AND key = $2`
	queryReserve = `INSERT INTO claims (kind, key, reserved_until, reservation_id)
			  VALUES ($1, $2, $3, $4)
			  ON CONFLICT (kind, key) DO UPDATE
			  SET reserved_until = EXCLUDED.reserved_until, reservation_id = EXCLUDED.reservation_id
			  WHERE (claims.last_claim IS NULL OR claims.last_claim <= $5)
			  AND (claims.reserved_until IS NULL OR claims.reserved_until <= $6)`
	queryRelease = `UPDATE claims SET reserved_until = NULL, reservation_id = ''
			  WHERE kind = $1 AND key = $2 AND reservation_id = $3`
	queryHold = `UPDATE claims SET reserved_until = $4
			  WHERE kind = $1 AND key = $2 AND reservation_id = $3`
	queryCommitClaim = `INSERT INTO claims (kind, key, last_claim, total_sent, total_claims)
			  VALUES ($1, $2, $3, $4, 1)
			  ON CONFLICT (kind, key) DO UPDATE SET
			  last_claim = GREATEST(COALESCE(claims.last_claim, EXCLUDED.last_claim), EXCLUDED.last_claim),
			  total_sent = claims.total_sent + EXCLUDED.total_sent,
			  total_claims = claims.total_claims + 1,
			  reserved_until = CASE WHEN claims.reservation_id = $5 THEN NULL ELSE claims.reserved_until END,
			  reservation_id = CASE WHEN claims.reservation_id = $5 THEN '' ELSE claims.reservation_id END`
	queryIncrementFail = `INSERT INTO claims (kind, key, fail_count) VALUES ($1, $2, 1)
			  ON CONFLICT (kind, key) DO UPDATE SET fail_count = claims.fail_count + 1`

	queryIncrementVisits = `UPDATE stats SET visits = visits + 1 WHERE id = 1`
	queryIncrementDupes  = `UPDATE stats SET total_dupes = total_dupes + 1 WHERE id = 1`
	queryAddDonations    = `UPDATE stats SET total_donations = total_donations + $1 WHERE id = 1`
	queryRecordPayout    = `UPDATE stats SET total_claims = total_claims + 1, total_sent = total_sent + $1,
			  last_claim = GREATEST(COALESCE(last_claim, $2), $2) WHERE id = 1`
	queryStats = `SELECT visits, total_claims, total_sent, total_dupes, total_donations, last_claim
			  FROM stats WHERE id = 1`
	queryDistinctAddresses = `SELECT COUNT(*) FROM claims WHERE kind = 'address' AND total_claims > 0`
	queryBannedCount       = `SELECT COUNT(*) FROM blacklist`

	queryIsBlacklisted = `SELECT address FROM blacklist WHERE address = ANY($1)
			  ORDER BY array_position($1, address) LIMIT 1`
	queryAddBlacklist  = `INSERT INTO blacklist (address, reason, created_at) VALUES ($1, $2, $3)
			  ON CONFLICT (address) DO UPDATE SET reason = EXCLUDED.reason`
	queryRemoveBlacklist = `DELETE FROM blacklist WHERE address = $1`
	queryListBlacklist   = `SELECT address, reason, created_at FROM blacklist ORDER BY created_at, address`

	queryCreateChallenge = `INSERT INTO challenges (id, salt, difficulty, memory, threads, key_len, target, created_at, expires_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	queryGetChallenge = `SELECT id, salt, difficulty, memory, threads, key_len, target, created_at, expires_at, solved, solved_at
			  FROM challenges WHERE id = $1`
	queryMarkSolved = `UPDATE challenges SET solved = true, solved_at = $2
			  WHERE id = $1 AND solved = false AND expires_at > $2`
	queryCleanupChallenges = `DELETE FROM challenges WHERE expires_at < $1`
)

// DB is the Postgres implementation of Store.
type DB struct {
	conn *sql.DB
}

func NewDB(cfg *config.Config) (*DB, error) {
	conn, err := sql.Open("postgres", cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS hashes (
			hash VARCHAR(16) PRIMARY KEY,
			original BOOLEAN NOT NULL DEFAULT TRUE,
			classification TEXT,
			filename TEXT,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS claims (
			kind VARCHAR(16) NOT NULL,
			key VARCHAR(128) NOT NULL,
			last_claim TIMESTAMP WITH TIME ZONE,
			total_sent NUMERIC(60, 29) NOT NULL DEFAULT 0,
			total_claims BIGINT NOT NULL DEFAULT 0,
			fail_count BIGINT NOT NULL DEFAULT 0,
			reserved_until TIMESTAMP WITH TIME ZONE,
			reservation_id VARCHAR(64) NOT NULL DEFAULT '',
			PRIMARY KEY (kind, key)
		)`,
		`CREATE TABLE IF NOT EXISTS stats (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			visits BIGINT NOT NULL DEFAULT 0,
			total_claims BIGINT NOT NULL DEFAULT 0,
			total_sent NUMERIC(60, 29) NOT NULL DEFAULT 0,
			total_dupes BIGINT NOT NULL DEFAULT 0,
			total_donations BIGINT NOT NULL DEFAULT 0,
			last_claim TIMESTAMP WITH TIME ZONE
		)`,
		`INSERT INTO stats (id) VALUES (1) ON CONFLICT (id) DO NOTHING`,
		`CREATE TABLE IF NOT EXISTS blacklist (
			address VARCHAR(128) PRIMARY KEY,
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS challenges (
			id VARCHAR(255) PRIMARY KEY,
			salt VARCHAR(255) NOT NULL,
			difficulty INTEGER NOT NULL,
			memory INTEGER NOT NULL,
			threads INTEGER NOT NULL,
			key_len INTEGER NOT NULL,
			target VARCHAR(255) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
			solved BOOLEAN NOT NULL DEFAULT FALSE,
			solved_at TIMESTAMP WITH TIME ZONE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_total_claims ON claims(kind, total_claims)`,
		`CREATE INDEX IF NOT EXISTS idx_challenges_expires_at ON challenges(expires_at)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %s, error: %w", query, err)
		}
	}

	return nil
}

func (db *DB) LookupHash(ctx context.Context, hash string) (*HashRecord, error) {
	rec := &HashRecord{}
	err := db.conn.QueryRowContext(ctx, queryLookupHash, hash).Scan(
		&rec.Hash, &rec.Original, &rec.Classification, &rec.Filename, &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (db *DB) InsertHash(ctx context.Context, rec *HashRecord) (bool, error) {
	res, err := db.conn.ExecContext(ctx, queryInsertHash,
		rec.Hash, rec.Original, rec.Classification, rec.Filename, rec.CreatedAt)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (db *DB) GetClaimRecord(ctx context.Context, kind ClaimKind, key string) (*ClaimRecord, error) {
	rec := &ClaimRecord{}
	err := db.conn.QueryRowContext(ctx, queryGetClaim, kind, key).Scan(
		&rec.Kind, &rec.Key, &rec.LastClaim, &rec.TotalSent, &rec.TotalClaims,
		&rec.FailCount, &rec.ReservedUntil, &rec.ReservationID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (db *DB) CheckCooldown(ctx context.Context, kind ClaimKind, key string, now time.Time, cooldown time.Duration) (time.Time, bool, error) {
	rec, err := db.GetClaimRecord(ctx, kind, key)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, true, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	until := rec.CooldownUntil(cooldown)
	return until, !now.Before(until), nil
}

func (db *DB) Reserve(ctx context.Context, kind ClaimKind, key, reservationID string, now time.Time, cooldown, lease time.Duration) (bool, error) {
	res, err := db.conn.ExecContext(ctx, queryReserve,
		kind, key, now.Add(lease), reservationID, now.Add(-cooldown), now)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (db *DB) Release(ctx context.Context, kind ClaimKind, key, reservationID string) error {
	_, err := db.conn.ExecContext(ctx, queryRelease, kind, key, reservationID)
	return err
}

func (db *DB) Hold(ctx context.Context, kind ClaimKind, key, reservationID string, until time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx, queryHold, kind, key, reservationID, until)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (db *DB) CommitClaim(ctx context.Context, kind ClaimKind, key, reservationID string, amount decimal.Decimal, now time.Time) error {
	_, err := db.conn.ExecContext(ctx, queryCommitClaim, kind, key, now, amount, reservationID)
	return err
}

func (db *DB) IncrementFail(ctx context.Context, kind ClaimKind, key string) error {
	_, err := db.conn.ExecContext(ctx, queryIncrementFail, kind, key)
	return err
}

func (db *DB) IncrementVisits(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, queryIncrementVisits)
	return err
}

func (db *DB) IncrementDupes(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, queryIncrementDupes)
	return err
}

func (db *DB) AddDonations(ctx context.Context, count int64) error {
	if count <= 0 {
		return nil
	}
	_, err := db.conn.ExecContext(ctx, queryAddDonations, count)
	return err
}

func (db *DB) RecordPayout(ctx context.Context, amount decimal.Decimal, now time.Time) error {
	_, err := db.conn.ExecContext(ctx, queryRecordPayout, amount, now)
	return err
}

func (db *DB) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := db.conn.QueryRowContext(ctx, queryStats).Scan(
		&stats.Visits, &stats.TotalClaims, &stats.TotalSent, &stats.TotalDupes,
		&stats.TotalDonations, &stats.LastClaim,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &Stats{}, nil
	}
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (db *DB) Report(ctx context.Context) (*Report, error) {
	stats, err := db.Stats(ctx)
	if err != nil {
		return nil, err
	}
	report := &Report{Stats: *stats}
	if err := db.conn.QueryRowContext(ctx, queryDistinctAddresses).Scan(&report.DistinctAddresses); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRowContext(ctx, queryBannedCount).Scan(&report.BannedAddresses); err != nil {
		return nil, err
	}
	return report, nil
}

func (db *DB) IsBlacklisted(ctx context.Context, addresses []string) (string, bool, error) {
	if len(addresses) == 0 {
		return "", false, nil
	}
	var match string
	err := db.conn.QueryRowContext(ctx, queryIsBlacklisted, pq.Array(addresses)).Scan(&match)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return match, true, nil
}

func (db *DB) AddBlacklist(ctx context.Context, address, reason string) error {
	_, err := db.conn.ExecContext(ctx, queryAddBlacklist, address, reason, time.Now().UTC())
	return err
}

func (db *DB) RemoveBlacklist(ctx context.Context, address string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, queryRemoveBlacklist, address)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (db *DB) ListBlacklist(ctx context.Context) ([]BlacklistEntry, error) {
	rows, err := db.conn.QueryContext(ctx, queryListBlacklist)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []BlacklistEntry
	for rows.Next() {
		var e BlacklistEntry
		if err := rows.Scan(&e.Address, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (db *DB) CreateChallenge(ctx context.Context, challenge *Challenge) error {
	_, err := db.conn.ExecContext(ctx, queryCreateChallenge, challenge.ID, challenge.Salt, challenge.Difficulty,
		challenge.Memory, challenge.Threads, challenge.KeyLen, challenge.Target,
		challenge.CreatedAt, challenge.ExpiresAt)
	return err
}

func (db *DB) GetChallenge(ctx context.Context, id string) (*Challenge, error) {
	challenge := &Challenge{}
	err := db.conn.QueryRowContext(ctx, queryGetChallenge, id).Scan(
		&challenge.ID, &challenge.Salt, &challenge.Difficulty, &challenge.Memory,
		&challenge.Threads, &challenge.KeyLen, &challenge.Target, &challenge.CreatedAt,
		&challenge.ExpiresAt, &challenge.Solved, &challenge.SolvedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return challenge, nil
}

func (db *DB) MarkChallengeSolved(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx, queryMarkSolved, id, now)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (db *DB) CleanupExpiredChallenges(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, queryCleanupChallenges, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
