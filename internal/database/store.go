package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"forager/internal/config"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("not found")

type HashStore interface {
	// LookupHash returns ErrNotFound when no image with hash was seen.
	LookupHash(ctx context.Context, hash string) (*HashRecord, error)
	// InsertHash stores rec unless the hash already exists. inserted is
	// false when another submission got there first.
	InsertHash(ctx context.Context, rec *HashRecord) (inserted bool, err error)
}

type ClaimLedger interface {
	GetClaimRecord(ctx context.Context, kind ClaimKind, key string) (*ClaimRecord, error)
	CheckCooldown(ctx context.Context, kind ClaimKind, key string, now time.Time, cooldown time.Duration) (until time.Time, eligible bool, err error)
	// Reserve takes a short lease on key. It succeeds only when key is off
	// cooldown and not reserved by another claim.
	Reserve(ctx context.Context, kind ClaimKind, key, reservationID string, now time.Time, cooldown, lease time.Duration) (bool, error)
	Release(ctx context.Context, kind ClaimKind, key, reservationID string) error
	// Hold moves the reservation expiry to until. It fails when the lease was
	// taken over by another claim.
	Hold(ctx context.Context, kind ClaimKind, key, reservationID string, until time.Time) (bool, error)
	// CommitClaim records a completed payout: LastClaim moves to now, the
	// totals grow and the reservation is cleared if still held.
	CommitClaim(ctx context.Context, kind ClaimKind, key, reservationID string, amount decimal.Decimal, now time.Time) error
	IncrementFail(ctx context.Context, kind ClaimKind, key string) error
}

type StatsStore interface {
	IncrementVisits(ctx context.Context) error
	IncrementDupes(ctx context.Context) error
	AddDonations(ctx context.Context, count int64) error
	RecordPayout(ctx context.Context, amount decimal.Decimal, now time.Time) error
	Stats(ctx context.Context) (*Stats, error)
	Report(ctx context.Context) (*Report, error)
}

type Blacklist interface {
	// IsBlacklisted reports the first of addresses found on the blacklist.
	IsBlacklisted(ctx context.Context, addresses []string) (string, bool, error)
	AddBlacklist(ctx context.Context, address, reason string) error
	RemoveBlacklist(ctx context.Context, address string) (bool, error)
	ListBlacklist(ctx context.Context) ([]BlacklistEntry, error)
}

type ChallengeStore interface {
	CreateChallenge(ctx context.Context, challenge *Challenge) error
	GetChallenge(ctx context.Context, id string) (*Challenge, error)
	// MarkChallengeSolved flips an unsolved, unexpired challenge to solved.
	// It returns false if the challenge was already used or has expired.
	MarkChallengeSolved(ctx context.Context, id string, now time.Time) (bool, error)
	CleanupExpiredChallenges(ctx context.Context, now time.Time) (int64, error)
}

type Store interface {
	HashStore
	ClaimLedger
	StatsStore
	Blacklist
	ChallengeStore
	Close() error
}

// Open connects the backend selected by cfg.DBBackend.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.DBBackend {
	case config.BackendPostgres:
		return NewDB(cfg)
	case config.BackendLevelDB:
		return OpenLevelDB(cfg.LevelDBPath)
	default:
		return nil, fmt.Errorf("unknown database backend %q", cfg.DBBackend)
	}
}
