package database

import (
	"time"

	"github.com/shopspring/decimal"
)

type ClaimKind string

const (
	KindAddress ClaimKind = "address"
	KindIP      ClaimKind = "ip"
)

type HashRecord struct {
	Hash           string    `db:"hash" json:"hash"`
	Original       bool      `db:"original" json:"original"`
	Classification *string   `db:"classification" json:"classification,omitempty"`
	Filename       *string   `db:"filename" json:"filename,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// ClaimRecord is the per-address or per-IP row of the eligibility ledger.
// LastClaim is only ever written by CommitClaim.
type ClaimRecord struct {
	Kind          ClaimKind       `db:"kind" json:"kind"`
	Key           string          `db:"key" json:"key"`
	LastClaim     *time.Time      `db:"last_claim" json:"lastClaim,omitempty"`
	TotalSent     decimal.Decimal `db:"total_sent" json:"totalSent"`
	TotalClaims   int64           `db:"total_claims" json:"totalClaims"`
	FailCount     int64           `db:"fail_count" json:"failCount"`
	ReservedUntil *time.Time      `db:"reserved_until" json:"reservedUntil,omitempty"`
	ReservationID string          `db:"reservation_id" json:"reservationId,omitempty"`
}

// CooldownUntil returns when the record becomes eligible again.
func (r *ClaimRecord) CooldownUntil(cooldown time.Duration) time.Time {
	if r == nil || r.LastClaim == nil {
		return time.Time{}
	}
	return r.LastClaim.Add(cooldown)
}

type Stats struct {
	Visits         int64           `db:"visits" json:"visits"`
	TotalClaims    int64           `db:"total_claims" json:"totalClaims"`
	TotalSent      decimal.Decimal `db:"total_sent" json:"totalSent"`
	TotalDupes     int64           `db:"total_dupes" json:"totalDupes"`
	TotalDonations int64           `db:"total_donations" json:"totalDonations"`
	LastClaim      *time.Time      `db:"last_claim" json:"lastClaim,omitempty"`
}

// Report is the read-only aggregate served to the stats page.
type Report struct {
	Stats
	DistinctAddresses int64 `json:"distinctAddresses"`
	BannedAddresses   int64 `json:"bannedAddresses"`
}

type BlacklistEntry struct {
	Address   string    `db:"address" json:"address"`
	Reason    string    `db:"reason" json:"reason,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type Challenge struct {
	ID         string     `db:"id" json:"id"`
	Salt       string     `db:"salt" json:"salt"`
	Difficulty uint32     `db:"difficulty" json:"difficulty"`
	Memory     uint32     `db:"memory" json:"memory"`
	Threads    uint8      `db:"threads" json:"threads"`
	KeyLen     uint32     `db:"key_len" json:"keyLen"`
	Target     string     `db:"target" json:"target"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expiresAt"`
	Solved     bool       `db:"solved" json:"solved"`
	SolvedAt   *time.Time `db:"solved_at" json:"solvedAt,omitempty"`
}
