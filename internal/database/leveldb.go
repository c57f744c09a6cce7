package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var ErrShutdown = errors.New("store is shut down")

const (
	prefixHash      = "hash/"
	prefixClaim     = "claim/"
	prefixBlacklist = "blacklist/"
	prefixChallenge = "challenge/"
	keyStats        = "stats"
)

// LevelDB implements Store on an embedded leveldb. Every exported call holds
// the lock, so conditional updates are atomic within the process.
type LevelDB struct {
	sync.Mutex
	db       *leveldb.DB
	shutdown bool
}

// OpenLevelDB opens or creates the database directory at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	if path == "" {
		return nil, errors.New("leveldb path not provided")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

// NewMemLevelDB returns a store backed by memory, for tests and dry runs.
func NewMemLevelDB() (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Close() error {
	l.Lock()
	defer l.Unlock()
	if l.shutdown {
		return nil
	}
	l.shutdown = true
	return l.db.Close()
}

func claimKey(kind ClaimKind, key string) string {
	return prefixClaim + string(kind) + "/" + key
}

// get decodes the value at key into v. It returns ErrNotFound for a missing key.
func (l *LevelDB) get(key string, v any) error {
	b, err := l.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func (l *LevelDB) put(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return l.db.Put([]byte(key), b, nil)
}

func (l *LevelDB) lock() error {
	l.Lock()
	if l.shutdown {
		l.Unlock()
		return ErrShutdown
	}
	return nil
}

func (l *LevelDB) LookupHash(_ context.Context, hash string) (*HashRecord, error) {
	if err := l.lock(); err != nil {
		return nil, err
	}
	defer l.Unlock()

	var rec HashRecord
	if err := l.get(prefixHash+hash, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (l *LevelDB) InsertHash(_ context.Context, rec *HashRecord) (bool, error) {
	if err := l.lock(); err != nil {
		return false, err
	}
	defer l.Unlock()

	ok, err := l.db.Has([]byte(prefixHash+rec.Hash), nil)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	return true, l.put(prefixHash+rec.Hash, rec)
}

func (l *LevelDB) claim(kind ClaimKind, key string) (*ClaimRecord, error) {
	rec := &ClaimRecord{}
	err := l.get(claimKey(kind, key), rec)
	if errors.Is(err, ErrNotFound) {
		return &ClaimRecord{Kind: kind, Key: key}, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (l *LevelDB) GetClaimRecord(_ context.Context, kind ClaimKind, key string) (*ClaimRecord, error) {
	if err := l.lock(); err != nil {
		return nil, err
	}
	defer l.Unlock()

	rec := &ClaimRecord{}
	if err := l.get(claimKey(kind, key), rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (l *LevelDB) CheckCooldown(_ context.Context, kind ClaimKind, key string, now time.Time, cooldown time.Duration) (time.Time, bool, error) {
	if err := l.lock(); err != nil {
		return time.Time{}, false, err
	}
	defer l.Unlock()

	rec, err := l.claim(kind, key)
	if err != nil {
		return time.Time{}, false, err
	}
	until := rec.CooldownUntil(cooldown)
	return until, !now.Before(until), nil
}

func (l *LevelDB) Reserve(_ context.Context, kind ClaimKind, key, reservationID string, now time.Time, cooldown, lease time.Duration) (bool, error) {
	if err := l.lock(); err != nil {
		return false, err
	}
	defer l.Unlock()

	rec, err := l.claim(kind, key)
	if err != nil {
		return false, err
	}
	if rec.LastClaim != nil && now.Before(rec.LastClaim.Add(cooldown)) {
		return false, nil
	}
	if rec.ReservedUntil != nil && now.Before(*rec.ReservedUntil) {
		return false, nil
	}
	until := now.Add(lease)
	rec.ReservedUntil = &until
	rec.ReservationID = reservationID
	return true, l.put(claimKey(kind, key), rec)
}

func (l *LevelDB) Release(_ context.Context, kind ClaimKind, key, reservationID string) error {
	if err := l.lock(); err != nil {
		return err
	}
	defer l.Unlock()

	rec, err := l.claim(kind, key)
	if err != nil {
		return err
	}
	if rec.ReservationID != reservationID {
		return nil
	}
	rec.ReservedUntil = nil
	rec.ReservationID = ""
	return l.put(claimKey(kind, key), rec)
}

func (l *LevelDB) Hold(_ context.Context, kind ClaimKind, key, reservationID string, until time.Time) (bool, error) {
	if err := l.lock(); err != nil {
		return false, err
	}
	defer l.Unlock()

	rec, err := l.claim(kind, key)
	if err != nil {
		return false, err
	}
	if rec.ReservationID != reservationID {
		return false, nil
	}
	rec.ReservedUntil = &until
	return true, l.put(claimKey(kind, key), rec)
}

func (l *LevelDB) CommitClaim(_ context.Context, kind ClaimKind, key, reservationID string, amount decimal.Decimal, now time.Time) error {
	if err := l.lock(); err != nil {
		return err
	}
	defer l.Unlock()

	rec, err := l.claim(kind, key)
	if err != nil {
		return err
	}
	if rec.LastClaim == nil || now.After(*rec.LastClaim) {
		at := now
		rec.LastClaim = &at
	}
	rec.TotalSent = rec.TotalSent.Add(amount)
	rec.TotalClaims++
	if rec.ReservationID == reservationID {
		rec.ReservedUntil = nil
		rec.ReservationID = ""
	}
	return l.put(claimKey(kind, key), rec)
}

func (l *LevelDB) IncrementFail(_ context.Context, kind ClaimKind, key string) error {
	if err := l.lock(); err != nil {
		return err
	}
	defer l.Unlock()

	rec, err := l.claim(kind, key)
	if err != nil {
		return err
	}
	rec.FailCount++
	return l.put(claimKey(kind, key), rec)
}

func (l *LevelDB) stats() (*Stats, error) {
	stats := &Stats{}
	err := l.get(keyStats, stats)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return stats, nil
}

func (l *LevelDB) updateStats(fn func(*Stats)) error {
	if err := l.lock(); err != nil {
		return err
	}
	defer l.Unlock()

	stats, err := l.stats()
	if err != nil {
		return err
	}
	fn(stats)
	return l.put(keyStats, stats)
}

func (l *LevelDB) IncrementVisits(_ context.Context) error {
	return l.updateStats(func(s *Stats) { s.Visits++ })
}

func (l *LevelDB) IncrementDupes(_ context.Context) error {
	return l.updateStats(func(s *Stats) { s.TotalDupes++ })
}

func (l *LevelDB) AddDonations(_ context.Context, count int64) error {
	if count <= 0 {
		return nil
	}
	return l.updateStats(func(s *Stats) { s.TotalDonations += count })
}

func (l *LevelDB) RecordPayout(_ context.Context, amount decimal.Decimal, now time.Time) error {
	return l.updateStats(func(s *Stats) {
		s.TotalClaims++
		s.TotalSent = s.TotalSent.Add(amount)
		if s.LastClaim == nil || now.After(*s.LastClaim) {
			at := now
			s.LastClaim = &at
		}
	})
}

func (l *LevelDB) Stats(_ context.Context) (*Stats, error) {
	if err := l.lock(); err != nil {
		return nil, err
	}
	defer l.Unlock()
	return l.stats()
}

func (l *LevelDB) Report(_ context.Context) (*Report, error) {
	if err := l.lock(); err != nil {
		return nil, err
	}
	defer l.Unlock()

	stats, err := l.stats()
	if err != nil {
		return nil, err
	}
	report := &Report{Stats: *stats}

	iter := l.db.NewIterator(util.BytesPrefix([]byte(claimKey(KindAddress, ""))), nil)
	for iter.Next() {
		var rec ClaimRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			iter.Release()
			return nil, err
		}
		if rec.TotalClaims > 0 {
			report.DistinctAddresses++
		}
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, err
	}

	iter = l.db.NewIterator(util.BytesPrefix([]byte(prefixBlacklist)), nil)
	for iter.Next() {
		report.BannedAddresses++
	}
	iter.Release()
	return report, iter.Error()
}

func (l *LevelDB) IsBlacklisted(_ context.Context, addresses []string) (string, bool, error) {
	if err := l.lock(); err != nil {
		return "", false, err
	}
	defer l.Unlock()

	for _, address := range addresses {
		ok, err := l.db.Has([]byte(prefixBlacklist+address), nil)
		if err != nil {
			return "", false, err
		}
		if ok {
			return address, true, nil
		}
	}
	return "", false, nil
}

func (l *LevelDB) AddBlacklist(_ context.Context, address, reason string) error {
	if err := l.lock(); err != nil {
		return err
	}
	defer l.Unlock()

	entry := BlacklistEntry{Address: address, Reason: reason, CreatedAt: time.Now().UTC()}
	var existing BlacklistEntry
	if err := l.get(prefixBlacklist+address, &existing); err == nil {
		entry.CreatedAt = existing.CreatedAt
	}
	return l.put(prefixBlacklist+address, entry)
}

func (l *LevelDB) RemoveBlacklist(_ context.Context, address string) (bool, error) {
	if err := l.lock(); err != nil {
		return false, err
	}
	defer l.Unlock()

	key := []byte(prefixBlacklist + address)
	ok, err := l.db.Has(key, nil)
	if err != nil || !ok {
		return false, err
	}
	return true, l.db.Delete(key, nil)
}

func (l *LevelDB) ListBlacklist(_ context.Context) ([]BlacklistEntry, error) {
	if err := l.lock(); err != nil {
		return nil, err
	}
	defer l.Unlock()

	var entries []BlacklistEntry
	iter := l.db.NewIterator(util.BytesPrefix([]byte(prefixBlacklist)), nil)
	for iter.Next() {
		var e BlacklistEntry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			iter.Release()
			return nil, err
		}
		entries = append(entries, e)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

func (l *LevelDB) CreateChallenge(_ context.Context, challenge *Challenge) error {
	if err := l.lock(); err != nil {
		return err
	}
	defer l.Unlock()
	return l.put(prefixChallenge+challenge.ID, challenge)
}

func (l *LevelDB) GetChallenge(_ context.Context, id string) (*Challenge, error) {
	if err := l.lock(); err != nil {
		return nil, err
	}
	defer l.Unlock()

	challenge := &Challenge{}
	if err := l.get(prefixChallenge+id, challenge); err != nil {
		return nil, err
	}
	return challenge, nil
}

func (l *LevelDB) MarkChallengeSolved(_ context.Context, id string, now time.Time) (bool, error) {
	if err := l.lock(); err != nil {
		return false, err
	}
	defer l.Unlock()

	challenge := &Challenge{}
	err := l.get(prefixChallenge+id, challenge)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if challenge.Solved || !now.Before(challenge.ExpiresAt) {
		return false, nil
	}
	challenge.Solved = true
	challenge.SolvedAt = &now
	return true, l.put(prefixChallenge+id, challenge)
}

func (l *LevelDB) CleanupExpiredChallenges(_ context.Context, now time.Time) (int64, error) {
	if err := l.lock(); err != nil {
		return 0, err
	}
	defer l.Unlock()

	batch := new(leveldb.Batch)
	iter := l.db.NewIterator(util.BytesPrefix([]byte(prefixChallenge)), nil)
	for iter.Next() {
		var c Challenge
		if err := json.Unmarshal(iter.Value(), &c); err != nil {
			iter.Release()
			return 0, err
		}
		if c.ExpiresAt.Before(now) {
			batch.Delete(append([]byte(nil), iter.Key()...))
		}
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return 0, err
	}
	if batch.Len() == 0 {
		return 0, nil
	}
	return int64(batch.Len()), l.db.Write(batch, nil)
}
