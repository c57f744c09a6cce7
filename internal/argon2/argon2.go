package argon2

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"forager/internal/config"
	"forager/internal/crypto"
	"forager/internal/database"
	"forager/internal/pow"
)

// Service issues argon2id proof-of-work challenges and redeems solutions.
// A solution token has the form "<challenge id>:<nonce>".
type Service struct {
	cfg   *config.Config
	store database.ChallengeStore
	now   func() time.Time
}

func NewService(cfg *config.Config, store database.ChallengeStore) *Service {
	return &Service{
		cfg:   cfg,
		store: store,
		now:   time.Now,
	}
}

func (s *Service) GenerateChallenge(ctx context.Context) (*database.Challenge, error) {
	salt, err := crypto.GenerateRandomBytes(s.cfg.Argon2SaltLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	challengeID, err := crypto.RandomHex(16)
	if err != nil {
		return nil, fmt.Errorf("failed to generate challenge ID: %w", err)
	}

	now := s.now().UTC()
	challenge := &database.Challenge{
		ID:         challengeID,
		Salt:       crypto.EncodeBase64(salt),
		Difficulty: s.cfg.Argon2Time,
		Memory:     s.cfg.Argon2Memory,
		Threads:    s.cfg.Argon2Threads,
		KeyLen:     s.cfg.Argon2KeyLength,
		Target:     s.cfg.Argon2TargetPrefix,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Duration(s.cfg.ChallengeExpiryMinutes) * time.Minute),
	}

	if err := s.store.CreateChallenge(ctx, challenge); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	return challenge, nil
}

// Redeem checks a solution token and spends its challenge. Malformed,
// unknown, expired, wrong or already spent solutions return false with a nil
// error; errors are reserved for store failures.
func (s *Service) Redeem(ctx context.Context, token string) (bool, error) {
	challengeID, nonce, ok := strings.Cut(strings.TrimSpace(token), ":")
	if !ok || challengeID == "" || nonce == "" {
		return false, nil
	}

	challenge, err := s.store.GetChallenge(ctx, challengeID)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get challenge: %w", err)
	}

	now := s.now().UTC()
	if challenge.Solved || !now.Before(challenge.ExpiresAt) {
		return false, nil
	}

	valid, err := CheckNonce(challenge, nonce)
	if err != nil || !valid {
		return false, err
	}

	spent, err := s.store.MarkChallengeSolved(ctx, challengeID, now)
	if err != nil {
		return false, fmt.Errorf("failed to mark challenge as solved: %w", err)
	}
	return spent, nil
}

// Cleanup drops challenges past their expiry.
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	return s.store.CleanupExpiredChallenges(ctx, s.now().UTC())
}

// PuzzleOf extracts the public proof-of-work parameters of a challenge.
func PuzzleOf(c *database.Challenge) pow.Puzzle {
	return pow.Puzzle{
		Salt:    c.Salt,
		Time:    c.Difficulty,
		Memory:  c.Memory,
		Threads: c.Threads,
		KeyLen:  c.KeyLen,
		Target:  c.Target,
	}
}

// CheckNonce recomputes the argon2id hash for nonce and tests it against the
// challenge target prefix.
func CheckNonce(challenge *database.Challenge, nonce string) (bool, error) {
	return PuzzleOf(challenge).Check(nonce)
}

func (s *Service) EstimateSolveTime() time.Duration {
	estimatedAttempts := pow.Puzzle{Target: s.cfg.Argon2TargetPrefix}.ExpectedAttempts()

	hashesPerSecond := 100
	estimatedSeconds := estimatedAttempts / hashesPerSecond

	maxSeconds := s.cfg.Argon2MaxSolveTime
	if estimatedSeconds > maxSeconds {
		estimatedSeconds = maxSeconds
	}

	return time.Duration(estimatedSeconds) * time.Second
}
