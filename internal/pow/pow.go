// Package pow computes the argon2id proof of work behind the built-in
// captcha. It has no storage dependencies so the browser solver can share it.
package pow

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"forager/internal/crypto"

	"golang.org/x/crypto/argon2"
)

// Puzzle is the public part of a challenge.
type Puzzle struct {
	Salt    string `json:"salt"`
	Time    uint32 `json:"difficulty"`
	Memory  uint32 `json:"memory"`
	Threads uint8  `json:"threads"`
	KeyLen  uint32 `json:"keyLen"`
	Target  string `json:"target"`
}

// Hash returns the hex argon2id digest for nonce.
func (p Puzzle) Hash(nonce string) (string, error) {
	salt, err := crypto.DecodeBase64(p.Salt)
	if err != nil {
		return "", fmt.Errorf("failed to decode salt: %w", err)
	}
	if p.Threads == 0 || p.KeyLen == 0 {
		return "", fmt.Errorf("invalid puzzle parameters")
	}
	key := argon2.IDKey([]byte(p.Salt+nonce), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	return hex.EncodeToString(key), nil
}

// Check reports whether nonce meets the target prefix.
func (p Puzzle) Check(nonce string) (bool, error) {
	hash, err := p.Hash(nonce)
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(hash, p.Target), nil
}

// Solve searches nonces 0..maxAttempts-1 and returns the first that meets the
// target.
func (p Puzzle) Solve(maxAttempts int) (string, bool, error) {
	for i := 0; i < maxAttempts; i++ {
		nonce := strconv.Itoa(i)
		ok, err := p.Check(nonce)
		if err != nil {
			return "", false, err
		}
		if ok {
			return nonce, true, nil
		}
	}
	return "", false, nil
}

// ExpectedAttempts is the mean number of hashes needed for the target.
func (p Puzzle) ExpectedAttempts() int {
	return 1 << (len(p.Target) * 4)
}
