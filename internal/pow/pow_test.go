package pow

import (
	"testing"

	"forager/internal/crypto"

	"github.com/stretchr/testify/require"
)

func testPuzzle(target string) Puzzle {
	return Puzzle{
		Salt:    crypto.EncodeBase64([]byte("saltsalt")),
		Time:    1,
		Memory:  64,
		Threads: 1,
		KeyLen:  16,
		Target:  target,
	}
}

func TestHashIsDeterministic(t *testing.T) {
	p := testPuzzle("0")
	a, err := p.Hash("7")
	require.NoError(t, err)
	b, err := p.Hash("7")
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, a, 32)

	c, err := p.Hash("8")
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestSolveFindsValidNonce(t *testing.T) {
	p := testPuzzle("0")
	nonce, ok, err := p.Solve(4096)
	require.NoError(t, err)
	require.True(t, ok)

	valid, err := p.Check(nonce)
	require.NoError(t, err)
	require.True(t, valid)
}

func TestEmptyTargetAlwaysMatches(t *testing.T) {
	nonce, ok, err := testPuzzle("").Solve(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "0", nonce)
}

func TestBadSalt(t *testing.T) {
	p := testPuzzle("0")
	p.Salt = "%%%"
	_, err := p.Check("1")
	require.Error(t, err)
}

func TestExpectedAttempts(t *testing.T) {
	require.Equal(t, 1, testPuzzle("").ExpectedAttempts())
	require.Equal(t, 256, testPuzzle("00").ExpectedAttempts())
}
