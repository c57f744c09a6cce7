package payout

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"forager/internal/banano"
	"forager/internal/database"
	"forager/internal/logging"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeWallet struct {
	mu       sync.Mutex
	balance  *uint256.Int
	sendErr  error
	sent     []*uint256.Int
	pending  []string
	received []string
	recvErr  error
}

func (w *fakeWallet) AccountBalance(context.Context, string) (*uint256.Int, *uint256.Int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return new(uint256.Int).Set(w.balance), new(uint256.Int), nil
}

func (w *fakeWallet) Send(_ context.Context, _, _ string, amount *uint256.Int) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sendErr != nil {
		return "", w.sendErr
	}
	w.sent = append(w.sent, amount)
	w.balance = new(uint256.Int).Sub(w.balance, amount)
	return "BLOCK", nil
}

func (w *fakeWallet) Pending(context.Context, string, int) ([]string, error) {
	return w.pending, nil
}

func (w *fakeWallet) Receive(_ context.Context, _, block string) (string, error) {
	if w.recvErr != nil {
		return "", w.recvErr
	}
	w.received = append(w.received, block)
	return "R-" + block, nil
}

type recordingNotifier struct {
	messages []string
}

func (r *recordingNotifier) Send(_ context.Context, msg string) error {
	r.messages = append(r.messages, msg)
	return nil
}

func ban(t *testing.T, s string) *uint256.Int {
	t.Helper()
	raw, err := banano.ToRaw(decimal.RequireFromString(s))
	require.NoError(t, err)
	return raw
}

func newCommitter(t *testing.T, w *fakeWallet) (*Committer, *recordingNotifier, *database.LevelDB) {
	t.Helper()
	store, err := database.NewMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	n := &recordingNotifier{}
	return NewCommitter(w, "ban_faucet", store, WithNotifier(n), WithLogger(logging.Discard())), n, store
}

func TestPaySendsExactRaw(t *testing.T) {
	w := &fakeWallet{balance: ban(t, "10")}
	c, _, _ := newCommitter(t, w)

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	receipt, err := c.Pay(context.Background(), "ban_dest", decimal.RequireFromString("0.87"))
	require.NoError(t, err)
	require.Equal(t, "BLOCK", receipt.TxID)
	require.Equal(t, "87000000000000000000000000000", w.sent[0].Dec())

	balance, known := c.Balance()
	require.True(t, known)
	require.Equal(t, "9.13", balance.String())
}

func TestPayRejectedByNode(t *testing.T) {
	w := &fakeWallet{balance: ban(t, "1"), sendErr: &banano.RPCError{Action: "send", Message: "Insufficient balance"}}
	c, n, _ := newCommitter(t, w)

	_, err := c.Pay(context.Background(), "ban_dest", decimal.RequireFromString("0.5"))
	require.ErrorIs(t, err, ErrPaymentRejected)
	require.Empty(t, n.messages, "a definitive rejection needs no alert")
}

func TestPayUnconfirmedRaisesAlert(t *testing.T) {
	w := &fakeWallet{balance: ban(t, "1"), sendErr: &net.OpError{Op: "read", Err: errors.New("connection reset")}}
	c, n, _ := newCommitter(t, w)

	_, err := c.Pay(context.Background(), "ban_dest", decimal.RequireFromString("0.5"))
	require.ErrorIs(t, err, ErrPaymentUnconfirmed)
	require.Len(t, n.messages, 1)
	require.Contains(t, n.messages[0], "ban_dest")
}

func TestPayRefusesNonPositive(t *testing.T) {
	c, _, _ := newCommitter(t, &fakeWallet{balance: ban(t, "1")})
	_, err := c.Pay(context.Background(), "ban_dest", decimal.Zero)
	require.ErrorIs(t, err, ErrPaymentRejected)
}

func TestCanPayLoadsBalance(t *testing.T) {
	c, _, _ := newCommitter(t, &fakeWallet{balance: ban(t, "0.5")})

	ok, err := c.CanPay(context.Background(), decimal.NewFromInt(1))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = c.CanPay(context.Background(), decimal.RequireFromString("0.5"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSweepCountsDonations(t *testing.T) {
	w := &fakeWallet{balance: ban(t, "3"), pending: []string{"H1", "H2"}}
	c, n, store := newCommitter(t, w)

	received, err := c.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, received)
	require.Equal(t, []string{"H1", "H2"}, w.received)
	require.Len(t, n.messages, 1)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.TotalDonations)

	balance, known := c.Balance()
	require.True(t, known)
	require.Equal(t, "3", balance.String())
}

func TestSweepReceiveFailure(t *testing.T) {
	w := &fakeWallet{balance: ban(t, "3"), pending: []string{"H1"}, recvErr: errors.New("fork")}
	c, _, store := newCommitter(t, w)

	received, err := c.Sweep(context.Background())
	require.Error(t, err)
	require.Zero(t, received)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.TotalDonations)
}
