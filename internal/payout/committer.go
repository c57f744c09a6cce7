package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"forager/internal/banano"
	"forager/internal/database"
	"forager/internal/metrics"
	"forager/internal/notify"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var (
	// ErrPaymentRejected means the node refused the send. No funds moved.
	ErrPaymentRejected = errors.New("payout: payment rejected")

	// ErrPaymentUnconfirmed means the send call failed in a way that leaves
	// its outcome unknown. The transfer may have posted.
	ErrPaymentUnconfirmed = errors.New("payout: payment outcome unknown")
)

const pendingBatch = 100

// Wallet is the slice of the node RPC the committer drives.
type Wallet interface {
	AccountBalance(ctx context.Context, account string) (balance, pending *uint256.Int, err error)
	Send(ctx context.Context, source, destination string, amount *uint256.Int) (string, error)
	Pending(ctx context.Context, account string, count int) ([]string, error)
	Receive(ctx context.Context, account, block string) (string, error)
}

type Receipt struct {
	TxID   string
	Amount decimal.Decimal
	SentAt time.Time
}

// Committer sends payouts from the faucet account and owns the cached
// faucet balance.
type Committer struct {
	wallet   Wallet
	account  string
	stats    database.StatsStore
	notifier notify.Notifier
	metrics  *metrics.Faucet
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.RWMutex
	balance   decimal.Decimal
	known     bool
	refreshed time.Time
}

type Option func(*Committer)

func WithNotifier(n notify.Notifier) Option {
	return func(c *Committer) { c.notifier = n }
}

func WithMetrics(m *metrics.Faucet) Option {
	return func(c *Committer) { c.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Committer) { c.logger = l }
}

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) Option {
	return func(c *Committer) { c.now = clock }
}

func NewCommitter(wallet Wallet, account string, stats database.StatsStore, opts ...Option) *Committer {
	c := &Committer{
		wallet:   wallet,
		account:  account,
		stats:    stats,
		notifier: notify.Nop{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pay sends amount BAN to destination. Errors wrap ErrPaymentRejected or
// ErrPaymentUnconfirmed. An unconfirmed payment is alerted on and never
// retried here.
func (c *Committer) Pay(ctx context.Context, destination string, amount decimal.Decimal) (*Receipt, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount %s is not positive", ErrPaymentRejected, amount)
	}
	raw, err := banano.ToRaw(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPaymentRejected, err)
	}

	start := c.now()
	txID, err := c.wallet.Send(ctx, c.account, destination, raw)
	if err != nil {
		c.metrics.RecordUpstreamError("payment")
		var rpcErr *banano.RPCError
		if errors.As(err, &rpcErr) {
			return nil, fmt.Errorf("%w: %v", ErrPaymentRejected, err)
		}
		c.logger.Error("payout outcome unknown",
			slog.String("destination", destination),
			slog.String("amount", amount.String()),
			slog.Any("error", err),
		)
		alert := fmt.Sprintf("Payout of %s BAN to %s may or may not have been sent: %v. Check the faucet account history before paying again.",
			amount.String(), destination, err)
		if nerr := c.notifier.Send(context.WithoutCancel(ctx), alert); nerr != nil {
			c.logger.Warn("failed to deliver alert", slog.Any("error", nerr))
		}
		return nil, fmt.Errorf("%w: %v", ErrPaymentUnconfirmed, err)
	}

	c.metrics.ObservePayout(amount, c.now().Sub(start))

	c.mu.Lock()
	if c.known {
		c.balance = c.balance.Sub(amount)
	}
	c.mu.Unlock()

	return &Receipt{TxID: txID, Amount: amount, SentAt: c.now()}, nil
}

// Balance returns the cached balance and whether it was ever loaded.
func (c *Committer) Balance() (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.balance, c.known
}

// RefreshedAt is when the balance was last read from the node.
func (c *Committer) RefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshed
}

// Refresh re-reads the faucet balance from the node.
func (c *Committer) Refresh(ctx context.Context) (decimal.Decimal, error) {
	raw, _, err := c.wallet.AccountBalance(ctx, c.account)
	if err != nil {
		c.metrics.RecordUpstreamError("balance")
		return decimal.Zero, fmt.Errorf("refresh balance: %w", err)
	}
	balance := banano.FromRaw(raw)

	c.mu.Lock()
	c.balance = balance
	c.known = true
	c.refreshed = c.now()
	c.mu.Unlock()

	c.metrics.SetBalance(balance)
	return balance, nil
}

// CanPay reports whether the faucet holds at least amount, loading the
// balance first if it has never been read.
func (c *Committer) CanPay(ctx context.Context, amount decimal.Decimal) (bool, error) {
	balance, known := c.Balance()
	if !known {
		var err error
		if balance, err = c.Refresh(ctx); err != nil {
			return false, err
		}
	}
	return !balance.LessThan(amount), nil
}

// Sweep receives pending donations into the faucet account, counts them in
// the stats and refreshes the balance. It returns the number of blocks
// received, which may be non-zero alongside an error.
func (c *Committer) Sweep(ctx context.Context) (int, error) {
	received, err := c.sweep(ctx)
	c.metrics.RecordSweep(received, err)
	return received, err
}

func (c *Committer) sweep(ctx context.Context) (int, error) {
	blocks, err := c.wallet.Pending(ctx, c.account, pendingBatch)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}

	received := 0
	var receiveErr error
	for _, block := range blocks {
		if _, err := c.wallet.Receive(ctx, c.account, block); err != nil {
			receiveErr = fmt.Errorf("receive %s: %w", block, err)
			break
		}
		received++
	}

	if received > 0 {
		if err := c.stats.AddDonations(ctx, int64(received)); err != nil {
			return received, errors.Join(receiveErr, fmt.Errorf("record donations: %w", err))
		}
		c.logger.Info("received donations", slog.Int("count", received))
		if err := c.notifier.Send(ctx, fmt.Sprintf("Received %d donation(s) to the faucet.", received)); err != nil {
			c.logger.Warn("failed to deliver donation notice", slog.Any("error", err))
		}
	}

	if _, err := c.Refresh(ctx); err != nil {
		return received, errors.Join(receiveErr, err)
	}
	return received, receiveErr
}
