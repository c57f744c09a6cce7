package filters

import (
	"context"
	"errors"
	"testing"
	"time"

	"forager/internal/banano"
	"forager/internal/database"

	"github.com/stretchr/testify/require"
)

const (
	validAddress    = "ban_19potasho7ozny8r1drz3u3hb3r97fw4ndm4hegdsdzzns1c3nobdastcgaa"
	donationAddress = "ban_1picturessx4aedsf59gm6qjkm6e3od4384m1qpfnotgsuoczbmhdb3e1zkh"
)

var now = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

type fakeVerifier struct {
	ok  bool
	err error
}

func (f fakeVerifier) Verify(context.Context, string, string) (bool, error) { return f.ok, f.err }

type fakeHistory struct {
	entries []banano.HistoryEntry
	err     error
}

func (f fakeHistory) AccountHistory(context.Context, string) ([]banano.HistoryEntry, error) {
	return f.entries, f.err
}

type fakeScorer struct {
	score float64
	err   error
}

func (f fakeScorer) Score(context.Context, string) (float64, error) { return f.score, f.err }

func entry(account string, age time.Duration) banano.HistoryEntry {
	return banano.HistoryEntry{Type: "receive", Account: account, LocalTimestamp: now.Add(-age).Unix()}
}

func reasonOf(t *testing.T, err error) string {
	t.Helper()
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	return rej.Reason
}

func TestAddressFormat(t *testing.T) {
	require.NoError(t, AddressFormat{}.Check(context.Background(), &Subject{Address: validAddress}))

	err := AddressFormat{}.Check(context.Background(), &Subject{Address: "ban_123"})
	require.Equal(t, ReasonInvalidAddress, reasonOf(t, err))
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	require.Contains(t, rej.Message, "length")
}

func TestCaptcha(t *testing.T) {
	ctx := context.Background()

	err := Captcha{Verifier: fakeVerifier{ok: true}}.Check(ctx, &Subject{})
	require.Equal(t, ReasonCaptchaMissing, reasonOf(t, err))

	err = Captcha{Verifier: fakeVerifier{ok: false}}.Check(ctx, &Subject{CaptchaToken: "t"})
	require.Equal(t, ReasonCaptchaInvalid, reasonOf(t, err))

	err = Captcha{Verifier: fakeVerifier{err: errors.New("timeout")}}.Check(ctx, &Subject{CaptchaToken: "t"})
	require.Equal(t, ReasonCaptchaInvalid, reasonOf(t, err))

	require.NoError(t, Captcha{Verifier: fakeVerifier{ok: true}}.Check(ctx, &Subject{CaptchaToken: "t"}))
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	minAge := 14 * 24 * time.Hour

	err := History{Source: fakeHistory{}, MinAge: minAge}.Check(ctx, &Subject{Now: now})
	require.Equal(t, ReasonNoHistory, reasonOf(t, err))

	err = History{Source: fakeHistory{err: errors.New("node down")}, MinAge: minAge}.Check(ctx, &Subject{Now: now})
	require.Equal(t, ReasonHistoryUnavailable, reasonOf(t, err))

	young := fakeHistory{entries: []banano.HistoryEntry{entry("ban_x", time.Hour), entry("ban_y", 13*24*time.Hour)}}
	err = History{Source: young, MinAge: minAge}.Check(ctx, &Subject{Now: now})
	require.Equal(t, ReasonAddressTooNew, reasonOf(t, err))

	old := fakeHistory{entries: []banano.HistoryEntry{entry("ban_x", time.Hour), entry("ban_y", 30*24*time.Hour)}}
	s := &Subject{Now: now}
	require.NoError(t, History{Source: old, MinAge: minAge}.Check(ctx, s))
	require.Len(t, s.History, 2)
}

func newBlacklist(t *testing.T, banned ...string) *database.LevelDB {
	t.Helper()
	db, err := database.NewMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	for _, address := range banned {
		require.NoError(t, db.AddBlacklist(context.Background(), address, "test"))
	}
	return db
}

func TestBlacklist(t *testing.T) {
	ctx := context.Background()
	store := newBlacklist(t, validAddress, "ban_alt", donationAddress)
	f := Blacklist{Store: store, Exempt: donationAddress}

	err := f.Check(ctx, &Subject{Address: validAddress})
	require.Equal(t, ReasonBlacklisted, reasonOf(t, err))

	err = f.Check(ctx, &Subject{Address: "ban_clean", History: []banano.HistoryEntry{entry("ban_alt", time.Hour)}})
	require.Equal(t, ReasonBlacklisted, reasonOf(t, err))

	// Donations to the faucet's own donation address never taint the sender.
	require.NoError(t, f.Check(ctx, &Subject{Address: "ban_clean", History: []banano.HistoryEntry{entry(donationAddress, time.Hour)}}))
}

func TestBlacklistExemptsDonationAddress(t *testing.T) {
	ctx := context.Background()
	store := newBlacklist(t, donationAddress, "ban_alt")
	f := Blacklist{Store: store, Exempt: donationAddress}

	// Banned itself.
	require.NoError(t, f.Check(ctx, &Subject{Address: donationAddress}))

	// Linked to a banned account.
	require.NoError(t, f.Check(ctx, &Subject{Address: donationAddress, History: []banano.HistoryEntry{entry("ban_alt", time.Hour)}}))

	// No exemption configured.
	err := Blacklist{Store: store}.Check(ctx, &Subject{Address: donationAddress})
	require.Equal(t, ReasonBlacklisted, reasonOf(t, err))
}

func TestProxy(t *testing.T) {
	ctx := context.Background()
	s := &Subject{IP: "203.0.113.5"}

	err := Proxy{Scorer: fakeScorer{score: 0.99}, Threshold: 0.98}.Check(ctx, s)
	require.Equal(t, ReasonProxyDetected, reasonOf(t, err))

	require.NoError(t, Proxy{Scorer: fakeScorer{score: 0.98}, Threshold: 0.98}.Check(ctx, s))
	require.NoError(t, Proxy{Scorer: fakeScorer{score: -4}, Threshold: 0.98}.Check(ctx, s))
	require.NoError(t, Proxy{Scorer: fakeScorer{err: context.DeadlineExceeded}, Threshold: 0.98}.Check(ctx, s))
}

type countingFilter struct {
	name  string
	err   error
	calls *int
}

func (c countingFilter) Name() string { return c.name }

func (c countingFilter) Check(context.Context, *Subject) error {
	*c.calls++
	return c.err
}

func TestChainShortCircuits(t *testing.T) {
	var first, second, third int
	chain := Chain{
		countingFilter{name: "a", calls: &first},
		countingFilter{name: "b", calls: &second, err: &Rejection{Reason: ReasonBlacklisted}},
		countingFilter{name: "c", calls: &third},
	}

	var passed []string
	rej := chain.Run(context.Background(), &Subject{}, func(f Filter) { passed = append(passed, f.Name()) })
	require.NotNil(t, rej)
	require.Equal(t, "b", rej.Filter)
	require.Equal(t, ReasonBlacklisted, rej.Reason)
	require.Equal(t, []string{"a"}, passed)
	require.Equal(t, 1, first)
	require.Equal(t, 1, second)
	require.Zero(t, third)
}

func TestChainWrapsPlainErrors(t *testing.T) {
	var calls int
	rej := Chain{countingFilter{name: "x", calls: &calls, err: errors.New("boom")}}.Run(context.Background(), &Subject{}, nil)
	require.NotNil(t, rej)
	require.Equal(t, ReasonInternal, rej.Reason)
	require.EqualError(t, rej.Err, "boom")
}
