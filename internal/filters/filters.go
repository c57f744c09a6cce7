package filters

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"forager/internal/banano"
	"forager/internal/captcha"
	"forager/internal/database"
	"forager/internal/proxycheck"
)

const (
	ReasonInvalidAddress     = "invalid_address"
	ReasonCaptchaMissing     = "captcha_missing"
	ReasonCaptchaInvalid     = "captcha_invalid"
	ReasonHistoryUnavailable = "history_unavailable"
	ReasonNoHistory          = "no_history"
	ReasonAddressTooNew      = "address_too_new"
	ReasonBlacklisted        = "blacklisted"
	ReasonProxyDetected      = "proxy_detected"
	ReasonInternal           = "internal_error"
)

// Subject is the claim as seen by the filters. History is filled in by the
// History filter for the filters that follow it.
type Subject struct {
	Address      string
	IP           string
	CaptchaToken string
	Now          time.Time
	History      []banano.HistoryEntry
}

// Rejection is returned by a filter that refuses a claim.
type Rejection struct {
	Filter  string
	Reason  string
	Message string
	Err     error
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %s: %v", r.Filter, r.Reason, r.Err)
	}
	return fmt.Sprintf("%s: %s", r.Filter, r.Reason)
}

func (r *Rejection) Unwrap() error { return r.Err }

type Filter interface {
	Name() string
	Check(ctx context.Context, s *Subject) error
}

// Chain runs filters in order and stops at the first rejection.
type Chain []Filter

// Run returns nil when every filter accepts. Any non-rejection error from a
// filter is reported as an internal_error rejection. passed, if set, is called
// after each filter that accepts.
func (c Chain) Run(ctx context.Context, s *Subject, passed func(Filter)) *Rejection {
	for _, f := range c {
		err := f.Check(ctx, s)
		if err != nil {
			var rej *Rejection
			if errors.As(err, &rej) {
				if rej.Filter == "" {
					rej.Filter = f.Name()
				}
				return rej
			}
			return &Rejection{Filter: f.Name(), Reason: ReasonInternal, Message: "Internal error, please try again later.", Err: err}
		}
		if passed != nil {
			passed(f)
		}
	}
	return nil
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// AddressFormat validates the ban_ address locally.
type AddressFormat struct{}

func (AddressFormat) Name() string { return "format" }

func (AddressFormat) Check(_ context.Context, s *Subject) error {
	err := banano.ValidateAddress(s.Address)
	if err == nil {
		return nil
	}
	msg := "Invalid BANANO address."
	var addrErr *banano.AddressError
	if errors.As(err, &addrErr) {
		msg = addrErr.Reason
	}
	return &Rejection{Reason: ReasonInvalidAddress, Message: msg, Err: err}
}

// Captcha checks the client's captcha token.
type Captcha struct {
	Verifier captcha.Verifier
	Logger   *slog.Logger
}

func (Captcha) Name() string { return "captcha" }

func (c Captcha) Check(ctx context.Context, s *Subject) error {
	if s.CaptchaToken == "" {
		return &Rejection{Reason: ReasonCaptchaMissing, Message: "Please complete the captcha."}
	}
	ok, err := c.Verifier.Verify(ctx, s.CaptchaToken, s.IP)
	if err != nil {
		logger(c.Logger).Warn("captcha verification failed", slog.String("ip", s.IP), slog.Any("error", err))
		return &Rejection{Reason: ReasonCaptchaInvalid, Message: "Captcha could not be verified, please try again.", Err: err}
	}
	if !ok {
		return &Rejection{Reason: ReasonCaptchaInvalid, Message: "Invalid captcha."}
	}
	return nil
}

type HistorySource interface {
	AccountHistory(ctx context.Context, account string) ([]banano.HistoryEntry, error)
}

// History requires an account that has transacted before and whose first
// transaction is at least MinAge old.
type History struct {
	Source HistorySource
	MinAge time.Duration
}

func (History) Name() string { return "history" }

func (h History) Check(ctx context.Context, s *Subject) error {
	history, err := h.Source.AccountHistory(ctx, s.Address)
	if err != nil {
		return &Rejection{Reason: ReasonHistoryUnavailable, Message: "Could not load address history, please try again later.", Err: err}
	}
	if len(history) == 0 {
		return &Rejection{Reason: ReasonNoHistory, Message: "This address has no transactions yet. Use an address that has received BAN before."}
	}
	s.History = history

	oldest := history[0].Time()
	for _, entry := range history[1:] {
		if t := entry.Time(); t.Before(oldest) {
			oldest = t
		}
	}
	if s.Now.Sub(oldest) < h.MinAge {
		return &Rejection{
			Reason:  ReasonAddressTooNew,
			Message: fmt.Sprintf("This address is too new. Its first transaction must be at least %d days old.", int(h.MinAge.Hours()/24)),
		}
	}
	return nil
}

// Blacklist refuses banned addresses and addresses that transacted with one.
// Exempt, the donation address, always passes and is never treated as a
// counterparty.
type Blacklist struct {
	Store  database.Blacklist
	Exempt string
}

func (Blacklist) Name() string { return "blacklist" }

func (b Blacklist) Check(ctx context.Context, s *Subject) error {
	if b.Exempt != "" && s.Address == b.Exempt {
		return nil
	}
	candidates := []string{s.Address}
	seen := map[string]bool{s.Address: true}
	for _, entry := range s.History {
		if entry.Account == "" || entry.Account == b.Exempt || seen[entry.Account] {
			continue
		}
		seen[entry.Account] = true
		candidates = append(candidates, entry.Account)
	}

	match, banned, err := b.Store.IsBlacklisted(ctx, candidates)
	if err != nil {
		return fmt.Errorf("blacklist lookup: %w", err)
	}
	if !banned {
		return nil
	}
	if match == s.Address {
		return &Rejection{Reason: ReasonBlacklisted, Message: "This address is blacklisted."}
	}
	return &Rejection{Reason: ReasonBlacklisted, Message: "This address has transacted with a blacklisted address.", Err: fmt.Errorf("counterparty %s", match)}
}

// Proxy refuses IPs scoring above Threshold. Scoring failures never block.
type Proxy struct {
	Scorer    proxycheck.Scorer
	Threshold float64
	Logger    *slog.Logger
}

func (Proxy) Name() string { return "proxy" }

func (p Proxy) Check(ctx context.Context, s *Subject) error {
	score, err := p.Scorer.Score(ctx, s.IP)
	if err != nil {
		logger(p.Logger).Warn("proxy check inconclusive", slog.String("ip", s.IP), slog.Any("error", err))
		return nil
	}
	if score < 0 {
		logger(p.Logger).Warn("proxy check returned error score", slog.String("ip", s.IP), slog.Float64("score", score))
		return nil
	}
	if score > p.Threshold {
		return &Rejection{Reason: ReasonProxyDetected, Message: "VPNs and proxies are not allowed."}
	}
	return nil
}
