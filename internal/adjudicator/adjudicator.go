package adjudicator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"forager/internal/classifier"
	"forager/internal/config"
	"forager/internal/crypto"
	"forager/internal/database"
	"forager/internal/filters"
	"forager/internal/imaging"
	"forager/internal/metrics"
	"forager/internal/payout"
	"forager/internal/reward"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ClaimRequest struct {
	Address      string
	Image        []byte
	Filename     string
	IP           string
	CaptchaToken string
}

// Decision is the terminal result of one claim. For a rejection Stage is the
// last stage the claim passed.
type Decision struct {
	ClaimID       string              `json:"claimId"`
	Outcome       Outcome             `json:"outcome"`
	Stage         Stage               `json:"stage"`
	Reason        Reason              `json:"reason,omitempty"`
	Message       string              `json:"message"`
	TxID          string              `json:"txId,omitempty"`
	Amount        *decimal.Decimal    `json:"amount,omitempty"`
	CooldownUntil *time.Time          `json:"cooldownUntil,omitempty"`
	Hash          string              `json:"hash,omitempty"`
	Predictions   []reward.Prediction `json:"predictions,omitempty"`
}

func (d Decision) Rewarded() bool { return d.Outcome == OutcomeRewarded }

type Settings struct {
	MaxReward     decimal.Decimal
	Cooldown      time.Duration
	Lease         time.Duration
	ImageSize     int
	MinImageBytes int64
	MaxImageBytes int64
	BananaLabel   string
	UploadDir     string
}

func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		MaxReward:     cfg.MaxReward,
		Cooldown:      cfg.Cooldown,
		Lease:         cfg.ClaimLease,
		ImageSize:     cfg.ImageSize,
		MinImageBytes: cfg.MinImageBytes,
		MaxImageBytes: cfg.MaxImageBytes,
		BananaLabel:   cfg.BananaLabel,
		UploadDir:     cfg.UploadDir,
	}
}

// Store is the persistence the adjudicator mutates.
type Store interface {
	database.HashStore
	database.ClaimLedger
	database.StatsStore
}

type Payer interface {
	CanPay(ctx context.Context, amount decimal.Decimal) (bool, error)
	Pay(ctx context.Context, destination string, amount decimal.Decimal) (*payout.Receipt, error)
	Refresh(ctx context.Context) (decimal.Decimal, error)
}

// Adjudicator decides claims. It is safe for concurrent use; cross-request
// races on the same address or IP are settled by ledger reservations.
type Adjudicator struct {
	settings   Settings
	filters    filters.Chain
	store      Store
	classifier classifier.Classifier
	payer      Payer
	metrics    *metrics.Faucet
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

type Option func(*Adjudicator)

func WithMetrics(m *metrics.Faucet) Option {
	return func(a *Adjudicator) { a.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Adjudicator) { a.logger = l }
}

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) Option {
	return func(a *Adjudicator) { a.now = clock }
}

func New(settings Settings, chain filters.Chain, store Store, cls classifier.Classifier, payer Payer, opts ...Option) *Adjudicator {
	a := &Adjudicator{
		settings:   settings,
		filters:    chain,
		store:      store,
		classifier: cls,
		payer:      payer,
		logger:     slog.Default(),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Adjudicate runs one claim to a terminal decision. It never fails: every
// error is folded into a rejection reason.
func (a *Adjudicator) Adjudicate(ctx context.Context, req ClaimRequest) Decision {
	start := a.now()
	c := &claim{
		a:     a,
		req:   req,
		id:    a.newID(),
		stage: StageReceived,
	}
	c.log = a.logger.With(slog.String("claim_id", c.id), slog.String("ip", req.IP))

	d := c.run(ctx)
	a.metrics.ObserveClaim(string(d.Outcome), string(d.Reason), a.now().Sub(start))
	return d
}

func (a *Adjudicator) leaseBudget() time.Duration {
	if budget := a.settings.Lease - config.LeaseMargin; budget > 0 {
		return budget
	}
	return a.settings.Lease
}

type reservation struct {
	kind database.ClaimKind
	key  string
}

// claim carries the state of one adjudication.
type claim struct {
	a            *Adjudicator
	req          ClaimRequest
	id           string
	stage        Stage
	log          *slog.Logger
	address      string
	reservations []reservation
	hash         string
	predictions  []reward.Prediction
}

func (c *claim) advance(next Stage) {
	c.log.Debug("claim advanced", slog.String("from", string(c.stage)), slog.String("to", string(next)))
	c.stage = next
}

func (c *claim) reject(reason Reason, message string, cause error) Decision {
	attrs := []any{
		slog.String("stage", string(c.stage)),
		slog.String("reason", string(reason)),
		slog.String("address", c.address),
	}
	if cause != nil {
		attrs = append(attrs, slog.Any("error", cause))
	}
	if reason.Category() == CategoryUpstream {
		c.log.Warn("claim rejected", attrs...)
	} else {
		c.log.Info("claim rejected", attrs...)
	}
	return Decision{
		ClaimID:     c.id,
		Outcome:     OutcomeRejected,
		Stage:       c.stage,
		Reason:      reason,
		Message:     message,
		Hash:        c.hash,
		Predictions: c.predictions,
	}
}

func (c *claim) run(ctx context.Context) Decision {
	s := c.a.settings
	defer c.releaseReservations(ctx)

	c.address = strings.TrimSpace(c.req.Address)
	if c.address == "" {
		return c.reject(ReasonMissingAddress, "Please provide a BANANO address.", nil)
	}
	size := int64(len(c.req.Image))
	switch {
	case size == 0:
		return c.reject(ReasonMissingImage, "Please upload a picture of a banana.", nil)
	case size < s.MinImageBytes:
		return c.reject(ReasonInvalidImage, "Image is too small, please upload a larger picture.", nil)
	case s.MaxImageBytes > 0 && size > s.MaxImageBytes:
		return c.reject(ReasonInvalidImage, "Image is too large.", nil)
	}

	subject := &filters.Subject{
		Address:      c.address,
		IP:           c.req.IP,
		CaptchaToken: strings.TrimSpace(c.req.CaptchaToken),
		Now:          c.a.now(),
	}
	if rej := c.a.filters.Run(ctx, subject, func(f filters.Filter) {
		if next, ok := filterStages[f.Name()]; ok {
			c.advance(next)
		}
	}); rej != nil {
		return c.reject(Reason(rej.Reason), rej.Message, rej.Err)
	}

	if d, rejected := c.checkCooldown(ctx); rejected {
		return d
	}
	c.advance(StageCooldownChecked)

	canPay, err := c.a.payer.CanPay(ctx, s.MaxReward)
	if err != nil {
		return c.reject(ReasonPaymentFailed, "The payment service is unavailable, please try again later.", err)
	}
	if !canPay {
		return c.reject(ReasonFaucetDry, "The faucet is dry, please try again later or donate.", nil)
	}
	c.advance(StageBalanceChecked)

	if d, rejected := c.reserve(ctx); rejected {
		return d
	}
	return c.adjudicateReserved(ctx)
}

// adjudicateReserved runs the steps that need the address and IP
// reservations. Everything up to the payout hold must finish within the
// lease; the payout itself runs under the hold.
func (c *claim) adjudicateReserved(ctx context.Context) Decision {
	s := c.a.settings
	work, cancel := context.WithTimeout(ctx, c.a.leaseBudget())
	defer cancel()

	normalized, err := imaging.Normalize(c.req.Image, s.ImageSize)
	if err != nil {
		if errors.Is(err, imaging.ErrInvalidImage) {
			return c.reject(ReasonInvalidImage, "Invalid image, please upload a PNG or JPEG picture.", err)
		}
		return c.reject(ReasonInternal, "Could not process the image.", err)
	}
	c.hash, err = imaging.Hash(normalized.Image)
	if err != nil {
		return c.reject(ReasonInternal, "Could not process the image.", err)
	}

	_, err = c.a.store.LookupHash(work, c.hash)
	switch {
	case err == nil:
		return c.rejectDuplicate(work)
	case !errors.Is(err, database.ErrNotFound):
		return c.reject(ReasonInternal, "Internal error, please try again later.", err)
	}
	c.advance(StageDuplicateChecked)

	c.predictions, err = c.a.classifier.Classify(work, normalized.PNG)
	if err != nil {
		if errors.Is(err, classifier.ErrInvalidImage) {
			return c.reject(ReasonInvalidImage, "Invalid image.", err)
		}
		return c.reject(ReasonClassifierUnavailable, "The banana detector is unavailable, please try again later.", err)
	}
	c.advance(StageClassified)

	inserted, err := c.a.store.InsertHash(work, c.hashRecord(normalized.Format))
	if err != nil {
		return c.reject(ReasonInternal, "Internal error, please try again later.", err)
	}
	if !inserted {
		return c.rejectDuplicate(work)
	}

	confidence, isBanana := reward.BananaConfidence(c.predictions, s.BananaLabel)
	amount := reward.Compute(s.MaxReward, confidence)
	if !isBanana || amount.IsZero() {
		if err := c.a.store.IncrementFail(work, database.KindAddress, c.address); err != nil {
			c.log.Error("failed to record failed claim", slog.Any("error", err))
		}
		return c.reject(ReasonNotBanana, "That does not look like a banana.", nil)
	}

	if d, rejected := c.hold(work); rejected {
		return d
	}
	receipt, err := c.a.payer.Pay(ctx, c.address, amount)
	if err != nil {
		if errors.Is(err, payout.ErrPaymentUnconfirmed) {
			return c.reject(ReasonPaymentUnconfirmed, "The payment could not be confirmed. The faucet operator has been notified.", err)
		}
		return c.reject(ReasonPaymentFailed, "The payment failed, please try again later.", err)
	}

	until := c.commit(ctx, amount, receipt).Add(s.Cooldown)
	c.advance(StageRewarded)
	c.log.Info("claim rewarded",
		slog.String("address", c.address),
		slog.String("amount", amount.String()),
		slog.String("tx", receipt.TxID),
		slog.Float64("confidence", confidence),
	)
	return Decision{
		ClaimID:       c.id,
		Outcome:       OutcomeRewarded,
		Stage:         c.stage,
		Message:       fmt.Sprintf("Sent %s BAN!", amount.StringFixed(2)),
		TxID:          receipt.TxID,
		Amount:        &amount,
		CooldownUntil: &until,
		Hash:          c.hash,
		Predictions:   c.predictions,
	}
}

func (c *claim) keys() []reservation {
	keys := []reservation{{kind: database.KindAddress, key: c.address}}
	if c.req.IP != "" {
		keys = append(keys, reservation{kind: database.KindIP, key: c.req.IP})
	}
	return keys
}

// checkCooldown rejects when the address or the IP claimed within the
// cooldown. Rejections never touch the ledger.
func (c *claim) checkCooldown(ctx context.Context) (Decision, bool) {
	now := c.a.now()
	var latest time.Time
	for _, k := range c.keys() {
		until, eligible, err := c.a.store.CheckCooldown(ctx, k.kind, k.key, now, c.a.settings.Cooldown)
		if err != nil {
			return c.reject(ReasonInternal, "Internal error, please try again later.", err), true
		}
		if !eligible && until.After(latest) {
			latest = until
		}
	}
	if latest.IsZero() {
		return Decision{}, false
	}
	d := c.reject(ReasonCooldown, fmt.Sprintf("You already claimed recently. Try again in %s.", latest.Sub(now).Round(time.Minute)), nil)
	d.CooldownUntil = &latest
	return d, true
}

func (c *claim) reserve(ctx context.Context) (Decision, bool) {
	now := c.a.now()
	for _, k := range c.keys() {
		ok, err := c.a.store.Reserve(ctx, k.kind, k.key, c.id, now, c.a.settings.Cooldown, c.a.settings.Lease)
		if err != nil {
			return c.reject(ReasonInternal, "Internal error, please try again later.", err), true
		}
		if !ok {
			return c.contended(ctx), true
		}
		c.reservations = append(c.reservations, k)
	}
	return Decision{}, false
}

// hold pins the reservations for the length of a cooldown so they cannot
// expire while the payout is in flight. A reservation whose lease expired
// and was taken by another claim cannot be held.
func (c *claim) hold(ctx context.Context) (Decision, bool) {
	until := c.a.now().Add(c.a.settings.Cooldown)
	for _, r := range c.reservations {
		ok, err := c.a.store.Hold(ctx, r.kind, r.key, c.id, until)
		if err != nil {
			return c.reject(ReasonInternal, "Internal error, please try again later.", err), true
		}
		if !ok {
			c.log.Warn("claim lease lost before payout", slog.String("kind", string(r.kind)))
			return c.contended(ctx), true
		}
	}
	return Decision{}, false
}

// contended answers a claim that lost its reservation. A concurrent claim
// that already committed puts the key on cooldown.
func (c *claim) contended(ctx context.Context) Decision {
	if d, rejected := c.checkCooldown(ctx); rejected {
		return d
	}
	return c.reject(ReasonClaimInProgress, "Another claim for this address or IP is being processed.", nil)
}

// releaseReservations frees reservations still held when the claim ends
// without a payout.
func (c *claim) releaseReservations(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for _, r := range c.reservations {
		if err := c.a.store.Release(ctx, r.kind, r.key, c.id); err != nil {
			c.log.Error("failed to release reservation", slog.String("kind", string(r.kind)), slog.Any("error", err))
		}
	}
	c.reservations = nil
}

func (c *claim) rejectDuplicate(ctx context.Context) Decision {
	if err := c.a.store.IncrementDupes(ctx); err != nil {
		c.log.Error("failed to count duplicate", slog.Any("error", err))
	}
	if err := c.a.store.IncrementFail(ctx, database.KindAddress, c.address); err != nil {
		c.log.Error("failed to record failed claim", slog.Any("error", err))
	}
	return c.reject(ReasonDuplicateImage, "This picture was already submitted.", nil)
}

func (c *claim) hashRecord(format string) *database.HashRecord {
	rec := &database.HashRecord{
		Hash:      c.hash,
		Original:  true,
		CreatedAt: c.a.now().UTC(),
	}
	if b, err := json.Marshal(c.predictions); err == nil {
		classification := string(b)
		rec.Classification = &classification
	}
	if name := c.saveUpload(format); name != "" {
		rec.Filename = &name
	}
	return rec
}

// saveUpload keeps the original upload when an upload directory is set.
func (c *claim) saveUpload(format string) string {
	dir := c.a.settings.UploadDir
	if dir == "" {
		return ""
	}
	ext := ".png"
	if format == "jpeg" {
		ext = ".jpg"
	}
	name := crypto.ContentID(c.req.Image) + ext
	if err := os.MkdirAll(dir, 0o755); err != nil {
		c.log.Warn("failed to create upload dir", slog.Any("error", err))
		return ""
	}
	if err := os.WriteFile(filepath.Join(dir, name), c.req.Image, 0o644); err != nil {
		c.log.Warn("failed to save upload", slog.Any("error", err))
		return ""
	}
	return name
}

// commit records a completed payout. The payment already happened, so
// failures are logged and do not change the decision.
func (c *claim) commit(ctx context.Context, amount decimal.Decimal, receipt *payout.Receipt) time.Time {
	ctx = context.WithoutCancel(ctx)
	now := receipt.SentAt
	if now.IsZero() {
		now = c.a.now()
	}
	for _, r := range c.reservations {
		if err := c.a.store.CommitClaim(ctx, r.kind, r.key, c.id, amount, now); err != nil {
			c.log.Error("failed to commit claim", slog.String("kind", string(r.kind)), slog.String("tx", receipt.TxID), slog.Any("error", err))
		}
	}
	c.reservations = nil
	if err := c.a.store.RecordPayout(ctx, amount, now); err != nil {
		c.log.Error("failed to record payout", slog.String("tx", receipt.TxID), slog.Any("error", err))
	}
	if _, err := c.a.payer.Refresh(ctx); err != nil {
		c.log.Warn("failed to refresh balance", slog.Any("error", err))
	}
	return now
}
