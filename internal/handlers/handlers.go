package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"forager/internal/adjudicator"
	"forager/internal/config"
	"forager/internal/database"

	"github.com/shopspring/decimal"
)

const multipartMemory = 32 << 20

type Adjudicator interface {
	Adjudicate(ctx context.Context, req adjudicator.ClaimRequest) adjudicator.Decision
}

// BalanceSource reports the cached faucet balance.
type BalanceSource interface {
	Balance() (decimal.Decimal, bool)
	RefreshedAt() time.Time
}

type ChallengeIssuer interface {
	GenerateChallenge(ctx context.Context) (*database.Challenge, error)
	EstimateSolveTime() time.Duration
}

type Handler struct {
	cfg         *config.Config
	adjudicator Adjudicator
	stats       database.StatsStore
	balance     BalanceSource
	challenges  ChallengeIssuer
	logger      *slog.Logger
}

// NewHandler wires the HTTP surface. challenges may be nil when captchas are
// verified by hCaptcha.
func NewHandler(cfg *config.Config, adj Adjudicator, stats database.StatsStore, balance BalanceSource, challenges ChallengeIssuer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:         cfg,
		adjudicator: adj,
		stats:       stats,
		balance:     balance,
		challenges:  challenges,
		logger:      logger,
	}
}

type InfoResponse struct {
	Balance         *decimal.Decimal `json:"balance"`
	BalanceAt       *time.Time       `json:"balanceUpdatedAt,omitempty"`
	FaucetReward    decimal.Decimal  `json:"faucetReward"`
	FaucetAddress   string           `json:"faucetAddress"`
	DonationAddress string           `json:"donationAddress"`
	CooldownMs      int64            `json:"cooldown"`
	CaptchaProvider string           `json:"captchaProvider"`
	HCaptchaSiteKey string           `json:"hcaptchaSiteKey,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) InfoHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.stats.IncrementVisits(r.Context()); err != nil {
		h.logger.Warn("failed to count visit", slog.Any("error", err))
	}

	response := InfoResponse{
		FaucetReward:    h.cfg.MaxReward,
		FaucetAddress:   h.cfg.FaucetAddress,
		DonationAddress: h.cfg.DonationAddress,
		CooldownMs:      h.cfg.Cooldown.Milliseconds(),
		CaptchaProvider: h.cfg.CaptchaProvider,
	}
	if h.cfg.CaptchaProvider == config.CaptchaHCaptcha {
		response.HCaptchaSiteKey = h.cfg.HCaptchaSiteKey
	}
	if balance, known := h.balance.Balance(); known {
		at := h.balance.RefreshedAt()
		response.Balance = &balance
		response.BalanceAt = &at
	}
	writeJSON(w, http.StatusOK, response)
}

// ClaimHandler accepts a multipart form with an address, an image and a
// captcha token, and answers with the adjudication decision.
func (h *Handler) ClaimHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxImageBytes+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeDecision(w, formRejection(adjudicator.ReasonInvalidImage, "Image is too large."))
			return
		}
		h.writeDecision(w, formRejection(adjudicator.ReasonMissingImage, "Error parsing form, please upload a picture."))
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := adjudicator.ClaimRequest{
		Address:      r.FormValue("address"),
		IP:           h.clientIP(r),
		CaptchaToken: r.FormValue("h-captcha-response"),
	}
	if req.CaptchaToken == "" {
		req.CaptchaToken = r.FormValue("captcha")
	}

	file, header, err := r.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		h.writeDecision(w, formRejection(adjudicator.ReasonInvalidImage, "Could not read the uploaded image."))
		return
	default:
		defer file.Close()
		req.Filename = header.Filename
		req.Image, err = io.ReadAll(io.LimitReader(file, h.cfg.MaxImageBytes+1))
		if err != nil {
			h.writeDecision(w, formRejection(adjudicator.ReasonInvalidImage, "Could not read the uploaded image."))
			return
		}
	}

	h.writeDecision(w, h.adjudicator.Adjudicate(r.Context(), req))
}

func formRejection(reason adjudicator.Reason, message string) adjudicator.Decision {
	return adjudicator.Decision{
		Outcome: adjudicator.OutcomeRejected,
		Stage:   adjudicator.StageReceived,
		Reason:  reason,
		Message: message,
	}
}

func (h *Handler) writeDecision(w http.ResponseWriter, d adjudicator.Decision) {
	status := StatusFor(d)
	if d.CooldownUntil != nil && status == http.StatusTooManyRequests {
		if wait := time.Until(*d.CooldownUntil); wait > 0 {
			w.Header().Set("Retry-After", formatSeconds(wait))
		}
	}
	writeJSON(w, status, d)
}

// StatusFor maps a decision to its HTTP status code.
func StatusFor(d adjudicator.Decision) int {
	if d.Outcome == adjudicator.OutcomeRewarded {
		return http.StatusOK
	}
	switch d.Reason {
	case adjudicator.ReasonFaucetDry:
		return http.StatusServiceUnavailable
	case adjudicator.ReasonCooldown, adjudicator.ReasonClaimInProgress:
		return http.StatusTooManyRequests
	case adjudicator.ReasonInternal:
		return http.StatusInternalServerError
	}
	switch d.Reason.Category() {
	case adjudicator.CategoryInput:
		return http.StatusBadRequest
	case adjudicator.CategoryUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusForbidden
	}
}

func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	report, err := h.stats.Report(r.Context())
	if err != nil {
		h.logger.Error("failed to load stats", slog.Any("error", err))
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "Stats currently unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type ChallengeResponse struct {
	Challenge        *database.Challenge `json:"challenge"`
	EstimatedSolveMs int64               `json:"estimatedSolveMs"`
}

func (h *Handler) ChallengeHandler(w http.ResponseWriter, r *http.Request) {
	if h.challenges == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Proof of work captcha is not enabled"})
		return
	}
	challenge, err := h.challenges.GenerateChallenge(r.Context())
	if err != nil {
		h.logger.Error("failed to generate challenge", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to generate challenge"})
		return
	}
	writeJSON(w, http.StatusOK, ChallengeResponse{
		Challenge:        challenge,
		EstimatedSolveMs: h.challenges.EstimateSolveTime().Milliseconds(),
	})
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	_, known := h.balance.Balance()
	response := map[string]interface{}{
		"status":       "healthy",
		"service":      "banano-forager",
		"balanceKnown": known,
	}
	writeJSON(w, http.StatusOK, response)
}

// DonationHandler serves the gobanme donation descriptor.
func (h *Handler) DonationHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"description":        "Banano faucet that makes 1 Banana = 1 BAN a reality",
		"suggested_donation": "50",
		"address":            h.cfg.DonationAddress,
	})
}

func (h *Handler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Error 404: Page not found"})
}

func formatSeconds(d time.Duration) string {
	secs := int64(d.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
