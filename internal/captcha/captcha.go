package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"forager/internal/argon2"
	"forager/internal/config"
)

// Verifier answers whether a captcha token was solved by the client at
// remoteIP. An error means the verifier itself could not decide.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

// New builds the verifier selected by cfg.CaptchaProvider.
func New(cfg *config.Config, pow *argon2.Service) (Verifier, error) {
	switch cfg.CaptchaProvider {
	case config.CaptchaHCaptcha:
		return NewHCaptcha(cfg.HCaptchaVerifyURL, cfg.HCaptchaSecret, cfg.HCaptchaSiteKey, cfg.CaptchaTimeout), nil
	case config.CaptchaProofOfWork:
		if pow == nil {
			return nil, fmt.Errorf("proof-of-work captcha needs a challenge service")
		}
		return &ProofOfWork{Service: pow}, nil
	default:
		return nil, fmt.Errorf("unknown captcha provider %q", cfg.CaptchaProvider)
	}
}

type HCaptcha struct {
	verifyURL string
	secret    string
	siteKey   string
	http      *http.Client
}

func NewHCaptcha(verifyURL, secret, siteKey string, timeout time.Duration) *HCaptcha {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HCaptcha{
		verifyURL: verifyURL,
		secret:    secret,
		siteKey:   siteKey,
		http:      &http.Client{Timeout: timeout},
	}
}

func (h *HCaptcha) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	form := url.Values{}
	form.Set("secret", h.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}
	if h.siteKey != "" {
		form.Set("sitekey", h.siteKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := h.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("hcaptcha siteverify: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("hcaptcha siteverify failed: status=%d", resp.StatusCode)
	}

	var result struct {
		Success    bool     `json:"success"`
		ErrorCodes []string `json:"error-codes"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return false, fmt.Errorf("hcaptcha siteverify: decode response: %w", err)
	}
	return result.Success, nil
}

// ProofOfWork redeems argon2 challenge solutions.
type ProofOfWork struct {
	Service *argon2.Service
}

func (p *ProofOfWork) Verify(ctx context.Context, token, _ string) (bool, error) {
	return p.Service.Redeem(ctx, token)
}
