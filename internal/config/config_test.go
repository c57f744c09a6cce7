package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		DBBackend:         BackendLevelDB,
		LevelDBPath:       "data/test",
		NodeURL:           "http://localhost:7072",
		WalletID:          "wallet",
		FaucetAddress:     "ban_faucet",
		ClassifierURL:     "http://localhost:9000/classify",
		CaptchaProvider:   CaptchaProofOfWork,
		ProxyCheckEnabled: false,
		MaxReward:         decimal.NewFromInt(1),
		Cooldown:          time.Hour,
		ClaimLease:        time.Minute,
		ImageSize:         224,
		MinImageBytes:     0,
		MaxImageBytes:     1024,
		ProxyThreshold:    0.98,
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateReportsAllMissingSettings(t *testing.T) {
	cfg := validConfig()
	cfg.NodeURL = ""
	cfg.WalletID = " "
	cfg.CaptchaProvider = CaptchaHCaptcha
	cfg.MaxReward = decimal.Zero

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"NODE_URL", "WALLET_ID", "HCAPTCHA_SITE_KEY", "HCAPTCHA_SECRET_KEY", "MAX_REWARD"} {
		require.Contains(t, err.Error(), want)
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := validConfig()
	cfg.DBBackend = "mongo"
	require.ErrorContains(t, cfg.Validate(), "DB_BACKEND")
}

func TestValidateRequiresProxyContact(t *testing.T) {
	cfg := validConfig()
	cfg.ProxyCheckEnabled = true
	require.ErrorContains(t, cfg.Validate(), "PROXY_CHECK_CONTACT")
}

func TestValidateLeaseCoversClaimWork(t *testing.T) {
	cfg := validConfig()
	cfg.ClaimLease = 10 * time.Second
	cfg.PaymentTimeout = 30 * time.Second
	require.ErrorContains(t, cfg.Validate(), "CLAIM_LEASE")

	cfg.ClaimLease = time.Minute
	cfg.ClassifierTimeout = 20 * time.Second
	cfg.NodeTimeout = 10 * time.Second
	require.ErrorContains(t, cfg.Validate(), "CLAIM_LEASE", "a lease equal to the work plus margin is too short")

	cfg.ClaimLease = 2 * time.Minute
	require.NoError(t, cfg.Validate())
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("FORAGER_TEST_DURATION", "90m")
	require.Equal(t, 90*time.Minute, getEnvDuration("FORAGER_TEST_DURATION", time.Second))

	t.Setenv("FORAGER_TEST_DURATION", "3600000")
	require.Equal(t, time.Hour, getEnvDuration("FORAGER_TEST_DURATION", time.Second))

	t.Setenv("FORAGER_TEST_DURATION", "soon")
	require.Equal(t, time.Second, getEnvDuration("FORAGER_TEST_DURATION", time.Second))
}

func TestLoadParsesMaxReward(t *testing.T) {
	t.Setenv("MAX_REWARD", "2.5")
	t.Setenv("COOLDOWN", "30m")
	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.MaxReward.Equal(decimal.RequireFromString("2.5")))
	require.Equal(t, 30*time.Minute, cfg.Cooldown)

	t.Setenv("MAX_REWARD", "lots")
	_, err = Load()
	require.Error(t, err)
}
