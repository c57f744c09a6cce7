package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	BackendPostgres = "postgres"
	BackendLevelDB  = "leveldb"

	CaptchaHCaptcha    = "hcaptcha"
	CaptchaProofOfWork = "argon2"

	// LeaseMargin is kept free at the end of a claim lease for the payout
	// hold to be written.
	LeaseMargin = 5 * time.Second
)

type Config struct {
	DBBackend   string
	DBHost      string
	DBPort      int
	DBName      string
	DBUser      string
	DBPassword  string
	DBSSLMode   string
	LevelDBPath string

	ServerPort string
	ServerHost string

	NodeURL        string
	WalletID       string
	FaucetAddress  string
	NodeTimeout    time.Duration
	PaymentTimeout time.Duration

	MaxReward       decimal.Decimal
	Cooldown        time.Duration
	ClaimLease      time.Duration
	MinAddressAge   time.Duration
	DonationAddress string
	BananaLabel     string

	ClassifierURL     string
	ClassifierTimeout time.Duration
	ImageSize         int
	MinImageBytes     int64
	MaxImageBytes     int64
	UploadDir         string

	CaptchaProvider   string
	HCaptchaSiteKey   string
	HCaptchaSecret    string
	HCaptchaVerifyURL string
	CaptchaTimeout    time.Duration

	ProxyCheckEnabled bool
	ProxyCheckURL     string
	ProxyCheckContact string
	ProxyThreshold    float64
	ProxyCheckTimeout time.Duration

	Argon2Time         uint32
	Argon2Memory       uint32
	Argon2Threads      uint8
	Argon2KeyLength    uint32
	Argon2SaltLength   int
	Argon2TargetPrefix string
	Argon2MaxSolveTime int

	ChallengeExpiryMinutes int
	CleanupSchedule        string

	SweepSchedule string
	SweepOnStart  bool

	APIRateLimitRequests   int
	APIRateLimitWindowMins int
	ClaimRateLimitPerMin   float64
	ClaimRateLimitBurst    int
	APICORSOrigins         []string
	TrustProxyHeaders      bool

	WebhookURL string

	Env      string
	LogLevel string
	LogFile  string

	EnableMetrics bool
}

func Load() (*Config, error) {
	godotenv.Load("config.env")

	maxReward, err := decimal.NewFromString(getEnvString("MAX_REWARD", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_REWARD: %w", err)
	}

	cfg := &Config{
		DBBackend:   getEnvString("DB_BACKEND", BackendLevelDB),
		DBHost:      getEnvString("DB_HOST", "localhost"),
		DBPort:      getEnvInt("DB_PORT", 5432),
		DBName:      getEnvString("DB_NAME", "banano_forager"),
		DBUser:      getEnvString("DB_USER", "postgres"),
		DBPassword:  getEnvString("DB_PASSWORD", ""),
		DBSSLMode:   getEnvString("DB_SSL_MODE", "disable"),
		LevelDBPath: getEnvString("LEVELDB_PATH", "data/forager"),

		ServerPort: getEnvString("SERVER_PORT", "8080"),
		ServerHost: getEnvString("SERVER_HOST", "localhost"),

		NodeURL:        getEnvString("NODE_URL", ""),
		WalletID:       getEnvString("WALLET_ID", ""),
		FaucetAddress:  getEnvString("FAUCET_ADDRESS", ""),
		NodeTimeout:    getEnvDuration("NODE_TIMEOUT", 10*time.Second),
		PaymentTimeout: getEnvDuration("PAYMENT_TIMEOUT", 30*time.Second),

		MaxReward:       maxReward,
		Cooldown:        getEnvDuration("COOLDOWN", time.Hour),
		ClaimLease:      getEnvDuration("CLAIM_LEASE", 2*time.Minute),
		MinAddressAge:   getEnvDuration("MIN_ADDRESS_AGE", 14*24*time.Hour),
		DonationAddress: getEnvString("DONATION_ADDRESS", "ban_1picturessx4aedsf59gm6qjkm6e3od4384m1qpfnotgsuoczbmhdb3e1zkh"),
		BananaLabel:     getEnvString("BANANA_LABEL", "banana"),

		ClassifierURL:     getEnvString("CLASSIFIER_URL", ""),
		ClassifierTimeout: getEnvDuration("CLASSIFIER_TIMEOUT", 20*time.Second),
		ImageSize:         getEnvInt("IMAGE_SIZE", 224),
		MinImageBytes:     int64(getEnvInt("MIN_IMAGE_BYTES", 500*1042)),
		MaxImageBytes:     int64(getEnvInt("MAX_IMAGE_BYTES", 10*1024*1024)),
		UploadDir:         getEnvString("UPLOAD_DIR", ""),

		CaptchaProvider:   getEnvString("CAPTCHA_PROVIDER", CaptchaHCaptcha),
		HCaptchaSiteKey:   getEnvString("HCAPTCHA_SITE_KEY", ""),
		HCaptchaSecret:    getEnvString("HCAPTCHA_SECRET_KEY", ""),
		HCaptchaVerifyURL: getEnvString("HCAPTCHA_VERIFY_URL", "https://api.hcaptcha.com/siteverify"),
		CaptchaTimeout:    getEnvDuration("CAPTCHA_TIMEOUT", 10*time.Second),

		ProxyCheckEnabled: getEnvBool("PROXY_CHECK_ENABLED", true),
		ProxyCheckURL:     getEnvString("PROXY_CHECK_URL", "https://check.getipintel.net/check.php"),
		ProxyCheckContact: getEnvString("PROXY_CHECK_CONTACT", ""),
		ProxyThreshold:    getEnvFloat("PROXY_THRESHOLD", 0.98),
		ProxyCheckTimeout: getEnvDuration("PROXY_CHECK_TIMEOUT", 5*time.Second),

		Argon2Time:         uint32(getEnvInt("ARGON2_TIME", 3)),
		Argon2Memory:       uint32(getEnvInt("ARGON2_MEMORY", 65536)),
		Argon2Threads:      uint8(getEnvInt("ARGON2_THREADS", 1)),
		Argon2KeyLength:    uint32(getEnvInt("ARGON2_KEY_LENGTH", 32)),
		Argon2SaltLength:   getEnvInt("ARGON2_SALT_LENGTH", 16),
		Argon2TargetPrefix: getEnvString("ARGON2_TARGET_PREFIX", "000"),
		Argon2MaxSolveTime: getEnvInt("ARGON2_MAX_SOLVE_TIME", 30),

		ChallengeExpiryMinutes: getEnvInt("CHALLENGE_EXPIRY_MINUTES", 5),
		CleanupSchedule:        getEnvString("CHALLENGE_CLEANUP_SCHEDULE", "@every 10m"),

		SweepSchedule: getEnvString("SWEEP_SCHEDULE", "@every 15m"),
		SweepOnStart:  getEnvBool("SWEEP_ON_START", true),

		APIRateLimitRequests:   getEnvInt("API_RATE_LIMIT_REQUESTS", 600),
		APIRateLimitWindowMins: getEnvInt("API_RATE_LIMIT_WINDOW_MINUTES", 1),
		ClaimRateLimitPerMin:   getEnvFloat("CLAIM_RATE_LIMIT_PER_MINUTE", 6),
		ClaimRateLimitBurst:    getEnvInt("CLAIM_RATE_LIMIT_BURST", 3),
		APICORSOrigins:         getEnvStringSlice("API_CORS_ORIGINS", []string{"*"}),
		TrustProxyHeaders:      getEnvBool("TRUST_PROXY_HEADERS", true),

		WebhookURL: getEnvString("WEBHOOK_URL", ""),

		Env:      getEnvString("APP_ENV", "development"),
		LogLevel: getEnvString("LOG_LEVEL", "info"),
		LogFile:  getEnvString("LOG_FILE", ""),

		EnableMetrics: getEnvBool("ENABLE_METRICS", true),
	}

	return cfg, nil
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	require := func(value, name string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s is not set", name))
		}
	}

	require(c.NodeURL, "NODE_URL")
	require(c.WalletID, "WALLET_ID")
	require(c.FaucetAddress, "FAUCET_ADDRESS")
	require(c.ClassifierURL, "CLASSIFIER_URL")

	switch c.CaptchaProvider {
	case CaptchaHCaptcha:
		require(c.HCaptchaSiteKey, "HCAPTCHA_SITE_KEY")
		require(c.HCaptchaSecret, "HCAPTCHA_SECRET_KEY")
	case CaptchaProofOfWork:
	default:
		errs = append(errs, fmt.Errorf("unknown CAPTCHA_PROVIDER %q", c.CaptchaProvider))
	}

	switch c.DBBackend {
	case BackendPostgres:
		require(c.DBHost, "DB_HOST")
		require(c.DBName, "DB_NAME")
	case BackendLevelDB:
		require(c.LevelDBPath, "LEVELDB_PATH")
	default:
		errs = append(errs, fmt.Errorf("unknown DB_BACKEND %q", c.DBBackend))
	}

	if c.ProxyCheckEnabled {
		require(c.ProxyCheckContact, "PROXY_CHECK_CONTACT")
	}
	if !c.MaxReward.IsPositive() {
		errs = append(errs, fmt.Errorf("MAX_REWARD must be positive"))
	}
	if c.Cooldown <= 0 {
		errs = append(errs, fmt.Errorf("COOLDOWN must be positive"))
	}
	if c.ClaimLease <= 0 {
		errs = append(errs, fmt.Errorf("CLAIM_LEASE must be positive"))
	} else if need := c.ClassifierTimeout + c.PaymentTimeout + c.NodeTimeout + LeaseMargin; c.ClaimLease <= need {
		errs = append(errs, fmt.Errorf("CLAIM_LEASE must be longer than %s (classifier, payment and node timeouts plus %s)", need, LeaseMargin))
	}
	if c.ImageSize < 32 {
		errs = append(errs, fmt.Errorf("IMAGE_SIZE must be at least 32"))
	}
	if c.MaxImageBytes <= 0 || c.MinImageBytes > c.MaxImageBytes {
		errs = append(errs, fmt.Errorf("image size bounds are inconsistent"))
	}
	if c.ProxyThreshold <= 0 || c.ProxyThreshold > 1 {
		errs = append(errs, fmt.Errorf("PROXY_THRESHOLD must be in (0,1]"))
	}

	return errors.Join(errs...)
}

func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings and, for compatibility with
// older deployments, bare integers interpreted as milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
