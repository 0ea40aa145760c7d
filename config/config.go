// config/config.go
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// DisconnectPolicy decides what happens to an active match when a participant drops.
type DisconnectPolicy string

const (
	// DisconnectForfeit settles the match in favour of the participant still connected.
	DisconnectForfeit DisconnectPolicy = "forfeit"
	// DisconnectVoid ends the match and releases both entry fees.
	DisconnectVoid DisconnectPolicy = "void"
)

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	CDNBaseURL      string
}

// Enabled reports whether receipt archiving has enough configuration to run.
func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.Bucket != "" && c.AccessKeyID != ""
}

type Config struct {
	Port           string
	DBDriver       string
	DatabaseURL    string
	GatewayToken   string
	ServiceAPIKey  string
	AllowedOrigins []string

	EntryFee            decimal.Decimal
	WinThreshold        int64
	PlatformFeeFraction decimal.Decimal
	Currency            string
	CurrencyPrecision   int32
	DisconnectPolicy    DisconnectPolicy
	LedgerCallTimeout   time.Duration
	HoldTTL             time.Duration
	ArchiveInterval     time.Duration
	RootNodeName        string

	LogLevel  string
	LogPretty bool

	R2 R2Config
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from an env lookup function and validates it.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	var errs []error
	decimalVar := func(key, def string) decimal.Decimal {
		d, err := decimal.NewFromString(get(key, def))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return d
	}
	intVar := func(key, def string) int64 {
		n, err := strconv.ParseInt(get(key, def), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return n
	}
	durationVar := func(key, def string) time.Duration {
		d, err := time.ParseDuration(get(key, def))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return d
	}

	cfg := &Config{
		Port:                get("PORT", "5300"),
		DBDriver:            strings.ToLower(get("DB_DRIVER", "postgres")),
		DatabaseURL:         get("DATABASE_URL", ""),
		GatewayToken:        get("GAME_SERVICE_TOKEN", ""),
		ServiceAPIKey:       get("SERVICE_API_KEY", ""),
		EntryFee:            decimalVar("ENTRY_FEE", "100"),
		WinThreshold:        intVar("WIN_THRESHOLD", "100"),
		PlatformFeeFraction: decimalVar("PLATFORM_FEE_FRACTION", "0.10"),
		Currency:            get("CURRENCY", "CRD"),
		CurrencyPrecision:   int32(intVar("CURRENCY_PRECISION", "2")),
		DisconnectPolicy:    DisconnectPolicy(strings.ToLower(get("DISCONNECT_POLICY", string(DisconnectForfeit)))),
		LedgerCallTimeout:   durationVar("LEDGER_CALL_TIMEOUT", "10s"),
		HoldTTL:             durationVar("HOLD_TTL", "30m"),
		ArchiveInterval:     durationVar("ARCHIVE_INTERVAL", "1m"),
		RootNodeName:        get("ROOT_NODE_NAME", "Platform"),
		LogLevel:            get("LOG_LEVEL", "info"),
		LogPretty:           strings.EqualFold(get("LOG_PRETTY", "false"), "true"),
		R2: R2Config{
			AccountID:       get("CLOUDFLARE_ACCOUNT_ID", ""),
			AccessKeyID:     get("R2_ACCESS_KEY_ID", ""),
			AccessKeySecret: get("R2_ACCESS_KEY_SECRET", ""),
			Bucket:          get("R2_BUCKET_NAME", ""),
			CDNBaseURL:      get("CDN_BASE_URL", ""),
		},
	}

	for _, origin := range strings.Split(get("ALLOWED_ORIGINS", "http://localhost:3000"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}

	if cfg.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL environment variable not set"))
	}
	if cfg.DBDriver != "postgres" && cfg.DBDriver != "sqlite" {
		errs = append(errs, fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", cfg.DBDriver))
	}
	if cfg.GatewayToken == "" {
		errs = append(errs, errors.New("GAME_SERVICE_TOKEN environment variable not set"))
	}
	if cfg.ServiceAPIKey == "" {
		errs = append(errs, errors.New("SERVICE_API_KEY environment variable not set"))
	}
	if cfg.ServiceAPIKey != "" && cfg.ServiceAPIKey == cfg.GatewayToken {
		errs = append(errs, errors.New("SERVICE_API_KEY must differ from GAME_SERVICE_TOKEN"))
	}
	if !cfg.EntryFee.IsPositive() {
		errs = append(errs, errors.New("ENTRY_FEE must be positive"))
	}
	if cfg.WinThreshold <= 0 {
		errs = append(errs, errors.New("WIN_THRESHOLD must be positive"))
	}
	if cfg.PlatformFeeFraction.IsNegative() || cfg.PlatformFeeFraction.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, errors.New("PLATFORM_FEE_FRACTION must be within [0,1]"))
	}
	if cfg.CurrencyPrecision < 0 || cfg.CurrencyPrecision > 4 {
		errs = append(errs, errors.New("CURRENCY_PRECISION must be within [0,4]"))
	}
	if cfg.DisconnectPolicy != DisconnectForfeit && cfg.DisconnectPolicy != DisconnectVoid {
		errs = append(errs, fmt.Errorf("DISCONNECT_POLICY must be forfeit or void, got %q", cfg.DisconnectPolicy))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}
