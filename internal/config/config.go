package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every configuration surface of the engine, loaded once at
// startup and not reloaded; hot-reload is not supported.
type Config struct {
	Database  DatabaseConfig
	Cache     CacheConfig
	Logging   LoggingConfig
	Admin     AdminConfig
	Orchestra OrchestratorConfig
	Trading   TradingConfig
	Exchange  ExchangeConfig
}

// ExchangeConfig names the registered adapters this process should
// construct. Name is the single reference market source (regime
// classification, indicator candles, the BTC drop-protection override,
// and the price feed). Enabled lists every exchange name a configured
// bot might execute against; FanOut needs one adapter per name. Both
// are looked up through exchange.Get/streaming.GetFeed, since concrete
// exchange wire protocols are out of scope for this module; see
// DESIGN.md.
type ExchangeConfig struct {
	Name    string
	Enabled []string
}

// DatabaseConfig configures the Postgres connection used for persistence
// and PubSubBus NOTIFY/LISTEN.
type DatabaseConfig struct {
	Driver  string
	Host    string
	Port    int
	Name    string
	User    string
	Password string
	SSLMode string

	MaxOpenConns int
	MaxIdleConns int
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode)
}

// CacheConfig configures the Redis distributed cache backing
// MarketDataAggregator and LeaderElection.
type CacheConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level  string
	Format string // "json" or "console"
}

// AdminConfig configures the minimal /healthz + /metrics admin surface
// exposed by every long-lived process, separate from any application API.
type AdminConfig struct {
	Port int
}

// OrchestratorConfig configures the orchestrator's main and peak tickers
// plus the aggregator's background refresh cadence.
type OrchestratorConfig struct {
	MainTickInterval  time.Duration
	PeakTickInterval  time.Duration
	AggregatorRefresh time.Duration
	InstanceID        string
}

// TradingConfig carries every threshold the trading engine needs in one
// object: the entry filter, erosion caps, underwater table, pyramid
// gates, cooldowns, and sizing multipliers.
type TradingConfig struct {
	MaxEntrySpreadPct            float64 // stage 1: (ask-bid)/bid reject threshold
	EntryMinIntrabarMomentumPct  float64 // stage 1 choppy guard
	HealthGateMinADX             float64 // stage 2
	TransitioningADXLow          float64 // stage 2 zone lower bound (inclusive)
	TransitioningADXHigh         float64 // stage 2 zone upper bound (exclusive)
	TransitioningADXSlopeMin     float64 // stage 2 rising-slope threshold
	AIConfidenceThreshold        float64 // stage 5, global, 0-100
	PyramidLevel1MinConfidence   float64
	PyramidLevel2MinConfidence   float64

	BTCMomentumDropFloor     float64 // stage 3: reject below this BTC momentum override
	VolumePanicRatio         float64 // stage 3: volumeRatio at/above this counts as a panic spike
	SpreadWidenMultiplier    float64 // stage 3: reject if current spread exceeds pre-filter spread by this factor
	RSIExtremeTop            float64 // stage 4: RSI at/above this counts as an extreme top
	MomentumRecoverySlopeMin float64 // stage 4: adxSlope above this counts as a recovery despite momentum1h<=0

	MomentumSteepFallADXSlopeMax float64 // momentum exit: adxSlope below this (with ADX>25) counts as a steep fall vote

	ErosionMinPeakPct float64 // EROSION_MIN_PEAK_PCT, default 0.3

	StaleUnderwaterMinutes float64

	MaxLossStreak       int
	LossCooldownBase    time.Duration
	LossCooldownHours   time.Duration

	TakerFeePct float64 // default per-leg (entry or exit) taker fee assumption when exchange fee is unavailable
}

// Load reads configuration from the process environment, optionally
// preceded by a .env file in the working directory (ignored if absent).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			Driver:       getEnv("DB_DRIVER", "postgres"),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			Name:         getEnv("DB_NAME", "tradeengine"),
			User:         getEnv("DB_USER", "tradeengine"),
			Password:     getEnv("DB_PASSWORD", ""),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		},
		Cache: CacheConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Admin: AdminConfig{
			Port: getEnvAsInt("ADMIN_PORT", 9090),
		},
		Orchestra: OrchestratorConfig{
			MainTickInterval:  getEnvAsDuration("MAIN_TICK_INTERVAL", 30*time.Second),
			PeakTickInterval:  time.Duration(getEnvAsInt("PEAK_TRACKING_INTERVAL_MS", 1000)) * time.Millisecond,
			AggregatorRefresh: getEnvAsDuration("AGGREGATOR_REFRESH_INTERVAL", 4*time.Second),
			InstanceID:        getEnv("INSTANCE_ID", defaultInstanceID()),
		},
		Trading: TradingConfig{
			MaxEntrySpreadPct:            getEnvAsFloat("MAX_ENTRY_SPREAD_PCT", 0.003),
			EntryMinIntrabarMomentumPct:  getEnvAsFloat("ENTRY_MIN_INTRABAR_MOMENTUM_CHOPPY", 0.05),
			HealthGateMinADX:             getEnvAsFloat("HEALTH_GATE_MIN_ADX", 20.0),
			TransitioningADXLow:          getEnvAsFloat("TRANSITIONING_ADX_LOW", 20.0),
			TransitioningADXHigh:         getEnvAsFloat("TRANSITIONING_ADX_HIGH", 25.0),
			TransitioningADXSlopeMin:     getEnvAsFloat("TRANSITIONING_ADX_SLOPE_MIN", 0.5),
			AIConfidenceThreshold:        getEnvAsFloat("AI_CONFIDENCE_THRESHOLD", 70.0),
			PyramidLevel1MinConfidence:   getEnvAsFloat("PYRAMID_L1_MIN_CONFIDENCE", 85.0),
			PyramidLevel2MinConfidence:   getEnvAsFloat("PYRAMID_L2_MIN_CONFIDENCE", 90.0),
			BTCMomentumDropFloor:         getEnvAsFloat("BTC_MOMENTUM_DROP_FLOOR", -2.0),
			VolumePanicRatio:             getEnvAsFloat("VOLUME_PANIC_RATIO", 3.0),
			SpreadWidenMultiplier:        getEnvAsFloat("SPREAD_WIDEN_MULTIPLIER", 1.5),
			RSIExtremeTop:                getEnvAsFloat("RSI_EXTREME_TOP", 80.0),
			MomentumRecoverySlopeMin:     getEnvAsFloat("MOMENTUM_RECOVERY_SLOPE_MIN", 0.0),
			MomentumSteepFallADXSlopeMax: getEnvAsFloat("MOMENTUM_STEEP_FALL_ADX_SLOPE_MAX", -0.5),
			ErosionMinPeakPct:            getEnvAsFloat("EROSION_MIN_PEAK_PCT", 0.3),
			StaleUnderwaterMinutes:       getEnvAsFloat("STALE_UNDERWATER_MINUTES", 60*24),
			MaxLossStreak:                getEnvAsInt("RISK_MAX_LOSS_STREAK", 5),
			LossCooldownBase:             getEnvAsDuration("RISK_LOSS_COOLDOWN_BASE", 5*time.Minute),
			LossCooldownHours:            getEnvAsDuration("RISK_LOSS_COOLDOWN_HOURS", 4*time.Hour),
			TakerFeePct:                  getEnvAsFloat("TAKER_FEE_PCT", 0.001),
		},
		Exchange: ExchangeConfig{
			Name:    getEnv("PRIMARY_EXCHANGE", "bybit"),
			Enabled: getEnvAsList("ENABLED_EXCHANGES", []string{"bybit"}),
		},
	}

	if cfg.Database.Name == "" {
		return nil, fmt.Errorf("DB_NAME is required")
	}

	return cfg, nil
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "instance"
	}
	return host
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	list := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			list = append(list, p)
		}
	}
	if len(list) == 0 {
		return defaultValue
	}
	return list
}
