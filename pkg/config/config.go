package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"SignalGate/pkg/util"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Log         struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Server struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		SlowRequest     time.Duration `yaml:"slow_request" default:"500ms"`
		APIRPS          float64       `yaml:"api_rps" default:"5" validate:"gt=0"`
		APIBurst        int           `yaml:"api_burst" default:"10" validate:"gt=0"`
		CORS            *bool         `yaml:"cors" default:"true"`
	} `yaml:"server"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
		Topics       struct {
			Trades     string `yaml:"trades" default:"market.trades"`
			Liquidity  string `yaml:"liquidity" default:"market.liquidity"`
			Prices     string `yaml:"prices" default:"market.prices"`
			Volumes    string `yaml:"volumes" default:"market.volumes"`
			OrderBooks string `yaml:"orderbooks" default:"market.orderbooks"`
			Latency    string `yaml:"latency" default:"ops.latency"`
			Signals    string `yaml:"signals" default:"signals.combined"`
			Decisions  string `yaml:"decisions" default:"signals.decisions"`
			Logs       string `yaml:"logs" default:"ops.logs"`
		} `yaml:"topics"`
		Producer struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"signalgate"`
			Workers    int           `yaml:"workers" default:"8" validate:"gt=0"`
			BufferSize int           `yaml:"buffer_size" default:"256" validate:"gt=0"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10000000"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"signalgate"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"signalgate"`
		PoolSize int    `yaml:"pool_size" default:"10"`
	} `yaml:"redis"`
	Feed struct {
		Enabled        bool          `yaml:"enabled"`
		URL            string        `yaml:"url"`
		Symbols        []string      `yaml:"symbols"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"20s"`
	} `yaml:"feed"`
	Pipeline struct {
		MaxRPS      float64 `yaml:"max_rps" default:"200"`
		Burst       int     `yaml:"burst" default:"400"`
		BufferSize  int     `yaml:"buffer_size" default:"2000"`
		WorkerQueue int     `yaml:"worker_queue" default:"1024" validate:"gt=0"`

		// Unthrottled streams bypass the per-symbol rate limit; every trade must reach the
		// order-flow window.
		Unthrottled []string `yaml:"unthrottled" default:"[\"trades\"]" validate:"dive,oneof=trades liquidity prices volumes orderbook latency"`
	} `yaml:"pipeline"`
	Sink struct {
		BatchSize    int           `yaml:"batch_size" default:"100" validate:"gt=0"`
		BatchTimeout time.Duration `yaml:"batch_timeout" default:"2s"`
		Breaker      BreakerConfig `yaml:"breaker"`
	} `yaml:"sink"`
	Detectors  DetectorsConfig  `yaml:"detectors"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Cooldown   CooldownConfig   `yaml:"cooldown"`
	Regime     RegimeConfig     `yaml:"regime"`
	Latency    LatencyConfig    `yaml:"latency"`
	Slippage   SlippageConfig   `yaml:"slippage"`
	Gate       GateConfig       `yaml:"gate"`
}

// BreakerConfig tunes the circuit breaker wrapped around outbound sinks.
type BreakerConfig struct {
	MaxRequests         uint32        `yaml:"max_requests" default:"1"`
	Interval            time.Duration `yaml:"interval" default:"60s"`
	Timeout             time.Duration `yaml:"timeout" default:"30s"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" default:"5"`
}

type DetectorsConfig struct {
	Enabled     []string          `yaml:"enabled" default:"[\"order_flow\",\"liquidity\",\"volume_price\"]" validate:"min=1,dive,oneof=order_flow liquidity volume_price"`
	OrderFlow   OrderFlowConfig   `yaml:"order_flow"`
	Liquidity   LiquidityConfig   `yaml:"liquidity"`
	VolumePrice VolumePriceConfig `yaml:"volume_price"`
	HistorySize int               `yaml:"history_size" default:"1000" validate:"gt=0"`
}

type OrderFlowConfig struct {
	Window             time.Duration `yaml:"window" default:"30s" validate:"gt=0"`
	MaxTrades          int           `yaml:"max_trades" default:"1000" validate:"gt=0"`
	ImbalanceThreshold float64       `yaml:"imbalance_threshold" default:"0.6" validate:"gt=0,lte=1"`
	MinVolume          float64       `yaml:"min_volume" default:"1000" validate:"gte=0"`
	MinDecayWeight     float64       `yaml:"min_decay_weight" default:"0.1" validate:"gte=0,lte=1"`
	Cooldown           time.Duration `yaml:"cooldown" default:"60s"`
}

type LiquidityConfig struct {
	Window                time.Duration `yaml:"window" default:"60s" validate:"gt=0"`
	MaxReadings           int           `yaml:"max_readings" default:"500" validate:"gt=0"`
	RateThreshold         float64       `yaml:"rate_threshold" default:"0.1" validate:"gt=0"`
	AccelerationThreshold float64       `yaml:"acceleration_threshold" default:"0.05" validate:"gt=0"`
	MinLiquidity          float64       `yaml:"min_liquidity" default:"10000" validate:"gte=0"`
	RateSpan              float64       `yaml:"rate_span" default:"5" validate:"gte=1"`
	AccelerationSpan      float64       `yaml:"acceleration_span" default:"3" validate:"gte=1"`
	Cooldown              time.Duration `yaml:"cooldown" default:"120s"`
}

type VolumePriceConfig struct {
	Window               time.Duration `yaml:"window" default:"120s" validate:"gt=0"`
	MaxSamples           int           `yaml:"max_samples" default:"500" validate:"gt=0"`
	AlignTolerance       time.Duration `yaml:"align_tolerance" default:"30s" validate:"gt=0"`
	CorrelationThreshold float64       `yaml:"correlation_threshold" default:"0.3" validate:"gte=0,lte=1"`
	VolumeMultiplier     float64       `yaml:"volume_multiplier" default:"2.0" validate:"gt=0"`
	PriceStability       float64       `yaml:"price_stability" default:"0.005" validate:"gt=0"`
	RecentPoints         int           `yaml:"recent_points" default:"10" validate:"gte=2"`
	RecentWeight         float64       `yaml:"recent_weight" default:"0.7" validate:"gte=0,lte=1"`
	MinAligned           int           `yaml:"min_aligned" default:"5" validate:"gte=2"`
	Cooldown             time.Duration `yaml:"cooldown" default:"180s"`
}

type AggregatorConfig struct {
	ConfirmationThreshold int                `yaml:"confirmation_threshold" default:"2" validate:"gte=1"`
	Window                time.Duration      `yaml:"window" default:"30s" validate:"gt=0"`
	Cooldown              time.Duration      `yaml:"cooldown" default:"300s"`
	Weights               map[string]float64 `yaml:"weights" default:"{\"order_flow\":1.0,\"liquidity\":1.0,\"volume_price\":0.8}"`
	MinDecayWeight        float64            `yaml:"min_decay_weight" default:"0.5" validate:"gte=0,lte=1"`
	DiversityStep         float64            `yaml:"diversity_step" default:"0.1" validate:"gte=0"`
	DiversityCap          float64            `yaml:"diversity_cap" default:"0.2" validate:"gte=0"`
	RawEventGrouping      bool               `yaml:"raw_event_grouping"`
	HistorySize           int                `yaml:"history_size" default:"1000" validate:"gt=0"`
}

type CooldownConfig struct {
	Base            time.Duration            `yaml:"base" default:"15m" validate:"gt=0"`
	Min             time.Duration            `yaml:"min" default:"5m" validate:"gt=0"`
	Max             time.Duration            `yaml:"max" default:"60m" validate:"gt=0"`
	OutcomeWindow   int                      `yaml:"outcome_window" default:"10" validate:"gt=0"`
	StaticDuration  bool                     `yaml:"static_duration"`
	SymbolOverrides map[string]time.Duration `yaml:"symbol_overrides"`
}

type RegimeConfig struct {
	Window      time.Duration `yaml:"window" default:"300s" validate:"gt=0"`
	MaxPrices   int           `yaml:"max_prices" default:"1000" validate:"gt=0"`
	MinPrices   int           `yaml:"min_prices" default:"10" validate:"gte=2"`
	MinReturns  int           `yaml:"min_returns" default:"5" validate:"gte=2"`
	Persistence int           `yaml:"persistence" default:"3" validate:"gte=1"`
	Calm        float64       `yaml:"calm" default:"0.02" validate:"gt=0"`
	Normal      float64       `yaml:"normal" default:"0.05" validate:"gt=0"`
	Volatile    float64       `yaml:"volatile" default:"0.10" validate:"gt=0"`
	BTCSymbols  []string      `yaml:"btc_symbols" default:"[\"BTC\",\"BTCUSDT\"]"`
	ETHSymbols  []string      `yaml:"eth_symbols" default:"[\"ETH\",\"ETHUSDT\"]"`
	HistorySize int           `yaml:"history_size" default:"100" validate:"gt=0"`
}

type LatencyConfig struct {
	BufferSize       int                `yaml:"buffer_size" default:"100" validate:"gt=0"`
	PercentileWindow int                `yaml:"percentile_window" default:"20" validate:"gt=0"`
	LowMs            float64            `yaml:"low_ms" default:"50"`
	MediumMs         float64            `yaml:"medium_ms" default:"100"`
	HighMs           float64            `yaml:"high_ms" default:"200"`
	TrendFactor      float64            `yaml:"trend_factor" default:"1.1"`
	ApplyTolerance   float64            `yaml:"apply_tolerance" default:"0.05"`
	BottleneckMs     float64            `yaml:"bottleneck_ms" default:"100"`
	ComponentWeights map[string]float64 `yaml:"component_weights" default:"{\"data_acquisition\":1.0,\"signal_processing\":0.8,\"database_write\":0.6,\"api_calls\":0.7,\"network\":0.9}"`
	BaseThresholds   map[string]float64 `yaml:"base_thresholds" default:"{\"max_signal_age_seconds\":10}"`
}

type SlippageConfig struct {
	MaxSlippage     float64 `yaml:"max_slippage" default:"0.02" validate:"gt=0"`
	MinProfit       float64 `yaml:"min_profit" default:"0.001" validate:"gte=0"`
	FeeRate         float64 `yaml:"fee_rate" default:"0.001" validate:"gte=0"`
	MinTradeSizeUSD float64 `yaml:"min_trade_size_usd" default:"100" validate:"gt=0"`
	DepthLevels     int     `yaml:"depth_levels" default:"20" validate:"gt=0"`
	MaxIterations   int     `yaml:"max_iterations" default:"20" validate:"gt=0,lte=100"`
}

type GateConfig struct {
	TradeSizeUSD float64       `yaml:"trade_size_usd" default:"1000" validate:"gt=0"`
	ExpectedMove float64       `yaml:"expected_move" default:"0.03" validate:"gt=0"`
	Majors       []string      `yaml:"majors" default:"[\"BTC\",\"BTCUSDT\",\"ETH\",\"ETHUSDT\"]"`
	ClaimTTL     time.Duration `yaml:"claim_ttl" default:"30s"`
}

var validate = validator.New()

// ManagedThresholds returns the base values the latency manager loosens: the detector trigger
// levels keyed by detector name, the aggregator confirmation threshold and the configured
// base thresholds, which take precedence.
func (c *Config) ManagedThresholds() map[string]float64 {
	out := map[string]float64{
		"order_flow":             c.Detectors.OrderFlow.ImbalanceThreshold,
		"liquidity":              c.Detectors.Liquidity.RateThreshold,
		"volume_price":           c.Detectors.VolumePrice.VolumeMultiplier,
		"confirmation_threshold": float64(c.Aggregator.ConfirmationThreshold),
	}
	for k, v := range c.Latency.BaseThresholds {
		out[k] = v
	}
	return out
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads and parses a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes on top of the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Feed.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port, _ := strings.Cut(v, ":")
		c.Redis.Host = host
		c.Redis.Port = util.ParseIntDefault(port, c.Redis.Port)
		c.Redis.Enabled = true
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
		c.ClickHouse.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Feed.Enabled && c.Feed.URL == "" {
		return fmt.Errorf("feed.url is required when the feed is enabled")
	}
	if c.Cooldown.Min > c.Cooldown.Max {
		return fmt.Errorf("cooldown.min (%s) must not exceed cooldown.max (%s)", c.Cooldown.Min, c.Cooldown.Max)
	}
	if !(c.Regime.Calm < c.Regime.Normal && c.Regime.Normal < c.Regime.Volatile) {
		return fmt.Errorf("regime thresholds must be increasing: calm=%v normal=%v volatile=%v",
			c.Regime.Calm, c.Regime.Normal, c.Regime.Volatile)
	}
	if !(c.Latency.LowMs < c.Latency.MediumMs && c.Latency.MediumMs < c.Latency.HighMs) {
		return fmt.Errorf("latency thresholds must be increasing")
	}
	return nil
}
