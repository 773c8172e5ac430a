// Package config loads and validates the trader's YAML configuration.
package config

import (
	"encoding/json"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/marlinquant/marlin-trading/internal/broker"
	"github.com/marlinquant/marlin-trading/internal/marketdata"
	"github.com/marlinquant/marlin-trading/internal/position"
	"github.com/marlinquant/marlin-trading/internal/risk"
	"github.com/marlinquant/marlin-trading/pkg/errors"
)

// BrokerType selects the order gateway.
type BrokerType string

const (
	BrokerPaper   BrokerType = "paper"
	BrokerBinance BrokerType = "binance"
)

// FeedConfig selects and parameterizes the market data source.
type FeedConfig struct {
	Type marketdata.FeedType `yaml:"type" json:"type" jsonschema:"title=Feed Type,enum=binance,enum=websocket,enum=replay" validate:"required,oneof=binance websocket replay"`
	// URL is the endpoint for the websocket feed type.
	URL string `yaml:"url" json:"url" jsonschema:"title=Feed URL"`
	// File is the CSV bar file for the replay feed type.
	File string `yaml:"file" json:"file" jsonschema:"title=Replay Bar File"`
}

// BrokerConfig selects and parameterizes the order gateway.
type BrokerConfig struct {
	Type BrokerType `yaml:"type" json:"type" jsonschema:"title=Broker Type,enum=paper,enum=binance" validate:"required,oneof=paper binance"`
	// InitialBalance seeds the paper gateway's account.
	InitialBalance float64 `yaml:"initial_balance" json:"initial_balance" jsonschema:"title=Initial Balance"`
	// Binance holds venue credentials; required when Type is binance.
	Binance *broker.BinanceConfig `yaml:"binance" json:"binance,omitempty"`
}

// IndicatorConfig parameterizes the indicator set the strategy runs on.
type IndicatorConfig struct {
	// MAType selects the moving average formula for both crossover legs.
	MAType     string `yaml:"ma_type" json:"ma_type" jsonschema:"title=MA Type,enum=sma,enum=ema,enum=wma" validate:"required,oneof=sma ema wma"`
	FastPeriod int    `yaml:"fast_period" json:"fast_period" jsonschema:"title=Fast Period" validate:"required,gt=0"`
	SlowPeriod int    `yaml:"slow_period" json:"slow_period" jsonschema:"title=Slow Period" validate:"required,gt=0"`
	RSIPeriod  int    `yaml:"rsi_period" json:"rsi_period" jsonschema:"title=RSI Period" validate:"required,gt=0"`
	ATRPeriod  int    `yaml:"atr_period" json:"atr_period" jsonschema:"title=ATR Period" validate:"required,gt=0"`
	// RSIFilter gates entries on RSI not being stretched.
	RSIFilter     bool    `yaml:"rsi_filter" json:"rsi_filter" jsonschema:"title=RSI Filter"`
	RSIOverbought float64 `yaml:"rsi_overbought" json:"rsi_overbought" jsonschema:"title=RSI Overbought"`
	RSIOversold   float64 `yaml:"rsi_oversold" json:"rsi_oversold" jsonschema:"title=RSI Oversold"`
	// AllowShort enables short entries on downward crossovers.
	AllowShort bool `yaml:"allow_short" json:"allow_short" jsonschema:"title=Allow Short"`
}

// APIConfig parameterizes the HTTP status server.
type APIConfig struct {
	// ListenAddr is the bind address; empty disables the server.
	ListenAddr string `yaml:"listen_addr" json:"listen_addr" jsonschema:"title=Listen Address"`
}

// Config is the full trader configuration.
type Config struct {
	Symbols  []string `yaml:"symbols" json:"symbols" jsonschema:"title=Symbols" validate:"required,min=1,dive,required"`
	Interval string   `yaml:"interval" json:"interval" jsonschema:"title=Bar Interval" validate:"required"`
	LogLevel string   `yaml:"log_level" json:"log_level" jsonschema:"title=Log Level"`
	// HistorySize bounds the per-symbol bar buffer.
	HistorySize int `yaml:"history_size" json:"history_size" jsonschema:"title=History Size" validate:"required,gt=1"`

	Feed       FeedConfig      `yaml:"feed" json:"feed"`
	Broker     BrokerConfig    `yaml:"broker" json:"broker"`
	Indicators IndicatorConfig `yaml:"indicators" json:"indicators"`
	Risk       risk.Config     `yaml:"risk" json:"risk"`

	// BreachMode selects intrabar or close-only stop/target checks.
	BreachMode position.BreachMode `yaml:"breach_mode" json:"breach_mode" jsonschema:"title=Breach Mode,enum=intrabar,enum=close" validate:"required,oneof=intrabar close"`
	Retry      broker.RetryPolicy  `yaml:"retry" json:"retry"`
	// MaxExitRetries bounds exit resubmissions after venue rejections.
	MaxExitRetries int `yaml:"max_exit_retries" json:"max_exit_retries" jsonschema:"title=Max Exit Retries" validate:"gte=0"`

	API APIConfig `yaml:"api" json:"api"`
}

// Default returns a config with every optional knob at its working default.
// Symbols and venue credentials still have to come from the file.
func Default() Config {
	return Config{
		Interval:    "1m",
		LogLevel:    "info",
		HistorySize: 500,
		Feed:        FeedConfig{Type: marketdata.FeedBinance},
		Broker:      BrokerConfig{Type: BrokerPaper, InitialBalance: 10000},
		Indicators: IndicatorConfig{
			MAType:        "wma",
			FastPeriod:    10,
			SlowPeriod:    20,
			RSIPeriod:     14,
			ATRPeriod:     14,
			RSIOverbought: 70,
			RSIOversold:   30,
		},
		Risk: risk.Config{
			RiskFraction:        0.02,
			MaxQuantity:         1_000_000,
			MinUnit:             1,
			StopATRMultiplier:   2,
			TargetATRMultiplier: 4,
		},
		BreachMode:     position.BreachModeClose,
		Retry:          broker.DefaultRetryPolicy(),
		MaxExitRetries: 3,
		API:            APIConfig{ListenAddr: ":8080"},
	}
}

// Load reads, decodes and validates the YAML file at path. Missing optional
// fields take their defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(errors.ErrCodeFatalConfig, err, "failed to read config %s", path)
	}

	return Parse(data)
}

// Parse decodes and validates a YAML config document.
func Parse(data []byte) (Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeFatalConfig, "failed to parse config", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// Validate validates the Config struct.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeFatalConfig, "invalid config", err)
	}

	if c.Indicators.FastPeriod >= c.Indicators.SlowPeriod {
		return errors.Newf(errors.ErrCodeFatalConfig,
			"fast period %d must be below slow period %d", c.Indicators.FastPeriod, c.Indicators.SlowPeriod)
	}

	if c.Feed.Type == marketdata.FeedWebsocket && c.Feed.URL == "" {
		return errors.New(errors.ErrCodeFatalConfig, "websocket feed requires a url")
	}

	if c.Feed.Type == marketdata.FeedReplay && c.Feed.File == "" {
		return errors.New(errors.ErrCodeFatalConfig, "replay feed requires a file")
	}

	if c.Broker.Type == BrokerBinance {
		if c.Binance() == nil {
			return errors.New(errors.ErrCodeFatalConfig, "binance broker requires credentials")
		}

		if err := validate.Struct(c.Binance()); err != nil {
			return errors.Wrap(errors.ErrCodeFatalConfig, "invalid binance config", err)
		}
	}

	return nil
}

// Binance returns the venue credentials, or nil when not configured.
func (c *Config) Binance() *broker.BinanceConfig {
	return c.Broker.Binance
}

// ToJSONSchema converts a struct to a JSON schema
func ToJSONSchema[T any](t T) (string, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = true
	schema := r.Reflect(t)

	jsonSchemaBytes, err := json.Marshal(schema)
	if err != nil {
		return "", err
	}

	return string(jsonSchemaBytes), nil
}

// Schema returns the JSON schema of the full configuration.
func Schema() (string, error) {
	//nolint:exhaustruct // Empty struct is intentional for schema generation
	return ToJSONSchema(Config{})
}
