package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"stockscan/internal/util"
)

// DateLayout is the layout of every date field in the configuration.
const DateLayout = "2006-01-02"

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for stockscan.
type Config struct {
	Storage  Storage      `yaml:"storage"`
	Server   Server       `yaml:"server"`
	Alpaca   Alpaca       `yaml:"alpaca"`
	Logging  Logging      `yaml:"logging"`
	Gather   GatherConfig `yaml:"gather"`
	Universe Universe     `yaml:"universe"`
	Backtest Backtest     `yaml:"backtest"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir" validate:"required"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"gte=0,lte=65535"`
}

// Addr returns host:port.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Alpaca holds credentials and endpoints for the Alpaca APIs. BaseURL is the
// trading API, used only for the session calendar.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url" validate:"omitempty,url"`
	DataURL   string `yaml:"data_url" validate:"omitempty,url"`
	Feed      string `yaml:"feed" validate:"omitempty,oneof=iex sip otc"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// GatherConfig controls daily bar downloads.
type GatherConfig struct {
	USDaily GatherJobConfig `yaml:"us_daily"`
}

// GatherJobConfig holds parameters for a single data gathering job.
type GatherJobConfig struct {
	StartDate       string `yaml:"start_date" validate:"omitempty,datetime=2006-01-02"`
	BatchSize       int    `yaml:"batch_size" validate:"gte=0"`
	MaxWorkers      int    `yaml:"max_workers" validate:"gte=0"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min" validate:"gte=0"`
}

// Universe names the tickers to scan. Symbols wins over File; when both are
// empty every symbol in the bar store is used.
type Universe struct {
	File    string   `yaml:"file"`
	Symbols []string `yaml:"symbols" validate:"dive,required"`
}

// Backtest holds every parameter of a backtest run.
type Backtest struct {
	Strategy              string             `yaml:"strategy" validate:"required"`
	StartDate             string             `yaml:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate               string             `yaml:"end_date" validate:"required,datetime=2006-01-02"`
	StartingCash          float64            `yaml:"starting_cash" validate:"gt=0"`
	PositionSizePct       float64            `yaml:"position_size_pct" validate:"gte=0,lte=100"`
	Allocations           map[string]float64 `yaml:"allocations" validate:"dive,keys,required,endkeys,gte=0,lte=100"`
	MaxSupportDistancePct float64            `yaml:"max_support_distance_pct" validate:"gte=0"`
	MaxPositions          int                `yaml:"max_positions" validate:"gte=0"`
	Cadence               string             `yaml:"cadence"`
	TieBreak              string             `yaml:"tie_break" validate:"omitempty,oneof=ticker support_distance"`
	CloseAtEnd            bool               `yaml:"close_at_end"`
	EntryOnTransition     bool               `yaml:"entry_on_transition"`
	Workers               int                `yaml:"workers" validate:"gte=0"`
	OutputDir             string             `yaml:"output_dir"`
	Classifier            Classifier         `yaml:"classifier"`
	Exit                  Exit               `yaml:"exit"`
}

// Classifier holds the signal thresholds.
type Classifier struct {
	MAWindows               []int   `yaml:"ma_windows" validate:"min=1,dive,gt=0"`
	LongMAWindow            int     `yaml:"long_ma_window" validate:"gt=0"`
	LookbackDays            int     `yaml:"lookback_days" validate:"gt=0"`
	SupportMargin           float64 `yaml:"support_margin" validate:"gt=0"`
	MomentumDays            int     `yaml:"momentum_days" validate:"gt=0"`
	P1MinMomentumPct        float64 `yaml:"p1_min_momentum_pct"`
	P1MaxSupportDistancePct float64 `yaml:"p1_max_support_distance_pct" validate:"gte=0"`
	N2MaxMomentumPct        float64 `yaml:"n2_max_momentum_pct"`
	MaxStaleDays            int     `yaml:"max_stale_days" validate:"gte=0"`
}

// Exit is the sell-confirmation rule.
type Exit struct {
	SellStates         []string `yaml:"sell_states" validate:"min=1,dive,oneof=P1 P2 N1 N2"`
	RequireBelowLongMA bool     `yaml:"require_below_long_ma"`
}

// Start parses StartDate.
func (b Backtest) Start() (time.Time, error) {
	return time.Parse(DateLayout, b.StartDate)
}

// End parses EndDate.
func (b Backtest) End() (time.Time, error) {
	return time.Parse(DateLayout, b.EndDate)
}

// Default returns the configuration used for any field the YAML file leaves
// unset.
func Default() *Config {
	return &Config{
		Storage: Storage{DataDir: "data", SQLitePath: "data/stockscan.db"},
		Server:  Server{Host: "127.0.0.1", Port: 8080},
		Alpaca:  Alpaca{BaseURL: "https://paper-api.alpaca.markets", Feed: "iex"},
		Logging: Logging{Level: "info", Format: "json"},
		Gather: GatherConfig{USDaily: GatherJobConfig{
			StartDate:       "2015-01-01",
			BatchSize:       100,
			MaxWorkers:      4,
			RateLimitPerMin: 200,
		}},
		Backtest: Backtest{
			Strategy:              "ma-support",
			StartingCash:          100000,
			PositionSizePct:       10,
			MaxSupportDistancePct: 15,
			Cadence:               util.DefaultCadence,
			TieBreak:              "ticker",
			OutputDir:             "output",
			Classifier: Classifier{
				MAWindows:               []int{20, 50, 100, 200},
				LongMAWindow:            200,
				LookbackDays:            252,
				SupportMargin:           1.10,
				MomentumDays:            20,
				P1MaxSupportDistancePct: 25,
				MaxStaleDays:            7,
			},
			Exit: Exit{SellStates: []string{"N2"}, RequireBelowLongMA: true},
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path over Default and
// then applies environment variable overrides. It does not validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse is Load for an in-memory document.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("ALPACA_FEED"); v != "" {
		cfg.Alpaca.Feed = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("STOCKSCAN_START"); v != "" {
		cfg.Backtest.StartDate = v
	}
	if v := os.Getenv("STOCKSCAN_END"); v != "" {
		cfg.Backtest.EndDate = v
	}
	if v := os.Getenv("STOCKSCAN_STRATEGY"); v != "" {
		cfg.Backtest.Strategy = v
	}
	if v := os.Getenv("STOCKSCAN_STARTING_CASH"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Backtest.StartingCash = f
		}
	}

	// Standard Alpaca env vars take priority; the SDK reads the same names.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// ValidationError lists every problem found by Validate.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidConfig, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidConfig }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field ranges and cross-field rules. Problems are returned
// as a *ValidationError; conditions that are allowed but suspicious, such as
// allocation overrides summing past 100%, come back as warnings.
func (c *Config) Validate() (warnings []string, err error) {
	var problems []string

	if verr := validate.Struct(c); verr != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(verr, &fieldErrs) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, verr)
		}
		for _, fe := range fieldErrs {
			problems = append(problems, describe(fe))
		}
	}

	bt := c.Backtest
	start, serr := bt.Start()
	end, eerr := bt.End()
	if serr == nil && eerr == nil && end.Before(start) {
		problems = append(problems, fmt.Sprintf("backtest.end_date %s is before start_date %s", bt.EndDate, bt.StartDate))
	}
	if _, cerr := util.NewCheckpointCalendar(bt.Cadence); cerr != nil {
		problems = append(problems, "backtest.cadence: "+cerr.Error())
	}

	var sum float64
	for _, pct := range bt.Allocations {
		sum += pct
	}
	if sum > 100 {
		warnings = append(warnings, fmt.Sprintf("backtest.allocations sum to %.2f%%; later buys will be rejected for lack of cash", sum))
	}
	if bt.PositionSizePct == 0 && len(bt.Allocations) == 0 {
		warnings = append(warnings, "backtest.position_size_pct is 0 and no allocations are set; no positions will be opened")
	}

	if len(problems) > 0 {
		return warnings, &ValidationError{Problems: problems}
	}
	return warnings, nil
}

func describe(fe validator.FieldError) string {
	// Namespace is "Config.backtest.start_date"; drop the root type.
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	if fe.Param() != "" {
		return fmt.Sprintf("%s: failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s: failed %s (got %v)", field, fe.Tag(), fe.Value())
}

// Path returns the config file path from STOCKSCAN_CONFIG, or fallback.
func Path(fallback string) string {
	if v := os.Getenv("STOCKSCAN_CONFIG"); v != "" {
		return v
	}
	return fallback
}
