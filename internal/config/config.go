package config

import (
	"os"
	"strings"

	"codeberg.org/mutker/upsplusd/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultProtectVoltage = 3700
	DefaultInterval       = 2
	DefaultLogLevel       = "info"
	DefaultBus            = "1"
	DefaultPinCommand     = "raspi-gpio"
	DefaultMetricsDB      = "/var/lib/upsplusd/metrics.db"
	DefaultConfigFile     = "/etc/upsplusd.toml"
	DefaultEnvPrefix      = "UPSPLUSD"

	// The supervisor accepts protection voltages within its cell range.
	minProtectVoltage = 2500
	maxProtectVoltage = 4500
)

var (
	DefaultPins        = []int{2, 3}
	DefaultHaltCommand = []string{"sudo", "halt"}
)

// Config is immutable once loaded.
type Config struct {
	// ProtectVoltage is the supervisor's hardware cut-off in millivolts.
	ProtectVoltage int `mapstructure:"protect_voltage"`
	// Interval is the sample period in minutes.
	Interval    int      `mapstructure:"interval"`
	BackToAC    bool     `mapstructure:"back_to_ac"`
	DryRun      bool     `mapstructure:"dry_run"`
	Once        bool     `mapstructure:"once"`
	LogLevel    string   `mapstructure:"log_level"`
	LogFile     string   `mapstructure:"log_file"`
	Bus         string   `mapstructure:"bus"`
	Pins        []int    `mapstructure:"pins"`
	PinCommand  string   `mapstructure:"pin_command"`
	HaltCommand []string `mapstructure:"halt_command"`
	Metrics     bool     `mapstructure:"metrics"`
	MetricsDB   string   `mapstructure:"metrics_db"`
	StatusFile  string   `mapstructure:"status_file"`
}

type binding struct {
	key  string
	flag string
}

var bindings = []binding{
	{"protect_voltage", "protect-voltage"},
	{"interval", "interval"},
	{"back_to_ac", "back-to-ac"},
	{"dry_run", "dry-run"},
	{"once", "once"},
	{"log_level", "log-level"},
	{"log_file", "log-file"},
	{"bus", "bus"},
	{"pins", "pins"},
	{"pin_command", "pin-command"},
	{"halt_command", "halt-command"},
	{"metrics", "metrics"},
	{"metrics_db", "metrics-db"},
	{"status_file", "status-file"},
}

// Load reads configuration from defaults, the TOML config file, the
// environment and the given command line arguments, in increasing priority.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	for _, b := range bindings {
		if err := v.BindPFlag(b.key, fs.Lookup(b.flag)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, o); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("protect_voltage", DefaultProtectVoltage)
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("back_to_ac", false)
	v.SetDefault("dry_run", false)
	v.SetDefault("once", false)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_file", "")
	v.SetDefault("bus", DefaultBus)
	v.SetDefault("pins", DefaultPins)
	v.SetDefault("pin_command", DefaultPinCommand)
	v.SetDefault("halt_command", DefaultHaltCommand)
	v.SetDefault("metrics", false)
	v.SetDefault("metrics_db", DefaultMetricsDB)
	v.SetDefault("status_file", "")
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("upsplusd", pflag.ContinueOnError)
	fs.Int("protect-voltage", DefaultProtectVoltage, "Battery protection voltage in mV")
	fs.Int("interval", DefaultInterval, "Sample period in minutes")
	fs.Bool("back-to-ac", false, "Power the host back on when external power returns")
	fs.Bool("dry-run", false, "Log the shutdown decision without halting the host")
	fs.Bool("once", false, "Run a single monitor cycle and exit")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.String("log-file", "", "Also write logs to this rotated file")
	fs.String("bus", DefaultBus, "I2C bus name or number")
	fs.IntSlice("pins", DefaultPins, "GPIO lines switched to I2C during bus access")
	fs.String("pin-command", DefaultPinCommand, "Command used to set GPIO pin state")
	fs.StringSlice("halt-command", DefaultHaltCommand, "Command that halts the host")
	fs.Bool("metrics", false, "Record each cycle in the metrics database")
	fs.String("metrics-db", DefaultMetricsDB, "Path to the metrics database")
	fs.String("status-file", "", "Write the last cycle as a Prometheus textfile")

	return fs
}

func readConfigFile(v *viper.Viper, o *options) error {
	errFactory := errors.New()

	path := o.configPath
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}

	if _, err := os.Stat(path); err != nil {
		if explicit || !os.IsNotExist(err) {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}

		return nil
	}

	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return errFactory.Wrap(errors.ErrReadConfig, err)
	}

	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.ProtectVoltage < minProtectVoltage || c.ProtectVoltage > maxProtectVoltage {
		return errFactory.WithData(errors.ErrInvalidProtect, c.ProtectVoltage)
	}

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if len(c.Pins) == 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "no bus pins configured")
	}

	if c.PinCommand == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "pin command is empty")
	}

	if !c.DryRun && len(c.HaltCommand) == 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "halt command is empty")
	}

	if c.Metrics && c.MetricsDB == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "metrics database path is empty")
	}

	return nil
}
