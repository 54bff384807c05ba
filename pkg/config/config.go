package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the tuner configuration.
type Config struct {
	Serial      SerialConfig      `yaml:"serial"`
	Relays      RelaysConfig      `yaml:"relays"`
	RF          RFConfig          `yaml:"rf"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Frequency   FrequencyConfig   `yaml:"frequency"`
	Tuning      TuningConfig      `yaml:"tuning"`
	Memory      MemoryConfig      `yaml:"memory"`
	History     HistoryConfig     `yaml:"history"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Logging     LoggingConfig     `yaml:"logging"`
	Sim         SimConfig         `yaml:"sim"`
}

// SerialConfig contains serial port configuration for the telemetry link.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// RelaysConfig describes the relay bank.
type RelaysConfig struct {
	Capacitors   int     `yaml:"capacitors"`    // Number of capacitor relays (max 7)
	Inductors    int     `yaml:"inductors"`     // Number of inductor relays (max 7)
	PowerCeiling float64 `yaml:"power_ceiling"` // Refuse to switch above this forward power (W)
	Antenna      bool    `yaml:"antenna"`       // Selected antenna port
}

// RFConfig contains RF sampler parameters.
type RFConfig struct {
	VRef              float64 `yaml:"vref"`
	Samples           int     `yaml:"samples"`            // Raw readings averaged per measurement
	PresenceThreshold float64 `yaml:"presence_threshold"` // Forward volts considered "RF present"
}

// CalibrationConfig holds the frequency dependent power correction curves.
type CalibrationConfig struct {
	Bands []CalibrationBand `yaml:"bands"`
}

// CalibrationBand holds polynomial coefficients (lowest order first) valid up to UpToKHz.
type CalibrationBand struct {
	UpToKHz int       `yaml:"up_to_khz"`
	Forward []float64 `yaml:"forward"`
	Reverse []float64 `yaml:"reverse"`
}

// FrequencyConfig contains frequency counter parameters.
type FrequencyConfig struct {
	MagicNumber uint32        `yaml:"magic_number"` // KHz = MagicNumber / period ticks
	EdgeTimeout time.Duration `yaml:"edge_timeout"`
	Samples     int           `yaml:"samples"`
}

// TuningConfig contains search parameters.
type TuningConfig struct {
	SWRThreshold      float64       `yaml:"swr_threshold"`
	MaxComparisons    int           `yaml:"max_comparisons"`
	StableTimeout     time.Duration `yaml:"stable_timeout"` // Initial wait for RF
	SettleTimeout     time.Duration `yaml:"settle_timeout"` // Per comparison settle wait
	PollInterval      time.Duration `yaml:"poll_interval"`
	CapacitorLimitKHz int           `yaml:"capacitor_limit_khz"`
	InductorLimitKHz  int           `yaml:"inductor_limit_khz"`
}

// MemoryConfig describes where tuning solutions are persisted.
type MemoryConfig struct {
	FlashFile   string `yaml:"flash_file"`
	FlashSize   int64  `yaml:"flash_size"`
	TableOffset int64  `yaml:"table_offset"`
}

// HistoryConfig describes the tuning history database.
type HistoryConfig struct {
	Path       string `yaml:"path"`
	MaxRecords int    `yaml:"max_records"`
}

// MonitorConfig contains host side telemetry processing parameters.
type MonitorConfig struct {
	AverageSamples int           `yaml:"average_samples"` // Moving average window (frames)
	Window         time.Duration `yaml:"window"`          // Readings kept for display
	MinMismatch    time.Duration `yaml:"min_mismatch"`    // SWR must stay high this long to count
	MinPower       float64       `yaml:"min_power"`       // Forward watts considered "transmitting"
	AutoTune       bool          `yaml:"auto_tune"`       // Retune on a mismatch episode
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`    // megabytes
	MaxBackups int    `yaml:"max_backups"` // files
	MaxAge     int    `yaml:"max_age"`     // days
	Compress   bool   `yaml:"compress"`
	Console    bool   `yaml:"console"`
	Structured bool   `yaml:"structured"`
}

// SimConfig contains simulated antenna parameters.
type SimConfig struct {
	FrequencyKHz int     `yaml:"frequency_khz"`
	LoadR        float64 `yaml:"load_r"`      // Antenna resistance (Ohm)
	LoadX        float64 `yaml:"load_x"`      // Antenna reactance (Ohm)
	Power        float64 `yaml:"power"`       // Transmitter power (W)
	TimerClock   float64 `yaml:"timer_clock"` // Timer tick rate (Hz)
	PreDivider   int     `yaml:"pre_divider"`

	TelemetryInterval time.Duration `yaml:"telemetry_interval"` // Mock link frame rate
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:     "/dev/ttyACM0",
			BaudRate: 115200,
		},
		Relays: RelaysConfig{
			Capacitors:   7,
			Inductors:    7,
			PowerCeiling: 15,
		},
		RF: RFConfig{
			VRef:              3.3,
			Samples:           32,
			PresenceThreshold: 0.05,
		},
		Calibration: CalibrationConfig{
			Bands: []CalibrationBand{
				{UpToKHz: 8000, Forward: []float64{0, 0, 12.5}, Reverse: []float64{0, 0, 12.5}},
				{UpToKHz: 22000, Forward: []float64{0, 0, 13.2}, Reverse: []float64{0, 0, 13.2}},
				{UpToKHz: 55000, Forward: []float64{0, 0, 14.1}, Reverse: []float64{0, 0, 14.1}},
			},
		},
		Frequency: FrequencyConfig{
			MagicNumber: 12288000, // 48 MHz timer, /256 pre-divider
			EdgeTimeout: 50 * time.Millisecond,
			Samples:     4,
		},
		Tuning: TuningConfig{
			SWRThreshold:      1.7,
			MaxComparisons:    1000,
			StableTimeout:     2500 * time.Millisecond,
			SettleTimeout:     50 * time.Millisecond,
			PollInterval:      time.Millisecond,
			CapacitorLimitKHz: 30000,
			InductorLimitKHz:  15000,
		},
		Memory: MemoryConfig{
			FlashFile:   "atu-flash.bin",
			FlashSize:   8192,
			TableOffset: 0,
		},
		History: HistoryConfig{
			Path:       "atu-history.db",
			MaxRecords: 10000,
		},
		Monitor: MonitorConfig{
			AverageSamples: 5,
			Window:         time.Minute,
			MinMismatch:    2 * time.Second,
			MinPower:       1,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Console:    true,
		},
		Sim: SimConfig{
			FrequencyKHz: 14100,
			LoadR:        25,
			LoadX:        40,
			Power:        5,
			TimerClock:   48e6,
			PreDivider:   256,

			TelemetryInterval: 100 * time.Millisecond,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}

	if c.Relays.Capacitors <= 0 || c.Relays.Capacitors > 7 {
		c.Relays.Capacitors = def.Relays.Capacitors
	}
	if c.Relays.Inductors <= 0 || c.Relays.Inductors > 7 {
		c.Relays.Inductors = def.Relays.Inductors
	}
	if c.Relays.PowerCeiling == 0 {
		c.Relays.PowerCeiling = def.Relays.PowerCeiling
	}

	if c.RF.VRef == 0 {
		c.RF.VRef = def.RF.VRef
	}
	if c.RF.Samples <= 0 {
		c.RF.Samples = def.RF.Samples
	}
	if c.RF.PresenceThreshold == 0 {
		c.RF.PresenceThreshold = def.RF.PresenceThreshold
	}

	if len(c.Calibration.Bands) == 0 {
		c.Calibration.Bands = def.Calibration.Bands
	}

	if c.Frequency.MagicNumber == 0 {
		c.Frequency.MagicNumber = def.Frequency.MagicNumber
	}
	if c.Frequency.EdgeTimeout == 0 {
		c.Frequency.EdgeTimeout = def.Frequency.EdgeTimeout
	}
	if c.Frequency.Samples <= 0 {
		c.Frequency.Samples = def.Frequency.Samples
	}

	if c.Tuning.SWRThreshold == 0 {
		c.Tuning.SWRThreshold = def.Tuning.SWRThreshold
	}
	if c.Tuning.MaxComparisons <= 0 {
		c.Tuning.MaxComparisons = def.Tuning.MaxComparisons
	}
	if c.Tuning.StableTimeout == 0 {
		c.Tuning.StableTimeout = def.Tuning.StableTimeout
	}
	if c.Tuning.SettleTimeout == 0 {
		c.Tuning.SettleTimeout = def.Tuning.SettleTimeout
	}
	if c.Tuning.PollInterval == 0 {
		c.Tuning.PollInterval = def.Tuning.PollInterval
	}
	if c.Tuning.CapacitorLimitKHz == 0 {
		c.Tuning.CapacitorLimitKHz = def.Tuning.CapacitorLimitKHz
	}
	if c.Tuning.InductorLimitKHz == 0 {
		c.Tuning.InductorLimitKHz = def.Tuning.InductorLimitKHz
	}

	if c.Memory.FlashFile == "" {
		c.Memory.FlashFile = def.Memory.FlashFile
	}
	if c.Memory.FlashSize == 0 {
		c.Memory.FlashSize = def.Memory.FlashSize
	}

	if c.History.Path == "" {
		c.History.Path = def.History.Path
	}
	if c.History.MaxRecords == 0 {
		c.History.MaxRecords = def.History.MaxRecords
	}

	if c.Monitor.AverageSamples <= 0 {
		c.Monitor.AverageSamples = def.Monitor.AverageSamples
	}
	if c.Monitor.Window == 0 {
		c.Monitor.Window = def.Monitor.Window
	}
	if c.Monitor.MinMismatch == 0 {
		c.Monitor.MinMismatch = def.Monitor.MinMismatch
	}
	if c.Monitor.MinPower == 0 {
		c.Monitor.MinPower = def.Monitor.MinPower
	}

	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}

	if c.Sim.FrequencyKHz == 0 {
		c.Sim.FrequencyKHz = def.Sim.FrequencyKHz
	}
	if c.Sim.LoadR == 0 {
		c.Sim.LoadR = def.Sim.LoadR
	}
	if c.Sim.Power == 0 {
		c.Sim.Power = def.Sim.Power
	}
	if c.Sim.TimerClock == 0 {
		c.Sim.TimerClock = def.Sim.TimerClock
	}
	if c.Sim.PreDivider == 0 {
		c.Sim.PreDivider = def.Sim.PreDivider
	}
	if c.Sim.TelemetryInterval == 0 {
		c.Sim.TelemetryInterval = def.Sim.TelemetryInterval
	}
}
