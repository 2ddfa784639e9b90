package log

type Config struct {
	// Name is attached to every entry as the logger name.
	Name string `conf:"name" yaml:"name" json:"name"`

	// Level is the minimum enabled level: debug, info, warn or error.
	Level string `conf:"level" yaml:"level" json:"level"`

	// Encoding selects the encoder: console or json.
	Encoding string `conf:"encoding" yaml:"encoding" json:"encoding"`

	// Outputs lists the sinks: stdout, stderr and/or file.
	Outputs []string `conf:"outputs" yaml:"outputs" json:"outputs"`

	File FileConfig `conf:"file" yaml:"file" json:"file"`
}

// FileConfig configures the rotating file sink.
type FileConfig struct {
	Path       string `conf:"path" yaml:"path" json:"path"`
	MaxSize    int    `conf:"max_size" yaml:"max_size" json:"max_size"`
	MaxAge     int    `conf:"max_age" yaml:"max_age" json:"max_age"`
	MaxBackups int    `conf:"max_backups" yaml:"max_backups" json:"max_backups"`
	Compress   bool   `conf:"compress" yaml:"compress" json:"compress"`
}

func (cfg Config) withDefaults() Config {
	if cfg.Name == "" {
		cfg.Name = "switchyard"
	}

	if cfg.Level == "" {
		cfg.Level = "info"
	}

	if cfg.Encoding == "" {
		cfg.Encoding = "console"
	}

	if len(cfg.Outputs) == 0 {
		cfg.Outputs = []string{"stdout"}
	}

	if cfg.File.Path == "" {
		cfg.File.Path = "switchyard.log"
	}

	if cfg.File.MaxSize == 0 {
		cfg.File.MaxSize = 100
	}

	if cfg.File.MaxAge == 0 {
		cfg.File.MaxAge = 7
	}

	if cfg.File.MaxBackups == 0 {
		cfg.File.MaxBackups = 5
	}

	return cfg
}
