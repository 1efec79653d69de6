// Package config assembles daemon settings from flags, NEURAHOME_* env
// vars, an optional .env file and an optional TOML file, in that order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	cli "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix  = "NEURAHOME"
	configName = "neurahome"
	configType = "toml"

	DefaultEndpoint     = "ws://192.168.13.254:81"
	DefaultSocket       = "/tmp/neurahome.sock"
	DefaultWhisperModel = "third_party/whisper.cpp/models/ggml-medium.bin"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Endpoint string `mapstructure:"endpoint" validate:"required,url"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	Socket   string `mapstructure:"socket" validate:"required"`

	Classifier Classifier `mapstructure:"classifier"`
	Quota      Quota      `mapstructure:"quota"`
	Listen     Listen     `mapstructure:"listen"`
}

type Classifier struct {
	Backend string `mapstructure:"backend" validate:"oneof=openai gemini none"`
	// Model empty means the backend's default.
	Model   string        `mapstructure:"model"`
	APIKey  string        `mapstructure:"api_key" validate:"required_unless=Backend none"`
	Proxy   string        `mapstructure:"proxy" validate:"omitempty,hostname_port"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type Quota struct {
	Limit    int           `mapstructure:"limit" validate:"min=1"`
	Window   time.Duration `mapstructure:"window" validate:"gt=0"`
	Cooldown time.Duration `mapstructure:"cooldown" validate:"gt=0"`
}

type Listen struct {
	Source       string   `mapstructure:"source" validate:"oneof=mic stdin replay"`
	Files        []string `mapstructure:"files" validate:"required_if=Source replay"`
	WhisperModel string   `mapstructure:"whisper_model" validate:"required_unless=Source stdin"`
	Language     string   `mapstructure:"language"`
	Threads      int      `mapstructure:"threads" validate:"min=0"`
	// Translate asks whisper for English output whatever the spoken language.
	Translate     bool   `mapstructure:"translate"`
	InitialPrompt string `mapstructure:"initial_prompt"`
	// BeamSize 0 decodes greedily.
	BeamSize    int           `mapstructure:"beam_size" validate:"min=0,max=16"`
	PhraseLimit time.Duration `mapstructure:"phrase_limit" validate:"gt=0"`
	WaitTimeout time.Duration `mapstructure:"wait_timeout" validate:"gte=0"`
	Silence     time.Duration `mapstructure:"silence" validate:"gt=0"`
	Threshold   float64       `mapstructure:"threshold" validate:"gt=0,lt=1"`
	Cue         bool          `mapstructure:"cue"`
	CueFile     string        `mapstructure:"cue_file"`
	Speak       bool          `mapstructure:"speak"`
	Voice       string        `mapstructure:"voice"`
}

func Default() Config {
	return Config{
		Endpoint: DefaultEndpoint,
		LogLevel: "info",
		Socket:   DefaultSocket,
		Classifier: Classifier{
			Backend: "gemini",
			Timeout: 30 * time.Second,
		},
		Quota: Quota{
			Limit:    15,
			Window:   time.Minute,
			Cooldown: 30 * time.Second,
		},
		Listen: Listen{
			Source:       "mic",
			WhisperModel: DefaultWhisperModel,
			Language:     "en",
			PhraseLimit:  5 * time.Second,
			Silence:      600 * time.Millisecond,
			Threshold:    0.015,
			Cue:          true,
			Voice:        "en",
		},
	}
}

// flag name -> viper key
var flagKeys = map[string]string{
	"url":           "endpoint",
	"log":           "log_level",
	"socket":        "socket",
	"backend":       "classifier.backend",
	"model":         "classifier.model",
	"proxy":         "classifier.proxy",
	"source":        "listen.source",
	"files":         "listen.files",
	"whisper-model": "listen.whisper_model",
	"language":      "listen.language",
	"cue":           "listen.cue",
	"speak":         "listen.speak",
}

// Flags registers the daemon's command line on fs.
func Flags(fs *cli.FlagSet) {
	d := Default()
	fs.StringP("config", "c", "", "TOML config file")
	fs.StringP("env", "e", ".env", "Env file path")
	fs.StringP("url", "u", d.Endpoint, "Url of the device controller")
	fs.StringP("log", "l", d.LogLevel, "Log level")
	fs.String("socket", d.Socket, "Control socket path")
	fs.String("backend", d.Classifier.Backend, "Classifier backend: openai, gemini or none")
	fs.String("model", d.Classifier.Model, "Classifier model")
	fs.StringP("proxy", "p", d.Classifier.Proxy, "Socks proxy address for the classifier")
	fs.StringP("source", "s", d.Listen.Source, "Utterance source: mic, stdin or replay")
	fs.StringSlice("files", nil, "Audio files for the replay source")
	fs.String("whisper-model", d.Listen.WhisperModel, "Whisper model path")
	fs.String("language", d.Listen.Language, "Speech language")
	fs.Bool("cue", d.Listen.Cue, "Beep before listening")
	fs.Bool("speak", d.Listen.Speak, "Say when a command was not understood")
}

// Load reads the configuration. fs must have been set up with Flags and
// parsed.
func Load(fs *cli.FlagSet) (Config, error) {
	if path, _ := fs.GetString("env"); path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", path, err)
		}
	}

	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// not in the defaults, so AutomaticEnv alone would never see it
	if err := v.BindEnv("classifier.api_key"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

	for name, key := range flagKeys {
		if f := fs.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	v.SetConfigType(configType)
	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, configName))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		log.Debug("Loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Classifier.APIKey == "" {
		cfg.Classifier.APIKey = apiKeyFromEnv(cfg.Classifier.Backend)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func apiKeyFromEnv(backend string) string {
	switch backend {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "gemini":
		if k := os.Getenv("GEMINI_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GOOGLE_API_KEY")
	}
	return ""
}

func (c Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Level maps LogLevel onto slog, falling back to info.
func (c Config) Level() log.Level {
	var l log.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return log.LevelInfo
	}
	return l
}

func setDefaults(v *viper.Viper, d Config) {
	for key, val := range flatten(d) {
		v.SetDefault(key, val)
	}
}

// flatten lists every setting under its viper key. The API key is left out
// so it never ends up in a dumped file.
func flatten(c Config) map[string]any {
	return map[string]any{
		"endpoint":              c.Endpoint,
		"log_level":             c.LogLevel,
		"socket":                c.Socket,
		"classifier.backend":    c.Classifier.Backend,
		"classifier.model":      c.Classifier.Model,
		"classifier.proxy":      c.Classifier.Proxy,
		"classifier.timeout":    c.Classifier.Timeout,
		"quota.limit":           c.Quota.Limit,
		"quota.window":          c.Quota.Window,
		"quota.cooldown":        c.Quota.Cooldown,
		"listen.source":         c.Listen.Source,
		"listen.files":          c.Listen.Files,
		"listen.whisper_model":  c.Listen.WhisperModel,
		"listen.language":       c.Listen.Language,
		"listen.threads":        c.Listen.Threads,
		"listen.translate":      c.Listen.Translate,
		"listen.initial_prompt": c.Listen.InitialPrompt,
		"listen.beam_size":      c.Listen.BeamSize,
		"listen.phrase_limit":   c.Listen.PhraseLimit,
		"listen.wait_timeout":   c.Listen.WaitTimeout,
		"listen.silence":        c.Listen.Silence,
		"listen.threshold":      c.Listen.Threshold,
		"listen.cue":            c.Listen.Cue,
		"listen.cue_file":       c.Listen.CueFile,
		"listen.speak":          c.Listen.Speak,
		"listen.voice":          c.Listen.Voice,
	}
}

// WriteTOML dumps c in the format Load reads.
func WriteTOML(w io.Writer, c Config) error {
	doc := map[string]any{}
	for key, val := range flatten(c) {
		if d, ok := val.(time.Duration); ok {
			val = d.String()
		}
		if s, ok := val.([]string); ok && s == nil {
			val = []string{}
		}
		table, field, nested := strings.Cut(key, ".")
		if !nested {
			doc[key] = val
			continue
		}
		sub, _ := doc[table].(map[string]any)
		if sub == nil {
			sub = map[string]any{}
			doc[table] = sub
		}
		sub[field] = val
	}

	enc := toml.NewEncoder(w)
	enc.SetIndentTables(true)
	return enc.Encode(doc)
}
