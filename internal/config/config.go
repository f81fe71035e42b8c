// Package config loads the daemon configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"voxloop/internal/audio"
	"voxloop/internal/ipc"
)

const (
	EnvOpenAIKey = "OPENAI_API_KEY"
	EnvGeminiKey = "GEMINI_API_KEY"
	EnvSinkToken = "VOXLOOP_SINK_TOKEN"
)

// Transcription backends.
const (
	STTWhisper = "whisper" // in-process whisper.cpp
	STTCLI     = "cli"     // whisper-cli executable
	STTServer  = "server"  // whisper.cpp server
	STTOpenAI  = "openai"
)

// Synthesis backends.
const (
	TTSNone   = "none"
	TTSOpenAI = "openai"
	TTSEspeak = "espeak"
)

// Reply providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

type Config struct {
	Audio         audio.Config        `yaml:"audio"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Reply         ReplyConfig         `yaml:"reply"`
	Synthesis     SynthesisConfig     `yaml:"synthesis"`
	Sink          SinkConfig          `yaml:"sink"`
	Control       ControlConfig       `yaml:"control"`
	Duck          DuckConfig          `yaml:"duck"`
	Cue           CueConfig           `yaml:"cue"`
	Metrics       MetricsConfig       `yaml:"metrics"`

	// ArchiveDir keeps a wav copy of every utterance when set.
	ArchiveDir string `yaml:"archive_dir"`

	Secrets Secrets `yaml:"-"`
}

// Secrets only ever come from the environment.
type Secrets struct {
	OpenAIKey string
	GeminiKey string
	SinkToken string
}

type TranscriptionConfig struct {
	Backend   string `yaml:"backend"`
	Model     string `yaml:"model"`
	Exec      string `yaml:"exec"`
	ServerURL string `yaml:"server_url"`
	Language  string `yaml:"language"`
	Prompt    string `yaml:"prompt"`
	Threads   int    `yaml:"threads"`
}

type ReplyConfig struct {
	Enabled          bool    `yaml:"enabled"`
	Provider         string  `yaml:"provider"`
	Model            string  `yaml:"model"`
	BaseURL          string  `yaml:"base_url"`
	SystemPrompt     string  `yaml:"system_prompt"`
	SystemPromptFile string  `yaml:"system_prompt_file"`
	Temperature      float64 `yaml:"temperature"`
	MaxHistory       int     `yaml:"max_history"`
}

type SynthesisConfig struct {
	Backend  string `yaml:"backend"`
	Model    string `yaml:"model"`
	Voice    string `yaml:"voice"`
	Language string `yaml:"language"`
	Format   string `yaml:"format"`
}

type SinkConfig struct {
	URL     string        `yaml:"url"`
	BusURL  string        `yaml:"bus_url"`
	BusFrom string        `yaml:"bus_from"`
	BusTo   string        `yaml:"bus_to"`
	Timeout time.Duration `yaml:"timeout"`
}

type ControlConfig struct {
	// HTTPAddr is the listen address of the HTTP control server; empty
	// disables it.
	HTTPAddr string `yaml:"http_addr"`
	// Socket is the unix socket path; empty disables it.
	Socket       string        `yaml:"socket"`
	StartEnabled bool          `yaml:"start_enabled"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type DuckConfig struct {
	Enabled          bool `yaml:"enabled"`
	audio.DuckConfig `yaml:",inline"`
}

type CueConfig struct {
	File string `yaml:"file"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

func Default() Config {
	return Config{
		Audio: audio.DefaultConfig(),
		Transcription: TranscriptionConfig{
			Backend:  STTWhisper,
			Model:    "models/ggml-small.bin",
			Exec:     "whisper-cli",
			Language: "auto",
		},
		Reply: ReplyConfig{
			Enabled:     true,
			Provider:    ProviderGemini,
			Model:       "gemini-2.0-flash",
			Temperature: 0.5,
			MaxHistory:  20,
		},
		Synthesis: SynthesisConfig{
			Backend: TTSNone,
			Voice:   "alloy",
			Format:  "pcm",
		},
		Sink: SinkConfig{
			BusFrom: "voxloop",
			BusTo:   "*",
			Timeout: 10 * time.Second,
		},
		Control: ControlConfig{
			HTTPAddr:     "127.0.0.1:8765",
			Socket:       ipc.DefaultSocketPath,
			StartEnabled: true,
			PollInterval: time.Second,
		},
		Duck: DuckConfig{
			DuckConfig: audio.DuckConfig{
				SelfNames: []string{"voxloop"},
				Factor:    0.2,
				MinVolume: 10,
				Fade:      300 * time.Millisecond,
			},
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML over the defaults. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse: %w", err)
	}
	return cfg, nil
}

// ApplyEnv copies secrets from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	c.Secrets = Secrets{
		OpenAIKey: getenv(EnvOpenAIKey),
		GeminiKey: getenv(EnvGeminiKey),
		SinkToken: getenv(EnvSinkToken),
	}
}

// Validate reports every problem at once, including missing credentials
// for the selected backends.
func (c *Config) Validate() error {
	var errs []error
	add := func(section string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}

	add("audio", c.Audio.Validate())
	add("transcription", c.Transcription.validate(c.Secrets))
	add("reply", c.Reply.validate(c.Secrets))
	add("synthesis", c.Synthesis.validate(c.Secrets))
	add("control", c.Control.validate())
	add("duck", c.Duck.validate())

	return errors.Join(errs...)
}

// Warnings lists settings that are allowed but probably wrong.
func (c *Config) Warnings() []string {
	var w []string
	if c.Audio.ChunkDuration > c.Audio.SilenceDuration {
		w = append(w, fmt.Sprintf("audio.chunk_duration (%gs) exceeds silence_duration (%gs); silence is detected one chunk late",
			c.Audio.ChunkDuration, c.Audio.SilenceDuration))
	}
	if c.Control.HTTPAddr == "" && c.Control.Socket == "" && !c.Control.StartEnabled {
		w = append(w, "listening starts disabled and no control surface is configured")
	}
	return w
}

func (t TranscriptionConfig) validate(s Secrets) error {
	switch t.Backend {
	case STTWhisper:
		if t.Model == "" {
			return errors.New("model path is required for the whisper backend")
		}
	case STTCLI:
		if t.Exec == "" || t.Model == "" {
			return errors.New("exec and model are required for the cli backend")
		}
	case STTServer:
		if t.ServerURL == "" {
			return errors.New("server_url is required for the server backend")
		}
	case STTOpenAI:
		if s.OpenAIKey == "" {
			return fmt.Errorf("%s is not set", EnvOpenAIKey)
		}
	default:
		return fmt.Errorf("unknown backend %q", t.Backend)
	}
	return nil
}

func (r ReplyConfig) validate(s Secrets) error {
	if !r.Enabled {
		return nil
	}
	var errs []error
	switch r.Provider {
	case ProviderGemini:
		if s.GeminiKey == "" {
			errs = append(errs, fmt.Errorf("%s is not set", EnvGeminiKey))
		}
	case ProviderOpenAI:
		if s.OpenAIKey == "" && r.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s is not set", EnvOpenAIKey))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", r.Provider))
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature must be in [0, 2], got %g", r.Temperature))
	}
	if r.MaxHistory < 0 {
		errs = append(errs, fmt.Errorf("max_history must be >= 0, got %d", r.MaxHistory))
	}
	return errors.Join(errs...)
}

func (t SynthesisConfig) validate(s Secrets) error {
	switch t.Backend {
	case TTSNone, TTSEspeak:
	case TTSOpenAI:
		if s.OpenAIKey == "" {
			return fmt.Errorf("%s is not set", EnvOpenAIKey)
		}
		if !slices.Contains([]string{"pcm", "wav"}, t.Format) {
			return fmt.Errorf("format must be pcm or wav, got %q", t.Format)
		}
	default:
		return fmt.Errorf("unknown backend %q", t.Backend)
	}
	return nil
}

func (c ControlConfig) validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be > 0, got %v", c.PollInterval)
	}
	return nil
}

func (d DuckConfig) validate() error {
	if !d.Enabled {
		return nil
	}
	if d.Factor < 0 || d.Factor > 1 {
		return fmt.Errorf("factor must be in [0, 1], got %g", d.Factor)
	}
	return nil
}
