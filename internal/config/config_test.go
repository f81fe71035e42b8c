package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"voxloop/internal/config"
)

func env(vals map[string]string) func(string) string {
	return func(k string) string { return vals[k] }
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	def := config.Default()
	if cfg.Audio != def.Audio || cfg.Control != def.Control {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voxloop.yaml")
	data := `
audio:
  threshold: 0.05
  silence_duration: 2
transcription:
  backend: server
  server_url: http://127.0.0.1:8080
reply:
  enabled: false
duck:
  enabled: true
  factor: 0.5
  fade: 100ms
control:
  poll_interval: 250ms
archive_dir: /var/lib/voxloop
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Audio.Threshold != 0.05 || cfg.Audio.SilenceDuration != 2 {
		t.Fatalf("audio not overridden: %+v", cfg.Audio)
	}
	if cfg.Audio.MaxDuration != 30 || cfg.Audio.SampleRate != 16000 {
		t.Fatalf("unset audio keys must keep defaults: %+v", cfg.Audio)
	}
	if cfg.Transcription.Backend != config.STTServer || cfg.Transcription.ServerURL != "http://127.0.0.1:8080" {
		t.Fatalf("unexpected transcription %+v", cfg.Transcription)
	}
	if !cfg.Duck.Enabled || cfg.Duck.Factor != 0.5 || cfg.Duck.Fade != 100*time.Millisecond {
		t.Fatalf("unexpected duck %+v", cfg.Duck)
	}
	if cfg.Duck.MinVolume != 10 || len(cfg.Duck.SelfNames) != 1 {
		t.Fatalf("inline duck defaults lost: %+v", cfg.Duck)
	}
	if cfg.Control.PollInterval != 250*time.Millisecond || !cfg.Control.StartEnabled {
		t.Fatalf("unexpected control %+v", cfg.Control)
	}
	if cfg.ArchiveDir != "/var/lib/voxloop" {
		t.Fatalf("unexpected archive dir %q", cfg.ArchiveDir)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("audio:\n  treshold: 0.1\n"))
	if err == nil {
		t.Fatal("expected error for misspelled key")
	}
}

func TestLoadEmptyReader(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Reply.Temperature != 0.5 {
		t.Fatalf("expected defaults, got %+v", cfg.Reply)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := config.Default()
	cfg.ApplyEnv(env(map[string]string{
		config.EnvGeminiKey: "g-key",
		config.EnvSinkToken: "tok",
	}))
	if cfg.Secrets.GeminiKey != "g-key" || cfg.Secrets.SinkToken != "tok" || cfg.Secrets.OpenAIKey != "" {
		t.Fatalf("unexpected secrets %+v", cfg.Secrets)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   []string
	}{
		{
			name:   "defaults with gemini key",
			mutate: func(c *config.Config) { c.Secrets.GeminiKey = "k" },
		},
		{
			name:   "missing gemini key",
			mutate: func(c *config.Config) {},
			want:   []string{"reply: GEMINI_API_KEY is not set"},
		},
		{
			name: "openai everywhere without key",
			mutate: func(c *config.Config) {
				c.Transcription.Backend = config.STTOpenAI
				c.Reply.Provider = config.ProviderOpenAI
				c.Synthesis.Backend = config.TTSOpenAI
			},
			want: []string{"transcription: OPENAI_API_KEY", "reply: OPENAI_API_KEY", "synthesis: OPENAI_API_KEY"},
		},
		{
			name: "bad values are all reported",
			mutate: func(c *config.Config) {
				c.Reply.Enabled = false
				c.Audio.Threshold = -1
				c.Transcription.Backend = "vosk"
				c.Control.PollInterval = 0
				c.Duck.Enabled = true
				c.Duck.Factor = 3
			},
			want: []string{"audio:", "unknown backend \"vosk\"", "poll_interval", "duck: factor"},
		},
		{
			name: "server backend needs url",
			mutate: func(c *config.Config) {
				c.Reply.Enabled = false
				c.Transcription.Backend = config.STTServer
			},
			want: []string{"server_url is required"},
		},
		{
			name: "wrong speech format",
			mutate: func(c *config.Config) {
				c.Reply.Enabled = false
				c.Secrets.OpenAIKey = "k"
				c.Synthesis.Backend = config.TTSOpenAI
				c.Synthesis.Format = "mp3"
			},
			want: []string{"format must be pcm or wav"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if len(tt.want) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected errors %v", tt.want)
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error %q does not mention %q", err, w)
				}
			}
		})
	}
}

func TestWarnings(t *testing.T) {
	cfg := config.Default()
	if w := cfg.Warnings(); len(w) != 0 {
		t.Fatalf("defaults must not warn: %v", w)
	}
	cfg.Audio.ChunkDuration = 1
	cfg.Audio.SilenceDuration = 0.5
	if w := cfg.Warnings(); len(w) != 1 {
		t.Fatalf("expected chunk warning, got %v", w)
	}
}
