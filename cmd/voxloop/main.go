package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	cli "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/lmittmann/tint"
	log "log/slog"

	"github.com/openai/openai-go/v3/option"

	"voxloop/internal/audio"
	"voxloop/internal/audio/device"
	"voxloop/internal/chat"
	"voxloop/internal/config"
	"voxloop/internal/control"
	"voxloop/internal/ipc"
	"voxloop/internal/loop"
	"voxloop/internal/notify"
	"voxloop/internal/observe"
	"voxloop/internal/proxy"
	"voxloop/internal/sink"
	"voxloop/internal/tts"
	"voxloop/internal/tts/espeak"
	"voxloop/pkg/audioconv"
	"voxloop/pkg/stt"
	"voxloop/pkg/stt/whisper"
)

var version = "dev"

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := cli.StringP("config", "c", "voxloop.yaml", "Config file path")
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	proxyAddr := cli.StringP("proxy", "p", "", "Socks proxy address for API calls")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	inFile := cli.StringP("file", "f", "", "Handle one audio file instead of the microphone")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      logLevelMap[*logLevel],
		TimeFormat: time.TimeOnly,
	})))

	log.Info("Booting up", "version", version)

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Failed to load env file", "path", *envFile, "err", err)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Error("Failed to load config", "err", err)
		return 1
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		log.Error("Invalid config", "err", err)
		return 1
	}
	for _, w := range cfg.Warnings() {
		log.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		shutdown, err := observe.InitProvider(ctx, "voxloop", version)
		if err != nil {
			log.Error("Failed to init metrics", "err", err)
			return 1
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
		metricsHandler = promhttp.Handler()
	}
	metrics := observe.DefaultMetrics()

	clients, err := proxy.NewClients(*proxyAddr, 0)
	if err != nil {
		log.Error("Failed to set up proxy", "proxy", *proxyAddr, "err", err)
		return 1
	}
	log.Debug("Loaded HTTP clients", "proxy", *proxyAddr)

	transcriber, closeSTT, err := newTranscriber(cfg, clients)
	if err != nil {
		log.Error("Failed to init transcription", "backend", cfg.Transcription.Backend, "err", err)
		return 1
	}
	defer closeSTT()
	log.Debug("Loaded transcriber", "backend", cfg.Transcription.Backend)

	player := device.NewPlayer()

	opts := []loop.Option{
		loop.WithMetrics(metrics),
		loop.WithPollInterval(cfg.Control.PollInterval),
	}

	if cfg.Reply.Enabled {
		conv, err := newConversation(cfg, clients.API)
		if err != nil {
			log.Error("Failed to init replies", "err", err)
			return 1
		}
		opts = append(opts, loop.WithReplier(conv))
	}

	if speaker := newSpeaker(cfg, clients.API, player); speaker != nil {
		opts = append(opts, loop.WithSpeaker(speaker))
	}

	if s, closeSink := newSink(cfg, clients.Local); s != nil {
		defer closeSink()
		opts = append(opts, loop.WithSink(s))
	}

	if cfg.ArchiveDir != "" {
		opts = append(opts, loop.WithArchive(cfg.ArchiveDir))
	}

	if *inFile != "" {
		return handleFile(ctx, *inFile, transcriber, opts)
	}

	if cfg.Duck.Enabled {
		opts = append(opts, loop.WithDucker(audio.NewDucker(cfg.Duck.DuckConfig)))
	}
	if cfg.Cue.File != "" {
		cue, err := notify.NewCue(cfg.Cue.File, player)
		if err != nil {
			log.Warn("Cue disabled", "err", err)
		} else {
			opts = append(opts, loop.WithCue(cue))
		}
	}

	if err := device.Init(); err != nil {
		log.Error("Failed to init audio", "err", err)
		return 1
	}
	defer func() {
		if err := device.Terminate(); err != nil {
			log.Warn("Failed to release audio", "err", err)
		}
	}()

	sw := audio.NewSwitch(cfg.Control.StartEnabled)
	session := audio.NewSession(cfg.Audio, device.NewMicrophone(),
		audio.WithSwitch(sw),
		audio.WithOverflowHook(func() { metrics.RecordOverflow(ctx) }),
	)

	l, err := loop.New(session, transcriber, opts...)
	if err != nil {
		log.Error("Failed to build loop", "err", err)
		return 1
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Control.HTTPAddr != "" {
		var copts []control.Option
		if metricsHandler != nil {
			copts = append(copts, control.WithMetrics(metricsHandler))
		}
		srv := control.New(cfg.Control.HTTPAddr, sw, copts...)
		g.Go(func() error { return srv.Run(gctx) })
	}

	if cfg.Control.Socket != "" {
		sock, err := ipc.Listen(cfg.Control.Socket, sw)
		if err != nil {
			log.Error("Failed to open control socket", "path", cfg.Control.Socket, "err", err)
			return 1
		}
		g.Go(func() error { return sock.Serve(gctx) })
	}

	g.Go(func() error { return l.Run(gctx) })

	log.Info("Boot up - successful", "listening", sw.Enabled())

	if err := g.Wait(); err != nil {
		log.Error("Stopped with error", "err", err)
		return 1
	}
	log.Info("Shut down")
	return 0
}

// handleFile runs a single recording from disk through the same stages as
// a live utterance.
func handleFile(ctx context.Context, path string, tr loop.Transcriber, opts []loop.Option) int {
	samples, err := audioconv.ConvertFileToPCM16k(ctx, path, audioconv.Options{})
	if err != nil {
		log.Error("Failed to decode audio file", "path", path, "err", err)
		return 1
	}

	l, err := loop.New(fileRecorder{}, tr, opts...)
	if err != nil {
		log.Error("Failed to build loop", "err", err)
		return 1
	}

	u := audio.Utterance{
		Samples:    audio.FloatsToPCM16(samples),
		SampleRate: audioconv.TargetRate,
		Stop:       audio.StopEndOfStream,
	}
	turn, err := l.Handle(ctx, u)
	if err != nil {
		log.Error("Failed to handle audio file", "err", err)
		return 1
	}
	fmt.Println(turn.Transcript)
	if turn.Reply != "" {
		fmt.Println(turn.Reply)
	}
	return 0
}

// fileRecorder satisfies loop.Recorder in file mode, where Run is never
// called.
type fileRecorder struct{}

func (fileRecorder) Record(context.Context) (audio.Utterance, error) {
	return audio.Utterance{}, errors.New("no live capture in file mode")
}

func (fileRecorder) Enabled() bool { return false }

// newTranscriber picks the backend. A whisper server is local, so only the
// hosted API goes through the proxy.
func newTranscriber(cfg config.Config, clients proxy.Clients) (loop.Transcriber, func(), error) {
	t := cfg.Transcription
	nop := func() {}

	switch t.Backend {
	case config.STTWhisper:
		w, err := whisper.New(t.Model, whisper.Options{
			Language:      t.Language,
			Threads:       t.Threads,
			InitialPrompt: t.Prompt,
		})
		if err != nil {
			return nil, nil, err
		}
		return w, func() { _ = w.Close() }, nil
	case config.STTCLI:
		c := stt.NewCLITranscriber(t.Exec, t.Model)
		if t.Language != "" {
			c.Language = t.Language
		}
		c.Prompt = t.Prompt
		return c, nop, nil
	case config.STTServer:
		return stt.NewServerTranscriber(t.ServerURL, t.Language, clients.Local), nop, nil
	case config.STTOpenAI:
		model := t.Model
		if model == "" || model == config.Default().Transcription.Model {
			model = stt.DefaultOpenAIModel
		}
		return stt.NewOpenAITranscriber(model, []option.RequestOption{
			option.WithAPIKey(cfg.Secrets.OpenAIKey),
			option.WithHTTPClient(clients.API),
		}, stt.WithLanguage(t.Language), stt.WithPrompt(t.Prompt)), nop, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", t.Backend)
}

func newConversation(cfg config.Config, client *http.Client) (*chat.Conversation, error) {
	r := cfg.Reply

	system := r.SystemPrompt
	if r.SystemPromptFile != "" {
		p, err := chat.LoadSystemPrompt(r.SystemPromptFile)
		if err != nil {
			return nil, err
		}
		system = p
	}

	reqOpts := []option.RequestOption{option.WithHTTPClient(client)}
	switch r.Provider {
	case config.ProviderGemini:
		baseURL := r.BaseURL
		if baseURL == "" {
			baseURL = chat.GeminiBaseURL
		}
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.Secrets.GeminiKey), option.WithBaseURL(baseURL))
	case config.ProviderOpenAI:
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.Secrets.OpenAIKey))
		if r.BaseURL != "" {
			reqOpts = append(reqOpts, option.WithBaseURL(r.BaseURL))
		}
	}

	backend := chat.New(r.Model, reqOpts, chat.WithTemperature(r.Temperature))
	return chat.NewConversation(backend, system, r.MaxHistory), nil
}

func newSpeaker(cfg config.Config, client *http.Client, player tts.Player) loop.Speaker {
	s := cfg.Synthesis
	switch s.Backend {
	case config.TTSOpenAI:
		model := s.Model
		if model == "" {
			model = tts.DefaultSpeechModel
		}
		opts := []tts.OpenAIOption{tts.WithVoice(s.Voice)}
		if s.Format == "wav" {
			opts = append(opts, tts.WithWAV())
		}
		synth := tts.NewOpenAISynthesizer(model, []option.RequestOption{
			option.WithAPIKey(cfg.Secrets.OpenAIKey),
			option.WithHTTPClient(client),
		}, opts...)
		return tts.NewVoice(synth, player)
	case config.TTSEspeak:
		return espeak.New(s.Language)
	}
	return nil
}

func newSink(cfg config.Config, client *http.Client) (loop.Sink, func()) {
	s := cfg.Sink
	var sinks sink.Multi
	closeFn := func() {}

	if s.URL != "" {
		sinks = append(sinks, sink.NewHTTPSink(s.URL, cfg.Secrets.SinkToken, client))
	}
	if s.BusURL != "" {
		bus := sink.NewBusSink(s.BusURL, s.BusFrom, s.BusTo, s.Timeout)
		sinks = append(sinks, bus)
		closeFn = func() { _ = bus.Close() }
	}

	switch len(sinks) {
	case 0:
		return nil, closeFn
	case 1:
		return sinks[0], closeFn
	}
	return sinks, closeFn
}
