package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	ws "github.com/gorilla/websocket"
	cli "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/lmittmann/tint"
	log "log/slog"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"neurahome/internal/action"
	"neurahome/internal/audio"
	"neurahome/internal/config"
	"neurahome/internal/ipc"
	"neurahome/internal/listen"
	"neurahome/internal/nlu"
	"neurahome/internal/notify"
	"neurahome/internal/pipeline"
	"neurahome/internal/proxy"
	"neurahome/internal/quota"
	"neurahome/internal/tts"
	"neurahome/pkg/protocol"
	"neurahome/pkg/stt"
)

func setLogger(level log.Level) {
	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	})))
}

func main() {
	config.Flags(cli.CommandLine)
	printConfig := cli.Bool("print-config", false, "Print the effective config as TOML and exit")
	cli.Parse()

	setLogger(log.LevelInfo)

	cfg, err := config.Load(cli.CommandLine)
	if err != nil {
		log.Error("Failed to load config", "err", err)
		os.Exit(1)
	}
	setLogger(cfg.Level())

	if *printConfig {
		if err := config.WriteTOML(os.Stdout, cfg); err != nil {
			log.Error("Failed to print config", "err", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error("Daemon failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	log.Info("Booting up")

	limiter := quota.New(cfg.Quota.Limit, cfg.Quota.Window, quota.SystemClock{})
	cascade, err := newCascade(ctx, cfg, limiter)
	if err != nil {
		return err
	}

	src, closeSrc, err := newSource(cfg)
	if err != nil {
		return err
	}
	defer closeSrc()

	pcfg := pipeline.Config{Source: src, Resolver: cascade}
	if cfg.Listen.Cue && cfg.Listen.Source == "mic" {
		cue, err := notify.LoadCue(cfg.Listen.CueFile)
		if err != nil {
			log.Warn("Listening cue disabled", "err", err)
		} else {
			pcfg.Cue = cue
		}
	}
	if cfg.Listen.Speak {
		pcfg.Announcer = tts.NewSpeaker(cfg.Listen.Voice)
	}

	srv, err := ipc.Listen(cfg.Socket)
	if err != nil {
		return err
	}

	ch := newChannel(cfg.Endpoint)
	pcfg.Dispatcher = ch
	if err := ch.Open(ctx); err != nil {
		log.Warn("Controller unreachable, running degraded", "url", ch.Url(), "err", err)
	}

	p := pipeline.New(pcfg)

	log.Info("Boot up - successful", "source", cfg.Listen.Source, "classifier", cfg.Classifier.Backend)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		defer cancel()
		return p.Run(runCtx)
	})
	g.Go(func() error {
		return srv.Serve(runCtx, func(ctx context.Context, msg ipc.ControlMessage) ipc.Reply {
			switch msg.Cmd {
			case ipc.CmdStop:
				log.Info("Stop requested")
				cancel()
				return ipc.Ok("stopping", nil)
			case ipc.CmdReconnect:
				rctx, done := context.WithTimeout(ctx, 10*time.Second)
				defer done()
				if err := ch.Reconnect(rctx); err != nil {
					return ipc.Fail("reconnect %s: %v", ch.Url(), err)
				}
				return ipc.Ok("reconnected", nil)
			case ipc.CmdStatus:
				return ipc.Ok("", status{
					Pipeline: p.State().String(),
					Channel:  ch.State().String(),
					Endpoint: ch.Url(),
					Stats:    p.Status().Stats,
					Quota:    limiter.Snapshot(),
				})
			default:
				log.Warn("Unknown command", "cmd", msg.Cmd)
				return ipc.Fail("unknown command %q", msg.Cmd)
			}
		})
	})

	err = g.Wait()
	log.Info("Shut down", "stats", p.Status().Stats)
	return err
}

type status struct {
	Pipeline string                 `json:"pipeline"`
	Channel  string                 `json:"channel"`
	Endpoint string                 `json:"endpoint"`
	Stats    pipeline.StatsSnapshot `json:"stats"`
	Quota    quota.Snapshot         `json:"quota"`
}

func newCascade(ctx context.Context, cfg config.Config, limiter *quota.Window) (*nlu.Cascade, error) {
	local := nlu.NewLocal(action.Categories())

	var cls nlu.Classifier
	switch cfg.Classifier.Backend {
	case "none":
		log.Info("Remote classifier disabled")
		return nlu.NewCascade(local, nil), nil
	case "openai", "gemini":
	default:
		return nil, fmt.Errorf("unknown classifier backend %q", cfg.Classifier.Backend)
	}

	httpClient, err := proxy.NewHTTPClient(cfg.Classifier.Proxy, cfg.Classifier.Timeout)
	if err != nil {
		return nil, err
	}
	if cfg.Classifier.Proxy != "" {
		log.Debug("Loaded proxy", "proxy", cfg.Classifier.Proxy)
	}

	if cfg.Classifier.Backend == "openai" {
		cls = nlu.NewOpenAIClassifier(openai.NewClient(
			option.WithAPIKey(cfg.Classifier.APIKey),
			option.WithHTTPClient(httpClient),
			option.WithMaxRetries(0),
		), cfg.Classifier.Model)
	} else {
		cls, err = nlu.NewGeminiClassifier(ctx, cfg.Classifier.APIKey, cfg.Classifier.Model, httpClient)
		if err != nil {
			return nil, err
		}
	}
	log.Debug("Loaded classifier", "backend", cfg.Classifier.Backend)

	return nlu.NewCascade(local, nlu.NewRemote(nlu.RemoteConfig{
		Classifier: cls,
		Limiter:    limiter,
		Cooldown:   cfg.Quota.Cooldown,
		Clock:      quota.SystemClock{},
	})), nil
}

func newChannel(url string) *protocol.Channel {
	dialer := *ws.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	return protocol.NewChannel(protocol.ChannelConfig{
		Url:    url,
		Dialer: &dialer,
		Hooks: protocol.Hooks{
			OnOpen: func(url string) {
				log.Info("Connected to controller", "url", url)
			},
			OnMessage: func(msg []byte) {
				log.Info("Controller says", "msg", string(msg))
			},
			OnError: func(err error) {
				log.Error("Controller connection error", "err", err)
			},
			OnClose: func(err error) {
				log.Warn("Controller connection closed", "err", err)
			},
		},
	})
}

// newSource returns the configured utterance source and a func releasing
// whatever it holds.
func newSource(cfg config.Config) (listen.Source, func(), error) {
	lc := cfg.Listen
	opt := sttOptions(lc)

	if lc.Source == "stdin" {
		log.Info("Reading utterances from stdin")
		return listen.NewLineSource(os.Stdin), func() {}, nil
	}

	whisper, err := stt.NewTranscriber(lc.WhisperModel)
	if err != nil {
		return nil, nil, fmt.Errorf("init whisper: %w", err)
	}
	log.Debug("Loaded whisper", "model", lc.WhisperModel)

	if lc.Source == "replay" {
		return listen.NewReplaySource(whisper, lc.Files, opt), func() { whisper.Close() }, nil
	}

	rec := audio.NewRecorder()
	if err := rec.Init(); err != nil {
		whisper.Close()
		return nil, nil, fmt.Errorf("init audio: %w", err)
	}
	log.Debug("Loaded recorder")

	capture := audio.Capture{
		WaitTimeout: lc.WaitTimeout,
		PhraseLimit: lc.PhraseLimit,
		Silence:     lc.Silence,
		Threshold:   lc.Threshold,
	}
	return listen.NewMicSource(rec, whisper, capture, opt), func() {
		rec.Close()
		whisper.Close()
	}, nil
}

func sttOptions(lc config.Listen) stt.Options {
	return stt.Options{
		Language:      lc.Language,
		TranslateToEn: lc.Translate,
		Threads:       lc.Threads,
		InitialPrompt: lc.InitialPrompt,
		BeamSize:      lc.BeamSize,
	}
}
