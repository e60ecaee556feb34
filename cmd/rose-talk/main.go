// rose-talk is the reference host client: it greets the user, opens a
// supervised live voice session against Gemini, prints transcripts, and
// persists conversation history and profile facts in SQLite.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rosehq/roselive/internal/devices"
	"github.com/rosehq/roselive/pkg/audio"
	"github.com/rosehq/roselive/pkg/gemini"
	"github.com/rosehq/roselive/pkg/greeting"
	"github.com/rosehq/roselive/pkg/playback"
	"github.com/rosehq/roselive/pkg/session"
	"github.com/rosehq/roselive/pkg/store"
	"github.com/rosehq/roselive/pkg/transcript"
)

type options struct {
	user        string
	model       string
	voice       string
	dbPath      string
	greeting    string
	mic         string
	search      bool
	listDevices bool
	debug       bool
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	_ = godotenv.Load()

	var opt options
	flag.StringVar(&opt.user, "user", "default", "Profile name the conversation is keyed by")
	flag.StringVar(&opt.model, "model", "gemini-2.0-flash-live-001", "Live conversational model")
	flag.StringVar(&opt.voice, "voice", "Aoede", "Prebuilt voice for spoken replies")
	flag.StringVar(&opt.dbPath, "db", defaultDBPath(), "SQLite database path")
	flag.StringVar(&opt.greeting, "greeting", "Hi, Rose here. Good to hear you again.", "Greeting spoken before the session opens; empty disables it")
	flag.StringVar(&opt.mic, "mic", "", "Input device name substring; default input device when empty")
	flag.BoolVar(&opt.search, "search", true, "Expose the web search tool to the model")
	flag.BoolVar(&opt.listDevices, "list-devices", false, "List audio devices and exit")
	flag.BoolVar(&opt.debug, "debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if opt.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	apiKey := strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("GOOGLE_API_KEY"))
	}
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "set GEMINI_API_KEY (or GOOGLE_API_KEY) in the environment or a .env file")
		return 2
	}

	if err := devices.Init(); err != nil {
		logger.Error("audio backend unavailable", "error", err)
		return 1
	}
	defer devices.Terminate()

	if opt.listDevices {
		return listDevices()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(opt.dbPath)
	if err != nil {
		logger.Error("open store", "error", err)
		return 1
	}
	defer st.Close()

	client, err := gemini.NewClient(ctx, apiKey)
	if err != nil {
		logger.Error("create client", "error", err)
		return 1
	}

	// Greeting plays on its own short-lived speaker, before the live
	// session exists.
	if opt.greeting != "" {
		speech := gemini.NewSpeech(client, "", logger)
		greeter := greeting.NewGreeter(speech, func() (playback.Sink, error) {
			return devices.NewSpeaker()
		}, opt.voice, logger)

		done := make(chan struct{})
		greeter.SpeakOnce(ctx, opt.greeting, func(err error) {
			if err != nil {
				logger.Warn("greeting skipped", "error", err)
			}
			close(done)
		})
		select {
		case <-done:
		case <-ctx.Done():
			return 0
		}
	}

	history, err := st.Load(ctx, opt.user)
	if err != nil {
		logger.Error("load history", "error", err)
		return 1
	}
	for _, t := range history {
		printTurn(t)
	}

	speaker, err := devices.NewSpeaker()
	if err != nil {
		logger.Error("open speaker", "error", err)
		return 1
	}
	defer speaker.Close()

	capture := devices.NewMicrophone()
	if opt.mic != "" {
		name, ok := devices.FindInput(opt.mic)
		if !ok {
			logger.Error("no input device matches", "mic", opt.mic)
			return 2
		}
		logger.Info("using input device", "name", name)
		capture = devices.NewMicrophoneForDevice(name)
	}
	mic := &meteredCapture{
		CaptureSource: capture,
		level:         audio.NewBuffer(audio.CaptureConfig(), 500),
	}

	ctrl := session.NewController(session.Options{
		Dialer:    &gemini.LiveDialer{APIKey: apiKey, Logger: logger},
		Capture:   mic,
		Scheduler: playback.NewScheduler(speaker, audio.PlaybackConfig()),
		History:   st,
		Profiles:  gemini.NewProfileExtractor(client, "", st, logger),
		Logger:    logger,
		UserID:    opt.user,
		Model:     opt.model,
		VoiceID:   opt.voice,
		Profile: func() session.ProfileSnapshot {
			loadCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			facts, err := st.Profile(loadCtx, opt.user)
			if err != nil {
				logger.Warn("load profile", "error", err)
				return nil
			}
			return session.SnapshotProfile(facts)
		},
		EnableSearch: opt.search,
		OnStatus: func(s session.Status) {
			fmt.Printf("\r[%s]\n", s)
		},
		OnTurns: func(turns []transcript.Turn) {
			for _, t := range turns {
				printTurn(t)
			}
		},
	})

	sup := session.NewSupervisor(ctrl, session.SupervisorOptions{
		Logger: logger,
		OnRetry: func(attempt int, delay time.Duration) {
			fmt.Printf("connection lost, retrying in %s (attempt %d)\n", delay, attempt)
		},
	})
	if err := sup.Start(ctx); err != nil {
		logger.Error("start session", "error", err)
		return 1
	}
	defer sup.Stop()

	fmt.Println("talking to Rose. commands: mute | unmute | status | quit")
	go readCommands(ctrl, mic)

	<-ctx.Done()
	fmt.Println("\nshutting down")
	return 0
}

// meteredCapture taps capture frames into a short sliding window so the
// status command can report the current mic level.
type meteredCapture struct {
	session.CaptureSource
	level *audio.Buffer
}

func (m *meteredCapture) Start(onFrame func(samples []float32)) error {
	return m.CaptureSource.Start(func(samples []float32) {
		m.level.Write(audio.EncodeFloat32(samples))
		onFrame(samples)
	})
}

func readCommands(ctrl *session.Controller, mic *meteredCapture) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "mute":
			ctrl.SetMuted(true)
			fmt.Println("muted")
		case "unmute":
			ctrl.SetMuted(false)
			fmt.Println("unmuted")
		case "status":
			fmt.Printf("[%s] muted=%v mic=%.3f peak=%.3f\n",
				ctrl.Status(), ctrl.Muted(), mic.level.RMSEnergy(), mic.level.PeakAmplitude())
		case "quit":
			_ = syscall.Kill(syscall.Getpid(), syscall.SIGINT)
			return
		}
	}
}

func listDevices() int {
	infos, err := devices.List()
	if err != nil {
		fmt.Fprintln(os.Stderr, "list devices:", err)
		return 1
	}
	for _, d := range infos {
		fmt.Printf("%-40s in=%d out=%d\n", d.Name, d.Inputs, d.Outputs)
	}
	return 0
}

func printTurn(t transcript.Turn) {
	label := "rose"
	if t.Speaker == transcript.SpeakerUser {
		label = "you"
	}
	fmt.Printf("%s: %s\n", label, t.Text)
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "rose.db"
	}
	return filepath.Join(home, ".rose", "rose.db")
}
