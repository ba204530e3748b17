package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"convolens/internal/analyzer"
	"convolens/internal/compress"
	"convolens/internal/config"
	"convolens/internal/orchestrator"
	"convolens/internal/report"
	"convolens/internal/scheduler"
	"convolens/internal/session"
	"convolens/internal/source"
	"convolens/internal/timeframe"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// .env is optional; config and environment take over from here.
	_ = godotenv.Load()

	sessionID := flag.String("session", "default", "session id for follow-up questions")
	flag.Parse()

	// Load or create configuration
	cfg, err := config.Load()
	if err != nil {
		if os.IsNotExist(err) {
			cfg = config.Default()
			if err := cfg.Save(); err != nil {
				log.Printf("Warning: could not save default config: %v", err)
			} else {
				path, _ := config.ConfigPath()
				log.Printf("Created default config at: %s", path)
			}
		} else {
			log.Printf("Warning: could not load config: %v (using defaults)", err)
			cfg = config.Default()
		}
	}
	applyEnv(cfg)

	// Conversation sources in preference order.
	rest := source.NewRestSource(
		cfg.Sources.Rest.BaseURL,
		cfg.Sources.Rest.APIKey,
		cfg.Sources.Rest.PageSize,
		cfg.Sources.Rest.MaxConcurrency,
		time.Duration(cfg.Sources.Rest.TimeoutSeconds)*time.Second,
	)
	stream := source.NewStreamSource(
		cfg.Sources.Stream.URL,
		cfg.Sources.Stream.APIKey,
		time.Duration(cfg.Sources.Stream.TimeoutSeconds)*time.Second,
	)
	defer stream.Close()

	if cfg.Sources.Stream.URL != "" {
		if err := stream.Connect(context.Background()); err != nil {
			log.Printf("Warning: stream source unavailable at startup: %v", err)
		}
	}

	var ordered []source.Source
	for _, name := range cfg.Sources.PreferredOrder {
		switch name {
		case source.NameStream:
			ordered = append(ordered, stream)
		case source.NameRest:
			ordered = append(ordered, rest)
		default:
			log.Fatalf("Unknown source %q in preferred_order", name)
		}
	}
	selector := source.NewSelector(
		time.Duration(cfg.Sources.RetryBackoffMS)*time.Millisecond, ordered...)

	// Keepalive so a dead stream connection is noticed between queries.
	sched := scheduler.New()
	if cfg.Sources.Stream.URL != "" && cfg.Sources.Stream.KeepaliveSchedule != "" {
		if err := sched.AddJob("stream-keepalive", cfg.Sources.Stream.KeepaliveSchedule, stream.EnsureConnected); err != nil {
			log.Fatalf("Failed to schedule stream keepalive: %v", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	an, err := analyzer.New(cfg.Analysis)
	if err != nil {
		log.Fatalf("Failed to initialize analyzer: %v", err)
	}

	sessions, err := newSessionStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open session store: %v", err)
	}
	defer sessions.Close()

	orch := orchestrator.New(
		timeframe.NewResolver(time.Duration(cfg.Query.DefaultWindowDays)*24*time.Hour),
		selector,
		compress.New(cfg.Query.ExcerptLength),
		an,
		sessions,
		cfg.Query.CompressionBudget,
		cfg.Query.MaxConversations,
	)

	if query := strings.TrimSpace(strings.Join(flag.Args(), " ")); query != "" {
		if !ask(orch, *sessionID, query) {
			os.Exit(1)
		}
		return
	}

	// No query argument: interactive mode, one question per line.
	fmt.Println("convolens - ask questions about your support conversations (ctrl-d to exit)")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		ask(orch, *sessionID, query)
	}
}

// ask runs one query and renders its progress and result. Returns false on
// failure.
func ask(orch *orchestrator.Orchestrator, sessionID, query string) bool {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for ev := range orch.Ask(ctx, orchestrator.Request{SessionID: sessionID, Query: query}) {
		switch ev.Stage {
		case orchestrator.StageDone:
			fmt.Println()
			fmt.Print(report.Render(query, ev.Result))
			return true
		case orchestrator.StageFailed:
			fmt.Printf("\nQuery failed at %s (%s): %s\n", ev.Failure.Stage, ev.Failure.Kind, ev.Failure.Hint)
			return false
		default:
			fmt.Printf("[%3d%%] %s\n", ev.Percent, ev.Message)
		}
	}
	return false
}

func newSessionStore(cfg *config.Config) (session.Store, error) {
	switch cfg.Session.Backend {
	case config.SessionBackendSQLite:
		path := cfg.Session.DBPath
		if path == "" {
			var err error
			if path, err = config.DefaultDBPath(); err != nil {
				return nil, err
			}
		}
		return session.NewSQLiteStore(path)
	case config.SessionBackendMemory, "":
		return session.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown session backend: %s", cfg.Session.Backend)
	}
}

// applyEnv fills credentials from the environment when the config leaves
// them blank.
func applyEnv(cfg *config.Config) {
	if cfg.Analysis.APIKey == "" {
		switch cfg.Analysis.LLMProvider {
		case config.ProviderAnthropic:
			cfg.Analysis.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case config.ProviderGemini:
			cfg.Analysis.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
	if cfg.Sources.Rest.APIKey == "" {
		cfg.Sources.Rest.APIKey = os.Getenv("CONVOLENS_REST_API_KEY")
	}
	if cfg.Sources.Stream.APIKey == "" {
		cfg.Sources.Stream.APIKey = os.Getenv("CONVOLENS_STREAM_API_KEY")
	}
}
