// Package main runs the mention-driven payment bot:
// - Scheduler (continuous): mention polling → parse → resolve → pay → reply
// - Reconciliation (continuous): mirror stream + getTransfer probe sweep
// - Control API: /status, /poll, /test-command, /health, /metrics
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"tipbot/internal/command"
	"tipbot/internal/executor"
	"tipbot/internal/ledger"
	"tipbot/internal/observability"
	"tipbot/internal/reconcile"
	"tipbot/internal/reply"
	"tipbot/internal/resolver"
	"tipbot/internal/scheduler"
	"tipbot/internal/social"
	"tipbot/internal/storage"
	"tipbot/internal/storage/clickhouse"
	"tipbot/internal/storage/memory"
	"tipbot/internal/storage/migrations"
	pgstore "tipbot/internal/storage/postgres"
)

// botStores holds the storage implementations behind the pipeline.
type botStores struct {
	links     storage.AccountLinkStore
	transfers storage.TransferRecordStore
	dedup     storage.DedupStore
	cursor    storage.PollCursorStore
	archive   storage.TransferArchive // nil without clickhouse
}

func main() {
	loadEnvFile()

	// Parse flags (env vars as defaults)
	socialAPIBase := flag.String("social-api-base", envOr("SOCIAL_API_BASE", "https://api.twitter.com"), "Social platform API base URL")
	botUserID := flag.String("bot-user-id", os.Getenv("BOT_USER_ID"), "Bot account user ID on the platform")
	botHandle := flag.String("bot-handle", envOr("BOT_HANDLE", "tipbot"), "Bot handle used as the command trigger")
	fetchToken := flag.String("fetch-token", os.Getenv("FETCH_BEARER_TOKEN"), "Bearer token for the mention-fetch identity")
	replyToken := flag.String("reply-token", os.Getenv("REPLY_BEARER_TOKEN"), "Bearer token for the reply identity")
	ledgerEndpoint := flag.String("ledger-endpoint", os.Getenv("LEDGER_ENDPOINT"), "Ledger node JSON-RPC endpoint")
	mirrorEndpoint := flag.String("mirror-endpoint", os.Getenv("LEDGER_MIRROR_ENDPOINT"), "Ledger mirror WebSocket endpoint (optional)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (optional archive)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	pollInterval := flag.Duration("poll-interval", 30*time.Second, "Mention poll interval")
	nativeToken := flag.String("native-token", envOr("NATIVE_TOKEN", "TIP"), "Native token symbol")
	initialBalance := flag.String("initial-balance", envOr("INITIAL_BALANCE", "10"), "Treasury grant for auto-provisioned accounts")
	httpAddr := flag.String("http-addr", envOr("HTTP_ADDR", ":8080"), "Control API listen address")

	flag.Parse()

	logger := log.New(os.Stdout, "[tipbot] ", log.LstdFlags|log.Lshortfile)

	if *botUserID == "" {
		logger.Fatal("--bot-user-id is required")
	}
	if *fetchToken == "" || *replyToken == "" {
		logger.Fatal("--fetch-token and --reply-token are required (two identities, two tokens)")
	}
	if *ledgerEndpoint == "" {
		logger.Fatal("--ledger-endpoint is required")
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	grant, err := decimal.NewFromString(*initialBalance)
	if err != nil || grant.IsNegative() {
		logger.Fatalf("invalid --initial-balance %q", *initialBalance)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	metrics := observability.NewMetrics("tipbot")

	// Two social identities: fetch and reply never share a session or a
	// rate-limit budget.
	fetcher := social.NewHTTPClient(*socialAPIBase, *botUserID, *fetchToken,
		social.WithPageLimit(scheduler.DefaultBatchLimit))
	poster := social.NewHTTPClient(*socialAPIBase, *botUserID, *replyToken)

	ledgerClient := ledger.NewHTTPClient(*ledgerEndpoint)

	accountResolver, err := resolver.New(resolver.Options{
		Links:          stores.links,
		Ledger:         ledgerClient,
		InitialBalance: grant,
		Metrics:        metrics,
		Logger:         log.New(os.Stdout, "[resolver] ", log.LstdFlags),
	})
	if err != nil {
		logger.Fatalf("Failed to create resolver: %v", err)
	}

	paymentExecutor, err := executor.New(executor.Options{
		Records: stores.transfers,
		Ledger:  ledgerClient,
		Archive: stores.archive,
		Metrics: metrics,
		Logger:  log.New(os.Stdout, "[executor] ", log.LstdFlags),
	})
	if err != nil {
		logger.Fatalf("Failed to create executor: %v", err)
	}

	dispatcher := reply.New(poster, metrics, log.New(os.Stdout, "[reply] ", log.LstdFlags))

	parser := command.New(command.Config{
		TriggerHandle: *botHandle,
		NativeToken:   strings.ToUpper(*nativeToken),
		TokenDecimals: map[string]int32{strings.ToUpper(*nativeToken): 8},
	})

	sched, err := scheduler.New(scheduler.Options{
		Source:   fetcher,
		Parser:   parser,
		Resolver: accountResolver,
		Executor: paymentExecutor,
		Replies:  dispatcher,
		Dedup:    stores.dedup,
		Cursor:   stores.cursor,
		Links:    stores.links,
		Balances: ledgerClient,
		Metrics:  metrics,
		Logger:   log.New(os.Stdout, "[scheduler] ", log.LstdFlags),
	})
	if err != nil {
		logger.Fatalf("Failed to create scheduler: %v", err)
	}

	// Mirror stream is best-effort: without it the probe sweep still
	// settles INDETERMINATE records, just slower.
	var mirrorEvents <-chan ledger.TransferEvent
	var mirror *ledger.MirrorStream
	if *mirrorEndpoint != "" {
		mirror, err = ledger.NewMirrorStream(ctx, *mirrorEndpoint, nil,
			log.New(os.Stdout, "[mirror] ", log.LstdFlags))
		if err != nil {
			logger.Printf("Mirror stream unavailable, relying on probe sweep: %v", err)
		} else {
			mirrorEvents = mirror.Events()
			defer mirror.Close()
		}
	}

	watcher, err := reconcile.New(reconcile.Options{
		Records: stores.transfers,
		Ledger:  ledgerClient,
		Events:  mirrorEvents,
		Archive: stores.archive,
		Metrics: metrics,
		Logger:  log.New(os.Stdout, "[reconcile] ", log.LstdFlags),
	})
	if err != nil {
		logger.Fatalf("Failed to create reconciliation watcher: %v", err)
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go startControlServer(*httpAddr, sched, logger)

	watcher.Start(ctx)
	if err := sched.Start(ctx, *pollInterval); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}
	logger.Printf("Running: trigger=@%s interval=%s", *botHandle, *pollInterval)

	sig := <-sigCh
	logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
	cancel()

	shutdownDone := make(chan struct{})
	go func() {
		sched.Stop()
		watcher.Stop()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
	case sig := <-sigCh:
		logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
		os.Exit(1)
	case <-time.After(30 * time.Second):
		logger.Println("Graceful shutdown timed out after 30s, forcing exit")
		os.Exit(1)
	}

	logger.Println("Shutdown complete")
}

// createStores creates the storage implementations.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*botStores, func(), error) {
	if useMemory {
		stores := &botStores{
			links:     memory.NewAccountLinkStore(),
			transfers: memory.NewTransferRecordStore(),
			dedup:     memory.NewDedupStore(),
			cursor:    memory.NewPollCursorStore(),
		}
		return stores, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run postgres migrations: %w", err)
	}

	stores := &botStores{
		links:     pgstore.NewAccountLinkStore(pool),
		transfers: pgstore.NewTransferRecordStore(pool),
		dedup:     pgstore.NewDedupStore(pool),
		cursor:    pgstore.NewPollCursorStore(pool),
	}

	var chConn *clickhouse.Conn
	if clickhouseDSN != "" {
		chConn, err = migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		stores.archive = clickhouse.NewTransferArchiveStore(chConn)
	}

	cleanup := func() {
		if chConn != nil {
			chConn.Close()
		}
		pool.Close()
	}
	return stores, cleanup, nil
}

// startControlServer serves health, metrics and the scheduler control API.
func startControlServer(addr string, sched *scheduler.Scheduler, logger *log.Logger) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", observability.Handler())

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sched.Status())
	})

	mux.HandleFunc("/poll", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		sched.TriggerPollNow()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
	})

	mux.HandleFunc("/test-command", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Text   string `json:"text"`
			Sender string `json:"sender"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}

		run, err := sched.TestCommand(r.Context(), req.Sender, req.Text)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"valid": false,
				"error": err.Error(),
			})
			return
		}
		cmd := run.Command
		resp := map[string]interface{}{
			"valid":           true,
			"verb":            cmd.Verb,
			"amount":          cmd.Amount.String(),
			"token":           cmd.Token,
			"recipient":       cmd.RecipientHandle,
			"recipientLinked": run.RecipientLinked,
		}
		if req.Sender != "" {
			resp["senderLinked"] = run.SenderLinked
			if run.BalanceKnown {
				resp["senderBalance"] = run.SenderBalance.String()
				resp["sufficientFunds"] = run.SufficientFunds
			}
		}
		writeJSON(w, http.StatusOK, resp)
	})

	logger.Printf("Starting control API on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Printf("Control API error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// envOr returns the env var value or a fallback.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadEnvFile loads .env into the environment without overriding set vars.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
