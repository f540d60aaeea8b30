// Package main is the Kaiwa CLI entry point.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/internal/chat"
	"github.com/hyperjump/kaiwa/internal/cli"
	"github.com/hyperjump/kaiwa/internal/config"
	"github.com/hyperjump/kaiwa/internal/corpus"
	"github.com/hyperjump/kaiwa/internal/embedding"
	"github.com/hyperjump/kaiwa/internal/keyword"
	"github.com/hyperjump/kaiwa/internal/llm"
	"github.com/hyperjump/kaiwa/internal/memory"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/server"
	"github.com/hyperjump/kaiwa/internal/session"
	"github.com/hyperjump/kaiwa/internal/storage"
	"github.com/hyperjump/kaiwa/internal/vector"
	"github.com/hyperjump/kaiwa/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kaiwa/config.yaml"

// loadConfig loads config from path. When path is the default, a config.yaml
// in the current directory takes precedence (for development), so "kaiwa
// server" from the project dir uses the project's config. Returns the config
// and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "chat":
		runChat()
	case "index":
		runIndex()
	case "search":
		runSearch()
	case "history":
		runHistory()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kaiwa version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Debug = true
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", cfg.Debug),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	var watch *corpus.Watcher
	if cfg.Corpus.Watch && cfg.Corpus.Directory != "" {
		ingestor := components.Ingestor
		watch = corpus.NewWatcher(cfg.Corpus.Directory, cfg.Corpus.Extensions, func(path string) {
			if _, err := ingestor.IngestPath(context.Background(), path); err != nil {
				logger.Warn("corpus ingest failed", zap.String("path", path), zap.Error(err))
			}
		}, logger)
		if err := watch.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start corpus watcher", zap.Error(err))
		}
	}

	srv := server.NewServer(
		components.Manager,
		components.Engine,
		components.Sessions,
		components.Ingestor,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if watch != nil {
		watch.Stop()
	}
	watchCancel()
	if err := components.Engine.Save(); err != nil {
		logger.Warn("vector index save on shutdown failed", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// buildQuery joins all positional args with spaces so multi-word messages
// work the same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves flags before positional args. The flag package stops
// parsing at the first positional, so "kaiwa search foo -limit 3" would
// otherwise treat "-limit" as part of the query.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runChat() {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8000", "server URL")
	sessionID := fs.String("session", "", "session id (default: new session)")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if *sessionID == "" {
		*sessionID = fmt.Sprintf("cli-%d", time.Now().Unix())
	}

	// With a message argument, send it and exit. Without one, run an
	// interactive loop against the server.
	if fs.NArg() > 0 {
		response, err := sendChat(*serverURL, buildQuery(fs.Args()), *sessionID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Chat failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("[session %s]\n%s\n", *sessionID, response)
		return
	}

	fmt.Printf("Chatting as session %s. Type 'exit' or Ctrl-D to quit.\n", *sessionID)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		message := strings.TrimSpace(scanner.Text())
		if message == "" {
			continue
		}
		if message == "exit" || message == "quit" {
			break
		}
		response, err := sendChat(*serverURL, message, *sessionID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Chat failed: %v\n", err)
			continue
		}
		fmt.Println(response)
	}
}

func sendChat(serverURL, message, sessionID string) (string, error) {
	var resp models.ChatResponse
	err := postViaHTTP(serverURL+"/api/v1/chat", &models.ChatRequest{
		Message:   message,
		SessionID: sessionID,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("%s", resp.Error)
	}
	return resp.Response, nil
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = use direct storage)")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: kaiwa index [flags] <file-or-directory>")
		os.Exit(1)
	}
	path, _ := filepath.Abs(fs.Arg(0))

	if *serverURL != "" {
		var resp models.IndexResponse
		if err := postViaHTTP(*serverURL+"/api/v1/index", &models.IndexRequest{Path: path}, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Indexing failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Indexed %d document(s), %d passage(s)\n", resp.Documents, resp.Passages)
		return
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	report, err := components.Ingestor.IngestPath(context.Background(), path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Indexing failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Indexed %d document(s), %d passage(s), %d skipped\n",
		report.Documents, report.Passages, report.Skipped)
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8000", "server URL (empty = use direct storage)")
	limit := fs.Int("limit", 5, "number of results")
	minScore := fs.Float64("min-score", -1, "minimum similarity score (-1 = configured default)")
	keywordFlag := fs.Bool("keyword", false, "also run keyword search")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: kaiwa search [flags] <query>")
		os.Exit(1)
	}
	query := buildQuery(fs.Args())
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	req := &models.SearchRequest{
		Query:   query,
		Limit:   *limit,
		Keyword: *keywordFlag,
	}
	if *minScore >= 0 {
		req.MinScore = minScore
	}

	if *serverURL != "" {
		var resp models.SearchResponse
		if err := postViaHTTP(*serverURL+"/api/v1/memory/search", req, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WriteSearchResults(os.Stdout, &resp, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Direct storage access (when server is not running).
	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	score := *cfg.Memory.MinScore
	if *minScore >= 0 {
		score = *minScore
	}
	start := time.Now()
	results, err := components.Engine.RetrieveSimilar(context.Background(), query, *limit, score)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	resp := &models.SearchResponse{
		Results:   results,
		Total:     len(results),
		Query:     query,
		QueryTime: time.Since(start).Milliseconds(),
	}
	if *keywordFlag {
		keywordResults, err := components.Engine.RetrieveKeyword(context.Background(), query, *limit)
		if err == nil {
			resp.KeywordResults = keywordResults
		}
	}
	if err := cli.WriteSearchResults(os.Stdout, resp, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runHistory() {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8000", "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: kaiwa history [flags] <session-id>")
		os.Exit(1)
	}
	sessionID := fs.Arg(0)
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	resp, err := http.Get(*serverURL + "/api/v1/sessions/" + sessionID + "/history")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "History failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var history models.HistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteHistory(os.Stdout, &history, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8000", "server URL (empty = use direct storage)")
	_ = fs.Parse(os.Args[2:])

	if *serverURL != "" {
		resp, err := http.Get(*serverURL + "/api/v1/status")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Fprintf(os.Stderr, "Status failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		var out map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
			os.Exit(1)
		}
		printStatus(out)
		return
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer components.Close()
	stats, err := components.Engine.Stats(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Stats failed: %v\n", err)
		os.Exit(1)
	}
	printStatus(map[string]interface{}{
		"total_records": stats.TotalRecords,
		"total_vectors": stats.TotalVectors,
		"dimensions":    stats.Dimensions,
	})
}

func printStatus(out map[string]interface{}) {
	for _, key := range []string{"total_records", "total_vectors", "dimensions", "active_sessions"} {
		if v, ok := out[key]; ok {
			fmt.Printf("%-16s %v\n", key+":", v)
		}
	}
}

func postViaHTTP(url string, request, response interface{}) error {
	body, err := json.Marshal(request)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Components holds initialized services.
type Components struct {
	Store    storage.RecordStore
	Embedder embedding.Embedder
	Index    vector.Index
	Keyword  keyword.KeywordIndex
	Engine   *memory.Engine
	Sessions *session.Registry
	Manager  *chat.Manager
	Ingestor *corpus.Ingestor
}

func (c *Components) Close() {
	if c.Engine != nil {
		// Engine.Close also closes the store, index and keyword index.
		_ = c.Engine.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize record store: %w", err)
	}

	var embedder embedding.Embedder
	onnxEmbedder, err := embedding.NewONNXEmbedder(
		cfg.Embedding.ModelPath,
		cfg.Embedding.Dimensions,
		cfg.Embedding.MaxTokens,
		cfg.Embedding.CacheSize,
	)
	if err != nil {
		logger.Warn("ONNX embedder unavailable, using mock embedder", zap.Error(err))
		embedder = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	} else {
		embedder = onnxEmbedder
	}

	index, err := vector.New(cfg.Vector.IndexType, cfg.Embedding.Dimensions)
	if err != nil {
		if cfg.Vector.IndexType != "flat" && cfg.Vector.IndexType != "" {
			logger.Warn("failed to create vector index, falling back to flat",
				zap.String("requested_type", cfg.Vector.IndexType), zap.Error(err))
			index, err = vector.New("flat", cfg.Embedding.Dimensions)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vector index: %w", err)
		}
	}
	if err := index.Load(cfg.Storage.VectorIndexPath); err != nil {
		return nil, fmt.Errorf("failed to load vector index: %w", err)
	}
	logger.Info("vector index initialized",
		zap.String("type", index.Type()),
		zap.Int("size", index.Size()),
		zap.Bool("faiss_available", vector.IsFAISSAvailable()))

	keywordIndex, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	engine, err := memory.NewEngine(context.Background(), store, embedder, index,
		keywordIndex, &cfg.Memory, cfg.Storage.VectorIndexPath, logger)
	if err != nil {
		// A count mismatch between the record log and the vector blob is not
		// repairable automatically; refuse to start.
		return nil, fmt.Errorf("memory engine startup failed: %w", err)
	}

	var client llm.Client
	openaiClient, err := llm.NewOpenAIClient(&cfg.LLM, logger)
	if err != nil {
		logger.Warn("chat completion client unavailable, using canned responses", zap.Error(err))
		client = &llm.MockClient{Response: "I don't have a language model configured. Set OPENAI_API_KEY or llm.base_url."}
	} else {
		client = openaiClient
	}

	sessions := session.NewRegistry(cfg.Memory.SessionWindow)
	manager := chat.NewManager(engine, client, sessions, cfg, logger)
	ingestor := corpus.NewIngestor(engine,
		corpus.NewChunker(cfg.Corpus.ChunkSize, cfg.Corpus.ChunkOverlap),
		cfg.Corpus.Extensions, logger)

	return &Components{
		Store:    store,
		Embedder: embedder,
		Index:    index,
		Keyword:  keywordIndex,
		Engine:   engine,
		Sessions: sessions,
		Manager:  manager,
		Ingestor: ingestor,
	}, nil
}

func printUsage() {
	fmt.Println(`kaiwa - Conversational assistant with long-term memory

Usage:
  kaiwa server [flags]              Start the HTTP/websocket server
  kaiwa chat [flags] [message]      Chat (interactive without a message)
  kaiwa index [flags] <path>        Ingest documents into memory
  kaiwa search [flags] <query>      Search the conversation memory
  kaiwa history [flags] <session>   Show a session's durable history
  kaiwa status [flags]              Show memory store status
  kaiwa version                     Show version
  kaiwa help                        Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kaiwa/config.yaml)
  --debug            Enable debug logging

Chat Flags:
  --server string    Server URL (default: http://localhost:8000)
  --session string   Session id (default: a fresh cli session)

Search Flags:
  --config string     Config file path (for direct storage mode)
  --server string     Server URL (default: http://localhost:8000). Use --server "" for direct storage.
  --limit int         Number of results (default: 5)
  --min-score float   Minimum similarity score (default: configured min_score)
  --keyword           Also run keyword search
  --output string     Output format: text or json (default: text)

Examples:
  kaiwa server
  kaiwa chat --session alice "what did we talk about yesterday?"
  kaiwa index ./docs
  kaiwa search "kubernetes upgrade plan"
  kaiwa search --output json --keyword deploy
  kaiwa history alice
  kaiwa status`)
}
