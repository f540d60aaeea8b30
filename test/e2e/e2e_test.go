package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/internal/chat"
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
)

const e2eDims = 64

type e2eStack struct {
	srv     *server.Server
	engine  *memory.Engine
	client  *llm.MockClient
	httpSrv *httptest.Server
}

func newE2EStack(t *testing.T) *e2eStack {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	logger := zap.NewNop()

	store, err := storage.NewSQLiteStore(filepath.Join(dir, "memory.db"))
	if err != nil {
		t.Fatal(err)
	}
	index, err := vector.NewFlatIndex(e2eDims)
	if err != nil {
		t.Fatal(err)
	}
	kwIndex, err := keyword.NewBleveIndex(filepath.Join(dir, "keyword.bleve"))
	if err != nil {
		t.Fatal(err)
	}
	engine, err := memory.NewEngine(context.Background(), store,
		embedding.NewMockEmbedder(e2eDims), index, kwIndex,
		&cfg.Memory, filepath.Join(dir, "vectors.bin"), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = engine.Close() })

	client := &llm.MockClient{Response: "Certainly, I can help with that."}
	sessions := session.NewRegistry(cfg.Memory.SessionWindow)
	manager := chat.NewManager(engine, client, sessions, cfg, logger)
	ingestor := corpus.NewIngestor(engine,
		corpus.NewChunker(cfg.Corpus.ChunkSize, cfg.Corpus.ChunkOverlap),
		cfg.Corpus.Extensions, logger)
	srv := server.NewServer(manager, engine, sessions, ingestor, cfg, logger)

	httpSrv := httptest.NewServer(srv.Router())
	t.Cleanup(httpSrv.Close)

	return &e2eStack{srv: srv, engine: engine, client: client, httpSrv: httpSrv}
}

func (s *e2eStack) post(t *testing.T, path string, req, resp interface{}) {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	r, err := http.Post(s.httpSrv.URL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Body.Close()
	if r.StatusCode != http.StatusOK && r.StatusCode != http.StatusCreated {
		t.Fatalf("POST %s returned %d", path, r.StatusCode)
	}
	if err := json.NewDecoder(r.Body).Decode(resp); err != nil {
		t.Fatal(err)
	}
}

func TestE2E_ChatBuildsDurableMemory(t *testing.T) {
	stack := newE2EStack(t)

	var first models.ChatResponse
	stack.post(t, "/api/v1/chat", &models.ChatRequest{
		Message:   "my favorite city is Kyoto",
		SessionID: "traveler",
	}, &first)
	if first.Response == "" {
		t.Fatal("empty chat response")
	}

	var second models.ChatResponse
	stack.post(t, "/api/v1/chat", &models.ChatRequest{
		Message:   "which city did I say I liked?",
		SessionID: "traveler",
	}, &second)

	// The second prompt must carry the first exchange as session history.
	if len(stack.client.Calls) != 2 {
		t.Fatalf("model calls = %d, want 2", len(stack.client.Calls))
	}
	if !strings.Contains(stack.client.Calls[1], "my favorite city is Kyoto") {
		t.Error("second prompt does not include the first exchange")
	}

	stats, err := stack.engine.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalRecords != 2 || stats.TotalVectors != 2 {
		t.Errorf("stats = %d/%d, want 2/2", stats.TotalRecords, stats.TotalVectors)
	}
}

func TestE2E_DocumentIngestionAcrossFormats(t *testing.T) {
	stack := newE2EStack(t)
	dir := t.TempDir()

	for i, ext := range FixtureExtensions {
		text := fmt.Sprintf("The orbital period of planet %d is exactly %d days.", i, 100+i)
		path := filepath.Join(dir, fmt.Sprintf("doc%d%s", i, ext))
		if err := os.WriteFile(path, MinimalFile(ext, text), 0644); err != nil {
			t.Fatal(err)
		}
	}

	var indexed models.IndexResponse
	stack.post(t, "/api/v1/index", &models.IndexRequest{Path: dir}, &indexed)
	if indexed.Documents != len(FixtureExtensions) {
		t.Fatalf("indexed %d documents, want %d", indexed.Documents, len(FixtureExtensions))
	}
	if indexed.Passages < len(FixtureExtensions) {
		t.Fatalf("indexed %d passages, want at least %d", indexed.Passages, len(FixtureExtensions))
	}

	// Each passage is embedded verbatim, so querying one passage's exact
	// text must retrieve it above the quality gate.
	var found models.SearchResponse
	stack.post(t, "/api/v1/memory/search", &models.SearchRequest{
		Query: "The orbital period of planet 0 is exactly 100 days.",
		Limit: 3,
	}, &found)
	if found.Total == 0 {
		t.Fatal("expected the ingested passage to be retrievable")
	}
	if found.Results[0].Record.Kind != models.KindDocument {
		t.Errorf("top result kind = %q, want document", found.Results[0].Record.Kind)
	}
}

func TestE2E_WebsocketChat(t *testing.T) {
	stack := newE2EStack(t)
	stack.client.GenerateFunc = func(ctx context.Context, prompt string) (string, error) {
		return fmt.Sprintf("reply %d", len(stack.client.Calls)), nil
	}

	wsURL := "ws" + strings.TrimPrefix(stack.httpSrv.URL, "http") + "/ws/chat"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// The server announces the assigned session before the first exchange.
	var announce map[string]string
	if err := conn.ReadJSON(&announce); err != nil {
		t.Fatal(err)
	}
	if announce["action"] != "session_created" {
		t.Fatalf("first message action = %q, want session_created", announce["action"])
	}
	if announce["session_id"] == "" {
		t.Fatal("session_created carries no session_id")
	}

	// One response per message, in order.
	for i := 1; i <= 3; i++ {
		msg := map[string]string{"message": fmt.Sprintf("message %d", i)}
		if err := conn.WriteJSON(msg); err != nil {
			t.Fatal(err)
		}
		var resp models.ChatResponse
		if err := conn.ReadJSON(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.Error != "" {
			t.Fatalf("message %d: unexpected error %q", i, resp.Error)
		}
		if resp.SessionID != announce["session_id"] {
			t.Errorf("message %d: session = %q, want %q", i, resp.SessionID, announce["session_id"])
		}
		want := fmt.Sprintf("reply %d", i)
		if resp.Response != want {
			t.Errorf("message %d: response = %q, want %q", i, resp.Response, want)
		}
	}

	// An empty message yields an error field, not a dropped connection.
	if err := conn.WriteJSON(map[string]string{"message": ""}); err != nil {
		t.Fatal(err)
	}
	var errResp models.ChatResponse
	if err := conn.ReadJSON(&errResp); err != nil {
		t.Fatal(err)
	}
	if errResp.Error == "" {
		t.Error("expected an error for an empty message")
	}
}
