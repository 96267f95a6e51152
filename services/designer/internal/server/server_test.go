package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"edaagent/internal/identity"
	"edaagent/internal/ratelimit"
	"edaagent/pkg/ai"
	"edaagent/pkg/domain"
	"edaagent/pkg/queue"
	"edaagent/services/designer/internal/app"
)

const timerNetlistJSON = `{
  "bom": {"components": [
    {"name": "U1", "type": "IC", "value": "NE555", "package": "DIP-8"},
    {"name": "R1", "type": "Resistor", "value": "1k"}
  ]},
  "netlist": {"nets": [
    {"net_name": "VCC", "connections": [{"component": "U1", "pin": "8"}, {"component": "R1", "pin": "1"}]}
  ]},
  "dfm_notes": ["Keep decoupling close to U1"]
}`

const timerScript = "import adsk.core, adsk.fusion\n"

type stubGenerator struct {
	mu         sync.Mutex
	netlistErr error
	scriptErr  error
}

func (g *stubGenerator) GenerateContent(_ context.Context, _ string, cfg ai.GenerationConfig) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cfg.ResponseSchema != nil {
		if g.netlistErr != nil {
			return "", g.netlistErr
		}
		return timerNetlistJSON, nil
	}
	if g.scriptErr != nil {
		return "", g.scriptErr
	}
	return timerScript, nil
}

type stubArchive struct{}

func (stubArchive) Store(context.Context, domain.DesignRecord) error { return nil }

func (stubArchive) URL(_ context.Context, userID, designID string) (string, error) {
	return "https://objects.local/" + userID + "/" + designID + ".py", nil
}

func newTestServer(t *testing.T, gen *stubGenerator, mutate func(*Config, *app.Config)) *Server {
	t.Helper()
	if gen == nil {
		gen = &stubGenerator{}
	}
	appCfg := app.Config{Generator: gen}
	cfg := Config{}
	if mutate != nil {
		mutate(&cfg, &appCfg)
	}
	a, err := app.New(appCfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	cfg.App = a
	return New(cfg)
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t, nil, nil).Router()
	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestGenerateAndFetchDesign(t *testing.T) {
	h := newTestServer(t, nil, nil).Router()
	user := map[string]string{userIDHeader: "u1"}

	rec := doJSON(t, h, http.MethodPost, "/designs/generate", `{"description":"555 timer blinking an LED"}`, user)
	if rec.Code != http.StatusOK {
		t.Fatalf("generate status = %d body=%s", rec.Code, rec.Body.String())
	}
	view := decode[sessionView](t, rec)
	if view.Status != "complete" || view.Step != 2 || view.Loading {
		t.Fatalf("unexpected session: %+v", view)
	}
	if view.Script != timerScript || view.RecordID == "" {
		t.Fatalf("expected persisted script, got %+v", view)
	}
	if len(view.BOMRows) != 2 || view.BOMRows[0].Package != "DIP-8" || view.BOMRows[1].Manufacturer != "N/A" {
		t.Fatalf("unexpected bom rows: %+v", view.BOMRows)
	}

	rec = doJSON(t, h, http.MethodGet, "/designs", "", user)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	list := decode[struct {
		Items []historyItem `json:"items"`
	}](t, rec)
	if len(list.Items) != 1 || list.Items[0].ID != view.RecordID || list.Items[0].Summary != "555 timer blinking an LED" {
		t.Fatalf("unexpected history: %+v", list.Items)
	}

	rec = doJSON(t, h, http.MethodGet, "/designs/"+view.RecordID, "", user)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	design := decode[designView](t, rec)
	if design.Prompt != "555 timer blinking an LED" || len(design.StructuredNetlist.DFMNotes) != 1 {
		t.Fatalf("unexpected design: %+v", design)
	}

	rec = doJSON(t, h, http.MethodGet, "/designs/"+view.RecordID+"/script", "", user)
	if rec.Code != http.StatusOK || rec.Body.String() != timerScript {
		t.Fatalf("script status = %d body=%q", rec.Code, rec.Body.String())
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/x-python") {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), view.RecordID+".py") {
		t.Fatalf("unexpected disposition %q", rec.Header().Get("Content-Disposition"))
	}

	// other users cannot see it
	rec = doJSON(t, h, http.MethodGet, "/designs/"+view.RecordID, "", map[string]string{userIDHeader: "u2"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cross-user get status = %d", rec.Code)
	}
}

func TestGenerateRejectsBlankDescription(t *testing.T) {
	h := newTestServer(t, nil, nil).Router()
	rec := doJSON(t, h, http.MethodPost, "/designs/generate", `{"description":"   "}`, map[string]string{userIDHeader: "u1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["error"] != "Please enter a circuit description" {
		t.Fatalf("unexpected error %q", body["error"])
	}

	rec = doJSON(t, h, http.MethodPost, "/designs/generate", `not json`, map[string]string{userIDHeader: "u1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/designs/generate", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET generate status = %d", rec.Code)
	}
}

func TestGenerateStageFailures(t *testing.T) {
	gen := &stubGenerator{netlistErr: errors.New("API error: 429 quota exceeded")}
	h := newTestServer(t, gen, nil).Router()
	user := map[string]string{userIDHeader: "u1"}

	rec := doJSON(t, h, http.MethodPost, "/designs/generate", `{"description":"555 timer"}`, user)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
	failed := decode[errorWithSession](t, rec)
	if failed.Error != "API error: 429 quota exceeded" {
		t.Fatalf("unexpected error %q", failed.Error)
	}
	if failed.Session.Status != "failed" || failed.Session.Stage != "netlist" || failed.Session.StructuredNetlist != nil {
		t.Fatalf("unexpected session: %+v", failed.Session)
	}

	gen.mu.Lock()
	gen.netlistErr = nil
	gen.scriptErr = errors.New("API error: 500 backend")
	gen.mu.Unlock()
	rec = doJSON(t, h, http.MethodPost, "/designs/generate", `{"description":"555 timer"}`, user)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
	failed = decode[errorWithSession](t, rec)
	if failed.Session.Stage != "script" || failed.Session.Step != 1 || failed.Session.StructuredNetlist == nil {
		t.Fatalf("expected netlist kept after script failure: %+v", failed.Session)
	}

	rec = doJSON(t, h, http.MethodGet, "/designs", "", user)
	list := decode[struct {
		Items []historyItem `json:"items"`
	}](t, rec)
	if len(list.Items) != 0 {
		t.Fatalf("failed runs must not be saved: %+v", list.Items)
	}
}

func TestAnonymousSessionLifecycle(t *testing.T) {
	h := newTestServer(t, nil, nil).Router()

	rec := doJSON(t, h, http.MethodGet, "/session", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("session status = %d", rec.Code)
	}
	sessionID := rec.Header().Get(sessionIDHeader)
	if sessionID == "" {
		t.Fatalf("expected issued session id")
	}
	if view := decode[sessionView](t, rec); view.Status != "idle" || view.Step != 0 {
		t.Fatalf("unexpected initial session: %+v", view)
	}

	anon := map[string]string{sessionIDHeader: sessionID}
	rec = doJSON(t, h, http.MethodPost, "/designs/generate", `{"description":"LED flasher"}`, anon)
	if rec.Code != http.StatusOK {
		t.Fatalf("generate status = %d", rec.Code)
	}
	view := decode[sessionView](t, rec)
	if view.Status != "complete" || view.RecordID != "" {
		t.Fatalf("anonymous result must not be persisted: %+v", view)
	}

	rec = doJSON(t, h, http.MethodGet, "/session", "", anon)
	if view := decode[sessionView](t, rec); view.Status != "complete" {
		t.Fatalf("expected session to keep result: %+v", view)
	}

	rec = doJSON(t, h, http.MethodPost, "/session/reset", "", anon)
	if view := decode[sessionView](t, rec); rec.Code != http.StatusOK || view.Status != "idle" {
		t.Fatalf("reset status = %d view=%+v", rec.Code, view)
	}

	rec = doJSON(t, h, http.MethodGet, "/designs", "", anon)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous history status = %d", rec.Code)
	}
}

func TestLoadFromHistory(t *testing.T) {
	h := newTestServer(t, nil, nil).Router()
	user := map[string]string{userIDHeader: "u1"}

	rec := doJSON(t, h, http.MethodPost, "/designs/generate", `{"description":"555 timer"}`, user)
	id := decode[sessionView](t, rec).RecordID
	doJSON(t, h, http.MethodPost, "/session/reset", "", user)

	rec = doJSON(t, h, http.MethodPost, "/session/load", `{"designId":"`+id+`"}`, user)
	if rec.Code != http.StatusOK {
		t.Fatalf("load status = %d body=%s", rec.Code, rec.Body.String())
	}
	view := decode[sessionView](t, rec)
	if !view.FromHistory || view.Script != timerScript || view.Step != 2 {
		t.Fatalf("unexpected loaded session: %+v", view)
	}

	rec = doJSON(t, h, http.MethodPost, "/session/load", `{"designId":"missing"}`, user)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing design status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/session/load", `{}`, user)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty id status = %d", rec.Code)
	}
}

func TestScriptURL(t *testing.T) {
	h := newTestServer(t, nil, nil).Router()
	user := map[string]string{userIDHeader: "u1"}
	rec := doJSON(t, h, http.MethodPost, "/designs/generate", `{"description":"555 timer"}`, user)
	id := decode[sessionView](t, rec).RecordID

	rec = doJSON(t, h, http.MethodGet, "/designs/"+id+"/script-url", "", user)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without archive, got %d", rec.Code)
	}

	h = newTestServer(t, nil, func(_ *Config, a *app.Config) { a.Archive = stubArchive{} }).Router()
	rec = doJSON(t, h, http.MethodPost, "/designs/generate", `{"description":"555 timer"}`, user)
	id = decode[sessionView](t, rec).RecordID
	rec = doJSON(t, h, http.MethodGet, "/designs/"+id+"/script-url", "", user)
	if rec.Code != http.StatusOK {
		t.Fatalf("script-url status = %d", rec.Code)
	}
	if got := decode[map[string]string](t, rec)["url"]; got != "https://objects.local/u1/"+id+".py" {
		t.Fatalf("unexpected url %q", got)
	}
}

func TestArchiveStatus(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	jobs, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{Client: client, Stream: "test:archive"})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	h := newTestServer(t, nil, func(_ *Config, a *app.Config) {
		a.Archive = stubArchive{}
		a.ArchiveQueue = jobs
	}).Router()
	user := map[string]string{userIDHeader: "u1"}
	rec := doJSON(t, h, http.MethodPost, "/designs/generate", `{"description":"555 timer"}`, user)
	id := decode[sessionView](t, rec).RecordID

	// no workers are started, so the job stays queued
	rec = doJSON(t, h, http.MethodGet, "/designs/"+id+"/archive", "", user)
	if rec.Code != http.StatusOK {
		t.Fatalf("archive status = %d body=%s", rec.Code, rec.Body.String())
	}
	job := decode[queue.Job](t, rec)
	if job.DesignID != id || job.Status != queue.StatusQueued {
		t.Fatalf("unexpected job: %+v", job)
	}

	other := map[string]string{userIDHeader: "u2"}
	if rec := doJSON(t, h, http.MethodGet, "/designs/"+id+"/archive", "", other); rec.Code != http.StatusNotFound {
		t.Fatalf("other user status = %d", rec.Code)
	}

	h = newTestServer(t, nil, func(_ *Config, a *app.Config) { a.Archive = stubArchive{} }).Router()
	rec = doJSON(t, h, http.MethodPost, "/designs/generate", `{"description":"555 timer"}`, user)
	id = decode[sessionView](t, rec).RecordID
	if rec := doJSON(t, h, http.MethodGet, "/designs/"+id+"/archive", "", user); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without queue, got %d", rec.Code)
	}
}

func TestGenerateRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := ratelimit.NewFixedWindowLimiter(ratelimit.Config{Client: client, Limit: 1, Window: time.Minute})
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	h := newTestServer(t, nil, func(c *Config, _ *app.Config) { c.Limiter = limiter }).Router()
	user := map[string]string{userIDHeader: "u1"}

	if rec := doJSON(t, h, http.MethodPost, "/designs/generate", `{"description":"555 timer"}`, user); rec.Code != http.StatusOK {
		t.Fatalf("first status = %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodPost, "/designs/generate", `{"description":"555 timer"}`, user); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d", rec.Code)
	}
	other := map[string]string{userIDHeader: "u2"}
	if rec := doJSON(t, h, http.MethodPost, "/designs/generate", `{"description":"555 timer"}`, other); rec.Code != http.StatusOK {
		t.Fatalf("other user status = %d", rec.Code)
	}
}

func TestBearerTokenIdentity(t *testing.T) {
	verifier, err := identity.NewVerifier(identity.Config{Secret: "secret", Issuer: "iss", Audience: "aud"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	h := newTestServer(t, nil, func(c *Config, _ *app.Config) { c.TokenVerifier = verifier }).Router()

	now := time.Now()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u1",
		Issuer:    "iss",
		Audience:  jwt.ClaimStrings{"aud"},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	rec := doJSON(t, h, http.MethodGet, "/designs", "", map[string]string{"Authorization": "Bearer " + token})
	if rec.Code != http.StatusOK {
		t.Fatalf("authorized status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/designs", "", map[string]string{"Authorization": "Bearer garbage"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("invalid token status = %d", rec.Code)
	}
	// the user header is ignored once tokens are verified
	rec = doJSON(t, h, http.MethodGet, "/designs", "", map[string]string{userIDHeader: "u1"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("header-only status = %d", rec.Code)
	}
}

func TestStreamPushesHistory(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t, nil, nil).Router())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/designs/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set(userIDHeader, "u1")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("unexpected stream response: %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	events := make(chan []historyItem, 4)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var items []historyItem
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &items); err == nil {
				events <- items
			}
		}
		close(events)
	}()

	next := func() []historyItem {
		t.Helper()
		select {
		case items, ok := <-events:
			if !ok {
				t.Fatalf("stream closed early")
			}
			return items
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for history event")
		}
		return nil
	}

	if items := next(); len(items) != 0 {
		t.Fatalf("expected empty initial history, got %+v", items)
	}

	body := strings.NewReader(`{"description":"555 timer"}`)
	genReq, _ := http.NewRequest(http.MethodPost, srv.URL+"/designs/generate", body)
	genReq.Header.Set(userIDHeader, "u1")
	genResp, err := srv.Client().Do(genReq)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	genResp.Body.Close()

	items := next()
	if len(items) != 1 || items[0].Prompt != "555 timer" {
		t.Fatalf("unexpected pushed history: %+v", items)
	}
}

func TestStreamRequiresIdentity(t *testing.T) {
	h := newTestServer(t, nil, nil).Router()
	rec := doJSON(t, h, http.MethodGet, "/designs/stream", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}
