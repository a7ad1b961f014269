package api_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/aelira-dev/aelira/internal/api"
	"github.com/aelira-dev/aelira/internal/config"
	"github.com/aelira-dev/aelira/internal/observe"
	"github.com/aelira-dev/aelira/internal/routeplanner"
	"github.com/aelira-dev/aelira/internal/session"
	"github.com/aelira-dev/aelira/internal/source"
	"github.com/aelira-dev/aelira/internal/sysmon"
	"github.com/aelira-dev/aelira/internal/track"
)

type testEnv struct {
	router   http.Handler
	sessions *session.Registry
}

func newTestEnv(t *testing.T, password string) *testEnv {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.Password = password

	sources := source.NewRegistry(slog.Default())
	sources.Register(source.NewLocalSource())
	sessions := session.NewRegistry(sources, slog.Default())

	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	server := api.NewServer(api.Deps{
		Cfg:      cfg,
		Sessions: sessions,
		Sources:  sources,
		Sampler:  sysmon.NewSampler(slog.Default()),
		Planner:  routeplanner.New(""),
		Metrics:  metrics,
		Version:  "4.0.0-test",
		Log:      slog.Default(),
	})
	return &testEnv{router: server.Router(), sessions: sessions}
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestVersionEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodGet, "/version", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "4.0.0-test" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestAuthRequired(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "hunter2")

	rec := env.do(t, http.MethodGet, "/v4/info", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}
	for _, key := range []string{"timestamp", "status", "error", "message", "path"} {
		if _, ok := body[key]; !ok {
			t.Errorf("error body missing %q", key)
		}
	}

	rec = env.do(t, http.MethodGet, "/v4/info", "", map[string]string{"Authorization": "hunter2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", rec.Code)
	}

	// /version stays open.
	if rec := env.do(t, http.MethodGet, "/version", "", nil); rec.Code != http.StatusOK {
		t.Errorf("/version status = %d, want 200", rec.Code)
	}
}

func TestInfoListsSources(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodGet, "/v4/info", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var info struct {
		Version struct {
			Semver     string  `json:"semver"`
			Major      int     `json:"major"`
			PreRelease *string `json:"preRelease"`
		} `json:"version"`
		SourceManagers []string `json:"sourceManagers"`
		Filters        []string `json:"filters"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if info.Version.Semver != "4.0.0-test" || info.Version.Major != 4 {
		t.Errorf("version = %+v", info.Version)
	}
	if info.Version.PreRelease == nil || *info.Version.PreRelease != "test" {
		t.Errorf("preRelease = %v, want test", info.Version.PreRelease)
	}
	if len(info.SourceManagers) != 1 || info.SourceManagers[0] != "local" {
		t.Errorf("sourceManagers = %v, want [local]", info.SourceManagers)
	}
	if info.Filters == nil {
		t.Error("filters missing")
	}
}

func TestStatsShape(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodGet, "/v4/stats", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var stats map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"players", "playingPlayers", "uptime", "memory", "cpu", "frameStats"} {
		if _, ok := stats[key]; !ok {
			t.Errorf("stats missing %q", key)
		}
	}
	cpu := stats["cpu"].(map[string]any)
	if _, ok := cpu["aeliraLoad"]; !ok {
		t.Error("cpu block missing aeliraLoad")
	}
}

func TestLoadTracksEmpty(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodGet, "/v4/loadtracks?identifier="+url.QueryEscape("no such thing"), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var res struct {
		LoadType string `json:"loadType"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.LoadType != "empty" {
		t.Errorf("loadType = %q, want empty", res.LoadType)
	}
}

func TestLoadTracksRequiresIdentifier(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	if rec := env.do(t, http.MethodGet, "/v4/loadtracks", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	uri := "file:///a.webm"
	info := track.Info{
		Title: "t", Author: "a", Length: 1000, Identifier: "id",
		URI: &uri, SourceName: "local",
	}
	encoded := track.Encode(info)

	rec := env.do(t, http.MethodGet, "/v4/decodetrack?encodedTrack="+url.QueryEscape(encoded), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("decodetrack status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var decoded track.Info
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Title != "t" || decoded.URI == nil || *decoded.URI != uri {
		t.Errorf("decoded = %+v", decoded)
	}

	body, _ := json.Marshal([]track.Info{info})
	rec = env.do(t, http.MethodPost, "/v4/encodetracks", string(body), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("encodetracks status = %d, want 200", rec.Code)
	}
	var encodedList []string
	if err := json.Unmarshal(rec.Body.Bytes(), &encodedList); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(encodedList) != 1 || encodedList[0] != encoded {
		t.Errorf("encodetracks = %v, want [%s]", encodedList, encoded)
	}
}

func TestDecodeTrackRejectsGarbage(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodGet, "/v4/decodetrack?encodedTrack=%21%21%21", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPlayerEndpointsUnknownSession(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	if rec := env.do(t, http.MethodGet, "/v4/sessions/nope/players", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestPlayerCRUD(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	sess := env.sessions.Create("100", "client", make(chan []byte, session.OutboundBuffer))
	base := "/v4/sessions/" + sess.ID() + "/players"

	// Lazy creation on first GET.
	rec := env.do(t, http.MethodGet, base+"/42", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}

	// PATCH paused, read it back.
	rec = env.do(t, http.MethodPatch, base+"/42", `{"paused":true,"volume":55}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var snap struct {
		Paused bool   `json:"paused"`
		Volume uint16 `json:"volume"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !snap.Paused || snap.Volume != 55 {
		t.Errorf("snapshot = %+v", snap)
	}

	rec = env.do(t, http.MethodGet, base, "", nil)
	var players []json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &players); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(players) != 1 {
		t.Fatalf("got %d players, want 1", len(players))
	}

	// Unknown fields rejected.
	rec = env.do(t, http.MethodPatch, base+"/42", `{"pasued":true}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("typo patch status = %d, want 400", rec.Code)
	}

	// Bad track data.
	rec = env.do(t, http.MethodPatch, base+"/42", `{"encodedTrack":"not a track"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad track status = %d, want 400", rec.Code)
	}

	// DELETE then 404 on the second attempt.
	if rec := env.do(t, http.MethodDelete, base+"/42", "", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, base+"/42", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}
}

func TestRoutePlannerUnconfigured(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	if rec := env.do(t, http.MethodGet, "/v4/routeplanner/status", "", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/v4/routeplanner/free/all", "", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("free/all = %d, want 204", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/v4/routeplanner/free/address", `{"address":"1.2.3.4"}`, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("free/address = %d, want 204", rec.Code)
	}
}

func TestWebSocketRejectsBadUserID(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodGet, "/v4/websocket", "", map[string]string{"User-Id": "abc"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func dialControlWS(t *testing.T, srv *httptest.Server, sessionID string) (*websocket.Conn, readyMessage) {
	t.Helper()

	headers := http.Header{}
	headers.Set("User-Id", "100000000000000000")
	headers.Set("Client-Name", "test-client/1.0")
	if sessionID != "" {
		headers.Set("Session-Id", sessionID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v4/websocket"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read ready: %v", err)
	}
	var ready readyMessage
	if err := json.Unmarshal(data, &ready); err != nil {
		t.Fatalf("bad ready frame: %v", err)
	}
	return conn, ready
}

type readyMessage struct {
	Op        string `json:"op"`
	Resumed   bool   `json:"resumed"`
	SessionID string `json:"sessionId"`
}

func TestWebSocketSessionResume(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn, ready := dialControlWS(t, srv, "")
	if ready.Op != "ready" || ready.Resumed {
		t.Fatalf("first ready = %+v", ready)
	}
	if ready.SessionID == "" {
		t.Fatal("missing session id")
	}
	conn.Close(websocket.StatusNormalClosure, "")

	conn2, ready2 := dialControlWS(t, srv, ready.SessionID)
	defer conn2.Close(websocket.StatusNormalClosure, "")
	if !ready2.Resumed {
		t.Error("second connection not marked resumed")
	}
	if ready2.SessionID != ready.SessionID {
		t.Errorf("session id changed: %q -> %q", ready.SessionID, ready2.SessionID)
	}
}
