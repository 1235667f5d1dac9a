package handler

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	domain "geomonitor/internal/domain/location"
	"geomonitor/internal/infrastructure/storage/memory"
	"geomonitor/internal/stream"
	"geomonitor/internal/timestamp"
	"geomonitor/internal/usecase/location"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	router  *gin.Engine
	backend domain.Backend
	broker  *stream.Broker
}

type failingSaves struct {
	*memory.Backend
}

func (failingSaves) Save(context.Context, *domain.LocationRecord) error {
	return errors.New("read-only filesystem")
}

func newTestEnv(t *testing.T, backend domain.Backend) *testEnv {
	t.Helper()
	if backend == nil {
		backend = memory.New()
	}
	normalizer := timestamp.New(time.UTC)
	store := location.NewStore(backend, normalizer)
	service := location.NewService(store, normalizer)
	aggregator := location.NewAggregator(store)
	broker := stream.NewBroker(aggregator, nil)

	router := gin.New()
	api := router.Group("/api/v1")
	NewLocationHandler(service, aggregator, location.NewHistoryQuery(store, normalizer)).RegisterRoutes(api)
	NewStreamHandler(broker, 3000, []string{"https://viewer.example"}).RegisterRoutes(api)
	router.GET("/health", NewHealthHandler(backend, "memory", stream.NewDetector(backend), broker).Health)

	return &testEnv{router: router, backend: backend, broker: broker}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func postForm(values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/locations", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func postJSON(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/locations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestIngestForm(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(postForm(url.Values{
		"user_id":     {"walker 1"},
		"lat":         {"40.4168"},
		"lon":         {"-3.7038"},
		"ts":          {"2024-03-01T10:15"},
		"device_name": {"Pixel<7>"},
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}

	var resp struct {
		Status string                `json:"status"`
		Data   domain.LocationRecord `json:"data"`
	}
	decode(t, w, &resp)
	if resp.Status != "ok" || resp.Data.DeviceID != "walker_1" {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.Data.History) != 1 || resp.Data.History[0].Ts != "2024-03-01 10:15:00" {
		t.Errorf("history = %+v", resp.Data.History)
	}
	if resp.Data.DeviceName == nil || *resp.Data.DeviceName != "Pixel7" {
		t.Errorf("DeviceName = %v", resp.Data.DeviceName)
	}
}

func TestIngestJSON(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(postJSON(`{"user_id":"dev","lat":1.5,"lon":2.5,"ts":1700000000000,"steps":12}`))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}

	record, err := env.backend.Load(context.Background(), "dev")
	if err != nil {
		t.Fatal(err)
	}
	if record.Steps != 12 || record.History[0].Ts != "2023-11-14 22:13:20" {
		t.Errorf("record = %+v", record)
	}
}

func TestIngestJSONWithoutJSONContentType(t *testing.T) {
	for _, contentType := range []string{"", "text/plain", "application/octet-stream"} {
		t.Run("content-type="+contentType, func(t *testing.T) {
			env := newTestEnv(t, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/locations",
				strings.NewReader(`{"user_id":"d","lat":1.5,"lon":2.5}`))
			if contentType != "" {
				req.Header.Set("Content-Type", contentType)
			}
			w := env.do(req)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", w.Code, w.Body)
			}

			record, err := env.backend.Load(context.Background(), "d")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if record.Latitude != 1.5 || record.Longitude != 2.5 {
				t.Errorf("record = %+v", record)
			}
		})
	}
}

func TestIngestEmptyBody(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/locations", nil)
	w := env.do(req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestIngestRejectsBadCoordinates(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, req := range []*http.Request{
		postForm(url.Values{"user_id": {"dev"}, "lat": {"abc"}, "lon": {"1"}}),
		postForm(url.Values{"user_id": {"dev"}}),
		postJSON(`{"user_id":"dev","lat":"north","lon":2}`),
		postJSON(`not json`),
	} {
		w := env.do(req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
		var resp map[string]string
		decode(t, w, &resp)
		if resp["status"] != "error" || resp["msg"] != "invalid lat/lon" {
			t.Errorf("body = %v", resp)
		}
	}

	if _, err := env.backend.Load(context.Background(), "dev"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("rejected report was stored: %v", err)
	}
}

func TestIngestWriteFailure(t *testing.T) {
	env := newTestEnv(t, failingSaves{memory.New()})

	w := env.do(postForm(url.Values{"user_id": {"dev"}, "lat": {"1"}, "lon": {"2"}}))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var resp map[string]string
	decode(t, w, &resp)
	if resp["msg"] != "no write" {
		t.Errorf("body = %v", resp)
	}
}

func TestSnapshot(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/locations", nil))
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("empty snapshot = %d %s", w.Code, w.Body)
	}

	env.do(postForm(url.Values{"user_id": {"b"}, "lat": {"1"}, "lon": {"2"}}))
	env.do(postForm(url.Values{"user_id": {"a"}, "lat": {"3"}, "lon": {"4"}}))

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/v1/locations", nil))
	var views []domain.DeviceView
	decode(t, w, &views)
	if len(views) != 2 || views[0].DeviceID != "a" || views[1].DeviceID != "b" {
		t.Errorf("views = %+v", views)
	}
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, ts := range []string{"2024-01-01 10:00:00", "2024-01-05 10:00:00"} {
		env.do(postForm(url.Values{"user_id": {"dev"}, "lat": {ts[8:10]}, "lon": {"0"}, "ts": {ts}}))
	}

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/devices/dev/history?from=2024-01-03", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	var resp struct {
		Status  string                `json:"status"`
		UserID  string                `json:"user_id"`
		From    *string               `json:"from"`
		To      *string               `json:"to"`
		History []domain.HistoryPoint `json:"history"`
	}
	decode(t, w, &resp)
	if resp.Status != "ok" || resp.UserID != "dev" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.From == nil || *resp.From != "2024-01-03 00:00:00" || resp.To != nil {
		t.Errorf("bounds = %v, %v", resp.From, resp.To)
	}
	if len(resp.History) != 1 || resp.History[0].Ts != "2024-01-05 10:00:00" {
		t.Errorf("history = %+v", resp.History)
	}

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/v1/history?user=dev&from=2030-01-01", nil))
	decode(t, w, &resp)
	if w.Code != http.StatusOK || resp.History == nil || len(resp.History) != 0 {
		t.Errorf("empty range = %d %s", w.Code, w.Body)
	}
}

func TestHistoryErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/history?user=ghost", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", w.Code)
	}
	var resp map[string]string
	decode(t, w, &resp)
	if resp["status"] != "error" || resp["msg"] != "user not found" {
		t.Errorf("body = %v", resp)
	}

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/v1/history", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing user status = %d, want 400", w.Code)
	}
}

func TestHealth(t *testing.T) {
	backend := memory.New()
	env := newTestEnv(t, backend)

	w := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]any
	decode(t, w, &resp)
	if resp["status"] != "healthy" || resp["storage"] != "memory" || resp["detector"] != "watch" {
		t.Errorf("body = %v", resp)
	}

	_ = backend.Close()
	w = env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("closed backend status = %d, want 503", w.Code)
	}
}

type fixedConnection bool

func (f fixedConnection) Connected() bool { return bool(f) }

func TestHealthReportsMQTTConnection(t *testing.T) {
	backend := memory.New()
	broker := stream.NewBroker(location.NewAggregator(location.NewStore(backend, timestamp.New(time.UTC))), nil)
	health := NewHealthHandler(backend, "memory", stream.NewDetector(backend), broker).
		WithMQTT(fixedConnection(false))

	router := gin.New()
	router.GET("/health", health.Health)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp map[string]any
	decode(t, w, &resp)
	if connected, ok := resp["mqtt_connected"].(bool); !ok || connected {
		t.Errorf("mqtt_connected = %v, want false", resp["mqtt_connected"])
	}
	if _, ok := resp["ingest"]; ok {
		t.Error("ingest stats reported without a processor")
	}
}

func readEvent(t *testing.T, r *bufio.Reader) map[string]string {
	t.Helper()
	event := map[string]string{}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			if len(event) > 0 {
				return event
			}
			continue
		}
		key, value, _ := strings.Cut(line, ":")
		event[key] = value
	}
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, nil)
	server := httptest.NewServer(env.router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q", ct)
	}
	reader := bufio.NewReader(resp.Body)

	first := readEvent(t, reader)
	if first["event"] != "update" || first["retry"] != "3000" || first["data"] != "[]" {
		t.Errorf("first event = %v", first)
	}

	env.do(postForm(url.Values{"user_id": {"dev"}, "lat": {"1"}, "lon": {"2"}}))
	if _, err := env.broker.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	next := readEvent(t, reader)
	if _, ok := next["retry"]; ok {
		t.Errorf("retry repeated on later event: %v", next)
	}
	var views []domain.DeviceView
	if err := json.Unmarshal([]byte(next["data"]), &views); err != nil {
		t.Fatalf("data %q: %v", next["data"], err)
	}
	if len(views) != 1 || views[0].DeviceID != "dev" {
		t.Errorf("views = %+v", views)
	}
}

func TestWebSocket(t *testing.T) {
	env := newTestEnv(t, nil)
	server := httptest.NewServer(env.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "update" || string(msg.Data) != "[]" {
		t.Errorf("first message = %s %s", msg.Type, msg.Data)
	}

	env.do(postForm(url.Values{"user_id": {"dev"}, "lat": {"1"}, "lon": {"2"}}))
	if _, err := env.broker.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(msg.Data), `"device_id":"dev"`) {
		t.Errorf("update = %s", msg.Data)
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t, nil)
	server := httptest.NewServer(env.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/ws"
	header := http.Header{"Origin": {"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("Dial with foreign origin should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("resp = %v", resp)
	}
}
