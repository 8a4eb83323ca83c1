package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"campusrun/internal/api/handlers"
	"campusrun/internal/auth"
	"campusrun/internal/config"
	"campusrun/internal/domain/entities"
	"campusrun/internal/geo"
	"campusrun/internal/logging"
	"campusrun/internal/mapsvc"
	"campusrun/internal/positioning"
	"campusrun/internal/repository/memory"
	"campusrun/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type testServer struct {
	engine   *gin.Engine
	tokens   *auth.TokenManager
	tracking *services.TrackingService
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.NewDefaultConfig()
	log := logging.Discard()

	taskRepo := memory.NewTaskRepository()
	stateStore := memory.NewStateStore()
	lockManager := memory.NewLockManager()
	t.Cleanup(lockManager.Stop)
	index := geo.NewTaskIndex(cfg.Geo.GeohashPrecision)
	hub := positioning.NewHub()
	maps := mapsvc.NewProvider(nil, nil)

	pricingService := services.NewPricingService(cfg.Pricing, maps, log)
	bundlingService := services.NewBundlingService(cfg.Bundling, maps, log)
	trackingService := services.NewTrackingService(taskRepo, stateStore, lockManager, hub, hub, maps, cfg.Tracking, log)
	t.Cleanup(func() { trackingService.Shutdown(context.Background()) })
	taskService := services.NewTaskService(taskRepo, index, pricingService, bundlingService, trackingService, lockManager, cfg.Bundling, log)

	tokens, err := auth.NewTokenManager("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}

	router := NewRouter(
		tokens,
		handlers.NewPricingHandler(pricingService),
		handlers.NewBundleHandler(bundlingService, taskService),
		handlers.NewTaskHandler(taskService),
		handlers.NewTrackingHandler(trackingService, log),
		handlers.NewPositionHandler(hub),
	)
	engine := gin.New()
	router.Setup(engine)

	return &testServer{engine: engine, tokens: tokens, tracking: trackingService}
}

func (s *testServer) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		token, err := s.tokens.Issue(user)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

// createAcceptedTask returns the id of a task created by "creator" and
// accepted by "performer".
func (s *testServer) createAcceptedTask(t *testing.T) string {
	t.Helper()
	w := s.do(t, "POST", "/tasks", "creator", `{
		"title": "Pick up printouts",
		"location": {"lat": 42.2780, "lng": -83.7382},
		"drop_off": {"lat": 42.2936, "lng": -83.7166, "address": "North Campus"},
		"urgency": "medium",
		"estimated_time": "20 minutes"
	}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 creating task, got %d: %s", w.Code, w.Body.String())
	}
	var task entities.Task
	decode(t, w, &task)

	w = s.do(t, "PATCH", "/tasks/"+task.ID+"/accept", "performer", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 accepting task, got %d: %s", w.Code, w.Body.String())
	}
	return task.ID
}

func (s *testServer) waitForState(t *testing.T, taskID string, want entities.TrackingState) entities.TrackingSnapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		w := s.do(t, "GET", "/tasks/"+taskID+"/tracking", "creator", "")
		var snap entities.TrackingSnapshot
		decode(t, w, &snap)
		if snap.State == want {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected state %s, last saw %s", want, snap.State)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// waitReady blocks until the task's session finished its start-up fix chain
// and is listening to the device stream.
func (s *testServer) waitReady(t *testing.T, taskID string) {
	t.Helper()
	session, ok := s.tracking.Session(taskID)
	if !ok {
		t.Fatal("Expected a live session")
	}
	select {
	case <-session.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("Session never finished start-up")
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := setupTestServer(t)

	w := server.do(t, "GET", "/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	server := setupTestServer(t)

	tests := []struct {
		name   string
		header string
	}{
		{"Missing header", ""},
		{"Wrong scheme", "Basic abc"},
		{"Bad token", "Bearer not-a-jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("POST", "/pricing/quote", strings.NewReader(`{}`))
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			server.engine.ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("Expected 401, got %d", w.Code)
			}
		})
	}
}

func TestPricingQuoteEndpoint(t *testing.T) {
	server := setupTestServer(t)

	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantTotal float64
	}{
		{
			name:      "Same spot low urgency",
			body:      `{"task_location":{"lat":42.278,"lng":-83.7382},"requester_location":{"lat":42.278,"lng":-83.7382},"urgency":"low"}`,
			wantCode:  http.StatusOK,
			wantTotal: 2.88,
		},
		{
			name:      "Free task",
			body:      `{"task_location":{"lat":42.278,"lng":-83.7382},"requester_location":{"lat":42.29,"lng":-83.7382},"urgency":"high","is_free":true}`,
			wantCode:  http.StatusOK,
			wantTotal: 0,
		},
		{
			name:      "No requester location",
			body:      `{"task_location":{"lat":42.278,"lng":-83.7382},"urgency":"low"}`,
			wantCode:  http.StatusOK,
			wantTotal: 0,
		},
		{
			name:     "Unknown urgency",
			body:     `{"task_location":{"lat":42.278,"lng":-83.7382},"urgency":"now"}`,
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := server.do(t, "POST", "/pricing/quote", "creator", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("Expected %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var breakdown entities.PriceBreakdown
			decode(t, w, &breakdown)
			if breakdown.Total != tt.wantTotal {
				t.Errorf("Expected total %v, got %v", tt.wantTotal, breakdown.Total)
			}
		})
	}
}

func TestBundlesEndpoint(t *testing.T) {
	server := setupTestServer(t)

	body := `{
		"requester_location": {"lat": 42.2780, "lng": -83.7382},
		"tasks": [
			{"id": "a", "price": 4.25, "estimated_time": "15 min", "location": {"lat": 42.2780, "lng": -83.7382}},
			{"id": "b", "price": 3.10, "estimated_time": "10 min", "location": {"lat": 42.2870, "lng": -83.7382}},
			{"id": "far", "price": 9.00, "location": {"lat": 42.5, "lng": -83.7382}}
		]
	}`
	w := server.do(t, "POST", "/bundles", "performer", body)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var response struct {
		Bundles []entities.TaskBundle `json:"bundles"`
	}
	decode(t, w, &response)
	if len(response.Bundles) != 1 {
		t.Fatalf("Expected one bundle, got %+v", response.Bundles)
	}
	if ids := response.Bundles[0].TaskIDs(); len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("Expected [a b], got %v", ids)
	}
}

func TestNearbyBundlesEndpoint(t *testing.T) {
	server := setupTestServer(t)

	for _, lat := range []string{"42.2780", "42.2800"} {
		w := server.do(t, "POST", "/tasks", "creator",
			`{"title":"Errand","location":{"lat":`+lat+`,"lng":-83.7382},"urgency":"low"}`)
		if w.Code != http.StatusCreated {
			t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
		}
	}

	w := server.do(t, "GET", "/bundles/nearby?lat=42.2785&lng=-83.7382", "performer", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var response struct {
		Bundles []entities.TaskBundle `json:"bundles"`
	}
	decode(t, w, &response)
	if len(response.Bundles) != 1 || len(response.Bundles[0].Tasks) != 2 {
		t.Errorf("Expected one two-task bundle, got %+v", response.Bundles)
	}

	w = server.do(t, "GET", "/bundles/nearby?lat=abc&lng=-83.7", "performer", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a bad lat, got %d", w.Code)
	}
}

func TestTaskLifecycleEndpoints(t *testing.T) {
	server := setupTestServer(t)

	w := server.do(t, "POST", "/tasks", "creator", `{"title":"Coffee","location":{"lat":42.278,"lng":-83.7382},"urgency":"low"}`)
	var task entities.Task
	decode(t, w, &task)
	if task.Price.Total != 2.88 {
		t.Errorf("Expected task priced at 2.88, got %v", task.Price.Total)
	}

	if w := server.do(t, "PATCH", "/tasks/"+task.ID+"/accept", "creator", ""); w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 accepting own task, got %d", w.Code)
	}
	if w := server.do(t, "PATCH", "/tasks/"+task.ID+"/accept", "performer", ""); w.Code != http.StatusOK {
		t.Fatalf("Expected 200 accepting, got %d", w.Code)
	}
	if w := server.do(t, "PATCH", "/tasks/"+task.ID+"/status", "performer", `{"status":"bogus"}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for an unknown status, got %d", w.Code)
	}
	if w := server.do(t, "PATCH", "/tasks/"+task.ID+"/status", "performer", `{"status":"open"}`); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 reopening, got %d", w.Code)
	}
	if w := server.do(t, "PATCH", "/tasks/"+task.ID+"/status", "performer", `{"status":"in_progress"}`); w.Code != http.StatusOK {
		t.Errorf("Expected 200 starting, got %d", w.Code)
	}
	if w := server.do(t, "GET", "/tasks/missing", "creator", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestTrackingFlow(t *testing.T) {
	server := setupTestServer(t)
	taskID := server.createAcceptedTask(t)

	// The device reports a precise fix before sharing starts.
	if w := server.do(t, "POST", "/positions", "performer", `{"lat":42.2790,"lng":-83.7380,"accuracy_meters":8}`); w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202 pushing position, got %d: %s", w.Code, w.Body.String())
	}

	if w := server.do(t, "POST", "/tasks/"+taskID+"/tracking", "creator", ""); w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 when the creator starts tracking, got %d", w.Code)
	}

	w := server.do(t, "POST", "/tasks/"+taskID+"/tracking", "performer", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var handle services.SessionHandle
	decode(t, w, &handle)
	if handle.ID == "" || handle.Destination == nil || handle.Destination.Address != "North Campus" {
		t.Errorf("Unexpected handle %+v", handle)
	}

	server.waitReady(t, taskID)
	snap := server.waitForState(t, taskID, entities.TrackingActive)
	if len(snap.History) != 1 {
		t.Errorf("Expected one history point, got %d", len(snap.History))
	}

	server.do(t, "POST", "/positions", "performer", `{"lat":42.2800,"lng":-83.7370}`)
	server.do(t, "POST", "/positions", "performer", `{"lat":95,"lng":-83.7370}`)
	w = server.do(t, "GET", "/tasks/"+taskID+"/tracking", "performer", "")
	decode(t, w, &snap)
	if len(snap.History) != 2 || snap.Current.Latitude != 42.2800 {
		t.Errorf("Expected the valid update only, got %+v", snap)
	}

	if w := server.do(t, "GET", "/tasks/"+taskID+"/tracking", "stranger", ""); w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for a stranger, got %d", w.Code)
	}
	if w := server.do(t, "GET", "/tasks/"+taskID+"/tracking/route.geojson", "creator", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without a router, got %d", w.Code)
	}

	server.do(t, "POST", "/positions/errors", "performer", `{"kind":"permission_denied"}`)
	server.waitForState(t, taskID, entities.TrackingDegraded)

	if w := server.do(t, "DELETE", "/tracking/"+handle.ID, "creator", ""); w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 when the creator stops, got %d", w.Code)
	}
	if w := server.do(t, "DELETE", "/tracking/"+handle.ID, "performer", ""); w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", w.Code)
	}
	server.waitForState(t, taskID, entities.TrackingIdle)
}

func TestStartTrackingWithDestination(t *testing.T) {
	server := setupTestServer(t)
	taskID := server.createAcceptedTask(t)

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"Out of range", `{"destination":{"lat":91,"lng":0}}`, http.StatusBadRequest},
		{"Half a coordinate", `{"destination":{"lat":42.1}}`, http.StatusBadRequest},
		{"Coordinates", `{"destination":{"lat":42.2756,"lng":-83.7374,"address":"Library"}}`, http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := server.do(t, "POST", "/tasks/"+taskID+"/tracking", "performer", tt.body)
			if w.Code != tt.wantCode {
				t.Errorf("Expected %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
		})
	}
}

func TestCompletingTaskStopsTracking(t *testing.T) {
	server := setupTestServer(t)
	taskID := server.createAcceptedTask(t)
	server.do(t, "POST", "/positions", "performer", `{"lat":42.2790,"lng":-83.7380,"accuracy_meters":8}`)
	server.do(t, "POST", "/tasks/"+taskID+"/tracking", "performer", "")
	server.waitReady(t, taskID)
	server.waitForState(t, taskID, entities.TrackingActive)

	if w := server.do(t, "PATCH", "/tasks/"+taskID+"/status", "performer", `{"status":"completed"}`); w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if _, live := server.tracking.Session(taskID); live {
		t.Error("Expected the session to end with the task")
	}
	server.waitForState(t, taskID, entities.TrackingIdle)
}

func TestTrackingWebsocket(t *testing.T) {
	server := setupTestServer(t)
	taskID := server.createAcceptedTask(t)

	httpServer := httptest.NewServer(server.engine)
	defer httpServer.Close()
	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/tasks/" + taskID + "/tracking/ws?token="

	strangerToken, _ := server.tokens.Issue("stranger")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL+strangerToken, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("Expected a 403 handshake for a stranger, got err=%v resp=%v", err, resp)
	}

	creatorToken, _ := server.tokens.Issue("creator")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+creatorToken, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	read := func() entities.TrackingSnapshot {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var msg struct {
			Type string                    `json:"type"`
			Data entities.TrackingSnapshot `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		if msg.Type != "snapshot" {
			t.Fatalf("Unexpected message type %q", msg.Type)
		}
		return msg.Data
	}

	if first := read(); first.State != entities.TrackingIdle {
		t.Errorf("Expected the empty snapshot first, got %s", first.State)
	}

	server.do(t, "POST", "/positions", "performer", `{"lat":42.2790,"lng":-83.7380,"accuracy_meters":8}`)
	server.do(t, "POST", "/tasks/"+taskID+"/tracking", "performer", "")

	for {
		snap := read()
		if snap.State == entities.TrackingActive {
			if snap.Current == nil || snap.Current.Latitude != 42.2790 {
				t.Errorf("Unexpected current position %+v", snap.Current)
			}
			break
		}
	}

	server.do(t, "PATCH", "/tasks/"+taskID+"/status", "performer", `{"status":"completed"}`)
	for {
		if snap := read(); snap.State == entities.TrackingStopped {
			break
		}
	}
}
