package mapsvc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"campusrun/internal/domain/entities"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, srv.URL, "campusrun-test", 2*time.Second), srv
}

func TestClient_Forward(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("Expected /search, got %s", r.URL.Path)
		}
		if r.URL.Query().Get("q") != "Michigan Union" {
			t.Errorf("Expected query to be forwarded, got %q", r.URL.Query().Get("q"))
		}
		if r.Header.Get("User-Agent") != "campusrun-test" {
			t.Errorf("Expected user agent header, got %q", r.Header.Get("User-Agent"))
		}
		w.Write([]byte(`[{"lat":"42.2751","lon":"-83.7416","display_name":"Michigan Union, Ann Arbor"}]`))
	})

	loc, err := client.Forward(context.Background(), "Michigan Union")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if loc.Latitude != 42.2751 || loc.Longitude != -83.7416 {
		t.Errorf("Unexpected coordinates %v,%v", loc.Latitude, loc.Longitude)
	}
	if loc.Address != "Michigan Union, Ann Arbor" {
		t.Errorf("Unexpected address %q", loc.Address)
	}
}

func TestClient_ForwardNoResult(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	_, err := client.Forward(context.Background(), "nowhere")
	if !errors.Is(err, ErrNoResult) {
		t.Errorf("Expected ErrNoResult, got %v", err)
	}
}

func TestClient_Reverse(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/reverse" {
			t.Errorf("Expected /reverse, got %s", r.URL.Path)
		}
		if r.URL.Query().Get("lat") != "42.278000" {
			t.Errorf("Unexpected lat param %q", r.URL.Query().Get("lat"))
		}
		w.Write([]byte(`{"display_name":"Diag, Ann Arbor"}`))
	})

	addr, err := client.Reverse(context.Background(), entities.NewLocation(42.278, -83.7382))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if addr != "Diag, Ann Arbor" {
		t.Errorf("Unexpected address %q", addr)
	}
}

func TestClient_Route(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/route/v1/foot/-83.738200,42.278000;-83.716600,42.293600") {
			t.Errorf("Unexpected route path %s", r.URL.Path)
		}
		if r.URL.Query().Get("geometries") != "geojson" {
			t.Error("Expected geojson geometries to be requested")
		}
		w.Write([]byte(`{"code":"Ok","routes":[{"distance":2600.5,"duration":1860,
			"geometry":{"type":"LineString","coordinates":[[-83.7382,42.278],[-83.73,42.285],[-83.7166,42.2936]]}}]}`))
	})

	route, err := client.Route(context.Background(),
		entities.NewLocation(42.2780, -83.7382), entities.NewLocation(42.2936, -83.7166))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if route.DistanceMeters != 2600.5 || route.DurationSeconds != 1860 {
		t.Errorf("Unexpected route metrics %+v", route)
	}
	if len(route.Path) != 3 {
		t.Fatalf("Expected 3 path points, got %d", len(route.Path))
	}
	if route.Path[0][0] != -83.7382 || route.Path[0][1] != 42.278 {
		t.Errorf("Expected [lng, lat] ordering, got %v", route.Path[0])
	}
}

func TestClient_RouteFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		origin entities.Location
	}{
		{name: "Server error", status: http.StatusInternalServerError, body: "boom", origin: entities.NewLocation(42.278, -83.7382)},
		{name: "No route", status: http.StatusOK, body: `{"code":"NoRoute","routes":[]}`, origin: entities.NewLocation(42.278, -83.7382)},
		{name: "Invalid origin", status: http.StatusOK, body: `{}`, origin: entities.NewLocation(100, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := client.Route(context.Background(), tt.origin, entities.NewLocation(42.2936, -83.7166))
			if !errors.Is(err, entities.ErrRoutingFailure) {
				t.Errorf("Expected ErrRoutingFailure, got %v", err)
			}
		})
	}
}

func TestClient_Disabled(t *testing.T) {
	client := NewClient("", "", "", 0)

	if _, err := client.Forward(context.Background(), "x"); !errors.Is(err, ErrServiceDisabled) {
		t.Errorf("Expected ErrServiceDisabled from Forward, got %v", err)
	}
	_, err := client.Route(context.Background(), entities.NewLocation(0, 0), entities.NewLocation(1, 1))
	if !errors.Is(err, entities.ErrRoutingFailure) {
		t.Errorf("Expected ErrRoutingFailure from Route, got %v", err)
	}
}
