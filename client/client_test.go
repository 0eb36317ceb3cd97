package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"warden/client"
	"warden/supervisor"
)

// fakeControl serves canned control-API responses.
func fakeControl(t *testing.T, healthy bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	body := `{"services":[{"name":"db","phase":"healthy","since":"2026-01-01T00:00:00Z","restarts":0,"failures":0}]}`
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Write([]byte(body))
	})
	mux.HandleFunc("GET /events", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"seq":1,"type":"service.healthy","service":"db","timestamp":"2026-01-01T00:00:00Z"}]`))
	})
	mux.HandleFunc("POST /services/{name}/restart", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("name") != "db" {
			http.Error(w, "unknown service", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func addrOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestClient_Status(t *testing.T) {
	c := client.New(addrOf(fakeControl(t, true)))

	services, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(services) != 1 || services[0].Name != "db" {
		t.Fatalf("services = %v", services)
	}
	if services[0].Phase != supervisor.PhaseHealthy {
		t.Errorf("phase = %s", services[0].Phase)
	}
}

func TestClient_Healthy(t *testing.T) {
	ok, _, err := client.New(addrOf(fakeControl(t, true))).Healthy(context.Background())
	if err != nil || !ok {
		t.Fatalf("healthy = %v, err = %v", ok, err)
	}

	ok, services, err := client.New(addrOf(fakeControl(t, false))).Healthy(context.Background())
	if err != nil {
		t.Fatalf("healthz 503: %v", err)
	}
	if ok {
		t.Error("expected unhealthy")
	}
	if len(services) != 1 {
		t.Errorf("503 body not decoded: %v", services)
	}
}

func TestClient_Events(t *testing.T) {
	events, err := client.New(addrOf(fakeControl(t, true))).Events(context.Background(), 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 || events[0].Type != supervisor.EventServiceHealthy {
		t.Fatalf("events = %v", events)
	}
}

func TestClient_Restart(t *testing.T) {
	c := client.New(addrOf(fakeControl(t, true)))
	if err := c.Restart(context.Background(), "db"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := c.Restart(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown service")
	}
}

func TestClient_WaitHealthy(t *testing.T) {
	c := client.New(addrOf(fakeControl(t, true)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.WaitHealthy(ctx, 10*time.Millisecond); err != nil {
		t.Fatalf("wait healthy: %v", err)
	}

	c = client.New("127.0.0.1:1") // nothing listening
	ctx, cancel = context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.WaitHealthy(ctx, 10*time.Millisecond); err == nil {
		t.Fatal("expected timeout")
	}
}
