package spec_test

import (
	"strings"
	"testing"
	"time"

	"warden/spec"
)

func decode(t *testing.T, doc string) *spec.Config {
	t.Helper()
	cfg, err := spec.Decode([]byte(doc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return cfg
}

func decodeErr(t *testing.T, doc string) *spec.ConfigError {
	t.Helper()
	_, err := spec.Decode([]byte(doc))
	if err == nil {
		t.Fatal("expected a config error")
	}
	cfgErr, ok := err.(*spec.ConfigError)
	if !ok {
		t.Fatalf("expected *spec.ConfigError, got %T: %v", err, err)
	}
	return cfgErr
}

func TestDecode_FullDescriptor(t *testing.T) {
	cfg := decode(t, `
listen: 127.0.0.1:9911
poll_interval: 2s
services:
  db:
    runtime: docker
    image: postgres:16
    ports: [5432]
    health:
      type: tcp
      port: 5432
      timeout: 3s
    restart:
      policy: always
      max_attempts: 3
      backoff: 500ms
      max_backoff: 10s
  api:
    command: ["/srv/api/bin/api", "--port", "8001"]
    dir: /srv/api
    env:
      DATABASE_URL: postgres://localhost:5432/app
    ports: [8001]
    depends_on: [db]
    start_timeout: 45s
    health:
      url: http://127.0.0.1:8001/health
      expect: [200, 204]
`)

	if cfg.Listen != "127.0.0.1:9911" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.PollInterval.Duration != 2*time.Second {
		t.Errorf("poll_interval = %v", cfg.PollInterval.Duration)
	}

	db := cfg.Services["db"]
	if db.Name != "db" {
		t.Errorf("db.Name = %q, want populated from map key", db.Name)
	}
	if db.RuntimeKind() != spec.RuntimeDocker {
		t.Errorf("db runtime = %q", db.RuntimeKind())
	}
	if db.Restart.Kind() != spec.RestartAlways {
		t.Errorf("db restart = %q", db.Restart.Kind())
	}
	if db.Health.EffectiveTimeout() != 3*time.Second {
		t.Errorf("db health timeout = %v", db.Health.EffectiveTimeout())
	}

	api := cfg.Services["api"]
	if api.RuntimeKind() != spec.RuntimeProcess {
		t.Errorf("api runtime = %q", api.RuntimeKind())
	}
	if api.Health.EffectiveType() != spec.HealthHTTP {
		t.Errorf("api health type = %q, want inferred http", api.Health.EffectiveType())
	}
	if api.EffectiveStartTimeout() != 45*time.Second {
		t.Errorf("api start timeout = %v", api.EffectiveStartTimeout())
	}
	if !api.Health.ExpectedStatus(204) || api.Health.ExpectedStatus(500) {
		t.Error("api expected status set wrong")
	}
}

func TestDecode_Defaults(t *testing.T) {
	cfg := decode(t, `
services:
  web:
    command: ["/usr/bin/web"]
    ports: [3000]
    health:
      port: 3000
`)
	web := cfg.Services["web"]
	if web.Health.EffectiveType() != spec.HealthTCP {
		t.Errorf("default health type = %q", web.Health.EffectiveType())
	}
	if web.Health.EffectiveTimeout() != 2*time.Second {
		t.Errorf("default health timeout = %v", web.Health.EffectiveTimeout())
	}
	if web.Restart.Kind() != spec.RestartOnFailure {
		t.Errorf("default restart = %q", web.Restart.Kind())
	}
	if web.Restart.EffectiveMaxAttempts() != 5 {
		t.Errorf("default max attempts = %d", web.Restart.EffectiveMaxAttempts())
	}
	if web.EffectiveStartTimeout() != 30*time.Second {
		t.Errorf("default start timeout = %v", web.EffectiveStartTimeout())
	}
	if !web.Health.ExpectedStatus(200) {
		t.Error("default expect should accept 200")
	}
}

func TestDecode_UnknownDependency(t *testing.T) {
	err := decodeErr(t, `
services:
  api:
    command: ["/bin/api"]
    depends_on: [db]
`)
	if !strings.Contains(err.Error(), `unknown dependency "db"`) {
		t.Errorf("error = %v", err)
	}
}

func TestDecode_DependencyCycle(t *testing.T) {
	err := decodeErr(t, `
services:
  a:
    command: ["/bin/a"]
    depends_on: [b]
  b:
    command: ["/bin/b"]
    depends_on: [c]
  c:
    command: ["/bin/c"]
    depends_on: [a]
`)
	if !strings.Contains(err.Error(), "cycle") {
		t.Errorf("error = %v", err)
	}
}

func TestDecode_SelfDependency(t *testing.T) {
	err := decodeErr(t, `
services:
  a:
    command: ["/bin/a"]
    depends_on: [a]
`)
	if !strings.Contains(err.Error(), "depends on itself") {
		t.Errorf("error = %v", err)
	}
}

func TestDecode_PortCollision(t *testing.T) {
	err := decodeErr(t, `
services:
  a:
    command: ["/bin/a"]
    ports: [8080]
  b:
    command: ["/bin/b"]
    ports: [8080]
`)
	if !strings.Contains(err.Error(), "port 8080") {
		t.Errorf("error = %v", err)
	}
}

func TestDecode_SharedPortAllowed(t *testing.T) {
	decode(t, `
services:
  a:
    command: ["/bin/a"]
    ports: [8080]
    shared_ports: true
  b:
    command: ["/bin/b"]
    ports: [8080]
    shared_ports: true
`)
}

func TestDecode_MissingCommand(t *testing.T) {
	err := decodeErr(t, `
services:
  a: {}
`)
	if !strings.Contains(err.Error(), "requires a command") {
		t.Errorf("error = %v", err)
	}
}

func TestDecode_CollectsAllProblems(t *testing.T) {
	err := decodeErr(t, `
services:
  a:
    runtime: bogus
    depends_on: [missing]
  b:
    command: ["/bin/b"]
    restart:
      policy: sometimes
`)
	if len(err.Problems) < 3 {
		t.Errorf("expected at least 3 problems, got %d: %v", len(err.Problems), err)
	}
}

func TestBackoffFor_NonDecreasingAndCapped(t *testing.T) {
	p := spec.RestartPolicy{
		Backoff:    spec.Duration{Duration: time.Second},
		MaxBackoff: spec.Duration{Duration: 30 * time.Second},
	}
	prev := time.Duration(0)
	for attempt := 0; attempt < 12; attempt++ {
		d := p.BackoffFor(attempt)
		if d < prev {
			t.Errorf("backoff(%d) = %v < backoff(%d) = %v", attempt, d, attempt-1, prev)
		}
		if d > 30*time.Second {
			t.Errorf("backoff(%d) = %v exceeds cap", attempt, d)
		}
		prev = d
	}
	if p.BackoffFor(0) != time.Second {
		t.Errorf("backoff(0) = %v, want base", p.BackoffFor(0))
	}
	if p.BackoffFor(11) != 30*time.Second {
		t.Errorf("backoff(11) = %v, want cap", p.BackoffFor(11))
	}
}

func TestTopoSort_OrderRespectsDependencies(t *testing.T) {
	cfg := decode(t, `
services:
  web:
    command: ["/bin/web"]
    depends_on: [api]
  api:
    command: ["/bin/api"]
    depends_on: [db, cache]
  db:
    command: ["/bin/db"]
  cache:
    command: ["/bin/cache"]
`)

	order, err := spec.TopoSort(cfg.Services)
	if err != nil {
		t.Fatal(err)
	}

	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	for name, d := range cfg.Services {
		for _, dep := range d.DependsOn {
			if pos[dep] > pos[name] {
				t.Errorf("order %v places %q after its dependent %q", order, dep, name)
			}
		}
	}
}

func TestTopoSort_Deterministic(t *testing.T) {
	services := map[string]spec.Descriptor{
		"c": {Command: []string{"/bin/c"}},
		"a": {Command: []string{"/bin/a"}},
		"b": {Command: []string{"/bin/b"}},
	}
	first, err := spec.TopoSort(services)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := spec.TopoSort(services)
		if err != nil {
			t.Fatal(err)
		}
		if strings.Join(again, ",") != strings.Join(first, ",") {
			t.Fatalf("order changed between runs: %v vs %v", first, again)
		}
	}
}

func TestReverseTopoSort(t *testing.T) {
	cfg := decode(t, `
services:
  api:
    command: ["/bin/api"]
    depends_on: [db]
  db:
    command: ["/bin/db"]
`)
	order, err := spec.ReverseTopoSort(cfg.Services)
	if err != nil {
		t.Fatal(err)
	}
	if order[0] != "api" || order[1] != "db" {
		t.Errorf("reverse order = %v, want [api db]", order)
	}
}

func TestDuration_YAMLRoundTrip(t *testing.T) {
	cfg := decode(t, `
services:
  a:
    command: ["/bin/a"]
    start_timeout: 1m30s
`)
	if cfg.Services["a"].StartTimeout.Duration != 90*time.Second {
		t.Errorf("start_timeout = %v", cfg.Services["a"].StartTimeout.Duration)
	}
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	_, err := spec.Decode([]byte(`
services:
  a:
    command: ["/bin/a"]
    helth:
      port: 80
`))
	if err == nil {
		t.Fatal("expected error for misspelled field")
	}
}
