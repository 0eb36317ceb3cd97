package spec

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigError aggregates every validation problem found in a descriptor
// table. It is the only globally fatal error class: the supervisor refuses
// to start on any ConfigError.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	if len(e.Problems) == 1 {
		return "config: " + e.Problems[0]
	}
	return fmt.Sprintf("config: %d problems:\n  %s",
		len(e.Problems), strings.Join(e.Problems, "\n  "))
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Decode(data)
}

// Decode unmarshals and validates a config document. Descriptor names are
// populated from the services map keys.
func Decode(data []byte) (*Config, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, &ConfigError{Problems: []string{err.Error()}}
	}

	for name, d := range cfg.Services {
		d.Name = name
		cfg.Services[name] = d
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the descriptor table. It returns a *ConfigError listing
// every problem, or nil. No side effects beyond validation.
func Validate(cfg *Config) error {
	var problems []string
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if len(cfg.Services) == 0 {
		fail("no services declared")
	}

	names := SortedNames(cfg.Services)

	for _, name := range names {
		d := cfg.Services[name]

		switch d.RuntimeKind() {
		case RuntimeProcess:
			if len(d.Command) == 0 {
				fail("service %q: process runtime requires a command", name)
			}
		case RuntimeDocker:
			if d.Image == "" {
				fail("service %q: docker runtime requires an image", name)
			}
		default:
			fail("service %q: unknown runtime %q", name, d.Runtime)
		}

		for _, port := range d.Ports {
			if port <= 0 || port > 65535 {
				fail("service %q: invalid port %d", name, port)
			}
		}

		if h := d.Health; h != nil {
			switch h.EffectiveType() {
			case HealthHTTP:
				if h.URL == "" {
					fail("service %q: http health check requires a url", name)
				}
			case HealthTCP, HealthGRPC:
				if h.Port == 0 && len(d.Ports) == 0 {
					fail("service %q: %s health check requires a port", name, h.EffectiveType())
				}
			default:
				fail("service %q: unknown health check type %q", name, h.Type)
			}
			for _, code := range h.Expect {
				if code < 100 || code > 599 {
					fail("service %q: invalid expected status %d", name, code)
				}
			}
		}

		switch d.Restart.Kind() {
		case RestartNever, RestartOnFailure, RestartAlways:
		default:
			fail("service %q: unknown restart policy %q", name, d.Restart.Policy)
		}

		seen := make(map[string]bool, len(d.DependsOn))
		for _, dep := range d.DependsOn {
			if dep == name {
				fail("service %q: depends on itself", name)
				continue
			}
			if _, ok := cfg.Services[dep]; !ok {
				fail("service %q: unknown dependency %q", name, dep)
			}
			if seen[dep] {
				fail("service %q: duplicate dependency %q", name, dep)
			}
			seen[dep] = true
		}
	}

	// Port collisions: two descriptors claiming the same port must both
	// carry the shared annotation.
	portOwners := make(map[int][]string)
	for _, name := range names {
		for _, port := range cfg.Services[name].Ports {
			portOwners[port] = append(portOwners[port], name)
		}
	}
	collided := make([]int, 0, len(portOwners))
	for port, owners := range portOwners {
		if len(owners) < 2 {
			continue
		}
		shared := true
		for _, owner := range owners {
			if !cfg.Services[owner].SharedPorts {
				shared = false
			}
		}
		if !shared {
			collided = append(collided, port)
		}
	}
	sort.Ints(collided)
	for _, port := range collided {
		fail("port %d claimed by %s without shared_ports",
			port, strings.Join(portOwners[port], " and "))
	}

	// Cycle detection only makes sense once every dependency resolves.
	if len(problems) == 0 {
		if _, err := TopoSort(cfg.Services); err != nil {
			fail("%v", err)
		}
	}

	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}

// SortedNames returns service names in lexical order for deterministic
// iteration.
func SortedNames(services map[string]Descriptor) []string {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
