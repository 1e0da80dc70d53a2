// Package config loads the engine's configuration: which side a process
// runs as, which port it listens on, and the (local-bind, remote-host,
// remote-port) endpoints it dials out to for each logical connection.
//
// Loading follows the same shape as r2northstar/atlas's cmd/atlas: an
// optional env-file (parsed with hashicorp/go-envparse) falling back to the
// live process environment, read by a small hand-rolled adapter rather than
// a reflection-based unmarshaler (the surface here is four fields, not
// dozens).
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-envparse"

	"github.com/muhammadmahdiamirpour/raitcp/internal/wire"
)

// Endpoint is one outbound target: bind LocalAddr, then dial
// RemoteHost:RemotePort. One Peer is created per Endpoint per logical
// connection.
type Endpoint struct {
	LocalAddr  string
	RemoteHost string
	RemotePort uint16
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s->%s:%d", e.LocalAddr, e.RemoteHost, e.RemotePort)
}

// Config is the engine's configuration for one side of the link.
type Config struct {
	Side       wire.Side
	ListenPort uint16
	Endpoints  []Endpoint
}

const (
	envListenPort = "RAITCP_LISTEN_PORT"
	envEndpoints  = "RAITCP_ENDPOINTS"
)

// Load reads env-style KEY=VALUE configuration for side, either from the
// named file (if path is non-empty) or from the live process environment.
// The file format is whatever hashicorp/go-envparse accepts: comments,
// blank lines, and optionally-quoted values.
func Load(path string, side wire.Side) (*Config, error) {
	env, err := readEnv(path)
	if err != nil {
		return nil, err
	}
	return fromEnv(env, side)
}

func readEnv(path string) (map[string]string, error) {
	if path == "" {
		env := make(map[string]string)
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				env[k] = v
			}
		}
		return env, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return parseEnvFile(f)
}

func parseEnvFile(r io.Reader) (map[string]string, error) {
	m, err := envparse.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("config: parse env file: %w", err)
	}
	return m, nil
}

func fromEnv(env map[string]string, side wire.Side) (*Config, error) {
	portStr, ok := env[envListenPort]
	if !ok || portStr == "" {
		return nil, fmt.Errorf("config: %s is required", envListenPort)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", envListenPort, err)
	}

	endpoints, err := parseEndpoints(env[envEndpoints])
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", envEndpoints, err)
	}

	return &Config{
		Side:       side,
		ListenPort: uint16(port),
		Endpoints:  endpoints,
	}, nil
}

// parseEndpoints parses a comma-separated list of
// "local_bind_addr=remote_host:remote_port" triples.
func parseEndpoints(s string) ([]Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	endpoints := make([]Endpoint, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		localAddr, remote, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("endpoint %q: expected local_addr=remote_host:remote_port", p)
		}
		host, portStr, ok := strings.Cut(remote, ":")
		if !ok {
			return nil, fmt.Errorf("endpoint %q: missing remote port", p)
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("endpoint %q: bad port: %w", p, err)
		}
		endpoints = append(endpoints, Endpoint{
			LocalAddr:  localAddr,
			RemoteHost: host,
			RemotePort: uint16(port),
		})
	}
	return endpoints, nil
}

// DebugEnabled reports whether the DEBUG environment variable requests
// verbose diagnostics: its first character is 'Y', 'y', or '1' (spec.md §6).
func DebugEnabled() bool {
	v := os.Getenv("DEBUG")
	if v == "" {
		return false
	}
	switch v[0] {
	case 'Y', 'y', '1':
		return true
	default:
		return false
	}
}
