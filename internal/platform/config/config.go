package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	// DefaultEnvFile is read (and created when absent) next to the binary.
	DefaultEnvFile = ".env"

	// DefaultCivToken is the insecure token written into a fresh env file.
	// A server configured with it accepts every write, so Load only allows it
	// on a loopback address.
	DefaultCivToken = "changeme"

	defaultHostAddr = "127.0.0.1"
	defaultHostPort = "8010"
)

// ErrDefaultTokenExposed is returned when the default token is configured on a
// non-loopback address.
var ErrDefaultTokenExposed = errors.New("cannot use default token with non-localhost address")

// Server captures process configuration. It is built once before the server
// starts and passed to whatever needs it.
type Server struct {
	HostAddr        string        `env:"HOST_ADDR,required"`
	HostPort        uint16        `env:"HOST_PORT,required"`
	CivToken        string        `env:"CIV_TOKEN,required"`
	VerifyFile      string        `env:"VERIFY_FILE" envDefault:"verify.json"`
	MetricsAddr     string        `env:"METRICS_ADDR"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"text"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Addr is the API listen address.
func (s Server) Addr() string {
	return net.JoinHostPort(s.HostAddr, strconv.Itoa(int(s.HostPort)))
}

// InsecureMode reports whether writes are unauthenticated.
func (s Server) InsecureMode() bool {
	return s.CivToken == DefaultCivToken
}

// Validate rejects the default token anywhere but loopback.
func (s Server) Validate() error {
	if s.InsecureMode() && !isLoopback(s.HostAddr) {
		return fmt.Errorf("%w: HOST_ADDR=%s", ErrDefaultTokenExposed, s.HostAddr)
	}
	return nil
}

// Load reads path, creating it with loopback defaults when it does not exist.
// Process environment variables override values from the file. The second
// return value reports whether the file was created.
func Load(path string) (Server, bool, error) {
	created, err := ensureEnvFile(path)
	if err != nil {
		return Server{}, false, err
	}

	fileVars, err := godotenv.Read(path)
	if err != nil {
		return Server{}, created, fmt.Errorf("read env file %s: %w", path, err)
	}

	cfg, err := Parse(merge(fileVars, os.Environ()))
	if err != nil {
		return Server{}, created, err
	}
	return cfg, created, nil
}

// Parse decodes and validates a configuration from vars.
func Parse(vars map[string]string) (Server, error) {
	var cfg Server
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

func ensureEnvFile(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat env file %s: %w", path, err)
	}

	defaults := map[string]string{
		"HOST_ADDR": defaultHostAddr,
		"HOST_PORT": defaultHostPort,
		"CIV_TOKEN": DefaultCivToken,
	}
	if err := godotenv.Write(defaults, path); err != nil {
		return false, fmt.Errorf("create env file %s: %w", path, err)
	}
	return true, nil
}

func merge(fileVars map[string]string, environ []string) map[string]string {
	vars := make(map[string]string, len(fileVars)+len(environ))
	for k, v := range fileVars {
		vars[k] = v
	}
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	return vars
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
