package config

import (
	"fmt"
	"io"
	"net"
	"os"
	"regexp"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Config stores configuration
type Config struct {
	Global struct {
		PromNamespace string
		PromAddress   string
		AdminAddress  string
		AccessLog     string
		RlimitNofile  uint64
	}
	Defaults struct {
		MaxConnections int
		BufferSize     int
		IdleTimeout    time.Duration
		Tick           time.Duration
	}
	Listeners []struct {
		Name           string
		Address        string
		MaxConnections int
		BufferSize     int
		IdleTimeout    time.Duration
	}
	Fronts map[string]struct {
		Backend string
	}
	Backends map[string]struct {
		HealthCheck string
		Servers     []string
	}
	HealthChecks map[string]struct {
		HTTP *struct {
			Path, Host        string
			Interval, Timeout time.Duration
			Fall, Rise        int
			Resp              string
		}
	}
}

// LoadFrom loads configuration from reader, decodes and returns as Config type
func LoadFrom(r io.Reader) (cfg *Config, err error) {
	cfg = &Config{}
	d := yaml.NewDecoder(r)
	d.KnownFields(true)
	err = d.Decode(cfg)
	if err != nil {
		cfg = nil
		err = fmt.Errorf("yaml decode error: %w", err)
		return
	}
	if err = cfg.Validate(); err != nil {
		cfg = nil
	}
	return
}

// LoadFromFile takes yaml file as input, decodes and returns as Config type
func LoadFromFile(fileName string) (cfg *Config, err error) {
	f, err := os.Open(fileName)
	if err != nil {
		err = fmt.Errorf("file %q open error: %w", fileName, err)
		return
	}
	defer f.Close()
	return LoadFrom(f)
}

// Validate checks names, references and addresses without resolving them
func (cfg *Config) Validate() error {
	if len(cfg.Listeners) == 0 {
		return fmt.Errorf("no listener defined")
	}
	names := make(map[string]struct{}, len(cfg.Listeners))
	addresses := make(map[string]struct{}, len(cfg.Listeners))
	for i, item := range cfg.Listeners {
		if item.Address == "" {
			return fmt.Errorf("listener %d has no address", i)
		}
		if _, _, err := net.SplitHostPort(item.Address); err != nil {
			return fmt.Errorf("listener %d address %q: %w", i, item.Address, err)
		}
		if _, ok := addresses[item.Address]; ok {
			return fmt.Errorf("listener address %q already defined", item.Address)
		}
		addresses[item.Address] = struct{}{}
		name := listenerName(item.Name, item.Address)
		if item.Name != "" && !nameRgx.MatchString(item.Name) {
			return fmt.Errorf("listener %q has not a valid name", item.Name)
		}
		if _, ok := names[name]; ok {
			return fmt.Errorf("listener %q already defined", name)
		}
		names[name] = struct{}{}
	}
	for name, item := range cfg.HealthChecks {
		if !nameRgx.MatchString(name) {
			return fmt.Errorf("healthcheck %q has not a valid name", name)
		}
		if item.HTTP == nil {
			return fmt.Errorf("healthcheck %q has no check defined", name)
		}
	}
	for name, item := range cfg.Backends {
		if !nameRgx.MatchString(name) {
			return fmt.Errorf("backend %q has not a valid name", name)
		}
		if item.HealthCheck != "" {
			if _, ok := cfg.HealthChecks[item.HealthCheck]; !ok {
				return fmt.Errorf("backend %q healthcheck %q not found", name, item.HealthCheck)
			}
		}
		if len(item.Servers) == 0 {
			return fmt.Errorf("backend %q has no servers", name)
		}
		for _, server := range item.Servers {
			if _, _, err := net.SplitHostPort(server); err != nil {
				return fmt.Errorf("backend %q server %q: %w", name, server, err)
			}
		}
	}
	for host, item := range cfg.Fronts {
		if host == "" || !hostRgx.MatchString(host) {
			return fmt.Errorf("front %q has not a valid host", host)
		}
		if _, ok := cfg.Backends[item.Backend]; !ok {
			return fmt.Errorf("front %q backend %q not found", host, item.Backend)
		}
	}
	return nil
}

func listenerName(name, address string) string {
	if name != "" {
		return name
	}
	return address
}

var (
	nameRgx *regexp.Regexp = regexp.MustCompile(`^[a-zA-Z_\-]([a-zA-Z0-9_\-])*$`)
	hostRgx *regexp.Regexp = regexp.MustCompile(`^(\*|[a-zA-Z0-9]([a-zA-Z0-9\-\.]*[a-zA-Z0-9])?)$`)
)
