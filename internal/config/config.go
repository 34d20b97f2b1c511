// Package config holds gateway configuration, unmarshaled from
// environment variables the same way atlas does: an env struct tag names
// the variable and its default, and UnmarshalEnv walks the struct via
// reflection.
package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/mod/semver"
)

// Config is the idp-gateway process's full configuration.
type Config struct {
	// Address to listen on for inbound router adaptor connections.
	ListenAddr string `env:"IDP_LISTEN_ADDR?=:7070"`

	// Address to expose Prometheus metrics and debug endpoints on.
	MetricsAddr string `env:"IDP_METRICS_ADDR?=:7071"`

	// Maximum concurrent adaptor connections the listener accepts.
	MaxConns int `env:"IDP_MAX_CONNS=256"`

	// How long a node can go without a successful ping before the Master
	// reaps it.
	NodeTimeout time.Duration `env:"IDP_NODE_TIMEOUT=5s"`

	// Parsed and validated, but not applied: the gateway's Master starts a
	// fresh enumeration pass every 1s while idle regardless of this value.
	PollInterval time.Duration `env:"IDP_POLL_INTERVAL=1s"`

	// Comma-separated serial device paths to attach as router adaptors at
	// startup (Linux only).
	SerialDevices []string `env:"IDP_SERIAL_DEVICES"`

	// Log level, as accepted by zerolog.ParseLevel.
	LogLevel zerolog.Level `env:"IDP_LOG_LEVEL=info"`

	// Minimum node firmware version this gateway expects, as a
	// "v"-prefixed semver string. Nodes reporting an older version are
	// still added to the tree but logged as outdated.
	MinimumNodeVersion string `env:"IDP_MINIMUM_NODE_VERSION?=v1.0.0"`
}

// UnmarshalEnv unmarshals es (typically os.Environ()) into c, applying
// each field's default when the corresponding variable is absent.
func (c *Config) UnmarshalEnv(es []string) error {
	em := map[string]string{}
	for _, e := range es {
		if k, v, ok := strings.Cut(e, "="); ok && strings.HasPrefix(k, "IDP_") {
			em[k] = v
		}
	}

	cv := reflect.ValueOf(c).Elem()
	for _, ctf := range reflect.VisibleFields(cv.Type()) {
		env, ok := ctf.Tag.Lookup("env")
		if !ok {
			continue
		}

		var unsettable bool
		key, val, _ := strings.Cut(env, "=")
		if strings.HasSuffix(key, "?") {
			key = strings.TrimSuffix(key, "?")
			unsettable = true
		}
		if v, exists := em[key]; exists {
			if unsettable || v != "" {
				val = v
			}
			delete(em, key)
		}

		cvf := cv.FieldByName(ctf.Name)
		switch cvf.Interface().(type) {
		case string:
			cvf.SetString(val)
		case int, int8, int16, int32, int64:
			if val == "" {
				cvf.SetInt(0)
			} else if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				cvf.SetInt(v)
			} else {
				return fmt.Errorf("env %s: parse %q: %w", key, val, err)
			}
		case bool:
			if val == "" {
				cvf.SetBool(false)
			} else if v, err := strconv.ParseBool(val); err == nil {
				cvf.SetBool(v)
			} else {
				return fmt.Errorf("env %s: parse %q: %w", key, val, err)
			}
		case []string:
			if val == "" {
				cvf.Set(reflect.ValueOf([]string{}))
			} else {
				cvf.Set(reflect.ValueOf(strings.Split(val, ",")))
			}
		case time.Duration:
			if v, err := time.ParseDuration(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s: parse %q: %w", key, val, err)
			}
		case zerolog.Level:
			if v, err := zerolog.ParseLevel(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s: parse %q: %w", key, val, err)
			}
		default:
			return fmt.Errorf("unhandled config field type %T (%s)", cvf.Interface(), env)
		}
	}

	for key, val := range em {
		if val != "" {
			return fmt.Errorf("unknown environment variable %q", key)
		}
	}

	if c.MinimumNodeVersion != "" && !semver.IsValid(c.MinimumNodeVersion) {
		return fmt.Errorf("IDP_MINIMUM_NODE_VERSION %q is not valid semver", c.MinimumNodeVersion)
	}
	return nil
}
