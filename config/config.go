package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var ErrMissingAllowedOrigins = errors.New("missing allowed origins")

type Config struct {
	Port           string
	Debug          bool
	LogPretty      bool
	AllowedOrigins []string
	TrustedProxies []string
	PostgresURL    string

	SnapshotTTL           time.Duration
	SnapshotFlushInterval time.Duration
	StoreTimeout          time.Duration
	LedgerCap             int
	LedgerTrimTo          int

	MaxParticipants       int
	MaxRoomClients        int
	SessionQuorum         int
	TrialDuration         time.Duration
	SessionDecisionKind   string
	SessionDecisionResets bool

	MaxConnPerIP       int
	MaxMsgBytes        int
	RateWindow         time.Duration
	MaxEventsPerWindow int
	ClientRate         float64
	ClientBurst        int
	StrictAdmission    bool
}

func Defaults() Config {
	return Config{
		Port:           "5000",
		TrustedProxies: []string{"127.0.0.1", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"},

		SnapshotTTL:           24 * time.Hour,
		SnapshotFlushInterval: 2 * time.Second,
		StoreTimeout:          3 * time.Second,
		LedgerCap:             20000,
		LedgerTrimTo:          18000,

		MaxParticipants: 2,
		MaxRoomClients:  16,
		SessionQuorum:   2,
		TrialDuration:   10 * time.Minute,

		MaxConnPerIP:       8,
		MaxMsgBytes:        16 * 1024,
		RateWindow:         5 * time.Second,
		MaxEventsPerWindow: 600,
		ClientRate:         120,
		ClientBurst:        240,
	}
}

type lookupFunc func(key string) (string, bool)

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return load(os.LookupEnv)
}

func load(lookup lookupFunc) (Config, error) {
	cfg := Defaults()
	p := parser{lookup: lookup}

	origins, ok := lookup("ALLOWED_ORIGINS")
	if !ok || strings.TrimSpace(origins) == "" {
		return Config{}, ErrMissingAllowedOrigins
	}
	cfg.AllowedOrigins = splitList(origins)

	if proxies, ok := lookup("TRUSTED_PROXIES"); ok {
		cfg.TrustedProxies = splitList(proxies)
	}
	if port, ok := lookup("PORT"); ok && port != "" {
		cfg.Port = port
	}
	cfg.PostgresURL, _ = lookup("POSTGRES_URL")
	cfg.SessionDecisionKind, _ = lookup("SESSION_DECISION_KIND")

	p.boolean("DEBUG", &cfg.Debug)
	p.boolean("LOG_PRETTY", &cfg.LogPretty)
	p.boolean("SESSION_DECISION_RESETS", &cfg.SessionDecisionResets)

	p.duration("SNAPSHOT_TTL", &cfg.SnapshotTTL)
	p.duration("SNAPSHOT_FLUSH_INTERVAL", &cfg.SnapshotFlushInterval)
	p.duration("STORE_TIMEOUT", &cfg.StoreTimeout)
	p.duration("TRIAL_DURATION", &cfg.TrialDuration)
	p.duration("RATE_WINDOW", &cfg.RateWindow)

	p.integer("LEDGER_CAP", &cfg.LedgerCap)
	p.integer("LEDGER_TRIM_TO", &cfg.LedgerTrimTo)
	p.integer("MAX_PARTICIPANTS", &cfg.MaxParticipants)
	p.integer("MAX_ROOM_CLIENTS", &cfg.MaxRoomClients)
	p.integer("SESSION_QUORUM", &cfg.SessionQuorum)
	p.integer("MAX_CONN_PER_IP", &cfg.MaxConnPerIP)
	p.integer("MAX_MSG_BYTES", &cfg.MaxMsgBytes)
	p.integer("MAX_EVENTS_PER_WINDOW", &cfg.MaxEventsPerWindow)
	p.integer("CLIENT_BURST", &cfg.ClientBurst)
	p.float("CLIENT_RATE", &cfg.ClientRate)

	if policy, ok := lookup("ADMISSION_POLICY"); ok {
		switch strings.ToLower(strings.TrimSpace(policy)) {
		case "", "lenient":
			cfg.StrictAdmission = false
		case "strict":
			cfg.StrictAdmission = true
		default:
			p.errs = append(p.errs, fmt.Errorf("ADMISSION_POLICY: unknown policy %q", policy))
		}
	}

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.MaxParticipants < 1:
		return errors.New("MAX_PARTICIPANTS must be at least 1")
	case c.SessionQuorum < 1 || c.SessionQuorum > c.MaxParticipants:
		return errors.New("SESSION_QUORUM must be between 1 and MAX_PARTICIPANTS")
	case c.MaxRoomClients < c.MaxParticipants:
		return errors.New("MAX_ROOM_CLIENTS cannot be below MAX_PARTICIPANTS")
	case c.LedgerCap < 1:
		return errors.New("LEDGER_CAP must be at least 1")
	case c.LedgerTrimTo < 0 || c.LedgerTrimTo >= c.LedgerCap:
		return errors.New("LEDGER_TRIM_TO must be below LEDGER_CAP")
	case c.TrialDuration <= 0:
		return errors.New("TRIAL_DURATION must be positive")
	case c.RateWindow <= 0:
		return errors.New("RATE_WINDOW must be positive")
	case c.SnapshotFlushInterval <= 0:
		return errors.New("SNAPSHOT_FLUSH_INTERVAL must be positive")
	case c.StoreTimeout <= 0:
		return errors.New("STORE_TIMEOUT must be positive")
	case c.SnapshotTTL <= 0:
		return errors.New("SNAPSHOT_TTL must be positive")
	}
	return nil
}

func splitList(raw string) []string {
	out := []string{}
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

type parser struct {
	lookup lookupFunc
	errs   []error
}

func (p *parser) raw(key string) (string, bool) {
	v, ok := p.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (p *parser) boolean(key string, dst *bool) {
	if v, ok := p.raw(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

func (p *parser) integer(key string, dst *int) {
	if v, ok := p.raw(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (p *parser) float(key string, dst *float64) {
	if v, ok := p.raw(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (p *parser) duration(key string, dst *time.Duration) {
	if v, ok := p.raw(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}
