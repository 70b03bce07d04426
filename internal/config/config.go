package config

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

type Config struct {
	Env      string
	Addr     string
	LogLevel string

	APIBase *url.URL
	PushURL *url.URL

	PollInterval   time.Duration
	RenderInterval time.Duration
	ReconnectDelay time.Duration
	InitRetry      time.Duration
	RequestTimeout time.Duration

	PrefsPath      string
	DBDSN          string
	AllowedOrigins []string

	FCMProjectID   string
	FCMCredentials string
	FCMDeviceToken string
}

const defaultAPIBase = "https://api.grayflare.space"

func Load() (Config, error) {
	if err := loadDotEnvFile(".env", os.Setenv, os.Getenv); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf(".env: %w", err)
	}
	return LoadFromEnv(os.Getenv)
}

func LoadFromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		Env:            getenv("APP_ENV"),
		Addr:           getenv("APP_ADDR"),
		LogLevel:       getenv("APP_LOG_LEVEL"),
		PrefsPath:      strings.TrimSpace(getenv("APP_PREFS_PATH")),
		DBDSN:          getenv("APP_DB_DSN"),
		FCMProjectID:   strings.TrimSpace(getenv("APP_FCM_PROJECT_ID")),
		FCMCredentials: strings.TrimSpace(getenv("APP_FCM_CREDENTIALS")),
		FCMDeviceToken: strings.TrimSpace(getenv("APP_FCM_DEVICE_TOKEN")),
	}

	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	switch cfg.Env {
	case "dev", "prod", "test":
	default:
		return Config{}, errors.New("APP_ENV: must be one of dev, test, prod")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8787"
	}
	if cfg.PrefsPath == "" {
		cfg.PrefsPath = "data/prefs.db"
	}

	apiBaseRaw := strings.TrimSpace(getenv("APP_API_BASE"))
	if apiBaseRaw == "" {
		apiBaseRaw = defaultAPIBase
	}
	apiBase, err := parseAbsURL("APP_API_BASE", apiBaseRaw, "http", "https")
	if err != nil {
		return Config{}, err
	}
	apiBase.Path = strings.TrimRight(apiBase.Path, "/")
	cfg.APIBase = apiBase

	pushRaw := strings.TrimSpace(getenv("APP_PUSH_URL"))
	switch strings.ToLower(pushRaw) {
	case "off", "none", "disabled":
	case "":
		cfg.PushURL = derivePushURL(apiBase)
	default:
		pushURL, err := parseAbsURL("APP_PUSH_URL", pushRaw, "ws", "wss")
		if err != nil {
			return Config{}, err
		}
		cfg.PushURL = pushURL
	}

	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"APP_POLL_INTERVAL", 5 * time.Second, &cfg.PollInterval},
		{"APP_RENDER_INTERVAL", time.Second, &cfg.RenderInterval},
		{"APP_RECONNECT_DELAY", 5 * time.Second, &cfg.ReconnectDelay},
		{"APP_INIT_RETRY", time.Second, &cfg.InitRetry},
		{"APP_REQUEST_TIMEOUT", 8 * time.Second, &cfg.RequestTimeout},
	}
	for _, d := range durations {
		v, err := parseDuration(d.key, getenv(d.key), d.def)
		if err != nil {
			return Config{}, err
		}
		*d.dest = v
	}

	cfg.AllowedOrigins = parseCSV(getenv("APP_ALLOWED_ORIGINS"))
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	if cfg.FCMDeviceToken != "" && cfg.FCMCredentials == "" {
		return Config{}, errors.New("APP_FCM_CREDENTIALS: required when APP_FCM_DEVICE_TOKEN is set")
	}

	if cfg.IsProd() && cfg.APIBase.Scheme != "https" {
		return Config{}, errors.New("APP_API_BASE: must be https in prod")
	}

	return cfg, nil
}

func (c Config) IsProd() bool { return c.Env == "prod" }

func (c Config) PushEnabled() bool { return c.PushURL != nil }

func (c Config) MirrorEnabled() bool { return c.FCMDeviceToken != "" }

func parseAbsURL(key, raw string, schemes ...string) (*url.URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return nil, fmt.Errorf("%s: must be an absolute URL", key)
	}
	for _, s := range schemes {
		if parsed.Scheme == s {
			return parsed, nil
		}
	}
	return nil, fmt.Errorf("%s: scheme must be %s", key, strings.Join(schemes, " or "))
}

func derivePushURL(apiBase *url.URL) *url.URL {
	u := *apiBase
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return &u
}

func parseDuration(key, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be > 0", key)
	}
	return d, nil
}

// loadDotEnvFile applies KEY=VALUE lines from path. Variables already present
// in the environment are left untouched, and empty values are skipped.
func loadDotEnvFile(path string, setenv func(string, string) error, getenv func(string) string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = unquote(strings.TrimSpace(v))
		if k == "" || v == "" || getenv(k) != "" {
			continue
		}
		if err := setenv(k, v); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
	}
	return sc.Err()
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

func parseCSV(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
