package ops

import (
	"os"
	"strings"
	"time"

	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"main/internal/schema"
	"main/pkg/conn"
)

const (
	defaultDepthLevel     = 20
	defaultCommitEvery    = 10
	defaultQueueCapacity  = 65536
	defaultStreamTimeout  = 10 * time.Second
	defaultDequeueTimeout = 60 * time.Second
)

var validDepthLevels = map[int]struct{}{5: {}, 10: {}, 20: {}}

// FileConfig mirrors the YAML config layout.
type FileConfig struct {
	Database       DatabaseConfig  `yaml:"database"`
	Symbols        []string        `yaml:"symbols"`
	DepthLevel     int             `yaml:"depth_level"`
	CommitEvery    int             `yaml:"commit_every"`
	QueueCapacity  int             `yaml:"queue_capacity"`
	StreamTimeout  string          `yaml:"stream_timeout"`
	DequeueTimeout string          `yaml:"dequeue_timeout"`
	RulesPath      string          `yaml:"rules_path"`
	Profiling      ProfilingConfig `yaml:"profiling"`
}

// DatabaseConfig describes the storage backend.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// ProfilingConfig captures the optional continuous profiler hookup.
type ProfilingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ServerAddress string `yaml:"server_address"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Conn           conn.Option
	Symbols        []string
	DepthLevel     int
	CommitEvery    int
	QueueCapacity  int
	StreamTimeout  time.Duration
	DequeueTimeout time.Duration
	Rules          schema.Rules
	Profiling      ProfilingConfig
}

// Load reads a YAML config file, resolves defaults, and loads the schema
// rules it points at.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	symbols, err := normalizeSymbols(cfg.Symbols)
	if err != nil {
		return Loaded{}, err
	}

	depthLevel := cfg.DepthLevel
	if depthLevel == 0 {
		depthLevel = defaultDepthLevel
	}
	if _, ok := validDepthLevels[depthLevel]; !ok {
		return Loaded{}, errors.Errorf("depth_level must be one of 5, 10, 20; got %d", depthLevel)
	}

	commitEvery := cfg.CommitEvery
	if commitEvery == 0 {
		commitEvery = defaultCommitEvery
	}
	if commitEvery < 1 {
		return Loaded{}, errors.Errorf("commit_every must be >= 1; got %d", commitEvery)
	}

	queueCapacity := cfg.QueueCapacity
	if queueCapacity == 0 {
		queueCapacity = defaultQueueCapacity
	}
	if queueCapacity < 1 {
		return Loaded{}, errors.Errorf("queue_capacity must be >= 1; got %d", queueCapacity)
	}

	streamTimeout, err := parseDuration(cfg.StreamTimeout, defaultStreamTimeout)
	if err != nil {
		return Loaded{}, errors.Wrap(err, "invalid stream_timeout")
	}
	dequeueTimeout, err := parseDuration(cfg.DequeueTimeout, defaultDequeueTimeout)
	if err != nil {
		return Loaded{}, errors.Wrap(err, "invalid dequeue_timeout")
	}

	if cfg.Database.Name == "" {
		return Loaded{}, errors.Errorf("database.name is empty")
	}
	if cfg.RulesPath == "" {
		return Loaded{}, errors.Errorf("rules_path is empty")
	}
	rules, err := schema.LoadRules(cfg.RulesPath)
	if err != nil {
		return Loaded{}, err
	}

	if cfg.Profiling.Enabled && cfg.Profiling.ServerAddress == "" {
		return Loaded{}, errors.Errorf("profiling.server_address is empty")
	}

	return Loaded{
		Conn: conn.Option{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Name,
			SSLMode:  cfg.Database.SSLMode,
		},
		Symbols:        symbols,
		DepthLevel:     depthLevel,
		CommitEvery:    commitEvery,
		QueueCapacity:  queueCapacity,
		StreamTimeout:  streamTimeout,
		DequeueTimeout: dequeueTimeout,
		Rules:          rules,
		Profiling:      cfg.Profiling,
	}, nil
}

func normalizeSymbols(symbols []string) ([]string, error) {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToLower(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	if len(out) == 0 {
		return nil, errors.Errorf("symbols is empty")
	}
	return out, nil
}

func parseDuration(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.Errorf("duration must be > 0; got %s", raw)
	}
	return d, nil
}
