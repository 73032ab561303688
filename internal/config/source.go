package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/irensaltali/serverlessapigateway/internal/logging"
)

// DefaultRedisKey is the KV key holding the configuration document.
const DefaultRedisKey = "api-config.json"

// ErrNoDocument means a source holds no configuration, so the next source
// in a chain should be tried.
var ErrNoDocument = errors.New("no configuration document")

// Source produces the configuration snapshot for one request.
type Source interface {
	Name() string
	Load(ctx context.Context) (*APIConfig, error)
}

// StaticSource always returns the same configuration.
type StaticSource struct {
	Config *APIConfig
}

func (s StaticSource) Name() string { return "static" }

func (s StaticSource) Load(context.Context) (*APIConfig, error) {
	if s.Config == nil {
		return nil, ErrNoDocument
	}
	return s.Config, nil
}

// InlineSource parses a document held in memory, usually SAG_API_CONFIG_JSON.
type InlineSource struct {
	loader *Loader
	data   string
}

// NewInlineSource creates a source over an inline document.
func NewInlineSource(loader *Loader, data string) *InlineSource {
	return &InlineSource{loader: loader, data: data}
}

// NewEnvSource reads the inline document from SAG_API_CONFIG_JSON.
func NewEnvSource(loader *Loader) *InlineSource {
	return NewInlineSource(loader, os.Getenv(EnvInlineConfig))
}

func (s *InlineSource) Name() string { return "inline variable" }

func (s *InlineSource) Load(context.Context) (*APIConfig, error) {
	if strings.TrimSpace(s.data) == "" {
		return nil, ErrNoDocument
	}
	return s.loader.ParseCached([]byte(s.data))
}

// FileSource reads a local file on every load.
type FileSource struct {
	loader *Loader
	path   string
}

// NewFileSource creates a source over a local file.
func NewFileSource(loader *Loader, path string) *FileSource {
	return &FileSource{loader: loader, path: path}
}

func (s *FileSource) Name() string { return "local file" }

func (s *FileSource) Load(context.Context) (*APIConfig, error) {
	if s.path == "" {
		return nil, ErrNoDocument
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoDocument
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return s.loader.ParseCached(data)
}

// RedisSource reads the document from a Redis key.
type RedisSource struct {
	client  redis.Cmdable
	loader  *Loader
	key     string
	timeout time.Duration
}

// NewRedisSource creates a KV-backed source. An empty key means DefaultRedisKey.
func NewRedisSource(client redis.Cmdable, loader *Loader, key string) *RedisSource {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisSource{
		client:  client,
		loader:  loader,
		key:     key,
		timeout: 500 * time.Millisecond,
	}
}

func (s *RedisSource) Name() string { return "KV store" }

func (s *RedisSource) Load(ctx context.Context) (*APIConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoDocument
		}
		return nil, fmt.Errorf("redis get %q: %w", s.key, err)
	}
	return s.loader.ParseCached(data)
}

// ChainSource tries each source in order and returns the first document found.
type ChainSource []Source

func (c ChainSource) Name() string { return "chain" }

func (c ChainSource) Load(ctx context.Context) (*APIConfig, error) {
	for _, s := range c {
		cfg, err := s.Load(ctx)
		if errors.Is(err, ErrNoDocument) {
			continue
		}
		if err != nil {
			logging.Error("Error loading API configuration",
				zap.String("source", s.Name()),
				zap.Error(err),
			)
			return nil, fmt.Errorf("API configuration is missing or invalid: %w", err)
		}
		logging.Debug("Loaded API configuration", zap.String("source", s.Name()))
		return cfg, nil
	}
	return nil, fmt.Errorf("API configuration is missing or invalid: %w", ErrNoDocument)
}
