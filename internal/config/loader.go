package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-yaml"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"github.com/irensaltali/serverlessapigateway/internal/logging"
)

// Environment variables read by the loader.
const (
	EnvStrictConfig = "SAG_STRICT_CONFIG"
	EnvInlineConfig = "SAG_API_CONFIG_JSON"
)

//go:embed schema.json
var schemaDoc []byte

// Loader turns raw JSON or YAML bytes into a normalized, validated APIConfig.
type Loader struct {
	schema *jsonschema.Schema
	strict bool
	lookup func(string) (string, bool)
	parsed *lru.Cache[uint64, *APIConfig]
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithStrict makes schema violations fatal instead of logging them.
func WithStrict(strict bool) LoaderOption {
	return func(l *Loader) { l.strict = strict }
}

// WithLookup replaces os.LookupEnv as the source for $env and $secrets values.
func WithLookup(lookup func(string) (string, bool)) LoaderOption {
	return func(l *Loader) { l.lookup = lookup }
}

// NewLoader creates a loader. Strict mode defaults to SAG_STRICT_CONFIG.
func NewLoader(opts ...LoaderOption) (*Loader, error) {
	l := &Loader{
		strict: strings.EqualFold(os.Getenv(EnvStrictConfig), "true"),
		lookup: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(l)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaDoc))
	if err != nil {
		return nil, fmt.Errorf("failed to parse config schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("api-config.schema.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add config schema: %w", err)
	}
	l.schema, err = c.Compile("api-config.schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile config schema: %w", err)
	}
	l.parsed, _ = lru.New[uint64, *APIConfig](16)
	return l, nil
}

// Load reads and parses a configuration file.
func (l *Loader) Load(path string) (*APIConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return l.Parse(data)
}

// ParseCached is Parse memoized on the document hash. Sources that fetch
// the same document on every request use it to skip re-validation. The
// returned config is shared and must be treated as read-only.
func (l *Loader) ParseCached(data []byte) (*APIConfig, error) {
	key := xxhash.Sum64(data)
	if cfg, ok := l.parsed.Get(key); ok {
		return cfg, nil
	}
	cfg, err := l.Parse(data)
	if err != nil {
		return nil, err
	}
	l.parsed.Add(key, cfg)
	return cfg, nil
}

// Parse normalizes, substitutes and validates a configuration document.
func (l *Loader) Parse(data []byte) (*APIConfig, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("empty configuration document")
	}

	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	tree, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	root, ok := tree.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("configuration must be an object")
	}

	Normalize(root)
	SubstituteEnv(root, l.lookup)

	if err := l.schema.Validate(root); err != nil {
		msg := fmt.Sprintf("API configuration validation failed: %v", err)
		if l.strict {
			return nil, fmt.Errorf("%s", msg)
		}
		logging.Warn("continuing with configuration that failed validation",
			zap.String("error", msg),
		)
	}

	normalized, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	cfg := &APIConfig{}
	if err := json.Unmarshal(normalized, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}
