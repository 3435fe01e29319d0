// Package config loads the datastore configuration from YAML, applies
// LATTICE_* environment overrides and validates the result.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jacentio/lattice/options"
)

// Backends.
const (
	BackendMap       = "map"
	BackendDynamoDB  = "dynamodb"
	BackendRedis     = "redis"
	BackendJetStream = "jetstream"
)

// Config selects and configures one dialect.
type Config struct {
	Backend string `yaml:"backend" validate:"required,oneof=map dynamodb redis jetstream"`

	// Logging wraps the dialect with the logging decorator.
	Logging bool `yaml:"logging"`
	// Metrics wraps the dialect with the Prometheus decorator.
	Metrics bool `yaml:"metrics"`
	// Batching wraps the dialect with a batch delegator.
	Batching bool `yaml:"batching"`

	Associations AssociationConfig `yaml:"associations"`

	// NamedQueries are native queries checked at startup.
	NamedQueries map[string]string `yaml:"named_queries"`

	DynamoDB  DynamoDBConfig  `yaml:"dynamodb"`
	KV        KVConfig        `yaml:"kv"`
	Redis     RedisConfig     `yaml:"redis"`
	JetStream JetStreamConfig `yaml:"jetstream"`
}

// OptionValues are association options of one scope.
type OptionValues struct {
	Storage         string `yaml:"storage" validate:"omitempty,oneof=IN_ENTITY ASSOCIATION_DOCUMENT"`
	DocumentStorage string `yaml:"document_storage" validate:"omitempty,oneof=GLOBAL_COLLECTION COLLECTION_PER_ASSOCIATION"`
	MapStorage      string `yaml:"map_storage" validate:"omitempty,oneof=BY_KEY AS_LIST"`
}

// AssociationConfig holds association options by scope. Properties are
// keyed by entity table, then by collection role.
type AssociationConfig struct {
	OptionValues `yaml:",inline"`
	Entities     map[string]OptionValues            `yaml:"entities" validate:"dive"`
	Properties   map[string]map[string]OptionValues `yaml:"properties" validate:"dive,dive"`
}

type DynamoDBConfig struct {
	Region           string `yaml:"region"`
	Endpoint         string `yaml:"endpoint" validate:"omitempty,url"`
	TablePrefix      string `yaml:"table_prefix"`
	AssociationTable string `yaml:"association_table"`
	SequenceTable    string `yaml:"sequence_table"`
	NumShards        int    `yaml:"num_shards" validate:"min=0,max=256"`
	MaxTransactItems int    `yaml:"max_transact_items" validate:"min=0,max=100"`
	// CreateTables provisions missing tables on open.
	CreateTables bool `yaml:"create_tables"`
}

type KVConfig struct {
	MaxRetries       int           `yaml:"max_retries" validate:"min=0"`
	RetryInterval    time.Duration `yaml:"retry_interval" validate:"min=0"`
	MaxRetryInterval time.Duration `yaml:"max_retry_interval" validate:"min=0"`
	ScanPageSize     int           `yaml:"scan_page_size" validate:"min=0"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" validate:"omitempty,hostname_port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"min=0"`
	Prefix   string `yaml:"prefix"`
}

type JetStreamConfig struct {
	URL      string `yaml:"url" validate:"omitempty,url"`
	Bucket   string `yaml:"bucket"`
	Replicas int    `yaml:"replicas" validate:"min=0,max=5"`
}

// Default returns the configuration used when nothing is set: the
// in-memory backend with logging.
func Default() Config {
	return Config{
		Backend: BackendMap,
		Logging: true,
	}
}

// Load reads path, applies environment overrides and validates.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("error reading config: %w", err)
	}
	return Parse(data, os.LookupEnv)
}

// Parse decodes data over Default, applies overrides from lookup and
// validates.
func Parse(data []byte, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("error in yaml.Unmarshal: %w", err)
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv builds a configuration from LATTICE_* variables alone.
func FromEnv() (Config, error) {
	return Parse(nil, os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(name)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		*dst = b
		return nil
	}

	str("LATTICE_BACKEND", &c.Backend)
	str("LATTICE_DYNAMODB_REGION", &c.DynamoDB.Region)
	str("LATTICE_DYNAMODB_ENDPOINT", &c.DynamoDB.Endpoint)
	str("LATTICE_TABLE_PREFIX", &c.DynamoDB.TablePrefix)
	str("LATTICE_REDIS_ADDR", &c.Redis.Addr)
	str("LATTICE_REDIS_PASSWORD", &c.Redis.Password)
	str("LATTICE_NATS_URL", &c.JetStream.URL)
	str("LATTICE_NATS_BUCKET", &c.JetStream.Bucket)
	str("LATTICE_ASSOCIATION_STORAGE", &c.Associations.Storage)

	for name, dst := range map[string]*bool{
		"LATTICE_LOGGING":  &c.Logging,
		"LATTICE_METRICS":  &c.Metrics,
		"LATTICE_BATCHING": &c.Batching,
	} {
		if err := boolean(name, dst); err != nil {
			return err
		}
	}
	return nil
}

var validate = validator.New()

// Validate checks the struct tags.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (v OptionValues) values() (options.Values, error) {
	var (
		out options.Values
		err error
	)
	if out.AssociationStorage, err = options.ParseAssociationStorage(v.Storage); err != nil {
		return out, err
	}
	if out.AssociationDocumentStorage, err = options.ParseAssociationDocumentStorage(v.DocumentStorage); err != nil {
		return out, err
	}
	if out.MapStorage, err = options.ParseMapStorage(v.MapStorage); err != nil {
		return out, err
	}
	return out, nil
}

// Options builds the option container of the association settings.
func (a AssociationConfig) Options() (*options.Container, error) {
	c := &options.Container{}
	global, err := a.OptionValues.values()
	if err != nil {
		return nil, err
	}
	c.Global = global
	for entity, ov := range a.Entities {
		v, err := ov.values()
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", entity, err)
		}
		c.SetEntity(entity, v)
	}
	for entity, props := range a.Properties {
		for property, ov := range props {
			v, err := ov.values()
			if err != nil {
				return nil, fmt.Errorf("property %s.%s: %w", entity, property, err)
			}
			c.SetProperty(entity, property, v)
		}
	}
	return c, nil
}
