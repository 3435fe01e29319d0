// Package datastore opens the grid dialect selected by configuration and
// owns the backend clients behind it.
package datastore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/jacentio/lattice/config"
	"github.com/jacentio/lattice/dialect"
	"github.com/jacentio/lattice/dialect/dynamo"
	"github.com/jacentio/lattice/dialect/kv"
	"github.com/jacentio/lattice/dialect/kv/natsstore"
	"github.com/jacentio/lattice/dialect/kv/redisstore"
	"github.com/jacentio/lattice/dialect/mapgrid"
	"github.com/jacentio/lattice/internal/logging"
	"github.com/jacentio/lattice/metrics"
	"github.com/jacentio/lattice/options"
)

// Datastore is an opened dialect with its decorators.
type Datastore struct {
	// Dialect is the decorated dialect. Use dialect.Facet to reach the
	// backend's optional capabilities.
	Dialect dialect.GridDialect
	Backend string
	Options *options.Container

	closers []func() error
}

type settings struct {
	logger     *zerolog.Logger
	registerer prometheus.Registerer
	dynamoAPI  dynamo.API
	schema     *dynamo.Schema
	registry   *dynamo.Registry
	store      kv.Store
}

// Option customises Open.
type Option func(*settings)

// WithLogger sets the logger of the logging decorator.
func WithLogger(l zerolog.Logger) Option {
	return func(s *settings) { s.logger = &l }
}

// WithRegisterer sets where metrics are registered.
// Default: prometheus.DefaultRegisterer
func WithRegisterer(r prometheus.Registerer) Option {
	return func(s *settings) { s.registerer = r }
}

// WithDynamoDBClient uses api instead of a client built from the AWS
// default configuration.
func WithDynamoDBClient(api dynamo.API) Option {
	return func(s *settings) { s.dynamoAPI = api }
}

// WithSchema sets the tables provisioned when dynamodb.create_tables is
// set.
func WithSchema(schema dynamo.Schema) Option {
	return func(s *settings) { s.schema = &schema }
}

// WithRegistry sets the association registry of the DynamoDB dialect.
func WithRegistry(r *dynamo.Registry) Option {
	return func(s *settings) { s.registry = r }
}

// WithStore uses store for the redis and jetstream backends instead of
// connecting.
func WithStore(store kv.Store) Option {
	return func(s *settings) { s.store = store }
}

// Open builds the dialect named by cfg.Backend, applies the configured
// decorators and validates the setup.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Datastore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", dialect.ErrInvalidConfiguration, err)
	}
	s := settings{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&s)
	}

	container, err := cfg.Associations.Options()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", dialect.ErrInvalidConfiguration, err)
	}

	ds := &Datastore{Backend: cfg.Backend, Options: container}
	base, err := ds.open(ctx, cfg, s)
	if err != nil {
		ds.Close()
		return nil, err
	}

	d := base
	if cfg.Logging {
		logger := logging.New()
		if s.logger != nil {
			logger = *s.logger
		}
		d = dialect.WithLogging(d, logger.With().Str("backend", cfg.Backend).Logger())
	}
	if cfg.Metrics {
		m, err := metrics.New(s.registerer)
		if err != nil {
			ds.Close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		d = metrics.Instrument(d, cfg.Backend, m)
	}
	if cfg.Batching {
		d = dialect.NewBatchDelegator(d)
	}

	if err := dialect.ValidateSetup(d, dialect.Setup{NamedNativeQueries: cfg.NamedQueries, Options: container}); err != nil {
		ds.Close()
		return nil, err
	}
	ds.Dialect = d

	zerolog.Ctx(ctx).Info().Str("backend", cfg.Backend).Bool("metrics", cfg.Metrics).Bool("batching", cfg.Batching).Msg("datastore opened")
	return ds, nil
}

func (ds *Datastore) open(ctx context.Context, cfg config.Config, s settings) (dialect.GridDialect, error) {
	switch cfg.Backend {
	case config.BackendMap:
		return mapgrid.New(), nil

	case config.BackendDynamoDB:
		return openDynamo(ctx, cfg.DynamoDB, s)

	case config.BackendRedis, config.BackendJetStream:
		store := s.store
		if store == nil {
			var err error
			if store, err = openStore(ctx, cfg); err != nil {
				return nil, dialect.Connection(err)
			}
		}
		ds.closers = append(ds.closers, store.Close)
		return kv.New(store, kv.Config{
			MaxRetries:       cfg.KV.MaxRetries,
			RetryInterval:    cfg.KV.RetryInterval,
			MaxRetryInterval: cfg.KV.MaxRetryInterval,
			ScanPageSize:     cfg.KV.ScanPageSize,
		}), nil
	}
	return nil, fmt.Errorf("%w: unknown backend %q", dialect.ErrInvalidConfiguration, cfg.Backend)
}

func openStore(ctx context.Context, cfg config.Config) (kv.Store, error) {
	if cfg.Backend == config.BackendRedis {
		addr := cfg.Redis.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		return redisstore.Open(ctx, redisstore.Config{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
	}
	return natsstore.Open(ctx, natsstore.Config{
		URL:        cfg.JetStream.URL,
		Bucket:     cfg.JetStream.Bucket,
		Replicas:   cfg.JetStream.Replicas,
		MaxRetries: cfg.KV.MaxRetries,
	})
}

func openDynamo(ctx context.Context, c config.DynamoDBConfig, s settings) (dialect.GridDialect, error) {
	dcfg := dynamo.DefaultConfig()
	dcfg.TablePrefix = c.TablePrefix
	if c.AssociationTable != "" {
		dcfg.AssociationTable = c.AssociationTable
	}
	if c.SequenceTable != "" {
		dcfg.SequenceTable = c.SequenceTable
	}
	if c.NumShards > 0 {
		dcfg.NumShards = c.NumShards
	}
	if c.MaxTransactItems > 0 {
		dcfg.MaxTransactItems = c.MaxTransactItems
	}

	api := s.dynamoAPI
	if api == nil {
		client, err := NewDynamoDBClient(ctx, c.Region, c.Endpoint)
		if err != nil {
			return nil, err
		}
		api = client
	}

	if c.CreateTables {
		schemaAPI, ok := api.(dynamo.SchemaAPI)
		if !ok {
			return nil, fmt.Errorf("%w: create_tables needs a client that can manage tables", dialect.ErrInvalidConfiguration)
		}
		var schema dynamo.Schema
		if s.schema != nil {
			schema = *s.schema
		}
		if err := dynamo.CreateTables(ctx, schemaAPI, dcfg, schema); err != nil {
			return nil, dialect.Connection(fmt.Errorf("create tables: %w", err))
		}
	}

	if s.registry != nil {
		return dynamo.NewWithRegistry(api, dcfg, s.registry), nil
	}
	return dynamo.New(api, dcfg), nil
}

// NewDynamoDBClient builds a client from the AWS default configuration.
// With an endpoint (DynamoDB Local), static dummy credentials are used.
func NewDynamoDBClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	if endpoint != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", ""),
		))
		if region == "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion("us-east-1"))
		}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// Close releases the backend clients.
func (ds *Datastore) Close() error {
	var errs []error
	for i := len(ds.closers) - 1; i >= 0; i-- {
		errs = append(errs, ds.closers[i]())
	}
	ds.closers = nil
	return errors.Join(errs...)
}
