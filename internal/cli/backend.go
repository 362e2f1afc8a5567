package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/innkeeper/bookings"
	"github.com/jacentio/innkeeper/dynamostore"
	"github.com/jacentio/innkeeper/sqlstore"
	"github.com/jacentio/innkeeper/store"
)

// env is an opened backend with the booking model over it.
type env struct {
	store  *store.Store
	reg    *store.Registry
	opts   bookings.Options
	sql    *sqlstore.DB
	dynamo *dynamostore.DB
}

func (e *env) Close() error {
	if e.sql != nil {
		return e.sql.Close()
	}
	return nil
}

func dialect(backend string) (sqlstore.Dialect, error) {
	switch backend {
	case BackendSQLite:
		return sqlstore.SQLite(), nil
	case BackendPostgres:
		return sqlstore.Postgres(), nil
	}
	return nil, fmt.Errorf("%s has no SQL dialect", backend)
}

func open(ctx context.Context, cfg Config, log *slog.Logger) (*env, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	reg, err := bookings.NewRegistry(opts)
	if err != nil {
		return nil, err
	}
	e := &env{reg: reg, opts: opts}

	var backend store.Backend
	switch cfg.Backend {
	case BackendDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		})
		e.dynamo = dynamostore.New(client, dynamostore.Config{
			TablePrefix: cfg.TablePrefix,
			Streams:     cfg.Streams,
			Logger:      log,
		})
		backend = e.dynamo
	default:
		d, err := dialect(cfg.Backend)
		if err != nil {
			return nil, err
		}
		dsn := cfg.DSN
		if cfg.Backend == BackendSQLite {
			dsn = sqlstore.SQLiteDSN(dsn)
		}
		e.sql, err = sqlstore.Open(ctx, dsn, sqlstore.Config{Dialect: d, Logger: log})
		if err != nil {
			return nil, err
		}
		backend = e.sql
	}

	e.store, err = store.New(backend, reg, store.Config{Logger: log})
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

// provision creates the schema and loads the reference data.
func (e *env) provision(ctx context.Context) (int, error) {
	var err error
	if e.dynamo != nil {
		err = dynamostore.Provision(ctx, e.dynamo, e.reg)
	} else {
		err = bookings.Provision(ctx, e.sql, e.reg, e.opts)
	}
	if err != nil {
		return 0, err
	}
	seeds, err := bookings.Seeds(e.reg)
	if err != nil {
		return 0, err
	}
	return e.store.Seed(ctx, seeds...)
}
