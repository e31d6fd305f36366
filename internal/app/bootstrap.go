package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pdfsearch/features/document"
	"pdfsearch/internal/adapter/memory"
	"pdfsearch/internal/adapter/pgvector"
	wstore "pdfsearch/internal/adapter/weaviate"
	"pdfsearch/internal/config"
	"pdfsearch/internal/vector"
)

type Dependencies struct {
	DB          *sql.DB
	Documents   document.Repository
	VectorStore vector.Index
	NSQProducer *nsq.Producer

	closers []func()
}

// Close releases every connection opened by Bootstrap.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	deps := &Dependencies{}
	ok := false
	defer func() {
		if !ok {
			deps.Close()
		}
	}()

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	deps.DB = db
	deps.closers = append(deps.closers, func() { db.Close() })

	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	if err := pingWithRetry(ctx, db, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	if err := migrateUp(db, cfg.MigrationPath); err != nil {
		return nil, err
	}

	store, closeStore, err := openVectorStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	deps.VectorStore = store
	if closeStore != nil {
		deps.closers = append(deps.closers, closeStore)
	}
	if err := EnsureSchemaWithRetry(ctx, store, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		return nil, fmt.Errorf("vector schema error: %w", err)
	}

	docs, err := openDocumentRepo(ctx, cfg, db, deps)
	if err != nil {
		return nil, err
	}
	deps.Documents = docs

	producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer error: %w", err)
	}
	deps.NSQProducer = producer
	deps.closers = append(deps.closers, producer.Stop)

	if cfg.NSQDHTTP != "" {
		if err := createTopic(ctx, cfg.NSQDHTTP, config.TopicIngestFile, config.ChannelIngest); err != nil {
			// nsqd also creates the topic on first publish
			slog.Warn("failed to pre-create NSQ topic", "topic", config.TopicIngestFile, "error", err)
		}
	}

	ok = true
	return deps, nil
}

func openVectorStore(ctx context.Context, cfg *config.Config) (vector.Index, func(), error) {
	switch cfg.VectorBackend {
	case config.VectorBackendPgvector:
		s, err := pgvector.NewStore(ctx, cfg.PgvectorDSN, cfg.EmbeddingDimension)
		if err != nil {
			return nil, nil, fmt.Errorf("pgvector store error: %w", err)
		}
		return s, s.Close, nil
	case config.VectorBackendMemory:
		slog.Warn("using in-memory vector index; vectors are lost on restart")
		return memory.NewStore(cfg.EmbeddingDimension), nil, nil
	default:
		client, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		if err != nil {
			return nil, nil, fmt.Errorf("weaviate client error: %w", err)
		}
		return wstore.NewStore(client), nil, nil
	}
}

func openDocumentRepo(ctx context.Context, cfg *config.Config, db *sql.DB, deps *Dependencies) (document.Repository, error) {
	if cfg.MetadataBackend != config.MetadataBackendMongo {
		return document.NewPostgresRepo(db), nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect error: %w", err)
	}
	deps.closers = append(deps.closers, func() {
		if err := client.Disconnect(context.Background()); err != nil {
			slog.Warn("mongo disconnect failed", "error", err)
		}
	})
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongo ping error: %w", err)
	}

	repo := document.NewMongoRepo(client.Database(cfg.MongoDB))
	if err := repo.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("mongo index error: %w", err)
	}
	return repo, nil
}

func pingWithRetry(ctx context.Context, db *sql.DB, attempts int, delay time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1, "error", err)
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}

func migrateUp(db *sql.DB, source string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up error: %w", err)
	}
	version, dirty, _ := m.Version()
	slog.Info("database migrated", "version", version, "dirty", dirty)
	return nil
}

// createTopic registers the ingestion topic and its consumer channel on
// nsqd so tasks published before the worker connects are retained.
func createTopic(ctx context.Context, nsqdHTTP, topic, channel string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	for _, path := range []string{
		"/topic/create?topic=" + url.QueryEscape(topic),
		"/channel/create?topic=" + url.QueryEscape(topic) + "&channel=" + url.QueryEscape(channel),
	} {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+nsqdHTTP+path, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: nsqd answered %s", path, resp.Status)
		}
	}
	return nil
}

type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

// EnsureSchemaWithRetry retries store.EnsureSchema while the index starts up.
func EnsureSchemaWithRetry(ctx context.Context, store SchemaEnsurer, attempts int, delay time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = store.EnsureSchema(ctx); err == nil {
			return nil
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}
