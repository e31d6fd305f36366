// Package testutils starts the backing services of pdfsearch in containers
// for integration tests.
package testutils

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"pdfsearch/internal/config"
)

const startupTimeout = 60 * time.Second

// IntegrationSuite starts the containers the backend talks to. The Postgres
// image ships the pgvector extension so the same database serves metadata
// and the pgvector index.
type IntegrationSuite struct {
	T        *testing.T
	DB       *sql.DB
	DSN      string
	Weaviate *weaviate.Client
	NSQ      *nsq.Producer
	NSQAddr  string
	MongoURI string

	pgHost       string
	pgPort       int
	weaviateHost string
	nsqHTTPAddr  string

	// released in reverse order by Teardown
	cleanups []func(context.Context) error
}

func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	return &IntegrationSuite{T: t}
}

// Setup starts Postgres, Weaviate and NSQ. Mongo is opt-in via StartMongo.
func (s *IntegrationSuite) Setup() {
	s.StartPostgres()
	s.StartWeaviate()
	s.StartNSQ()
}

func (s *IntegrationSuite) onTeardown(fn func(context.Context) error) {
	s.cleanups = append(s.cleanups, fn)
}

// MigrationURL is the file:// source of the repository's migrations.
func MigrationURL() string {
	_, self, _, _ := runtime.Caller(0)
	return "file://" + filepath.Join(filepath.Dir(self), "..", "..", "migrations")
}

func (s *IntegrationSuite) StartPostgres() {
	ctx := context.Background()

	pg, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("pdfsearch_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(startupTimeout)),
	)
	require.NoError(s.T, err)
	s.onTeardown(func(ctx context.Context) error { return pg.Terminate(ctx) })

	s.DSN, err = pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T, err)
	endpoint, err := pg.PortEndpoint(ctx, "5432/tcp", "")
	require.NoError(s.T, err)
	s.pgHost, s.pgPort = splitEndpoint(s.T, endpoint)

	s.DB, err = sql.Open("postgres", s.DSN)
	require.NoError(s.T, err)
	s.onTeardown(func(context.Context) error { return s.DB.Close() })

	m, err := migrate.New(MigrationURL(), s.DSN)
	require.NoError(s.T, err)
	require.NoError(s.T, m.Up())
}

// startGeneric runs req and returns host:port for each of ports.
func (s *IntegrationSuite) startGeneric(req testcontainers.ContainerRequest, ports ...string) []string {
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.onTeardown(func(ctx context.Context) error { return c.Terminate(ctx) })

	addrs := make([]string, len(ports))
	for i, p := range ports {
		addrs[i], err = c.PortEndpoint(ctx, nat.Port(p), "")
		require.NoError(s.T, err, "resolve %s port %s", req.Image, p)
	}
	return addrs
}

func (s *IntegrationSuite) StartWeaviate() {
	addrs := s.startGeneric(testcontainers.ContainerRequest{
		Image:        "semitechnologies/weaviate:1.25.0",
		ExposedPorts: []string{"8080/tcp", "50051/tcp"},
		Env: map[string]string{
			"AUTHENTICATION_ANONYMOUS_ACCESS_ENABLED": "true",
			"DEFAULT_VECTORIZER_MODULE":               "none",
			"PERSISTENCE_DATA_PATH":                   "/var/lib/weaviate",
		},
		WaitingFor: wait.ForHTTP("/v1/meta").WithPort("8080/tcp").WithStartupTimeout(startupTimeout),
	}, "8080/tcp")

	s.weaviateHost = addrs[0]
	var err error
	s.Weaviate, err = weaviate.NewClient(weaviate.Config{Host: s.weaviateHost, Scheme: "http"})
	require.NoError(s.T, err)
}

func (s *IntegrationSuite) StartNSQ() {
	addrs := s.startGeneric(testcontainers.ContainerRequest{
		Image:        "nsqio/nsq:v1.3.0",
		ExposedPorts: []string{"4150/tcp", "4151/tcp"},
		Cmd:          []string{"/nsqd", "--broadcast-address=localhost"},
		WaitingFor:   wait.ForLog("TCP: listening on").WithStartupTimeout(startupTimeout),
	}, "4150/tcp", "4151/tcp")

	s.NSQAddr, s.nsqHTTPAddr = addrs[0], addrs[1]
	var err error
	s.NSQ, err = nsq.NewProducer(s.NSQAddr, nsq.NewConfig())
	require.NoError(s.T, err)
	s.onTeardown(func(context.Context) error { s.NSQ.Stop(); return nil })
}

func (s *IntegrationSuite) StartMongo() {
	addrs := s.startGeneric(testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForLog("Waiting for connections").WithStartupTimeout(startupTimeout),
	}, "27017/tcp")

	s.MongoURI = "mongodb://" + addrs[0]
}

func splitEndpoint(t *testing.T, endpoint string) (string, int) {
	i := strings.LastIndex(endpoint, ":")
	require.True(t, i > 0, "endpoint %q has no port", endpoint)
	port, err := strconv.Atoi(endpoint[i+1:])
	require.NoError(t, err)
	return endpoint[:i], port
}

// AppConfig returns a configuration pointing at the started containers.
// Services that were not started keep their defaults; without Weaviate the
// in-memory vector index is used.
func (s *IntegrationSuite) AppConfig() *config.Config {
	dir := s.T.TempDir()
	cfg := &config.Config{
		DBHost:          s.pgHost,
		DBPort:          s.pgPort,
		DBUser:          "test",
		DBPass:          "test",
		DBName:          "pdfsearch_test",
		MetadataBackend: config.MetadataBackendPostgres,
		MongoURI:        s.MongoURI,
		MongoDB:         "pdf_app_test",
		MigrationPath:   MigrationURL(),

		VectorBackend:      config.VectorBackendWeaviate,
		WeaviateHost:       s.weaviateHost,
		WeaviateScheme:     "http",
		PgvectorDSN:        s.DSN,
		EmbeddingDimension: 2,

		NSQDHost: s.NSQAddr,
		NSQDHTTP: s.nsqHTTPAddr,

		EnableAPI: true,

		ChunkSize:            500,
		ChunkOverlap:         50,
		SearchTopK:           5,
		MaxContextTokens:     6000,
		EmbedConcurrency:     2,
		IngestionConcurrency: 2,

		ServerPort:      8081,
		LogLevel:        "debug",
		QueryLogPath:    filepath.Join(dir, "logs", "query.log"),
		MaxUploadSizeMB: 10,
		UploadDir:       filepath.Join(dir, "uploads"),
		TempDir:         filepath.Join(dir, "tmp"),

		BootstrapRetryAttempts:     3,
		BootstrapRetryDelaySeconds: 1,
	}
	if s.weaviateHost == "" {
		cfg.VectorBackend = config.VectorBackendMemory
	}
	return cfg
}

func (s *IntegrationSuite) Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func (s *IntegrationSuite) Teardown() {
	ctx := context.Background()
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		if err := s.cleanups[i](ctx); err != nil {
			s.T.Logf("teardown: %v", err)
		}
	}
	s.cleanups = nil
}
