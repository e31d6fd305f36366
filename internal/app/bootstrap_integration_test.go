package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfsearch/internal/app"
	"pdfsearch/internal/config"
	"pdfsearch/internal/testutils"
)

func TestBootstrap_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	suite := testutils.NewIntegrationSuite(t)
	suite.Setup()
	defer suite.Teardown()

	deps, err := app.Bootstrap(context.Background(), suite.AppConfig())
	require.NoError(t, err)
	defer deps.Close()
	assert.NotNil(t, deps.DB)

	for _, table := range []string{"documents", "settings", "failed_jobs"} {
		var exists bool
		err = deps.DB.QueryRow("SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)", table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	assert.NoError(t, deps.VectorStore.EnsureSchema(context.Background()), "weaviate connectivity check failed")
	assert.NoError(t, deps.NSQProducer.Ping())
}

func TestBootstrap_Integration_PgvectorAndMongo(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	suite := testutils.NewIntegrationSuite(t)
	suite.StartPostgres()
	suite.StartNSQ()
	suite.StartMongo()
	defer suite.Teardown()

	cfg := suite.AppConfig()
	cfg.VectorBackend = config.VectorBackendPgvector
	cfg.MetadataBackend = config.MetadataBackendMongo

	deps, err := app.Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	defer deps.Close()

	n, err := deps.Documents.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	records, err := deps.VectorStore.CountRecords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, records)
}
