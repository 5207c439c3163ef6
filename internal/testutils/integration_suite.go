package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
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

	"citadex/internal/config"
)

const (
	testDBName   = "citadex_test"
	testDBUser   = "test"
	testDBPass   = "test"
	startTimeout = 60 * time.Second
)

// IntegrationSuite starts Postgres (with pgvector), Weaviate and nsqd in
// containers and applies the migrations. Callers skip it under testing.Short.
type IntegrationSuite struct {
	T        *testing.T
	DB       *sql.DB
	Weaviate *weaviate.Client
	NSQ      *nsq.Producer

	pg       *postgres.PostgresContainer
	weaviate testcontainers.Container
	nsqd     testcontainers.Container
}

func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	return &IntegrationSuite{T: t}
}

func (s *IntegrationSuite) Setup() {
	ctx := context.Background()
	s.startPostgres(ctx)
	s.startWeaviate(ctx)
	s.startNSQ(ctx)
}

// MigrationsURL is the file:// source of the repository's migrations.
func MigrationsURL() string {
	_, self, _, _ := runtime.Caller(0)
	return "file://" + filepath.Join(filepath.Dir(self), "..", "..", "migrations")
}

func (s *IntegrationSuite) startPostgres(ctx context.Context) {
	c, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase(testDBName),
		postgres.WithUsername(testDBUser),
		postgres.WithPassword(testDBPass),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(startTimeout)),
	)
	require.NoError(s.T, err)
	s.pg = c

	dsn := s.DSN()
	s.DB, err = sql.Open("postgres", dsn)
	require.NoError(s.T, err)

	m, err := migrate.New(MigrationsURL(), dsn)
	require.NoError(s.T, err)
	require.NoError(s.T, m.Up())
}

func (s *IntegrationSuite) startWeaviate(ctx context.Context) {
	s.weaviate = s.run(ctx, testcontainers.ContainerRequest{
		Image:        "semitechnologies/weaviate:1.27.0",
		ExposedPorts: []string{"8080/tcp", "50051/tcp"},
		Env: map[string]string{
			"AUTHENTICATION_ANONYMOUS_ACCESS_ENABLED": "true",
			"DEFAULT_VECTORIZER_MODULE":                 "none",
			"PERSISTENCE_DATA_PATH":                     "/var/lib/weaviate",
		},
		WaitingFor: wait.ForHTTP("/v1/meta").WithPort("8080/tcp").WithStartupTimeout(startTimeout),
	})

	var err error
	s.Weaviate, err = weaviate.NewClient(weaviate.Config{Host: s.endpoint(ctx, s.weaviate, "8080"), Scheme: "http"})
	require.NoError(s.T, err)
}

func (s *IntegrationSuite) startNSQ(ctx context.Context) {
	s.nsqd = s.run(ctx, testcontainers.ContainerRequest{
		Image:        "nsqio/nsq:v1.3.0",
		ExposedPorts: []string{"4150/tcp", "4151/tcp"},
		Cmd:          []string{"/nsqd", "--broadcast-address=localhost"},
		WaitingFor:   wait.ForLog("TCP: listening on").WithStartupTimeout(startTimeout),
	})

	var err error
	s.NSQ, err = nsq.NewProducer(s.endpoint(ctx, s.nsqd, "4150"), nsq.NewConfig())
	require.NoError(s.T, err)
}

func (s *IntegrationSuite) run(ctx context.Context, req testcontainers.ContainerRequest) testcontainers.Container {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(s.T, err, "start %s", req.Image)
	return c
}

// endpoint returns host:port for a container port as seen from the test.
func (s *IntegrationSuite) endpoint(ctx context.Context, c testcontainers.Container, port string) string {
	host, err := c.Host(ctx)
	require.NoError(s.T, err)
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	require.NoError(s.T, err)
	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

// DSN returns the connection string of the Postgres container.
func (s *IntegrationSuite) DSN() string {
	dsn, err := s.pg.ConnectionString(context.Background(), "sslmode=disable")
	require.NoError(s.T, err)
	return dsn
}

// GetAppConfig points a Config at the suite's containers.
func (s *IntegrationSuite) GetAppConfig() *config.Config {
	ctx := context.Background()

	pgHost, err := s.pg.Host(ctx)
	require.NoError(s.T, err)
	pgPort, err := s.pg.MappedPort(ctx, "5432")
	require.NoError(s.T, err)

	return &config.Config{
		DBHost:                     pgHost,
		DBPort:                     pgPort.Int(),
		DBUser:                     testDBUser,
		DBPass:                     testDBPass,
		DBName:                     testDBName,
		MigrationPath:              MigrationsURL(),
		VectorBackend:              config.BackendWeaviate,
		WeaviateHost:               s.endpoint(ctx, s.weaviate, "8080"),
		WeaviateScheme:             "http",
		NSQDHost:                   s.endpoint(ctx, s.nsqd, "4150"),
		NSQDHTTP:                   s.endpoint(ctx, s.nsqd, "4151"),
		EmbeddingDim:               256,
		BootstrapRetryAttempts:     5,
		BootstrapRetryDelaySeconds: 1,
	}
}

func (s *IntegrationSuite) Teardown() {
	ctx := context.Background()
	if s.DB != nil {
		s.DB.Close()
	}
	if s.NSQ != nil {
		s.NSQ.Stop()
	}
	containers := []testcontainers.Container{s.weaviate, s.nsqd}
	if s.pg != nil {
		containers = append(containers, s.pg)
	}
	for _, c := range containers {
		if c != nil {
			if err := c.Terminate(ctx); err != nil {
				s.T.Logf("terminate container: %v", err)
			}
		}
	}
}
