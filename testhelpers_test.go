//go:build integration

package main_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/rightside-club/service-discount/internal/adapter"
	"github.com/rightside-club/service-discount/internal/application"
	"github.com/rightside-club/service-discount/internal/events"
	"github.com/rightside-club/service-discount/internal/pkg/kafka"
	"github.com/rightside-club/service-discount/internal/repository"
	"github.com/rightside-club/service-discount/internal/scheduler"
)

// testInfra holds shared test infrastructure.
type testInfra struct {
	DB           *gorm.DB
	KafkaBrokers []string
	Cleanup      func()
}

// discountStack holds wired-up discount service components backed by the
// mock billing adapter.
type discountStack struct {
	Billing         *adapter.MockBillingAdapter
	Scheduler       *scheduler.DiscountScheduler
	Discounts       *application.DiscountService
	Access          *application.AccessService
	JobRepo         *repository.GormJobRepository
	AccessRepo      *repository.GormAccessRepository
	CleanupProducer func()
}

// setupContainers starts PostgreSQL and Kafka testcontainers and returns a
// connected GORM DB.
func setupContainers(t *testing.T) *testInfra {
	t.Helper()
	ctx := context.Background()

	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test_discount",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: pgReq,
		Started:          true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")

	pgHost, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("host=%s port=%s user=test password=test dbname=test_discount sslmode=disable", pgHost, pgPort.Port())

	// Poll until GORM can actually connect and ping.
	var db *gorm.DB
	require.Eventually(t, func() bool {
		var err error
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			return false
		}
		sqlDB, err := db.DB()
		if err != nil {
			return false
		}
		return sqlDB.Ping() == nil
	}, 30*time.Second, 1*time.Second, "PostgreSQL not ready for connections")

	require.NoError(t, db.AutoMigrate(
		&repository.JobModel{},
		&repository.PrincipalModel{},
		&repository.InviteModel{},
	))

	// Start Kafka container using confluent-local (supports KRaft natively).
	kafkaContainer, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err, "failed to start Kafka container")

	kafkaBrokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err, "failed to get Kafka brokers")

	createTopics(t, kafkaBrokers, events.TopicDiscountEvents)

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Kafka container: %v", err)
		}
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate PostgreSQL container: %v", err)
		}
	}

	return &testInfra{
		DB:           db,
		KafkaBrokers: kafkaBrokers,
		Cleanup:      cleanup,
	}
}

// setupDiscountStack wires up the full discount service stack against the
// mock billing adapter and a short tick interval.
func setupDiscountStack(t *testing.T, db *gorm.DB, brokers []string) *discountStack {
	t.Helper()
	logger, _ := zap.NewDevelopment()

	jobRepo := repository.NewGormJobRepository(db)
	accessRepo := repository.NewGormAccessRepository(db)
	billing := adapter.NewMockBillingAdapter(logger)
	producer := kafka.NewProducer(brokers, logger)

	sched := scheduler.New(jobRepo, billing, producer, nil, logger, time.Second)
	discounts := application.NewDiscountService(sched, jobRepo, billing, logger)
	accessSvc := application.NewAccessService(accessRepo, producer, logger)

	return &discountStack{
		Billing:         billing,
		Scheduler:       sched,
		Discounts:       discounts,
		Access:          accessSvc,
		JobRepo:         jobRepo,
		AccessRepo:      accessRepo,
		CleanupProducer: func() { _ = producer.Close() },
	}
}

// seedBillingClient registers a client in the mock billing adapter and
// returns its uuid.
func seedBillingClient(t *testing.T, billing *adapter.MockBillingAdapter, discount int) string {
	t.Helper()
	clientUUID := uuid.New().String()
	billing.AddClient(adapter.Client{
		ID:           1,
		UUID:         clientUUID,
		Nickname:     "player-" + clientUUID[:8],
		Phone:        "79001234567",
		UserDiscount: discount,
	})
	return clientUUID
}

// waitForJobStatus polls the discount_jobs table until the status matches.
func waitForJobStatus(t *testing.T, db *gorm.DB, jobID int64, expected string, timeout time.Duration) repository.JobModel {
	t.Helper()
	var result repository.JobModel
	require.Eventually(t, func() bool {
		var model repository.JobModel
		if err := db.Where("id = ?", jobID).First(&model).Error; err != nil {
			return false
		}
		if model.Status == expected {
			result = model
			return true
		}
		return false
	}, timeout, 200*time.Millisecond, "job did not transition to %s", expected)
	return result
}

// consumeOneEvent reads from a Kafka topic until it finds an event of the
// expected type.
func consumeOneEvent(t *testing.T, brokers []string, topic, expectedType string, timeout time.Duration) kafka.CloudEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	groupID := fmt.Sprintf("test-assert-%s", uuid.New().String()[:8])
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafkago.FirstOffset,
	})
	defer func() { _ = reader.Close() }()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				t.Fatalf("timed out waiting for event type %q on topic %q", expectedType, topic)
			}
			continue
		}
		ce, err := kafka.ParseCloudEvent(msg.Value)
		if err != nil {
			continue
		}
		if ce.Type == expectedType {
			return ce
		}
	}
}

// createTopics pre-creates Kafka topics so producers don't fail with
// "Unknown Topic".
func createTopics(t *testing.T, brokers []string, topics ...string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", brokers[0])
	require.NoError(t, err, "failed to dial Kafka for topic creation")
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err, "failed to get Kafka controller")

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, fmt.Sprintf("%d", controller.Port)))
	require.NoError(t, err, "failed to connect to Kafka controller")
	defer controllerConn.Close()

	topicConfigs := make([]kafkago.TopicConfig, len(topics))
	for i, topic := range topics {
		topicConfigs[i] = kafkago.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
	}
	err = controllerConn.CreateTopics(topicConfigs...)
	require.NoError(t, err, "failed to create Kafka topics")

	// Give Kafka a moment to propagate topic metadata.
	time.Sleep(1 * time.Second)
}
