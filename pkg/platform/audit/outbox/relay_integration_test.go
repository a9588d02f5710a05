//go:build integration

package outbox_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"nexus/internal/platform/config"
	"nexus/internal/platform/kafka"
	id "nexus/pkg/domain"
	"nexus/pkg/platform/audit"
	"nexus/pkg/platform/audit/outbox"
	auditpostgres "nexus/pkg/platform/audit/store/postgres"
	txcontext "nexus/pkg/platform/tx"
	"nexus/pkg/testutil/containers"
)

type RelaySuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	brokers  []string
	logger   *slog.Logger
}

func TestRelaySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupSuite() {
	m := containers.GetManager()
	s.postgres = m.GetPostgres(s.T())
	s.brokers = m.GetRedpanda(s.T()).Brokers
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *RelaySuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "outbox"))
}

func (s *RelaySuite) TestPublishesCommittedEventsOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	topic := "nexus.audit.test." + uuid.NewString()
	producer, err := kafka.NewProducer(ctx, config.KafkaConfig{
		Brokers:           s.brokers,
		AuditTopic:        topic,
		Partitions:        1,
		ReplicationFactor: 1,
	}, s.logger)
	s.Require().NoError(err)
	defer producer.Close()

	runner := txcontext.NewSQLRunner(s.postgres.DB)
	store := auditpostgres.New(s.postgres.DB)
	subject := uuid.NewString()
	tenant := id.TenantID(uuid.New())

	s.Require().NoError(runner.RunInTx(ctx, func(txCtx context.Context) error {
		for _, action := range []audit.AuditEvent{audit.EventTransferCreated, audit.EventTransferAccepted} {
			if err := store.Append(txCtx, audit.Event{
				Timestamp: time.Now().UTC(),
				TenantID:  tenant,
				Subject:   subject,
				Action:    string(action),
				ActorID:   uuid.NewString(),
			}); err != nil {
				return err
			}
		}
		return nil
	}))

	relay := outbox.NewRelay(outbox.NewStore(s.postgres.DB), producer, runner,
		outbox.WithBatchSize(10),
		outbox.WithLogger(s.logger),
	)
	n, err := relay.RelayOnce(ctx)
	s.Require().NoError(err)
	s.Equal(2, n)

	n, err = relay.RelayOnce(ctx)
	s.Require().NoError(err)
	s.Zero(n, "published rows are not relayed again")

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	var actions []string
	for len(actions) < 2 {
		fetches := consumer.PollFetches(ctx)
		s.Require().NoError(ctx.Err(), "timed out waiting for records")
		fetches.EachRecord(func(rec *kgo.Record) {
			s.Equal(subject, string(rec.Key))
			var payload auditpostgres.Payload
			s.Require().NoError(json.Unmarshal(rec.Value, &payload))
			s.Equal(tenant.String(), payload.TenantID)
			actions = append(actions, payload.Action)
		})
	}
	s.Equal([]string{string(audit.EventTransferCreated), string(audit.EventTransferAccepted)}, actions)
}
