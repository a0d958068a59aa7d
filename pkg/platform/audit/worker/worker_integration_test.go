//go:build integration

package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	id "docflow/pkg/domain"
	"docflow/pkg/platform/audit"
	"docflow/pkg/platform/audit/publisher"
	auditpostgres "docflow/pkg/platform/audit/store/postgres"
	"docflow/pkg/testutil/containers"
)

type WorkerSuite struct {
	suite.Suite
	postgres  *containers.PostgresContainer
	redpanda  *containers.RedpandaContainer
	store     *auditpostgres.Store
	publisher *publisher.Publisher
	worker    *Worker
}

func TestWorkerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(WorkerSuite))
}

func (s *WorkerSuite) SetupSuite() {
	ctx := context.Background()

	s.postgres = containers.NewPostgresContainer(s.T())
	s.redpanda = containers.NewRedpandaContainer(s.T())
	s.store = auditpostgres.New(s.postgres.DB)

	pub, err := publisher.New(ctx, []string{s.redpanda.Broker})
	s.Require().NoError(err)
	s.publisher = pub

	s.worker = New(s.postgres.DB, pub, slog.New(slog.DiscardHandler))
}

func (s *WorkerSuite) TearDownSuite() {
	if s.publisher != nil {
		s.publisher.Close()
	}
}

func (s *WorkerSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "audit_outbox", "audit_entries")
	s.Require().NoError(err)
}

func (s *WorkerSuite) appendEntry(tenantID id.TenantID, targetID string) audit.Entry {
	entry := audit.Entry{
		ID:         id.NewString(),
		ActorID:    id.PrincipalID(id.New()),
		TenantID:   tenantID,
		TargetKind: audit.TargetPatient,
		TargetID:   targetID,
		Action:     audit.ActionCreate,
		CreatedAt:  time.Now(),
	}
	s.Require().NoError(s.store.Append(context.Background(), entry))
	return entry
}

func (s *WorkerSuite) pendingRows() int {
	var pending int
	err := s.postgres.DB.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM audit_outbox WHERE published_at IS NULL`).Scan(&pending)
	s.Require().NoError(err)
	return pending
}

// TestDrainPublishesAndMarksRows verifies one drain ships every pending row
// to the broker exactly once.
func (s *WorkerSuite) TestDrainPublishesAndMarksRows() {
	ctx := context.Background()
	tenantID := id.TenantID(id.New())

	first := s.appendEntry(tenantID, "patient-1")
	second := s.appendEntry(tenantID, "patient-2")
	s.Require().Equal(2, s.pendingRows())

	s.Require().NoError(s.worker.drainOnce(ctx))
	s.Equal(0, s.pendingRows(), "drained rows are marked published")

	records := s.consume(2)
	byKey := map[string]*kgo.Record{}
	for _, record := range records {
		byKey[string(record.Key)] = record
	}
	s.Require().Contains(byKey, first.ID)
	s.Require().Contains(byKey, second.ID)

	var payload struct {
		ID       string `json:"id"`
		TenantID string `json:"tenant_id"`
		TargetID string `json:"target_id"`
		Action   string `json:"action"`
	}
	s.Require().NoError(json.Unmarshal(byKey[first.ID].Value, &payload))
	s.Equal(first.ID, payload.ID)
	s.Equal(tenantID.String(), payload.TenantID)
	s.Equal("patient-1", payload.TargetID)
	s.Equal("CREATE", payload.Action)

	// Nothing left: a second drain claims no rows.
	published, err := s.worker.publishBatch(ctx)
	s.Require().NoError(err)
	s.Equal(0, published)
}

// TestEmptyOutboxIsQuiet verifies draining an empty outbox is a no-op.
func (s *WorkerSuite) TestEmptyOutboxIsQuiet() {
	s.Require().NoError(s.worker.drainOnce(context.Background()))
	s.Equal(0, s.pendingRows())
}

// consume reads n records from the audit topic from the earliest offset.
func (s *WorkerSuite) consume(n int) []*kgo.Record {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Broker),
		kgo.ConsumeTopics(publisher.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer client.Close()

	var out []*kgo.Record
	for len(out) < n {
		fetches := client.PollFetches(ctx)
		s.Require().NoError(fetches.Err())
		fetches.EachRecord(func(record *kgo.Record) {
			out = append(out, record)
		})
	}
	return out
}
