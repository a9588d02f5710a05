package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"nexus/internal/notify"
	"nexus/internal/records"
	tenantservice "nexus/internal/tenant/service"
	tenantseed "nexus/internal/tenant/store"
	tenantstore "nexus/internal/tenant/store/tenant"
	"nexus/internal/transfer/describer"
	"nexus/internal/transfer/executor"
	"nexus/internal/transfer/models"
	transferstore "nexus/internal/transfer/store"
	id "nexus/pkg/domain"
	dErrors "nexus/pkg/domain-errors"
	"nexus/pkg/platform/audit"
	auditpublisher "nexus/pkg/platform/audit/publisher"
	auditmemory "nexus/pkg/platform/audit/store/memory"
	txcontext "nexus/pkg/platform/tx"
	"nexus/pkg/requestcontext"
)

// WorkflowSuite runs the coordinator against the in-memory store, executor,
// directory and audit log.
type WorkflowSuite struct {
	suite.Suite
	ctx      context.Context
	now      time.Time
	records  *records.InMemory
	requests *transferstore.InMemory
	auditLog *auditmemory.InMemoryStore
	bus      *notify.LocalBus
	runner   *txcontext.ShardedRunner
	registry *describer.Registry
	tenants  *tenantservice.Service
	logger   *slog.Logger
	service  *Service

	t1, t2    id.TenantID
	alice     id.ActorID // T1
	bob, carl id.ActorID // T2
}

func TestWorkflowSuite(t *testing.T) {
	suite.Run(t, new(WorkflowSuite))
}

func (s *WorkflowSuite) SetupTest() {
	s.now = time.Date(2026, 5, 11, 8, 30, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.alice = id.ActorID(uuid.New())
	s.bob = id.ActorID(uuid.New())
	s.carl = id.ActorID(uuid.New())

	dir := tenantstore.NewInMemory()
	t1, err := tenantseed.SeedTenant(s.ctx, dir, "North Ward", s.now, s.alice)
	s.Require().NoError(err)
	t2, err := tenantseed.SeedTenant(s.ctx, dir, "Harbor", s.now, s.bob, s.carl)
	s.Require().NoError(err)
	s.t1, s.t2 = t1.ID, t2.ID
	s.tenants, err = tenantservice.New(dir)
	s.Require().NoError(err)

	s.records = records.NewInMemory()
	s.Require().NoError(s.records.Put(s.ctx, records.KindResident, records.Record{ID: "r1", TenantID: s.t1, DisplayName: "Ann Lee"}))
	s.Require().NoError(s.records.Put(s.ctx, records.KindResident, records.Record{ID: "r2", TenantID: s.t1, DisplayName: "Bea Ortiz"}))

	s.registry = describer.NewRegistry()
	describer.RegisterRecords(s.registry, s.records)

	s.runner = txcontext.NewShardedRunner()
	s.requests = transferstore.NewInMemory()
	s.auditLog = auditmemory.NewInMemoryStore()
	s.bus = notify.NewLocalBus()
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.service = s.newService(executor.NewInMemory(s.records, s.runner))
}

func (s *WorkflowSuite) newService(exec Executor) *Service {
	svc, err := New(s.requests, exec, s.registry, s.tenants,
		WithLogger(s.logger),
		WithTxRunner(s.runner),
		WithAuditPublisher(auditpublisher.NewPublisher(s.auditLog)),
		WithNotifier(notify.NewPublisher(s.bus, notify.WithLogger(s.logger))),
	)
	s.Require().NoError(err)
	return svc
}

func (s *WorkflowSuite) create() *models.TransferRequest {
	req, err := s.service.CreateRequest(s.ctx, CreateRequestInput{
		Initiator:         s.alice,
		SourceTenant:      s.t1,
		DestinationTenant: s.t2,
		DataType:          models.DataTypeResident,
		ItemIDs:           []string{"r1", "r2"},
		Mode:              models.ModeBulk,
	})
	s.Require().NoError(err)
	return req
}

func (s *WorkflowSuite) owner(recordID string) id.TenantID {
	rec, err := s.records.Get(s.ctx, records.KindResident, recordID)
	s.Require().NoError(err)
	return rec.TenantID
}

func (s *WorkflowSuite) actions(requestID id.TransferID) []string {
	events, err := s.auditLog.ListBySubject(s.ctx, requestID.String())
	s.Require().NoError(err)
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Action)
	}
	return out
}

func (s *WorkflowSuite) TestCreateCapturesSnapshot() {
	req := s.create()
	s.Equal(models.StatusPending, req.Status)
	s.Equal([]models.DisplayItem{
		{ID: "r1", DisplayName: "Ann Lee"},
		{ID: "r2", DisplayName: "Bea Ortiz"},
	}, req.ItemSnapshot)

	// Later renames do not rewrite the snapshot.
	s.Require().NoError(s.records.Put(s.ctx, records.KindResident, records.Record{ID: "r1", TenantID: s.t1, DisplayName: "Ann Lee-Park"}))
	stored, err := s.requests.FindByID(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal("Ann Lee", stored.ItemSnapshot[0].DisplayName)
	s.Equal([]string{string(audit.EventTransferCreated)}, s.actions(req.ID))
}

func (s *WorkflowSuite) TestCreateRejectsEqualTenants() {
	_, err := s.service.CreateRequest(s.ctx, CreateRequestInput{
		Initiator:         s.alice,
		SourceTenant:      s.t1,
		DestinationTenant: s.t1,
		DataType:          models.DataTypeResident,
		ItemIDs:           []string{"r1"},
	})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	out, err := s.requests.ListOutgoing(s.ctx, s.t1)
	s.Require().NoError(err)
	s.Empty(out)
}

func (s *WorkflowSuite) TestConcurrentClaimsHaveOneWinner() {
	req := s.create()

	const callers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		reviewer := s.bob
		if i%2 == 1 {
			reviewer = s.carl
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := s.service.AssignReviewer(s.ctx, req.ID, reviewer)
			s.NoError(err)
			if claimed {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	stored, err := s.requests.FindByID(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Require().NotNil(stored.Reviewer)
	s.Equal(models.StatusPending, stored.Status)
}

func (s *WorkflowSuite) TestConcurrentResolutionCommitsOnce() {
	req := s.create()

	var committed, lost atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = s.service.Approve(s.ctx, req.ID, s.bob)
			} else {
				_, err = s.service.Reject(s.ctx, req.ID, s.carl, "")
			}
			switch {
			case err == nil:
				committed.Add(1)
			case dErrors.HasCode(err, dErrors.CodeRaceLost):
				lost.Add(1)
			default:
				s.Failf("unexpected error", "%v", err)
			}
		}(i)
	}
	wg.Wait()

	s.Equal(int32(1), committed.Load())
	s.Equal(int32(11), lost.Load())

	stored, err := s.requests.FindByID(s.ctx, req.ID)
	s.Require().NoError(err)
	s.True(stored.Status.IsTerminal())
	switch stored.Status {
	case models.StatusAccepted:
		s.Equal(s.t2, s.owner("r1"))
		s.Equal(s.t2, s.owner("r2"))
	case models.StatusRejected:
		s.Equal(s.t1, s.owner("r1"))
		s.Equal(s.t1, s.owner("r2"))
	}
}

// gatedExecutor holds the first Execute call until released and then fails
// it. Later calls go to next.
type gatedExecutor struct {
	next    Executor
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (e *gatedExecutor) Execute(ctx context.Context, dataType models.DataType, itemIDs []string, source, destination id.TenantID) error {
	if e.calls.Add(1) == 1 {
		close(e.entered)
		<-e.release
		return &models.PartialValidationError{ItemIDs: itemIDs[len(itemIDs)-1:]}
	}
	return e.next.Execute(ctx, dataType, itemIDs, source, destination)
}

func (s *WorkflowSuite) TestFailedApproveIsNeverObservedAndDoesNotBlockTheNextApprover() {
	req := s.create()
	gate := &gatedExecutor{
		next:    executor.NewInMemory(s.records, s.runner),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	svc := s.newService(gate)

	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Approve(s.ctx, req.ID, s.bob)
		firstErr <- err
	}()
	<-gate.entered

	detail, err := svc.GetRequest(s.ctx, s.bob, s.t2, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, detail.Status, "an approval in flight is not visible")
	incoming, err := svc.ListIncoming(s.ctx, s.bob, s.t2)
	s.Require().NoError(err)
	s.Require().Len(incoming, 1)
	s.Equal(models.StatusPending, incoming[0].Status)

	secondDone := make(chan error, 1)
	go func() {
		_, err := svc.Approve(s.ctx, req.ID, s.carl)
		secondDone <- err
	}()
	select {
	case err := <-secondDone:
		s.Failf("second approver finished while the first was open", "%v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate.release)
	s.True(dErrors.HasCode(<-firstErr, dErrors.CodePartialValidation))
	s.Require().NoError(<-secondDone, "the request was still Pending when the first approval rolled back")

	stored, err := s.requests.FindByID(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusAccepted, stored.Status)
	s.Equal(s.carl, *stored.Reviewer)
	s.Equal(s.t2, s.owner("r1"))
	s.Equal(s.t2, s.owner("r2"))
	s.ElementsMatch([]string{
		string(audit.EventTransferCreated),
		string(audit.EventTransferFailed),
		string(audit.EventTransferAccepted),
	}, s.actions(req.ID))
}

func (s *WorkflowSuite) TestTimelineKeepsClaimantApartFromResolver() {
	req := s.create()
	claimed, err := s.service.AssignReviewer(s.ctx, req.ID, s.bob)
	s.Require().NoError(err)
	s.Require().True(claimed)

	later := requestcontext.WithTime(context.Background(), s.now.Add(time.Hour))
	_, err = s.service.Reject(later, req.ID, s.carl, "belongs to another ward")
	s.Require().NoError(err)

	detail, err := s.service.GetRequest(s.ctx, s.alice, s.t1, req.ID)
	s.Require().NoError(err)
	s.Require().Len(detail.Timeline, 3)
	s.Equal(models.TimelineReviewed, detail.Timeline[1].Kind)
	s.Equal(s.bob, detail.Timeline[1].Actor)
	s.Equal(s.now, detail.Timeline[1].At)
	s.Equal(models.TimelineResolved, detail.Timeline[2].Kind)
	s.Equal(s.carl, detail.Timeline[2].Actor)
	s.Equal(s.now.Add(time.Hour), detail.Timeline[2].At)
	s.Equal(models.StatusRejected, detail.Timeline[2].Status)
}

func (s *WorkflowSuite) TestResolveWithoutClaimHasNoReviewedPoint() {
	req := s.create()
	_, err := s.service.Reject(s.ctx, req.ID, s.carl, "")
	s.Require().NoError(err)

	detail, err := s.service.GetRequest(s.ctx, s.carl, s.t2, req.ID)
	s.Require().NoError(err)
	s.Require().Len(detail.Timeline, 2)
	s.Equal(models.TimelineCreated, detail.Timeline[0].Kind)
	s.Equal(models.TimelineResolved, detail.Timeline[1].Kind)
	s.Nil(detail.ReviewedAt)
}

func (s *WorkflowSuite) TestApproveWithDeletedItemLeavesEverythingUntouched() {
	req := s.create()
	s.Require().NoError(s.records.Delete(s.ctx, records.KindResident, "r2"))

	_, err := s.service.Approve(s.ctx, req.ID, s.bob)
	s.True(dErrors.HasCode(err, dErrors.CodePartialValidation))
	var pv *models.PartialValidationError
	s.Require().ErrorAs(err, &pv)
	s.Equal([]string{"r2"}, pv.ItemIDs)

	stored, err := s.requests.FindByID(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, stored.Status)
	s.Nil(stored.ResolvedAt)
	s.Equal(s.t1, s.owner("r1"))

	s.Equal([]string{
		string(audit.EventTransferCreated),
		string(audit.EventTransferFailed),
	}, s.actions(req.ID))
}

func (s *WorkflowSuite) TestApproveMovesEveryItem() {
	req := s.create()
	claimed, err := s.service.AssignReviewer(s.ctx, req.ID, s.carl)
	s.Require().NoError(err)
	s.Require().True(claimed)

	out, err := s.service.Approve(s.ctx, req.ID, s.bob)
	s.Require().NoError(err)
	s.Equal(models.StatusAccepted, out.Status)
	s.Require().NotNil(out.ResolvedAt)
	s.Equal(s.t2, s.owner("r1"))
	s.Equal(s.t2, s.owner("r2"))

	timeline := out.Timeline()
	s.Require().Len(timeline, 3)
	s.Equal(s.alice, timeline[0].Actor)
	s.Equal(s.carl, timeline[1].Actor, "the claim stays credited to the claimant")
	s.Equal(models.TimelineResolved, timeline[2].Kind)
	s.Equal(s.bob, timeline[2].Actor)

	s.Equal([]string{
		string(audit.EventTransferCreated),
		string(audit.EventTransferReviewerAssigned),
		string(audit.EventTransferAccepted),
	}, s.actions(req.ID))

	s.Run("second approve is refused", func() {
		_, err := s.service.Approve(s.ctx, req.ID, s.carl)
		s.True(dErrors.HasCode(err, dErrors.CodeRaceLost))
		s.Equal(s.t2, s.owner("r1"))
	})

	s.Run("source falls back to the snapshot once items moved", func() {
		detail, err := s.service.GetRequest(s.ctx, s.alice, s.t1, req.ID)
		s.Require().NoError(err)
		s.Equal("Ann Lee", detail.Items[0].DisplayName)
		s.Equal("Harbor", detail.Destination.Name)
	})
}

func (s *WorkflowSuite) TestRejectLeavesItemsAlone() {
	req := s.create()

	out, err := s.service.Reject(s.ctx, req.ID, s.carl, "not ours")
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, out.Status)
	s.Require().NotNil(out.Reviewer)
	s.Equal(s.carl, *out.Reviewer)
	s.Equal(s.t1, s.owner("r1"))
	s.Equal(s.t1, s.owner("r2"))

	_, err = s.service.Approve(s.ctx, req.ID, s.bob)
	s.True(dErrors.HasCode(err, dErrors.CodeRaceLost))
	s.Equal(s.t1, s.owner("r1"))
}

func (s *WorkflowSuite) TestSourceMembersCannotResolve() {
	req := s.create()
	_, err := s.service.Approve(s.ctx, req.ID, s.alice)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	_, err = s.service.Reject(s.ctx, req.ID, s.alice, "")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *WorkflowSuite) TestListsAreTenantScoped() {
	req := s.create()

	incoming, err := s.service.ListIncoming(s.ctx, s.bob, s.t2)
	s.Require().NoError(err)
	s.Require().Len(incoming, 1)
	s.Equal(req.ID, incoming[0].ID)
	s.Equal("North Ward", incoming[0].Source.Name)

	outgoing, err := s.service.ListOutgoing(s.ctx, s.alice, s.t1)
	s.Require().NoError(err)
	s.Len(outgoing, 1)

	empty, err := s.service.ListIncoming(s.ctx, s.alice, s.t1)
	s.Require().NoError(err)
	s.Empty(empty)

	_, err = s.service.ListIncoming(s.ctx, s.alice, s.t2)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *WorkflowSuite) TestBothTenantsAreSignalled() {
	sub1, err := s.bus.Subscribe(s.ctx, s.t1)
	s.Require().NoError(err)
	defer sub1.Close()
	sub2, err := s.bus.Subscribe(s.ctx, s.t2)
	s.Require().NoError(err)
	defer sub2.Close()

	req := s.create()
	for _, sub := range []*notify.Subscription{sub1, sub2} {
		select {
		case sig := <-sub.Signals():
			s.Equal(req.ID, sig.RequestID)
			s.Equal(notify.ReasonCreated, sig.Reason)
		case <-time.After(time.Second):
			s.Fail("expected a signal", "tenant %s", sub.Tenant())
		}
	}
}
