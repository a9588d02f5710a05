// Package service is the transfer coordinator: the state machine that moves a
// transfer request from Pending to Accepted or Rejected.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nexus/internal/notify"
	transfermetrics "nexus/internal/transfer/metrics"
	"nexus/internal/transfer/models"
	id "nexus/pkg/domain"
	dErrors "nexus/pkg/domain-errors"
	"nexus/pkg/platform/audit"
	"nexus/pkg/platform/middleware/metadata"
	"nexus/pkg/platform/sentinel"
	txcontext "nexus/pkg/platform/tx"
	"nexus/pkg/requestcontext"
)

const tracerName = "nexus/internal/transfer/service"

// Service coordinates creation, claiming and resolution of transfer requests.
type Service struct {
	store      Store
	executor   Executor
	describers Describers
	tenants    TenantDirectory
	tx         txcontext.Runner

	auditPublisher AuditPublisher
	notifier       Notifier
	metrics        *transfermetrics.Metrics
	logger         *slog.Logger
	tracer         trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func WithMetrics(m *transfermetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTxRunner overrides the default in-memory runner. Use a SQLRunner when
// the store and executor are PostgreSQL-backed.
func WithTxRunner(runner txcontext.Runner) Option {
	return func(s *Service) {
		s.tx = runner
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

func New(store Store, executor Executor, describers Describers, tenants TenantDirectory, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("transfer store is required")
	}
	if executor == nil {
		return nil, errors.New("transfer executor is required")
	}
	if describers == nil {
		return nil, errors.New("describer registry is required")
	}
	if tenants == nil {
		return nil, errors.New("tenant directory is required")
	}
	s := &Service{
		store:      store,
		executor:   executor,
		describers: describers,
		tenants:    tenants,
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tx == nil {
		s.tx = txcontext.NewShardedRunner()
	}
	return s, nil
}

// CreateRequestInput is what an initiator submits.
type CreateRequestInput struct {
	Initiator         id.ActorID
	SourceTenant      id.TenantID
	DestinationTenant id.TenantID
	DataType          models.DataType
	ItemIDs           []string
	Mode              models.Mode
	Notes             string
}

// CreateRequest validates input, snapshots item names and persists a
// Pending request.
func (s *Service) CreateRequest(ctx context.Context, in CreateRequestInput) (*models.TransferRequest, error) {
	ctx, span := s.tracer.Start(ctx, "transfer.CreateRequest", trace.WithAttributes(
		attribute.String("transfer.data_type", string(in.DataType)),
		attribute.Int("transfer.item_count", len(in.ItemIDs)),
	))
	defer span.End()

	now := requestcontext.Now(ctx)
	req, err := models.NewTransferRequest(models.NewTransferRequestParams{
		SourceTenant:      in.SourceTenant,
		DestinationTenant: in.DestinationTenant,
		DataType:          in.DataType,
		ItemIDs:           in.ItemIDs,
		Mode:              in.Mode,
		Initiator:         in.Initiator,
		Notes:             in.Notes,
	}, now)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if !s.describers.Has(req.DataType) {
		return nil, s.fail(span, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown data type %q", req.DataType)))
	}
	if err := s.tenants.RequireMember(ctx, req.Initiator, req.SourceTenant); err != nil {
		return nil, s.fail(span, err)
	}
	if err := s.requireActiveDestination(ctx, req.DestinationTenant); err != nil {
		return nil, s.fail(span, err)
	}

	described, err := s.describers.Describe(ctx, req.DataType, req.SourceTenant, req.ItemIDs)
	if err != nil {
		s.logger.WarnContext(ctx, "item describer failed, snapshot falls back to unknown",
			"error", err,
			"data_type", string(req.DataType),
			"tenant_id", req.SourceTenant.String(),
		)
		described = nil
	}
	req.ItemSnapshot = models.BuildSnapshot(req.ItemIDs, described)

	err = s.tx.RunInTx(txcontext.WithShardKey(ctx, req.ID.String()), func(txCtx context.Context) error {
		if err := s.store.Create(txCtx, req); err != nil {
			return err
		}
		return s.emit(txCtx, audit.EventTransferCreated, req, req.Initiator, req.SourceTenant, "", map[string]string{
			"item_count": strconv.Itoa(len(req.ItemIDs)),
			"mode":       string(req.Mode),
		})
	})
	if err != nil {
		return nil, s.fail(span, s.translate(err, "failed to create transfer request"))
	}

	if s.metrics != nil {
		s.metrics.IncCreated(string(req.DataType))
	}
	s.logger.InfoContext(ctx, "transfer request created",
		"transfer_id", req.ID.String(),
		"actor_id", req.Initiator.String(),
		"source_tenant_id", req.SourceTenant.String(),
		"destination_tenant_id", req.DestinationTenant.String(),
		"data_type", string(req.DataType),
		"item_count", len(req.ItemIDs),
	)
	s.notify(ctx, req, notify.ReasonCreated)
	span.SetAttributes(attribute.String("transfer.id", req.ID.String()))
	return req, nil
}

// AssignReviewer records reviewer as the first claimant of a Pending request.
// Losing the claim, or claiming a resolved request, is a no-op reported as
// claimed=false with no error.
func (s *Service) AssignReviewer(ctx context.Context, requestID id.TransferID, reviewer id.ActorID) (bool, error) {
	ctx, span := s.startTransition(ctx, "transfer.AssignReviewer", requestID)
	defer span.End()

	req, err := s.load(ctx, requestID)
	if err != nil {
		return false, s.fail(span, err)
	}
	if err := s.tenants.RequireMember(ctx, reviewer, req.DestinationTenant); err != nil {
		return false, s.fail(span, err)
	}
	if !req.IsPending() {
		s.countClaim(false)
		return false, nil
	}

	now := requestcontext.Now(ctx)
	var claimed bool
	err = s.tx.RunInTx(txcontext.WithShardKey(ctx, requestID.String()), func(txCtx context.Context) error {
		applied, err := s.store.ConditionalUpdate(txCtx, requestID, models.PendingUnclaimed(), models.Claim(reviewer, now))
		if err != nil || !applied {
			return err
		}
		claimed = true
		models.Claim(reviewer, now).Apply(req)
		return s.emit(txCtx, audit.EventTransferReviewerAssigned, req, reviewer, req.DestinationTenant, "claimed", nil)
	})
	if err != nil {
		return false, s.fail(span, s.translate(err, "failed to assign reviewer"))
	}

	s.countClaim(claimed)
	span.SetAttributes(attribute.Bool("transfer.claimed", claimed))
	if claimed {
		s.logger.InfoContext(ctx, "transfer reviewer assigned",
			"transfer_id", requestID.String(),
			"actor_id", reviewer.String(),
		)
		s.notify(ctx, req, notify.ReasonClaimed)
	}
	return claimed, nil
}

// Reject moves a Pending request to Rejected. No record changes owner.
func (s *Service) Reject(ctx context.Context, requestID id.TransferID, actor id.ActorID, reason string) (*models.TransferRequest, error) {
	ctx, span := s.startTransition(ctx, "transfer.Reject", requestID)
	defer span.End()

	req, err := s.load(ctx, requestID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if err := s.tenants.RequireMember(ctx, actor, req.DestinationTenant); err != nil {
		return nil, s.fail(span, err)
	}

	now := requestcontext.Now(ctx)
	changes := models.Resolve(models.StatusRejected, actor, now)
	err = s.tx.RunInTx(txcontext.WithShardKey(ctx, requestID.String()), func(txCtx context.Context) error {
		applied, err := s.store.ConditionalUpdate(txCtx, requestID, models.PendingAny(), changes)
		if err != nil {
			return err
		}
		if !applied {
			return errRaceLost
		}
		changes.Apply(req)
		return s.emit(txCtx, audit.EventTransferRejected, req, actor, req.DestinationTenant, "rejected", map[string]string{
			"reason": strings.TrimSpace(reason),
		})
	})
	if err != nil {
		s.countTransition("reject", err)
		return nil, s.fail(span, s.translate(err, "failed to reject transfer request"))
	}

	s.countTransition("reject", nil)
	s.logger.InfoContext(ctx, "transfer request rejected",
		"transfer_id", requestID.String(),
		"actor_id", actor.String(),
	)
	s.notify(ctx, req, notify.ReasonRejected)
	return req, nil
}

// Approve is the single atomic accept call. The status change and the
// re-parenting of every referenced record commit together or not at all.
// A request that is no longer Pending fails with RaceLost and is never
// executed twice.
func (s *Service) Approve(ctx context.Context, requestID id.TransferID, actor id.ActorID) (*models.TransferRequest, error) {
	ctx, span := s.startTransition(ctx, "transfer.Approve", requestID)
	defer span.End()
	if s.metrics != nil {
		defer s.metrics.ObserveApprove(time.Now())
	}

	req, err := s.load(ctx, requestID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if err := s.tenants.RequireMember(ctx, actor, req.DestinationTenant); err != nil {
		return nil, s.fail(span, err)
	}

	now := requestcontext.Now(ctx)
	changes := models.Resolve(models.StatusAccepted, actor, now)
	err = s.tx.RunInTx(txcontext.WithShardKey(ctx, requestID.String()), func(txCtx context.Context) error {
		// The guarded update is the Pending check. It goes first so a
		// concurrent resolver waits on the request until this transaction
		// ends, and the loser never reaches the executor.
		applied, err := s.store.ConditionalUpdate(txCtx, requestID, models.PendingAny(), changes)
		if err != nil {
			return err
		}
		if !applied {
			return errRaceLost
		}
		if err := s.executor.Execute(txCtx, req.DataType, req.ItemIDs, req.SourceTenant, req.DestinationTenant); err != nil {
			return err
		}
		changes.Apply(req)
		return s.emit(txCtx, audit.EventTransferAccepted, req, actor, req.DestinationTenant, "accepted", map[string]string{
			"item_count": strconv.Itoa(len(req.ItemIDs)),
		})
	})
	if err != nil {
		s.countTransition("approve", err)
		translated := s.translate(err, "transfer failed")
		if !dErrors.HasCode(translated, dErrors.CodeRaceLost) {
			s.recordFailure(ctx, req, actor, translated)
		}
		return nil, s.fail(span, translated)
	}

	s.countTransition("approve", nil)
	if s.metrics != nil {
		s.metrics.AddItemsTransferred(string(req.DataType), len(req.ItemIDs))
	}
	s.logger.InfoContext(ctx, "transfer request accepted",
		"transfer_id", requestID.String(),
		"actor_id", actor.String(),
		"item_count", len(req.ItemIDs),
	)
	s.notify(ctx, req, notify.ReasonAccepted)
	return req, nil
}

var errRaceLost = dErrors.New(dErrors.CodeRaceLost, "transfer request was already resolved; refresh and retry")

func (s *Service) requireActiveDestination(ctx context.Context, tenantID id.TenantID) error {
	tenant, err := s.tenants.Resolve(ctx, tenantID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return dErrors.New(dErrors.CodeValidation, "destination tenant does not exist")
		}
		return err
	}
	if !tenant.IsActive() {
		return dErrors.New(dErrors.CodeValidation, "destination tenant is not active")
	}
	return nil
}

func (s *Service) load(ctx context.Context, requestID id.TransferID) (*models.TransferRequest, error) {
	if requestID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "transfer id required")
	}
	req, err := s.store.FindByID(ctx, requestID)
	if err != nil {
		return nil, s.translate(err, "failed to load transfer request")
	}
	return req, nil
}

// translate turns store, executor and runner errors into domain errors so
// nothing raw crosses the service boundary.
func (s *Service) translate(err error, msg string) error {
	var pv *models.PartialValidationError
	var de *dErrors.Error
	switch {
	case errors.As(err, &pv):
		return dErrors.Wrap(err, dErrors.CodePartialValidation, pv.Error())
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "transfer request not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "transfer request already exists")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transfer timed out")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

func (s *Service) emit(ctx context.Context, action audit.AuditEvent, req *models.TransferRequest, actor id.ActorID, tenant id.TenantID, decision string, extra map[string]string) error {
	if s.auditPublisher == nil {
		return nil
	}
	details := map[string]string{
		"source_tenant_id":      req.SourceTenant.String(),
		"destination_tenant_id": req.DestinationTenant.String(),
		"data_type":             string(req.DataType),
	}
	if ip := metadata.GetClientIP(ctx); ip != "" {
		details["client_ip"] = ip
	}
	for k, v := range extra {
		if v != "" {
			details[k] = v
		}
	}
	err := s.auditPublisher.Emit(ctx, audit.Event{
		Timestamp: requestcontext.Now(ctx),
		TenantID:  tenant,
		Subject:   req.ID.String(),
		Action:    string(action),
		ActorID:   actor.String(),
		Decision:  decision,
		Reason:    details["reason"],
		RequestID: requestcontext.RequestID(ctx),
		Details:   details,
	})
	if err != nil {
		return fmt.Errorf("emit %s: %w", action, err)
	}
	return nil
}

// recordFailure writes transfer_failed outside the rolled-back transaction.
// A failed audit write here is logged and does not mask the original error.
func (s *Service) recordFailure(ctx context.Context, req *models.TransferRequest, actor id.ActorID, cause error) {
	extra := map[string]string{"error_code": string(dErrors.CodeOf(cause))}
	var pv *models.PartialValidationError
	if errors.As(cause, &pv) {
		extra["offending_item_ids"] = strings.Join(pv.ItemIDs, ",")
	}
	s.logger.WarnContext(ctx, "transfer approval failed",
		"transfer_id", req.ID.String(),
		"actor_id", actor.String(),
		"error", cause,
	)
	if err := s.emit(ctx, audit.EventTransferFailed, req, actor, req.DestinationTenant, "failed", extra); err != nil {
		s.logger.ErrorContext(ctx, "failed to record transfer failure", "error", err)
	}
}

func (s *Service) notify(ctx context.Context, req *models.TransferRequest, reason notify.Reason) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, req.ID, reason, req.SourceTenant, req.DestinationTenant)
}

func (s *Service) startTransition(ctx context.Context, name string, requestID id.TransferID) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("transfer.id", requestID.String())))
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	return err
}

func (s *Service) countClaim(claimed bool) {
	if s.metrics != nil {
		s.metrics.IncClaim(claimed)
	}
}

func (s *Service) countTransition(action string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "committed"
	switch {
	case err == nil:
	case dErrors.HasCode(err, dErrors.CodeRaceLost):
		outcome = "race_lost"
	case errors.As(err, new(*models.PartialValidationError)):
		outcome = "partial_validation"
	default:
		outcome = "error"
	}
	s.metrics.IncTransition(action, outcome)
}
