package service

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"nexus/internal/transfer/models"
	id "nexus/pkg/domain"
	dErrors "nexus/pkg/domain-errors"
)

// TenantSummary is the minimal tenant shape shown next to a request.
type TenantSummary struct {
	ID   id.TenantID `json:"id"`
	Name string      `json:"name"`
}

// RequestView is a request row as listed for a tenant.
type RequestView struct {
	*models.TransferRequest
	Source      TenantSummary `json:"source"`
	Destination TenantSummary `json:"destination"`
}

// RequestDetail adds resolved item names and the timeline.
type RequestDetail struct {
	RequestView
	Items    []models.DisplayItem   `json:"items"`
	Timeline []models.TimelineEntry `json:"timeline"`
}

// ListIncoming returns requests addressed to tenant, newest first.
func (s *Service) ListIncoming(ctx context.Context, viewer id.ActorID, tenant id.TenantID) ([]RequestView, error) {
	return s.list(ctx, viewer, tenant, s.store.ListIncoming)
}

// ListOutgoing returns requests tenant initiated, newest first.
func (s *Service) ListOutgoing(ctx context.Context, viewer id.ActorID, tenant id.TenantID) ([]RequestView, error) {
	return s.list(ctx, viewer, tenant, s.store.ListOutgoing)
}

func (s *Service) list(
	ctx context.Context,
	viewer id.ActorID,
	tenant id.TenantID,
	fetch func(context.Context, id.TenantID) ([]*models.TransferRequest, error),
) ([]RequestView, error) {
	if err := s.tenants.RequireMember(ctx, viewer, tenant); err != nil {
		return nil, err
	}
	reqs, err := fetch(ctx, tenant)
	if err != nil {
		return nil, s.translate(err, "failed to list transfer requests")
	}

	seen := make(map[id.TenantID]struct{})
	for _, r := range reqs {
		seen[r.SourceTenant] = struct{}{}
		seen[r.DestinationTenant] = struct{}{}
	}
	ids := make([]id.TenantID, 0, len(seen))
	for t := range seen {
		ids = append(ids, t)
	}
	names := s.tenantNames(ctx, ids)

	views := make([]RequestView, 0, len(reqs))
	for _, r := range reqs {
		views = append(views, RequestView{
			TransferRequest: r,
			Source:          names[r.SourceTenant],
			Destination:     names[r.DestinationTenant],
		})
	}
	return views, nil
}

// GetRequest returns a request with its items resolved for viewerTenant.
// Only members of the source or destination tenant may view it.
func (s *Service) GetRequest(ctx context.Context, viewer id.ActorID, viewerTenant id.TenantID, requestID id.TransferID) (*RequestDetail, error) {
	req, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.Involves(viewerTenant) {
		return nil, dErrors.New(dErrors.CodeForbidden, "transfer request does not involve this tenant")
	}
	if err := s.tenants.RequireMember(ctx, viewer, viewerTenant); err != nil {
		return nil, err
	}

	var (
		names map[id.TenantID]TenantSummary
		live  []models.DisplayItem
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		names = s.tenantNames(gctx, []id.TenantID{req.SourceTenant, req.DestinationTenant})
		return nil
	})
	g.Go(func() error {
		items, err := s.describers.Describe(gctx, req.DataType, viewerTenant, req.ItemIDs)
		if err != nil {
			// Records moved or deleted since creation fall back to the snapshot.
			s.logger.DebugContext(gctx, "live describe failed", "error", err, "transfer_id", req.ID.String())
			return nil
		}
		live = items
		return nil
	})
	_ = g.Wait()

	return &RequestDetail{
		RequestView: RequestView{
			TransferRequest: req,
			Source:          names[req.SourceTenant],
			Destination:     names[req.DestinationTenant],
		},
		Items:    models.ResolveDisplay(req.ItemIDs, live, req.ItemSnapshot),
		Timeline: req.Timeline(),
	}, nil
}

// tenantNames resolves display names concurrently. Unresolvable tenants keep
// their id as the name.
func (s *Service) tenantNames(ctx context.Context, ids []id.TenantID) map[id.TenantID]TenantSummary {
	out := make(map[id.TenantID]TenantSummary, len(ids))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, tenantID := range ids {
		g.Go(func() error {
			summary := TenantSummary{ID: tenantID, Name: tenantID.String()}
			if t, err := s.tenants.Resolve(gctx, tenantID); err == nil {
				summary.Name = t.Name
			}
			mu.Lock()
			out[tenantID] = summary
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
