package handler

import (
	"strings"
	"time"

	"nexus/internal/transfer/models"
	"nexus/internal/transfer/service"
	id "nexus/pkg/domain"
	dErrors "nexus/pkg/domain-errors"
	"nexus/pkg/platform/httputil"
)

// CreateTransferRequest is the POST /transfers body. The source tenant is
// always the caller's active tenant.
type CreateTransferRequest struct {
	DestinationTenantID string   `json:"destination_tenant_id"`
	DataType            string   `json:"data_type"`
	ItemIDs             []string `json:"item_ids"`
	Mode                string   `json:"mode,omitempty"`
	Notes               string   `json:"notes,omitempty"`

	destination id.TenantID
}

func (r *CreateTransferRequest) Validate() error {
	r.DataType = strings.ToLower(strings.TrimSpace(r.DataType))
	r.Mode = strings.ToLower(strings.TrimSpace(r.Mode))
	if r.DestinationTenantID == "" {
		return dErrors.New(dErrors.CodeValidation, "destination_tenant_id is required")
	}
	dest, err := id.ParseTenantID(strings.TrimSpace(r.DestinationTenantID))
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "destination_tenant_id must be a uuid")
	}
	r.destination = dest
	if r.DataType == "" {
		return dErrors.New(dErrors.CodeValidation, "data_type is required")
	}
	if len(r.ItemIDs) == 0 {
		return dErrors.New(dErrors.CodeValidation, "item_ids must not be empty")
	}
	return nil
}

// RejectTransferRequest is the optional POST /transfers/{id}/reject body.
type RejectTransferRequest struct {
	Reason string `json:"reason"`
}

func (r *RejectTransferRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if len(r.Reason) > models.MaxNotesLength {
		return dErrors.New(dErrors.CodeValidation, "reason is too long")
	}
	return nil
}

type TenantRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// TransferResponse is the public view of a transfer request.
type TransferResponse struct {
	ID           string               `json:"id"`
	Source       TenantRef            `json:"source"`
	Destination  TenantRef            `json:"destination"`
	DataType     string               `json:"data_type"`
	Mode         string               `json:"mode"`
	Status       string               `json:"status"`
	ItemIDs      []string             `json:"item_ids"`
	ItemSnapshot []models.DisplayItem `json:"item_snapshot"`
	Initiator    string               `json:"initiator_id"`
	Reviewer     string               `json:"reviewer_id,omitempty"`
	ClaimedBy    string               `json:"claimed_by_id,omitempty"`
	Notes        string               `json:"notes,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	ReviewedAt   *time.Time           `json:"reviewed_at,omitempty"`
	ResolvedAt   *time.Time           `json:"resolved_at,omitempty"`
}

type TimelineResponse struct {
	Kind   string    `json:"kind"`
	Actor  string    `json:"actor_id"`
	Status string    `json:"status,omitempty"`
	At     time.Time `json:"at"`
}

// DetailResponse adds display names resolved for the viewer and the timeline.
type DetailResponse struct {
	TransferResponse
	Items    []models.DisplayItem `json:"items"`
	Timeline []TimelineResponse   `json:"timeline"`
}

type ClaimResponse struct {
	Claimed bool `json:"claimed"`
}

// PartialValidationBody is the 409 body for an approve that found items no
// longer owned by the source tenant.
type PartialValidationBody struct {
	httputil.ErrorBody
	ItemIDs []string `json:"item_ids"`
}

func toResponse(r *models.TransferRequest) TransferResponse {
	resp := TransferResponse{
		ID:           r.ID.String(),
		Source:       TenantRef{ID: r.SourceTenant.String()},
		Destination:  TenantRef{ID: r.DestinationTenant.String()},
		DataType:     string(r.DataType),
		Mode:         string(r.Mode),
		Status:       string(r.Status),
		ItemIDs:      r.ItemIDs,
		ItemSnapshot: r.ItemSnapshot,
		Initiator:    r.Initiator.String(),
		Notes:        r.Notes,
		CreatedAt:    r.CreatedAt,
		ReviewedAt:   r.ReviewedAt,
		ResolvedAt:   r.ResolvedAt,
	}
	if r.Reviewer != nil {
		resp.Reviewer = r.Reviewer.String()
	}
	if r.ClaimedBy != nil {
		resp.ClaimedBy = r.ClaimedBy.String()
	}
	return resp
}

func toViewResponse(v service.RequestView) TransferResponse {
	resp := toResponse(v.TransferRequest)
	resp.Source.Name = v.Source.Name
	resp.Destination.Name = v.Destination.Name
	return resp
}

func toDetailResponse(d *service.RequestDetail) DetailResponse {
	timeline := make([]TimelineResponse, 0, len(d.Timeline))
	for _, e := range d.Timeline {
		entry := TimelineResponse{Kind: string(e.Kind), Actor: e.Actor.String(), At: e.At}
		if e.Kind != models.TimelineReviewed {
			entry.Status = string(e.Status)
		}
		timeline = append(timeline, entry)
	}
	return DetailResponse{
		TransferResponse: toViewResponse(d.RequestView),
		Items:            d.Items,
		Timeline:         timeline,
	}
}
