package models

import (
	"fmt"
	"strings"
	"time"

	id "nexus/pkg/domain"
	dErrors "nexus/pkg/domain-errors"
)

// MaxItems caps a single request so the executor's lock set stays bounded.
const MaxItems = 500

// MaxNotesLength bounds the initiator's free-text rationale.
const MaxNotesLength = 2000

// UnknownDisplayName is rendered for items a describer could not resolve.
const UnknownDisplayName = "unknown"

// DataType is the kind of record a request moves between tenants.
type DataType string

const (
	DataTypeResident  DataType = "resident"
	DataTypeHousehold DataType = "household"
	DataTypeAccount   DataType = "account"
)

// AllDataTypes lists the closed set of transferable record kinds.
func AllDataTypes() []DataType {
	return []DataType{DataTypeResident, DataTypeHousehold, DataTypeAccount}
}

func (d DataType) IsValid() bool {
	switch d {
	case DataTypeResident, DataTypeHousehold, DataTypeAccount:
		return true
	}
	return false
}

func (d DataType) String() string { return string(d) }

// Mode distinguishes one-record requests from bulk requests.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeBulk   Mode = "bulk"
)

func (m Mode) IsValid() bool {
	return m == ModeSingle || m == ModeBulk
}

// Status is the request lifecycle state. Accepted and Rejected are terminal.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusAccepted Status = "Accepted"
	StatusRejected Status = "Rejected"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// DisplayItem is the human-readable view of one referenced record.
type DisplayItem struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// TransferRequest proposes moving records of one data type from the source
// tenant to the destination tenant.
//
// Invariants:
//   - SourceTenant != DestinationTenant
//   - ItemIDs is non-empty, unique and never modified after creation
//   - Mode single carries exactly one item
//   - Reviewer, once set, belongs to DestinationTenant
//   - ClaimedBy and ReviewedAt are written once, by the first claim
//   - ResolvedAt is set exactly when Status is terminal
type TransferRequest struct {
	ID                id.TransferID `json:"id"`
	SourceTenant      id.TenantID   `json:"source_tenant_id"`
	DestinationTenant id.TenantID   `json:"destination_tenant_id"`
	DataType          DataType      `json:"data_type"`
	ItemIDs           []string      `json:"item_ids"`
	Mode              Mode          `json:"mode"`
	Status            Status        `json:"status"`
	Initiator         id.ActorID    `json:"initiator_id"`
	Reviewer          *id.ActorID   `json:"reviewer_id,omitempty"`
	ClaimedBy         *id.ActorID   `json:"claimed_by_id,omitempty"`
	Notes             string        `json:"notes,omitempty"`
	ItemSnapshot      []DisplayItem `json:"item_snapshot"`
	CreatedAt         time.Time     `json:"created_at"`
	ReviewedAt        *time.Time    `json:"reviewed_at,omitempty"`
	ResolvedAt        *time.Time    `json:"resolved_at,omitempty"`
}

// NewTransferRequestParams is the raw creation input.
type NewTransferRequestParams struct {
	SourceTenant      id.TenantID
	DestinationTenant id.TenantID
	DataType          DataType
	ItemIDs           []string
	Mode              Mode
	Initiator         id.ActorID
	Notes             string
}

// NewTransferRequest validates p and returns a Pending request with no
// reviewer. The item snapshot is attached by the caller.
func NewTransferRequest(p NewTransferRequestParams, now time.Time) (*TransferRequest, error) {
	if p.SourceTenant.IsNil() || p.DestinationTenant.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "source and destination tenants are required")
	}
	if p.SourceTenant == p.DestinationTenant {
		return nil, dErrors.New(dErrors.CodeValidation, "source and destination tenants must differ")
	}
	if !p.DataType.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown data type %q", p.DataType))
	}
	if p.Initiator.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "initiator is required")
	}
	mode := p.Mode
	if mode == "" {
		mode = ModeBulk
		if len(p.ItemIDs) == 1 {
			mode = ModeSingle
		}
	}
	if !mode.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown mode %q", p.Mode))
	}

	items, err := normalizeItemIDs(p.ItemIDs)
	if err != nil {
		return nil, err
	}
	if mode == ModeSingle && len(items) != 1 {
		return nil, dErrors.New(dErrors.CodeValidation, "single mode requires exactly one item")
	}

	notes := strings.TrimSpace(p.Notes)
	if len(notes) > MaxNotesLength {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("notes must be %d characters or less", MaxNotesLength))
	}

	return &TransferRequest{
		ID:                id.NewTransferID(),
		SourceTenant:      p.SourceTenant,
		DestinationTenant: p.DestinationTenant,
		DataType:          p.DataType,
		ItemIDs:           items,
		Mode:              mode,
		Status:            StatusPending,
		Initiator:         p.Initiator,
		Notes:             notes,
		ItemSnapshot:      []DisplayItem{},
		CreatedAt:         now,
	}, nil
}

func normalizeItemIDs(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one item is required")
	}
	if len(raw) > MaxItems {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("at most %d items may be transferred at once", MaxItems))
	}
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, itemID := range raw {
		itemID = strings.TrimSpace(itemID)
		if itemID == "" {
			return nil, dErrors.New(dErrors.CodeValidation, "item ids cannot be blank")
		}
		if _, dup := seen[itemID]; dup {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("duplicate item id %q", itemID))
		}
		seen[itemID] = struct{}{}
		out = append(out, itemID)
	}
	return out, nil
}

// BuildSnapshot orders described items by ids. Ids the describer did not
// return are recorded as unknown.
func BuildSnapshot(ids []string, described []DisplayItem) []DisplayItem {
	byID := make(map[string]string, len(described))
	for _, d := range described {
		byID[d.ID] = d.DisplayName
	}
	out := make([]DisplayItem, 0, len(ids))
	for _, itemID := range ids {
		name, ok := byID[itemID]
		if !ok || strings.TrimSpace(name) == "" {
			name = UnknownDisplayName
		}
		out = append(out, DisplayItem{ID: itemID, DisplayName: name})
	}
	return out
}

// ResolveDisplay picks a name for every id: the live value first, then the
// creation snapshot, then the raw id.
func ResolveDisplay(ids []string, live, snapshot []DisplayItem) []DisplayItem {
	liveByID := make(map[string]string, len(live))
	for _, d := range live {
		if strings.TrimSpace(d.DisplayName) != "" {
			liveByID[d.ID] = d.DisplayName
		}
	}
	snapByID := make(map[string]string, len(snapshot))
	for _, d := range snapshot {
		if d.DisplayName != "" && d.DisplayName != UnknownDisplayName {
			snapByID[d.ID] = d.DisplayName
		}
	}
	out := make([]DisplayItem, 0, len(ids))
	for _, itemID := range ids {
		name, ok := liveByID[itemID]
		if !ok {
			name, ok = snapByID[itemID]
		}
		if !ok {
			name = itemID
		}
		out = append(out, DisplayItem{ID: itemID, DisplayName: name})
	}
	return out
}

func (r *TransferRequest) IsPending() bool {
	return r.Status == StatusPending
}

// Involves reports whether tenant is the source or destination of r.
func (r *TransferRequest) Involves(tenant id.TenantID) bool {
	return r.SourceTenant == tenant || r.DestinationTenant == tenant
}

// Clone returns a deep copy so stores never hand out shared slices.
func (r *TransferRequest) Clone() *TransferRequest {
	cp := *r
	cp.ItemIDs = append([]string(nil), r.ItemIDs...)
	cp.ItemSnapshot = append([]DisplayItem(nil), r.ItemSnapshot...)
	if r.Reviewer != nil {
		v := *r.Reviewer
		cp.Reviewer = &v
	}
	if r.ClaimedBy != nil {
		v := *r.ClaimedBy
		cp.ClaimedBy = &v
	}
	if r.ReviewedAt != nil {
		v := *r.ReviewedAt
		cp.ReviewedAt = &v
	}
	if r.ResolvedAt != nil {
		v := *r.ResolvedAt
		cp.ResolvedAt = &v
	}
	return &cp
}
