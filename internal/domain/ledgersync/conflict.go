package ledgersync

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ConflictStatus is the lifecycle state of a conflict
type ConflictStatus string

const (
	ConflictOpen     ConflictStatus = "OPEN"
	ConflictResolved ConflictStatus = "RESOLVED"
	ConflictIgnored  ConflictStatus = "IGNORED"
)

// IsValid returns true if the status is valid
func (s ConflictStatus) IsValid() bool {
	return s == ConflictOpen || s == ConflictResolved || s == ConflictIgnored
}

// Resolution is how a conflict was settled
type Resolution string

const (
	// ResolutionKeepLocal keeps the local value and pushes it to the ledger
	ResolutionKeepLocal Resolution = "KEEP_LOCAL"
	// ResolutionKeepRemote applies the ledger value locally
	ResolutionKeepRemote Resolution = "KEEP_REMOTE"
	// ResolutionManual sets a user-supplied value on both sides
	ResolutionManual Resolution = "MANUAL"
)

// IsValid returns true if the resolution is valid
func (r Resolution) IsValid() bool {
	return r == ResolutionKeepLocal || r == ResolutionKeepRemote || r == ResolutionManual
}

// Conflict is a field that changed on both sides since the last sync
type Conflict struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	EntityType     EntityType
	EntityID       uuid.UUID
	ExternalID     string
	Label          string
	Field          string
	LocalValue     string
	RemoteValue    string
	BaseValue      string
	Status         ConflictStatus
	Resolution     Resolution
	ManualValue    string
	DetectionCount int
	DetectedAt     time.Time
	LastDetectedAt time.Time
	ResolvedAt     *time.Time
	ResolvedBy     *uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewConflict opens a conflict from a field decision
func NewConflict(tenantID uuid.UUID, t EntityType, entityID uuid.UUID, externalID, label string, d FieldDecision) (*Conflict, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	if !t.IsValid() {
		return nil, ErrInvalidEntityType
	}
	if _, err := LookupField(t, d.Field); err != nil {
		return nil, err
	}
	now := time.Now()
	return &Conflict{
		ID:             uuid.New(),
		TenantID:       tenantID,
		EntityType:     t,
		EntityID:       entityID,
		ExternalID:     externalID,
		Label:          label,
		Field:          d.Field,
		LocalValue:     d.Local,
		RemoteValue:    d.Remote,
		BaseValue:      d.Base,
		Status:         ConflictOpen,
		DetectionCount: 1,
		DetectedAt:     now,
		LastDetectedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// IsOpen reports whether the conflict awaits resolution
func (c *Conflict) IsOpen() bool {
	return c.Status == ConflictOpen
}

// Redetect refreshes an open conflict with the latest values
func (c *Conflict) Redetect(d FieldDecision) {
	now := time.Now()
	c.LocalValue = d.Local
	c.RemoteValue = d.Remote
	c.BaseValue = d.Base
	c.DetectionCount++
	c.LastDetectedAt = now
	c.UpdatedAt = now
}

// Resolve settles the conflict. For MANUAL the value is canonicalized with the field's kind.
func (c *Conflict) Resolve(resolution Resolution, manualValue string, by uuid.UUID) error {
	if !c.IsOpen() {
		return ErrConflictNotOpen
	}
	if !resolution.IsValid() {
		return ErrInvalidResolution
	}
	if resolution == ResolutionManual {
		spec, err := LookupField(c.EntityType, c.Field)
		if err != nil {
			return err
		}
		if spec.Kind == KindDigest || spec.Kind == KindRef {
			return ErrFieldNotSettable
		}
		if manualValue == "" {
			return ErrManualValueRequired
		}
		canonical, err := spec.Kind.Canonicalize(manualValue)
		if err != nil {
			return err
		}
		c.ManualValue = canonical
	}
	now := time.Now()
	c.Status = ConflictResolved
	c.Resolution = resolution
	c.ResolvedAt = &now
	c.ResolvedBy = &by
	c.UpdatedAt = now
	return nil
}

// Ignore dismisses the conflict; it is not raised again for the same values
func (c *Conflict) Ignore(by uuid.UUID) error {
	if !c.IsOpen() {
		return ErrConflictNotOpen
	}
	now := time.Now()
	c.Status = ConflictIgnored
	c.ResolvedAt = &now
	c.ResolvedBy = &by
	c.UpdatedAt = now
	return nil
}

// ResolvedValue is the value the field should hold on both sides after resolution
func (c *Conflict) ResolvedValue() string {
	switch c.Resolution {
	case ResolutionKeepLocal:
		return c.LocalValue
	case ResolutionKeepRemote:
		return c.RemoteValue
	default:
		return c.ManualValue
	}
}

// ConflictFilter selects conflicts for listing
type ConflictFilter struct {
	Status     ConflictStatus
	EntityType EntityType
	EntityID   *uuid.UUID
	Page       int
	PageSize   int
}

// ConflictRepository persists conflicts
type ConflictRepository interface {
	Save(ctx context.Context, c *Conflict) error
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*Conflict, error)
	// FindOpen returns the open conflict for one record field, or ErrConflictNotFound
	FindOpen(ctx context.Context, tenantID uuid.UUID, t EntityType, entityID uuid.UUID, field string) (*Conflict, error)
	FindOpenByEntity(ctx context.Context, tenantID uuid.UUID, t EntityType, entityID uuid.UUID) ([]Conflict, error)
	List(ctx context.Context, tenantID uuid.UUID, filter ConflictFilter) ([]Conflict, int64, error)
	CountOpen(ctx context.Context, tenantID uuid.UUID) (int64, error)
}
