package ledgersync

import (
	"github.com/google/uuid"
)

// FieldAction is the decision taken for one field
type FieldAction string

const (
	// FieldInSync means both sides hold the same value
	FieldInSync FieldAction = "IN_SYNC"
	// FieldTakeRemote means the remote value overwrites the local one
	FieldTakeRemote FieldAction = "TAKE_REMOTE"
	// FieldPushLocal means the local value overwrites the remote one
	FieldPushLocal FieldAction = "PUSH_LOCAL"
	// FieldConflict means both sides changed a shared field differently
	FieldConflict FieldAction = "CONFLICT"
	// FieldSuppressed means a conflict for exactly these values was ignored
	FieldSuppressed FieldAction = "SUPPRESSED"
)

// RecordAction summarizes what a sync will do to a record
type RecordAction string

const (
	RecordNoop          RecordAction = "NOOP"
	RecordCreateLocal   RecordAction = "CREATE_LOCAL"
	RecordCreateRemote  RecordAction = "CREATE_REMOTE"
	RecordUpdateLocal   RecordAction = "UPDATE_LOCAL"
	RecordUpdateRemote  RecordAction = "UPDATE_REMOTE"
	RecordUpdateBoth    RecordAction = "UPDATE_BOTH"
	RecordConflict      RecordAction = "CONFLICT"
	RecordMissingRemote RecordAction = "MISSING_REMOTE"
)

// FieldDecision records the inputs and outcome for one field
type FieldDecision struct {
	Field  string      `json:"field"`
	Owner  Owner       `json:"owner"`
	Action FieldAction `json:"action"`
	Base   string      `json:"base,omitempty"`
	Local  string      `json:"local"`
	Remote string      `json:"remote"`
	// HasBase is false when the record was never synced before
	HasBase bool `json:"has_base"`
}

// RecordPlan is the diff result for a single record
type RecordPlan struct {
	EntityType EntityType      `json:"entity_type"`
	LocalID    uuid.UUID       `json:"local_id,omitempty"`
	ExternalID string          `json:"external_id,omitempty"`
	Label      string          `json:"label"`
	Action     RecordAction    `json:"action"`
	Decisions  []FieldDecision `json:"decisions,omitempty"`
}

// Suppressions maps a field to the ignored (local, remote) pair
type Suppressions map[string]string

// SuppressionKey encodes a (local, remote) pair
func SuppressionKey(local, remote string) string {
	return local + "\x00" + remote
}

// Matches reports whether the pair was ignored for field
func (s Suppressions) Matches(field, local, remote string) bool {
	if s == nil {
		return false
	}
	v, ok := s[field]
	return ok && v == SuppressionKey(local, remote)
}

// Diff classifies every synced field of a matched record.
//
// base is the snapshot both sides agreed on at the last sync (nil when the
// record is being linked for the first time). dir breaks ties for SHARED fields
// without a base: a pull takes the remote value, a push sends the local one.
func Diff(t EntityType, rules *OwnershipRules, base, local, remote FieldSet, suppressed Suppressions, dir Direction) *RecordPlan {
	if rules == nil {
		rules = DefaultOwnershipRules()
	}
	plan := &RecordPlan{EntityType: t}

	for _, spec := range FieldsOf(t) {
		owner := rules.OwnerOf(t, spec.Name)
		l, r := local[spec.Name], remote[spec.Name]
		b, hasBase := base[spec.Name]

		d := FieldDecision{Field: spec.Name, Owner: owner, Base: b, Local: l, Remote: r, HasBase: hasBase}
		d.Action = decideField(owner, hasBase, b, l, r, dir)
		if d.Action == FieldConflict && suppressed.Matches(spec.Name, l, r) {
			d.Action = FieldSuppressed
		}
		plan.Decisions = append(plan.Decisions, d)
	}

	plan.Action = summarize(plan.Decisions)
	return plan
}

func decideField(owner Owner, hasBase bool, b, l, r string, dir Direction) FieldAction {
	if l == r {
		return FieldInSync
	}
	if !hasBase {
		switch owner {
		case OwnerLocal:
			return FieldPushLocal
		case OwnerRemote:
			return FieldTakeRemote
		default:
			if dir == DirectionPush {
				return FieldPushLocal
			}
			return FieldTakeRemote
		}
	}

	localChanged := l != b
	remoteChanged := r != b
	switch {
	case remoteChanged && !localChanged:
		if owner == OwnerLocal {
			return FieldPushLocal
		}
		return FieldTakeRemote
	case localChanged && !remoteChanged:
		if owner == OwnerRemote {
			return FieldTakeRemote
		}
		return FieldPushLocal
	default:
		switch owner {
		case OwnerLocal:
			return FieldPushLocal
		case OwnerRemote:
			return FieldTakeRemote
		default:
			return FieldConflict
		}
	}
}

func summarize(decisions []FieldDecision) RecordAction {
	var take, push, conflict bool
	for _, d := range decisions {
		switch d.Action {
		case FieldTakeRemote:
			take = true
		case FieldPushLocal:
			push = true
		case FieldConflict:
			conflict = true
		}
	}
	switch {
	case conflict:
		return RecordConflict
	case take && push:
		return RecordUpdateBoth
	case take:
		return RecordUpdateLocal
	case push:
		return RecordUpdateRemote
	default:
		return RecordNoop
	}
}

// AllowLocalTransition turns TAKE_REMOTE on field into PUSH_LOCAL when only
// the local value moved since base and allowed accepts the move. Lifecycle
// steps such as approving an invoice are taken locally even though the
// ledger owns the field; the ledger must be told rather than overwrite them.
func (p *RecordPlan) AllowLocalTransition(field string, allowed func(from, to string) bool) {
	for i := range p.Decisions {
		d := &p.Decisions[i]
		if d.Field != field || d.Action != FieldTakeRemote || !d.HasBase {
			continue
		}
		if d.Remote == d.Base && d.Local != d.Base && allowed(d.Base, d.Local) {
			d.Action = FieldPushLocal
		}
	}
	p.Action = summarize(p.Decisions)
}

// FieldsWith returns the names of fields with the given action, in spec order
func (p *RecordPlan) FieldsWith(action FieldAction) []string {
	var out []string
	for _, d := range p.Decisions {
		if d.Action == action {
			out = append(out, d.Field)
		}
	}
	return out
}

// Conflicts returns the conflicting field decisions
func (p *RecordPlan) Conflicts() []FieldDecision {
	var out []FieldDecision
	for _, d := range p.Decisions {
		if d.Action == FieldConflict {
			out = append(out, d)
		}
	}
	return out
}

// HasPush reports whether any field must be sent to the ledger
func (p *RecordPlan) HasPush() bool {
	return len(p.FieldsWith(FieldPushLocal)) > 0
}

// NextBase returns the snapshot to store after applying the plan.
//
// In-sync fields and taken remote values become the new base. Conflicting and
// suppressed fields keep their previous base so they stay detectable. Pushed
// fields advance to the local value only once the push has succeeded.
func (p *RecordPlan) NextBase(pushed bool) FieldSet {
	next := make(FieldSet, len(p.Decisions))
	for _, d := range p.Decisions {
		switch d.Action {
		case FieldInSync:
			next[d.Field] = d.Local
		case FieldTakeRemote:
			next[d.Field] = d.Remote
		case FieldPushLocal:
			if pushed {
				next[d.Field] = d.Local
			} else if d.HasBase {
				next[d.Field] = d.Base
			}
		default:
			if d.HasBase {
				next[d.Field] = d.Base
			}
		}
	}
	return next
}

// PendingLocalChanges lists non-remote-owned fields whose local value differs
// from base, i.e. what a push would still have to send.
func PendingLocalChanges(t EntityType, rules *OwnershipRules, base, local FieldSet) []string {
	if rules == nil {
		rules = DefaultOwnershipRules()
	}
	var out []string
	for _, spec := range FieldsOf(t) {
		if rules.OwnerOf(t, spec.Name) == OwnerRemote {
			continue
		}
		if b, ok := base[spec.Name]; !ok || b != local[spec.Name] {
			out = append(out, spec.Name)
		}
	}
	return out
}
