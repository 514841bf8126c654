package ledgersync

import (
	"context"
	"strings"

	"github.com/buildops/backend/internal/domain/ledgersync"
)

// Heuristic match keys pair records that exist on both sides but were never linked.

func contactMatchKeys(fields ledgersync.FieldSet) []string {
	var keys []string
	if name := fields[ledgersync.FieldName]; name != "" {
		keys = append(keys, "name:"+strings.ToLower(name))
	}
	if email := fields[ledgersync.FieldEmail]; email != "" {
		keys = append(keys, "email:"+email)
	}
	return keys
}

func invoiceMatchKeys(typ, number string) []string {
	if number == "" {
		return nil
	}
	return []string{"number:" + strings.ToUpper(typ) + ":" + strings.ToLower(number)}
}

func paymentMatchKeys(invoiceExternalID string, fields ledgersync.FieldSet) []string {
	if invoiceExternalID == "" {
		return nil
	}
	return []string{"payment:" + invoiceExternalID + ":" + fields[ledgersync.FieldDate] + ":" + fields[ledgersync.FieldAmount]}
}

func remoteMatchKeys(r ledgersync.RemoteRecord) []string {
	switch rec := r.(type) {
	case *ledgersync.RemoteContact:
		return contactMatchKeys(rec.Fields())
	case *ledgersync.RemoteInvoice:
		return invoiceMatchKeys(rec.Type, rec.Number)
	case *ledgersync.RemotePayment:
		return paymentMatchKeys(rec.InvoiceExternalID, rec.Fields())
	default:
		return nil
	}
}

// remoteIndex is a full listing of one remote entity type, searchable by
// external id and by match key. Each remote record can be claimed once.
type remoteIndex struct {
	records []ledgersync.RemoteRecord
	byID    map[string]ledgersync.RemoteRecord
	// byKey keeps every record per key in listing order
	byKey   map[string][]ledgersync.RemoteRecord
	claimed map[string]bool
}

func newRemoteIndex(records []ledgersync.RemoteRecord) *remoteIndex {
	ix := &remoteIndex{
		records: records,
		byID:    make(map[string]ledgersync.RemoteRecord, len(records)),
		byKey:   make(map[string][]ledgersync.RemoteRecord, len(records)),
		claimed: map[string]bool{},
	}
	for _, r := range records {
		ix.byID[r.GetExternalID()] = r
		for _, k := range remoteMatchKeys(r) {
			ix.byKey[k] = append(ix.byKey[k], r)
		}
	}
	return ix
}

func (ix *remoteIndex) get(externalID string) ledgersync.RemoteRecord {
	return ix.byID[externalID]
}

// match returns the first unclaimed record for the first key that has one
func (ix *remoteIndex) match(keys []string) ledgersync.RemoteRecord {
	for _, k := range keys {
		for _, r := range ix.byKey[k] {
			if !ix.claimed[r.GetExternalID()] {
				return r
			}
		}
	}
	return nil
}

func (ix *remoteIndex) claim(externalID string) {
	ix.claimed[externalID] = true
}

func (ix *remoteIndex) unclaimed() []ledgersync.RemoteRecord {
	var out []ledgersync.RemoteRecord
	for _, r := range ix.records {
		if !ix.claimed[r.GetExternalID()] {
			out = append(out, r)
		}
	}
	return out
}

func toRecords[T ledgersync.RemoteRecord](items []T) []ledgersync.RemoteRecord {
	out := make([]ledgersync.RemoteRecord, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out
}

// listAll walks every page of a remote listing
func listAll[T any](ctx context.Context, maxPages int, q ledgersync.ListQuery, list func(context.Context, ledgersync.ListQuery) (*ledgersync.Page[T], error)) ([]T, error) {
	var out []T
	for page := 1; page <= maxPages; page++ {
		q.Page = page
		p, err := list(ctx, q)
		if err != nil {
			return nil, err
		}
		out = append(out, p.Items...)
		if !p.HasMore {
			break
		}
	}
	return out, nil
}
