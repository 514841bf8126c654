// Package models contains GORM persistence models. Domain entities carry no ORM
// tags; each model here maps one table and converts to and from its domain type
// with ToDomain and FromDomain.
//
//   - base.go: shared columns (BaseModel, AggregateModel, TenantAggregateModel)
//   - sync.go: sync bookkeeping columns embedded by every synchronized record
//   - accounting.go: contacts, invoices with their lines, payments
//   - ledgersync.go: connections, conflicts, sync runs and cursors
//   - outbox.go: outbox entries for domain event delivery
package models
