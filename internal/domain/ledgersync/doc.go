// Package ledgersync models two-way synchronization between local accounting
// records (contacts, invoices, payments) and an external ledger (Xero).
//
// The package owns the sync vocabulary: canonical field snapshots, field
// ownership rules, the three-way diff that classifies each field as in sync,
// take-remote, push-local or conflicting, persisted conflicts awaiting manual
// resolution, OAuth connections, sync run audit records and dry-run
// reconciliation reports. It defines the ports (LedgerClient, OAuthProvider,
// caches, locks, throttles) that infrastructure adapters implement.
package ledgersync
