// Package accounting holds the local records that are kept in step with the
// external ledger: contacts, invoices (sales and bills) and payments.
//
// Every record carries a ledgersync.SyncInfo. Mutators that change a synced
// field mark the record for the next push; the sync engine reads and writes
// records through SyncFields and SetField.
package accounting
