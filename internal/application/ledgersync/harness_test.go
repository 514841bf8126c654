package ledgersync_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	appsync "github.com/buildops/backend/internal/application/ledgersync"
	"github.com/buildops/backend/internal/domain/accounting"
	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/domain/shared"
	"github.com/buildops/backend/internal/infrastructure/lock"
	"github.com/buildops/backend/internal/infrastructure/persistence"
	"github.com/buildops/backend/internal/infrastructure/persistence/models"
	"github.com/buildops/backend/internal/infrastructure/ratelimit"
)

// =============================================================================
// Fake ledger
// =============================================================================

// fakeLedger is an in-memory ledger. Every write advances its clock by a
// minute so modified-since queries behave like the real API.
type fakeLedger struct {
	mu       sync.Mutex
	clock    time.Time
	seq      int
	pageSize int
	contacts map[string]*ledgersync.RemoteContact
	invoices map[string]*ledgersync.RemoteInvoice
	payments map[string]*ledgersync.RemotePayment
	// writes logs every write as "KIND ext [fields]"
	writes []string
	// failSave makes saves of records with this label fail
	failSave map[string]error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		clock:    time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		pageSize: 100,
		contacts: map[string]*ledgersync.RemoteContact{},
		invoices: map[string]*ledgersync.RemoteInvoice{},
		payments: map[string]*ledgersync.RemotePayment{},
		failSave: map[string]error{},
	}
}

func (f *fakeLedger) tick() time.Time {
	f.clock = f.clock.Add(time.Minute)
	return f.clock
}

func (f *fakeLedger) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%03d", prefix, f.seq)
}

// AddContact stores a contact as if it was entered in the ledger
func (f *fakeLedger) AddContact(c ledgersync.RemoteContact) *ledgersync.RemoteContact {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ExternalID == "" {
		c.ExternalID = f.nextID("contact")
	}
	c.UpdatedAt = f.tick()
	f.contacts[c.ExternalID] = &c
	cp := c
	return &cp
}

// EditContact changes a ledger contact as a bookkeeper would
func (f *fakeLedger) EditContact(externalID string, edit func(c *ledgersync.RemoteContact)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.contacts[externalID]
	edit(c)
	c.UpdatedAt = f.tick()
}

func (f *fakeLedger) Contact(externalID string) ledgersync.RemoteContact {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.contacts[externalID]
}

func (f *fakeLedger) AddInvoice(inv ledgersync.RemoteInvoice) *ledgersync.RemoteInvoice {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inv.ExternalID == "" {
		inv.ExternalID = f.nextID("invoice")
	}
	inv.UpdatedAt = f.tick()
	f.invoices[inv.ExternalID] = &inv
	cp := inv
	return &cp
}

func (f *fakeLedger) Invoice(externalID string) ledgersync.RemoteInvoice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.invoices[externalID]
}

// EditInvoice changes a ledger invoice as a bookkeeper would
func (f *fakeLedger) EditInvoice(externalID string, edit func(inv *ledgersync.RemoteInvoice)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv := f.invoices[externalID]
	edit(inv)
	inv.UpdatedAt = f.tick()
}

func (f *fakeLedger) AddPayment(p ledgersync.RemotePayment) *ledgersync.RemotePayment {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ExternalID == "" {
		p.ExternalID = f.nextID("payment")
	}
	p.UpdatedAt = f.tick()
	f.payments[p.ExternalID] = &p
	cp := p
	return &cp
}

func (f *fakeLedger) Writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *fakeLedger) ContactCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.contacts)
}

func page[T ledgersync.RemoteRecord](all []T, q ledgersync.ListQuery, size int) *ledgersync.Page[T] {
	var items []T
	for _, r := range all {
		if q.ModifiedSince.IsZero() || r.GetUpdatedAt().After(q.ModifiedSince) {
			items = append(items, r)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].GetUpdatedAt().Before(items[j].GetUpdatedAt()) })
	p := q.Page
	if p < 1 {
		p = 1
	}
	start := (p - 1) * size
	if start >= len(items) {
		return &ledgersync.Page[T]{}
	}
	end := min(start+size, len(items))
	return &ledgersync.Page[T]{Items: items[start:end], HasMore: end < len(items)}
}

func (f *fakeLedger) ListContacts(_ context.Context, _ ledgersync.LedgerTenant, q ledgersync.ListQuery) (*ledgersync.Page[*ledgersync.RemoteContact], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := make([]*ledgersync.RemoteContact, 0, len(f.contacts))
	for _, c := range f.contacts {
		cp := *c
		all = append(all, &cp)
	}
	return page(all, q, f.pageSize), nil
}

func (f *fakeLedger) GetContact(_ context.Context, _ ledgersync.LedgerTenant, externalID string) (*ledgersync.RemoteContact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contacts[externalID]
	if !ok {
		return nil, ledgersync.ErrRemoteNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeLedger) SaveContact(_ context.Context, _ ledgersync.LedgerTenant, c *ledgersync.RemoteContact, fields []string) (*ledgersync.RemoteContact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failSave[c.Name]; err != nil {
		return nil, err
	}
	if c.ExternalID == "" {
		created := *c
		created.ExternalID = f.nextID("contact")
		created.UpdatedAt = f.tick()
		f.contacts[created.ExternalID] = &created
		f.writes = append(f.writes, fmt.Sprintf("CONTACT create %s", created.ExternalID))
		cp := created
		return &cp, nil
	}
	stored, ok := f.contacts[c.ExternalID]
	if !ok {
		return nil, ledgersync.ErrRemoteNotFound
	}
	for _, field := range fields {
		switch field {
		case ledgersync.FieldName:
			stored.Name = c.Name
		case ledgersync.FieldEmail:
			stored.Email = c.Email
		case ledgersync.FieldPhone:
			stored.Phone = c.Phone
		case ledgersync.FieldTaxNumber:
			stored.TaxNumber = c.TaxNumber
		case ledgersync.FieldAddressLine1:
			stored.AddressLine1 = c.AddressLine1
		case ledgersync.FieldCity:
			stored.City = c.City
		case ledgersync.FieldPostalCode:
			stored.PostalCode = c.PostalCode
		case ledgersync.FieldCountry:
			stored.Country = c.Country
		}
	}
	stored.UpdatedAt = f.tick()
	f.writes = append(f.writes, fmt.Sprintf("CONTACT update %s %v", c.ExternalID, fields))
	cp := *stored
	return &cp, nil
}

func (f *fakeLedger) ListInvoices(_ context.Context, _ ledgersync.LedgerTenant, q ledgersync.ListQuery) (*ledgersync.Page[*ledgersync.RemoteInvoice], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := make([]*ledgersync.RemoteInvoice, 0, len(f.invoices))
	for _, inv := range f.invoices {
		cp := *inv
		all = append(all, &cp)
	}
	return page(all, q, f.pageSize), nil
}

func (f *fakeLedger) GetInvoice(_ context.Context, _ ledgersync.LedgerTenant, externalID string) (*ledgersync.RemoteInvoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[externalID]
	if !ok {
		return nil, ledgersync.ErrRemoteNotFound
	}
	cp := *inv
	return &cp, nil
}

func (f *fakeLedger) SaveInvoice(_ context.Context, _ ledgersync.LedgerTenant, inv *ledgersync.RemoteInvoice, fields []string) (*ledgersync.RemoteInvoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failSave[inv.Number]; err != nil {
		return nil, err
	}
	if inv.ExternalID == "" {
		if _, ok := f.contacts[inv.ContactExternalID]; !ok {
			return nil, fmt.Errorf("%w: unknown contact", ledgersync.ErrLedgerValidation)
		}
		created := *inv
		created.ExternalID = f.nextID("invoice")
		if created.Number == "" {
			created.Number = fmt.Sprintf("INV-%04d", f.seq)
		}
		created.UpdatedAt = f.tick()
		f.invoices[created.ExternalID] = &created
		f.writes = append(f.writes, fmt.Sprintf("INVOICE create %s", created.ExternalID))
		cp := created
		return &cp, nil
	}
	stored, ok := f.invoices[inv.ExternalID]
	if !ok {
		return nil, ledgersync.ErrRemoteNotFound
	}
	for _, field := range fields {
		switch field {
		case ledgersync.FieldNumber:
			stored.Number = inv.Number
		case ledgersync.FieldReference:
			stored.Reference = inv.Reference
		case ledgersync.FieldIssueDate:
			stored.IssueDate = inv.IssueDate
		case ledgersync.FieldDueDate:
			stored.DueDate = inv.DueDate
		case ledgersync.FieldContact:
			stored.ContactExternalID = inv.ContactExternalID
		case ledgersync.FieldLines:
			stored.Lines = inv.Lines
		case ledgersync.FieldStatus:
			stored.Status = inv.Status
		}
	}
	stored.UpdatedAt = f.tick()
	f.writes = append(f.writes, fmt.Sprintf("INVOICE update %s %v", inv.ExternalID, fields))
	cp := *stored
	return &cp, nil
}

func (f *fakeLedger) ListPayments(_ context.Context, _ ledgersync.LedgerTenant, q ledgersync.ListQuery) (*ledgersync.Page[*ledgersync.RemotePayment], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := make([]*ledgersync.RemotePayment, 0, len(f.payments))
	for _, p := range f.payments {
		cp := *p
		all = append(all, &cp)
	}
	return page(all, q, f.pageSize), nil
}

func (f *fakeLedger) GetPayment(_ context.Context, _ ledgersync.LedgerTenant, externalID string) (*ledgersync.RemotePayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[externalID]
	if !ok {
		return nil, ledgersync.ErrRemoteNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeLedger) CreatePayment(_ context.Context, _ ledgersync.LedgerTenant, p *ledgersync.RemotePayment) (*ledgersync.RemotePayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	created := *p
	created.ExternalID = f.nextID("payment")
	created.Status = "AUTHORISED"
	created.UpdatedAt = f.tick()
	f.payments[created.ExternalID] = &created
	f.writes = append(f.writes, fmt.Sprintf("PAYMENT create %s", created.ExternalID))
	cp := created
	return &cp, nil
}

func (f *fakeLedger) DeletePayment(_ context.Context, _ ledgersync.LedgerTenant, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[externalID]
	if !ok {
		return ledgersync.ErrRemoteNotFound
	}
	p.Status = "DELETED"
	p.UpdatedAt = f.tick()
	f.writes = append(f.writes, fmt.Sprintf("PAYMENT delete %s", externalID))
	return nil
}

func (f *fakeLedger) Connections(context.Context, string) ([]ledgersync.LedgerConnection, error) {
	return []ledgersync.LedgerConnection{{ConnectionID: "conn-1", TenantID: "org-1", TenantName: "Demo Co", TenantType: "ORGANISATION"}}, nil
}

func (f *fakeLedger) RemoveConnection(context.Context, string, string) error {
	return nil
}

var _ ledgersync.LedgerClient = (*fakeLedger)(nil)

// =============================================================================
// Collaborators
// =============================================================================

// staticTokens hands out a fixed ledger tenant, or err when set
type staticTokens struct {
	err error
}

func (s *staticTokens) AccessToken(context.Context, uuid.UUID) (ledgersync.LedgerTenant, error) {
	if s.err != nil {
		return ledgersync.LedgerTenant{}, s.err
	}
	return ledgersync.LedgerTenant{TenantID: "org-1", AccessToken: "access-token"}, nil
}

// recordingPublisher keeps published events for assertions
type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

// =============================================================================
// Harness
// =============================================================================

type harness struct {
	t         *testing.T
	ctx       context.Context
	tenantID  uuid.UUID
	ledger    *fakeLedger
	tokens    *staticTokens
	events    *recordingPublisher
	locker    *lock.MemoryLocker
	contacts  *persistence.GormContactRepository
	invoices  *persistence.GormInvoiceRepository
	payments  *persistence.GormPaymentRepository
	conflicts *persistence.GormConflictRepository
	runs      *persistence.GormSyncRunRepository
	cursors   *persistence.GormSyncCursorRepository
	sync      *appsync.SyncService
	resolver  *appsync.ConflictService
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func newHarness(t *testing.T, throttle time.Duration) *harness {
	t.Helper()
	db := openTestDB(t)
	h := &harness{
		t:         t,
		ctx:       context.Background(),
		tenantID:  uuid.New(),
		ledger:    newFakeLedger(),
		tokens:    &staticTokens{},
		events:    &recordingPublisher{},
		locker:    lock.NewMemoryLocker(),
		contacts:  persistence.NewGormContactRepository(db),
		invoices:  persistence.NewGormInvoiceRepository(db),
		payments:  persistence.NewGormPaymentRepository(db),
		conflicts: persistence.NewGormConflictRepository(db),
		runs:      persistence.NewGormSyncRunRepository(db),
		cursors:   persistence.NewGormSyncCursorRepository(db),
	}
	logger := zaptest.NewLogger(t)
	txScope := persistence.NewGormTransactionScope(db)
	h.sync = appsync.NewSyncService(appsync.SyncServiceDeps{
		TxScope:   txScope,
		Contacts:  h.contacts,
		Invoices:  h.invoices,
		Payments:  h.payments,
		Conflicts: h.conflicts,
		Runs:      h.runs,
		Cursors:   h.cursors,
		Client:    h.ledger,
		Tokens:    h.tokens,
		Throttle:  ratelimit.NewMinIntervalThrottle(throttle),
		Locker:    h.locker,
		Publisher: h.events,
	}, appsync.Options{}, logger)
	h.resolver = appsync.NewConflictService(txScope, h.conflicts, h.sync, h.events, logger)
	return h
}

func (h *harness) syncEntity(t ledgersync.EntityType, dirs ...ledgersync.Direction) []*ledgersync.SyncRun {
	h.t.Helper()
	runs, err := h.sync.Sync(h.ctx, ledgersync.SyncRequest{
		TenantID:   h.tenantID,
		EntityType: t,
		Directions: dirs,
		Trigger:    ledgersync.TriggerManual,
		Force:      true,
	})
	require.NoError(h.t, err)
	return runs
}

func (h *harness) newContact(name, email string) *accounting.Contact {
	h.t.Helper()
	c, err := accounting.NewContact(h.tenantID, accounting.ContactKindCustomer, accounting.ContactDetails{Name: name, Email: email})
	require.NoError(h.t, err)
	require.NoError(h.t, h.contacts.Save(h.ctx, c))
	return c
}

func (h *harness) newInvoice(contact *accounting.Contact, number string) *accounting.Invoice {
	h.t.Helper()
	inv, err := accounting.NewInvoice(h.tenantID, accounting.InvoiceTypeReceivable, contact, accounting.InvoiceDetails{
		Number:    number,
		IssueDate: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		DueDate:   time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC),
		Currency:  "NZD",
	})
	require.NoError(h.t, err)
	require.NoError(h.t, inv.SetLines([]accounting.LineInput{
		{Description: "Site survey", Quantity: decimal.NewFromInt(2), UnitAmount: decimal.NewFromInt(150), AccountCode: "200"},
	}))
	require.NoError(h.t, h.invoices.Save(h.ctx, inv))
	return inv
}

func (h *harness) contact(id uuid.UUID) *accounting.Contact {
	h.t.Helper()
	c, err := h.contacts.FindByIDForTenant(h.ctx, h.tenantID, id)
	require.NoError(h.t, err)
	return c
}

func (h *harness) contactByExternalID(ext string) *accounting.Contact {
	h.t.Helper()
	c, err := h.contacts.FindByExternalID(h.ctx, h.tenantID, ext)
	require.NoError(h.t, err)
	return c
}

func (h *harness) openConflicts() []ledgersync.Conflict {
	h.t.Helper()
	list, _, err := h.conflicts.List(h.ctx, h.tenantID, ledgersync.ConflictFilter{Status: ledgersync.ConflictOpen, Page: 1, PageSize: 100})
	require.NoError(h.t, err)
	return list
}

// editContactLocally changes fields of a local contact through its aggregate
func (h *harness) editContactLocally(id uuid.UUID, edit func(d *accounting.ContactDetails)) {
	h.t.Helper()
	c := h.contact(id)
	d := accounting.ContactDetails{
		Name:      c.Name,
		Email:     c.Email,
		Phone:     c.Phone,
		TaxNumber: c.TaxNumber,
		Address:   c.Address,
	}
	edit(&d)
	require.NoError(h.t, c.Update(d))
	require.NoError(h.t, h.contacts.Save(h.ctx, c))
}
