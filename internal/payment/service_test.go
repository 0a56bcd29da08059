package payment_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/lotline/auction-checkout/internal/audit"
	"github.com/lotline/auction-checkout/internal/billing"
	"github.com/lotline/auction-checkout/internal/common"
	"github.com/lotline/auction-checkout/internal/db"
	"github.com/lotline/auction-checkout/internal/events"
	"github.com/lotline/auction-checkout/internal/payment"
)

type stubStore struct {
	session        db.PaymentSession
	sessionErr     error
	reloadSession  *db.PaymentSession
	invoice        *db.Invoice
	getCalls       int
	updateAffected int64
	updates        []db.UpdatePaymentSessionStatusParams
	refreshes      int
	invoicesPaid   int
	invoiceCreated int
	sessionCreated int
	lastInvoice    db.CreateInvoiceParams
	lastSession    db.CreatePaymentSessionParams
}

func (s *stubStore) CreateInvoice(_ context.Context, arg db.CreateInvoiceParams) (db.Invoice, error) {
	s.invoiceCreated++
	s.lastInvoice = arg
	return db.Invoice{
		ID:         uuidToPg(uuid.New()),
		Status:     "pending",
		GrandTotal: arg.GrandTotal,
		Currency:   arg.Currency,
	}, nil
}

func (s *stubStore) GetInvoice(_ context.Context, id pgtype.UUID) (db.Invoice, error) {
	if s.invoice != nil && s.invoice.ID == id {
		return *s.invoice, nil
	}
	return db.Invoice{}, pgx.ErrNoRows
}

func (s *stubStore) MarkInvoicePaid(context.Context, db.MarkInvoicePaidParams) (int64, error) {
	s.invoicesPaid++
	return 1, nil
}

func (s *stubStore) CreatePaymentSession(_ context.Context, arg db.CreatePaymentSessionParams) (db.PaymentSession, error) {
	s.sessionCreated++
	s.lastSession = arg
	return db.PaymentSession{
		ID:          uuidToPg(uuid.New()),
		SessionID:   arg.SessionID,
		InvoiceID:   arg.InvoiceID,
		Amount:      arg.Amount,
		Currency:    arg.Currency,
		Status:      payment.StatusCreated,
		CheckoutURL: arg.CheckoutURL,
	}, nil
}

func (s *stubStore) GetPaymentSession(context.Context, string) (db.PaymentSession, error) {
	s.getCalls++
	if s.sessionErr != nil {
		return db.PaymentSession{}, s.sessionErr
	}
	if s.getCalls > 1 && s.reloadSession != nil {
		return *s.reloadSession, nil
	}
	return s.session, nil
}

func (s *stubStore) UpdatePaymentSessionStatus(_ context.Context, arg db.UpdatePaymentSessionStatusParams) (int64, error) {
	s.updates = append(s.updates, arg)
	return s.updateAffected, nil
}

func (s *stubStore) RefreshProviderPaymentStatus(context.Context, string, pgtype.Text) (int64, error) {
	s.refreshes++
	return 1, nil
}

func (s *stubStore) WithTx(pgx.Tx) payment.Store { return s }

type stubProvider struct {
	session   payment.ProviderSession
	err       error
	creates   int
	retrieves int
	verify    payment.WebhookVerifyResult
	verifyErr error
}

func (p *stubProvider) CreateSession(context.Context, payment.CreateSessionRequest) (payment.ProviderSession, error) {
	p.creates++
	return p.session, p.err
}

func (p *stubProvider) RetrieveSession(context.Context, string) (payment.ProviderSession, error) {
	p.retrieves++
	return p.session, p.err
}

func (p *stubProvider) VerifyWebhook(*http.Request, []byte) (payment.WebhookVerifyResult, error) {
	return p.verify, p.verifyErr
}

type stubAuditStore struct {
	records []db.InsertAuditLogParams
}

func (s *stubAuditStore) InsertAuditLog(_ context.Context, arg db.InsertAuditLogParams) (db.AuditLog, error) {
	s.records = append(s.records, arg)
	return db.AuditLog{}, nil
}

type stubEventStore struct {
	topics []string
}

func (s *stubEventStore) InsertDomainEvent(_ context.Context, arg db.InsertDomainEventParams) (db.DomainEvent, error) {
	s.topics = append(s.topics, arg.Topic)
	return db.DomainEvent{Topic: arg.Topic, AggregateID: arg.AggregateID, Payload: arg.Payload}, nil
}

func uuidToPg(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func createdSession() db.PaymentSession {
	return db.PaymentSession{
		ID:        uuidToPg(uuid.New()),
		SessionID: "cs_test_1",
		InvoiceID: uuidToPg(uuid.New()),
		Status:    payment.StatusCreated,
		Currency:  "USD",
	}
}

func newService(store *stubStore, provider *stubProvider, auditStore *stubAuditStore, eventStore *stubEventStore) *payment.Service {
	rate := decimal.RequireFromString("0.15")
	return &payment.Service{
		Q:        store,
		Provider: provider,
		Audit:    audit.Service{Store: auditStore, Enabled: true},
		Events:   &events.Bus{Store: eventStore},
		Rates: billing.RateConfig{
			BuyersPremiumRate: &rate,
			TaxRate:           decimal.RequireFromString("0.075"),
		},
		Currency: "USD",
	}
}

func TestReconcileTerminalShortCircuits(t *testing.T) {
	store := &stubStore{session: createdSession()}
	store.session.Status = payment.StatusCompleted
	provider := &stubProvider{}
	svc := newService(store, provider, &stubAuditStore{}, &stubEventStore{})

	result, err := svc.Reconcile(context.Background(), "cs_test_1", "poll")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Outcome != payment.OutcomeNoop || result.Transitioned {
		t.Fatalf("unexpected result: %+v", result)
	}
	if provider.retrieves != 0 {
		t.Fatalf("terminal session must not hit the provider, got %d calls", provider.retrieves)
	}
	if len(store.updates) != 0 {
		t.Fatalf("terminal session must not be updated, got %d updates", len(store.updates))
	}
}

func TestReconcileCompletesSession(t *testing.T) {
	store := &stubStore{session: createdSession(), updateAffected: 1}
	provider := &stubProvider{session: payment.ProviderSession{
		SessionID:     "cs_test_1",
		Status:        "complete",
		PaymentStatus: "paid",
	}}
	auditStore := &stubAuditStore{}
	eventStore := &stubEventStore{}
	svc := newService(store, provider, auditStore, eventStore)

	result, err := svc.Reconcile(context.Background(), "cs_test_1", "webhook")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !result.Transitioned || result.Session.Status != payment.StatusCompleted {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(store.updates) != 1 {
		t.Fatalf("expected one conditional update, got %d", len(store.updates))
	}
	update := store.updates[0]
	if update.FromStatus != payment.StatusCreated || update.Status != payment.StatusCompleted {
		t.Fatalf("unexpected transition %s -> %s", update.FromStatus, update.Status)
	}
	if store.invoicesPaid != 1 {
		t.Fatalf("expected invoice settlement, got %d", store.invoicesPaid)
	}
	if len(auditStore.records) != 2 {
		t.Fatalf("expected session and settlement audit records, got %d", len(auditStore.records))
	}
	if auditStore.records[1].EventType != "invoice.paid" {
		t.Fatalf("second audit record = %s", auditStore.records[1].EventType)
	}
	wantTopics := map[string]bool{events.TopicPaymentCompleted: false, events.TopicInvoicePaid: false}
	for _, topic := range eventStore.topics {
		if _, ok := wantTopics[topic]; ok {
			wantTopics[topic] = true
		}
	}
	for topic, seen := range wantTopics {
		if !seen {
			t.Fatalf("expected event %s to be emitted, got %v", topic, eventStore.topics)
		}
	}
}

func TestReconcileProviderFailureLeavesStateUntouched(t *testing.T) {
	store := &stubStore{session: createdSession()}
	provider := &stubProvider{err: errors.New("connection reset")}
	svc := newService(store, provider, &stubAuditStore{}, &stubEventStore{})

	_, err := svc.Reconcile(context.Background(), "cs_test_1", "poll")
	if err == nil {
		t.Fatal("expected error")
	}
	if !common.IsRetryable(err) {
		t.Fatalf("provider failure must be retryable, got code %s", common.CodeOf(err))
	}
	if len(store.updates) != 0 || store.refreshes != 0 || store.invoicesPaid != 0 {
		t.Fatal("provider failure must not mutate local state")
	}
}

func TestReconcileLostRaceIsNoop(t *testing.T) {
	winner := createdSession()
	winner.Status = payment.StatusExpired
	store := &stubStore{session: createdSession(), updateAffected: 0, reloadSession: &winner}
	provider := &stubProvider{session: payment.ProviderSession{
		SessionID:     "cs_test_1",
		Status:        "complete",
		PaymentStatus: "paid",
	}}
	eventStore := &stubEventStore{}
	svc := newService(store, provider, &stubAuditStore{}, eventStore)

	result, err := svc.Reconcile(context.Background(), "cs_test_1", "poll")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Transitioned {
		t.Fatal("losing reconciler must not report a transition")
	}
	if result.Session.Status != payment.StatusExpired {
		t.Fatalf("expected winner's state to be returned, got %s", result.Session.Status)
	}
	if store.invoicesPaid != 0 {
		t.Fatal("losing reconciler must not settle the invoice")
	}
	if len(eventStore.topics) != 0 {
		t.Fatalf("losing reconciler must not emit events, got %v", eventStore.topics)
	}
}

func TestReconcilePendingRecordsRawStatus(t *testing.T) {
	store := &stubStore{session: createdSession()}
	provider := &stubProvider{session: payment.ProviderSession{
		SessionID:     "cs_test_1",
		Status:        "open",
		PaymentStatus: "unpaid",
	}}
	svc := newService(store, provider, &stubAuditStore{}, &stubEventStore{})

	result, err := svc.Reconcile(context.Background(), "cs_test_1", "poll")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Outcome != payment.OutcomeNoop {
		t.Fatalf("unexpected outcome %s", result.Outcome)
	}
	if store.refreshes != 1 {
		t.Fatalf("expected raw status refresh, got %d", store.refreshes)
	}
	if len(store.updates) != 0 {
		t.Fatal("pending session must not transition")
	}
}

func TestReconcileUnknownSession(t *testing.T) {
	store := &stubStore{sessionErr: pgx.ErrNoRows}
	svc := newService(store, &stubProvider{}, &stubAuditStore{}, &stubEventStore{})

	_, err := svc.Reconcile(context.Background(), "cs_missing", "poll")
	if common.CodeOf(err) != common.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestGetInvoiceByID(t *testing.T) {
	inv := db.Invoice{ID: uuidToPg(uuid.New()), Status: "paid", Currency: "USD"}
	store := &stubStore{invoice: &inv}
	svc := newService(store, &stubProvider{}, &stubAuditStore{}, &stubEventStore{})

	got, err := svc.GetInvoice(context.Background(), db.UUIDString(inv.ID))
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if got.Status != "paid" {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestGetInvoiceRejectsMalformedID(t *testing.T) {
	svc := newService(&stubStore{}, &stubProvider{}, &stubAuditStore{}, &stubEventStore{})

	_, err := svc.GetInvoice(context.Background(), "not-a-uuid")
	if common.CodeOf(err) != common.CodeValidationFailed {
		t.Fatalf("expected VALIDATION_FAILED, got %v", err)
	}
}

func TestGetInvoiceUnknown(t *testing.T) {
	svc := newService(&stubStore{}, &stubProvider{}, &stubAuditStore{}, &stubEventStore{})

	_, err := svc.GetInvoice(context.Background(), uuid.NewString())
	if common.CodeOf(err) != common.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestCreateSessionRejectsInvalidCart(t *testing.T) {
	store := &stubStore{}
	provider := &stubProvider{}
	svc := newService(store, provider, &stubAuditStore{}, &stubEventStore{})

	_, err := svc.CreateSession(context.Background(), nil, "USD")
	if common.CodeOf(err) != common.CodeValidationFailed {
		t.Fatalf("expected VALIDATION_FAILED, got %v", err)
	}
	if provider.creates != 0 || store.invoiceCreated != 0 {
		t.Fatal("invalid cart must not reach the provider or the database")
	}
}

func TestCreateSessionProviderFailureCreatesNoSession(t *testing.T) {
	store := &stubStore{}
	provider := &stubProvider{err: errors.New("connection reset")}
	eventStore := &stubEventStore{}
	svc := newService(store, provider, &stubAuditStore{}, eventStore)

	items := []billing.LineItem{
		{LotID: "lot-1", Quantity: 1, UnitPrice: decimal.RequireFromString("10.00")},
	}
	_, err := svc.CreateSession(context.Background(), items, "USD")
	if !common.IsRetryable(err) {
		t.Fatalf("provider failure must be retryable, got %v", err)
	}
	if store.sessionCreated != 0 {
		t.Fatal("no session row may exist after a provider failure")
	}
	if len(eventStore.topics) != 0 {
		t.Fatalf("no events may be emitted, got %v", eventStore.topics)
	}
}

func TestCreateSessionPersistsInvoiceAndSession(t *testing.T) {
	store := &stubStore{}
	provider := &stubProvider{session: payment.ProviderSession{
		SessionID:     "cs_new",
		Status:        "open",
		PaymentStatus: "unpaid",
		CheckoutURL:   "https://checkout.stripe.com/c/pay/cs_new",
	}}
	eventStore := &stubEventStore{}
	svc := newService(store, provider, &stubAuditStore{}, eventStore)

	items := []billing.LineItem{
		{LotID: "lot-1", Title: "Walnut bureau", Quantity: 2, UnitPrice: decimal.RequireFromString("275.50")},
		{LotID: "lot-2", Title: "Silver ladle", Quantity: 1, UnitPrice: decimal.RequireFromString("79.99")},
	}
	result, err := svc.CreateSession(context.Background(), items, "USD")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if store.invoiceCreated != 1 || store.sessionCreated != 1 {
		t.Fatalf("expected invoice+session writes, got %d/%d", store.invoiceCreated, store.sessionCreated)
	}
	grand := db.DecimalFromNumeric(store.lastInvoice.GrandTotal)
	if got := grand.String(); got != "780.06" {
		t.Fatalf("persisted grand total = %s, want 780.06", got)
	}
	if store.lastSession.SessionID != "cs_new" {
		t.Fatalf("session id = %s", store.lastSession.SessionID)
	}
	if result.Session.Status != payment.StatusCreated {
		t.Fatalf("new session status = %s", result.Session.Status)
	}
	found := false
	for _, topic := range eventStore.topics {
		if topic == events.TopicSessionCreated {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %s event, got %v", events.TopicSessionCreated, eventStore.topics)
	}
}
