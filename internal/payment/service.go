package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lotline/auction-checkout/internal/audit"
	"github.com/lotline/auction-checkout/internal/billing"
	"github.com/lotline/auction-checkout/internal/common"
	"github.com/lotline/auction-checkout/internal/db"
	"github.com/lotline/auction-checkout/internal/events"
	"github.com/lotline/auction-checkout/internal/lock"
	"github.com/lotline/auction-checkout/internal/obs"
	"github.com/lotline/auction-checkout/internal/resilience"
)

// Service owns the payment session lifecycle: opening checkout sessions and
// reconciling local state against the provider's authoritative view.
type Service struct {
	Q        Store
	Pool     TxBeginner
	Provider Provider
	Breaker  *resilience.Breaker
	Locker   *lock.Locker
	Audit    audit.Service
	Events   *events.Bus

	Rates    billing.RateConfig
	Currency string

	ProviderTimeout time.Duration
	LockTTL         time.Duration
	SuccessURL      string
	CancelURL       string
}

// CheckoutSession is the result of opening a new session.
type CheckoutSession struct {
	Session db.PaymentSession
	Invoice db.Invoice
	Totals  billing.InvoiceTotals
}

// ReconcileResult reports what a reconciliation pass did.
type ReconcileResult struct {
	Session      db.PaymentSession
	Transitioned bool
	Outcome      string
}

// Reconciliation outcomes.
const (
	OutcomeTransitioned = "transitioned"
	OutcomeNoop         = "noop"
	OutcomeContended    = "contended"
)

// CreateSession computes invoice totals for the cart, persists a pending
// invoice, opens a provider checkout session and records it locally in the
// created state.
func (s *Service) CreateSession(ctx context.Context, items []billing.LineItem, currency string) (CheckoutSession, error) {
	var zero CheckoutSession
	if s == nil || s.Q == nil || s.Provider == nil {
		return zero, errors.New("payment service not configured")
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.CreateSession")
	defer span.End()

	result := "error"
	defer func() {
		if obs.CheckoutSessionTotal != nil {
			obs.CheckoutSessionTotal.WithLabelValues(result).Inc()
		}
	}()

	if strings.TrimSpace(currency) == "" {
		currency = s.Currency
	}
	totals, err := billing.ComputeInvoiceTotals(items, s.Rates, currency)
	if err != nil {
		var verrs billing.ValidationErrors
		if errors.As(err, &verrs) {
			result = "invalid"
			return zero, verrs.AsAppError()
		}
		return zero, err
	}
	rounded := totals.Rounded()

	// Invoice and session rows commit together: a provider failure after the
	// invoice insert must not leave an orphaned pending invoice behind.
	q := s.Q
	var tx pgx.Tx
	if s.Pool != nil {
		tx, err = s.Pool.Begin(ctx)
		if err != nil {
			return zero, fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()
		q = s.Q.WithTx(tx)
	}

	invoice, err := q.CreateInvoice(ctx, db.CreateInvoiceParams{
		Subtotal:            db.NumericFromDecimal(rounded.Subtotal),
		BuyersPremiumAmount: db.NumericFromDecimal(rounded.BuyersPremiumAmount),
		TaxAmount:           db.NumericFromDecimal(rounded.TaxAmount),
		GrandTotal:          db.NumericFromDecimal(rounded.GrandTotal),
		Currency:            currency,
	})
	if err != nil {
		return zero, fmt.Errorf("create invoice: %w", err)
	}
	invoiceID := db.UUIDString(invoice.ID)
	span.SetAttributes(attribute.String("invoice.id", invoiceID))

	providerSession, err := s.callProvider(ctx, func(ctx context.Context) (ProviderSession, error) {
		return s.Provider.CreateSession(ctx, CreateSessionRequest{
			InvoiceID:   invoiceID,
			AmountMinor: rounded.GrandTotal.Shift(2).IntPart(),
			Currency:    currency,
			Description: fmt.Sprintf("Auction invoice %s", invoiceID),
			SuccessURL:  s.SuccessURL,
			CancelURL:   s.CancelURL,
		})
	})
	if err != nil {
		return zero, common.Upstream("payment provider unavailable", err)
	}
	if strings.TrimSpace(providerSession.SessionID) == "" {
		return zero, common.Upstream("payment provider returned no session id", nil)
	}

	raw := rawProviderStatus(providerSession.Status, providerSession.PaymentStatus)
	session, err := q.CreatePaymentSession(ctx, db.CreatePaymentSessionParams{
		SessionID:             providerSession.SessionID,
		InvoiceID:             invoice.ID,
		Amount:                db.NumericFromDecimal(rounded.GrandTotal),
		Currency:              currency,
		ProviderPaymentStatus: pgtype.Text{String: raw, Valid: raw != ""},
		CheckoutURL:           pgtype.Text{String: providerSession.CheckoutURL, Valid: providerSession.CheckoutURL != ""},
	})
	if err != nil {
		return zero, fmt.Errorf("create payment session: %w", err)
	}
	if tx != nil {
		if err := tx.Commit(ctx); err != nil {
			return zero, fmt.Errorf("commit tx: %w", err)
		}
	}

	if auditErr := s.Audit.Record(ctx, audit.Event{
		Type:       "checkout.session_created",
		EntityType: "payment_session",
		EntityID:   session.SessionID,
		Metadata: map[string]any{
			"invoiceId":  invoiceID,
			"grandTotal": rounded.GrandTotal.String(),
			"currency":   currency,
		},
	}); auditErr != nil {
		zerolog.Ctx(ctx).Warn().Err(auditErr).Str("session_id", session.SessionID).Msg("audit write failed")
	}
	if s.Events != nil {
		if _, emitErr := s.Events.Emit(ctx, events.TopicSessionCreated, invoice.ID, map[string]any{
			"sessionId": session.SessionID,
			"invoiceId": invoiceID,
			"amount":    rounded.GrandTotal.String(),
			"currency":  currency,
		}); emitErr != nil {
			zerolog.Ctx(ctx).Warn().Err(emitErr).Str("session_id", session.SessionID).Msg("event emit failed")
		}
	}

	result = "success"
	return CheckoutSession{Session: session, Invoice: invoice, Totals: totals}, nil
}

// GetSession loads the local session row.
func (s *Service) GetSession(ctx context.Context, sessionID string) (db.PaymentSession, error) {
	session, err := s.Q.GetPaymentSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.PaymentSession{}, common.NotFound("payment session", err)
		}
		return db.PaymentSession{}, err
	}
	return session, nil
}

// GetInvoice loads an invoice by its string identifier.
func (s *Service) GetInvoice(ctx context.Context, invoiceID string) (db.Invoice, error) {
	id, err := db.ToUUID(invoiceID)
	if err != nil {
		return db.Invoice{}, common.Validation("invalid invoice id", err)
	}
	invoice, err := s.Q.GetInvoice(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.Invoice{}, common.NotFound("invoice", err)
		}
		return db.Invoice{}, err
	}
	return invoice, nil
}

// Reconcile fetches the provider's view of the session and converges local
// state onto it. The pass is idempotent: terminal sessions short-circuit
// before any provider call and concurrent passes collapse into one winner via
// conditional row updates. A provider failure mutates nothing and surfaces as
// a retryable upstream error.
func (s *Service) Reconcile(ctx context.Context, sessionID, trigger string) (ReconcileResult, error) {
	var zero ReconcileResult
	if s == nil || s.Q == nil || s.Provider == nil {
		return zero, errors.New("payment service not configured")
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.Reconcile")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("reconcile.trigger", trigger),
	)

	outcome := "error"
	defer func() {
		span.SetAttributes(attribute.String("reconcile.outcome", outcome))
		if obs.ReconcileTotal != nil {
			obs.ReconcileTotal.WithLabelValues(trigger, outcome).Inc()
		}
	}()

	session, err := s.Q.GetPaymentSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, common.NotFound("payment session", err)
		}
		return zero, err
	}
	if IsTerminal(session.Status) {
		outcome = OutcomeNoop
		return ReconcileResult{Session: session, Outcome: OutcomeNoop}, nil
	}

	var result ReconcileResult
	run := func(ctx context.Context) error {
		var runErr error
		result, runErr = s.reconcileOnce(ctx, session, trigger)
		return runErr
	}
	if s.Locker != nil {
		err = s.Locker.TryWithLock(ctx, "reconcile:"+sessionID, s.lockTTL(), run)
		if errors.Is(err, lock.ErrNotAcquired) {
			// Another instance is already converging this session. Report the
			// last observed state; the caller can poll again.
			outcome = OutcomeContended
			return ReconcileResult{Session: session, Outcome: OutcomeContended}, nil
		}
	} else {
		err = run(ctx)
	}
	if err != nil {
		return zero, err
	}
	outcome = result.Outcome
	return result, nil
}

func (s *Service) reconcileOnce(ctx context.Context, session db.PaymentSession, trigger string) (ReconcileResult, error) {
	var zero ReconcileResult

	start := time.Now()
	providerSession, err := s.callProvider(ctx, func(ctx context.Context) (ProviderSession, error) {
		return s.Provider.RetrieveSession(ctx, session.SessionID)
	})
	if obs.ProviderRetrieveLatency != nil {
		label := "success"
		if err != nil {
			label = "error"
		}
		obs.ProviderRetrieveLatency.WithLabelValues(label).Observe(obs.DurationMillis(time.Since(start)))
	}
	if err != nil {
		return zero, common.Upstream("payment provider unavailable", err)
	}

	target, transition := mapProviderState(providerSession.Status, providerSession.PaymentStatus)
	raw := rawProviderStatus(providerSession.Status, providerSession.PaymentStatus)
	rawText := pgtype.Text{String: raw, Valid: raw != ""}

	if !transition {
		if _, refreshErr := s.Q.RefreshProviderPaymentStatus(ctx, session.SessionID, rawText); refreshErr != nil {
			zerolog.Ctx(ctx).Warn().Err(refreshErr).Str("session_id", session.SessionID).Msg("provider status refresh failed")
		}
		session.ProviderPaymentStatus = rawText
		return ReconcileResult{Session: session, Outcome: OutcomeNoop}, nil
	}

	q := s.Q
	var tx pgx.Tx
	if s.Pool != nil {
		tx, err = s.Pool.Begin(ctx)
		if err != nil {
			return zero, fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()
		q = s.Q.WithTx(tx)
	}

	affected, err := q.UpdatePaymentSessionStatus(ctx, db.UpdatePaymentSessionStatusParams{
		SessionID:             session.SessionID,
		FromStatus:            StatusCreated,
		Status:                target,
		ProviderPaymentStatus: rawText,
	})
	if err != nil {
		return zero, fmt.Errorf("update session status: %w", err)
	}
	if affected == 0 {
		// A concurrent reconciler already applied a terminal transition.
		if tx != nil {
			_ = tx.Rollback(ctx)
		}
		current, loadErr := s.Q.GetPaymentSession(ctx, session.SessionID)
		if loadErr != nil {
			return zero, loadErr
		}
		return ReconcileResult{Session: current, Outcome: OutcomeNoop}, nil
	}

	var settled bool
	if target == StatusCompleted {
		method := providerSession.PaymentMethod
		paid, err := q.MarkInvoicePaid(ctx, db.MarkInvoicePaidParams{
			ID:            session.InvoiceID,
			PaymentMethod: pgtype.Text{String: method, Valid: strings.TrimSpace(method) != ""},
		})
		if err != nil {
			return zero, fmt.Errorf("mark invoice paid: %w", err)
		}
		settled = paid > 0
	}

	if tx != nil {
		if err := tx.Commit(ctx); err != nil {
			return zero, fmt.Errorf("commit tx: %w", err)
		}
	}

	session.Status = target
	session.ProviderPaymentStatus = rawText
	s.afterTransition(ctx, session, trigger, settled)
	return ReconcileResult{Session: session, Transitioned: true, Outcome: OutcomeTransitioned}, nil
}

// afterTransition emits audit and domain events once the transition is
// durable. Failures here are logged, never propagated: the state change has
// already committed.
func (s *Service) afterTransition(ctx context.Context, session db.PaymentSession, trigger string, settled bool) {
	logger := zerolog.Ctx(ctx)
	if auditErr := s.Audit.Record(ctx, audit.Event{
		Type:       "payment.session_" + session.Status,
		EntityType: "payment_session",
		EntityID:   session.SessionID,
		Metadata: map[string]any{
			"invoiceId": db.UUIDString(session.InvoiceID),
			"status":    session.Status,
			"trigger":   trigger,
		},
	}); auditErr != nil {
		logger.Warn().Err(auditErr).Str("session_id", session.SessionID).Msg("audit write failed")
	}
	if settled {
		if auditErr := s.Audit.Record(ctx, audit.Event{
			Type:       "invoice.paid",
			EntityType: "invoice",
			EntityID:   db.UUIDString(session.InvoiceID),
			Metadata: map[string]any{
				"sessionId": session.SessionID,
				"trigger":   trigger,
			},
		}); auditErr != nil {
			logger.Warn().Err(auditErr).Str("session_id", session.SessionID).Msg("audit write failed")
		}
	}
	if s.Events == nil {
		return
	}
	payload := map[string]any{
		"sessionId": session.SessionID,
		"invoiceId": db.UUIDString(session.InvoiceID),
		"status":    session.Status,
		"trigger":   trigger,
	}
	var topic string
	switch session.Status {
	case StatusCompleted:
		topic = events.TopicPaymentCompleted
	case StatusExpired:
		topic = events.TopicPaymentExpired
	case StatusFailed:
		topic = events.TopicPaymentFailed
	default:
		return
	}
	if _, emitErr := s.Events.Emit(ctx, topic, session.InvoiceID, payload); emitErr != nil {
		logger.Warn().Err(emitErr).Str("session_id", session.SessionID).Msg("event emit failed")
	}
	if session.Status == StatusCompleted {
		if _, emitErr := s.Events.Emit(ctx, events.TopicInvoicePaid, session.InvoiceID, payload); emitErr != nil {
			logger.Warn().Err(emitErr).Str("session_id", session.SessionID).Msg("event emit failed")
		}
	}
}

// callProvider funnels every provider round-trip through the circuit breaker
// and the configured timeout.
func (s *Service) callProvider(ctx context.Context, call func(context.Context) (ProviderSession, error)) (ProviderSession, error) {
	if s.Breaker != nil && !s.Breaker.Allow(ctx) {
		return ProviderSession{}, resilience.ErrOpenCircuit
	}
	timeout := s.ProviderTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := call(callCtx)
	if s.Breaker != nil {
		s.Breaker.Report(ctx, err == nil)
	}
	return result, err
}

func (s *Service) lockTTL() time.Duration {
	if s.LockTTL <= 0 {
		return 15 * time.Second
	}
	return s.LockTTL
}
