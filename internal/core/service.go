package core

import (
	"bloodbank/internal/infra/persistence/memory"
	"bloodbank/pkg/domain"
	"context"
	"errors"
	"fmt"
	"time"
)

// Operation names used for logging, metrics, traces and audit entries.
const (
	opRegisterPatient      = "register_patient"
	opUpdatePatient        = "update_patient"
	opRecordDonation       = "record_donation"
	opCreateDistribution   = "create_distribution"
	opSubmitSingleRequest  = "submit_single_request"
	opSubmitMCIRequest     = "submit_mci_request"
	opRecordRejection      = "record_rejection"
	opGetRequest           = "get_request"
	opListIssuances        = "list_issuances"
	opGetRejection         = "get_rejection"
	opListRejections       = "list_rejections"
	opListDistributions    = "list_distributions"
	opGetPatient           = "get_patient"
	opOutstandingInventory = "outstanding_inventory"
	opInventorySummary     = "inventory_summary"
)

const (
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 25 * time.Millisecond
)

// Service coordinates the blood bank's transactional operations over a
// persistent store.
type Service struct {
	store            PersistentStore
	allocator        *AllocationEngine
	logger           Logger
	clock            Clock
	metrics          MetricsRecorder
	allocMetrics     AllocationMetrics
	tracer           Tracer
	audit            AuditRecorder
	archive          RejectionArchive
	maxAttempts      int
	retryBackoff     time.Duration
	singleRejections bool
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithLogger routes service logs to logger.
func WithLogger(logger Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the clock used for audit timestamps.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithMetricsRecorder installs an operation recorder. Recorders that also
// implement AllocationMetrics receive per blood type unit counts.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if recorder == nil {
			return
		}
		s.metrics = recorder
		if alloc, ok := recorder.(AllocationMetrics); ok {
			s.allocMetrics = alloc
		}
	}
}

// WithTracer installs a tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithAuditRecorder installs an audit recorder.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(s *Service) {
		if recorder != nil {
			s.audit = recorder
		}
	}
}

// WithRejectionArchive copies every persisted rejection summary to archive.
func WithRejectionArchive(archive RejectionArchive) ServiceOption {
	return func(s *Service) { s.archive = archive }
}

// WithBatchSize sets how many inventory rows the allocation engine fetches at once.
func WithBatchSize(n int) ServiceOption {
	return func(s *Service) { s.allocator = NewAllocationEngine(n) }
}

// WithMaxAttempts bounds how often a request is retried after a concurrency conflict.
func WithMaxAttempts(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the pause between conflict retries.
func WithRetryBackoff(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d >= 0 {
			s.retryBackoff = d
		}
	}
}

// WithSingleRequestRejections controls whether declined single requests also
// persist a rejection summary. MCI requests always do.
func WithSingleRequestRejections(enabled bool) ServiceOption {
	return func(s *Service) { s.singleRejections = enabled }
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:            store,
		allocator:        NewAllocationEngine(DefaultBatchSize),
		logger:           noopLogger{},
		clock:            systemClock{},
		metrics:          noopMetrics{},
		allocMetrics:     noopMetrics{},
		tracer:           noopTracer{},
		audit:            noopAudit{},
		maxAttempts:      defaultMaxAttempts,
		retryBackoff:     defaultRetryBackoff,
		singleRejections: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service and in-memory store with the given rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// run wraps an operation with tracing, metrics, logging and audit. fn returns
// the id of the affected entity when there is one.
func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context) (string, error)) error {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	entityID, err := fn(ctx)
	duration := time.Since(started)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	if err != nil {
		if isClientError(err) {
			s.logger.Warn("operation rejected", "operation", op, "entity_id", entityID, "error", err, "duration", duration)
		} else {
			s.logger.Error("operation failed", "operation", op, "entity_id", entityID, "error", err, "duration", duration)
		}
		s.recordAuditError(ctx, op, entityID, duration, err)
		return err
	}
	s.logger.Debug("operation completed", "operation", op, "entity_id", entityID, "duration", duration)
	s.recordAuditSuccess(ctx, op, entityID, duration)
	return nil
}

// isClientError reports outcomes caused by the caller's input or by stock
// levels rather than by the system.
func isClientError(err error) bool {
	var notFound domain.NotFoundError
	return errors.Is(err, domain.ErrInsufficientInventory) ||
		errors.Is(err, domain.ErrInvalidRequest) ||
		errors.Is(err, domain.ErrInvalidDistribution) ||
		errors.Is(err, domain.ErrUnknownBloodType) ||
		errors.As(err, &notFound)
}

// withRetry reruns fn while it reports a concurrency conflict.
func (s *Service) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = fn()
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return err
		}
		s.logger.Warn("concurrency conflict", "operation", op, "attempt", attempt, "max_attempts", s.maxAttempts)
		if attempt == s.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retryBackoff):
		}
	}
	return fmt.Errorf("%s: gave up after %d attempts: %w", op, s.maxAttempts, err)
}
