package license

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	licenseErrors "keygate/internal/errors"
	"keygate/internal/infrastructure"
)

// cycleTimeout bounds one full reconciliation cycle. The authority client
// carries its own request timeout; this is the outer bound covering file I/O
// as well.
const cycleTimeout = 30 * time.Second

// Options collects the reconciler's collaborators.
type Options struct {
	Store   *Store
	Client  *Client
	Checker *Checker
	Metrics *Metrics
	Logger  *slog.Logger
}

// Reconciler owns the process's single mutable license state slot. It runs
// reconciliation cycles (load cache, contact authority, evaluate policy,
// derive, persist) and exposes a read-only fast path for the host.
//
// The in-memory slot is read by many concurrent callers and written only by
// cycles; it is replaced wholesale so readers never observe a partial
// record. Concurrent cycle triggers are collapsed through singleflight, so
// at most one cycle's write is in flight at a time.
type Reconciler struct {
	store   *Store
	client  *Client
	checker *Checker
	metrics *Metrics
	logger  *slog.Logger

	mu    sync.RWMutex
	state *CachedState

	group singleflight.Group
}

// New creates a reconciler from its collaborators. Use Registry.Start to
// obtain the process-wide shared instance.
func New(opts Options) *Reconciler {
	logger := opts.Logger
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Reconciler{
		store:   opts.Store,
		client:  opts.Client,
		checker: opts.Checker,
		metrics: opts.Metrics,
		logger:  logger.With(slog.String("component", "license_reconciler")),
	}
}

// CachedLicense returns the current license state: the in-memory slot when
// populated, otherwise one durable-file load as a fallback, otherwise nil.
// It never triggers network I/O and is safe to call concurrently and
// frequently.
func (r *Reconciler) CachedLicense(ctx context.Context) *CachedState {
	r.mu.RLock()
	state := r.state
	r.mu.RUnlock()

	if state != nil {
		if r.metrics != nil {
			r.metrics.CacheHits.Add(ctx, 1)
		}
		return state
	}

	if r.metrics != nil {
		r.metrics.CacheMisses.Add(ctx, 1)
	}
	if loaded, ok := r.store.Load(ctx); ok {
		return loaded
	}
	return nil
}

// Resync forces a full reconciliation cycle. Concurrent calls share a single
// in-flight cycle. The returned error is informational for administrative
// callers; all failures are already logged and the previous state survives
// them.
func (r *Reconciler) Resync(ctx context.Context) error {
	_, err, _ := r.group.Do("reconcile", func() (interface{}, error) {
		// The cycle outlives the triggering caller: an aborted HTTP request
		// must not cancel a cycle other callers joined. Context values
		// (trace IDs) still flow through.
		cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cycleTimeout)
		defer cancel()
		return nil, r.runCycle(cycleCtx)
	})
	return err
}

// runCycle executes one load -> contact -> evaluate -> persist sequence.
func (r *Reconciler) runCycle(ctx context.Context) error {
	start := time.Now()
	cycleID := uuid.NewString()
	ctx = infrastructure.WithTraceID(ctx, cycleID)

	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(ctx, "license.reconcile",
		trace.WithAttributes(attribute.String("cycle_id", cycleID)),
	)
	defer span.End()

	r.logger.DebugContext(ctx, "reconciliation cycle started",
		slog.String("cycle_id", cycleID),
	)

	// LOAD_CACHE: seed the in-memory slot from the durable file so a remote
	// failure still leaves the host with the last known state.
	if prior, ok := r.store.Load(ctx); ok {
		r.seedIfEmpty(prior)
	}

	// CONTACT_AUTHORITY
	authorityStart := time.Now()
	record, err := r.client.Verify(ctx)
	if r.metrics != nil {
		r.metrics.recordAuthority(ctx, authorityStart, err)
	}
	if err != nil {
		// FALLBACK: the previously seeded or in-memory state and the durable
		// file stay untouched.
		span.RecordError(err)
		span.SetAttributes(attribute.String("cycle.outcome", "fallback"))
		if r.metrics != nil {
			r.metrics.ReconcileFallbacks.Add(ctx, 1)
			r.metrics.recordCycle(ctx, "fallback", start)
		}
		r.logger.WarnContext(ctx, "authority unreachable, keeping cached license state",
			slog.String("cycle_id", cycleID),
			slog.String("error", err.Error()),
			slog.Bool("has_cached_state", r.hasState()),
		)
		return fmt.Errorf("reconciliation fell back to cache: %w", err)
	}

	// EVALUATE_POLICY: absence of a remote response grants nothing.
	var grantedFlags map[string]bool
	if record != nil {
		grantedFlags = record.Flags
	}
	unauthorized := r.checker.FindUnauthorizedUsage(ctx, grantedFlags)
	if unauthorized && r.metrics != nil {
		r.metrics.UnauthorizedUsage.Add(ctx, 1)
	}

	// DERIVE_STATUS and build the full replacement record.
	next := NewCachedState(record, r.client.LicenseKey(), unauthorized, time.Now().UTC())

	// PERSIST: a failed write is logged but never rolls back the freshly
	// computed state; the in-memory slot stays authoritative.
	if err := r.store.Save(ctx, next); err != nil {
		if r.metrics != nil {
			r.metrics.PersistFailures.Add(ctx, 1)
		}
		r.logger.ErrorContext(ctx, "failed to persist license state",
			slog.String("cycle_id", cycleID),
			slog.String("error", fmt.Errorf("%w: %v", licenseErrors.ErrCachePersist, err).Error()),
		)
	}

	r.mu.Lock()
	r.state = next
	r.mu.Unlock()

	span.SetAttributes(
		attribute.String("cycle.outcome", "success"),
		attribute.String("license.derived_status", string(next.DerivedStatus)),
		attribute.Bool("license.unauthorized_usage", next.UnauthorizedFlagUsage),
	)
	if r.metrics != nil {
		r.metrics.recordCycle(ctx, "success", start)
	}
	r.logger.InfoContext(ctx, "reconciliation cycle completed",
		slog.String("cycle_id", cycleID),
		slog.String("derived_status", string(next.DerivedStatus)),
		slog.Bool("license_present", next.License != nil),
		slog.Bool("unauthorized_flag_usage", next.UnauthorizedFlagUsage),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (r *Reconciler) seedIfEmpty(state *CachedState) {
	r.mu.Lock()
	if r.state == nil {
		r.state = state
	}
	r.mu.Unlock()
}

func (r *Reconciler) hasState() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state != nil
}

// Registry is the shared registration point for the process-wide reconciler
// singleton. Inject one registry at process start and hand it to every
// subsystem; the first caller of Start constructs and runs the instance,
// later callers retrieve it without restarting.
type Registry struct {
	mu         sync.Mutex
	reconciler *Reconciler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Start returns the shared reconciler, constructing and registering it first
// if no instance exists. Registration happens before the first cycle runs so
// concurrent callers observe "already started" promptly. A failed first
// cycle is logged and never prevents the instance from being considered
// started: the system degrades to "no license" rather than failing the host.
func (g *Registry) Start(ctx context.Context, opts Options) *Reconciler {
	g.mu.Lock()
	if g.reconciler != nil {
		existing := g.reconciler
		g.mu.Unlock()
		return existing
	}
	rec := New(opts)
	g.reconciler = rec
	g.mu.Unlock()

	if err := rec.Resync(ctx); err != nil {
		rec.logger.WarnContext(ctx, "initial reconciliation failed, continuing with cached or absent state",
			slog.String("error", err.Error()),
		)
	}
	return rec
}

// Instance returns the shared reconciler, or false if Start was never
// called.
func (g *Registry) Instance() (*Reconciler, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reconciler == nil {
		return nil, false
	}
	return g.reconciler, true
}
