package kernel

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/spendsave/internal/engine/events"
	svcerrors "github.com/R3E-Network/spendsave/internal/errors"
)

// =============================================================================
// Operation scope
// =============================================================================

// frame is the state of one outer operation. It lives in the context passed
// to the operation body and must not be shared with other goroutines.
type frame struct {
	k      *Kernel
	id     string
	name   string
	active atomic.Bool

	journal   []func()
	transient map[transientKey]TxContext
	events    []events.Event
	onCommit  []func()
}

type frameKey struct{}

type savepoint struct {
	journal, events, hooks int
}

func newFrame(k *Kernel, name string) *frame {
	f := &frame{
		k:         k,
		id:        uuid.NewString(),
		name:      name,
		transient: make(map[transientKey]TxContext),
	}
	f.active.Store(true)
	return f
}

// record appends an undo step for a write that has already been applied.
func (f *frame) record(undo func()) {
	f.journal = append(f.journal, undo)
}

func (f *frame) emit(e events.Event) {
	f.events = append(f.events, e)
}

func (f *frame) mark() savepoint {
	return savepoint{journal: len(f.journal), events: len(f.events), hooks: len(f.onCommit)}
}

// rollback undoes every write recorded after sp, newest first, and drops the
// events and commit hooks queued after it.
func (f *frame) rollback(sp savepoint) {
	for i := len(f.journal) - 1; i >= sp.journal; i-- {
		f.journal[i]()
	}
	f.journal = f.journal[:sp.journal]
	f.events = f.events[:sp.events]
	f.onCommit = f.onCommit[:sp.hooks]
}

// close makes the frame unreachable and wipes the transient store.
func (f *frame) close() {
	f.active.Store(false)
	for key := range f.transient {
		delete(f.transient, key)
	}
	f.transient = nil
	f.journal = nil
}

// frameFrom returns the live frame of this kernel carried by ctx, if any.
func (k *Kernel) frameFrom(ctx context.Context) *frame {
	if ctx == nil {
		return nil
	}
	f, ok := ctx.Value(frameKey{}).(*frame)
	if !ok || f.k != k || !f.active.Load() {
		return nil
	}
	return f
}

// InOperation reports whether ctx carries a live operation scope of k.
func (k *Kernel) InOperation(ctx context.Context) bool {
	return k.frameFrom(ctx) != nil
}

// OperationID returns the ID of the operation carried by ctx.
func (k *Kernel) OperationID(ctx context.Context) string {
	if f := k.frameFrom(ctx); f != nil {
		return f.id
	}
	return ""
}

// Execute runs fn as one indivisible operation. No other operation touches
// kernel state while fn runs. If fn returns an error or panics, every write
// made through the kernel inside fn is undone and its events are dropped;
// otherwise the events are published and commit hooks run.
//
// Calling Execute with a context that already carries this kernel's operation
// nests: only the writes made by the nested fn are undone when it fails, and
// the error is returned to the enclosing body.
//
// The transient store (transaction contexts) is wiped when the outer
// operation ends, on every exit path.
func (k *Kernel) Execute(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if f := k.frameFrom(ctx); f != nil {
		sp := f.mark()
		if err := fn(ctx); err != nil {
			f.rollback(sp)
			k.log.WithFields(logrus.Fields{
				"operation":    name,
				"outer":        f.name,
				"operation_id": f.id,
			}).WithError(err).Debug("nested operation reverted")
			return err
		}
		return nil
	}

	start := time.Now()
	published, hooks, err := k.run(ctx, name, fn)
	k.metrics.RecordOperation(name, time.Since(start), err)
	if err != nil {
		k.metrics.RecordRevert(name, svcerrors.KindName(err))
		return err
	}

	for _, e := range published {
		k.events.LogWithContext(ctx, e)
	}
	for _, h := range hooks {
		h()
	}
	return nil
}

func (k *Kernel) run(ctx context.Context, name string, fn func(ctx context.Context) error) (published []events.Event, hooks []func(), err error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	f := newFrame(k, name)
	defer f.close()

	defer func() {
		if r := recover(); r != nil {
			f.rollback(savepoint{})
			k.log.WithFields(logrus.Fields{
				"operation":    name,
				"operation_id": f.id,
			}).Errorf("operation panicked: %v", r)
			panic(r)
		}
	}()

	if err := fn(context.WithValue(ctx, frameKey{}, f)); err != nil {
		f.rollback(savepoint{})
		k.log.WithFields(logrus.Fields{
			"operation":    name,
			"operation_id": f.id,
		}).WithError(err).Debug("operation reverted")
		return nil, nil, err
	}

	return f.events, f.onCommit, nil
}

// OnCommit registers fn to run after the operation carried by ctx commits.
// Without an operation fn runs immediately.
func (k *Kernel) OnCommit(ctx context.Context, fn func()) {
	if f := k.frameFrom(ctx); f != nil {
		f.onCommit = append(f.onCommit, fn)
		return
	}
	fn()
}

// Emit queues a module event on the operation carried by ctx. The event is
// published only if the operation commits.
func (k *Kernel) Emit(ctx context.Context, e events.Event) {
	if f := k.frameFrom(ctx); f != nil {
		e.OperationID, e.Operation = f.id, f.name
		f.emit(e)
		return
	}
	k.events.LogWithContext(ctx, e)
}

// mutate runs a kernel write inside the caller's operation, or inside a
// single-call operation of its own.
func (k *Kernel) mutate(ctx context.Context, op string, fn func(f *frame) error) error {
	if f := k.frameFrom(ctx); f != nil {
		return fn(f)
	}
	return k.Execute(ctx, op, func(ctx context.Context) error {
		return fn(k.frameFrom(ctx))
	})
}

// read runs fn with a consistent view of kernel state.
func (k *Kernel) read(ctx context.Context, fn func()) {
	if k.frameFrom(ctx) != nil {
		fn()
		return
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	fn()
}

// event starts a kernel event correlated with f.
func (f *frame) event(t events.EventType) *events.EventBuilder {
	return events.NewEvent(t).Component("kernel").Operation(f.id, f.name)
}

// =============================================================================
// Reentrancy guard
// =============================================================================

// Guard refuses nested entry into the entry point it protects. Enter is
// checked inside an operation, so a concurrent caller waits on the kernel
// lock instead of tripping the guard.
type Guard struct {
	name    string
	entered atomic.Bool
}

// NewGuard creates a guard for the named entry point.
func NewGuard(name string) *Guard {
	return &Guard{name: name}
}

// Enter sets the guard flag. The returned func clears it.
func (g *Guard) Enter() (func(), error) {
	if !g.entered.CompareAndSwap(false, true) {
		return nil, svcerrors.New(svcerrors.ErrReentrancyDetected, g.name, "")
	}
	return func() { g.entered.Store(false) }, nil
}

// Entered reports whether the guarded entry point is executing.
func (g *Guard) Entered() bool {
	return g.entered.Load()
}

// ExecuteGuarded is Execute with g held for the duration of fn.
func (k *Kernel) ExecuteGuarded(ctx context.Context, g *Guard, name string, fn func(ctx context.Context) error) error {
	return k.Execute(ctx, name, func(ctx context.Context) error {
		release, err := g.Enter()
		if err != nil {
			return err
		}
		defer release()
		return fn(ctx)
	})
}
