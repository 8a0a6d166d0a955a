// Package rowsync keeps one remote viewport client in sync with an ordered
// dataset. A Service answers the client's row requests, turns dataset
// structural events into wire notifications, and resends rows whose visible
// fields change while they are in the client's active window.
package rowsync

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/looplab/fsm"

	"github.com/marcus/gridsync/internal/dataset"
	"github.com/marcus/gridsync/internal/encoder"
	"github.com/marcus/gridsync/internal/protocol"
	"github.com/marcus/gridsync/internal/window"
)

// Session states.
const (
	StateUninitialized = "uninitialized"
	StateBound         = "bound"
	StateFailed        = "failed"
	StateClosed        = "closed"
)

const (
	eventBind  = "bind"
	eventFail  = "fail"
	eventClose = "close"
)

// DefaultInitialRows is the number of rows pushed by Start before the client
// has asked for anything.
const DefaultInitialRows = 40

var (
	// ErrUnsupportedEvent is reported when the dataset emits a structural
	// event without index information. The session cannot continue.
	ErrUnsupportedEvent = errors.New("unsupported structural event")
	// ErrClosed is returned by operations on a session that is no longer bound.
	ErrClosed = errors.New("session not bound")
)

// ClientRPC is the outbound notification channel to one client.
type ClientRPC interface {
	Reset(size int, fields []dataset.FieldID) error
	SetRowData(first int, rows []protocol.Row) error
	InsertRows(index, count int) error
	RemoveRows(index, count int) error
	SetFields(fields []dataset.FieldID) error
}

// Executor serializes work onto the hosting session's single-writer path.
// Dataset callbacks arrive on arbitrary goroutines and are submitted here
// before they touch session state. Structural events read the dataset, so
// fn must have run before the mutation that raised it returns. A host
// serving a dataset.MutationLocker holds that lock around every other
// Service call.
type Executor interface {
	Submit(fn func())
}

// ColumnSource is implemented by datasets that know how their fields are
// presented. Fields added while a session is bound take their column from
// it.
type ColumnSource interface {
	Column(field dataset.FieldID) (encoder.Column, bool)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(fn func())

func (f ExecutorFunc) Submit(fn func()) { f(fn) }

// Immediate runs submitted work inline on the mutating goroutine. It is
// enough when mutations and Service calls share one goroutine, as in tests.
var Immediate Executor = ExecutorFunc(func(fn func()) { fn() })

// Service synchronizes one client with one dataset.
type Service struct {
	ds   dataset.Dataset
	rpc  ClientRPC
	exec Executor

	tracker *window.Tracker
	enc     *encoder.Encoder
	keys    *encoder.KeyMapper

	fields      []dataset.FieldID
	size        int
	dirty       []dataset.ID
	dirtySet    map[dataset.ID]struct{}
	structSub   dataset.Subscription
	state       *fsm.FSM
	initialRows int
	onFatal     func(error)
	log         *slog.Logger

	columns    []encoder.Column
	generators []encoder.Generator
	cacheSize  int
}

// Option configures a Service.
type Option func(*Service)

// WithExecutor sets the executor dataset callbacks are funneled through.
func WithExecutor(e Executor) Option {
	return func(s *Service) { s.exec = e }
}

// WithFields restricts the visible fields. By default every dataset field
// is visible.
func WithFields(fields ...dataset.FieldID) Option {
	return func(s *Service) { s.fields = slices.Clone(fields) }
}

// WithColumns configures field presentation.
func WithColumns(cols ...encoder.Column) Option {
	return func(s *Service) { s.columns = append(s.columns, cols...) }
}

// WithGenerators adds row data generators after the row key generator.
func WithGenerators(gs ...encoder.Generator) Option {
	return func(s *Service) { s.generators = append(s.generators, gs...) }
}

// WithRowCache keeps up to n encoded rows between pushes.
func WithRowCache(n int) Option {
	return func(s *Service) { s.cacheSize = n }
}

// WithInitialRows sets how many rows Start pushes.
func WithInitialRows(n int) Option {
	return func(s *Service) { s.initialRows = max(n, 0) }
}

// WithFatalHandler registers fn to receive session-fatal errors raised from
// dataset callbacks.
func WithFatalHandler(fn func(error)) Option {
	return func(s *Service) { s.onFatal = fn }
}

// WithLogger sets the service's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// New binds a service to ds. It records the dataset size and subscribes to
// structural events when the dataset reports them.
func New(ds dataset.Dataset, rpc ClientRPC, opts ...Option) (*Service, error) {
	s := &Service{
		ds:          ds,
		rpc:         rpc,
		exec:        Immediate,
		dirtySet:    make(map[dataset.ID]struct{}),
		initialRows: DefaultInitialRows,
		onFatal:     func(error) {},
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.fields == nil {
		s.fields = ds.FieldIDs()
	}

	s.keys = encoder.NewKeyMapper()
	s.enc = encoder.New(ds,
		encoder.WithLogger(s.log),
		encoder.WithColumns(s.columns...),
		encoder.WithGenerators(append([]encoder.Generator{s.keys}, s.generators...)...),
		encoder.WithCacheSize(s.cacheSize),
	)
	s.tracker = window.NewTracker(ds, s.fields, s.onFieldChanged,
		window.WithLogger(s.log),
		window.WithDetachHook(s.enc.Destroy),
	)

	s.state = fsm.NewFSM(StateUninitialized, fsm.Events{
		{Name: eventBind, Src: []string{StateUninitialized}, Dst: StateBound},
		{Name: eventFail, Src: []string{StateBound}, Dst: StateFailed},
		{Name: eventClose, Src: []string{StateUninitialized, StateBound, StateFailed}, Dst: StateClosed},
	}, fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			s.log.Debug("session state", "from", e.Src, "to", e.Dst)
		},
	})

	s.size = ds.Size()
	if n, ok := ds.(dataset.StructureNotifier); ok {
		s.structSub = n.SubscribeStructure(func(ev dataset.Event) {
			s.exec.Submit(func() {
				if err := s.HandleEvent(ev); err != nil && !errors.Is(err, ErrClosed) {
					s.fail(err)
				}
			})
		})
	}
	if err := s.state.Event(context.Background(), eventBind); err != nil {
		return nil, fmt.Errorf("bind session: %w", err)
	}
	return s, nil
}

// State returns the current session state.
func (s *Service) State() string { return s.state.Current() }

// Size returns the dataset size as last reported to the client.
func (s *Service) Size() int { return s.size }

// Fields returns the visible fields.
func (s *Service) Fields() []dataset.FieldID { return slices.Clone(s.fields) }

// Start resets the client and pushes the first rows, assuming the client
// initially shows the top of the dataset.
func (s *Service) Start() error {
	if !s.bound() {
		return ErrClosed
	}
	if err := s.rpc.Reset(s.size, s.Fields()); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if n := min(s.initialRows, s.size); n > 0 {
		return s.RequestRows(0, n, 0, 0)
	}
	return nil
}

// RequestRows answers a client request for rows [first, first+count) while
// the client already holds [cachedFirst, cachedFirst+cachedCount). Only the
// requested rows are pushed; the active window becomes the union of both.
func (s *Service) RequestRows(first, count, cachedFirst, cachedCount int) error {
	if !s.bound() {
		return ErrClosed
	}
	requested, err := window.WithLength(first, count)
	if err != nil {
		return fmt.Errorf("request rows: %w", err)
	}
	active := requested
	if cachedCount != 0 {
		cached, err := window.WithLength(cachedFirst, cachedCount)
		if err != nil {
			return fmt.Errorf("request rows cache: %w", err)
		}
		active = requested.CombineWith(cached)
	}

	ids := s.ds.IDsInRange(requested.Start(), requested.Length())
	rows := make([]protocol.Row, 0, len(ids))
	for _, id := range ids {
		row, err := s.enc.Encode(id, s.fields)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	if err := s.rpc.SetRowData(first, rows); err != nil {
		return fmt.Errorf("set row data: %w", err)
	}
	s.tracker.SetActiveWindow(active)
	return nil
}

// DropRows releases the row keys of identities the client evicted, unless
// they are still inside the active window.
func (s *Service) DropRows(keys []string) {
	for _, key := range keys {
		id, ok := s.keys.Lookup(key)
		if ok && !s.tracker.IsActive(id) {
			s.enc.Destroy(id)
		}
	}
}

// Refresh schedules every active row for resending on the next Flush.
func (s *Service) Refresh() {
	s.enc.Purge()
	ids := s.tracker.ActiveIDs()
	slices.SortFunc(ids, func(a, b dataset.ID) int {
		return cmp.Compare(s.ds.IndexOf(a), s.ds.IndexOf(b))
	})
	for _, id := range ids {
		s.markDirty(id)
	}
}

// HandleEvent applies one structural dataset event. It must run on the
// session's serialized path.
func (s *Service) HandleEvent(ev dataset.Event) error {
	if !s.bound() {
		return ErrClosed
	}
	switch e := ev.(type) {
	case dataset.Inserted:
		s.size += e.Count
		if err := s.rpc.InsertRows(e.FirstIndex, e.Count); err != nil {
			return fmt.Errorf("insert rows: %w", err)
		}
		s.tracker.OnRecordsInserted(e.FirstIndex, e.Count)
		// New rows landing inside the window go out with the next flush.
		for _, id := range s.ds.IDsInRange(e.FirstIndex, e.Count) {
			if s.tracker.IsActive(id) {
				s.markDirty(id)
			}
		}
	case dataset.Removed:
		s.size -= e.Count
		if err := s.rpc.RemoveRows(e.FirstIndex, e.Count); err != nil {
			return fmt.Errorf("remove rows: %w", err)
		}
		s.tracker.OnRecordsRemoved(e.FirstIndex, e.Count, e.IDs)
	case dataset.FieldsAdded:
		return s.addFields(e.Fields)
	case dataset.FieldsRemoved:
		return s.removeFields(e.Fields)
	case dataset.ContentsChanged:
		return fmt.Errorf("%w: %s", ErrUnsupportedEvent, e)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedEvent, ev)
	}
	return nil
}

// Flush resends every dirty row that is still active, one single-row update
// each, at the row's current index. Encoding failures are returned joined;
// the other rows are still sent.
func (s *Service) Flush() error {
	if len(s.dirty) == 0 {
		return nil
	}
	dirty := s.dirty
	s.dirty = nil
	clear(s.dirtySet)
	if !s.bound() {
		return ErrClosed
	}

	var errs []error
	for _, id := range dirty {
		if !s.tracker.IsActive(id) {
			continue
		}
		index := s.ds.IndexOf(id)
		if index < 0 {
			continue
		}
		s.enc.Invalidate(id)
		row, err := s.enc.Encode(id, s.fields)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.rpc.SetRowData(index, []protocol.Row{row}); err != nil {
			return errors.Join(append(errs, fmt.Errorf("update row %s: %w", id, err))...)
		}
	}
	return errors.Join(errs...)
}

// Close detaches every listener and unsubscribes from the dataset. It is
// safe to call more than once and in any state.
func (s *Service) Close() {
	if s.state.Is(StateClosed) {
		return
	}
	s.teardown()
	if err := s.state.Event(context.Background(), eventClose); err != nil {
		s.log.Warn("close session", "err", err)
	}
}

func (s *Service) bound() bool { return s.state.Is(StateBound) }

func (s *Service) teardown() {
	s.tracker.DetachAll()
	if s.structSub != nil {
		s.structSub.Cancel()
	}
	s.keys.RemoveAll()
	s.enc.Purge()
	s.dirty = nil
	clear(s.dirtySet)
}

// fail moves the session to the failed state, releases its listeners, and
// reports err to the fatal handler.
func (s *Service) fail(err error) {
	if !s.bound() {
		return
	}
	s.log.Error("session failed", "err", err)
	s.teardown()
	if e := s.state.Event(context.Background(), eventFail); e != nil {
		s.log.Warn("fail session", "err", e)
	}
	s.onFatal(err)
}

// onFieldChanged runs on the mutating goroutine.
func (s *Service) onFieldChanged(id dataset.ID) {
	s.exec.Submit(func() { s.markDirty(id) })
}

func (s *Service) markDirty(id dataset.ID) {
	if _, ok := s.dirtySet[id]; ok {
		return
	}
	s.dirtySet[id] = struct{}{}
	s.dirty = append(s.dirty, id)
}

func (s *Service) addFields(fields []dataset.FieldID) error {
	var added []dataset.FieldID
	for _, f := range fields {
		if !slices.Contains(s.fields, f) {
			added = append(added, f)
		}
	}
	if len(added) == 0 {
		return nil
	}
	if cs, ok := s.ds.(ColumnSource); ok {
		for _, f := range added {
			if col, ok := cs.Column(f); ok {
				s.enc.SetColumn(col)
			}
		}
	}
	s.fields = append(s.fields, added...)
	s.tracker.OnFieldsAdded(added)
	if err := s.rpc.SetFields(s.Fields()); err != nil {
		return fmt.Errorf("set fields: %w", err)
	}
	// Active rows lack the new cells.
	s.Refresh()
	return nil
}

func (s *Service) removeFields(fields []dataset.FieldID) error {
	n := len(s.fields)
	s.fields = slices.DeleteFunc(s.fields, func(f dataset.FieldID) bool {
		return slices.Contains(fields, f)
	})
	if len(s.fields) == n {
		return nil
	}
	s.tracker.OnFieldsRemoved(fields)
	s.enc.Purge()
	if err := s.rpc.SetFields(s.Fields()); err != nil {
		return fmt.Errorf("set fields: %w", err)
	}
	return nil
}
