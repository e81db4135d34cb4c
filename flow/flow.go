// Package flow implements the pipeline runtime: a Flow is one node in an
// acyclic graph of streaming stages, owning worker goroutines, bounded
// input queues with per-slot hold policies, and a dynamic-change request
// queue. Buffers move source→sink carrying reference counts; the runtime
// releases exactly the references it takes.
package flow

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/mediaflow/codec"
	"github.com/zsiec/mediaflow/media"
)

// Runtime errors.
var (
	// ErrStopped is returned for operations on a flow whose workers have
	// been told to quit.
	ErrStopped = errors.New("flow: stopped")
	// ErrDisabled is returned when a disabled flow refuses new input.
	ErrDisabled = errors.New("flow: disabled")
	// ErrBadSlot marks an out-of-range slot index.
	ErrBadSlot = errors.New("flow: no such slot")
)

// TransactionMode declares how a worker bound to several input slots
// consumes them.
type TransactionMode int

const (
	// SyncJoin waits until every bound slot holds a buffer, then consumes
	// one from each.
	SyncJoin TransactionMode = iota
	// Void consumes each bound slot independently.
	Void
)

// ProcessFunc is the user-supplied transform. inputs holds one buffer per
// bound input slot (nil for slots that did not fire in Void mode). The
// function sends results with f.SetOutput and returns false on a
// fatal-to-stream condition; input references are owned by the runtime.
type ProcessFunc func(f *Flow, inputs []*media.Buffer) bool

// SourceFunc is one production iteration of a source flow: acquire or
// synthesize a buffer, stamp it, send it with f.SetOutput. Returning false
// ends the source (it emits EOF itself when the end is a natural one).
type SourceFunc func(f *Flow) bool

// SlotMap configures one worker: the input slots it creates and consumes,
// how many output slots the flow exposes, the transaction mode, and the
// transform.
type SlotMap struct {
	Inputs  []SlotConfig
	Outputs int
	Mode    TransactionMode
	Process ProcessFunc
}

// connection is one downstream edge of an output slot.
type connection struct {
	flow *Flow
	slot int
}

// outputSlot is an ordered list of downstream edges.
type outputSlot struct {
	mu    sync.Mutex
	conns []connection
}

type worker struct {
	slotIdx []int        // flow-wide indices of the slots this worker consumes
	slots   []*inputSlot // the slots themselves, captured at install time
	nSlots  int          // flow input count at install time, sizing the tuple
	process ProcessFunc
}

// Flow is one stage of the pipeline DAG.
type Flow struct {
	name string
	log  *slog.Logger

	inputs  []*inputSlot
	outputs []*outputSlot

	wg      sync.WaitGroup
	quit    chan struct{}
	stopped atomic.Bool

	disabled atomic.Bool
	eofSent  atomic.Bool

	// Source gate: a source worker blocks here until a downstream flow
	// attaches. Shutdown flips gateQuit under the same mutex so a gated
	// source wakes promptly.
	gateMu    sync.Mutex
	gateCond  *sync.Cond
	downCount int
	gateQuit  bool

	changes codec.ChangeQueue
}

// New creates an empty flow; configure it with SetAsSource or
// InstallSlotMap. If log is nil, slog.Default() is used.
func New(name string, log *slog.Logger) *Flow {
	if log == nil {
		log = slog.Default()
	}
	f := &Flow{
		name: name,
		log:  log.With("flow", name),
		quit: make(chan struct{}),
	}
	f.gateCond = sync.NewCond(&f.gateMu)
	return f
}

// Name returns the stage name.
func (f *Flow) Name() string { return f.name }

// Core returns the flow itself. Concrete flow types embed *Flow, so any of
// them satisfies interface{ Core() *Flow } — the hook graph builders use
// to reach the runtime node inside a factory-constructed value.
func (f *Flow) Core() *Flow { return f }

// InputCount returns the number of input slots.
func (f *Flow) InputCount() int { return len(f.inputs) }

// OutputCount returns the number of output slots.
func (f *Flow) OutputCount() int { return len(f.outputs) }

// ensureOutputs grows the output slot vector to n.
func (f *Flow) ensureOutputs(n int) {
	for len(f.outputs) < n {
		f.outputs = append(f.outputs, &outputSlot{})
	}
}

// SetAsSource configures the flow with outputs slots and no inputs, and
// starts the managed producer loop: each iteration first waits on the
// source gate, then calls run. Sources must poll an external origin; they
// make no progress while nothing is attached downstream.
func (f *Flow) SetAsSource(outputs int, run SourceFunc) error {
	if outputs <= 0 {
		return fmt.Errorf("flow %s: source needs at least one output slot", f.name)
	}
	if run == nil {
		return fmt.Errorf("flow %s: source needs a run function", f.name)
	}
	f.ensureOutputs(outputs)
	f.wg.Add(1)
	go f.runSource(run)
	return nil
}

func (f *Flow) runSource(run SourceFunc) {
	defer f.wg.Done()
	for {
		if !f.waitDownstream() {
			return
		}
		if !run(f) {
			return
		}
	}
}

// waitDownstream blocks while no downstream flow is attached. It returns
// false when the flow is shutting down.
func (f *Flow) waitDownstream() bool {
	f.gateMu.Lock()
	defer f.gateMu.Unlock()
	for f.downCount == 0 && !f.gateQuit {
		f.gateCond.Wait()
	}
	return !f.gateQuit
}

// InstallSlotMap appends sm's input slots, grows the output vector, and
// starts the worker(s): one goroutine joining all new slots in SyncJoin
// mode, one per slot in Void mode. It may be called more than once to give
// a flow several workers over disjoint slot sets; install every map before
// the first buffer is sent in.
func (f *Flow) InstallSlotMap(sm SlotMap) error {
	if len(sm.Inputs) == 0 {
		return fmt.Errorf("flow %s: slot map without input slots", f.name)
	}
	if sm.Process == nil {
		return fmt.Errorf("flow %s: slot map without process function", f.name)
	}
	base := len(f.inputs)
	var slots []int
	for _, cfg := range sm.Inputs {
		f.inputs = append(f.inputs, newInputSlot(cfg))
		slots = append(slots, base+len(slots))
	}
	f.ensureOutputs(sm.Outputs)

	newWorker := func(idx []int) *worker {
		w := &worker{slotIdx: idx, nSlots: len(f.inputs), process: sm.Process}
		for _, si := range idx {
			w.slots = append(w.slots, f.inputs[si])
		}
		return w
	}
	switch sm.Mode {
	case SyncJoin:
		f.wg.Add(1)
		go f.runWorker(newWorker(slots))
	case Void:
		for _, s := range slots {
			f.wg.Add(1)
			go f.runWorker(newWorker([]int{s}))
		}
	default:
		return fmt.Errorf("flow %s: unknown transaction mode %d", f.name, sm.Mode)
	}
	return nil
}

// runWorker dequeues one input tuple per round, invokes the transform, and
// exits once an EOF has passed through.
func (f *Flow) runWorker(w *worker) {
	defer f.wg.Done()
	inputs := make([]*media.Buffer, w.nSlots)
	for {
		sawEOF := false
		for i := range inputs {
			inputs[i] = nil
		}
		for i, slot := range w.slots {
			buf, ok := slot.popWait()
			if !ok {
				releaseAll(inputs)
				return
			}
			inputs[w.slotIdx[i]] = buf
			if buf.EOF() {
				sawEOF = true
			}
		}

		keep := w.process(f, inputs)
		releaseAll(inputs)

		if !keep {
			f.SetDisable()
			return
		}
		if sawEOF {
			// Guarantee propagation even when the transform forwarded
			// nothing, then exit after the delivery.
			if !f.eofSent.Load() {
				f.emitEOF()
			}
			return
		}
		if f.eofSent.Load() {
			return
		}
	}
}

func releaseAll(bufs []*media.Buffer) {
	for _, b := range bufs {
		if b != nil {
			b.Release()
		}
	}
}

// emitEOF sends an empty EOF-marked buffer on every output slot.
func (f *Flow) emitEOF() {
	for slot := range f.outputs {
		eof := media.WrapBytes(nil)
		eof.SetEOF(true)
		f.SetOutput(eof, slot)
	}
}

// AddDownFlow connects outSlot to down's inSlot and opens the source gate.
// Buffer order on the edge follows production order on outSlot.
func (f *Flow) AddDownFlow(down *Flow, outSlot, inSlot int) error {
	if outSlot < 0 || outSlot >= len(f.outputs) {
		return fmt.Errorf("%w: output %d of %s", ErrBadSlot, outSlot, f.name)
	}
	if inSlot < 0 || inSlot >= len(down.inputs) {
		return fmt.Errorf("%w: input %d of %s", ErrBadSlot, inSlot, down.name)
	}
	out := f.outputs[outSlot]
	out.mu.Lock()
	out.conns = append(out.conns, connection{flow: down, slot: inSlot})
	out.mu.Unlock()

	f.gateMu.Lock()
	f.downCount++
	f.gateCond.Broadcast()
	f.gateMu.Unlock()

	f.log.Debug("downstream attached", "to", down.name, "outSlot", outSlot, "inSlot", inSlot)
	return nil
}

// RemoveDownFlow disconnects every edge to down. When the last edge goes,
// the source re-gates within one iteration.
func (f *Flow) RemoveDownFlow(down *Flow) {
	removed := 0
	for _, out := range f.outputs {
		out.mu.Lock()
		kept := out.conns[:0]
		for _, c := range out.conns {
			if c.flow == down {
				removed++
				continue
			}
			kept = append(kept, c)
		}
		out.conns = kept
		out.mu.Unlock()
	}
	if removed > 0 {
		f.gateMu.Lock()
		f.downCount -= removed
		f.gateCond.Broadcast()
		f.gateMu.Unlock()
		f.log.Debug("downstream detached", "from", down.name, "edges", removed)
	}
}

// SendInput hands one buffer reference to an input slot, applying the
// slot's hold policy. Ownership transfers regardless of outcome. A
// disabled or stopped flow refuses input.
func (f *Flow) SendInput(buf *media.Buffer, slot int) error {
	if slot < 0 || slot >= len(f.inputs) {
		buf.Release()
		return fmt.Errorf("%w: input %d of %s", ErrBadSlot, slot, f.name)
	}
	if f.disabled.Load() {
		buf.Release()
		return ErrDisabled
	}
	return f.inputs[slot].push(buf)
}

// SetOutput delivers buf to every downstream edge of the output slot, in
// attach order, consuming the caller's reference. An EOF buffer is also
// remembered so the sending worker exits after the delivery.
func (f *Flow) SetOutput(buf *media.Buffer, slot int) error {
	if slot < 0 || slot >= len(f.outputs) {
		buf.Release()
		return fmt.Errorf("%w: output %d of %s", ErrBadSlot, slot, f.name)
	}
	if buf.EOF() {
		f.eofSent.Store(true)
	}
	out := f.outputs[slot]
	out.mu.Lock()
	conns := make([]connection, len(out.conns))
	copy(conns, out.conns)
	out.mu.Unlock()

	for _, c := range conns {
		if err := c.flow.SendInput(buf.Retain(), c.slot); err != nil {
			f.log.Debug("downstream refused buffer", "to", c.flow.name, "error", err)
		}
	}
	buf.Release()
	return nil
}

// SetDisable makes the flow refuse further input and signals EOF
// downstream.
func (f *Flow) SetDisable() {
	if f.disabled.Swap(true) {
		return
	}
	if !f.eofSent.Load() {
		f.emitEOF()
	}
	f.log.Info("flow disabled")
}

// Disabled reports whether the flow refuses input.
func (f *Flow) Disabled() bool { return f.disabled.Load() }

// RequestChange appends a dynamic-parameter change; the transform consumes
// it before its next process step via PeekChange.
func (f *Flow) RequestChange(mask uint32, param *codec.ChangeParam) {
	f.changes.Push(mask, param)
}

// HasChangeRequest reports whether a change is pending.
func (f *Flow) HasChangeRequest() bool { return f.changes.Pending() }

// PeekChange pops the oldest pending change.
func (f *Flow) PeekChange() (codec.ChangeRequest, bool) { return f.changes.Peek() }

// Quit returns a channel closed at shutdown, for rate-paced sources to
// select against their sleep.
func (f *Flow) Quit() <-chan struct{} { return f.quit }

// Sleep pauses for d or until shutdown, whichever comes first. It returns
// false when the flow is shutting down.
func (f *Flow) Sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-f.quit:
		return false
	}
}

// stopRequested reports whether StopAllThreads has run.
func (f *Flow) stopRequested() bool { return f.stopped.Load() }

// StopAllThreads sets every worker's shutdown flag, wakes every condition
// variable (slot queues and the source gate), joins the workers, and
// drains remaining queues, releasing their buffer references. It is
// idempotent. Downstream flows are stopped first only at graph-teardown
// time; normal termination rides the EOF-carrying buffer.
func (f *Flow) StopAllThreads() {
	if f.stopped.Swap(true) {
		return
	}
	close(f.quit)

	f.gateMu.Lock()
	f.gateQuit = true
	f.gateCond.Broadcast()
	f.gateMu.Unlock()

	for _, s := range f.inputs {
		s.setQuit()
	}
	f.wg.Wait()
	for _, s := range f.inputs {
		s.drain()
	}
	f.log.Debug("flow stopped")
}

// Wait blocks until every worker has exited, without initiating shutdown.
// Useful after natural EOF propagation.
func (f *Flow) Wait() { f.wg.Wait() }

// PendingInput returns the queue depth of one input slot, for tests and
// diagnostics.
func (f *Flow) PendingInput(slot int) int {
	if slot < 0 || slot >= len(f.inputs) {
		return 0
	}
	return f.inputs[slot].pending()
}
