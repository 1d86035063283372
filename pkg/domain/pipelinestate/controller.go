// Package pipelinestate implements the pipeline state machine of
// spec.md §4.H: per-field value slots for a compiled pipeline, and a
// single-goroutine controller that publishes every slot write before
// firing the callback kinds §4.H/§5 require, so a callback never
// observes a half-updated stage.
package pipelinestate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kiara-project/kiara-go/pkg/domain/module"
	"github.com/kiara-project/kiara-go/pkg/domain/pipeline"
	"github.com/kiara-project/kiara-go/pkg/domain/value"
)

var (
	ErrUnknownPipelineInput = errors.New("unknown pipeline input field")
	ErrUnknownStep          = errors.New("unknown step")
	ErrUnknownStepOutput    = errors.New("unknown step output field")
)

// SlotStatus is the tagged-variant state of one value slot.
type SlotStatus string

const (
	SlotNotSet SlotStatus = "not_set"
	SlotSet    SlotStatus = "set"
)

// Slot holds one field's current value, its status, and a write
// counter a caller can use to detect whether it has already observed
// the current value.
type Slot struct {
	Value   *value.Value
	Status  SlotStatus
	Counter uint64
}

// Callbacks are the four kinds spec.md §4.H names. Any of them may be
// nil.
type Callbacks struct {
	OnPipelineInputsChanged  func(fields []string)
	OnStepInputsChanged      func(stepID string, fields []string)
	OnStepOutputsChanged     func(stepID string, fields []string)
	OnPipelineOutputsChanged func(fields []string)
}

// Controller is the single mutable-state owner for one pipeline run
// (spec.md §5): every slot read and write happens on one internal
// goroutine, reached only through a buffered command channel, so "all
// slot writes for one event are published before any callback for
// that event fires" holds regardless of which goroutine calls in.
type Controller struct {
	structure *pipeline.Structure
	callbacks Callbacks

	cmds      chan func()
	stopCh    chan struct{}
	closeOnce sync.Once

	pipelineInputs  map[string]*Slot
	stepInputs      map[string]map[string]*Slot
	stepOutputs     map[string]map[string]*Slot
	pipelineOutputs map[string]*Slot

	notifyMu sync.Mutex
	waiters  []chan struct{}
}

// New builds a Controller with every slot of structure seeded NotSet.
func New(structure *pipeline.Structure, callbacks Callbacks) *Controller {
	c := &Controller{
		structure:       structure,
		callbacks:       callbacks,
		cmds:            make(chan func(), 64),
		stopCh:          make(chan struct{}),
		pipelineInputs:  map[string]*Slot{},
		stepInputs:      map[string]map[string]*Slot{},
		stepOutputs:     map[string]map[string]*Slot{},
		pipelineOutputs: map[string]*Slot{},
	}
	for field := range structure.InputFields {
		c.pipelineInputs[field] = &Slot{Status: SlotNotSet}
	}
	for stepID, st := range structure.Steps {
		ins := make(map[string]*Slot, len(st.InputsSchema))
		for field := range st.InputsSchema {
			ins[field] = &Slot{Status: SlotNotSet}
		}
		c.stepInputs[stepID] = ins

		outs := make(map[string]*Slot, len(st.OutputsSchema))
		for field := range st.OutputsSchema {
			outs[field] = &Slot{Status: SlotNotSet}
		}
		c.stepOutputs[stepID] = outs
	}
	for alias := range structure.OutputAliases {
		c.pipelineOutputs[alias] = &Slot{Status: SlotNotSet}
	}

	go c.run()
	return c
}

func (c *Controller) run() {
	for {
		select {
		case cmd := <-c.cmds:
			cmd()
		case <-c.stopCh:
			return
		}
	}
}

// Close stops the controller's goroutine. It does not release slot
// state; Controller is single-use for the lifetime of one run.
func (c *Controller) Close() {
	c.closeOnce.Do(func() { close(c.stopCh) })
}

// exec runs f on the owner goroutine and blocks until it completes.
func (c *Controller) exec(f func()) {
	done := make(chan struct{})
	c.cmds <- func() {
		f()
		close(done)
	}
	<-done
}

// SetPipelineInputs sets the pipeline's external input fields and
// propagates each one into every step input slot linked to it,
// firing OnPipelineInputsChanged once and OnStepInputsChanged per
// affected step, after every slot write has landed.
func (c *Controller) SetPipelineInputs(ctx context.Context, inputs map[string]*value.Value) error {
	var outerErr error
	c.exec(func() {
		changedFields := make([]string, 0, len(inputs))
		for field, v := range inputs {
			slot, ok := c.pipelineInputs[field]
			if !ok {
				outerErr = fmt.Errorf("%w: %s", ErrUnknownPipelineInput, field)
				return
			}
			slot.Value = v
			slot.Status = SlotSet
			slot.Counter++
			changedFields = append(changedFields, field)
		}

		stepFieldsChanged := map[string][]string{}
		for stepID, st := range c.structure.Steps {
			for field, link := range st.InputLinks {
				if !link.IsPipelineInput {
					continue
				}
				if _, touched := inputs[link.PipelineInput]; !touched {
					continue
				}
				slot := c.stepInputs[stepID][field]
				slot.Value = c.pipelineInputs[link.PipelineInput].Value
				slot.Status = SlotSet
				slot.Counter++
				stepFieldsChanged[stepID] = append(stepFieldsChanged[stepID], field)
			}
		}

		c.bumpVersion()
		if len(changedFields) > 0 && c.callbacks.OnPipelineInputsChanged != nil {
			c.callbacks.OnPipelineInputsChanged(changedFields)
		}
		if c.callbacks.OnStepInputsChanged != nil {
			for stepID, fields := range stepFieldsChanged {
				c.callbacks.OnStepInputsChanged(stepID, fields)
			}
		}
	})
	return outerErr
}

// ProcessStep records stepID's produced outputs, propagates them into
// every dependent step's linked input slot and into any pipeline
// output alias sourced from this step, then fires
// OnStepOutputsChanged, OnStepInputsChanged (per dependent) and
// OnPipelineOutputsChanged, in that order, after every write lands.
func (c *Controller) ProcessStep(ctx context.Context, stepID string, outputs map[string]*value.Value) error {
	var outerErr error
	c.exec(func() {
		outs, ok := c.stepOutputs[stepID]
		if !ok {
			outerErr = fmt.Errorf("%w: %s", ErrUnknownStep, stepID)
			return
		}

		changedOutputs := make([]string, 0, len(outputs))
		for field, v := range outputs {
			slot, ok := outs[field]
			if !ok {
				outerErr = fmt.Errorf("%w: %s.%s", ErrUnknownStepOutput, stepID, field)
				return
			}
			slot.Value = v
			slot.Status = SlotSet
			slot.Counter++
			changedOutputs = append(changedOutputs, field)
		}

		depFieldsChanged := map[string][]string{}
		for depID, st := range c.structure.Steps {
			for field, link := range st.InputLinks {
				if link.IsPipelineInput || link.SourceStepID != stepID {
					continue
				}
				if _, touched := outputs[link.SourceField]; !touched {
					continue
				}
				slot := c.stepInputs[depID][field]
				slot.Value = outs[link.SourceField].Value
				slot.Status = SlotSet
				slot.Counter++
				depFieldsChanged[depID] = append(depFieldsChanged[depID], field)
			}
		}

		pipelineOutputsChanged := make([]string, 0)
		for alias, link := range c.structure.OutputAliases {
			if link.IsPipelineInput || link.SourceStepID != stepID {
				continue
			}
			if _, touched := outputs[link.SourceField]; !touched {
				continue
			}
			slot := c.pipelineOutputs[alias]
			slot.Value = outs[link.SourceField].Value
			slot.Status = SlotSet
			slot.Counter++
			pipelineOutputsChanged = append(pipelineOutputsChanged, alias)
		}

		c.bumpVersion()
		if len(changedOutputs) > 0 && c.callbacks.OnStepOutputsChanged != nil {
			c.callbacks.OnStepOutputsChanged(stepID, changedOutputs)
		}
		if c.callbacks.OnStepInputsChanged != nil {
			for depID, fields := range depFieldsChanged {
				c.callbacks.OnStepInputsChanged(depID, fields)
			}
		}
		if len(pipelineOutputsChanged) > 0 && c.callbacks.OnPipelineOutputsChanged != nil {
			c.callbacks.OnPipelineOutputsChanged(pipelineOutputsChanged)
		}
	})
	return outerErr
}

// StepIsReady reports whether every non-optional input slot of
// stepID is Set.
func (c *Controller) StepIsReady(stepID string) bool {
	var ready bool
	c.exec(func() {
		st, ok := c.structure.Steps[stepID]
		if !ok {
			return
		}
		ready = true
		for field, schema := range st.InputsSchema {
			if schema.Optional {
				continue
			}
			if c.stepInputs[stepID][field].Status != SlotSet {
				ready = false
				return
			}
		}
	})
	return ready
}

// StepInputs snapshots stepID's current input slots into a
// module.ValueMap, ready to pass to module.Module.Process.
func (c *Controller) StepInputs(stepID string) (module.ValueMap, bool) {
	var (
		vm     module.ValueMap
		exists bool
	)
	c.exec(func() {
		ins, ok := c.stepInputs[stepID]
		if !ok {
			return
		}
		exists = true
		vm = make(module.ValueMap, len(ins))
		for field, slot := range ins {
			if slot.Status == SlotSet {
				vm[field] = slot.Value
			}
		}
	})
	return vm, exists
}

// PipelineIsFinished reports whether every pipeline output alias slot
// is Set.
func (c *Controller) PipelineIsFinished() bool {
	var finished bool
	c.exec(func() {
		finished = true
		for _, slot := range c.pipelineOutputs {
			if slot.Status != SlotSet {
				finished = false
				return
			}
		}
	})
	return finished
}

// PipelineOutputs snapshots the pipeline's current output slots.
func (c *Controller) PipelineOutputs() map[string]*value.Value {
	out := map[string]*value.Value{}
	c.exec(func() {
		for alias, slot := range c.pipelineOutputs {
			if slot.Status == SlotSet {
				out[alias] = slot.Value
			}
		}
	})
	return out
}

// WaitFor blocks until predicate(c) is true or ctx is cancelled,
// re-evaluating predicate on every state change the controller
// publishes.
func (c *Controller) WaitFor(ctx context.Context, predicate func(*Controller) bool) error {
	for {
		if predicate(c) {
			return nil
		}
		ch := c.registerWaiter()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (c *Controller) registerWaiter() chan struct{} {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	ch := make(chan struct{})
	c.waiters = append(c.waiters, ch)
	return ch
}

func (c *Controller) bumpVersion() {
	c.notifyMu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.notifyMu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}
