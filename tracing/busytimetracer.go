package tracing

import "github.com/sarchlab/barpipe/sim"

// BusyTimeTracer measures the time a domain spends with at least one task of
// a certain type in flight. Overlapping tasks count the overlapped time once.
type BusyTimeTracer struct {
	timeTeller sim.TimeTeller
	filter     TaskFilter

	inflightTasks map[string]struct{}
	intervalStart sim.VTimeInSec
	busyTime      sim.VTimeInSec
}

// NewBusyTimeTracer creates a new BusyTimeTracer.
func NewBusyTimeTracer(
	timeTeller sim.TimeTeller,
	filter TaskFilter,
) *BusyTimeTracer {
	return &BusyTimeTracer{
		timeTeller:    timeTeller,
		filter:        filter,
		inflightTasks: make(map[string]struct{}),
	}
}

// BusyTime returns the accumulated busy time.
func (t *BusyTimeTracer) BusyTime() sim.VTimeInSec {
	return t.busyTime
}

// TerminateAllTasks ends all in-flight tasks at the given time.
func (t *BusyTimeTracer) TerminateAllTasks(now sim.VTimeInSec) {
	if len(t.inflightTasks) == 0 {
		return
	}

	t.inflightTasks = make(map[string]struct{})
	t.busyTime += now - t.intervalStart
}

// StartTask records the task start time.
func (t *BusyTimeTracer) StartTask(task Task) {
	task.StartTime = t.timeTeller.CurrentTime()

	if t.filter != nil && !t.filter(task) {
		return
	}

	if len(t.inflightTasks) == 0 {
		t.intervalStart = task.StartTime
	}

	t.inflightTasks[task.ID] = struct{}{}
}

// StepTask does nothing.
func (t *BusyTimeTracer) StepTask(_ Task) {
}

// EndTask records the end of the task.
func (t *BusyTimeTracer) EndTask(task Task) {
	if _, found := t.inflightTasks[task.ID]; !found {
		return
	}

	delete(t.inflightTasks, task.ID)

	if len(t.inflightTasks) == 0 {
		t.busyTime += t.timeTeller.CurrentTime() - t.intervalStart
	}
}
