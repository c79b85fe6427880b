package tracing

import (
	"sync"

	"github.com/sarchlab/barpipe/datarecording"
	"github.com/sarchlab/barpipe/sim"
	"github.com/tebeka/atexit"
)

type taskTableEntry struct {
	ID        string
	ParentID  string
	Kind      string
	What      string
	Location  string
	StartTime float64
	EndTime   float64
}

// A DBTracer stores tasks into a database through a DataRecorder. Only tasks
// that overlap the [startTime, endTime] window are kept; a zero window keeps
// everything.
type DBTracer struct {
	mu         sync.Mutex
	timeTeller sim.TimeTeller
	backend    datarecording.DataRecorder

	startTime, endTime sim.VTimeInSec

	tracingTasks map[string]Task
}

// NewDBTracer creates a DBTracer that writes into the given recorder.
func NewDBTracer(
	timeTeller sim.TimeTeller,
	backend datarecording.DataRecorder,
) *DBTracer {
	t := &DBTracer{
		timeTeller:   timeTeller,
		backend:      backend,
		startTime:    -1,
		endTime:      -1,
		tracingTasks: make(map[string]Task),
	}

	backend.CreateTable("trace", taskTableEntry{})

	atexit.Register(func() { t.terminate() })

	return t
}

// SetTimeRange sets the time window the tracer records.
func (t *DBTracer) SetTimeRange(startTime, endTime sim.VTimeInSec) {
	t.startTime = startTime
	t.endTime = endTime
}

// StartTask marks the start of a task.
func (t *DBTracer) StartTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task.StartTime = t.timeTeller.CurrentTime()
	if t.endTime > 0 && task.StartTime > t.endTime {
		return
	}

	t.tracingTasks[task.ID] = task
}

// StepTask does nothing for now.
func (t *DBTracer) StepTask(_ Task) {
}

// EndTask marks the end of a task and writes it out.
func (t *DBTracer) EndTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	endTime := t.timeTeller.CurrentTime()
	if t.startTime > 0 && endTime < t.startTime {
		delete(t.tracingTasks, task.ID)
		return
	}

	originalTask, found := t.tracingTasks[task.ID]
	if !found {
		return
	}

	delete(t.tracingTasks, task.ID)

	t.backend.InsertData("trace", taskTableEntry{
		ID:        originalTask.ID,
		ParentID:  originalTask.ParentID,
		Kind:      originalTask.Kind,
		What:      originalTask.What,
		Location:  originalTask.Location,
		StartTime: float64(originalTask.StartTime),
		EndTime:   float64(endTime),
	})
}

// terminate writes out the tasks that are still running when the simulation
// ends.
func (t *DBTracer) terminate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.timeTeller.CurrentTime()

	for _, task := range t.tracingTasks {
		t.backend.InsertData("trace", taskTableEntry{
			ID:        task.ID,
			ParentID:  task.ParentID,
			Kind:      task.Kind,
			What:      task.What,
			Location:  task.Location,
			StartTime: float64(task.StartTime),
			EndTime:   float64(now),
		})
	}

	t.tracingTasks = nil
	t.backend.Flush()
}
