package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type timeRecorder struct {
	times []VTimeInSec
}

func (r *timeRecorder) Handle(e Event) error {
	r.times = append(r.times, e.Time())
	return nil
}

var _ = Describe("SerialEngine", func() {
	var (
		engine   *SerialEngine
		recorder *timeRecorder
	)

	BeforeEach(func() {
		engine = NewSerialEngine()
		recorder = &timeRecorder{}
	})

	It("should run events in time order", func() {
		engine.Schedule(NewEventBase(3e-9, recorder))
		engine.Schedule(NewEventBase(1e-9, recorder))
		engine.Schedule(NewEventBase(2e-9, recorder))

		Expect(engine.Run()).To(BeNil())

		Expect(recorder.times).To(Equal(
			[]VTimeInSec{1e-9, 2e-9, 3e-9}))
		Expect(engine.CurrentTime()).To(BeNumerically("~", 3e-9, 1e-15))
	})

	It("should run events scheduled by other events", func() {
		scheduler := &selfScheduler{engine: engine, remaining: 4}
		engine.Schedule(NewEventBase(1e-9, scheduler))

		Expect(engine.Run()).To(BeNil())

		Expect(scheduler.handled).To(Equal(5))
	})

	It("should refuse to schedule events in the past", func() {
		engine.Schedule(NewEventBase(1e-9, recorder))
		Expect(engine.Run()).To(BeNil())

		Expect(func() {
			engine.Schedule(NewEventBase(0.5e-9, recorder))
		}).To(Panic())
	})

	It("should support running again after draining", func() {
		engine.Schedule(NewEventBase(1e-9, recorder))
		Expect(engine.Run()).To(BeNil())

		engine.Schedule(NewEventBase(2e-9, recorder))
		Expect(engine.Run()).To(BeNil())

		Expect(recorder.times).To(Equal([]VTimeInSec{1e-9, 2e-9}))
	})
})

type selfScheduler struct {
	engine    *SerialEngine
	remaining int
	handled   int
}

func (s *selfScheduler) Handle(e Event) error {
	s.handled++

	if s.remaining > 0 {
		s.remaining--
		s.engine.Schedule(NewEventBase(e.Time()+1e-9, s))
	}

	return nil
}
