package sim

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/aiwater/internal/dynamo"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time           { return c.t }
func (c *fakeClock) Advance(d time.Duration)  { c.t = c.t.Add(d) }
func (c *fakeClock) AdvanceSeconds(s float64) { c.Advance(time.Duration(s * float64(time.Second))) }

type recorder struct{ kinds []dynamo.EventKind }

func (r *recorder) OnEvent(ev dynamo.Event) { r.kinds = append(r.kinds, ev.Kind) }

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("session-%d", n)
	}
}

var _ = Describe("Engine", func() {
	var (
		clock  *fakeClock
		params dynamo.Params
		rate   float64
		rec    *recorder
		eng    *Engine
	)

	BeforeEach(func() {
		clock = &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
		params = dynamo.DefaultParams()
		rate = dynamo.Rate(params)
		rec = &recorder{}
		var err error
		eng, err = New(params, WithClock(clock.Now), WithSessionIDs(sequentialIDs()), WithObserver(rec))
		Expect(err).NotTo(HaveOccurred())
	})

	It("starts idle with zero mass", func() {
		st := eng.Status()
		Expect(st.CumulativeMass).To(BeZero())
		Expect(st.Active).To(BeFalse())
		Expect(st.SessionID).To(Equal("session-1"))
	})

	Describe("the reference scenario", func() {
		It("consumes rate*1s for a one second cost", func() {
			Expect(eng.SubmitCost(0.000050)).To(Succeed())
			Expect(eng.st.eventDuration).To(BeNumerically("~", 1.0, 1e-12))
			Expect(eng.Status().Active).To(BeTrue())

			clock.AdvanceSeconds(1.0)
			eng.Tick(clock.Now())

			st := eng.Status()
			Expect(st.Active).To(BeFalse())
			Expect(st.CumulativeMass).To(BeNumerically("~", 9.328e-6, 1e-12))
			Expect(st.TotalCost).To(BeNumerically("~", 0.00005, 1e-15))
			Expect(st.Events).To(Equal(1))
		})
	})

	Describe("ticking", func() {
		It("reports interim mass while active", func() {
			Expect(eng.SubmitCost(0.0005)).To(Succeed()) // 10s
			clock.AdvanceSeconds(2.5)
			eng.Tick(clock.Now())

			st := eng.Status()
			Expect(st.Active).To(BeTrue())
			Expect(st.CumulativeMass).To(BeNumerically("~", rate*2.5, 1e-15))
		})

		It("is a no-op while idle", func() {
			before := eng.st
			clock.AdvanceSeconds(60)
			eng.Tick(clock.Now())
			Expect(eng.st).To(Equal(before))
		})

		It("completes exactly at the event duration even when the tick overshoots", func() {
			Expect(eng.SubmitCost(0.0001)).To(Succeed()) // 2s
			clock.AdvanceSeconds(7.3)
			eng.Tick(clock.Now())

			Expect(eng.Status().Active).To(BeFalse())
			Expect(eng.Status().CumulativeMass).To(Equal(eng.st.baselineMass + eng.st.eventRate*eng.st.eventDuration))
			Expect(rec.kinds).To(Equal([]dynamo.EventKind{dynamo.EventAdmitted, dynamo.EventCompleted}))
		})
	})

	Describe("sub-threshold costs", func() {
		It("leaves every state field untouched", func() {
			Expect(eng.SubmitCost(0.0005)).To(Succeed())
			clock.AdvanceSeconds(1)
			eng.Tick(clock.Now())
			before := eng.st

			Expect(eng.SubmitCost(0.000004)).To(Succeed()) // 0.08s
			Expect(eng.SubmitCost(0.000001)).To(Succeed()) // 0.02s
			Expect(eng.st).To(Equal(before))
			Expect(rec.kinds).To(ContainElement(dynamo.EventDropped))
		})
	})

	Describe("duration clamp", func() {
		It("caps a long event at MaxDurationSeconds", func() {
			Expect(eng.SubmitCost(1.0)).To(Succeed()) // 20000s requested
			Expect(eng.st.eventDuration).To(Equal(params.MaxDurationSeconds))

			clock.AdvanceSeconds(1000)
			eng.Tick(clock.Now())
			Expect(eng.Status().CumulativeMass).To(Equal(eng.st.baselineMass + eng.st.eventRate*params.MaxDurationSeconds))
		})
	})

	Describe("preemption", func() {
		It("folds interim progress into the new baseline and restarts the timeline", func() {
			Expect(eng.SubmitCost(0.0005)).To(Succeed()) // 10s
			clock.AdvanceSeconds(4)

			Expect(eng.SubmitCost(0.0001)).To(Succeed()) // 2s
			Expect(eng.st.baselineMass).To(BeNumerically("~", rate*4, 1e-15))
			Expect(eng.st.eventStart).To(Equal(clock.Now()))
			Expect(eng.st.eventDuration).To(BeNumerically("~", 2.0, 1e-12))
			Expect(eng.Status().Active).To(BeTrue())

			clock.AdvanceSeconds(2)
			eng.Tick(clock.Now())
			Expect(eng.Status().Active).To(BeFalse())
			Expect(eng.Status().CumulativeMass).To(BeNumerically("~", rate*6, 1e-15))
			Expect(rec.kinds).To(Equal([]dynamo.EventKind{
				dynamo.EventAdmitted, dynamo.EventPreempted, dynamo.EventAdmitted, dynamo.EventCompleted,
			}))
		})

		It("uses the completed value when the previous event ended before any tick", func() {
			Expect(eng.SubmitCost(0.0001)).To(Succeed()) // 2s
			clock.AdvanceSeconds(5)
			Expect(eng.SubmitCost(0.0001)).To(Succeed())
			Expect(eng.st.baselineMass).To(BeNumerically("~", rate*2, 1e-15))
		})
	})

	Describe("reset", func() {
		It("zeroes an active session and issues a new session ID", func() {
			Expect(eng.SubmitCost(0.0005)).To(Succeed())
			clock.AdvanceSeconds(3)
			eng.Tick(clock.Now())

			eng.Reset()
			st := eng.Status()
			Expect(st.CumulativeMass).To(BeZero())
			Expect(st.Active).To(BeFalse())
			Expect(st.TotalCost).To(BeZero())
			Expect(st.SessionID).To(Equal("session-2"))
			Expect(eng.st).To(Equal(state{}))
		})

		It("is idempotent apart from the session ID", func() {
			eng.Reset()
			eng.Reset()
			Expect(eng.Status().CumulativeMass).To(BeZero())
			Expect(eng.Status().SessionID).To(Equal("session-3"))
		})
	})

	Describe("monotonicity", func() {
		It("never decreases across random submits and ticks", func() {
			rng := rand.New(rand.NewSource(42))
			last := 0.0
			for i := 0; i < 2000; i++ {
				clock.Advance(time.Duration(rng.Intn(400)) * time.Millisecond)
				if rng.Intn(5) == 0 {
					Expect(eng.SubmitCost(rng.Float64() * 0.0003)).To(Or(Succeed(), MatchError(dynamo.ErrInvalidInput)))
				} else {
					eng.Tick(clock.Now())
				}
				m := eng.Status().CumulativeMass
				Expect(m).To(BeNumerically(">=", last))
				last = m
			}
		})
	})

	Describe("degenerate physics", func() {
		It("admits an inert event when voltage does not exceed the threshold", func() {
			p := params
			p.Voltage = 1.5
			Expect(eng.SetParams(p)).To(Succeed())

			Expect(eng.SubmitCost(0.0001)).To(Succeed())
			Expect(eng.Status().Active).To(BeTrue())
			clock.AdvanceSeconds(3)
			eng.Tick(clock.Now())
			Expect(eng.Status().Active).To(BeFalse())
			Expect(eng.Status().CumulativeMass).To(BeZero())
		})
	})

	Describe("session ceiling", func() {
		It("clamps mass and refuses new events once reached", func() {
			p := params
			p.MaxWaterPerSession = rate * 3
			Expect(eng.SetParams(p)).To(Succeed())

			Expect(eng.SubmitCost(0.0005)).To(Succeed()) // 10s
			clock.AdvanceSeconds(5)
			eng.Tick(clock.Now())
			Expect(eng.Status().CumulativeMass).To(Equal(p.MaxWaterPerSession))
			Expect(eng.Status().Active).To(BeFalse())

			before := eng.st
			Expect(eng.SubmitCost(0.0005)).To(Succeed())
			Expect(eng.st).To(Equal(before))
		})
	})

	Describe("configuration updates", func() {
		It("applies new params to the next event only", func() {
			Expect(eng.SubmitCost(0.0005)).To(Succeed())
			p := params
			p.Voltage = 12
			Expect(eng.SetParams(p)).To(Succeed())
			Expect(eng.st.eventRate).To(Equal(rate))

			clock.AdvanceSeconds(1)
			Expect(eng.SubmitCost(0.0005)).To(Succeed())
			Expect(eng.st.eventRate).To(Equal(dynamo.Rate(p)))
		})

		It("applies a partial update under the lock and returns the result", func() {
			got, err := eng.UpdateParams(func(p *dynamo.Params) error { return p.Set("voltage", 9) })
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Voltage).To(Equal(9.0))
			Expect(eng.Params()).To(Equal(got))
			Expect(rec.kinds).To(Equal([]dynamo.EventKind{dynamo.EventConfig}))
		})

		It("leaves params untouched when the update function fails", func() {
			_, err := eng.UpdateParams(func(p *dynamo.Params) error {
				p.Voltage = 99
				return dynamo.ErrInvalidInput
			})
			Expect(err).To(MatchError(dynamo.ErrInvalidInput))
			Expect(eng.Params()).To(Equal(params))
			Expect(rec.kinds).To(BeEmpty())
		})

		It("rejects invalid params and keeps the previous ones", func() {
			p := params
			p.ElectrodeGap = -1
			Expect(eng.SetParams(p)).To(MatchError(dynamo.ErrInvalidConfiguration))
			Expect(eng.Params()).To(Equal(params))
		})
	})

	Describe("cost overflow", func() {
		It("refuses a cost that would make the session total infinite", func() {
			Expect(eng.SubmitCost(1e308)).To(Succeed())
			before := eng.st
			Expect(eng.SubmitCost(1e308)).To(MatchError(dynamo.ErrInvalidInput))
			Expect(eng.st).To(Equal(before))
			Expect(math.IsInf(eng.Status().TotalCost, 0)).To(BeFalse())
		})
	})

	Describe("invalid input", func() {
		DescribeTable("rejects the cost without touching state",
			func(cost float64) {
				before := eng.st
				Expect(eng.SubmitCost(cost)).To(MatchError(dynamo.ErrInvalidInput))
				Expect(eng.st).To(Equal(before))
			},
			Entry("zero", 0.0),
			Entry("negative", -0.001),
		)
	})
})
