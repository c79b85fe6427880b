package bridge

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/barpipe/bar"
	"github.com/sarchlab/barpipe/sim"
)

var _ = Describe("Response mux", func() {
	var c *Comp

	BeforeEach(func() {
		c = MakeBuilder().
			WithEngine(sim.NewSerialEngine()).
			Build("Pipeline")
	})

	deliver := func(barIndex int, data uint32) *bar.ReadRsp {
		rsp := bar.ReadRspBuilder{}.WithData(data).Build()
		Expect(c.barPorts[barIndex].Deliver(rsp)).To(BeNil())

		return rsp
	}

	It("should forward a single pending response without counting", func() {
		rsp := deliver(2, 0xa)

		sel, port := c.muxSelect()

		Expect(sel).To(BeIdenticalTo(rsp))
		Expect(port).To(BeIdenticalTo(c.barPorts[2]))
		Expect(c.stats.MultiAssert).To(BeZero())
	})

	It("should pick the lowest bar index and count the collision", func() {
		rsp1 := deliver(1, 0xb)
		rsp0 := deliver(0, 0xa)

		sel, port := c.muxSelect()

		Expect(sel).To(BeIdenticalTo(rsp0))
		Expect(port).To(BeIdenticalTo(c.barPorts[0]))
		Expect(c.stats.MultiAssert).To(Equal(uint64(1)))

		// After the winner is retrieved, the loser gets its turn.
		c.barPorts[0].RetrieveIncoming()
		sel, port = c.muxSelect()

		Expect(sel).To(BeIdenticalTo(rsp1))
		Expect(port).To(BeIdenticalTo(c.barPorts[1]))
		Expect(c.stats.MultiAssert).To(Equal(uint64(1)))
	})

	It("should return nothing when no backend responded", func() {
		sel, port := c.muxSelect()

		Expect(sel).To(BeNil())
		Expect(port).To(BeNil())
		Expect(c.stats.MultiAssert).To(BeZero())
	})
})
