package bridge

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/barpipe/bar"
	"github.com/sarchlab/barpipe/sim"
)

var _ = Describe("Read engine expansion", func() {
	var (
		engine     *sim.SerialEngine
		c          *Comp
		re         *readEngine
		backendTop sim.Port
	)

	BeforeEach(func() {
		engine = sim.NewSerialEngine()
		c = MakeBuilder().WithEngine(engine).Build("Pipeline")
		re = &c.readEngine

		backendTop = sim.NewPort(nil, 4, 4, "Backend.Top")
		conn := sim.NewDirectConnection("Conn", engine, 1*sim.GHz)
		conn.PlugIn(c.barPorts[0])
		conn.PlugIn(backendTop)
		c.ConnectBar(0, backendTop, 2)
	})

	It("should hold a chunk whose first send is rejected", func() {
		// The bar port's outgoing queue holds two requests. The first chunk
		// fills it exactly, so the second chunk's first DWORD is rejected.
		re.chunkQueue.Push(chunkDesc{
			meta:      reqMeta{requesterID: 0x0100, tag: 3},
			addr:      0x1000,
			dwLen:     2,
			byteCount: 8,
		})
		re.chunkQueue.Push(chunkDesc{
			meta:      reqMeta{requesterID: 0x0100, tag: 4},
			addr:      0x2000,
			dwLen:     1,
			byteCount: 4,
			reqLast:   true,
		})

		Expect(re.tickExpansion()).To(BeTrue())
		Expect(re.tickExpansion()).To(BeTrue())
		Expect(re.tickExpansion()).To(BeFalse())

		// Drain the issued requests the way the connection would, then let
		// the engine retry.
		Expect(c.barPorts[0].RetrieveOutgoing()).NotTo(BeNil())
		Expect(c.barPorts[0].RetrieveOutgoing()).NotTo(BeNil())

		Expect(re.tickExpansion()).To(BeTrue())

		req := c.barPorts[0].RetrieveOutgoing().(*bar.ReadReq)
		Expect(req.Address).To(Equal(uint32(0x2000)))
		Expect(req.Context.First).To(BeTrue())
		Expect(req.Context.Last).To(BeTrue())
		Expect(req.Context.Final).To(BeTrue())
		Expect(req.Context.Tag).To(Equal(uint8(4)))
	})

	It("should keep First on a retried first DWORD", func() {
		re.chunkQueue.Push(chunkDesc{
			meta:      reqMeta{requesterID: 0x0100, tag: 1},
			addr:      0x3000,
			dwLen:     3,
			byteCount: 12,
			reqLast:   true,
		})
		re.chunkQueue.Push(chunkDesc{
			meta:      reqMeta{requesterID: 0x0100, tag: 2},
			addr:      0x4000,
			dwLen:     2,
			byteCount: 8,
			reqLast:   true,
		})

		// Two sends fill the port; the third DWORD of the first chunk is
		// rejected mid-chunk.
		Expect(re.tickExpansion()).To(BeTrue())
		Expect(re.tickExpansion()).To(BeTrue())
		Expect(re.tickExpansion()).To(BeFalse())

		Expect(c.barPorts[0].RetrieveOutgoing()).NotTo(BeNil())
		Expect(c.barPorts[0].RetrieveOutgoing()).NotTo(BeNil())
		Expect(re.tickExpansion()).To(BeTrue())

		third := c.barPorts[0].RetrieveOutgoing().(*bar.ReadReq)
		Expect(third.Address).To(Equal(uint32(0x3008)))
		Expect(third.Context.First).To(BeFalse())
		Expect(third.Context.Last).To(BeTrue())

		// The second chunk follows intact, starting a fresh completion.
		Expect(re.tickExpansion()).To(BeTrue())
		next := c.barPorts[0].RetrieveOutgoing().(*bar.ReadReq)
		Expect(next.Address).To(Equal(uint32(0x4000)))
		Expect(next.Context.First).To(BeTrue())
	})
})
