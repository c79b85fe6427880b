package traffic

import (
	"fmt"
	"math/rand"

	"github.com/sarchlab/barpipe/tlp"
)

// A Generator produces seeded random request streams for one agent and
// registers the matching expectations with the test.
type Generator struct {
	rand  *rand.Rand
	test  *Test
	agent *Agent

	barIndex    uint8
	baseAddr    uint32
	rangeBytes  uint32
	maxDWLen    uint32
	requesterID uint16
	readModel   func(address uint32) uint32

	nextTag uint32
}

// A GeneratorBuilder can build traffic generators.
type GeneratorBuilder struct {
	seed        int64
	test        *Test
	agent       *Agent
	barIndex    uint8
	baseAddr    uint32
	rangeBytes  uint32
	maxDWLen    uint32
	requesterID uint16
	readModel   func(address uint32) uint32
}

// MakeGeneratorBuilder returns a builder with default parameters.
func MakeGeneratorBuilder() GeneratorBuilder {
	return GeneratorBuilder{
		seed:        1,
		rangeBytes:  0x1000,
		maxDWLen:    64,
		requesterID: 0x0100,
	}
}

// WithSeed sets the seed of the random stream.
func (b GeneratorBuilder) WithSeed(seed int64) GeneratorBuilder {
	b.seed = seed
	return b
}

// WithTest sets the test the expectations are registered with.
func (b GeneratorBuilder) WithTest(test *Test) GeneratorBuilder {
	b.test = test
	return b
}

// WithAgent sets the agent that carries the generated beats.
func (b GeneratorBuilder) WithAgent(agent *Agent) GeneratorBuilder {
	b.agent = agent
	return b
}

// WithBarIndex sets the bar all requests select.
func (b GeneratorBuilder) WithBarIndex(barIndex uint8) GeneratorBuilder {
	b.barIndex = barIndex
	return b
}

// WithAddressRange sets the byte address window requests fall in.
func (b GeneratorBuilder) WithAddressRange(
	base, sizeBytes uint32,
) GeneratorBuilder {
	b.baseAddr = base
	b.rangeBytes = sizeBytes

	return b
}

// WithMaxDWLength bounds the DWORD length of generated requests.
func (b GeneratorBuilder) WithMaxDWLength(maxDWLen uint32) GeneratorBuilder {
	b.maxDWLen = maxDWLen
	return b
}

// WithRequesterID sets the requester identifier stamped on all requests.
func (b GeneratorBuilder) WithRequesterID(
	requesterID uint16,
) GeneratorBuilder {
	b.requesterID = requesterID
	return b
}

// WithReadModel sets the function that predicts the backend's value for an
// address. The default models a loopback backend that returns the address.
func (b GeneratorBuilder) WithReadModel(
	model func(address uint32) uint32,
) GeneratorBuilder {
	b.readModel = model
	return b
}

// Build creates the generator.
func (b GeneratorBuilder) Build() *Generator {
	g := &Generator{
		rand:        rand.New(rand.NewSource(b.seed)),
		test:        b.test,
		agent:       b.agent,
		barIndex:    b.barIndex,
		baseAddr:    b.baseAddr,
		rangeBytes:  b.rangeBytes,
		maxDWLen:    b.maxDWLen,
		requesterID: b.requesterID,
		readModel:   b.readModel,
	}

	if g.readModel == nil {
		g.readModel = func(address uint32) uint32 { return address }
	}

	return g
}

// GenerateReads enqueues n random reads and registers the completions they
// must produce.
func (g *Generator) GenerateReads(n int) {
	for i := 0; i < n; i++ {
		addr, dwLen := g.randomExtent()

		params := tlp.ReqParams{
			Hdr4DW:      g.rand.Intn(2) == 1,
			Address:     addr,
			DWLength:    dwLen,
			RequesterID: g.requesterID,
			Tag:         g.allocTag(),
			FirstBE:     0xf,
			LastBE:      g.lastBE(dwLen, 0xf),
			BarSel:      1 << g.barIndex,
		}

		payload := make([]uint32, dwLen)
		for j := range payload {
			payload[j] = tlp.SwapBytes(g.readModel(addr + uint32(j)*4))
		}

		g.test.ExpectRead(g.requesterID, params.Tag, addr, dwLen, payload)
		g.enqueue(params)
	}
}

// enqueue hands the request's beats to the agent. The gap after the last
// beat gives the pipeline one cycle per DWORD to drain, plus slack for the
// descriptor to clear the engine stages.
func (g *Generator) enqueue(params tlp.ReqParams) {
	beats := tlp.EncodeBeats(params)

	for i, beat := range beats {
		paced := PacedBeat{Beat: beat}
		if i == len(beats)-1 {
			paced.GapAfter = int(params.DWLength) + 8
		}

		g.agent.BeatsToSend = append(g.agent.BeatsToSend, paced)
	}
}

// GenerateWrites enqueues n random writes and applies them to the test's
// shadow copy of the register space.
func (g *Generator) GenerateWrites(n int) {
	for i := 0; i < n; i++ {
		addr, dwLen := g.randomExtent()

		firstBE := g.randomBE()
		lastBE := g.lastBE(dwLen, g.randomBE())

		payload := make([]uint32, dwLen)
		for j := range payload {
			payload[j] = g.rand.Uint32()
		}

		params := tlp.ReqParams{
			Write:       true,
			Hdr4DW:      g.rand.Intn(2) == 1,
			Address:     addr,
			DWLength:    dwLen,
			RequesterID: g.requesterID,
			Tag:         uint8(g.rand.Intn(256)),
			FirstBE:     firstBE,
			LastBE:      lastBE,
			BarSel:      1 << g.barIndex,
			Payload:     payload,
		}

		for j := uint32(0); j < dwLen; j++ {
			be := uint8(0xf)

			switch {
			case dwLen == 1:
				be = firstBE
			case j == 0:
				be = firstBE
			case j == dwLen-1:
				be = lastBE
			}

			g.test.ExpectWrite(
				addr+j*4, be, tlp.SwapBytes(payload[j]))
		}

		g.enqueue(params)
	}
}

// randomExtent picks an aligned address and a length that stay inside the
// window and inside one 4 KiB page.
func (g *Generator) randomExtent() (addr uint32, dwLen uint32) {
	dwLen = uint32(g.rand.Intn(int(g.maxDWLen))) + 1

	numSlots := g.rangeBytes/4 - (dwLen - 1)
	addr = g.baseAddr + uint32(g.rand.Intn(int(numSlots)))*4

	pageOff := addr & 0xfff
	if pageOff+dwLen*4 > 0x1000 {
		addr -= pageOff + dwLen*4 - 0x1000
	}

	return addr, dwLen
}

func (g *Generator) randomBE() uint8 {
	return uint8(g.rand.Intn(15)) + 1
}

func (g *Generator) lastBE(dwLen uint32, be uint8) uint8 {
	if dwLen == 1 {
		return 0
	}

	return be
}

func (g *Generator) allocTag() uint8 {
	if g.nextTag > 255 {
		panic(fmt.Sprintf("tag space exhausted after %d reads", g.nextTag))
	}

	tag := uint8(g.nextTag)
	g.nextTag++

	return tag
}
