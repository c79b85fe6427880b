// Package discard provides a backend register block that consumes every
// write and read request and never responds. It is the legal backend for
// write-only or no-reply bars.
package discard

import (
	"github.com/sarchlab/barpipe/sim"
)

// Comp is a silent-discard backend.
type Comp struct {
	*sim.TickingComponent

	topPort sim.Port
}

// TopPort returns the port that receives requests from the pipeline.
func (c *Comp) TopPort() sim.Port {
	return c.topPort
}

// Tick drains and discards any request that arrived.
func (c *Comp) Tick() bool {
	msg := c.topPort.RetrieveIncoming()

	return msg != nil
}

// A Builder can build discard backends.
type Builder struct {
	engine sim.Engine
	freq   sim.Freq
}

// MakeBuilder returns a Builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		freq: 1 * sim.GHz,
	}
}

// WithEngine sets the event engine the backend uses.
func (b Builder) WithEngine(engine sim.Engine) Builder {
	b.engine = engine
	return b
}

// WithFreq sets the frequency of the backend.
func (b Builder) WithFreq(freq sim.Freq) Builder {
	b.freq = freq
	return b
}

// Build creates a discard backend.
func (b Builder) Build(name string) *Comp {
	c := &Comp{}
	c.TickingComponent = sim.NewTickingComponent(name, b.engine, b.freq, c)

	c.topPort = sim.NewPort(c, 4, 4, name+".Top")
	c.AddPort("Top", c.topPort)

	return c
}
