package main

import (
	"fmt"
	"log"
	"os"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/sarchlab/barpipe/bar/bridge"
	"github.com/sarchlab/barpipe/bar/devemu"
	"github.com/sarchlab/barpipe/bar/discard"
	"github.com/sarchlab/barpipe/bar/loopback"
	"github.com/sarchlab/barpipe/bar/regmem"
	"github.com/sarchlab/barpipe/sim"
	"github.com/sarchlab/barpipe/simulation"
	"github.com/sarchlab/barpipe/tracing"
	"github.com/sarchlab/barpipe/traffic"
)

var runFlags = struct {
	numWrites int
	numReads  int
	seed      int64
	maxDWLen  uint32

	backend string
	numBars int
	bar     int
	latency int

	trace       bool
	output      string
	monitor     bool
	monitorPort int
	openBrowser bool
}{}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a random traffic simulation.",
	Long: `run drives the pipeline with a seeded random mix of memory ` +
		`writes and reads against the selected backend and verifies every ` +
		`completion that comes back.`,
	Run: func(cmd *cobra.Command, args []string) {
		runSimulation()
	},
}

func init() {
	f := runCmd.Flags()
	f.IntVar(&runFlags.numWrites, "num-writes", 100,
		"number of random writes to inject")
	f.IntVar(&runFlags.numReads, "num-reads", 100,
		"number of random reads to inject (up to 256)")
	f.Int64Var(&runFlags.seed, "seed", 1, "random seed")
	f.Uint32Var(&runFlags.maxDWLen, "max-dw-length", 64,
		"largest DWORD count of one request")
	f.StringVar(&runFlags.backend, "backend", "regmem",
		"backend kind: regmem, loopback, devemu, or discard")
	f.IntVar(&runFlags.numBars, "num-bars", 1,
		"number of bars with an attached backend")
	f.IntVar(&runFlags.bar, "bar", 0, "bar index the traffic targets")
	f.IntVar(&runFlags.latency, "latency", 2,
		"read latency of every backend, in cycles")
	f.BoolVar(&runFlags.trace, "trace", false,
		"record task traces into the output database")
	f.StringVar(&runFlags.output, "output", "",
		"output database file name, without the .sqlite3 suffix")
	f.BoolVar(&runFlags.monitor, "monitor", false,
		"start the monitoring server")
	f.IntVar(&runFlags.monitorPort, "monitor-port", 0,
		"port of the monitoring server")
	f.BoolVar(&runFlags.openBrowser, "open-browser", false,
		"open the monitoring page in a browser")

	rootCmd.AddCommand(runCmd)
}

type backendComp interface {
	sim.Component
	TopPort() sim.Port
}

func runSimulation() {
	s := buildSimulation()
	defer s.Terminate()

	engine := s.GetEngine()
	freq := 1 * sim.GHz

	pipeline := bridge.MakeBuilder().
		WithEngine(engine).
		WithFreq(freq).
		Build("Pipeline")
	s.RegisterComponent(pipeline)

	var readModel func(address uint32) uint32

	var mem *regmem.Comp

	for i := 0; i < runFlags.numBars; i++ {
		backend := buildBackend(s, engine, freq, i)
		connectBar(s, pipeline, backend, i)

		if i == runFlags.bar {
			switch b := backend.(type) {
			case *regmem.Comp:
				mem = b
			case *devemu.Comp:
				readModel = b.Read
			case *discard.Comp:
				readModel = func(uint32) uint32 { return 0 }
			}
		}
	}

	if runFlags.trace {
		tracing.CollectTrace(pipeline, s.GetVisTracer())
	}

	test := traffic.NewTest()
	agent := traffic.NewAgent(engine, freq, "Agent", test)
	s.RegisterComponent(agent)

	connectEndpoints(s, pipeline, agent)

	if mem != nil {
		readModel = test.ShadowRead
	}

	generator := traffic.MakeGeneratorBuilder().
		WithSeed(runFlags.seed).
		WithTest(test).
		WithAgent(agent).
		WithBarIndex(uint8(runFlags.bar)).
		WithMaxDWLength(runFlags.maxDWLen).
		WithReadModel(readModel).
		Build()

	generator.GenerateWrites(runFlags.numWrites)
	generator.GenerateReads(runFlags.numReads)

	agent.TickLater()

	if err := engine.Run(); err != nil {
		log.Panic(err)
	}

	verify(pipeline, test, mem)
	recordStats(s, pipeline)
}

func buildSimulation() *simulation.Simulation {
	builder := simulation.MakeBuilder()

	if runFlags.output != "" {
		builder = builder.WithOutputFileName(runFlags.output)
	}

	if addr := os.Getenv("BARPIPE_CLICKHOUSE_ADDR"); addr != "" {
		builder = builder.WithClickHouse(
			addr,
			os.Getenv("BARPIPE_CLICKHOUSE_DB"),
			os.Getenv("BARPIPE_CLICKHOUSE_USER"),
			os.Getenv("BARPIPE_CLICKHOUSE_PASSWORD"),
		)
	}

	if runFlags.monitor {
		if runFlags.monitorPort > 0 {
			builder = builder.WithMonitorPort(runFlags.monitorPort)
		}
	} else {
		builder = builder.WithoutMonitoring()
	}

	s := builder.Build()

	if runFlags.monitor && runFlags.openBrowser && runFlags.monitorPort > 0 {
		url := fmt.Sprintf("http://localhost:%d", runFlags.monitorPort)
		if err := browser.OpenURL(url); err != nil {
			fmt.Fprintf(os.Stderr, "cannot open browser: %s\n", err)
		}
	}

	return s
}

func buildBackend(
	s *simulation.Simulation,
	engine sim.Engine,
	freq sim.Freq,
	barIndex int,
) backendComp {
	name := fmt.Sprintf("Backend%d", barIndex)

	var backend backendComp

	switch runFlags.backend {
	case "regmem":
		backend = regmem.MakeBuilder().
			WithEngine(engine).
			WithFreq(freq).
			WithLatency(runFlags.latency).
			Build(name)
	case "loopback":
		backend = loopback.MakeBuilder().
			WithEngine(engine).
			WithFreq(freq).
			WithLatency(runFlags.latency).
			Build(name)
	case "devemu":
		backend = devemu.MakeBuilder().
			WithEngine(engine).
			WithFreq(freq).
			WithLatency(runFlags.latency).
			Build(name)
	case "discard":
		backend = discard.MakeBuilder().
			WithEngine(engine).
			WithFreq(freq).
			Build(name)
	default:
		log.Panicf("unknown backend kind %q", runFlags.backend)
	}

	s.RegisterComponent(backend)

	return backend
}

func connectBar(
	s *simulation.Simulation,
	pipeline *bridge.Comp,
	backend backendComp,
	barIndex int,
) {
	conn := sim.NewDirectConnection(
		fmt.Sprintf("Conn.Bar%d", barIndex),
		s.GetEngine(), 1*sim.GHz)

	conn.PlugIn(pipeline.BarPort(barIndex))
	conn.PlugIn(backend.TopPort())

	latency := runFlags.latency
	if runFlags.backend == "discard" {
		latency = 0
	}

	pipeline.ConnectBar(barIndex, backend.TopPort(), latency)
}

func connectEndpoints(
	s *simulation.Simulation,
	pipeline *bridge.Comp,
	agent *traffic.Agent,
) {
	inConn := sim.NewDirectConnection("Conn.Inbound", s.GetEngine(), 1*sim.GHz)
	inConn.PlugIn(agent.TxPort())
	inConn.PlugIn(pipeline.InboundPort())

	outConn := sim.NewDirectConnection(
		"Conn.Outbound", s.GetEngine(), 1*sim.GHz)
	outConn.PlugIn(pipeline.OutboundPort())
	outConn.PlugIn(agent.RxPort())

	agent.ConnectPipeline(pipeline.InboundPort())
	pipeline.ConnectDownstream(agent.RxPort())
}

func verify(pipeline *bridge.Comp, test *traffic.Test, mem *regmem.Comp) {
	if runFlags.backend != "discard" {
		test.MustHaveReceivedAllCompletions()
	}

	if mem != nil {
		test.VerifyMemory(mem.Read)
	}

	stats := pipeline.Stats()
	fmt.Printf("write drops:       %d\n", stats.WriteDrops)
	fmt.Printf("read drops:        %d\n", stats.ReadDrops)
	fmt.Printf("malformed TLPs:    %d\n", stats.MalformedTLPs)
	fmt.Printf("multi-assert:      %d\n", stats.MultiAssert)
	fmt.Println("all completions verified")
}

func recordStats(s *simulation.Simulation, pipeline *bridge.Comp) {
	recorder := s.GetDataRecorder()
	recorder.CreateTable("pipeline_stats", bridge.Stats{})
	recorder.InsertData("pipeline_stats", pipeline.Stats())
	recorder.Flush()
}
