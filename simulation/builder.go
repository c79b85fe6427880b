package simulation

import (
	"github.com/rs/xid"
	"github.com/sarchlab/barpipe/datarecording"
	"github.com/sarchlab/barpipe/monitoring"
	"github.com/sarchlab/barpipe/sim"
	"github.com/sarchlab/barpipe/tracing"
)

// Builder can build a simulation.
type Builder struct {
	monitorOn      bool
	monitorPort    int
	outputFileName string

	clickHouseAddr     string
	clickHouseDB       string
	clickHouseUser     string
	clickHousePassword string
}

// MakeBuilder creates a new builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		monitorOn: true,
	}
}

// WithoutMonitoring disables the monitoring server.
func (b Builder) WithoutMonitoring() Builder {
	b.monitorOn = false
	return b
}

// WithMonitorPort sets the port number of the monitoring server.
func (b Builder) WithMonitorPort(port int) Builder {
	b.monitorPort = port
	return b
}

// WithOutputFileName sets the file name of the SQLite output database,
// without the .sqlite3 suffix.
func (b Builder) WithOutputFileName(filename string) Builder {
	b.outputFileName = filename
	return b
}

// WithClickHouse records output into a ClickHouse database instead of
// SQLite.
func (b Builder) WithClickHouse(
	addr, database, user, password string,
) Builder {
	b.clickHouseAddr = addr
	b.clickHouseDB = database
	b.clickHouseUser = user
	b.clickHousePassword = password

	return b
}

func (b Builder) parametersMustBeValid() {
	if !b.monitorOn && b.monitorPort != 0 {
		panic("monitor port cannot be set when monitoring is disabled")
	}

	if b.clickHouseAddr != "" && b.outputFileName != "" {
		panic("output file name cannot be set when recording to ClickHouse")
	}
}

// Build builds the simulation.
func (b Builder) Build() *Simulation {
	b.parametersMustBeValid()

	s := &Simulation{
		compNameIndex: make(map[string]int),
		portNameIndex: make(map[string]int),
	}

	s.id = xid.New().String()
	s.engine = sim.NewSerialEngine()
	s.dataRecorder = b.buildRecorder(s.id)
	s.visTracer = tracing.NewDBTracer(s.engine, s.dataRecorder)

	if b.monitorOn {
		s.monitor = monitoring.NewMonitor()
		if b.monitorPort > 0 {
			s.monitor.WithPortNumber(b.monitorPort)
		}

		s.monitor.RegisterEngine(s.engine)
		s.monitor.StartServer()
	}

	return s
}

func (b Builder) buildRecorder(id string) datarecording.DataRecorder {
	if b.clickHouseAddr != "" {
		return datarecording.NewClickHouse(
			b.clickHouseAddr,
			b.clickHouseDB,
			b.clickHouseUser,
			b.clickHousePassword,
		)
	}

	outputPath := b.outputFileName
	if outputPath == "" {
		outputPath = "barpipe_sim_" + id
	}

	return datarecording.New(outputPath)
}
