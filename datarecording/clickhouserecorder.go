package datarecording

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/tebeka/atexit"
)

// NewClickHouse creates a DataRecorder that writes into a ClickHouse
// database reachable at addr, for example "localhost:9000". Tables are
// created in the named database, which must exist.
func NewClickHouse(addr, database, user, password string) DataRecorder {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
	})
	if err != nil {
		panic(fmt.Errorf("failed to connect to ClickHouse: %w", err))
	}

	if err := conn.Ping(context.Background()); err != nil {
		panic(fmt.Errorf("failed to ping ClickHouse: %w", err))
	}

	r := &clickHouseRecorder{
		conn:      conn,
		batchSize: 100000,
		tables:    make(map[string]*pendingTable),
	}

	atexit.Register(func() { r.Flush() })

	return r
}

type clickHouseRecorder struct {
	conn      driver.Conn
	mu        sync.Mutex
	batchSize int

	tables      map[string]*pendingTable
	numBuffered int
}

func clickHouseColumnType(kind reflect.Kind) string {
	switch kind {
	case reflect.Bool:
		return "Bool"
	case reflect.Int, reflect.Int64:
		return "Int64"
	case reflect.Int8:
		return "Int8"
	case reflect.Int16:
		return "Int16"
	case reflect.Int32:
		return "Int32"
	case reflect.Uint, reflect.Uint64:
		return "UInt64"
	case reflect.Uint8:
		return "UInt8"
	case reflect.Uint16:
		return "UInt16"
	case reflect.Uint32:
		return "UInt32"
	case reflect.Float32:
		return "Float32"
	case reflect.Float64:
		return "Float64"
	case reflect.String:
		return "String"
	default:
		panic(fmt.Sprintf("kind %s cannot be stored as a column", kind))
	}
}

func (r *clickHouseRecorder) CreateTable(tableName string, sampleEntry any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	columns := columnsOf(sampleEntry)
	t := reflect.TypeOf(sampleEntry)

	defs := make([]string, 0, len(columns))
	for i, name := range columns {
		defs = append(defs,
			name+" "+clickHouseColumnType(t.Field(i).Type.Kind()))
	}

	createSQL := "CREATE TABLE IF NOT EXISTS " + tableName +
		" (" + strings.Join(defs, ", ") + ") " +
		"ENGINE = MergeTree() ORDER BY tuple()"

	if err := r.conn.Exec(context.Background(), createSQL); err != nil {
		panic(fmt.Errorf("failed to create table %s: %w", tableName, err))
	}

	r.tables[tableName] = &pendingTable{columns: columns}
}

func (r *clickHouseRecorder) InsertData(tableName string, entry any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	table, exists := r.tables[tableName]
	if !exists {
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	table.entries = append(table.entries, entry)

	r.numBuffered++
	if r.numBuffered >= r.batchSize {
		r.flushLocked()
	}
}

func (r *clickHouseRecorder) ListTables() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}

	return names
}

func (r *clickHouseRecorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.flushLocked()
}

func (r *clickHouseRecorder) flushLocked() {
	if r.numBuffered == 0 {
		return
	}

	ctx := context.Background()

	for tableName, table := range r.tables {
		if len(table.entries) == 0 {
			continue
		}

		batch, err := r.conn.PrepareBatch(ctx, "INSERT INTO "+tableName)
		if err != nil {
			panic(fmt.Errorf(
				"failed to prepare batch for %s: %w", tableName, err))
		}

		for _, entry := range table.entries {
			if err := batch.Append(fieldValues(entry)...); err != nil {
				panic(err)
			}
		}

		if err := batch.Send(); err != nil {
			panic(fmt.Errorf("failed to send batch for %s: %w", tableName, err))
		}

		table.entries = nil
	}

	r.numBuffered = 0
}
