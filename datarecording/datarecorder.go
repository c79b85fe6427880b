// Package datarecording persists simulation output, such as traces and
// pipeline statistics, into SQLite or ClickHouse databases. Tables are
// derived from flat Go structs; one struct field becomes one column.
package datarecording

import (
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/fatih/structs"

	// Registers the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// DataRecorder can create tables and batch-insert entries into them.
type DataRecorder interface {
	// CreateTable creates a table whose columns are the fields of the sample
	// entry.
	CreateTable(tableName string, sampleEntry any)

	// InsertData buffers one entry for the named table.
	InsertData(tableName string, entry any)

	// ListTables returns the names of all created tables.
	ListTables() []string

	// Flush writes all buffered entries to the database.
	Flush()
}

// New creates a DataRecorder backed by a new SQLite database file at the
// given path, without the .sqlite3 suffix. An empty path picks a unique
// name.
func New(path string) DataRecorder {
	r := &sqliteRecorder{
		dbName:    path,
		batchSize: 100000,
		tables:    make(map[string]*pendingTable),
	}

	r.connect()

	atexit.Register(func() { r.Flush() })

	return r
}

// NewWithDB creates a DataRecorder on an already opened database.
func NewWithDB(db *sql.DB) DataRecorder {
	r := &sqliteRecorder{
		db:        db,
		batchSize: 100000,
		tables:    make(map[string]*pendingTable),
	}

	atexit.Register(func() { r.Flush() })

	return r
}

type pendingTable struct {
	columns []string
	entries []any
}

type sqliteRecorder struct {
	db *sql.DB

	dbName      string
	tables      map[string]*pendingTable
	batchSize   int
	numBuffered int
}

func (r *sqliteRecorder) connect() {
	if r.dbName == "" {
		r.dbName = "barpipe_data_recording_" + xid.New().String()
	}

	filename := r.dbName + ".sqlite3"

	if _, err := os.Stat(filename); err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	fmt.Fprintf(os.Stderr, "Database created for recording: %s\n", filename)

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		panic(err)
	}

	r.db = db
}

func columnsOf(sampleEntry any) []string {
	t := reflect.TypeOf(sampleEntry)

	for i := 0; i < t.NumField(); i++ {
		switch t.Field(i).Type.Kind() {
		case reflect.Bool,
			reflect.Int, reflect.Int8, reflect.Int16,
			reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16,
			reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64,
			reflect.String:
		default:
			panic(fmt.Sprintf("field %s of %s cannot be stored as a column",
				t.Field(i).Name, t.Name()))
		}
	}

	return structs.Names(sampleEntry)
}

func (r *sqliteRecorder) CreateTable(tableName string, sampleEntry any) {
	columns := columnsOf(sampleEntry)

	createSQL := "CREATE TABLE " + tableName +
		" (\n\t" + strings.Join(columns, ",\n\t") + "\n);"
	r.mustExecute(createSQL)

	r.tables[tableName] = &pendingTable{columns: columns}
}

func (r *sqliteRecorder) InsertData(tableName string, entry any) {
	table, exists := r.tables[tableName]
	if !exists {
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	table.entries = append(table.entries, entry)

	r.numBuffered++
	if r.numBuffered >= r.batchSize {
		r.Flush()
	}
}

func (r *sqliteRecorder) ListTables() []string {
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}

	return names
}

func (r *sqliteRecorder) Flush() {
	if r.numBuffered == 0 {
		return
	}

	r.mustExecute("BEGIN TRANSACTION")
	defer r.mustExecute("COMMIT TRANSACTION")

	for tableName, table := range r.tables {
		r.flushTable(tableName, table)
	}

	r.numBuffered = 0
}

func (r *sqliteRecorder) flushTable(tableName string, table *pendingTable) {
	if len(table.entries) == 0 {
		return
	}

	placeholders := strings.Repeat("?, ", len(table.columns))
	placeholders = strings.TrimSuffix(placeholders, ", ")

	stmt, err := r.db.Prepare(
		"INSERT INTO " + tableName + " VALUES (" + placeholders + ")")
	if err != nil {
		panic(err)
	}
	defer stmt.Close()

	for _, entry := range table.entries {
		if _, err := stmt.Exec(fieldValues(entry)...); err != nil {
			panic(err)
		}
	}

	table.entries = nil
}

func fieldValues(entry any) []any {
	v := reflect.ValueOf(entry)

	values := make([]any, 0, v.NumField())
	for i := 0; i < v.NumField(); i++ {
		values = append(values, v.Field(i).Interface())
	}

	return values
}

func (r *sqliteRecorder) mustExecute(query string) sql.Result {
	res, err := r.db.Exec(query)
	if err != nil {
		panic(fmt.Errorf("failed to execute %q: %w", query, err))
	}

	return res
}
