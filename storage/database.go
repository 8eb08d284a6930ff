package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/eddielth/ksysguardd-nvidia/logger"
)

// DatabaseType names a supported SQL backend.
type DatabaseType string

const (
	MySQL      DatabaseType = "mysql"
	PostgreSQL DatabaseType = "postgresql"
)

// DatabaseStorage is a StorageBackend on a SQL database.
type DatabaseStorage interface {
	StorageBackend
	InitDatabase() error
}

// NewDatabaseStorage opens a backend of the given type.
func NewDatabaseStorage(dbType string, dsn string) (DatabaseStorage, error) {
	switch DatabaseType(strings.ToLower(dbType)) {
	case MySQL:
		return NewMySQLStorage(dsn)
	case PostgreSQL, "postgres":
		return NewPostgreSQLStorage(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// dialect holds what differs between the SQL backends.
type dialect struct {
	name   string
	schema []string
	// placeholder returns the bind parameter for the 1-based argument n
	placeholder func(n int) string
	// insertSnapshot stores the snapshot row and returns its id
	insertSnapshot func(tx *sql.Tx, capturedAt time.Time, devices int) (int64, error)
}

func (d dialect) sampleInsert(snapshotID int64, samples []Sample) (string, []interface{}) {
	const columns = 7
	valueStrings := make([]string, 0, len(samples))
	valueArgs := make([]interface{}, 0, len(samples)*columns)

	n := 1
	for _, s := range samples {
		ph := make([]string, columns)
		for i := range ph {
			ph[i] = d.placeholder(n)
			n++
		}
		valueStrings = append(valueStrings, "("+strings.Join(ph, ", ")+")")

		var number interface{}
		if s.Number != nil {
			number = *s.Number
		}
		valueArgs = append(valueArgs, snapshotID, s.Device, s.Field, s.Type, s.Value, number, s.Unit)
	}

	query := "INSERT INTO gpu_samples (snapshot_id, device, field, type, value, number, unit) VALUES " +
		strings.Join(valueStrings, ", ")
	return query, valueArgs
}

// sqlStorage is the backend shared by the SQL dialects.
type sqlStorage struct {
	db       *sql.DB
	database string
	dialect  dialect
}

func openSQL(driver, dsn, database string, d dialect) (*sqlStorage, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to %s database failed: %w", d.name, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s database ping failed: %w", d.name, err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Minute * 5)

	storage := &sqlStorage{db: db, database: database, dialect: d}
	if err := storage.InitDatabase(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize %s database failed: %w", d.name, err)
	}

	logger.Info("%s storage initialized", d.name)
	return storage, nil
}

// InitDatabase creates the export tables.
func (s *sqlStorage) InitDatabase() error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create tables failed: %w", err)
		}
	}
	return nil
}

// Store implements StorageBackend.
func (s *sqlStorage) Store(capturedAt time.Time, samples []Sample) (err error) {
	devices, _ := groupByDevice(samples)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction failed: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
			logger.Error("%s transaction rolled back: %v", s.dialect.name, err)
		}
	}()

	snapshotID, err := s.dialect.insertSnapshot(tx, capturedAt.UTC(), len(devices))
	if err != nil {
		return fmt.Errorf("insert snapshot failed: %w", err)
	}

	if len(samples) > 0 {
		query, args := s.dialect.sampleInsert(snapshotID, samples)
		if _, err = tx.Exec(query, args...); err != nil {
			return fmt.Errorf("insert samples failed: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction failed: %w", err)
	}

	logger.Debug("stored %d samples to %s", len(samples), s.dialect.name)
	return nil
}

// Close implements StorageBackend.
func (s *sqlStorage) Close() error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("close %s connection failed: %w", s.dialect.name, err)
		}
		logger.Info("%s connection closed", s.dialect.name)
	}
	return nil
}
