package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/eddielth/ksysguardd-nvidia/logger"
)

var mysqlDialect = dialect{
	name: "MySQL",
	schema: []string{`
	CREATE TABLE IF NOT EXISTS gpu_snapshots (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		captured_at DATETIME(3) NOT NULL,
		devices INT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_captured_at (captured_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
	`, `
	CREATE TABLE IF NOT EXISTS gpu_samples (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		snapshot_id BIGINT NOT NULL,
		device INT NOT NULL,
		field VARCHAR(255) NOT NULL,
		type VARCHAR(16) NOT NULL,
		value TEXT NOT NULL,
		number DOUBLE NULL,
		unit VARCHAR(32),
		FOREIGN KEY (snapshot_id) REFERENCES gpu_snapshots(id) ON DELETE CASCADE,
		INDEX idx_snapshot_id (snapshot_id),
		INDEX idx_device_field (device, field)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
	`},
	placeholder: func(int) string { return "?" },
	insertSnapshot: func(tx *sql.Tx, capturedAt time.Time, devices int) (int64, error) {
		result, err := tx.Exec(`INSERT INTO gpu_snapshots (captured_at, devices) VALUES (?, ?)`, capturedAt, devices)
		if err != nil {
			return 0, err
		}
		return result.LastInsertId()
	},
}

// NewMySQLStorage creates the database named in dsn if needed and opens it.
func NewMySQLStorage(dsn string) (DatabaseStorage, error) {
	database, serverDSN, err := parseMySQLDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse MySQL DSN failed: %w", err)
	}

	serverDB, err := sql.Open("mysql", serverDSN)
	if err != nil {
		return nil, fmt.Errorf("connect to MySQL server failed: %w", err)
	}
	defer serverDB.Close()

	_, err = serverDB.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", database))
	if err != nil {
		return nil, fmt.Errorf("create database failed: %w", err)
	}
	logger.Info("ensured MySQL database %s exists", database)

	storage, err := openSQL("mysql", withParseTime(dsn), database, mysqlDialect)
	if err != nil {
		return nil, err
	}
	return storage, nil
}

// parseMySQLDSN splits a go-sql-driver DSN into the database name and a DSN
// for the server without a database.
func parseMySQLDSN(dsn string) (database string, serverDSN string, err error) {
	idx := strings.LastIndex(dsn, "/")
	if idx < 0 {
		return "", "", fmt.Errorf("invalid DSN, cannot extract database name")
	}

	dbPart := dsn[idx+1:]
	params := ""
	if q := strings.Index(dbPart, "?"); q >= 0 {
		params = dbPart[q:]
		dbPart = dbPart[:q]
	}
	if dbPart == "" {
		return "", "", fmt.Errorf("invalid DSN, database name is empty")
	}
	if strings.ContainsAny(dbPart, "`") {
		return "", "", fmt.Errorf("invalid database name %q", dbPart)
	}

	return dbPart, dsn[:idx+1] + params, nil
}

// withParseTime makes the driver map DATETIME columns to time.Time.
func withParseTime(dsn string) string {
	if strings.Contains(dsn, "parseTime=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&parseTime=true"
	}
	return dsn + "?parseTime=true"
}
