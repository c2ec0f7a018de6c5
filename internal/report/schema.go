package report

import "fmt"

// Supported database drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS report (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		report_uuid TEXT NOT NULL,
		path TEXT,
		test_id TEXT,
		total_duration REAL,
		source_revision TEXT,
		created_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS test_result (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		report_id INTEGER NOT NULL REFERENCES report(id),
		test_index INTEGER NOT NULL,
		test_id TEXT,
		parent_test_name TEXT,
		test_type TEXT,
		name TEXT,
		status TEXT,
		color TEXT,
		output TEXT,
		stdout TEXT,
		duration REAL,
		start_time REAL,
		stop_time REAL,
		screenshot TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_test_result_report ON test_result (report_id, test_index)`,
	`CREATE INDEX IF NOT EXISTS idx_report_test_id ON report (test_id)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS report (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		report_uuid VARCHAR(36) NOT NULL,
		path TEXT,
		test_id VARCHAR(255),
		total_duration DOUBLE,
		source_revision VARCHAR(64),
		created_at VARCHAR(40),
		INDEX idx_report_test_id (test_id)
	)`,
	`CREATE TABLE IF NOT EXISTS test_result (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		report_id BIGINT NOT NULL,
		test_index INT NOT NULL,
		test_id VARCHAR(255),
		parent_test_name VARCHAR(255),
		test_type VARCHAR(64),
		name TEXT,
		status VARCHAR(16),
		color VARCHAR(16),
		output MEDIUMTEXT,
		stdout MEDIUMTEXT,
		duration DOUBLE,
		start_time DOUBLE,
		stop_time DOUBLE,
		screenshot TEXT,
		INDEX idx_test_result_report (report_id, test_index),
		CONSTRAINT fk_test_result_report FOREIGN KEY (report_id) REFERENCES report (id)
	)`,
}

func schemaFor(driver string) ([]string, error) {
	switch driver {
	case DriverSQLite:
		return sqliteSchema, nil
	case DriverMySQL:
		return mysqlSchema, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
