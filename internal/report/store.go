package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/alexisbeaulieu97/testdeck/internal/artifacts"
	"github.com/alexisbeaulieu97/testdeck/internal/logger"
	"github.com/alexisbeaulieu97/testdeck/internal/model"
)

// failingStatuses turn a report FAIL. Kept in SQL form for the aggregate query.
const failingStatuses = "'FAIL','ERROR','NOT_FOUND'"

// Identity names a report being saved.
type Identity struct {
	UUID string
	// Path is the report location relative to the reports directory.
	Path string
	// TestID is the module id the run executed.
	TestID string
	// ParentTestName groups modules sharing a display id.
	ParentTestName string
	TestType       string
	Revision       string
}

// StepSummary is one row of the latest report view.
type StepSummary struct {
	Index    int          `json:"index"`
	Name     string       `json:"name"`
	Duration float64      `json:"duration"`
	Status   model.Status `json:"status"`
}

// Latest is the step summary of the most recent report.
type Latest struct {
	ReportID int64         `json:"report_id"`
	Path     string        `json:"path"`
	Steps    []StepSummary `json:"steps"`
}

// Summary is the aggregate view of one stored report.
type Summary struct {
	ID            int64        `json:"id"`
	UUID          string       `json:"uuid"`
	Path          string       `json:"path"`
	TestID        string       `json:"test_id"`
	TotalDuration float64      `json:"total_duration"`
	Status        model.Status `json:"overall_status"`
	StartTime     *time.Time   `json:"start_time,omitempty"`
	Revision      string       `json:"source_revision,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// FailedStep is a non-passing step of the latest report for a test.
type FailedStep struct {
	Index    int          `json:"index"`
	Name     string       `json:"name"`
	TestType string       `json:"test_type,omitempty"`
	Status   model.Status `json:"status"`
	Output   string       `json:"output"`
}

// StepRecord is a full stored step row.
type StepRecord struct {
	ReportID       int64        `json:"report_id"`
	Index          int          `json:"test_index"`
	TestID         string       `json:"test_id"`
	ParentTestName string       `json:"parent_test_name"`
	TestType       string       `json:"test_type"`
	Name           string       `json:"name"`
	Status         model.Status `json:"status"`
	Color          string       `json:"color"`
	Output         string       `json:"output"`
	Stdout         string       `json:"stdout"`
	Duration       float64      `json:"duration"`
	Start          time.Time    `json:"start_time"`
	Stop           time.Time    `json:"stop_time"`
	Screenshots    []string     `json:"screenshots,omitempty"`
}

// Store persists reports in an append-only pair of tables.
type Store struct {
	db     *sql.DB
	driver string
	log    *logger.Logger
	now    func() time.Time
}

// Open connects to the database and applies the schema. For SQLite the DSN is a
// file path whose directory is created on demand.
func Open(ctx context.Context, driver, dsn string, log *logger.Logger) (*Store, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		driver = DriverSQLite
	}
	if _, err := schemaFor(driver); err != nil {
		return nil, err
	}

	if driver == DriverSQLite && !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// Single writer.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db, driver: driver, log: log.Component("report"), now: time.Now}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the database driver name.
func (s *Store) Driver() string {
	return s.driver
}

func (s *Store) migrate(ctx context.Context) error {
	statements, err := schemaFor(s.driver)
	if err != nil {
		return err
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Save appends one report and its ordered step results in a single transaction
// and returns the new report id.
func (s *Store) Save(ctx context.Context, id Identity, results []model.RunResult, total time.Duration) (reportID int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin report transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO report (report_uuid, path, test_id, total_duration, source_revision, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id.UUID, id.Path, id.TestID, round2(total.Seconds()), id.Revision, s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert report: %w", err)
	}
	reportID, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("report id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO test_result
		(report_id, test_index, test_id, parent_test_name, test_type, name, status, color, output, stdout, duration, start_time, stop_time, screenshot)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare step insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range results {
		testType := r.TestType
		if testType == "" {
			testType = id.TestType
		}
		if _, err = stmt.ExecContext(ctx,
			reportID, i+1, id.TestID, id.ParentTestName, testType, r.Name, string(r.Status), r.Color,
			r.Log, r.Stdout, round2(r.Duration.Seconds()), epoch(r.Start), epoch(r.Stop), artifacts.JoinScreenshots(r.Screenshots),
		); err != nil {
			return 0, fmt.Errorf("insert step %d: %w", i+1, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit report: %w", err)
	}

	s.log.WithFields(map[string]any{"report_id": reportID, "test_id": id.TestID, "steps": len(results)}).Debug("report saved")
	return reportID, nil
}

// LatestReport returns the steps of the most recent report, optionally limited to
// reports of one test id. No reports yields an empty Latest.
func (s *Store) LatestReport(ctx context.Context, testID string) (Latest, error) {
	reportID, path, err := s.latestReport(ctx, testID)
	if err != nil || reportID == 0 {
		return Latest{Steps: []StepSummary{}}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT test_index, name, duration, status FROM test_result WHERE report_id = ? ORDER BY test_index`, reportID)
	if err != nil {
		return Latest{}, fmt.Errorf("query latest report: %w", err)
	}
	defer rows.Close()

	latest := Latest{ReportID: reportID, Path: path, Steps: []StepSummary{}}
	for rows.Next() {
		var (
			step     StepSummary
			name     sql.NullString
			status   sql.NullString
			duration sql.NullFloat64
		)
		if err := rows.Scan(&step.Index, &name, &duration, &status); err != nil {
			return Latest{}, fmt.Errorf("scan step: %w", err)
		}
		step.Name = name.String
		step.Duration = duration.Float64
		step.Status = model.Status(strings.ToUpper(status.String))
		latest.Steps = append(latest.Steps, step)
	}
	return latest, rows.Err()
}

// AllReports aggregates every report, newest first. parent limits the result to
// reports containing steps of that parent test name.
func (s *Store) AllReports(ctx context.Context, parent string) ([]Summary, error) {
	query := `SELECT r.id, r.report_uuid, r.path, r.test_id, r.source_revision, r.created_at,
		COALESCE(SUM(tr.duration), 0),
		COALESCE(SUM(CASE WHEN tr.status IN (` + failingStatuses + `) THEN 1 ELSE 0 END), 0),
		MIN(tr.start_time)
		FROM report r LEFT JOIN test_result tr ON tr.report_id = r.id`
	var args []any
	if parent != "" {
		query += ` WHERE r.id IN (SELECT report_id FROM test_result WHERE parent_test_name = ?)`
		args = append(args, parent)
	}
	query += ` GROUP BY r.id, r.report_uuid, r.path, r.test_id, r.source_revision, r.created_at ORDER BY r.id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var (
			sum                               Summary
			path, testID, revision, createdAt sql.NullString
			failing                           int64
			start                             sql.NullFloat64
		)
		if err := rows.Scan(&sum.ID, &sum.UUID, &path, &testID, &revision, &createdAt, &sum.TotalDuration, &failing, &start); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		sum.Path = path.String
		sum.TestID = testID.String
		sum.Revision = revision.String
		sum.TotalDuration = round2(sum.TotalDuration)
		sum.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt.String)
		sum.Status = model.StatusPass
		if failing > 0 {
			sum.Status = model.StatusFail
		}
		if start.Valid {
			t := fromEpoch(start.Float64)
			sum.StartTime = &t
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// FailedSteps returns the non-passing, non-skipped steps of the most recent report
// for testID, optionally limited to one test type. Steps of older reports are never
// included.
func (s *Store) FailedSteps(ctx context.Context, testID, testType string) ([]FailedStep, error) {
	if testID == "" {
		return nil, errors.New("test id is required")
	}
	reportID, _, err := s.latestReport(ctx, testID)
	if err != nil || reportID == 0 {
		return []FailedStep{}, err
	}

	query := `SELECT test_index, name, test_type, status, output FROM test_result
		WHERE report_id = ? AND status NOT IN ('PASS', 'SKIPPED')`
	args := []any{reportID}
	if testType != "" {
		query += ` AND test_type = ?`
		args = append(args, testType)
	}
	query += ` ORDER BY test_index`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed steps: %w", err)
	}
	defer rows.Close()

	failed := []FailedStep{}
	for rows.Next() {
		var (
			step                           FailedStep
			name, stepType, status, output sql.NullString
		)
		if err := rows.Scan(&step.Index, &name, &stepType, &status, &output); err != nil {
			return nil, fmt.Errorf("scan failed step: %w", err)
		}
		step.Name = name.String
		step.TestType = stepType.String
		step.Status = model.Status(status.String)
		step.Output = output.String
		failed = append(failed, step)
	}
	return failed, rows.Err()
}

// ReportRuns lists the report ids stored for testID, newest first.
func (s *Store) ReportRuns(ctx context.Context, testID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM report WHERE test_id = ? ORDER BY id DESC`, testID)
	if err != nil {
		return nil, fmt.Errorf("query report runs: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Steps returns every stored step of a report in execution order.
func (s *Store) Steps(ctx context.Context, reportID int64) ([]StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT report_id, test_index, test_id, parent_test_name, test_type, name, status,
		color, output, stdout, duration, start_time, stop_time, screenshot
		FROM test_result WHERE report_id = ? ORDER BY test_index`, reportID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	records := []StepRecord{}
	for rows.Next() {
		var (
			rec                            StepRecord
			testID, parent, testType, name sql.NullString
			status, color, output, stdout  sql.NullString
			screenshot                     sql.NullString
			duration, start, stop          sql.NullFloat64
		)
		if err := rows.Scan(&rec.ReportID, &rec.Index, &testID, &parent, &testType, &name, &status,
			&color, &output, &stdout, &duration, &start, &stop, &screenshot); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		rec.TestID = testID.String
		rec.ParentTestName = parent.String
		rec.TestType = testType.String
		rec.Name = name.String
		rec.Status = model.Status(status.String)
		rec.Color = color.String
		rec.Output = output.String
		rec.Stdout = stdout.String
		rec.Duration = duration.Float64
		if start.Valid {
			rec.Start = fromEpoch(start.Float64)
		}
		if stop.Valid {
			rec.Stop = fromEpoch(stop.Float64)
		}
		rec.Screenshots = artifacts.SplitScreenshots(screenshot.String)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) latestReport(ctx context.Context, testID string) (int64, string, error) {
	query := `SELECT id, path FROM report`
	var args []any
	if testID != "" {
		query += ` WHERE test_id = ?`
		args = append(args, testID)
	}
	query += ` ORDER BY id DESC LIMIT 1`

	var (
		id   int64
		path sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&id, &path)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("query latest report id: %w", err)
	}
	return id, path.String, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func epoch(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromEpoch(v float64) time.Time {
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}
