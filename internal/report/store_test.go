package report

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/testdeck/internal/engine"
	"github.com/alexisbeaulieu97/testdeck/internal/logger"
	"github.com/alexisbeaulieu97/testdeck/internal/model"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "db", "report.sqlite"), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func result(name string, status model.Status, d time.Duration) model.RunResult {
	start := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	return model.RunResult{
		Name:     name,
		Status:   status,
		Color:    status.Color(),
		Log:      name + " log",
		Duration: d,
		Start:    start,
		Stop:     start.Add(d),
	}
}

func save(t *testing.T, store *Store, id Identity, results ...model.RunResult) int64 {
	t.Helper()
	reportID, err := store.Save(context.Background(), id, results, model.TotalDuration(results))
	require.NoError(t, err)
	return reportID
}

func TestSaveAndLatestReport(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	ctx := context.Background()

	latest, err := store.LatestReport(ctx, "")
	require.NoError(t, err)
	require.Zero(t, latest.ReportID)
	require.Empty(t, latest.Steps)

	first := save(t, store, Identity{UUID: "u1", Path: "20250501_100000", TestID: "suites.a", ParentTestName: "a"},
		result("build 1 - compile", model.StatusPass, 1500*time.Millisecond),
		result("build 2 - link", model.StatusFail, 250*time.Millisecond),
	)
	second := save(t, store, Identity{UUID: "u2", TestID: "suites.b", ParentTestName: "b"},
		result("play 1 - launch", model.StatusPass, time.Second),
	)
	require.Greater(t, second, first)

	latest, err = store.LatestReport(ctx, "")
	require.NoError(t, err)
	require.Equal(t, second, latest.ReportID)
	require.Equal(t, []StepSummary{{Index: 1, Name: "play 1 - launch", Duration: 1, Status: model.StatusPass}}, latest.Steps)

	latest, err = store.LatestReport(ctx, "suites.a")
	require.NoError(t, err)
	require.Equal(t, first, latest.ReportID)
	require.Equal(t, "20250501_100000", latest.Path)
	require.Len(t, latest.Steps, 2)
	require.Equal(t, "build 1 - compile", latest.Steps[0].Name)
	require.InDelta(t, 1.5, latest.Steps[0].Duration, 0.001)
	require.Equal(t, model.StatusFail, latest.Steps[1].Status)
}

func TestAllReportsAggregates(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	ctx := context.Background()

	passing := save(t, store, Identity{UUID: "p", TestID: "m1", ParentTestName: "alpha"},
		result("one", model.StatusPass, time.Second),
		result("two", model.StatusSkipped, 0),
	)
	erroring := save(t, store, Identity{UUID: "e", TestID: "m2", ParentTestName: "alpha"},
		result("one", model.StatusPass, time.Second),
		result("two", model.StatusError, 0),
	)
	missing := save(t, store, Identity{UUID: "n", TestID: "m3", ParentTestName: "beta"},
		result("ghost", model.StatusNotFound, 0),
	)

	all, err := store.AllReports(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, []int64{missing, erroring, passing}, []int64{all[0].ID, all[1].ID, all[2].ID})
	require.Equal(t, model.StatusFail, all[0].Status)
	require.Equal(t, model.StatusFail, all[1].Status)
	require.Equal(t, model.StatusPass, all[2].Status)
	require.InDelta(t, 1.0, all[2].TotalDuration, 0.001)
	require.NotNil(t, all[2].StartTime)
	require.Equal(t, 2025, all[2].StartTime.Year())
	require.False(t, all[2].CreatedAt.IsZero())

	alpha, err := store.AllReports(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, alpha, 2)
	for _, r := range alpha {
		require.NotEqual(t, missing, r.ID)
	}
}

func TestFailedStepsUsesMostRecentReportOnly(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	ctx := context.Background()

	save(t, store, Identity{UUID: "1", TestID: "moduleA"}, result("X", model.StatusFail, 0))
	save(t, store, Identity{UUID: "2", TestID: "moduleA"}, result("X", model.StatusPass, 0))
	save(t, store, Identity{UUID: "3", TestID: "moduleB"}, result("Y", model.StatusFail, 0))

	failed, err := store.FailedSteps(ctx, "moduleA", "")
	require.NoError(t, err)
	require.Empty(t, failed)

	failed, err = store.FailedSteps(ctx, "unknown", "")
	require.NoError(t, err)
	require.Empty(t, failed)

	_, err = store.FailedSteps(ctx, "", "")
	require.Error(t, err)
}

func TestFailedStepsFiltersStatusAndType(t *testing.T) {
	t.Parallel()

	store := openStore(t)

	build := result("build 1 - compile", model.StatusFail, 0)
	build.TestType = "build"
	skipped := result("build 2 - link", model.StatusSkipped, 0)
	skipped.TestType = "build"
	play := result("play 3 - launch", model.StatusError, 0)
	play.TestType = "play"
	ok := result("play 4 - quit", model.StatusPass, 0)
	ok.TestType = "play"
	save(t, store, Identity{UUID: "1", TestID: "m"}, build, skipped, play, ok)

	failed, err := store.FailedSteps(context.Background(), "m", "")
	require.NoError(t, err)
	require.Equal(t, []FailedStep{
		{Index: 1, Name: "build 1 - compile", TestType: "build", Status: model.StatusFail, Output: "build 1 - compile log"},
		{Index: 3, Name: "play 3 - launch", TestType: "play", Status: model.StatusError, Output: "play 3 - launch log"},
	}, failed)

	failed, err = store.FailedSteps(context.Background(), "m", "play")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "play 3 - launch", failed[0].Name)
}

func TestStepsRoundTripAndAppendOnly(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	ctx := context.Background()

	step := result("build 1 - compile", model.StatusPass, 2*time.Second)
	step.Stdout = "compiled"
	step.Screenshots = []string{"screenshot-cam-1.png", "screenshot-cam-1-2.png"}
	first := save(t, store, Identity{UUID: "1", TestID: "m", ParentTestName: "p", TestType: "build"}, step)
	save(t, store, Identity{UUID: "2", TestID: "m"}, result("other", model.StatusFail, 0))

	records, err := store.Steps(ctx, first)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	require.Equal(t, first, rec.ReportID)
	require.Equal(t, 1, rec.Index)
	require.Equal(t, "m", rec.TestID)
	require.Equal(t, "p", rec.ParentTestName)
	require.Equal(t, "build", rec.TestType)
	require.Equal(t, "green", rec.Color)
	require.Equal(t, "compiled", rec.Stdout)
	require.InDelta(t, 2.0, rec.Duration, 0.001)
	require.WithinDuration(t, step.Start, rec.Start, time.Millisecond)
	require.WithinDuration(t, step.Stop, rec.Stop, time.Millisecond)
	require.Equal(t, step.Screenshots, rec.Screenshots)

	runs, err := store.ReportRuns(ctx, "m")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, first, runs[1])
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "postgres", "dsn", nil)
	require.Error(t, err)
}

func TestSinkSavesRun(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	reportsDir := filepath.Join(t.TempDir(), "reports")

	run := &engine.Summary{
		RunID:     "run-uuid",
		ModuleID:  "suites.smoke",
		TestID:    "smoke",
		TestType:  "build",
		ReportDir: filepath.Join(reportsDir, "20250101_000000"),
		Revision:  "abc123",
		Results:   []model.RunResult{result("build 1 - compile", model.StatusPass, time.Second)},
	}

	sink := NewSink(store, reportsDir)
	require.Equal(t, "report", sink.Name())
	require.NoError(t, sink.Complete(context.Background(), run))
	require.Positive(t, run.ReportID)

	all, err := store.AllReports(context.Background(), "smoke")
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "20250101_000000", all[0].Path)
	require.Equal(t, "run-uuid", all[0].UUID)
	require.Equal(t, "suites.smoke", all[0].TestID)
	require.Equal(t, "abc123", all[0].Revision)
}

func TestIdentityForFallsBackToModuleID(t *testing.T) {
	t.Parallel()

	id := IdentityFor(&engine.Summary{ModuleID: "m", ReportDir: "/elsewhere/run"}, "")
	require.Equal(t, "m", id.ParentTestName)
	require.Equal(t, "/elsewhere/run", id.Path)
}
