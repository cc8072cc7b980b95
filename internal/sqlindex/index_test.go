package sqlindex

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/Shreyas-ITB/Vibgyor-Optimus/internal/errors"
)

func writeSQL(t *testing.T, dir, rel, content string) string {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func fixtureTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeSQL(t, dir, "tables/ScCustomer.sql", "CREATE TABLE [dbo].[ScCustomer] (\n [CustomerID] INT,\n [Name] NVARCHAR(100)\n)\n")
	writeSQL(t, dir, "tables/ScProject.sql", "CREATE TABLE dbo.ScProject (\n [ProjectID] INT,\n [CustomerID] INT\n)\n")
	writeSQL(t, dir, "views/vwCustomerProjects.SQL", "CREATE VIEW vwCustomerProjects AS\nSELECT * FROM ScCustomer c JOIN ScProject p ON p.CustomerID = c.CustomerID\n")
	writeSQL(t, dir, "procs/usp_GetCustomer.sql", "CREATE PROCEDURE usp_GetCustomer @CustomerID INT AS\nSELECT * FROM ScCustomer WHERE CustomerID = @CustomerID\n")
	writeSQL(t, dir, "misc/notes.sql", "-- nothing to see\n")
	writeSQL(t, dir, "misc/readme.txt", "CREATE TABLE Ignored (id int)")
	return dir
}

func TestBuild(t *testing.T) {
	dir := fixtureTree(t)

	objects, stats, err := Build(context.Background(), dir, nil)
	require.NoError(t, err)

	assert.Equal(t, 5, stats.TotalFiles)
	assert.Equal(t, 5, stats.TotalObjects)
	assert.Equal(t, 2, stats.Tables)
	assert.Equal(t, 1, stats.Views)
	assert.Equal(t, 1, stats.Procedures)
	assert.Equal(t, 1, stats.Unknown)
	assert.Equal(t, 0, stats.FailedFiles)
	assert.Len(t, objects, 5)

	var customer *Object
	for _, o := range objects {
		if o.Name == "ScCustomer" {
			customer = o
		}
	}
	require.NotNil(t, customer)
	assert.Equal(t, 4, customer.LineCount())
	assert.Equal(t, []Column{{"CustomerID", "INT"}, {"Name", "NVARCHAR(100)"}}, customer.Columns)
}

func TestBuildLossyDecode(t *testing.T) {
	dir := t.TempDir()
	writeSQL(t, dir, "bad.sql", "CREATE TABLE Bad\xff\xfe (id int)")

	objects, stats, err := Build(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.FailedFiles)
	require.Len(t, objects, 1)
	assert.Equal(t, "Bad", objects[0].Name)
}

func TestBuildMissingRoot(t *testing.T) {
	_, _, err := Build(context.Background(), filepath.Join(t.TempDir(), "missing"), nil)
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrTypeNotFound))
	assert.Contains(t, err.Error(), "Path does not exist")
}

type recordingProgress struct {
	started  int
	advanced int
	failed   []string
	finished bool
}

func (p *recordingProgress) Start(_ string, total int) { p.started = total }
func (p *recordingProgress) Advance(string)            { p.advanced++ }
func (p *recordingProgress) Fail(path string, _ error) { p.failed = append(p.failed, path) }
func (p *recordingProgress) Finish(Stats)              { p.finished = true }

func TestBuildToleratesUnreadableFile(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can read files regardless of mode")
	}
	dir := t.TempDir()
	writeSQL(t, dir, "ok.sql", "CREATE TABLE Ok (id int)")
	bad := writeSQL(t, dir, "locked.sql", "CREATE TABLE Locked (id int)")
	require.NoError(t, os.Chmod(bad, 0o000))

	progress := &recordingProgress{}
	objects, stats, err := Build(context.Background(), dir, progress)
	require.NoError(t, err)
	assert.Len(t, objects, 1)
	assert.Equal(t, 1, stats.FailedFiles)
	assert.Equal(t, 2, stats.TotalFiles)
	assert.Equal(t, []string{bad}, progress.failed)
	assert.Equal(t, 2, progress.advanced)
	assert.True(t, progress.finished)
}

func TestBuildCancelledStillFinishesProgress(t *testing.T) {
	dir := fixtureTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	progress := &recordingProgress{}
	objects, _, err := Build(ctx, dir, progress)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, objects)
	assert.True(t, progress.finished)
}

func TestIndexerLoadCachesUntilForced(t *testing.T) {
	dir := fixtureTree(t)
	ix := NewIndexer(nil)
	ctx := context.Background()

	first, status, err := ix.Load(ctx, dir, false)
	require.NoError(t, err)
	assert.Equal(t, LoadBuilt, status)

	// Remove the tree: a cached load must not read it again.
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "tables")))

	second, status, err := ix.Load(ctx, dir, false)
	require.NoError(t, err)
	assert.Equal(t, LoadCached, status)
	assert.Same(t, first, second)
	assert.Equal(t, first.Stats.Summary(), second.Stats.Summary())

	third, status, err := ix.Load(ctx, dir, true)
	require.NoError(t, err)
	assert.Equal(t, LoadBuilt, status)
	assert.Equal(t, 3, third.Stats.TotalObjects)
	assert.Same(t, third, ix.Current())
}

func TestSnapshotQueries(t *testing.T) {
	ix := NewIndexer(nil)
	snap, _, err := ix.Load(context.Background(), fixtureTree(t), false)
	require.NoError(t, err)

	tables := snap.List(KindTable, "", 100)
	assert.Len(t, tables, 2)

	named := snap.List("", "customer", 100)
	assert.Len(t, named, 3)
	assert.Len(t, snap.List("", "", 2), 2)

	customer, ok := snap.Find("sccustomer", KindTable)
	require.True(t, ok)
	_, ok = snap.Find("sccustomer", KindProcedure)
	assert.False(t, ok)

	var names []string
	for _, o := range snap.Dependents(customer) {
		names = append(names, o.Name)
	}
	assert.ElementsMatch(t, []string{"vwCustomerProjects", "usp_GetCustomer"}, names)

	got, ok := snap.ByPath(customer.Path)
	require.True(t, ok)
	assert.Same(t, customer, got)
}

func TestStatsSummary(t *testing.T) {
	s := Stats{TotalFiles: 3, TotalObjects: 2, Tables: 2, FailedFiles: 1, TotalBytes: 3 * 1024 * 1024 / 2}
	sum := s.Summary()
	assert.Equal(t, 1.5, sum.TotalSizeMB)
	assert.Equal(t, 2, sum.Breakdown.Tables)
}

func TestCountLines(t *testing.T) {
	assert.Equal(t, 0, countLines(""))
	assert.Equal(t, 1, countLines("a"))
	assert.Equal(t, 1, countLines("a\n"))
	assert.Equal(t, 2, countLines("a\r\nb"))
	assert.Equal(t, 3, countLines("a\n\nb\n"))
}
