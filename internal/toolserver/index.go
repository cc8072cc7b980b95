package toolserver

import (
	"context"
	"fmt"
	"time"

	apperr "github.com/Shreyas-ITB/Vibgyor-Optimus/internal/errors"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/sqlindex"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/tools"
)

const notIndexed = "No database indexed. Please call load_database first."

// snapshot returns the current index, or nil when nothing is indexed.
func (s *Server) snapshot() *sqlindex.Snapshot {
	snap := s.index.Current()
	if snap == nil || len(snap.Objects) == 0 {
		return nil
	}
	return snap
}

func (s *Server) loadDatabase(ctx context.Context, a any) string {
	args := a.(*tools.LoadDatabaseArgs)
	s.logger.Info("indexing SQL files", "path", args.Path, "force", args.ForceReload)

	snap, status, err := s.index.Load(ctx, args.Path, args.ForceReload)
	if err != nil {
		s.logger.Error("failed to index database", "path", args.Path, "error", err)
		return fail("Failed to index database: " + apperr.Message(err))
	}

	summary := snap.Stats.Summary()
	if status == sqlindex.LoadCached {
		return compact(struct {
			Status  string                `json:"status"`
			Message string                `json:"message"`
			Stats   sqlindex.StatsSummary `json:"stats"`
		}{string(status), fmt.Sprintf("Database already indexed from %s. Use force_reload=True to re-index.", args.Path), summary})
	}

	s.logger.Info("indexing completed", "objects", snap.Stats.TotalObjects)
	return indent(struct {
		Status  string                `json:"status"`
		Message string                `json:"message"`
		Stats   sqlindex.StatsSummary `json:"stats"`
	}{string(status), fmt.Sprintf("Successfully indexed %d SQL objects", snap.Stats.TotalObjects), summary})
}

func (s *Server) searchSQL(_ context.Context, a any) string {
	args := a.(*tools.SearchSQLArgs)
	snap := s.snapshot()
	if snap == nil {
		return fail(notIndexed)
	}

	var kinds []sqlindex.Kind
	if args.ObjectType != "" {
		k, ok := sqlindex.ParseKind(args.ObjectType)
		if !ok {
			return fail(fmt.Sprintf("Invalid object_type: %s. Valid types: %s", args.ObjectType, sqlindex.ValidKindNames))
		}
		kinds = append(kinds, k)
	}

	results := snap.Search(args.Query, args.Limit, kinds...)
	return indent(struct {
		Status       string            `json:"status"`
		Query        string            `json:"query"`
		TotalResults int               `json:"total_results"`
		Results      []sqlindex.Result `json:"results"`
	}{"success", args.Query, len(results), results})
}

func (s *Server) getSQLFile(_ context.Context, a any) string {
	args := a.(*tools.GetSQLFileArgs)
	snap := s.snapshot()
	if snap == nil {
		return fail(notIndexed)
	}

	obj, ok := snap.ByPath(args.Path)
	if !ok {
		return fail("SQL file not found: " + args.Path)
	}
	if !args.IncludeMetadata {
		return obj.Content
	}

	var modified *string
	if !obj.ModifiedAt.IsZero() {
		m := obj.ModifiedAt.Format(time.RFC3339Nano)
		modified = &m
	}
	return indent(struct {
		Status       string            `json:"status"`
		Name         string            `json:"name"`
		Type         sqlindex.Kind     `json:"type"`
		Path         string            `json:"path"`
		FileSize     int64             `json:"file_size"`
		LineCount    int               `json:"line_count"`
		ModifiedAt   *string           `json:"modified_at"`
		Columns      []sqlindex.Column `json:"columns"`
		Parameters   []sqlindex.Column `json:"parameters"`
		Dependencies []string          `json:"dependencies"`
		Content      string            `json:"content"`
	}{
		"success", obj.Name, obj.Kind, obj.Path, obj.Size, obj.LineCount(), modified,
		nonNil(obj.Columns), nonNil(obj.Parameters), nonNil(obj.Dependencies), obj.Content,
	})
}

// objectEntry is one row of list_objects.
type objectEntry struct {
	Name      string        `json:"name"`
	Type      sqlindex.Kind `json:"type"`
	Path      string        `json:"path"`
	FileSize  int64         `json:"file_size"`
	LineCount int           `json:"line_count"`
}

func (s *Server) listObjects(_ context.Context, a any) string {
	args := a.(*tools.ListObjectsArgs)
	snap := s.snapshot()
	if snap == nil {
		return fail(notIndexed)
	}

	// An unrecognized type matches nothing rather than failing.
	kind, known := sqlindex.Kind(""), true
	if args.ObjectType != "" {
		kind, known = sqlindex.ParseKind(args.ObjectType)
	}

	entries := []objectEntry{}
	if known {
		for _, obj := range snap.List(kind, args.NamePattern, args.Limit) {
			entries = append(entries, objectEntry{obj.Name, obj.Kind, obj.Path, obj.Size, obj.LineCount()})
		}
	}

	filters := struct {
		ObjectType  string `json:"object_type"`
		NamePattern string `json:"name_pattern"`
	}{"all", "none"}
	if args.ObjectType != "" {
		filters.ObjectType = args.ObjectType
	}
	if args.NamePattern != "" {
		filters.NamePattern = args.NamePattern
	}

	return indent(struct {
		Status       string        `json:"status"`
		TotalResults int           `json:"total_results"`
		Filters      any           `json:"filters"`
		Results      []objectEntry `json:"results"`
	}{"success", len(entries), filters, entries})
}

func (s *Server) getTableSchema(_ context.Context, a any) string {
	args := a.(*tools.GetTableSchemaArgs)
	snap := s.snapshot()
	if snap == nil {
		return fail(notIndexed)
	}

	obj, ok := snap.Find(args.TableName, sqlindex.KindTable)
	if !ok {
		return fail("Table not found: " + args.TableName)
	}
	return indent(struct {
		Status       string            `json:"status"`
		TableName    string            `json:"table_name"`
		Path         string            `json:"path"`
		Columns      []sqlindex.Column `json:"columns"`
		Dependencies []string          `json:"dependencies"`
		LineCount    int               `json:"line_count"`
		FileSize     int64             `json:"file_size"`
	}{"success", obj.Name, obj.Path, nonNil(obj.Columns), nonNil(obj.Dependencies), obj.LineCount(), obj.Size})
}

func (s *Server) getProcedureInfo(_ context.Context, a any) string {
	args := a.(*tools.GetProcedureInfoArgs)
	snap := s.snapshot()
	if snap == nil {
		return fail(notIndexed)
	}

	obj, ok := snap.Find(args.ProcedureName, sqlindex.KindProcedure)
	if !ok {
		return fail("Procedure not found: " + args.ProcedureName)
	}
	return indent(struct {
		Status        string            `json:"status"`
		ProcedureName string            `json:"procedure_name"`
		Path          string            `json:"path"`
		Parameters    []sqlindex.Column `json:"parameters"`
		Dependencies  []string          `json:"dependencies"`
		LineCount     int               `json:"line_count"`
		Content       string            `json:"content"`
	}{"success", obj.Name, obj.Path, nonNil(obj.Parameters), nonNil(obj.Dependencies), obj.LineCount(), obj.Content})
}

func (s *Server) getStatistics(_ context.Context, _ any) string {
	snap := s.index.Current()
	if snap == nil {
		return fail(notIndexed)
	}
	return indent(struct {
		sqlindex.StatsSummary
		IndexedPath string `json:"indexed_path"`
		Status      string `json:"status"`
	}{snap.Stats.Summary(), snap.Root, "success"})
}

// dependent is one entry of dependent_objects.
type dependent struct {
	Name string        `json:"name"`
	Type sqlindex.Kind `json:"type"`
	Path string        `json:"path"`
}

func (s *Server) findDependencies(_ context.Context, a any) string {
	args := a.(*tools.FindDependenciesArgs)
	snap := s.snapshot()
	if snap == nil {
		return fail(notIndexed)
	}

	target, ok := snap.Find(args.ObjectName, "")
	if !ok {
		return fail("Object not found: " + args.ObjectName)
	}
	deps := []dependent{}
	for _, obj := range snap.Dependents(target) {
		deps = append(deps, dependent{obj.Name, obj.Kind, obj.Path})
	}
	return indent(struct {
		Status           string        `json:"status"`
		ObjectName       string        `json:"object_name"`
		ObjectType       sqlindex.Kind `json:"object_type"`
		DependsOn        []string      `json:"depends_on"`
		DependentObjects []dependent   `json:"dependent_objects"`
	}{"success", target.Name, target.Kind, nonNil(target.Dependencies), deps})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
