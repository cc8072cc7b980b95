package toolserver

import (
	"context"

	apperr "github.com/Shreyas-ITB/Vibgyor-Optimus/internal/errors"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/sqldb"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/tools"
)

// liveStore returns the store, or the not-connected envelope when there is none.
func (s *Server) liveStore() (*sqldb.Store, string) {
	if s.store == nil {
		return nil, fail(sqldb.ErrNotConnected.Error())
	}
	return s.store, ""
}

func (s *Server) listDatabases(ctx context.Context, _ any) string {
	store, errText := s.liveStore()
	if store == nil {
		return errText
	}
	dbs, err := store.ListDatabases(ctx)
	if err != nil {
		return fail(apperr.Message(err))
	}
	return indent(struct {
		Status    string           `json:"status"`
		Databases []sqldb.Database `json:"databases"`
	}{"success", dbs})
}

func (s *Server) switchDatabase(ctx context.Context, a any) string {
	args := a.(*tools.SwitchDatabaseArgs)
	store, errText := s.liveStore()
	if store == nil {
		return errText
	}
	if err := store.Switch(ctx, args.DatabaseName); err != nil {
		return fail(apperr.Message(err))
	}
	return indent(struct {
		Status          string `json:"status"`
		CurrentDatabase string `json:"current_database"`
	}{"success", store.Current()})
}

func (s *Server) listTables(ctx context.Context, a any) string {
	args := a.(*tools.ListTablesArgs)
	store, errText := s.liveStore()
	if store == nil {
		return errText
	}
	tables, err := store.ListTables(ctx, args.Schema)
	if err != nil {
		return fail(apperr.Message(err))
	}
	return indent(struct {
		Status      string        `json:"status"`
		Database    string        `json:"database"`
		Schema      string        `json:"schema"`
		TotalTables int           `json:"total_tables"`
		Tables      []sqldb.Table `json:"tables"`
	}{"success", store.Current(), args.Schema, len(tables), tables})
}

func (s *Server) getTableColumns(ctx context.Context, a any) string {
	args := a.(*tools.GetTableColumnsArgs)
	store, errText := s.liveStore()
	if store == nil {
		return errText
	}
	info, err := store.Describe(ctx, args.Schema, args.TableName)
	if err != nil {
		return fail(apperr.Message(err))
	}
	return indent(struct {
		Status      string             `json:"status"`
		Database    string             `json:"database"`
		Table       string             `json:"table"`
		Columns     []sqldb.Column     `json:"columns"`
		PrimaryKeys []string           `json:"primary_keys"`
		ForeignKeys []sqldb.ForeignKey `json:"foreign_keys"`
	}{"success", store.Current(), args.Schema + "." + args.TableName, info.Columns, info.PrimaryKeys, info.ForeignKeys})
}

func (s *Server) queryTable(ctx context.Context, a any) string {
	args := a.(*tools.QueryTableArgs)
	store, errText := s.liveStore()
	if store == nil {
		return errText
	}
	rs, stmt, err := store.QueryTable(ctx, sqldb.TableQuery{
		Schema:  args.Schema,
		Table:   args.TableName,
		Columns: args.Columns,
		Where:   args.WhereClause,
		OrderBy: args.OrderBy,
		Limit:   args.Limit,
	})
	if err != nil {
		return fail(apperr.Message(err))
	}
	return indent(struct {
		Status      string      `json:"status"`
		Database    string      `json:"database"`
		Table       string      `json:"table"`
		SQLExecuted string      `json:"sql_executed"`
		RowCount    int         `json:"row_count"`
		Columns     []string    `json:"columns"`
		Rows        []sqldb.Row `json:"rows"`
	}{"success", store.Current(), args.Schema + "." + args.TableName, stmt, len(rs.Rows), rs.Columns, rs.Rows})
}

func (s *Server) executeQuery(ctx context.Context, a any) string {
	args := a.(*tools.ExecuteQueryArgs)
	store, errText := s.liveStore()
	if store == nil {
		return errText
	}
	rs, err := store.Execute(ctx, args.Query, args.MaxRows)
	if err != nil {
		return fail(apperr.Message(err))
	}
	if rs == nil {
		return indent(struct {
			Status   string `json:"status"`
			Message  string `json:"message"`
			Database string `json:"database"`
		}{"success", "Query executed successfully", store.Current()})
	}
	return indent(struct {
		Status    string      `json:"status"`
		Database  string      `json:"database"`
		RowCount  int         `json:"row_count"`
		Truncated bool        `json:"truncated"`
		Columns   []string    `json:"columns"`
		Rows      []sqldb.Row `json:"rows"`
	}{"success", store.Current(), len(rs.Rows), len(rs.Rows) >= args.MaxRows, rs.Columns, rs.Rows})
}

func (s *Server) searchTables(ctx context.Context, a any) string {
	args := a.(*tools.SearchTablesArgs)
	store, errText := s.liveStore()
	if store == nil {
		return errText
	}
	matches, err := store.Search(ctx, args.SearchTerm)
	if err != nil {
		return fail(apperr.Message(err))
	}
	return indent(struct {
		Status       string        `json:"status"`
		Database     string        `json:"database"`
		SearchTerm   string        `json:"search_term"`
		TotalResults int           `json:"total_results"`
		Results      []sqldb.Match `json:"results"`
	}{"success", store.Current(), args.SearchTerm, len(matches), matches})
}
