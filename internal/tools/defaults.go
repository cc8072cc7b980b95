package tools

import "strings"

var specs = []*Spec{
	define[SearchTablesArgs](SearchTables,
		"Search for tables or views in the database by keyword. "+
			"Use this FIRST to find the correct table name. "+
			"After you get results, you MUST immediately call query_table or execute_query to fetch the actual data rows.",
		true),
	define[QueryTableArgs](QueryTable,
		"Fetch actual data rows from a table. Use this after you know the table name. "+
			"This is the main tool for retrieving data.",
		true),
	define[ExecuteQueryArgs](ExecuteQuery,
		"Run a custom SQL query. Use this for JOINs, aggregations, or anything query_table cannot handle. "+
			"Write the full SQL SELECT statement.",
		true),
	define[GetTableColumnsArgs](GetTableColumns, "Get the column names and types for a specific table.", true),
	define[SwitchDatabaseArgs](SwitchDatabase, "Switch to a different database.", true),
	define[ListTablesArgs](ListTables, "List ALL tables in the current database.", true),
	define[ListDatabasesArgs](ListDatabases, "List all databases on the connected SQL Server.", true),

	define[LoadDatabaseArgs](LoadDatabase, "Index all SQL files under the given folder path.", false),
	define[SearchSQLArgs](SearchSQL, "Search SQL content by keyword or phrase with relevance scoring.", false),
	define[GetSQLFileArgs](GetSQLFile, "Get full SQL file content by path.", false),
	define[ListObjectsArgs](ListObjects, "List SQL objects with optional filtering.", false),
	define[GetTableSchemaArgs](GetTableSchema, "Get detailed schema information for a specific table from the file index.", false),
	define[GetProcedureInfoArgs](GetProcedureInfo, "Get detailed information about a stored procedure.", false),
	define[GetStatisticsArgs](GetStatistics, "Get current database index statistics.", false),
	define[FindDependenciesArgs](FindDependencies, "Find all objects that depend on or are depended upon by the given object.", false),
}

// Default returns the catalog of every tool the tool server hosts.
func Default() *Catalog {
	return New(specs...)
}

// ModelCatalog returns the tools offered to the model. databases fills the
// switch_database description; expose adds the file index tools.
func ModelCatalog(databases []string, expose bool) *Catalog {
	all := Default()
	names := append([]string(nil), LiveNames...)
	if expose {
		for _, s := range all.All() {
			if !s.Live {
				names = append(names, s.Name)
			}
		}
	}
	c := all.Subset(names...)
	if len(databases) > 0 {
		c = c.WithDescription(SwitchDatabase,
			"Switch to a different database. Available: "+strings.Join(databases, ", ")+".")
	}
	return c
}
