package tools

// Live database tools.

type SearchTablesArgs struct {
	SearchTerm string `json:"search_term" jsonschema:"required" validate:"required" jsonschema_description:"Keyword to search for in table/view names (e.g. 'customer', 'employee', 'project')"`
}

type QueryTableArgs struct {
	TableName   string `json:"table_name" jsonschema:"required" validate:"required" jsonschema_description:"Exact name of the table to query"`
	Schema      string `json:"schema,omitempty" jsonschema:"default=dbo" jsonschema_description:"Schema name (default: 'dbo')"`
	Columns     string `json:"columns,omitempty" jsonschema:"default=*" jsonschema_description:"Comma-separated column names, or '*' for all columns"`
	WhereClause string `json:"where_clause,omitempty" jsonschema_description:"Filter condition without the WHERE keyword. Example: CustomerID = 1"`
	OrderBy     string `json:"order_by,omitempty" jsonschema_description:"Order clause without ORDER BY keyword. Example: CreatedDate DESC"`
	Limit       int    `json:"limit,omitempty" jsonschema:"default=100" jsonschema_description:"Number of rows to return. Default 100, max 5000."`
}

type ExecuteQueryArgs struct {
	Query   string `json:"query" jsonschema:"required" validate:"required" jsonschema_description:"Full SQL SELECT statement to execute"`
	MaxRows int    `json:"max_rows,omitempty" jsonschema:"default=1000" jsonschema_description:"Max rows to return. Default 1000."`
}

type GetTableColumnsArgs struct {
	TableName string `json:"table_name" jsonschema:"required" validate:"required" jsonschema_description:"Name of the table"`
	Schema    string `json:"schema,omitempty" jsonschema:"default=dbo" jsonschema_description:"Schema name (default: 'dbo')"`
}

type SwitchDatabaseArgs struct {
	DatabaseName string `json:"database_name" jsonschema:"required" validate:"required" jsonschema_description:"Name of the database"`
}

type ListTablesArgs struct {
	Schema string `json:"schema,omitempty" jsonschema:"default=dbo" jsonschema_description:"Schema name (default: 'dbo')"`
}

type ListDatabasesArgs struct{}

// File index tools.

type LoadDatabaseArgs struct {
	Path        string `json:"path" jsonschema:"required" validate:"required" jsonschema_description:"Root directory path containing SQL files"`
	ForceReload bool   `json:"force_reload,omitempty" jsonschema_description:"Force re-indexing even if already indexed"`
}

type SearchSQLArgs struct {
	Query      string `json:"query" jsonschema:"required" validate:"required" jsonschema_description:"Search query (keywords or phrase)"`
	ObjectType string `json:"object_type,omitempty" jsonschema_description:"Optional filter by type (table, view, procedure, function)"`
	Limit      int    `json:"limit,omitempty" jsonschema:"default=20" jsonschema_description:"Maximum number of results (default: 20, max: 100)"`
}

type GetSQLFileArgs struct {
	Path            string `json:"path" jsonschema:"required" validate:"required" jsonschema_description:"Full file path of the SQL file"`
	IncludeMetadata bool   `json:"include_metadata,omitempty" jsonschema_description:"Include file metadata (columns, parameters, dependencies)"`
}

type ListObjectsArgs struct {
	ObjectType  string `json:"object_type,omitempty" jsonschema_description:"Filter by type (table, view, procedure, function, trigger)"`
	NamePattern string `json:"name_pattern,omitempty" jsonschema_description:"Filter by name pattern (case-insensitive substring match)"`
	Limit       int    `json:"limit,omitempty" jsonschema:"default=100" jsonschema_description:"Maximum number of results (default: 100, max: 500)"`
}

type GetTableSchemaArgs struct {
	TableName string `json:"table_name" jsonschema:"required" validate:"required" jsonschema_description:"Name of the table"`
}

type GetProcedureInfoArgs struct {
	ProcedureName string `json:"procedure_name" jsonschema:"required" validate:"required" jsonschema_description:"Name of the stored procedure"`
}

type GetStatisticsArgs struct{}

type FindDependenciesArgs struct {
	ObjectName string `json:"object_name" jsonschema:"required" validate:"required" jsonschema_description:"Name of the SQL object"`
}

// Defaults are applied before decoding, so explicit values win.

func (a *QueryTableArgs) Defaults() {
	a.Schema, a.Columns, a.Limit = "dbo", "*", 100
}

func (a *ExecuteQueryArgs) Defaults()    { a.MaxRows = 1000 }
func (a *GetTableColumnsArgs) Defaults() { a.Schema = "dbo" }
func (a *ListTablesArgs) Defaults()      { a.Schema = "dbo" }
func (a *SearchSQLArgs) Defaults()       { a.Limit = 20 }
func (a *ListObjectsArgs) Defaults()     { a.Limit = 100 }

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

// Normalize applies the row and result caps after decoding.

func (a *QueryTableArgs) Normalize()   { a.Limit = Clamp(a.Limit, 1, 5000) }
func (a *ExecuteQueryArgs) Normalize() { a.MaxRows = Clamp(a.MaxRows, 1, 5000) }
func (a *SearchSQLArgs) Normalize()    { a.Limit = Clamp(a.Limit, 1, 100) }
func (a *ListObjectsArgs) Normalize()  { a.Limit = Clamp(a.Limit, 1, 500) }
