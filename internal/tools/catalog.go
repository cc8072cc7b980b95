// Package tools defines the SQL tool catalog shared by the chat gateway and
// the tool server: names, descriptions, typed arguments and JSON schemas.
package tools

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"

	apperr "github.com/Shreyas-ITB/Vibgyor-Optimus/internal/errors"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/pkg/llm"
)

// Tool names.
const (
	SearchTables     = "search_tables"
	QueryTable       = "query_table"
	ExecuteQuery     = "execute_query"
	GetTableColumns  = "get_table_columns"
	SwitchDatabase   = "switch_database"
	ListTables       = "list_tables"
	ListDatabases    = "list_databases"
	LoadDatabase     = "load_database"
	SearchSQL        = "search_sql"
	GetSQLFile       = "get_sql_file"
	ListObjects      = "list_objects"
	GetTableSchema   = "get_table_schema"
	GetProcedureInfo = "get_procedure_info"
	GetStatistics    = "get_statistics"
	FindDependencies = "find_dependencies"
)

// LiveNames are the tools offered to the model by default, in order.
var LiveNames = []string{SearchTables, QueryTable, ExecuteQuery, GetTableColumns, SwitchDatabase, ListTables}

// Spec describes one tool.
type Spec struct {
	Name        string
	Description string
	// Live tools talk to the database server; the rest read the file index.
	Live    bool
	newArgs func() any
	schema  json.RawMessage
}

// Schema returns the JSON schema of the tool's arguments.
func (s *Spec) Schema() json.RawMessage { return s.schema }

// NewArgs returns a pointer to a fresh argument struct with defaults applied.
func (s *Spec) NewArgs() any {
	v := s.newArgs()
	if d, ok := v.(interface{ Defaults() }); ok {
		d.Defaults()
	}
	return v
}

func define[T any](name, description string, live bool) *Spec {
	return &Spec{
		Name:        name,
		Description: description,
		Live:        live,
		newArgs:     func() any { return new(T) },
		schema:      GenerateSchema[T](),
	}
}

// Catalog is an ordered set of tool specs.
type Catalog struct {
	order []string
	specs map[string]*Spec
}

// New builds a catalog from specs, keeping their order.
func New(specs ...*Spec) *Catalog {
	c := &Catalog{specs: make(map[string]*Spec, len(specs))}
	for _, s := range specs {
		c.Register(s)
	}
	return c
}

// Register adds or replaces a spec.
func (c *Catalog) Register(s *Spec) {
	if _, ok := c.specs[s.Name]; !ok {
		c.order = append(c.order, s.Name)
	}
	c.specs[s.Name] = s
}

// Get returns a spec by name.
func (c *Catalog) Get(name string) (*Spec, bool) {
	s, ok := c.specs[name]
	return s, ok
}

// Allowed reports whether name is in the catalog.
func (c *Catalog) Allowed(name string) bool {
	_, ok := c.specs[name]
	return ok
}

// Names returns tool names in registration order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.order...)
}

// All returns specs in registration order.
func (c *Catalog) All() []*Spec {
	out := make([]*Spec, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.specs[name])
	}
	return out
}

// Subset returns a catalog holding only the named tools, in the given order.
// Unknown names are skipped.
func (c *Catalog) Subset(names ...string) *Catalog {
	sub := New()
	for _, name := range names {
		if s, ok := c.specs[name]; ok {
			sub.Register(s)
		}
	}
	return sub
}

// WithDescription returns a copy of the catalog where name carries a new
// description.
func (c *Catalog) WithDescription(name, description string) *Catalog {
	cp := New(c.All()...)
	if s, ok := cp.specs[name]; ok {
		clone := *s
		clone.Description = description
		cp.specs[name] = &clone
	}
	return cp
}

// AsLLMTools converts the catalog to the provider tool format.
func (c *Catalog) AsLLMTools() []llm.Tool {
	out := make([]llm.Tool, 0, len(c.order))
	for _, s := range c.All() {
		out = append(out, llm.Tool{
			Type: "function",
			Function: llm.Function{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.schema,
			},
		})
	}
	return out
}

// Decode checks args against the named tool and returns the typed argument
// struct. String-encoded numbers and booleans are accepted.
func (c *Catalog) Decode(name string, args map[string]any) (any, error) {
	s, ok := c.specs[name]
	if !ok {
		return nil, apperr.Newf(apperr.ErrTypeNotFound, "Tool '%s' does not exist", name)
	}
	v := s.NewArgs()
	if err := decodeInto(args, v); err != nil {
		return nil, apperr.Newf(apperr.ErrTypeValidation, "Invalid arguments for tool '%s': %v", name, err)
	}
	if err := validate.Struct(v); err != nil {
		return nil, apperr.Newf(apperr.ErrTypeValidation, "Invalid arguments for tool '%s': %s", name, describe(err))
	}
	if n, ok := v.(interface{ Normalize() }); ok {
		n.Normalize()
	}
	return v, nil
}

// DecodeRaw is Decode for a raw JSON object.
func (c *Catalog) DecodeRaw(name string, raw json.RawMessage) (any, error) {
	args := map[string]any{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, apperr.Newf(apperr.ErrTypeValidation, "Invalid arguments for tool '%s': %v", name, err)
		}
	}
	return c.Decode(name, args)
}

func decodeInto(args map[string]any, v any) error {
	t := reflect.TypeOf(v).Elem()
	data, err := json.Marshal(coerce(args, t))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// coerce converts string values of int and bool fields, which small models
// often send quoted.
func coerce(args map[string]any, t reflect.Type) map[string]any {
	out := make(map[string]any, len(args))
	maps.Copy(out, args)
	for i := range t.NumField() {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		s, ok := out[name].(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		switch f.Type.Kind() {
		case reflect.Int:
			if n, err := strconv.Atoi(s); err == nil {
				out[name] = n
			}
		case reflect.Bool:
			if b, err := strconv.ParseBool(s); err == nil {
				out[name] = b
			}
		}
	}
	return out
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("missing required field '%s'", fe.Field()))
		default:
			parts = append(parts, fmt.Sprintf("field '%s' failed '%s'", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// GenerateSchema reflects T into a JSON schema suitable for tool parameters.
func GenerateSchema[T any]() json.RawMessage {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	schema := reflector.Reflect(v)

	data, err := schema.MarshalJSON()
	if err != nil {
		panic(fmt.Sprintf("tools: marshal schema: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		panic(fmt.Sprintf("tools: unmarshal schema: %v", err))
	}
	delete(m, "$schema")
	delete(m, "$id")
	if _, ok := m["properties"]; !ok {
		m["properties"] = map[string]any{}
	}
	out, err := json.Marshal(m)
	if err != nil {
		panic(fmt.Sprintf("tools: marshal schema: %v", err))
	}
	return out
}
