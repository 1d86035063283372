package builtin

import (
	"context"
	"encoding/csv"
	"errors"
	"strings"

	"github.com/kiara-project/kiara-go/pkg/domain/datatype"
	"github.com/kiara-project/kiara-go/pkg/domain/module"
	"github.com/kiara-project/kiara-go/pkg/domain/moduletype"
	"github.com/kiara-project/kiara-go/pkg/domain/value"
)

var (
	stringSchema = value.Schema{Type: "string"}
	tableSchema  = value.Schema{Type: "table"}
)

// fromCSVModule implements table.from_csv: parses a CSV document's
// bytes (as text) into a datatype.Table, first row as the header.
// Grounded on encoding/csv (stdlib): no CSV-parsing library appears
// anywhere in the retrieved corpus, so this uses the stdlib reader
// rather than a hand-rolled parser.
type fromCSVModule struct{}

func (fromCSVModule) InputsSchema() map[string]value.Schema {
	return map[string]value.Schema{"csv_data": stringSchema}
}
func (fromCSVModule) OutputsSchema() map[string]value.Schema {
	return map[string]value.Schema{"table": tableSchema}
}
func (fromCSVModule) Process(ctx context.Context, inputs module.ValueMap) (module.OutputMap, error) {
	v, ok := inputs["csv_data"]
	if !ok || v.Payload() == nil {
		return nil, module.NewFieldFailure("csv_data", "missing string input")
	}
	text, ok := v.Payload().(string)
	if !ok {
		return nil, module.NewFieldFailure("csv_data", "expected string payload")
	}

	reader := csv.NewReader(strings.NewReader(text))
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, module.NewFieldFailure("csv_data", "malformed CSV: "+err.Error())
	}
	if len(rows) == 0 {
		return module.OutputMap{"table": datatype.Table{}}, nil
	}

	tbl := datatype.Table{Columns: rows[0], Rows: rows[1:]}
	return module.OutputMap{"table": tbl}, nil
}

// queryGraphQLModule implements table.query.graphql: a minimal
// field-selection query over a Table's columns, in the shape of a
// single-field GraphQL selection set ("{ col_a col_b }"). No GraphQL
// execution library appears anywhere in the retrieved corpus (the one
// repo with a "graphql" package, C360Studio-semstreams, hand-rolls its
// own query dispatch rather than importing one), so this fixture
// follows that same hand-rolled-parser precedent instead of inventing
// a dependency.
type queryGraphQLModule struct{}

func (queryGraphQLModule) InputsSchema() map[string]value.Schema {
	return map[string]value.Schema{
		"table": tableSchema,
		"query": stringSchema,
	}
}
func (queryGraphQLModule) OutputsSchema() map[string]value.Schema {
	return map[string]value.Schema{"table": tableSchema}
}
func (queryGraphQLModule) Process(ctx context.Context, inputs module.ValueMap) (module.OutputMap, error) {
	tv, ok := inputs["table"]
	if !ok || tv.Payload() == nil {
		return nil, module.NewFieldFailure("table", "missing table input")
	}
	tbl, ok := tv.Payload().(datatype.Table)
	if !ok {
		return nil, module.NewFieldFailure("table", "expected Table payload")
	}
	qv, ok := inputs["query"]
	if !ok || qv.Payload() == nil {
		return nil, module.NewFieldFailure("query", "missing query input")
	}
	queryText, ok := qv.Payload().(string)
	if !ok {
		return nil, module.NewFieldFailure("query", "expected string payload")
	}

	fields, err := parseSelectionSet(queryText)
	if err != nil {
		return nil, module.NewFieldFailure("query", err.Error())
	}

	idx := make([]int, len(fields))
	for i, f := range fields {
		col := indexOf(tbl.Columns, f)
		if col < 0 {
			return nil, module.NewFieldFailure("query", "unknown column: "+f)
		}
		idx[i] = col
	}

	out := datatype.Table{Columns: fields, Rows: make([][]string, 0, len(tbl.Rows))}
	for _, row := range tbl.Rows {
		projected := make([]string, len(idx))
		for i, col := range idx {
			projected[i] = row[col]
		}
		out.Rows = append(out.Rows, projected)
	}
	return module.OutputMap{"table": out}, nil
}

// parseSelectionSet parses the field list out of a query of the shape
// "{ field_a field_b }", the one selection-set form this fixture
// supports.
func parseSelectionSet(query string) ([]string, error) {
	q := strings.TrimSpace(query)
	q = strings.TrimPrefix(q, "{")
	q = strings.TrimSuffix(q, "}")
	fields := strings.Fields(q)
	if len(fields) == 0 {
		return nil, errors.New("query selects no fields")
	}
	return fields, nil
}

func indexOf(ss []string, target string) int {
	for i, s := range ss {
		if s == target {
			return i
		}
	}
	return -1
}

// RegisterTableModules wires table.from_csv/table.query.graphql into
// r, matching the two module types spec.md §8 S2 names literally.
func RegisterTableModules(r *moduletype.Registry) error {
	if err := r.Register("table.from_csv", func(module.Manifest) (module.Module, error) { return fromCSVModule{}, nil }); err != nil {
		return err
	}
	return r.Register("table.query.graphql", func(module.Manifest) (module.Module, error) { return queryGraphQLModule{}, nil })
}
