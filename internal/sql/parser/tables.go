package parser

import (
	"github.com/qrlew/qrlew-go/internal/dialect"
)

// BaseTables returns the table references of stmt that name stored tables,
// in order of appearance. References to a CTE in scope are skipped.
func BaseTables(stmt Statement) []*TableRef {
	var refs []*TableRef
	collectStatement(stmt, map[string]bool{}, &refs)
	return refs
}

func collectStatement(stmt Statement, ctes map[string]bool, refs *[]*TableRef) {
	switch s := stmt.(type) {
	case *WithStatement:
		scope := make(map[string]bool, len(ctes)+len(s.CTEs))
		for k := range ctes {
			scope[k] = true
		}
		for _, c := range s.CTEs {
			collectStatement(c.Query, scope, refs)
			scope[c.Name] = true
		}
		collectStatement(s.Body, scope, refs)
	case *SetStatement:
		collectStatement(s.Left, ctes, refs)
		collectStatement(s.Right, ctes, refs)
	case *SelectStatement:
		if s.From != nil {
			collectTable(s.From, ctes, refs)
		}
	}
}

func collectTable(t TableExpr, ctes map[string]bool, refs *[]*TableRef) {
	switch x := t.(type) {
	case *TableRef:
		if len(x.Path) == 1 && ctes[x.Path[0]] {
			return
		}
		*refs = append(*refs, x)
	case *SubqueryRef:
		collectStatement(x.Query, ctes, refs)
	case *JoinExpr:
		collectTable(x.Left, ctes, refs)
		collectTable(x.Right, ctes, refs)
	}
}

// TablesPrefix returns the distinct leading qualifiers of the fully
// qualified base tables read by query, in order of first appearance.
// Unqualified tables have no prefix and are ignored.
func TablesPrefix(query string, d dialect.Dialect) ([]string, error) {
	stmt, err := ParseDialect(query, d)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var prefixes []string
	for _, ref := range BaseTables(stmt) {
		if len(ref.Path) < 2 || seen[ref.Path[0]] {
			continue
		}
		seen[ref.Path[0]] = true
		prefixes = append(prefixes, ref.Path[0])
	}
	return prefixes, nil
}
