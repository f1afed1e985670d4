package factdb

import (
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/cockroachdb/errors"
)

var queryLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Keyword", Pattern: `:[a-zA-Z_][a-zA-Z0-9_\-/?!.<>*]*`},
	{Name: "Var", Pattern: `\?[a-zA-Z_][a-zA-Z0-9_\-]*`},
	{Name: "String", Pattern: `"(?:\\.|[^"])*"`},
	{Name: "Int", Pattern: `-?\d+`},
	{Name: "Ellipsis", Pattern: `\.\.\.`},
	{Name: "Ident", Pattern: `[a-zA-Z][a-zA-Z0-9_\-]*`},
	{Name: "Punct", Pattern: `[\[\]()$*_]`},
	{Name: "Whitespace", Pattern: `[\s,]+`},
})

type queryAST struct {
	Find  *findAST     `"[" ":find" @@`
	In    []*inAST     `( ":in" @@+ )?`
	Where []*clauseAST `":where" @@+ "]"`
}

type findAST struct {
	Call *findCallAST `  "(" @@ ")"`
	Vars []string     `| @Var+`
}

type findCallAST struct {
	Pull  *string `  "pull" @Var "[" "*" "]"`
	Count *string `| "count" @Var`
}

type inAST struct {
	Source     bool    `  @"$"`
	Collection *string `| "[" @Var "..." "]"`
	Scalar     *string `| @Var`
}

type clauseAST struct {
	E *termAST `"[" @@`
	A *termAST `@@`
	V *termAST `@@ "]"`
}

type termAST struct {
	Var     *string `  @Var`
	Keyword *string `| @Keyword`
	String  *string `| @String`
	Int     *int64  `| @Int`
	Bool    *string `| @("true" | "false")`
	Blank   bool    `| @"_"`
}

var queryParser = participle.MustBuild[queryAST](
	participle.Lexer(queryLexer),
	participle.Unquote("String"),
	participle.Elide("Whitespace"),
	participle.UseLookahead(2),
)

// ParseQuery parses the textual query form:
//
//	[:find (pull ?b [*]) :in $ ?p :where [?b :block/page ?p]]
//
// Find accepts (pull ?x [*]), (count ?x) or one or more variables. Inputs
// after the implicit $ source are scalars or [?x ...] collections.
func ParseQuery(src string) (*Query, error) {
	ast, err := queryParser.ParseString("", src)
	if err != nil {
		return nil, errors.Wrapf(ErrQuery, "parse: %v", err)
	}

	q := &Query{}
	switch {
	case ast.Find.Call != nil && ast.Find.Call.Pull != nil:
		q.Find = Find{Kind: FindPull, Vars: []string{*ast.Find.Call.Pull}}
	case ast.Find.Call != nil && ast.Find.Call.Count != nil:
		q.Find = Find{Kind: FindCount, Vars: []string{*ast.Find.Call.Count}}
	case len(ast.Find.Vars) == 1:
		q.Find = Find{Kind: FindScalars, Vars: ast.Find.Vars}
	default:
		q.Find = Find{Kind: FindTuples, Vars: ast.Find.Vars}
	}

	for i, in := range ast.In {
		switch {
		case in.Source:
			if i != 0 {
				return nil, errors.Wrap(ErrQuery, "$ must be the first input")
			}
		case in.Collection != nil:
			q.In = append(q.In, Binding{Var: *in.Collection, Collection: true})
		case in.Scalar != nil:
			q.In = append(q.In, Binding{Var: *in.Scalar})
		}
	}

	for _, c := range ast.Where {
		q.Where = append(q.Where, Clause{E: c.E.term(), A: c.A.term(), V: c.V.term()})
	}
	return q, nil
}

// MustParseQuery is like ParseQuery but panics on malformed input. It is
// meant for package level query definitions.
func MustParseQuery(src string) *Query {
	q, err := ParseQuery(src)
	if err != nil {
		panic(err)
	}
	return q
}

func (t *termAST) term() Term {
	switch {
	case t.Var != nil:
		return V(*t.Var)
	case t.Keyword != nil:
		return C(strings.TrimPrefix(*t.Keyword, ":"))
	case t.String != nil:
		return C(*t.String)
	case t.Int != nil:
		return C(*t.Int)
	case t.Bool != nil:
		return C(*t.Bool == "true")
	}
	return Blank()
}
