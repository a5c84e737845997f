package language

import (
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"
	"github.com/vektah/gqlparser/v2/validator/rules"
)

// ParseQuery parses a query document. Syntax errors are returned as a located
// *Error so they can be formatted like any other GraphQL error.
func ParseQuery(source string) (*QueryDocument, *Error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		var ge *gqlerror.Error
		if errors.As(err, &ge) {
			return nil, ge
		}
		return nil, gqlerror.Wrap(err)
	}
	return doc, nil
}

// LoadSchema parses and validates SDL against the built-in prelude.
func LoadSchema(name, source string) (*Schema, error) {
	s, err := gqlparser.LoadSchema(&ast.Source{Name: name, Input: source})
	if err != nil {
		return nil, fmt.Errorf("load schema %s: %w", name, err)
	}
	return s, nil
}

// Validate runs the standard validation rules plus extra against doc.
func Validate(schema *Schema, doc *QueryDocument, extra ...Rule) ErrorList {
	set := rules.NewDefaultRules()
	for i, r := range extra {
		name := r.Name
		if name == "" {
			name = fmt.Sprintf("CustomRule%d", i)
		}
		set.AddRule(name, r.RuleFunc)
	}
	return validator.ValidateWithRules(schema, doc, set)
}
