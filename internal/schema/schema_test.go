package schema

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

const testSDL = `
"""Entry points"""
type Query {
  hello(who: String = "World"): String
  limit(n: Int = 10): Int!
  node: Node @async
  search: [SearchResult!]
  old: String @deprecated(reason: "use hello")
}

type Mutation {
  echo(message: String!): String
}

interface Node {
  id: ID!
}

type User implements Node {
  id: ID!
  name: String
}

type Post implements Node {
  id: ID!
  title: String
}

union SearchResult = User | Post

enum Color {
  RED
  GREEN @deprecated
}

input Filter @oneOf {
  id: ID
  name: String
}

scalar Time
`

func TestBuildFromSDL(t *testing.T) {
	s, err := BuildFromSDL(testSDL)
	require.NoError(t, err)

	require.Equal(t, "Query", s.QueryType)
	require.Equal(t, "Mutation", s.MutationType)
	require.Empty(t, s.SubscriptionType)
	require.NotNil(t, s.AST())

	q := s.GetQueryType()
	require.NotNil(t, q)
	require.Equal(t, "Entry points", q.Description)
	require.Len(t, q.Fields, 5)

	hello := q.FieldByName("hello")
	require.False(t, hello.Async)
	require.Len(t, hello.Arguments, 1)
	require.Equal(t, "World", hello.Arguments[0].DefaultValue)

	limit := q.FieldByName("limit")
	require.True(t, IsNonNull(limit.Type))
	require.Equal(t, int64(10), limit.Arguments[0].DefaultValue)

	require.True(t, q.FieldByName("node").Async)

	search := q.FieldByName("search")
	require.True(t, IsList(search.Type))
	require.Equal(t, "SearchResult", GetNamedType(search.Type))

	old := q.FieldByName("old")
	require.True(t, old.IsDeprecated)
	require.Equal(t, "use hello", old.DeprecationReason)

	require.ElementsMatch(t, []string{"User", "Post"}, s.Types["Node"].PossibleTypes)
	require.Equal(t, []string{"User", "Post"}, s.Types["SearchResult"].PossibleTypes)
	require.Equal(t, []string{"Node"}, s.Types["User"].Interfaces)

	color := s.Types["Color"]
	require.Equal(t, TypeKindEnum, color.Kind)
	require.Len(t, color.EnumValues, 2)
	require.True(t, color.EnumValues[1].IsDeprecated)

	require.True(t, s.Types["Filter"].OneOf)
	require.Equal(t, TypeKindScalar, s.Types["Time"].Kind)
	require.False(t, s.Types["Time"].BuiltIn)
	require.True(t, s.Types["String"].BuiltIn)
	require.True(t, s.Directives[AsyncDirective].BuiltIn)
	require.True(t, s.Directives["skip"].BuiltIn)
}

func TestBuildFromSDLErrors(t *testing.T) {
	cases := []struct {
		name string
		sdl  string
	}{
		{name: "syntax", sdl: "type Query {"},
		{name: "unknown type", sdl: "type Query { a: Missing }"},
		{name: "no query root", sdl: "type Foo { a: String }"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := BuildFromSDL(tc.sdl)
			require.Error(t, err)
		})
	}
}

func TestRenderRoundTrip(t *testing.T) {
	first, err := BuildFromSDL(testSDL)
	require.NoError(t, err)

	sdl := Render(first)
	require.Contains(t, sdl, "node: Node @async")
	require.NotContains(t, sdl, "scalar String")
	require.NotContains(t, sdl, "directive @skip")

	second, err := BuildFromSDL(sdl)
	require.NoError(t, err, sdl)

	opts := cmp.Options{
		cmpopts.IgnoreUnexported(Schema{}),
		cmpopts.SortSlices(func(a, b string) bool { return a < b }),
	}
	if diff := cmp.Diff(first, second, opts); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderSchemaDefinition(t *testing.T) {
	s, err := BuildFromSDL(`
schema { query: QueryRoot mutation: MutationRoot }
type QueryRoot { test: String }
type MutationRoot { writeTest: QueryRoot }
`)
	require.NoError(t, err)

	sdl := Render(s)
	require.Contains(t, sdl, "schema {\n  query: QueryRoot\n  mutation: MutationRoot\n}")

	again, err := BuildFromSDL(sdl)
	require.NoError(t, err)
	require.Equal(t, "QueryRoot", again.QueryType)
	require.Equal(t, "MutationRoot", again.MutationType)
}

func TestTypeRefHelpers(t *testing.T) {
	ref := NonNullType(ListType(NonNullType(NamedType("String"))))
	require.True(t, IsNonNull(ref))
	require.True(t, IsList(ref))
	require.Equal(t, "String", GetNamedType(ref))
	require.Equal(t, TypeRefKindList, Unwrap(ref).Kind)
	require.False(t, IsNonNull(nil))
}
