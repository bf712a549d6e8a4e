package dialogue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, src string) *Graph {
	t.Helper()
	g, err := ParseGraph([]byte(src), ".yaml", nil)
	require.NoError(t, err)
	return g
}

func ref(g *Graph) GraphRef {
	return GraphRef{Source: NewLibrary(g), ID: g.ID}
}
