package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/driftwood-io/driftwood/internal/ir"
)

func TestActionSymbol(t *testing.T) {
	assert.Equal(t, "+", actionSymbol(ir.ActionCreate))
	assert.Equal(t, "~", actionSymbol(ir.ActionUpdate))
	assert.Equal(t, "-/+", actionSymbol(ir.ActionReplace))
	assert.Equal(t, "-", actionSymbol(ir.ActionDestroy))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "null", formatValue(nil))
	assert.Equal(t, `"ami-123"`, formatValue("ami-123"))
	assert.Equal(t, "443", formatValue(443))
	assert.Equal(t, "true", formatValue(true))
}

func TestSortedKeys(t *testing.T) {
	keys := sortedKeys(map[string]any{"b": 1, "a": 2, "c": 3})
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}
