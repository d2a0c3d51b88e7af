package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatUserCounts(t *testing.T) {
	assert.Equal(t, "", formatUserCounts(nil))
	assert.Equal(t, "", formatUserCounts(map[string]int{}))
	assert.Equal(t, "(alice=2)", formatUserCounts(map[string]int{"alice": 2}))
	assert.Equal(t, "(alice=2 bob=1)",
		formatUserCounts(map[string]int{"bob": 1, "alice": 2}))
}

func TestSum(t *testing.T) {
	assert.Equal(t, 0, sum(nil))
	assert.Equal(t, 3, sum(map[string]int{"a": 1, "b": 2}))
}
