package publisher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGlobFilter(t *testing.T) {
	filter, err := NewGlobFilter([]string{"users", "orders"}, []string{"app", "billing"})
	require.NoError(t, err)
	require.NotNil(t, filter)

	assert.Len(t, filter.collectionGlobs, 2)
	assert.Len(t, filter.databaseGlobs, 2)
}

func TestNewGlobFilterInvalidPattern(t *testing.T) {
	_, err := NewGlobFilter([]string{"[unterminated"}, nil)
	assert.Error(t, err)

	_, err = NewGlobFilter(nil, []string{"[unterminated"})
	assert.Error(t, err)
}

func TestGlobFilterEmptyPatterns(t *testing.T) {
	// Empty patterns should match everything, including the empty namespace
	// halves carried by noop records
	filter, err := NewGlobFilter(nil, nil)
	require.NoError(t, err)

	assert.True(t, filter.Match("any_db", "any_collection"))
	assert.True(t, filter.Match("app", "users"))
	assert.True(t, filter.Match("", ""))
}

func TestGlobFilterExactMatch(t *testing.T) {
	filter, err := NewGlobFilter([]string{"users"}, []string{"app"})
	require.NoError(t, err)

	assert.True(t, filter.Match("app", "users"))

	assert.False(t, filter.Match("billing", "users"))
	assert.False(t, filter.Match("app", "orders"))
	assert.False(t, filter.Match("", ""))
}

func TestGlobFilterWildcard(t *testing.T) {
	filter, err := NewGlobFilter([]string{"user*"}, []string{"app*"})
	require.NoError(t, err)

	assert.True(t, filter.Match("app", "users"))
	assert.True(t, filter.Match("app_prod", "user_accounts"))

	assert.False(t, filter.Match("billing", "users"))
	assert.False(t, filter.Match("app", "orders"))
}

func TestGlobFilterDatabaseShortCircuit(t *testing.T) {
	filter, err := NewGlobFilter(nil, []string{"app"})
	require.NoError(t, err)

	// Collection patterns are empty, so any collection in a matching
	// database passes
	assert.True(t, filter.Match("app", "anything"))
	assert.False(t, filter.Match("other", "anything"))
}
