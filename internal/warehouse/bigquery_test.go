package warehouse

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

func TestMergeWatermark(t *testing.T) {
	older := "2022-05-30T09:00:00Z"
	newer := "2022-05-31T09:00:00Z"

	// Absent old value: the new one wins.
	assert.Equal(t, newer, MergeWatermark(nil, newer))
	// Older old value: the new one wins.
	assert.Equal(t, newer, MergeWatermark(&older, newer))
	// Newer old value stays: the watermark never rewinds.
	assert.Equal(t, newer, MergeWatermark(&newer, older))
	// Equal values are a no-op.
	assert.Equal(t, newer, MergeWatermark(&newer, newer))
}

func TestIsNotFound(t *testing.T) {
	notFound := &googleapi.Error{Code: 404, Message: "Not found: Table"}
	assert.True(t, isNotFound(notFound))
	assert.True(t, isNotFound(fmt.Errorf("querying: %w", notFound)))
	assert.False(t, isNotFound(&googleapi.Error{Code: 403}))
	assert.False(t, isNotFound(fmt.Errorf("plain error")))
	assert.False(t, isNotFound(nil))
}
