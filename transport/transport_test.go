package transport

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangeHeader(t *testing.T) {
	assert.Equal(t, "bytes=0-1023", Range{Start: 0, End: 1023}.Header())
	assert.Equal(t, "bytes=500-500", Range{Start: 500, End: 500}.Header())
}

func TestConditionsIsZero(t *testing.T) {
	assert.True(t, Conditions{}.IsZero())
	assert.False(t, Conditions{IfMatch: "abc"}.IsZero())
	assert.False(t, Conditions{IfNoneMatch: "*"}.IsZero())
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		value             string
		start, end, total int64
		wantErr           bool
	}{
		{value: "bytes 0-1023/4096", start: 0, end: 1023, total: 4096},
		{value: "bytes 4000000-7999999/10000000", start: 4_000_000, end: 7_999_999, total: 10_000_000},
		{value: "bytes 0-0/1", start: 0, end: 0, total: 1},
		{value: "bytes 100-199/*", start: 100, end: 199, total: -1},
		{value: "items 0-10/20", wantErr: true},
		{value: "bytes 0-10", wantErr: true},
		{value: "bytes x-10/20", wantErr: true},
		{value: "bytes 0-y/20", wantErr: true},
		{value: "bytes 0-10/z", wantErr: true},
		{value: "", wantErr: true},
	}
	for _, tc := range tests {
		start, end, total, err := ParseContentRange(tc.value)
		if tc.wantErr {
			assert.Error(t, err, tc.value)
			continue
		}
		require.NoError(t, err, tc.value)
		assert.Equal(t, tc.start, start, tc.value)
		assert.Equal(t, tc.end, end, tc.value)
		assert.Equal(t, tc.total, total, tc.value)
	}
}

func TestStatusErrorClassification(t *testing.T) {
	precondition := &StatusError{Status: http.StatusPreconditionFailed, Code: "ConditionNotMet"}
	assert.True(t, IsPreconditionFailed(precondition))
	assert.False(t, IsRangeNotSatisfiable(precondition))

	notSatisfiable := &StatusError{Status: http.StatusRequestedRangeNotSatisfiable}
	assert.True(t, IsRangeNotSatisfiable(notSatisfiable))
	assert.False(t, IsPreconditionFailed(notSatisfiable))

	// Classification must see through wrapping.
	wrapped := fmt.Errorf("chunk 3 failed: %w", precondition)
	assert.True(t, IsPreconditionFailed(wrapped))

	assert.False(t, IsPreconditionFailed(fmt.Errorf("plain error")))
	assert.False(t, IsPreconditionFailed(nil))
}

func TestStatusErrorMessage(t *testing.T) {
	assert.Equal(t, "transport: status 412 (ConditionNotMet)",
		(&StatusError{Status: 412, Code: "ConditionNotMet"}).Error())
	assert.Equal(t, "transport: status 416", (&StatusError{Status: 416}).Error())
}
