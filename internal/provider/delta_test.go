// ABOUTME: Tests for the streaming accumulator
// ABOUTME: Covers snapshot diffing, rebasing, and reset behavior

package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccumulator_ExtendingSnapshots(t *testing.T) {
	var acc Accumulator

	assert.Equal(t, "H", acc.Delta("H"))
	assert.Equal(t, "e", acc.Delta("He"))
	assert.Equal(t, "llo", acc.Delta("Hello"))
}

func TestAccumulator_UnchangedSnapshotYieldsNothing(t *testing.T) {
	var acc Accumulator

	assert.Equal(t, "Hi", acc.Delta("Hi"))
	assert.Equal(t, "", acc.Delta("Hi"))
	assert.Equal(t, " there", acc.Delta("Hi there"))
}

func TestAccumulator_EmptySnapshotYieldsNothing(t *testing.T) {
	var acc Accumulator

	assert.Equal(t, "", acc.Delta(""))
	assert.Equal(t, "abc", acc.Delta("abc"))
	assert.Equal(t, "", acc.Delta(""))
}

func TestAccumulator_NonExtendingSnapshotRebases(t *testing.T) {
	var acc Accumulator

	assert.Equal(t, "first message", acc.Delta("first message"))

	// Runtime restarted the message: snapshot does not extend the old one
	assert.Equal(t, "second", acc.Delta("second"))
	assert.Equal(t, " message", acc.Delta("second message"))
}

func TestAccumulator_Reset(t *testing.T) {
	var acc Accumulator

	acc.Delta("Hello")
	acc.Reset()

	assert.Equal(t, "Hello world", acc.Delta("Hello world"), "after reset the full snapshot is emitted")
}

func TestAccumulator_LongStream(t *testing.T) {
	var acc Accumulator

	full := "The quick brown fox jumps over the lazy dog"
	var rebuilt string
	for i := 1; i <= len(full); i++ {
		rebuilt += acc.Delta(full[:i])
	}

	assert.Equal(t, full, rebuilt, "concatenated deltas must reproduce the full text")
}
