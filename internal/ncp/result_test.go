package ncp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResultActorPrefixes(t *testing.T) {
	r := NewResult()
	r.AddError("plain")
	r.Push("stop")
	r.Push("driver-1")
	r.Warnf("took %dms", 12)
	r.Pop()
	r.AddError("aggregate failed")
	r.Pop()
	r.Pop()

	assert.Equal(t, []string{"plain", "stop: aggregate failed"}, r.Errors())
	assert.Equal(t, []string{"stop/driver-1: took 12ms"}, r.Warnings())
	assert.True(t, r.HasErrors())
}

func TestResultClearAndAnnotate(t *testing.T) {
	r := NewResult()
	r.AddError("a")
	r.AddError("b")
	r.AddWarning("w")

	m := r.Annotate(NewMessage(MsgStopResponse, nil))
	assert.Equal(t, "a\nb", m.ErrorText())
	assert.Equal(t, "w", m.WarningText())

	r.Clear()
	assert.False(t, r.HasErrors())
	assert.Empty(t, r.Warnings())
	clean := r.Annotate(NewMessage(MsgStopResponse, nil))
	assert.False(t, clean.Has(FieldError))
	assert.False(t, clean.Has(FieldWarning))
}

func TestResultAbsorbSkipsBlankLines(t *testing.T) {
	r := NewResult()
	r.Absorb(NewMessage(MsgGatherResponse, Fields{FieldError: "x\n\n  \ny", FieldWarning: ""}))
	assert.Equal(t, []string{"x", "y"}, r.Errors())
	assert.Empty(t, r.Warnings())
}
