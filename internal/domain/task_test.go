package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aperta-labs/bloghound/internal/domain"
)

func TestPayloadStringReturnsValueOrEmpty(t *testing.T) {
	t.Parallel()

	task := domain.Task{Payload: map[string]any{"hashtag": "#travel", "wrong_type": 5}}
	assert.Equal(t, "#travel", task.PayloadString("hashtag"))
	assert.Empty(t, task.PayloadString("missing"))
	assert.Empty(t, task.PayloadString("wrong_type"))
	assert.Empty(t, domain.Task{}.PayloadString("hashtag"))
}

func TestPayloadIntToleratesFloat64FromJSON(t *testing.T) {
	t.Parallel()

	task := domain.Task{Payload: map[string]any{
		"int_val":     42,
		"int64_val":   int64(43),
		"float_val":   float64(44),
		"string_val":  "nope",
	}}

	v, ok := task.PayloadInt("int_val")
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	v, ok = task.PayloadInt("int64_val")
	assert.True(t, ok)
	assert.Equal(t, 43, v)

	v, ok = task.PayloadInt("float_val")
	assert.True(t, ok)
	assert.Equal(t, 44, v)

	_, ok = task.PayloadInt("string_val")
	assert.False(t, ok)

	_, ok = task.PayloadInt("missing")
	assert.False(t, ok)
}

func TestPayloadBoolReturnsValueOrFalse(t *testing.T) {
	t.Parallel()

	task := domain.Task{Payload: map[string]any{"text_only": true, "wrong_type": "true"}}
	assert.True(t, task.PayloadBool("text_only"))
	assert.False(t, task.PayloadBool("missing"))
	assert.False(t, task.PayloadBool("wrong_type"))
	assert.False(t, domain.Task{}.PayloadBool("text_only"))
}
