package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsEventAllowed(t *testing.T) {
	t.Run("empty list allows everything", func(t *testing.T) {
		assert.True(t, IsEventAllowed("message", nil))
		assert.True(t, IsEventAllowed("anything", []EventDefinition{}))
	})

	t.Run("matches by name", func(t *testing.T) {
		list := []EventDefinition{{Name: "message"}, {Name: "typing"}}
		assert.True(t, IsEventAllowed("message", list))
		assert.False(t, IsEventAllowed("ping", list))
	})

	t.Run("wildcard entry allows everything", func(t *testing.T) {
		list := []EventDefinition{{Name: Wildcard}}
		assert.True(t, IsEventAllowed("anything", list))
	})
}

func TestLookupEventDefinition(t *testing.T) {
	validator := ValidatorFunc(func(any) (any, error) { return nil, nil })
	list := []EventDefinition{
		{Name: "message", Validator: validator},
		{Name: Wildcard},
	}

	def, ok := LookupEventDefinition("message", list)
	require.True(t, ok)
	assert.Equal(t, EventName("message"), def.Name)

	def, ok = LookupEventDefinition("unknown", list)
	require.True(t, ok)
	assert.Equal(t, Wildcard, def.Name)

	_, ok = LookupEventDefinition("unknown", []EventDefinition{{Name: "message"}})
	assert.False(t, ok)
}

func TestValidateEventData(t *testing.T) {
	t.Run("no validator passes through", func(t *testing.T) {
		def := EventDefinition{Name: "message"}
		out, err := ValidateEventData(def, "hi")
		require.NoError(t, err)
		assert.Equal(t, "hi", out)
	})

	t.Run("validator success coerces", func(t *testing.T) {
		def := EventDefinition{Name: "message", Validator: ValidatorFunc(func(v any) (any, error) {
			return "coerced", nil
		})}
		out, err := ValidateEventData(def, "hi")
		require.NoError(t, err)
		assert.Equal(t, "coerced", out)
	})

	t.Run("validator failure wraps message", func(t *testing.T) {
		def := EventDefinition{Name: "message", Validator: ValidatorFunc(func(v any) (any, error) {
			return nil, errors.New("text: required")
		})}
		_, err := ValidateEventData(def, map[string]any{})
		require.Error(t, err)
		assert.Equal(t, "Event 'message' validation failed: text: required", err.Error())
	})
}

func TestEventMessageClone(t *testing.T) {
	original := EventMessage{
		Event: "message",
		Meta:  map[string]any{"k": "v"},
	}
	clone := original.Clone()
	clone.Meta["k"] = "changed"

	assert.Equal(t, "v", original.Meta["k"])
	assert.Equal(t, "changed", clone.Meta["k"])
}
