package contracts

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCallSite(t *testing.T) {
	tests := []struct {
		path      string
		namespace string
		typeName  string
		method    string
	}{
		{"ping", "", "", "ping"},
		{"App.ping", "", "App", "ping"},
		{"xyz.sadiulhakim.App.hi", "xyz.sadiulhakim", "App", "hi"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			site := NewCallSite(tt.path)
			assert.Equal(t, tt.namespace, site.Namespace)
			assert.Equal(t, tt.typeName, site.Type)
			assert.Equal(t, tt.method, site.Method)
			assert.Equal(t, tt.path, site.Path())
		})
	}
}

func TestCallSite(t *testing.T) {
	site := NewCallSite("xyz.demo.App.hi",
		Arg{Name: "name", Type: "string", Value: "John"},
		Arg{Name: "times", Type: "int", Value: 2},
	).WithAnnotations("RequireName").WithReturns("string")

	t.Run("paths", func(t *testing.T) {
		assert.Equal(t, "xyz.demo.App", site.TypePath())
		assert.Equal(t, []string{"xyz", "demo", "App", "hi"}, site.Segments())
		assert.Equal(t, []string{"xyz", "demo", "App"}, site.TypeSegments())
		assert.Equal(t, "string", site.Returns)
	})

	t.Run("arguments", func(t *testing.T) {
		arg, ok := site.Arg("name")
		require.True(t, ok)
		assert.Equal(t, "John", arg.Value)

		_, ok = site.Arg("missing")
		assert.False(t, ok)

		assert.Equal(t, []string{"string", "int"}, site.ArgTypes())
		assert.Equal(t, []any{"John", 2}, site.Values())
	})

	t.Run("annotations", func(t *testing.T) {
		assert.True(t, site.HasAnnotation("RequireName"))
		assert.False(t, site.HasAnnotation("requireName"))

		more := site.WithAnnotations("Audited")
		assert.True(t, more.HasAnnotation("Audited"))
		assert.False(t, site.HasAnnotation("Audited"))
	})

	t.Run("validate", func(t *testing.T) {
		assert.NoError(t, site.Validate())
		assert.ErrorIs(t, (&CallSite{Type: "App"}).Validate(), ErrMissingMethod)

		var missing *CallSite
		assert.ErrorIs(t, missing.Validate(), ErrMissingMethod)
	})

	t.Run("argument values are not serialized", func(t *testing.T) {
		data, err := json.Marshal(site)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "John")
		assert.Contains(t, string(data), `"method":"hi"`)
	})
}

func TestNewInvocationEvent(t *testing.T) {
	site := NewCallSite("xyz.demo.App.hi", Arg{Name: "name", Type: "string", Value: "John"})

	t.Run("success", func(t *testing.T) {
		event := NewInvocationEvent(&site, "inv-1", 1500*time.Millisecond, nil)

		_, err := uuid.Parse(event.ID)
		assert.NoError(t, err)
		assert.Equal(t, InvocationEventType, event.Type)
		assert.Equal(t, "inv-1", event.CorrelationID)
		assert.Equal(t, "xyz.demo.App.hi", event.Path)
		assert.Equal(t, []string{"string"}, event.ArgTypes)
		assert.Equal(t, 1.5, event.DurationSeconds)
		assert.True(t, event.Succeeded())
		assert.Empty(t, event.Error)
		assert.WithinDuration(t, time.Now().UTC(), event.Timestamp, time.Second)
	})

	t.Run("failure", func(t *testing.T) {
		event := NewInvocationEvent(&site, "inv-2", time.Millisecond, errors.New("boom"))

		assert.False(t, event.Succeeded())
		assert.Equal(t, OutcomeFailed, event.Outcome)
		assert.Equal(t, "boom", event.Error)
	})
}
