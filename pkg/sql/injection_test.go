package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckValueForInjection(t *testing.T) {
	t.Run("plain values pass", func(t *testing.T) {
		assert.Nil(t, CheckValueForInjection("value", "1042"))
		assert.Nil(t, CheckValueForInjection("value", "Smith"))
		assert.Nil(t, CheckValueForInjection("value", ""))
	})

	t.Run("injection patterns are flagged", func(t *testing.T) {
		result := CheckValueForInjection("value", "1' OR '1'='1")
		require.NotNil(t, result)
		assert.True(t, result.IsSQLi)
		assert.Equal(t, "value", result.ParamName)
		assert.NotEmpty(t, result.Fingerprint)
	})
}
