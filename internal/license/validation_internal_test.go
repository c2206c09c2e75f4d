package license

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidator_AdapterRule(t *testing.T) {
	var v *validator.Validate
	require.NotPanics(t, func() { v = newValidator() })

	type adapterOnly struct {
		Adapter string `json:"mac_address" validate:"adapter"`
	}
	assert.NoError(t, v.Struct(adapterOnly{Adapter: "00-1B-63-84-45-E6"}))

	err := v.Struct(adapterOnly{Adapter: "not-a-mac"})
	var verrs validator.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "mac_address", verrs[0].Field())
	assert.Equal(t, "adapter", verrs[0].Tag())
}
