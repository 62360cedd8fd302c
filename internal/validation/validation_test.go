package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type contact struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Qty   int    `json:"qty" validate:"min=1"`
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	err := Struct(contact{Email: "nope", Qty: 0})

	require.Error(t, err)
	verr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, "is required", verr.Fields["name"])
	assert.Equal(t, "must be a valid email address", verr.Fields["email"])
	assert.Equal(t, "must be at least 1", verr.Fields["qty"])
	assert.True(t, IsValidation(err))
}

func TestStructAcceptsValid(t *testing.T) {
	assert.NoError(t, Struct(contact{Name: "Asha", Email: "asha@example.com", Qty: 2}))
}

func TestFieldError(t *testing.T) {
	err := Field("items", "cart is empty")
	assert.Equal(t, "validation failed: items: cart is empty", err.Error())
}
