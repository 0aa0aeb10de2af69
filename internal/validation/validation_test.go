package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type registerBody struct {
	Name     string `json:"name" validate:"required,min=1,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

func TestStruct_Valid(t *testing.T) {
	assert.NoError(t, Struct(&registerBody{Name: "Ann", Email: "ann@example.com", Password: "password1"}))
}

func TestStruct_FieldErrors(t *testing.T) {
	err := Struct(&registerBody{Name: "", Email: "nope", Password: "short"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)

	var verr *Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []FieldError{
		{Field: "name", Message: "name is required"},
		{Field: "email", Message: "email must be a valid email address"},
		{Field: "password", Message: "password must be at least 8 characters"},
	}, verr.Fields)
	assert.Contains(t, err.Error(), "email must be a valid email address")
}

func TestStruct_PasswordTooLong(t *testing.T) {
	err := Struct(&registerBody{Name: "Ann", Email: "ann@example.com", Password: strings.Repeat("x", 73)})
	var verr *Error
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "password must be at most 72 characters", verr.Fields[0].Message)
}
