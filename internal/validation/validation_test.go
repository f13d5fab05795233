package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signup struct {
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"required,numeric,min=9,max=10"`
	Accepted bool   `json:"consent" validate:"eq=true"`
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	err := Struct(signup{Email: "nope", Phone: "12ab"}, "patientInfo.")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)

	var verr *Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "must be a valid email address", verr.Fields["patientInfo.email"])
	assert.Equal(t, "must contain digits only", verr.Fields["patientInfo.phone"])
	assert.Equal(t, "must be accepted", verr.Fields["patientInfo.consent"])
}

func TestStructValid(t *testing.T) {
	assert.NoError(t, Struct(signup{Email: "a@b.co", Phone: "0812345678", Accepted: true}, ""))
}

func TestErrorAddKeepsFirstMessage(t *testing.T) {
	e := &Error{}
	assert.NoError(t, e.OrNil())

	e.Add("symptoms", "is required")
	e.Add("symptoms", "second")
	assert.Equal(t, "is required", e.Fields["symptoms"])
	assert.EqualError(t, e.OrNil(), "validation failed: symptoms: is required")
}

func TestFieldCauseMatchesSentinel(t *testing.T) {
	sentinel := errors.New("only dates after today can be booked")
	err := FieldCause("selectedDate", sentinel)

	assert.ErrorIs(t, err, ErrInvalid)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, sentinel.Error(), err.Fields["selectedDate"])
}
