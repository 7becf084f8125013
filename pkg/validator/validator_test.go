package validator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	EventID int64  `json:"eventId" validate:"positive"`
	Email   string `json:"email" validate:"required,max=255,email"`
	Phone   string `json:"phone" validate:"required,max=20,phone"`
	Token   string `json:"confirmationToken" validate:"omitempty,token"`
	Name    string `json:"firstName" validate:"max=100,singleline"`
}

func TestValidate_OK(t *testing.T) {
	err := Validate(context.Background(), sample{EventID: 1, Email: "jane@x.com", Phone: "+27000000000", Name: "Zoë O'Neil-Smith"})
	assert.NoError(t, err)
}

func TestValidate_FieldErrors(t *testing.T) {
	cases := []struct {
		name  string
		in    sample
		field string
		msg   string
	}{
		{"event id", sample{EventID: 0, Email: "a@b.co", Phone: "1"}, "eventId", ErrFieldBelowMinVal},
		{"email shape", sample{EventID: 1, Email: "nope", Phone: "1"}, "email", ErrInvalidEmail},
		{"phone length", sample{EventID: 1, Email: "a@b.co", Phone: strings.Repeat("1", 21)}, "phone", ErrFieldExceedsMaxLen},
		{"phone chars", sample{EventID: 1, Email: "a@b.co", Phone: "call me"}, "phone", ErrInvalidPhone},
		{"token", sample{EventID: 1, Email: "a@b.co", Phone: "1", Token: "XYZ"}, "confirmationToken", ErrInvalidFormat},
		{"name line break", sample{EventID: 1, Email: "a@b.co", Phone: "1", Name: "Jane\r\nBcc: x@evil.example"}, "firstName", ErrControlCharacters},
		{"name tab", sample{EventID: 1, Email: "a@b.co", Phone: "1", Name: "Jane\tDoe"}, "firstName", ErrControlCharacters},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(context.Background(), tc.in)
			require.Error(t, err)
			fe, ok := err.(*FieldError)
			require.True(t, ok)
			assert.Equal(t, tc.field, fe.Field)
			assert.Equal(t, tc.msg, fe.Message)
		})
	}
}
