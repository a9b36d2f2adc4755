package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AnshRaj112/tracklog-backend/internal/apperr"
)

type signup struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Name     string `json:"name" validate:"required,max=100"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name string
		in   signup
		msg  string
	}{
		{"valid", signup{"a@b.co", "secret1", "Ann"}, ""},
		{"missing email", signup{"", "secret1", "Ann"}, "email is required"},
		{"bad email", signup{"nope", "secret1", "Ann"}, "email must be a valid email address"},
		{"short password", signup{"a@b.co", "123", "Ann"}, "password must be at least 6 characters"},
		{"missing name", signup{"a@b.co", "secret1", ""}, "name is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.in)
			if tt.msg == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, apperr.Is(err, apperr.KindValidation))
			assert.Equal(t, tt.msg, apperr.PublicMessage(err))
		})
	}
}
