package dto

import (
	"encoding/json"
	"errors"
	"strings"

	"herfrequency/internal/apperr"
)

type actionEnvelope struct {
	Action string `json:"action"`
}

// ActionName reads the "action" discriminator of an action request body.
func ActionName(raw []byte) (string, error) {
	var env actionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", apperr.Validation("", "Invalid JSON format")
	}
	name := strings.TrimSpace(env.Action)
	if name == "" {
		return "", apperr.Validation("action", "Field is required")
	}
	return name, nil
}

// DecodeParams unmarshals the action parameters carried next to the
// discriminator. Type mismatches are reported against the offending field.
func DecodeParams(raw []byte, v any) error {
	err := json.Unmarshal(raw, v)
	if err == nil {
		return nil
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return apperr.Validation(typeErr.Field, "Field has bad format")
	}
	return apperr.Validation("", "Invalid JSON format")
}
