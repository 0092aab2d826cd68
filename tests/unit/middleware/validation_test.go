package middleware_test

import (
	"strings"
	"testing"

	. "duraq/pkg/api/middleware"
)

func TestValidator_ValidateIdentifier_AcceptsNormalNames(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	for _, name := range []string{"tenant-a", "queue_1", "job.id:42", "ACME-Corp"} {
		if err := v.ValidateIdentifier("tenant", name); err != nil {
			t.Errorf("expected %q to be valid, got error: %v", name, err)
		}
	}
}

func TestValidator_ValidateIdentifier_RejectsEmpty(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	if err := v.ValidateIdentifier("tenant", ""); err == nil {
		t.Error("expected empty identifier to be rejected")
	}
}

func TestValidator_ValidateIdentifier_RejectsTooLong(t *testing.T) {
	config := DefaultValidatorConfig()
	config.MaxNameLength = 5
	v := NewValidator(config)

	if err := v.ValidateIdentifier("tenant", "toolongname"); err == nil {
		t.Error("expected too long identifier to be rejected")
	}
}

func TestValidator_ValidateIdentifier_RejectsBadCharacters(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	for _, name := range []string{"tenant a", "queue/1", "job#id", "a\nb"} {
		if err := v.ValidateIdentifier("tenant", name); err == nil {
			t.Errorf("expected %q to be rejected", name)
		}
	}
}

func TestValidator_ValidatePayloadSize_RejectsOversized(t *testing.T) {
	config := DefaultValidatorConfig()
	config.MaxPayloadBytes = 10
	v := NewValidator(config)

	if err := v.ValidatePayloadSize(11); err == nil {
		t.Error("expected oversized payload to be rejected")
	}
	if err := v.ValidatePayloadSize(10); err != nil {
		t.Errorf("expected payload at the limit to be accepted, got %v", err)
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Field:   "tenant",
		Message: "must not be empty",
	}

	expected := "tenant: must not be empty"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
	if !strings.Contains(err.Error(), err.Field) {
		t.Error("expected error string to contain the field name")
	}
}
