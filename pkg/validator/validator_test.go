package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

type ticketPayload struct {
	Title    string `json:"title" validate:"required,notblank,max=200"`
	Category string `json:"category" validate:"required,oneof=material incident question"`
	Priority string `json:"priority" validate:"omitempty,oneof=low medium high"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := ticketPayload{
		Title:    "Broken valve",
		Category: "incident",
		Priority: "high",
	}

	if err := ValidateStruct(payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStructFailures(t *testing.T) {
	payload := ticketPayload{
		Title:    "   ",
		Category: "other",
		Priority: "urgent",
	}

	err := ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation error")
	}

	vErrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	if len(vErrs) != 3 {
		t.Fatalf("expected 3 validation errors, got %d", len(vErrs))
	}

	foundTitle := false
	for _, v := range vErrs {
		if v.Field == "title" && v.Tag == "notblank" {
			foundTitle = true
		}
	}

	if !foundTitle {
		t.Fatal("expected blank title to fail notblank")
	}
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("ticketdesk", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "ticketdesk"
	})
	if err != nil {
		t.Fatalf("register validation: %v", err)
	}

	type custom struct {
		Value string `validate:"ticketdesk"`
	}

	if err := ValidateStruct(custom{Value: "ticketdesk"}); err != nil {
		t.Fatalf("expected validation to pass, got %v", err)
	}
	if err := ValidateStruct(custom{Value: "other"}); err == nil {
		t.Fatal("expected validation to fail for non-matching value")
	}
}

func TestPushKeyValidation(t *testing.T) {
	type keys struct {
		P256dh string `json:"p256dh" validate:"pushkey"`
	}

	for _, valid := range []string{"BNcRdreALRFX", "p256dh-key", "auth_secret", "YWJjZA==", "YWJjZA"} {
		if err := ValidateStruct(keys{P256dh: valid}); err != nil {
			t.Fatalf("expected %q to pass, got %v", valid, err)
		}
	}
	for _, invalid := range []string{"", "abc+def/", "a", "has space"} {
		if err := ValidateStruct(keys{P256dh: invalid}); err == nil {
			t.Fatalf("expected %q to fail", invalid)
		}
	}
}
