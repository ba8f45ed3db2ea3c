package handlers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/charlesng35/ticketdesk/pkg/errors"
	"github.com/charlesng35/ticketdesk/pkg/response"
	appValidator "github.com/charlesng35/ticketdesk/pkg/validator"
)

// bindAndValidate binds the JSON payload into dest and runs struct validation rules.
// When validation fails, an error response is automatically written and false is returned.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid JSON payload"))
		return false
	}

	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, appErrors.NewValidation(formatValidationError(err)))
		return false
	}

	return true
}

// bindOptional is bindAndValidate for endpoints whose body may be omitted entirely, such as
// start and complete without a note. Missing required values are then reported by the
// workflow.
func bindOptional[T any](c *gin.Context, dest *T) bool {
	if c.Request == nil || c.Request.ContentLength == 0 {
		return true
	}
	return bindAndValidate(c, dest)
}

// validationMessages renders one failed rule for a human-readable field name.
var validationMessages = map[string]func(field, param string) string{
	"required":  func(f, _ string) string { return f + " is required" },
	"notblank":  func(f, _ string) string { return f + " must not be blank" },
	"min":       func(f, p string) string { return fmt.Sprintf("%s must be at least %s characters", f, p) },
	"max":       func(f, p string) string { return fmt.Sprintf("%s must be at most %s characters", f, p) },
	"oneof":     func(f, p string) string { return fmt.Sprintf("%s must be one of: %s", f, p) },
	"url":       func(f, _ string) string { return f + " must be a valid URL" },
	"latitude":  func(f, _ string) string { return f + " must be between -90 and 90" },
	"longitude": func(f, _ string) string { return f + " must be between -180 and 180" },
	"pushkey":   func(f, _ string) string { return f + " must be URL-safe base64" },
}

func formatValidationError(err error) string {
	failures, ok := err.(appValidator.ValidationErrors)
	if !ok || len(failures) == 0 {
		return "invalid request payload"
	}

	messages := make([]string, 0, len(failures))
	for _, failure := range failures {
		field := prettifyFieldName(failure.Field)
		if render, known := validationMessages[failure.Tag]; known {
			messages = append(messages, render(field, failure.Param))
			continue
		}
		if failure.Param != "" {
			messages = append(messages, fmt.Sprintf("%s failed validation: %s=%s", field, failure.Tag, failure.Param))
		} else {
			messages = append(messages, fmt.Sprintf("%s failed validation: %s", field, failure.Tag))
		}
	}
	return strings.Join(messages, "; ")
}

func prettifyFieldName(name string) string {
	if name == "" {
		return "field"
	}
	return strings.ToLower(strings.ReplaceAll(name, "_", " "))
}

// parseIntQuery reads an integer query parameter. Malformed values fall back rather than fail
// so a bad ?limit= still lists tickets.
func parseIntQuery(c *gin.Context, key string, fallback int) int {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
