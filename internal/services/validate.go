package services

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tbourn/callvault/internal/domain"
)

// Event rules are written as gin binding tags so the webhook DTOs and the
// service layer share one vocabulary.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.SetTagName("binding")
	if err := RegisterRules(v); err != nil {
		panic(err)
	}
	return v
}

// RegisterRules adds the archive's custom tags (email_type, alert_type) to v
// and makes field errors report JSON names.
func RegisterRules(v *validator.Validate) error {
	v.RegisterTagNameFunc(jsonName)
	if err := v.RegisterValidation("email_type", func(fl validator.FieldLevel) bool {
		return domain.EmailType(strings.TrimSpace(fl.Field().String())).Valid()
	}); err != nil {
		return err
	}
	return v.RegisterValidation("alert_type", func(fl validator.FieldLevel) bool {
		return domain.AlertType(strings.TrimSpace(fl.Field().String())).Valid()
	})
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	}
	return name
}

// AsValidationError turns the first failed rule of a validator error into a
// *ValidationError. Any other error is returned unchanged.
func AsValidationError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return err
	}
	fe := errs[0]
	return &ValidationError{Field: fe.Field(), Reason: ruleReason(fe)}
}

func ruleReason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "email_type":
		return fmt.Sprintf("unknown template %q", fe.Value())
	case "alert_type":
		return fmt.Sprintf("unknown alert type %q", fe.Value())
	}
	return "is invalid"
}

type callRules struct {
	CallID string `json:"call_id" binding:"required,max=128"`
}

type emailRules struct {
	CallID    string `json:"call_id"    binding:"required,max=128"`
	EmailType string `json:"email_type" binding:"email_type"`
	Recipient string `json:"user_email" binding:"required"`
}

type alertRules struct {
	CallID    string `json:"call_id"    binding:"required,max=128"`
	AlertType string `json:"alert_type" binding:"alert_type"`
}

// Validate checks the per-kind required fields of ev. A recipient that is
// present but not an address is left to dispatch, which logs it as a
// permanent failure.
func Validate(ev domain.Event) error {
	if ev == nil {
		return invalid("event", "missing")
	}
	callID := strings.TrimSpace(ev.Call())

	var rules any
	switch e := ev.(type) {
	case domain.TranscriptEvent, domain.TransferRequestEvent:
		rules = callRules{CallID: callID}
	case domain.EmailRequestEvent:
		rules = emailRules{CallID: callID, EmailType: string(e.EmailType), Recipient: strings.TrimSpace(e.Recipient)}
	case domain.AlertRequestEvent:
		rules = alertRules{CallID: callID, AlertType: string(e.AlertType)}
	default:
		return invalid("event", fmt.Sprintf("unsupported kind %q", ev.Kind()))
	}
	return AsValidationError(validate.Struct(rules))
}

// validRecipient reports whether addr is a bare email address.
func validRecipient(addr string) bool {
	return validate.Var(addr, "required,email") == nil
}
