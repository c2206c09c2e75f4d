package license

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Six octets separated by ':' or '-'.
var adapterIDPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}([0-9A-Fa-f]{2})$`)

func ValidAdapterID(s string) bool {
	return adapterIDPattern.MatchString(s)
}

type ActivateRequest struct {
	ProductID     int64  `json:"software_id" validate:"required,gt=0"`
	CustomerEmail string `json:"customer_email" validate:"required,email,max=254"`
	MachineID     string `json:"machine_id" validate:"required,max=255"`
	AdapterID     string `json:"mac_address" validate:"required,adapter"`
	DurationDays  int    `json:"duration_days" validate:"required,min=1,max=36500"`
}

type ValidateRequest struct {
	MachineID   string `json:"machine_id" validate:"required,max=255"`
	AdapterID   string `json:"mac_address" validate:"required,max=17"`
	ProductName string `json:"software_name" validate:"required,max=255"`
}

type RenewRequest struct {
	MachineID    string `json:"machine_id" validate:"required,max=255"`
	AdapterID    string `json:"mac_address" validate:"required,max=17"`
	ProductID    int64  `json:"software_id" validate:"required,gt=0"`
	DurationDays int    `json:"duration_days" validate:"required,min=1,max=36500"`
}

type CreateProductRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=2000"`
	IsActive    *bool  `json:"is_active"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.RegisterValidation("adapter", func(fl validator.FieldLevel) bool {
		return ValidAdapterID(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("license: register adapter validation: %v", err))
	}

	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Fields: map[string][]string{NonFieldErrors: {err.Error()}}, cause: err}
	}

	out := &ValidationError{Fields: map[string][]string{}, cause: err}
	for _, fe := range verrs {
		out.Fields[fe.Field()] = append(out.Fields[fe.Field()], formatFieldError(fe))
	}
	return out
}

func formatFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "enter a valid email address"
	case "adapter":
		return "invalid adapter address, expected six hex octets separated by ':' or '-'"
	case "min", "gt":
		return fmt.Sprintf("must be at least %s", minParam(fe))
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("ensure this field has no more than %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

func minParam(fe validator.FieldError) string {
	if fe.Tag() == "gt" {
		return "1"
	}
	return fe.Param()
}
