package core

// validation.go checks short link fields before they reach the store.
//
// Rules are declared as struct tags on ImportCandidate and linkInput and
// enforced with go-playground/validator. Two custom tags cover the short link
// alphabet: "shortcode" (4-24 chars) and "ownerid". The first failing field
// is reported as a *ValidationError so callers and MapError can tell which
// field was wrong.

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	MinCodeLength   = 4
	MaxCodeLength   = 24
	MaxTargetLength = 2000
	MaxOwnerLength  = 100
)

var (
	codePattern    = regexp.MustCompile(`^[A-Za-z0-9_-]{4,24}$`)
	ownerIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// Report fields by their JSON name so messages match what callers sent
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	mustRegister(v, "shortcode", func(fl validator.FieldLevel) bool {
		return codePattern.MatchString(fl.Field().String())
	})
	mustRegister(v, "ownerid", func(fl validator.FieldLevel) bool {
		return ownerIDPattern.MatchString(fl.Field().String())
	})
	mustRegister(v, "hashost", func(fl validator.FieldLevel) bool {
		u, err := url.Parse(fl.Field().String())
		return err == nil && u.IsAbs() && u.Host != ""
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %q: %v", tag, err))
	}
}

// linkInput holds the caller-supplied fields of a new short link.
type linkInput struct {
	Target    string `json:"target" validate:"required,max=2000,url,hashost"`
	OwnerID   string `json:"ownerId" validate:"omitempty,max=100,ownerid"`
	OwnerName string `json:"ownerName" validate:"omitempty,max=100"`
}

// ValidateLinkInput checks the fields of a single create request.
func ValidateLinkInput(target, ownerID, ownerName string) error {
	return toValidationError(validate.Struct(linkInput{
		Target:    target,
		OwnerID:   ownerID,
		OwnerName: ownerName,
	}))
}

// ValidateCandidate checks an import candidate after normalization.
func ValidateCandidate(c ImportCandidate) error {
	return toValidationError(validate.Struct(c))
}

// ValidateCode checks a code against the short code alphabet.
func ValidateCode(code string) error {
	if !codePattern.MatchString(code) {
		return &ValidationError{Field: "code", Value: code, Message: codeFormatMessage}
	}
	return nil
}

// NormalizeCandidate trims fields and applies the default owner.
func NormalizeCandidate(c ImportCandidate) ImportCandidate {
	c.Code = strings.TrimSpace(c.Code)
	c.Target = strings.TrimSpace(c.Target)
	c.OwnerID = strings.TrimSpace(c.OwnerID)
	c.OwnerName = strings.TrimSpace(c.OwnerName)
	if c.OwnerID == "" {
		c.OwnerID = DefaultOwnerID
	}
	return c
}

const codeFormatMessage = "invalid code format, use 4-24 characters from A-Z a-z 0-9 _ -"

// toValidationError converts validator output to the first *ValidationError.
func toValidationError(err error) error {
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("validation: %w", err)
	}

	fe := fieldErrs[0]
	value := fmt.Sprint(fe.Value())
	return &ValidationError{
		Field:   fe.Field(),
		Value:   value,
		Message: messageForTag(fe.Tag(), fe.Param()),
	}
}

func messageForTag(tag, param string) string {
	switch tag {
	case "required":
		return "is required"
	case "shortcode":
		return codeFormatMessage
	case "ownerid":
		return "invalid owner id format, use A-Z a-z 0-9 _ -"
	case "max":
		return fmt.Sprintf("must be at most %s characters", param)
	case "url", "hashost":
		return "must be an absolute URL"
	default:
		return fmt.Sprintf("failed %q check", tag)
	}
}
