package middleware

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/capitalize-ai/prompt-engine/internal/model"
)

// MaxTextLength bounds the text of a single prompt.
const MaxTextLength = 100000

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidatePrompt validates a prompt request body.
func ValidatePrompt(req *model.PromptRequest) error {
	if err := validate.Struct(req); err != nil {
		return describe(err)
	}
	if len(req.Text) > MaxTextLength {
		return errors.New("text exceeds maximum length")
	}
	if !utf8.ValidString(req.Text) {
		return errors.New("text must be valid UTF-8")
	}
	return nil
}

// describe turns the first validation failure into a client message.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", fe.Field())
	case "required_without":
		return fmt.Errorf("%s is required when %s is absent", fe.Field(), strings.ToLower(fe.Param()))
	case "oneof":
		return fmt.Errorf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "uuid":
		return fmt.Errorf("%s must be a valid UUID", fe.Field())
	default:
		return fmt.Errorf("%s is invalid", fe.Field())
	}
}
