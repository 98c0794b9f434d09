package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is shared by every payload check. Initialized in init() with the
// custom rules below.
var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("rgb", validateRGB)
}

// validateRGB accepts "r,g,b" with each channel in 0..255.
func validateRGB(fl validator.FieldLevel) bool {
	_, err := ParseRGB(fl.Field().String())
	return err == nil
}

// ParseRGB parses an "r,g,b" triple.
func ParseRGB(s string) ([3]uint8, error) {
	var out [3]uint8
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return out, fmt.Errorf("rgb %q must have three channels", s)
	}
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < 0 || v > 255 {
			return out, fmt.Errorf("rgb channel %q must be 0..255", p)
		}
		out[i] = uint8(v)
	}
	return out, nil
}

// Validate checks v against its validate struct tags and flattens the
// failures into one readable error.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}
