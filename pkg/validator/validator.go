package validator

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	imeiPattern     = regexp.MustCompile(`^[0-9]{6,17}$`)
	icd10Pattern    = regexp.MustCompile(`^[A-TV-Z][0-9][0-9AB](\.?[0-9A-TV-Z]{1,4})?$`)
	dialCodePattern = regexp.MustCompile(`^\+?[0-9]{1,4}$`)
)

// Validator provides validation functionality
type Validator interface {
	Validate(interface{}) error
	ValidateField(field string, value interface{}, rules ...string) error
}

type structValidator struct {
	v *validator.Validate
}

// New returns a Validator with the domain tags registered.
func New() Validator {
	v := validator.New()
	Register(v)
	return &structValidator{v: v}
}

// Register installs the domain tags and json field naming on v. It is also
// applied to gin's binding engine so request structs share the same rules.
func Register(v *validator.Validate) {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	mustRegister(v, "imei", matcher(imeiPattern))
	mustRegister(v, "icd10", func(fl validator.FieldLevel) bool {
		return icd10Pattern.MatchString(strings.ToUpper(fl.Field().String()))
	})
	mustRegister(v, "dial_code", matcher(dialCodePattern))
}

func matcher(re *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(err)
	}
}

func (s *structValidator) Validate(obj interface{}) error {
	if err := s.v.Struct(obj); err != nil {
		return describe(err)
	}
	return nil
}

func (s *structValidator) ValidateField(field string, value interface{}, rules ...string) error {
	if err := s.v.Var(value, strings.Join(rules, ",")); err != nil {
		return fmt.Errorf("%s: %w", field, describe(err))
	}
	return nil
}

// describe flattens validator errors into a single readable message.
func describe(err error) error {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		if e.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", e.Field(), e.Tag(), e.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", e.Field(), e.Tag()))
	}
	return fmt.Errorf("%s", strings.Join(parts, "; "))
}
