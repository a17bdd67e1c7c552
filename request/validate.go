package request

import (
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var validate *validator.Validate
var translator ut.Translator

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	var ok bool
	translator, ok = ut.New(en.New(), en.New()).GetTranslator("en")
	if !ok {
		panic("request: failed to get 'en' translator")
	}

	if err := en_translations.RegisterDefaultTranslations(validate, translator); err != nil {
		panic(err)
	}

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.ToLower(fld.Name)
	})
}

// Validate checks d and its Kind against their declared constraints.
func Validate(d *Descriptor) error {
	var fields FieldErrors

	if err := validate.Struct(d); err != nil {
		fe, ok := toFieldErrors(err)
		if !ok {
			return err
		}
		fields = append(fields, fe...)
	}

	switch k := d.Kind.(type) {
	case nil:
		fields = append(fields, FieldError{Field: "kind", Err: "This field is required"})
	case Simple:
	case Download, Multipart:
		if err := validate.Struct(k); err != nil {
			fe, ok := toFieldErrors(err)
			if !ok {
				return err
			}
			fields = append(fields, fe...)
		}
	}

	if d.URL != nil && d.URL.Scheme != "http" && d.URL.Scheme != "https" {
		fields = append(fields, FieldError{Field: "url", Err: "url must use http or https"})
	}

	if d.Shape == ShapeObject && !isPointer(d.Dest) {
		fields = append(fields, FieldError{Field: "dest", Err: "object responses need a non-nil pointer destination"})
	}

	if len(fields) > 0 {
		return fields
	}

	return nil
}

// FieldError represents a single validation error for a specific field.
type FieldError struct {
	Field string `json:"field"`
	Err   string `json:"error"`
}

// FieldErrors represents a collection of field errors.
type FieldErrors []FieldError

// Error implements the error interface, returning a human-readable
// summary of all field errors.
func (fe FieldErrors) Error() string {
	parts := make([]string, len(fe))
	for i, f := range fe {
		parts[i] = f.Field + ": " + f.Err
	}
	return strings.Join(parts, "; ")
}

func toFieldErrors(err error) (FieldErrors, bool) {
	verrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return nil, false
	}

	var fields FieldErrors
	for _, verror := range verrors {
		fields = append(fields, FieldError{
			Field: verror.Field(),
			Err:   customErrForTag(verror.Tag(), verror),
		})
	}

	return fields, true
}

func customErrForTag(tag string, verror validator.FieldError) string {
	switch tag {
	case "required":
		return "This field is required"
	default:
		return verror.Translate(translator)
	}
}
