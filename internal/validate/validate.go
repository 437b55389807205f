package validate

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/vstep-prep/vstep/internal/model"
)

var (
	// custom validation tags & texts
	optionLabelTag  = "option_label"
	optionLabelText = "{0} must be one of A, B, C or D"

	requiredTag  = "required"
	requiredText = "{0} is required"
)

// Validator checks struct tags and reports failures as *model.ValidationError.
type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

// New instantiates a validator with English messages and the custom tags.
func New() *Validator {
	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	translator, _ := uni.GetTranslator("en")

	validate := validator.New(validator.WithRequiredStructEnabled())
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(optionLabelTag, optionLabelValidation)
	registerCustomTranslation(validate, translator, optionLabelTag, optionLabelText, false)
	registerCustomTranslation(validate, translator, requiredTag, requiredText, true)

	return &Validator{validate: validate, translator: translator}
}

// Struct validates s. Field names in the returned error follow JSON tags.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]model.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, model.FieldError{
			Field: fieldPath(fe.Namespace()),
			Error: fe.Translate(v.translator),
		})
	}
	return model.NewValidationError(nil, fields...)
}

// fieldPath drops the root struct name and embedded metadata segments from a
// validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return strings.ReplaceAll(ns, "ContentMeta.", "")
}

func registerCustomTranslation(validate *validator.Validate, translator ut.Translator, tag, text string, override bool) {
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, override) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// optionLabelValidation accepts a single option label, case-insensitively.
func optionLabelValidation(fl validator.FieldLevel) bool {
	switch strings.ToUpper(fl.Field().String()) {
	case "A", "B", "C", "D":
		return true
	}
	return false
}
