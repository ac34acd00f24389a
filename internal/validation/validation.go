package validation

import (
	stderrors "errors"
	"fmt"
	"sync"

	"docdelta/internal/errors"

	"github.com/go-playground/validator/v10"
)

// Validator is implemented by types with checks that tags cannot express.
// Struct runs it after the tags pass.
type Validator interface {
	Validate() error
}

var (
	once     sync.Once
	validate *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Struct checks v's `validate` tags and reports every failing field as a
// VALIDATION error whose Details maps the field namespace to the rule.
func Struct(v any) error {
	err := instance().Struct(v)
	if err == nil {
		if vv, ok := v.(Validator); ok {
			return vv.Validate()
		}
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return errors.ValidationError(err.Error(), nil)
	}

	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Namespace()] = fmt.Sprintf("%s=%s (got %v)", fe.Tag(), fe.Param(), fe.Value())
	}
	return errors.ValidationError(fmt.Sprintf("invalid %s", fieldErrs[0].StructNamespace()), details)
}
