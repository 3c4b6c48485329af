package core

import (
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"sabiops/internal/types"
)

// Validator wraps go-playground/validator with domain-specific tags for
// request structs.
//
// Registered custom tags:
//   - feature_type: value must be a known metered feature
//   - period_type:  value must be a known usage window granularity
//   - toast_kind:   value must be one of the four toast kinds
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator and registers the custom tags.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New()

	// Registration only fails on a nil function or empty tag.
	_ = v.RegisterValidation("feature_type", func(fl validator.FieldLevel) bool {
		return types.FeatureType(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("period_type", func(fl validator.FieldLevel) bool {
		return types.PeriodType(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("toast_kind", func(fl validator.FieldLevel) bool {
		return types.ToastKind(fl.Field().String()).Valid()
	})

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct validates a request struct against its tags, translating
// failures into a field-keyed "validation_missing_required_field" AppError
// suitable for the standard error envelope.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			"request validation failed", err)
	}

	fields := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationMissingField,
		"request failed validation",
		err,
		map[string]any{"fields": fields},
	)
}
