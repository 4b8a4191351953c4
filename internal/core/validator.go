package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"attendance/internal/location"
	"attendance/internal/types"
)

// Validator wraps go-playground/validator with the check-in rules:
//
//	latitude, longitude   WGS84 bounds and finite
//	accuracy              finite and non-negative
//	checkin_kind          office or mission
//	position_error        a geolocation error code, symbolic or numeric
type Validator struct {
	v      *validator.Validate
	logger *slog.Logger
}

// NewValidator builds a Validator that reports JSON field names.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	must := func(tag string, fn validator.Func) {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("register %s: %v", tag, err))
		}
	}
	must("latitude", func(fl validator.FieldLevel) bool {
		return types.ValidateCoordinates(fl.Field().Float(), 0) == nil
	})
	must("longitude", func(fl validator.FieldLevel) bool {
		return types.ValidateCoordinates(0, fl.Field().Float()) == nil
	})
	must("accuracy", func(fl validator.FieldLevel) bool {
		return types.ValidateSample(types.PositionSample{AccuracyMeters: fl.Field().Float()}) == nil
	})
	must("checkin_kind", func(fl validator.FieldLevel) bool {
		return types.CheckInKind(fl.Field().String()).Valid()
	})
	must("position_error", func(fl validator.FieldLevel) bool {
		_, ok := location.ParseFailureCode(fl.Field().String())
		return ok
	})

	return &Validator{v: v, logger: logger}
}

// ValidateStruct returns nil or a 400 AppError naming the first failing
// field, with every failure listed under details.fields.
func (val *Validator) ValidateStruct(s any) error {
	err := val.v.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		val.logger.Error("validator misuse", "error", err.Error())
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	fields := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	first := verrs[0]
	return types.NewAppErrorWithDetails(
		codeForTag(first.Tag()),
		fmt.Sprintf("field %q failed %q validation", first.Field(), first.Tag()),
		err,
		map[string]any{"fields": fields},
	)
}

func codeForTag(tag string) types.ErrorCode {
	switch tag {
	case "required":
		return types.ErrCodeValidationMissingField
	case "latitude":
		return types.ErrCodeValidationInvalidLat
	case "longitude":
		return types.ErrCodeValidationInvalidLon
	case "accuracy":
		return types.ErrCodeValidationInvalidAccuracy
	case "checkin_kind":
		return types.ErrCodeValidationInvalidKind
	default:
		return types.ErrCodeValidationInvalidRequest
	}
}
