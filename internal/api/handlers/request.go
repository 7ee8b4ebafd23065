package handlers

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	apiContext "contentflow/internal/api/context"
	"contentflow/internal/pkg/errors"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report fields by their JSON name
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and runs its validate tags.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		errors.WriteDomainError(w, errors.Validation(fieldErrors(err)))
		return false
	}
	return true
}

func fieldErrors(err error) []errors.FieldError {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []errors.FieldError{{Field: "body", Message: err.Error()}}
	}
	fields := make([]errors.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		// drop the root struct name from the namespace
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		msg := "failed " + fe.Tag()
		switch fe.Tag() {
		case "required":
			msg = "is required"
		case "oneof":
			msg = "must be one of " + fe.Param()
		case "max":
			msg = "must be at most " + fe.Param()
		case "min":
			msg = "must be at least " + fe.Param()
		case "url":
			msg = "must be a valid URL"
		}
		fields = append(fields, errors.FieldError{Field: field, Message: msg})
	}
	return fields
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// actor names the caller on history rows and approvals.
func actor(r *http.Request) string {
	if c := apiContext.ClaimsFrom(r.Context()); c != nil {
		return c.Actor()
	}
	return ""
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}
