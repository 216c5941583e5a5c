package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/msn-weather-service/internal/models"
	"github.com/kjstillabower/msn-weather-service/internal/validation"
)

const maxRequestBodyBytes = 64 << 10

// cityQuery is the city/country lookup, from the query string or a JSON body.
type cityQuery struct {
	City    string `json:"city" validate:"required,placename"`
	Country string `json:"country" validate:"required,placename"`
}

type coordinateQuery struct {
	Lat string `json:"lat" validate:"required,latitude"`
	Lon string `json:"lon" validate:"required,longitude"`
}

// requestError is a 400 with a caller-facing message.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// newValidator returns a validator that reports json field names and knows the
// "placename" tag backed by validation.Sanitize.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("placename", func(fl validator.FieldLevel) bool {
		_, err := validation.Sanitize(fl.Field().String(), validation.MaxNameLength)
		return err == nil
	})
	return v
}

// cityLocation validates q and returns the trimmed location.
func (h *Handler) cityLocation(q cityQuery, missing string) (models.Location, error) {
	if err := h.validate.Struct(q); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return models.Location{}, err
		}
		for _, fe := range verrs {
			if fe.Tag() == "required" {
				return models.Location{}, badRequest("%s", missing)
			}
		}
		fe := verrs[0]
		if _, err := validation.ValidateName(fe.Field(), fe.Value().(string), validation.MaxNameLength); err != nil {
			return models.Location{}, badRequest("%s", err.Error())
		}
		return models.Location{}, badRequest("%s is invalid", fe.Field())
	}
	return models.NewCityLocation(strings.TrimSpace(q.City), strings.TrimSpace(q.Country)), nil
}

// decodeCityBody reads a POST body into a cityQuery.
func decodeCityBody(w http.ResponseWriter, r *http.Request) (cityQuery, error) {
	var q cityQuery
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err := dec.Decode(&q); err != nil {
		var typeErr *json.UnmarshalTypeError
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return q, badRequest("Request body too large")
		case errors.As(err, &typeErr) && typeErr.Field != "":
			return q, badRequest("%s must be a string", typeErr.Field)
		case errors.As(err, &typeErr):
			return q, badRequest("Request body must be a JSON object")
		case errors.Is(err, io.EOF):
			return q, badRequest("Request body must be a JSON object")
		default:
			return q, badRequest("Request body must be valid JSON")
		}
	}
	return q, nil
}

// coordinateLocation validates the lat/lon query parameters.
func (h *Handler) coordinateLocation(q coordinateQuery) (models.Location, error) {
	q.Lat, q.Lon = strings.TrimSpace(q.Lat), strings.TrimSpace(q.Lon)
	if err := h.validate.Struct(q); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return models.Location{}, err
		}
		switch fe := verrs[0]; {
		case fe.Tag() == "required":
			return models.Location{}, badRequest("Both 'lat' and 'lon' parameters are required")
		case fe.Field() == "lat":
			return models.Location{}, badRequest("%s", validation.ErrLatitudeRange.Error())
		default:
			return models.Location{}, badRequest("%s", validation.ErrLongitudeRange.Error())
		}
	}
	lat, err := strconv.ParseFloat(q.Lat, 64)
	if err != nil {
		return models.Location{}, badRequest("%s", validation.ErrLatitudeRange.Error())
	}
	lon, err := strconv.ParseFloat(q.Lon, 64)
	if err != nil {
		return models.Location{}, badRequest("%s", validation.ErrLongitudeRange.Error())
	}
	if err := validation.ValidateCoordinates(lat, lon); err != nil {
		return models.Location{}, badRequest("%s", err.Error())
	}
	return models.NewCoordinateLocation(lat, lon), nil
}
