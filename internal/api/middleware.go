package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	svcerrors "github.com/openbuilders/batch-submitter/internal/errors"
	"github.com/openbuilders/batch-submitter/internal/metrics"
)

// WithMethod is a middleware that checks if the endpoint was called using a
// specific HTTP method and rejects it otherwise.
func WithMethod(next http.HandlerFunc, method string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, fmt.Sprintf("Only %s method is allowed", method), http.StatusMethodNotAllowed)
			return
		}

		next.ServeHTTP(w, r)
	}
}

// WithJSONResponse wraps an APIHandler and handles JSON response formatting
func WithJSONResponse(handler APIHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Call the handler to get data or error
		data, err := handler(w, r)

		// Set the Content-Type header
		w.Header().Set("Content-Type", "application/json")

		if err != nil {
			errorResponse, status := toErrorResponse(err)

			slog.Debug("API error", "path", r.URL.Path, "error", err)

			w.WriteHeader(status)

			// Encode and send the error response
			if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
				http.Error(w, `{"ok": false, "errorCode": "internal_error", "errorDescription": "Failed to encode error response"}`, http.StatusInternalServerError)
			}
			return
		}

		// Create the success response
		successResponse := Response{
			Ok:   true,
			Data: data,
		}

		// Encode and send the success response
		if err := json.NewEncoder(w).Encode(successResponse); err != nil {
			http.Error(w, `{"ok": false, "errorCode": "internal_error", "errorDescription": "Failed to encode success response"}`, http.StatusInternalServerError)
			return
		}
	}
}

func toErrorResponse(err error) (Response, int) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return Response{
			Ok:               false,
			ErrorCode:        string(apiErr.Code),
			ErrorDescription: apiErr.Description,
		}, apiErr.Status()
	}

	var se svcerrors.ServiceError
	if errors.As(err, &se) {
		slog.Debug("ServiceError", "error", se, "stack", se.Err)

		return Response{
			Ok:               false,
			ErrorCode:        string(se.Code),
			ErrorDescription: se.Message,
		}, http.StatusUnprocessableEntity
	}

	return Response{
		Ok:               false,
		ErrorCode:        string(ErrorCodeInternal),
		ErrorDescription: err.Error(),
	}, http.StatusInternalServerError
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// WithMetrics counts requests and their latency under a fixed path label.
func WithMetrics(next http.HandlerFunc, m *metrics.Metrics, path string) http.HandlerFunc {
	if m == nil {
		return next
	}

	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	}
}
