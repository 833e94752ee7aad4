package errutil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/badgewise/pkg/utils/logging"
)

// Handle logs the error with its goerr values and stack, and reports it to Sentry when
// a client is configured. The error is returned as-is.
func Handle(ctx context.Context, err error, msg string) error {
	if err == nil {
		return nil
	}

	logger := logging.From(ctx)

	var ge *goerr.Error
	if errors.As(err, &ge) {
		logger.Error(msg,
			"error", err.Error(),
			"values", ge.Values(),
			"stack", ge.Stacks(),
		)
	} else {
		logger.Error(msg, "error", err.Error())
	}

	report(ctx, err)
	return err
}

// HandleHTTP logs the error and writes a JSON error response. Only 5xx errors are reported
// to Sentry; client errors are logged at warn level.
func HandleHTTP(ctx context.Context, w http.ResponseWriter, err error, statusCode int) {
	if err == nil {
		return
	}

	logger := logging.From(ctx)

	var ge *goerr.Error
	attrs := []any{"status", statusCode, "error", err.Error()}
	if errors.As(err, &ge) {
		attrs = append(attrs, "values", ge.Values())
	}

	if statusCode >= http.StatusInternalServerError {
		if ge != nil {
			attrs = append(attrs, "stack", ge.Stacks())
		}
		logger.Error("HTTP error", attrs...)
		report(ctx, err)
	} else {
		logger.Warn("HTTP error", attrs...)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func report(ctx context.Context, err error) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	if hub.Client() == nil {
		return
	}
	hub.CaptureException(err)
}
