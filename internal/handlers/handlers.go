// Package handlers holds the plain HTTP surface next to the websocket
// endpoint: process/store health and the question catalog.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"pairquiz-backend/api"
	errs "pairquiz-backend/internal/errors"
)

const defaultQuestionSample = 5

// Pinger reports connectivity of the durable store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QuestionSampler mirrors the catalog contract used by the coordinator.
type QuestionSampler interface {
	SampleQuestions(ctx context.Context, n int) ([]api.Question, error)
}

type healthResponse struct {
	Status string `json:"status"`
	DB     string `json:"db"`
}

// HealthHandler exposes process and store liveness as a plain status
// query.
func HealthHandler(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := healthResponse{Status: "ok", DB: "connected"}
		statusCode := http.StatusOK

		if err := store.Ping(r.Context()); err != nil {
			slog.ErrorContext(r.Context(), "health check", slog.Any("error", err))
			res = healthResponse{Status: "error", DB: "disconnected"}
			statusCode = http.StatusInternalServerError
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		if err := json.NewEncoder(w).Encode(res); err != nil {
			slog.ErrorContext(r.Context(), "health response write", slog.Any("error", err))
		}
	}
}

// QuestionsHandler returns a random sample from the question catalog.
// The sample size is taken from the "count" query parameter.
func QuestionsHandler(catalog QuestionSampler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count := defaultQuestionSample
		if raw := r.URL.Query().Get("count"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				errs.WriteHTTPError(r.Context(), w, http.StatusBadRequest, err, "invalid count")
				return
			}
			count = parsed
		}

		questions, err := catalog.SampleQuestions(r.Context(), count)
		if err != nil {
			errs.WriteHTTPError(r.Context(), w, http.StatusInternalServerError, err, "could not sample questions")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(questions); err != nil {
			slog.ErrorContext(r.Context(), "questions response write", slog.Any("error", err))
		}
	}
}
