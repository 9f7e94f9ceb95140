package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/submission"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, errorResponse{Success: false, Message: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"message":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

// StatusFromError maps coordinator failures to a response code. Both
// dependency sentinels mean the caller may retry, so both are 503.
func StatusFromError(err error) int {
	switch {
	case errors.Is(err, submission.ErrTransient), errors.Is(err, submission.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// StatusFromReason maps a rejection to its response code. An incorrect flag is
// an ordinary outcome, so it is 200 with success false.
func StatusFromReason(r submission.Reason) int {
	switch r {
	case submission.ReasonChallengeUnavailable:
		return http.StatusNotFound
	case submission.ReasonCompetitionNotActive, submission.ReasonTeamRequired, submission.ReasonChallengeLocked:
		return http.StatusForbidden
	case submission.ReasonAlreadySolved:
		return http.StatusConflict
	case submission.ReasonAttemptLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusOK
	}
}
