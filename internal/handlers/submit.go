package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/auth"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/middleware"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/submission"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const maxFlagLength = 1024

type Submitter interface {
	Submit(ctx context.Context, req submission.Request) (submission.Result, error)
}

type SubmitHandler struct {
	submitter Submitter
	logger    zerolog.Logger
}

func NewSubmitHandler(s Submitter, logger zerolog.Logger) *SubmitHandler {
	return &SubmitHandler{
		submitter: s,
		logger:    logger.With().Str("component", "submit-handler").Logger(),
	}
}

type submitRequest struct {
	Flag string `json:"flag"`
}

type submitResponse struct {
	Success           bool              `json:"success"`
	Status            submission.Status `json:"status"`
	Reason            submission.Reason `json:"reason,omitempty"`
	Message           string            `json:"message"`
	Points            int               `json:"points,omitempty"`
	IsFirstBlood      bool              `json:"isFirstBlood,omitempty"`
	AttemptsRemaining *int              `json:"attemptsRemaining,omitempty"`
	SubmissionID      string            `json:"submissionId,omitempty"`
}

func (h *SubmitHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r.Context())
	if claims == nil {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var body submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4*maxFlagLength)).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	flag := strings.TrimSpace(body.Flag)
	if flag == "" || len(flag) > maxFlagLength {
		respondWithError(w, http.StatusBadRequest, "Flag is required")
		return
	}

	req := submission.Request{
		UserID:      claims.UserID(),
		Username:    claims.Username,
		TeamID:      claims.Team(),
		ChallengeID: chi.URLParam(r, "id"),
		Flag:        flag,
		IPAddress:   middleware.ClientIP(r),
		UserAgent:   r.UserAgent(),
	}

	result, err := h.submitter.Submit(r.Context(), req)
	if err != nil {
		h.logger.Error().Err(err).
			Str("userId", req.UserID).
			Str("challengeId", req.ChallengeID).
			Msg("Submission failed")
		respondWithError(w, StatusFromError(err), "Submission could not be processed, please retry")
		return
	}

	if result.Accepted() {
		respondWithJSON(w, http.StatusOK, submitResponse{
			Success:           true,
			Status:            result.Status,
			Message:           "Correct flag",
			Points:            result.Points,
			IsFirstBlood:      result.FirstBlood,
			AttemptsRemaining: result.RemainingAttempts,
			SubmissionID:      result.SubmissionID,
		})
		return
	}

	respondWithJSON(w, StatusFromReason(result.Reason), submitResponse{
		Success:           false,
		Status:            result.Status,
		Reason:            result.Reason,
		Message:           result.Reason.Message(),
		AttemptsRemaining: result.RemainingAttempts,
		SubmissionID:      result.SubmissionID,
	})
}
