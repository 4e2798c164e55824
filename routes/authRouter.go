package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/secureapp/apiv1/auth"
	"github.com/secureapp/apiv1/middlewares"
	"github.com/secureapp/apiv1/utils"
)

type StatusResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type LockedResponse struct {
	Error            string `json:"error"`
	RemainingSeconds int    `json:"remainingSeconds"`
}

type OutcomeResponse struct {
	Outcome     string `json:"outcome"`
	Destination string `json:"destination,omitempty"`
	Next        string `json:"next,omitempty"`
}

type RegisterAttempt struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginAttempt struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type TwoFactorAttempt struct {
	Email string `json:"email" validate:"required"`
	Token string `json:"token" validate:"required"`
}

type FederatedAttempt struct {
	Credential string `json:"credential"`
}

type RequestBody interface {
	RegisterAttempt | LoginAttempt | TwoFactorAttempt | FederatedAttempt
}

func AuthRouter(s *mux.Router, h *Handler) {
	s.HandleFunc("/register", h.Register).Methods(http.MethodPost)
	s.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	s.HandleFunc("/2fa", h.CompleteTwoFactor).Methods(http.MethodPost)
	s.Handle("/google", middlewares.BearerCredential(http.HandlerFunc(h.FederatedLogin))).Methods(http.MethodPost)
}

func (h *Handler) DecodeValidBody(r *http.Request, body any) error {
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(body); err != nil {
		return err
	}
	return h.validate.Struct(body)
}

func decodeValidBody[B RequestBody](h *Handler, r *http.Request) (B, error) {
	var requestBody B
	err := h.DecodeValidBody(r, &requestBody)
	return requestBody, err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// GenericAuthError logs err and answers with message. Internal detail never
// reaches the client.
func (h *Handler) GenericAuthError(w http.ResponseWriter, r *http.Request, status int, err error, message string) {
	fields := []zap.Field{
		zap.String("requestId", middlewares.RequestIDFromContext(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields...)
	} else {
		h.logger.Debug("request rejected", fields...)
	}
	writeJSON(w, status, ErrorResponse{Error: message})
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	attempt, err := decodeValidBody[RegisterAttempt](h, r)
	if err != nil {
		h.GenericAuthError(w, r, http.StatusBadRequest, err, utils.MissingFieldsError)
		return
	}
	err = h.auth.Register(r.Context(), attempt.Username, attempt.Email, attempt.Password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, StatusResponse{Status: utils.RegistrationSuccessStatus})
	case errors.Is(err, auth.ErrValidation):
		h.GenericAuthError(w, r, http.StatusBadRequest, err, utils.MissingFieldsError)
	case errors.Is(err, auth.ErrConflict):
		h.GenericAuthError(w, r, http.StatusConflict, err, utils.EmailTakenSignupError)
	default:
		h.GenericAuthError(w, r, http.StatusInternalServerError, err, utils.GenericSignupError)
	}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	attempt, err := decodeValidBody[LoginAttempt](h, r)
	if err != nil {
		h.GenericAuthError(w, r, http.StatusBadRequest, err, utils.MissingFieldsError)
		return
	}
	outcome, err := h.auth.Login(r.Context(), attempt.Email, attempt.Password, h.now())
	if err != nil {
		h.GenericAuthError(w, r, http.StatusInternalServerError, err, utils.GenericLoginError)
		return
	}
	h.writeOutcome(w, r, outcome)
}

func (h *Handler) CompleteTwoFactor(w http.ResponseWriter, r *http.Request) {
	attempt, err := decodeValidBody[TwoFactorAttempt](h, r)
	if err != nil {
		h.GenericAuthError(w, r, http.StatusBadRequest, err, utils.EmailAndTokenRequired)
		return
	}
	outcome, err := h.auth.CompleteTwoFactor(r.Context(), attempt.Email, attempt.Token, h.now())
	if err != nil {
		h.GenericAuthError(w, r, http.StatusInternalServerError, err, utils.VerificationFailedError)
		return
	}
	h.writeOutcome(w, r, outcome)
}

func (h *Handler) FederatedLogin(w http.ResponseWriter, r *http.Request) {
	credential, _ := middlewares.BearerFromContext(r.Context())
	if credential == "" {
		attempt, err := decodeValidBody[FederatedAttempt](h, r)
		if err != nil || attempt.Credential == "" {
			h.GenericAuthError(w, r, http.StatusBadRequest, err, utils.MissingFieldsError)
			return
		}
		credential = attempt.Credential
	}
	outcome, err := h.auth.FederatedLogin(r.Context(), credential)
	if errors.Is(err, auth.ErrFederatedDisabled) {
		h.GenericAuthError(w, r, http.StatusNotFound, err, utils.FederatedDisabledError)
		return
	}
	if err != nil {
		h.GenericAuthError(w, r, http.StatusInternalServerError, err, utils.FederatedLoginError)
		return
	}
	if outcome.Result == auth.InvalidCredentials {
		h.GenericAuthError(w, r, http.StatusUnauthorized, outcome.Err(), utils.FederatedLoginError)
		return
	}
	h.writeOutcome(w, r, outcome)
}

func (h *Handler) writeOutcome(w http.ResponseWriter, r *http.Request, outcome auth.Outcome) {
	err := outcome.Err()
	var locked *auth.LockedError
	switch {
	case err == nil && outcome.Result == auth.PendingSecondFactor:
		writeJSON(w, http.StatusOK, OutcomeResponse{Outcome: string(outcome.Result), Next: string(outcome.Destination)})
	case err == nil:
		writeJSON(w, http.StatusOK, OutcomeResponse{Outcome: string(outcome.Result), Destination: string(outcome.Destination)})
	case errors.As(err, &locked):
		writeJSON(w, http.StatusTooManyRequests, LockedResponse{
			Error:            utils.GenerateBanMessage(locked.RemainingSeconds),
			RemainingSeconds: locked.RemainingSeconds,
		})
	case errors.Is(err, auth.ErrInvalidToken):
		h.GenericAuthError(w, r, http.StatusUnauthorized, err, utils.InvalidTokenError)
	default:
		h.GenericAuthError(w, r, http.StatusUnauthorized, err, utils.InvalidCredentialsError)
	}
}
