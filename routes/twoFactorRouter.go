package routes

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/secureapp/apiv1/metrics"
	"github.com/secureapp/apiv1/twofactor"
	"github.com/secureapp/apiv1/utils"
)

type QRCodeResponse struct {
	QRCodeDataURL string `json:"qrCodeDataURL"`
}

type VerifyResponse struct {
	Verified bool   `json:"verified"`
	Error    string `json:"error,omitempty"`
}

func TwoFactorRouter(s *mux.Router, h *Handler) {
	s.HandleFunc("/generate-2fa", h.GenerateTwoFactor).Methods(http.MethodGet)
	s.HandleFunc("/verify-2fa", h.VerifyTwoFactor).Methods(http.MethodPost)
}

// GenerateTwoFactor provisions a secret for ?email= if needed and returns
// its provisioning URI as a QR code image. The secret is never sent as text.
func (h *Handler) GenerateTwoFactor(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: utils.EmailRequiredError})
		return
	}

	uri, created, err := h.provisioner.Provision(r.Context(), email)
	if err != nil {
		h.GenericAuthError(w, r, http.StatusInternalServerError, err, utils.GenerateQRCodeError)
		return
	}
	if created {
		h.logger.Info("2fa secret provisioned", zap.String("email", email))
	}
	metrics.RecordTwoFactorProvision(created)

	dataURL, err := twofactor.RenderQRCode(uri)
	if err != nil {
		h.GenericAuthError(w, r, http.StatusInternalServerError, err, utils.GenerateQRCodeError)
		return
	}
	writeJSON(w, http.StatusOK, QRCodeResponse{QRCodeDataURL: dataURL})
}

// VerifyTwoFactor checks a code and, the first time one is good, marks 2FA
// as enabled for the email.
func (h *Handler) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	attempt, err := decodeValidBody[TwoFactorAttempt](h, r)
	if err != nil {
		h.GenericAuthError(w, r, http.StatusBadRequest, err, utils.EmailAndTokenRequired)
		return
	}
	ctx := r.Context()

	wasEnabled, err := h.verifier.Enabled(ctx, attempt.Email)
	if err != nil {
		h.GenericAuthError(w, r, http.StatusInternalServerError, err, utils.VerificationFailedError)
		return
	}
	verified, err := h.verifier.VerifyAndEnable(ctx, attempt.Email, attempt.Token, h.now())
	if errors.Is(err, twofactor.ErrNoSecret) {
		writeJSON(w, http.StatusBadRequest, VerifyResponse{Verified: false, Error: utils.NoTwoFactorSetupError})
		return
	}
	if err != nil {
		metrics.RecordTwoFactorVerification(metrics.ResultError)
		h.GenericAuthError(w, r, http.StatusInternalServerError, err, utils.VerificationFailedError)
		return
	}

	if verified {
		metrics.RecordTwoFactorVerification(metrics.ResultAuthenticated)
		if !wasEnabled {
			h.logger.Info("2fa enrollment confirmed", zap.String("email", attempt.Email))
		}
	} else {
		metrics.RecordTwoFactorVerification(metrics.ResultInvalidToken)
	}
	writeJSON(w, http.StatusOK, VerifyResponse{Verified: verified})
}
