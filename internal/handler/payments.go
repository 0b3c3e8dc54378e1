package handler

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/courseplatform/internal/model"
	"github.com/mmeshcher/courseplatform/internal/payment"
)

const maxWebhookBody = 64 << 10

// CheckoutSuccess обрабатывает возврат пользователя со страницы оплаты.
func (h *Handler) CheckoutSuccess(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		badRequest(w)
		return
	}

	e, err := h.service.ConfirmCheckout(r.Context(), userID, sessionID)
	if err != nil {
		h.writeError(w, err, "confirm checkout error", zap.Int64("userID", userID), zap.String("sessionID", sessionID))
		return
	}

	h.writeJSON(w, http.StatusOK, newEnrollmentResponse(e))
}

// PaymentWebhook принимает уведомления платёжного провайдера.
// Ответ 400 означает, что событие отклонено, 500 просит провайдера повторить доставку.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		badRequest(w)
		return
	}

	err = h.service.HandlePaymentWebhook(r.Context(), payload, r.Header.Get(payment.SignatureHeader))
	if err != nil {
		if errors.Is(err, model.ErrValidation) {
			badRequest(w)
			return
		}
		h.logger.Error("payment webhook error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
