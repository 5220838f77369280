package handler

import (
	"io"
	"net/http"

	"go.uber.org/zap"
)

// SignatureHeader содержит имя заголовка с подписью события процессора.
const SignatureHeader = "Stripe-Signature"

// maxWebhookSize ограничивает тело входящего события.
const maxWebhookSize = 512 << 10

// PaymentEvents принимает события процессора. 200 означает, что событие принято и
// повторная доставка не нужна; 5xx просит процессор доставить его снова.
// Разобранное событие, которое не удалось записать в леджер, получает 500, а не 200:
// иначе процессор не повторит доставку и переход статуса будет потерян.
func (h *Handler) PaymentEvents(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookSize))
	if err != nil {
		h.logger.Warn("read webhook body", zap.Error(err))
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "cannot read request body"})
		return
	}

	res, err := h.webhooks.Handle(r.Context(), payload, r.Header.Get(SignatureHeader))
	if err != nil {
		// Ошибки подписи и формата дают 400, сбой хранилища даёт 500.
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"received": true, "outcome": res.Outcome})
}
