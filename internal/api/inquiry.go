package api

import (
	"net/http"

	"github.com/halcyon-surgical/portal/internal/domain"
	"github.com/halcyon-surgical/portal/internal/notify"
)

// SubmitInquiry sends a contact-form inquiry. The contact tab is open to
// anonymous visitors.
func (h *Handler) SubmitInquiry(w http.ResponseWriter, r *http.Request) {
	v, ok := h.visitor(w, r)
	if !ok {
		return
	}
	var inq domain.Inquiry
	if err := decode(r, &inq); err != nil {
		WriteError(w, err)
		return
	}
	if err := v.Sender.Submit(r.Context(), inq); err != nil {
		status, body := classifyError(err)
		if status == http.StatusInternalServerError {
			// Transport failures carry their own text for the form.
			status, body = http.StatusBadGateway, errorBody{Error: notify.ErrorText(err), Kind: "network"}
		}
		JSON(w, status, body)
		return
	}
	JSON(w, http.StatusOK, v.Sender.Snapshot())
}

// InquiryStatus returns the contact form's send status.
func (h *Handler) InquiryStatus(w http.ResponseWriter, r *http.Request) {
	v, ok := h.visitor(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, v.Sender.Snapshot())
}
