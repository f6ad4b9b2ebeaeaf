package http

import (
	"net/http"

	"github.com/Strob0t/Overwatch/internal/domain/finding"
)

// GetContextIndex serves index.json as written to disk.
func (h *Handlers) GetContextIndex(w http.ResponseWriter, r *http.Request) {
	data, err := h.Reader.IndexJSON(r.Context())
	if err != nil {
		writeDomainError(w, err, "context index not found")
		return
	}
	writeRawJSON(w, data)
}

// GetContextTier serves one tier file as written to disk.
func (h *Handlers) GetContextTier(w http.ResponseWriter, r *http.Request) {
	tier, err := finding.ParseTier(urlParam(r, "tier"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := h.Reader.TierJSON(r.Context(), tier)
	if err != nil {
		writeDomainError(w, err, "tier file not found")
		return
	}
	writeRawJSON(w, data)
}

// optionalTier parses the tier query parameter; empty means every tier.
func optionalTier(w http.ResponseWriter, r *http.Request) (finding.Tier, bool) {
	raw := r.URL.Query().Get("tier")
	if raw == "" {
		return "", true
	}
	t, err := finding.ParseTier(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return t, true
}

// ListFindings returns findings filtered by tier and file.
func (h *Handlers) ListFindings(w http.ResponseWriter, r *http.Request) {
	tier, ok := optionalTier(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.Context.GetFindings(tier, r.URL.Query().Get("file")))
}

// ClearFindings removes findings filtered by tier and file.
func (h *Handlers) ClearFindings(w http.ResponseWriter, r *http.Request) {
	tier, ok := optionalTier(w, r)
	if !ok {
		return
	}
	n, err := h.Context.ClearFindings(r.Context(), tier, r.URL.Query().Get("file"))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}
