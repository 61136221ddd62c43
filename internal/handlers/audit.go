package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"larder/internal/audit"
	applog "larder/internal/log"
)

const defaultHistoryLimit = 50

// AuditResource exposes read access to the audit ledger under /api/audit:
// per-ingredient history, per-type summaries, and compliance flag review.
func AuditResource(w http.ResponseWriter, r *http.Request) {
	if !ready(w, r) {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/audit")
	path = strings.Trim(path, "/")
	segments := strings.Split(path, "/")

	switch {
	case path == "summary":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		auditSummary(w, r)
	case path == "flags":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		pendingFlags(w, r)
	case path == "large-adjustments":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		largeAdjustments(w, r)
	case len(segments) == 3 && segments[0] == "flags" && segments[2] == "resolve":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		resolveFlag(w, r, segments[1])
	case len(segments) == 3 && segments[0] == "ingredients" && segments[2] == "history":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ingredientHistory(w, r, segments[1])
	default:
		http.NotFound(w, r)
	}
}

func ingredientHistory(w http.ResponseWriter, r *http.Request, identifier string) {
	ctx := r.Context()
	idValue, err := strconv.ParseUint(identifier, 10, 64)
	if err != nil {
		applog.Debug(ctx, "invalid ingredient identifier", "identifier", identifier)
		http.NotFound(w, r)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entries, err := ledger.IngredientHistory(ctx, uint(idValue), limit)
	if err != nil {
		applog.Error(ctx, "failed to load ingredient history", "error", err, "id", idValue)
		writeJSONError(w, http.StatusInternalServerError, "unable to load history")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func auditSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -7)
	to := now

	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "from must be an RFC3339 timestamp")
			return
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "to must be an RFC3339 timestamp")
			return
		}
		to = parsed
	}
	if !from.Before(to) {
		writeJSONError(w, http.StatusBadRequest, "from must be before to")
		return
	}

	summary, err := ledger.SummaryByType(ctx, from, to)
	if err != nil {
		applog.Error(ctx, "failed to build audit summary", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "unable to build summary")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from":    from,
		"to":      to,
		"summary": summary,
	})
}

func pendingFlags(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entries, err := ledger.PendingReview(ctx)
	if err != nil {
		applog.Error(ctx, "failed to load pending flags", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "unable to load pending flags")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func largeAdjustments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entries, err := ledger.LargeAdjustments(ctx, limit)
	if err != nil {
		applog.Error(ctx, "failed to load large adjustments", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "unable to load large adjustments")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func resolveFlag(w http.ResponseWriter, r *http.Request, identifier string) {
	ctx := r.Context()
	idValue, err := strconv.ParseUint(identifier, 10, 64)
	if err != nil {
		applog.Debug(ctx, "invalid flag identifier", "identifier", identifier)
		http.NotFound(w, r)
		return
	}

	actor := actorID(r)
	if actor == "" {
		writeJSONError(w, http.StatusBadRequest, "X-Actor-ID header is required")
		return
	}

	err = ledger.ResolveFlag(ctx, uint(idValue), actor)
	switch {
	case errors.Is(err, audit.ErrFlagNotFound):
		http.NotFound(w, r)
	case errors.Is(err, audit.ErrFlagAlreadyResolved):
		writeJSONError(w, http.StatusConflict, err.Error())
	case err != nil:
		applog.Error(ctx, "failed to resolve flag", "error", err, "id", idValue)
		writeJSONError(w, http.StatusInternalServerError, "unable to resolve flag")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
