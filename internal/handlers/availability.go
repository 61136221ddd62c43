package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	applog "larder/internal/log"
	"larder/internal/inventory"
)

type availabilityCheckRequest struct {
	Lines []orderLinePayload `json:"lines"`
}

type orderLinePayload struct {
	MenuItemID uint `json:"menu_item_id"`
	Quantity   int  `json:"quantity"`
}

// AvailabilityResource handles read-only availability queries under
// /api/availability.
func AvailabilityResource(w http.ResponseWriter, r *http.Request) {
	if !ready(w, r) {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/availability")
	path = strings.Trim(path, "/")
	segments := strings.Split(path, "/")

	switch {
	case path == "check":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		checkOrderAvailability(w, r)
	case path == "low-stock":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		listLowStock(w, r)
	case path == "ingredients":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		listIngredientAvailability(w, r)
	case len(segments) == 2 && segments[0] == "ingredients":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		showIngredientAvailability(w, r, segments[1])
	case len(segments) == 2 && segments[0] == "menu-items":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		checkMenuItemAvailability(w, r, segments[1])
	default:
		http.NotFound(w, r)
	}
}

func showIngredientAvailability(w http.ResponseWriter, r *http.Request, identifier string) {
	ctx := r.Context()
	idValue, err := strconv.ParseUint(identifier, 10, 64)
	if err != nil {
		applog.Debug(ctx, "invalid ingredient identifier", "identifier", identifier)
		http.NotFound(w, r)
		return
	}

	avail, err := availEngine.Ingredient(ctx, uint(idValue))
	if err != nil {
		if errors.Is(err, inventory.ErrIngredientNotFound) {
			http.NotFound(w, r)
			return
		}
		applog.Error(ctx, "failed to compute ingredient availability", "error", err, "id", idValue)
		writeJSONError(w, http.StatusInternalServerError, "unable to compute availability")
		return
	}
	writeJSON(w, http.StatusOK, avail)
}

func listIngredientAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ingredients, err := store.Ingredients(ctx)
	if err != nil {
		applog.Error(ctx, "failed to list ingredients", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "unable to load ingredients")
		return
	}

	results := make([]any, 0, len(ingredients))
	for _, ingredient := range ingredients {
		avail, err := availEngine.Ingredient(ctx, ingredient.ID)
		if err != nil {
			applog.Error(ctx, "failed to compute ingredient availability", "error", err, "id", ingredient.ID)
			writeJSONError(w, http.StatusInternalServerError, "unable to compute availability")
			return
		}
		results = append(results, avail)
	}
	writeJSON(w, http.StatusOK, results)
}

func listLowStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ingredients, err := store.LowStock(ctx)
	if err != nil {
		applog.Error(ctx, "failed to list low stock ingredients", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "unable to load low stock ingredients")
		return
	}
	writeJSON(w, http.StatusOK, ingredients)
}

func checkMenuItemAvailability(w http.ResponseWriter, r *http.Request, identifier string) {
	ctx := r.Context()
	idValue, err := strconv.ParseUint(identifier, 10, 64)
	if err != nil {
		applog.Debug(ctx, "invalid menu item identifier", "identifier", identifier)
		http.NotFound(w, r)
		return
	}

	qty := 1
	if raw := r.URL.Query().Get("quantity"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSONError(w, http.StatusBadRequest, "quantity must be a positive integer")
			return
		}
		qty = parsed
	}

	report, err := availEngine.MenuItem(ctx, uint(idValue), qty)
	if err != nil {
		applog.Error(ctx, "menu item availability check failed", "error", err, "id", idValue)
		writeJSONError(w, http.StatusInternalServerError, "unable to check availability")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func checkOrderAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var payload availabilityCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		applog.Debug(ctx, "invalid availability check payload", "error", err)
		writeJSONError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if len(payload.Lines) == 0 {
		writeJSONError(w, http.StatusBadRequest, "lines must not be empty")
		return
	}

	lines := make([]inventory.OrderLine, 0, len(payload.Lines))
	for _, line := range payload.Lines {
		if line.MenuItemID == 0 || line.Quantity <= 0 {
			writeJSONError(w, http.StatusBadRequest, "each line needs a menu_item_id and a positive quantity")
			return
		}
		lines = append(lines, inventory.OrderLine{MenuItemID: line.MenuItemID, Quantity: line.Quantity})
	}

	report, err := availEngine.Order(ctx, lines)
	if err != nil {
		applog.Error(ctx, "order availability check failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "unable to check availability")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
