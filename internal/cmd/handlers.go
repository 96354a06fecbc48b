package cmd

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// The handlers below stand in for the application routes a real worker
// would serve; they exist so the cluster behaviour can be exercised.

type topic struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

func listTopics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    []topic{{ID: 1, Title: "Welcome"}, {ID: 2, Title: "Automations"}},
	})
}

func getTopic(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "topic not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": topic{ID: id, Title: "Topic " + strconv.Itoa(id)}})
}

func login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username == "" || body.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "username and password are required"})
		return
	}
	writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "invalid credentials"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
