// Package httpjson holds the response helpers shared by the HTTP handlers.
package httpjson

import (
	"encoding/json"
	"net/http"

	"github.com/novacare/clinic-intake/pkg/common/logger"
)

func Write(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Log.WithError(err).Error("failed to write json response")
	}
}

// Error writes {"error": message}.
func Error(w http.ResponseWriter, status int, message string) {
	Write(w, status, map[string]interface{}{"error": message})
}

// Decode reads a JSON object body into a generic map. Numbers are kept as
// json.Number so identifiers survive untouched.
func Decode(r *http.Request) (map[string]interface{}, error) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var body map[string]interface{}
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	if body == nil {
		body = map[string]interface{}{}
	}
	return body, nil
}
