package httpapi

import (
	"net/http"
	"strings"

	"OverlayCompanion/internal/domain"

	"github.com/gorilla/mux"
)

const maxIDLen = 64

// pathID reads a user id route variable. Ids are opaque to the companion
// but must be printable and short.
func pathID(r *http.Request, key string) (string, error) {
	id := strings.TrimSpace(mux.Vars(r)[key])
	if !validID(id) {
		return "", domain.NewValidationError(map[string]string{key: "invalid id"})
	}
	return id, nil
}

func validID(s string) bool {
	if s == "" || len(s) > maxIDLen {
		return false
	}
	for _, r := range s {
		if r < 32 || r == 127 || r == '/' {
			return false
		}
	}
	return true
}
