package httpapi

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
)

// checkPassword implements spec §4.7's password protection: if
// passwordHash is non-empty, require HTTP Basic and verify
// SHA-256(provided password) equals it in constant time. Returns true
// when the request is authorized to proceed.
func checkPassword(w http.ResponseWriter, r *http.Request, datasetName, passwordHash string) bool {
	if passwordHash == "" {
		return true
	}

	_, password, ok := r.BasicAuth()
	if ok {
		sum := sha256.Sum256([]byte(password))
		if subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(passwordHash)) == 1 {
			return true
		}
	}

	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm="Access to %s data", charset="UTF-8"`, datasetName))
	http.Error(w, "unauthorized", http.StatusUnauthorized)
	return false
}
