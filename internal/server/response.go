package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dotcommander/oakd/internal/output"
)

// writeJSON encodes data as an output.Success envelope. Reuses
// internal/output's existing Response/Success shape rather than inventing a
// parallel error envelope the way telnet2-opencode's response.go does --
// the CLI commands and the HTTP surface should look the same to a caller
// parsing oakd's JSON.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(output.Success(data))
}

// writeError encodes err as an output.Error envelope. code is folded into
// the error message since output.Response's ErrorCode field is reserved for
// recoverableError-implementing typed errors (CycleError, IntegrityError,
// etc); a plain handler-level validation failure doesn't implement that
// interface.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(output.Error(fmt.Errorf("%s: %s", code, message)))
}

// writeErr encodes a Go error directly, preserving any recoverableError
// metadata it carries (error_code, suggested_action, etc).
func writeErr(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(output.Error(err))
}
