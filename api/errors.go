package api

import (
	"encoding/json"
	"net/http"

	"torrentnode.dev/indexer/xerr"
)

// JSON-RPC-ish error codes the original query surface used; kept stable
// since a caller may branch on the numeric code.
const (
	codeUserError = -32602
	codeNotFound  = -32603
	codeInternal  = -32603
)

// writeJSON marshals v as the response body, indenting when pretty is set.
func writeJSON(w http.ResponseWriter, status int, v interface{}, pretty bool) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

// writeError maps err's xerr.Kind to an HTTP status and JSON-RPC-ish
// error code and writes the {id?, error:{code,message}} body.
func writeError(w http.ResponseWriter, id *string, err error) {
	status, code := errorStatus(err)
	writeJSON(w, status, errorBody{ID: id, Error: errorInfo{Code: code, Message: err.Error()}}, false)
}

func errorStatus(err error) (status, code int) {
	switch {
	case xerr.Is(err, xerr.User), xerr.Is(err, xerr.Protocol):
		return http.StatusBadRequest, codeUserError
	case xerr.Is(err, xerr.NotFound):
		return http.StatusInternalServerError, codeNotFound
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: errorInfo{Code: codeUserError, Message: "method not allowed"}}, false)
}
