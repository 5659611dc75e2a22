// Package httputils writes JSON bodies for the HTTP endpoints that sit beside the
// websocket host.
// internal/httputils/response.go
package httputils

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/framelink/internal/jsonrpc"
	"github.com/dkoosis/framelink/internal/logging"
	mcperrors "github.com/dkoosis/framelink/internal/mcp/mcp_errors"
)

// WriteJSONResponse writes data as a 200 JSON body. An encoding failure is answered with
// an internal error response instead.
func WriteJSONResponse(w http.ResponseWriter, data interface{}, logger logging.Logger) {
	logger = logging.OrNoop(logger)

	body, err := json.Marshal(data)
	if err != nil {
		logger.Error("Failed to encode JSON response.", "error", errors.Wrap(err, "marshal"), "dataType", fmt.Sprintf("%T", data))
		WriteErrorResponse(w, mcperrors.CodeInternalError, "Failed to encode response", logger)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(append(body, '\n')); err != nil {
		logger.Warn("Failed to write JSON response.", "error", err)
	}
}

// WriteErrorResponse writes a JSON-RPC error object with id null and an HTTP status
// derived from code.
func WriteErrorResponse(w http.ResponseWriter, code mcperrors.ErrorCode, message string, logger logging.Logger) {
	body, err := jsonrpc.Encode(jsonrpc.NewErrorResponse(json.RawMessage("null"), int(code), message))
	if err != nil {
		logging.OrNoop(logger).Error("Failed to encode error response.", "code", int(code), "error", err)
		http.Error(w, message, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusFromErrorCode(code))
	if _, err := w.Write(append(body, '\n')); err != nil {
		logging.OrNoop(logger).Warn("Failed to write error response.", "error", err)
	}
}

// httpStatusFromErrorCode maps protocol error codes to HTTP status codes.
func httpStatusFromErrorCode(code mcperrors.ErrorCode) int {
	switch code {
	case mcperrors.CodeParseError, mcperrors.CodeInvalidRequest, mcperrors.CodeInvalidParams:
		return http.StatusBadRequest
	case mcperrors.CodeMethodNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
