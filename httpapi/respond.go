package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/embercore/forge/ferrors"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// errorBody is the §7 structured error shape: {detail} always, plus
// {error, retry_after} for rate.exceeded so clients can back off.
type errorBody struct {
	Detail     string `json:"detail"`
	Error      string `json:"error,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// writeError renders err as a structured JSON body per §7. The HTTP
// layer never leaks stack traces (ferrors.Error.Error() never includes
// one); unrecognized errors fall back to a generic 500.
func writeError(w http.ResponseWriter, err error) {
	fe, ok := ferrors.As(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Detail: "internal error"})
		return
	}
	body := errorBody{Detail: fe.Message}
	if fe.Reason != "" {
		body.Detail = fe.Message + ": " + fe.Reason
	}
	if fe.Kind == ferrors.KindRateExceeded {
		body.Error = string(fe.Kind)
		body.RetryAfter = fe.RetryAfterSeconds
	}
	w.Header().Set("Content-Type", "application/json")
	if fe.Kind == ferrors.KindRateExceeded {
		w.Header().Set("Retry-After", strconv.Itoa(fe.RetryAfterSeconds))
	}
	w.WriteHeader(fe.HTTPStatus())
	_ = json.NewEncoder(w).Encode(body)
}
