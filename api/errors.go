package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/hatchery/types"
)

var statusByKind = []struct {
	kind   error
	status int
}{
	{types.ErrValidation, http.StatusBadRequest},
	{types.ErrNotRunning, http.StatusBadRequest},
	{types.ErrUnauthorized, http.StatusForbidden},
	{types.ErrNotFound, http.StatusNotFound},
	{types.ErrConflict, http.StatusConflict},
	{types.ErrBusy, http.StatusConflict},
	{types.ErrResourceExhausted, http.StatusServiceUnavailable},
	{types.ErrNotReady, http.StatusServiceUnavailable},
	{types.ErrTimeout, http.StatusGatewayTimeout},
	{types.ErrExternalTool, http.StatusInternalServerError},
}

// statusOf maps an error kind to its HTTP status.
func statusOf(err error) int {
	for _, k := range statusByKind {
		if errors.Is(err, k.kind) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// writeErr reports err to the caller. Authorization failures get a fixed
// message so they never reveal what exists in other namespaces; errors of
// no known kind are logged and replaced by a generic message.
func writeErr(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusOf(err)
	msg := err.Error()
	switch {
	case errors.Is(err, types.ErrUnauthorized):
		msg = "VM not found or access denied"
	case status == http.StatusInternalServerError && !errors.Is(err, types.ErrExternalTool):
		id, _ := ctx.Value(requestIDKey).(string)
		log.WithFunc("api.writeErr").Warnf(ctx, "request %s: %v", id, err)
		msg = "internal error, request " + id
	}
	writeError(w, status, msg)
}
