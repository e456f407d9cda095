package api

import (
	"net/http"

	"github.com/warp/circulation-engine/circulation"
)

// statusFor maps a failure kind to an HTTP status.
//
//	400 invalid input            401 bad credentials
//	403 actor not allowed        404 stale identifier
//	409 ledger state conflict    422 recipient not eligible
//	423 outside service hours    500 infrastructure
func statusFor(err error) int {
	kind := circulation.KindOf(err)
	switch {
	case kind == "" || kind == circulation.KindInfrastructure:
		return http.StatusInternalServerError
	case kind == circulation.KindInvalidArgument:
		return http.StatusBadRequest
	case kind == circulation.KindInvalidCredentials:
		return http.StatusUnauthorized
	case kind == circulation.KindOutsideServiceHours:
		return http.StatusLocked
	case circulation.IsNotFound(err):
		return http.StatusNotFound
	case circulation.IsConflict(err):
		return http.StatusConflict
	}
	switch kind {
	case circulation.KindInvalidOperator, circulation.KindSelfLoanForbidden, circulation.KindParamNotEditable:
		return http.StatusForbidden
	case circulation.KindInvalidRecipient, circulation.KindRecipientSanctioned:
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadRequest
}
