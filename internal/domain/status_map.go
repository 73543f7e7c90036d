package domain

import "strings"

// gatewayStatusTable is the closed mapping from gateway status vocabulary
// to the ledger status enum. Both the synchronous batch-result path and the
// asynchronous correlation paths consult this single table so they
// interpret the gateway identically.
var gatewayStatusTable = map[string]LogStatus{
	"sent":       LogStatusSent,
	"success":    LogStatusSent,
	"ok":         LogStatusSent,
	"received":   LogStatusSent,
	"delivered":  LogStatusDelivered,
	"error":      LogStatusFailed,
	"failed":     LogStatusFailed,
	"failure":    LogStatusFailed,
	"invalid":    LogStatusFailed,
	"pending":    LogStatusPending,
	"processing": LogStatusPending,
	"draft":      LogStatusPending,
	"no-credit":  LogStatusPending,
	"low-credit": LogStatusPending,
}

// MapGatewayStatus translates a gateway status string into a ledger status.
// Unrecognized strings default to PENDING rather than being dropped: a
// later confirmation can still resolve the entry.
func MapGatewayStatus(raw string) LogStatus {
	status, ok := gatewayStatusTable[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return LogStatusPending
	}
	return status
}
