package handlers

// Application close codes, sent when the failure happens after the upgrade.
const (
	BadSubprotocolError = 3000 // Client did not negotiate the "battle" subprotocol.
	InvalidUserIDError  = 3002 // Frame names a different user than the token.
)

// maxCloseReason is the longest close reason a control frame can carry.
const maxCloseReason = 123

func truncateReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	return reason[:maxCloseReason]
}
