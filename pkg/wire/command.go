package wire

// Well-known request commands answered by the backbone's request endpoint.
const (
	// CommandSubPort returns the port of the subscribe endpoint.
	CommandSubPort = "SUB_PORT"

	// CommandPubPort returns the port of the publish endpoint.
	CommandPubPort = "PUB_PORT"

	// CommandTime returns the backbone clock in seconds.
	CommandTime = "t"

	// CommandVersion returns the backbone version string.
	CommandVersion = "v"
)

// Fixed reply bodies.
const (
	// ReplyNotificationReceived acknowledges a notification request.
	ReplyNotificationReceived = "Notification received"

	// ReplyUnknownCommand answers any request the backbone does not know.
	ReplyUnknownCommand = "Unknown command."
)
