package types

// RequestKind enumerates the message kinds exchanged between master and
// minion over the length-framed transport. Values are the lowercase short
// wire tokens the wire envelope uses, not the descriptive Go identifiers.
type RequestKind string

const (
	RequestAdd          RequestKind = "add"
	RequestRemove       RequestKind = "rm"
	RequestResponse     RequestKind = "rsp"
	RequestCommand      RequestKind = "cmd"
	RequestTraits       RequestKind = "tr"
	RequestEhlo         RequestKind = "ehlo"
	RequestBye          RequestKind = "b"
	RequestByeAck       RequestKind = "ba"
	RequestReconnect    RequestKind = "retry"
	RequestAgentUnknown RequestKind = "undef"
	RequestPing         RequestKind = "pi"
	RequestPong         RequestKind = "po"
	RequestEvent        RequestKind = "evt"
	RequestModelEvent   RequestKind = "mvt"
)

// PingKind distinguishes the two sub-kinds a Ping payload may carry.
type PingKind string

const (
	PingGeneral   PingKind = "general"
	PingDiscovery PingKind = "discovery"
)

// CommandOutcome is carried in a Command payload to tell the minion why a
// command could not be dispatched, or that it succeeded.
type CommandOutcome string

const (
	CommandSuccess         CommandOutcome = "success"
	CommandAlreadyConnected CommandOutcome = "already_connected"
)
