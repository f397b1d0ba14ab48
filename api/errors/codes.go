package errors

// Code classifies an Error by the error kinds sysinspect surfaces across
// component boundaries (see the error handling design).
type Code int

const (
	CodeOk Code = iota
	// CodeConfiguration covers invalid size/duration strings, unknown
	// units and missing required fields. Fatal to the affected subsystem
	// at start.
	CodeConfiguration
	// CodeProtocol covers a malformed envelope, unknown request kind or
	// bad cycle id. The offending message is dropped and logged; the
	// connection is kept open.
	CodeProtocol
	// CodeAuth covers an unknown minion, a duplicate session or a key
	// mismatch. The minion is told to exit.
	CodeAuth
	// CodeQueue covers a corrupt key length in the pending/inflight
	// trees. The bad key is removed; the subsystem continues.
	CodeQueue
	// CodePayloadMissing covers a pending id with no jobs entry. The
	// markers are removed; the item is considered lost.
	CodePayloadMissing
	// CodeModule covers a non-zero return from an external executable.
	// Reported upstream verbatim; the reactor continues.
	CodeModule
	// CodeStorage covers an item too big or storage full after one GC
	// pass. The caller receives an explicit failure.
	CodeStorage
	// CodeNotFound covers a lookup against a registry or store that
	// found nothing at the given key.
	CodeNotFound
	// CodeInternal covers anything that does not fit the above and
	// should not normally occur.
	CodeInternal
)

func (c Code) String() string {
	switch c {
	case CodeOk:
		return "ok"
	case CodeConfiguration:
		return "configuration"
	case CodeProtocol:
		return "protocol"
	case CodeAuth:
		return "auth"
	case CodeQueue:
		return "queue"
	case CodePayloadMissing:
		return "payload_missing"
	case CodeModule:
		return "module"
	case CodeStorage:
		return "storage"
	case CodeNotFound:
		return "not_found"
	case CodeInternal:
		return "internal"
	default:
		return "unknown"
	}
}
