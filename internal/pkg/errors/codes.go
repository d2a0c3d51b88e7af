package errors

// Error code constants for identifier operations. The client-visible
// rendering of each code lives in ClientString; backend logs always
// carry the code plus the wrapped error.

// Identifier validation and dispatch codes.
const (
	CodeInvalidIdentifier = "INVALID_IDENTIFIER"
	CodeUnknownScheme     = "UNKNOWN_SCHEME"
	CodeUnknownPrefix     = "UNKNOWN_PREFIX"
	CodeMinterUnavailable = "MINTER_UNAVAILABLE"
)

// Store and mutation codes.
const (
	CodeAlreadyExists    = "ALREADY_EXISTS"
	CodeNoSuchIdentifier = "NO_SUCH_IDENTIFIER"
	CodeReservedElement  = "RESERVED_ELEMENT"
	CodeEmptyElement     = "EMPTY_ELEMENT"
	CodeDataciteInvalid  = "DATACITE_VALIDATION"
	CodeCrossrefInvalid  = "CROSSREF_VALIDATION"
	CodeUnknownUser      = "UNKNOWN_USER"
)

// Authorization and fallthrough codes.
const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeInternal     = "INTERNAL"
)

// ClientString renders an error in the wire format clients observe:
//
//	error: unauthorized
//	error: bad request - subreason...
//	error: internal server error
func ClientString(err error) string {
	appErr, ok := IsAppError(err)
	if !ok {
		return "error: internal server error"
	}
	switch appErr.Code {
	case CodeUnauthorized:
		return "error: unauthorized"
	case CodeInternal:
		return "error: internal server error"
	default:
		return "error: bad request - " + appErr.Message
	}
}
