package types

import "fmt"

// ReturnCode is the application-level outcome of a directory operation.
// Values follow the codes game clients already know from hosted matchmaking backends.
type ReturnCode int16

const (
	ReturnCodeOK                  ReturnCode = 0
	ReturnCodeInternalServerError ReturnCode = -1
	ReturnCodeInvalidOperation    ReturnCode = -2
	ReturnCodeAlreadyInRoom       ReturnCode = 32750
	ReturnCodeGameDoesNotExist    ReturnCode = 32758
	ReturnCodeNoRandomMatchFound  ReturnCode = 32760
	ReturnCodeGameClosed          ReturnCode = 32764
	ReturnCodeGameFull            ReturnCode = 32765
	ReturnCodeGameIDAlreadyExists ReturnCode = 32766
)

func (c ReturnCode) String() string {
	switch c {
	case ReturnCodeOK:
		return "OK"
	case ReturnCodeInternalServerError:
		return "InternalServerError"
	case ReturnCodeInvalidOperation:
		return "InvalidOperation"
	case ReturnCodeAlreadyInRoom:
		return "AlreadyInRoom"
	case ReturnCodeGameDoesNotExist:
		return "GameDoesNotExist"
	case ReturnCodeNoRandomMatchFound:
		return "NoRandomMatchFound"
	case ReturnCodeGameClosed:
		return "GameClosed"
	case ReturnCodeGameFull:
		return "GameFull"
	case ReturnCodeGameIDAlreadyExists:
		return "GameIdAlreadyExists"
	default:
		return fmt.Sprintf("Unknown(%d)", int16(c))
	}
}

// Error carries a ReturnCode through error returns.
type Error struct {
	Code    ReturnCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds an *Error with a formatted message.
func Errorf(code ReturnCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
