package security

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the authentication core reports.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindTokenExpired
	KindTokenInvalid
	KindCredentialNotFound
	KindAccountBlocked
	KindUnauthenticated
	KindForbidden
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTokenExpired:
		return "token_expired"
	case KindTokenInvalid:
		return "token_invalid"
	case KindCredentialNotFound:
		return "credential_not_found"
	case KindAccountBlocked:
		return "account_blocked"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is; an *Error matches the sentinel of its Kind.
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrTokenExpired       = &Error{Kind: KindTokenExpired}
	ErrTokenInvalid       = &Error{Kind: KindTokenInvalid}
	ErrCredentialNotFound = &Error{Kind: KindCredentialNotFound}
	ErrAccountBlocked     = &Error{Kind: KindAccountBlocked}
	ErrUnauthenticated    = &Error{Kind: KindUnauthenticated}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrInternal           = &Error{Kind: KindInternal}
)

// Reason codes recorded on rejections. They are for logs and metrics only and
// never reach an HTTP client.
const (
	ReasonEmptyPassword   = "EMPTY_PASSWORD"
	ReasonLongPassword    = "PASSWORD_TOO_LONG"
	ReasonMalformedDigest = "MALFORMED_DIGEST"
	ReasonMalformedToken  = "TOKEN_MALFORMED"
	ReasonBadSignature    = "TOKEN_BAD_SIGNATURE"
	ReasonWrongType       = "TOKEN_WRONG_TYPE"
	ReasonBadSubject      = "TOKEN_BAD_SUBJECT"
	ReasonExpired         = "TOKEN_EXPIRED"
	ReasonKeyMalformed    = "KEY_MALFORMED"
	ReasonKeyNotFound     = "KEY_NOT_FOUND"
	ReasonKeyInactive     = "KEY_INACTIVE"
	ReasonUserNotFound    = "USER_NOT_FOUND"
	ReasonUserBanned      = "USER_BANNED"
	ReasonUserUnverified  = "USER_UNVERIFIED"
	ReasonBadPassword     = "BAD_PASSWORD"
	ReasonNoCredential    = "NO_CREDENTIAL"
	ReasonNotAdmin        = "NOT_ADMIN"
	ReasonNotOwner        = "NOT_OWNER"
	ReasonTokenGeneration = "TOKEN_GENERATION"
)

// Error is the typed failure returned by the hasher, codec, key manager and resolvers.
type Error struct {
	Kind   Kind
	Reason string
	// UserID is set when the failing credential could be tied to an account.
	UserID int64
	// Public overrides the kind's default client-facing message.
	Public string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so callers can match against the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

// New builds an *Error of the given kind and reason.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap builds an *Error carrying an underlying cause.
func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// Validation is shorthand for a KindValidation error with a client-facing message.
func Validation(format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{Kind: KindValidation, Public: msg, Err: errors.New(msg)}
}

// WithUser returns a copy of e tied to a user id.
func (e *Error) WithUser(id int64) *Error {
	c := *e
	c.UserID = id
	return &c
}

// WithPublic returns a copy of e with a client-facing message.
func (e *Error) WithPublic(msg string) *Error {
	c := *e
	c.Public = msg
	return &c
}

// KindOf extracts the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// ReasonOf extracts the reason code of err, if any.
func ReasonOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Reason
	}
	return ""
}
