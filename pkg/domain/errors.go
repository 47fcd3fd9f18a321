package domain
import (
	"github.com/pkg/errors"
	"net/http"
)

var (
	ErrPasteNotFound      = NewErr("PASTE_NOT_FOUND", "paste not found", http.StatusNotFound)
	ErrPasteExpired       = NewErr("PASTE_EXPIRED", "paste expired", http.StatusGone)
	ErrPasteTooLarge      = NewErr("PASTE_TOO_LARGE", "paste too large", http.StatusRequestEntityTooLarge)
	ErrInvalidContent     = NewErr("INVALID_CONTENT", "content must not be empty", http.StatusBadRequest)
	ErrInvalidParameter   = NewErr("INVALID_PARAMETER", "invalid parameter", http.StatusBadRequest)
	ErrInvalidRequest     = NewErr("INVALID_REQUEST", "invalid request", http.StatusBadRequest)
	ErrUnsupportedMedia   = NewErr("UNSUPPORTED_MEDIA_TYPE", "expected Content-Type: application/json", http.StatusUnsupportedMediaType)
	ErrRateLimitExceeded  = NewErr("RATE_LIMIT_EXCEEDED", "rate limit exceeded", http.StatusTooManyRequests)
	ErrServiceUnavailable = NewErr("SERVICE_UNAVAILABLE", "service shutting down", http.StatusServiceUnavailable)
	ErrInternalServer     = NewErr("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
	ErrIDGenerationFailed = NewErr("ID_GENERATION_FAILED", "id generation failed", http.StatusInternalServerError)
)

type Err struct {
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
}
func (e *Err) Error() string { return e.Msg }
func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

type ExpiryReason string

const (
	ReasonTTL   ExpiryReason = "ttl"
	ReasonViews ExpiryReason = "views"
)

// ExpiredError is returned for the access that discovers an exhausted paste.
type ExpiredError struct {
	Reason ExpiryReason
}
func (e *ExpiredError) Error() string { return ErrPasteExpired.Msg + " (" + string(e.Reason) + ")" }
func (e *ExpiredError) Unwrap() error { return ErrPasteExpired }
func (e *ExpiredError) Cause() error  { return ErrPasteExpired }

type ErrResp struct {
	Error ErrDetail `json:"error"`
}
type ErrDetail struct {
	Code string                 `json:"code"`
	Msg  string                 `json:"message"`
	Meta map[string]interface{} `json:"meta,omitempty"`
}
func ToResp(err error) ErrResp {
	var e *Err
	if errors.As(err, &e) {
		return ErrResp{Error: ErrDetail{Code: e.Code, Msg: e.Msg}}
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return ErrResp{Error: ErrDetail{Code: e.Code, Msg: e.Msg}}
	}
	return ErrResp{Error: ErrDetail{Code: "INTERNAL_ERROR", Msg: "internal error"}}
}
func Status(err error) int {
	var e *Err
	if errors.As(err, &e) {
		return e.Status
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}
