package oauth

// Error codes carried by a failed AuthResult. Provider errors such as
// "access_denied" are passed through as sent.
const (
	ErrCodeAuthFailed     = "authentication_failed"
	ErrCodeNotConfigured  = "not_configured"
	ErrCodeInvalidState   = "invalid_state"
	ErrCodeMissingCode    = "missing_code"
	ErrCodeProviderDown   = "provider_unavailable"
	ErrCodeExchangeFailed = "exchange_failed"
	ErrCodeInvalidIDToken = "invalid_id_token"
	ErrCodeUserError      = "user_error"
	ErrCodeTokenError     = "token_error"
)

// AuthResult is the outcome of an authentication attempt. It is a success when
// it carries a token; otherwise ErrorMessage says why it failed.
type AuthResult struct {
	Token              string
	NeedsRoleSelection bool
	ErrorMessage       string
}

func Success(token string, needsRoleSelection bool) *AuthResult {
	return &AuthResult{Token: token, NeedsRoleSelection: needsRoleSelection}
}

func Failure(message string) *AuthResult {
	return &AuthResult{ErrorMessage: message}
}

// OK reports whether r is a successful result. A nil result is a failure.
func (r *AuthResult) OK() bool {
	return r != nil && r.Token != ""
}

// Reason is the failure message, ErrCodeAuthFailed when none was recorded.
func (r *AuthResult) Reason() string {
	if r == nil || r.ErrorMessage == "" {
		return ErrCodeAuthFailed
	}
	return r.ErrorMessage
}
