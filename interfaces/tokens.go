package interfaces

import "context"

// Token is the view of an authentication token the container core needs.
// Token lifecycle (enrollment, counters, push transport) lives in the token
// layer and is out of scope here.
type Token interface {
	// Serial returns the unique token serial.
	Serial() string
	// Type returns the token type tag, e.g. "hotp" or "totp".
	Type() string
	// AsDict returns the full token detail serialization. The map uses the
	// token layer's field names; notably the event counter is exposed as
	// "count" and an "info" sub-map may carry sensitive keys.
	AsDict() map[string]any
}

// TokenService is the contract to the token layer.
type TokenService interface {
	// GetToken looks up a single token by serial. Returns
	// ErrResourceNotFound if no such token exists.
	GetToken(ctx context.Context, serial string) (Token, error)
	// GetTokens returns all tokens of the given type. An empty type returns
	// all tokens.
	GetTokens(ctx context.Context, tokenType string) ([]Token, error)
	// GetSerialByOTP returns the serials among the candidate tokens whose
	// OTP sequence matches the provided consecutive values.
	GetSerialByOTP(ctx context.Context, candidates []Token, otp []string) ([]string, error)
}
