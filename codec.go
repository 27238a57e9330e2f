package guard

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// DecodeStatus classifies the outcome of decoding a token.
type DecodeStatus int

const (
	TokenValid DecodeStatus = iota
	TokenExpired
	TokenMalformed
	TokenSignatureInvalid
)

func (s DecodeStatus) String() string {
	switch s {
	case TokenValid:
		return "valid"
	case TokenExpired:
		return "expired"
	case TokenMalformed:
		return "malformed"
	case TokenSignatureInvalid:
		return "signature-invalid"
	}
	return "unknown"
}

// DecodeResult is the total outcome of a decode. Invalid tokens are expected
// traffic, not errors: Reason exists for logging only and must never drive
// response bodies.
type DecodeResult struct {
	Claims Claims
	Status DecodeStatus
	Reason error
}

// Valid reports whether the token decoded, verified, and is unexpired.
func (r DecodeResult) Valid() bool {
	return r.Status == TokenValid
}

// TokenCodec encodes and decodes signed, expiring tokens.
type TokenCodec interface {
	Encode(claims Claims, secretKey, algorithm string) (string, error)
	Decode(token, secretKey, algorithm string) DecodeResult
}

// JWTCodec implements TokenCodec over HMAC-signed JWTs.
type JWTCodec struct {
	logger   Logger
	timeFunc func() time.Time
}

var _ TokenCodec = (*JWTCodec)(nil)

// CodecOption configures a JWTCodec.
type CodecOption func(*JWTCodec)

// WithCodecClock overrides the time source used to judge expiry.
func WithCodecClock(now func() time.Time) CodecOption {
	return func(c *JWTCodec) {
		if now != nil {
			c.timeFunc = now
		}
	}
}

// NewJWTCodec returns a codec. A nil logger falls back to the default.
func NewJWTCodec(logger Logger, opts ...CodecOption) *JWTCodec {
	if logger == nil {
		logger = defLogger{}
	}
	c := &JWTCodec{logger: logger, timeFunc: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode signs the claims with the given secret and algorithm. The expiry
// must already be embedded in the claims.
func (c *JWTCodec) Encode(claims Claims, secretKey, algorithm string) (string, error) {
	method := jwt.GetSigningMethod(algorithm)
	if method == nil {
		return "", goerrors.New(fmt.Sprintf("unknown signing algorithm %q", algorithm), goerrors.CategoryValidation).
			WithTextCode(TextCodeConfiguration)
	}
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return "", goerrors.New(fmt.Sprintf("algorithm %q is not supported for local signing", algorithm), goerrors.CategoryValidation).
			WithTextCode(TextCodeConfiguration)
	}

	token := jwt.NewWithClaims(method, jwt.MapClaims(claims))
	signed, err := token.SignedString([]byte(secretKey))
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign token")
	}
	return signed, nil
}

// Decode verifies a token against the secret and algorithm. It is a total
// function: forged, malformed, and expired tokens produce a non-valid result,
// never an error.
func (c *JWTCodec) Decode(tokenString, secretKey, algorithm string) DecodeResult {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return []byte(secretKey), nil
	}, jwt.WithValidMethods([]string{algorithm}), jwt.WithTimeFunc(c.timeFunc))

	if err != nil {
		status := TokenMalformed
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			status = TokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			status = TokenSignatureInvalid
		}
		c.logger.Debug("token decode rejected: %s: %v", status, err)
		return DecodeResult{Status: status, Reason: err}
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		c.logger.Debug("token decode produced no usable claims")
		return DecodeResult{Status: TokenMalformed, Reason: errors.New("unusable claims")}
	}

	return DecodeResult{Claims: Claims(mapClaims), Status: TokenValid}
}
