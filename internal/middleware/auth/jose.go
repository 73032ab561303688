package auth

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/irensaltali/serverlessapigateway/internal/errors"
)

// Verification failures raised by this package. They sit alongside the
// golang-jwt sentinels in joseErrorMappings.
var (
	errAlgNotAllowed        = stderrors.New("algorithm not allowed")
	errJWEDecryptionFailed  = stderrors.New("jwe decryption failed")
	errJWEInvalid           = stderrors.New("encrypted tokens are not accepted")
	errNoMatchingKey        = stderrors.New("no matching key in jwks")
	errInvalidJWKS          = stderrors.New("invalid jwks")
	errMultipleMatchingKeys = stderrors.New("multiple matching keys in jwks")
	errJWSInvalid           = stderrors.New("invalid compact jws")
	errUnexpected           = stderrors.New("unexpected verification failure")
)

type joseMapping struct {
	target  error
	message string
	code    string
}

// joseErrorMappings is checked in order; the first entry in the chain wins.
// Expiry precedes claim validation because golang-jwt reports an expired
// token as both.
var joseErrorMappings = []joseMapping{
	{errAlgNotAllowed, "Algorithm not allowed", "ERR_JOSE_ALG_NOT_ALLOWED"},
	{errJWEDecryptionFailed, "Decryption failed", "ERR_JWE_DECRYPTION_FAILED"},
	{errJWEInvalid, "Invalid JWE", "ERR_JWE_INVALID"},
	{jwt.ErrTokenExpired, "Token has expired.", "ERR_JWT_EXPIRED"},
	{jwt.ErrTokenInvalidClaims, "JWT claim validation failed", "ERR_JWT_CLAIM_VALIDATION_FAILED"},
	{jwt.ErrTokenMalformed, "Invalid JWT", "ERR_JWT_INVALID"},
	{errNoMatchingKey, "No matching key found in JWKS.", "ERR_JWKS_NO_MATCHING_KEY"},
	{errInvalidJWKS, "Invalid JWKS", "ERR_JWKS_INVALID"},
	{errMultipleMatchingKeys, "Multiple matching keys found in JWKS.", "ERR_JWKS_MULTIPLE_MATCHING_KEYS"},
	{errJWSInvalid, "Invalid JWS", "ERR_JWS_INVALID"},
	{jwt.ErrTokenSignatureInvalid, "Signature verification failed", "ERR_JWS_SIGNATURE_VERIFICATION_FAILED"},
}

// Codes callers match on.
const (
	CodeAuthError   = "AUTH_ERROR"
	CodeConfigError = "AUTH_CONFIG_ERROR"
	CodeExpired     = "ERR_JWT_EXPIRED"
)

// classifyJOSE maps a verification failure to its stable 401 error.
func classifyJOSE(err error) *errors.ClassifiedError {
	if ce, ok := errors.As(err); ok {
		return ce
	}
	for _, m := range joseErrorMappings {
		if stderrors.Is(err, m.target) {
			return errors.Wrap(err, errors.KindAuth, http.StatusUnauthorized, m.code, m.message)
		}
	}
	if stderrors.Is(err, errUnexpected) {
		return errors.Wrap(err, errors.KindAuth, http.StatusUnauthorized, CodeAuthError,
			"JWT verification failed due to an unexpected error.")
	}
	return errors.Wrap(err, errors.KindAuth, http.StatusUnauthorized, CodeAuthError, "JWT verification failed")
}

// checkCompact rejects tokens that are not three-part compact JWS.
func checkCompact(token string) error {
	switch strings.Count(token, ".") {
	case 2:
		return nil
	case 4:
		return errJWEInvalid
	default:
		return errJWSInvalid
	}
}

// parse verifies token with keyFunc and returns its claims. Numbers in the
// payload are decoded as json.Number. A panic inside verification is
// reported as errUnexpected.
func parse(token string, keyFunc jwt.Keyfunc, opts ...jwt.ParserOption) (claims jwt.MapClaims, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errUnexpected, r)
		}
	}()

	claims = jwt.MapClaims{}
	opts = append(opts, jwt.WithJSONNumber())
	_, err = jwt.ParseWithClaims(token, claims, keyFunc, opts...)
	return claims, err
}
