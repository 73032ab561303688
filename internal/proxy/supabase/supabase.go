// Package supabase implements passwordless sign-in against a Supabase
// project's GoTrue auth API.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/irensaltali/serverlessapigateway/internal/errors"
)

// Environment variables naming the project.
const (
	EnvURL        = "SUPABASE_URL"
	EnvServiceKey = "SUPABASE_SERVICE_ROLE_KEY"
)

// Error codes for passwordless failures.
const (
	CodeEnvMissing   = "SUPABASE_ENV_MISSING"
	CodeSendFailed   = "SUPABASE_OTP_SEND_FAILED"
	CodeVerifyFailed = "SUPABASE_OTP_VERIFY_FAILED"
	CodeAltFailed    = "SUPABASE_OTP_ALT_FAILED"
)

const maxResponseBody = 1 << 20

// Result is the body returned to clients after an OTP send.
type Result struct {
	Message string `json:"message"`
	Note    string `json:"note,omitempty"`
}

// apiError is a non-2xx answer from the auth API.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string {
	return e.message
}

// Client calls the auth API with the service role key.
type Client struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client used for all calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client from the project environment. lookup defaults to
// os.LookupEnv.
func New(lookup func(string) (string, bool), opts ...Option) (*Client, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	baseURL, _ := lookup(EnvURL)
	key, _ := lookup(EnvServiceKey)
	if baseURL == "" || key == "" {
		return nil, errors.Config(CodeEnvMissing, "Supabase is not configured: set SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY")
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: key,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SendEmailOTP sends a one-time code to email. When the OTP endpoint
// refuses, a magic link is requested through the admin API instead.
func (c *Client) SendEmailOTP(ctx context.Context, email string) (*Result, error) {
	_, otpErr := c.post(ctx, "/auth/v1/otp", map[string]any{
		"email":       email,
		"create_user": true,
		"data":        map[string]any{},
	})
	if otpErr == nil {
		return &Result{
			Message: "Email OTP sent successfully",
			Note:    "Check your email for a 6-digit verification code (not a link)",
		}, nil
	}

	_, adminErr := c.post(ctx, "/auth/v1/admin/generate_link", map[string]any{
		"type":        "magiclink",
		"email":       email,
		"redirect_to": "otp://verify",
	})
	if adminErr == nil {
		return &Result{
			Message: "Email OTP request sent via admin API",
			Note:    "Check your email for verification code",
		}, nil
	}

	return nil, errors.Wrap(adminErr, errors.KindUpstream, http.StatusBadGateway, CodeSendFailed,
		fmt.Sprintf("Failed to send OTP: Supabase OTP Error: %s. Admin fallback failed: Admin API Error: %s",
			otpErr.Error(), adminErr.Error()))
}

// SendPhoneOTP sends a one-time code by SMS.
func (c *Client) SendPhoneOTP(ctx context.Context, phone string) (*Result, error) {
	_, err := c.post(ctx, "/auth/v1/otp", map[string]any{
		"phone":       phone,
		"create_user": true,
	})
	if err != nil {
		return nil, classify(err, http.StatusBadRequest, CodeSendFailed, "Phone OTP Error: ")
	}
	return &Result{
		Message: "SMS OTP sent successfully",
		Note:    "Check your phone for a 6-digit verification code",
	}, nil
}

// VerifyOTP checks token for the email or, when email is empty, the phone
// number and returns the resulting session.
func (c *Client) VerifyOTP(ctx context.Context, email, phone, token string) (json.RawMessage, error) {
	payload := map[string]any{"token": token}
	if email != "" {
		payload["type"] = "email"
		payload["email"] = email
	} else {
		payload["type"] = "sms"
		payload["phone"] = phone
	}

	body, err := c.post(ctx, "/auth/v1/verify", payload)
	if err != nil {
		return nil, classify(err, http.StatusUnauthorized, CodeVerifyFailed, "OTP Verification Error: ")
	}

	// The session may be wrapped or returned at the top level. A wrapped
	// null session (unconfirmed user) is relayed as null.
	if session := gjson.GetBytes(body, "session"); session.Exists() {
		if session.Type == gjson.Null {
			return json.RawMessage("null"), nil
		}
		return json.RawMessage(session.Raw), nil
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.Internal(CodeVerifyFailed, "Supabase returned an invalid session")
	}
	return json.RawMessage(body), nil
}

// SendEmailOTPAlternative signs the address up with a throwaway password,
// which makes GoTrue send a confirmation code. Addresses that already exist
// are not an error.
func (c *Client) SendEmailOTPAlternative(ctx context.Context, email string) (*Result, error) {
	_, err := c.post(ctx, "/auth/v1/signup", map[string]any{
		"email":    email,
		"password": uuid.NewString(),
		"data":     map[string]any{"otp_only": true},
	})
	if err != nil {
		var ae *apiError
		if !stderrors.As(err, &ae) || !strings.Contains(ae.message, "already registered") {
			return nil, classify(err, http.StatusBadRequest, CodeAltFailed, "Alternative OTP method failed: ")
		}
	}
	return &Result{
		Message: "Alternative OTP method attempted",
		Note:    "Check your email for verification code",
	}, nil
}

// classify maps a call failure to status for backend rejections and 502
// for transport failures.
func classify(err error, status int, code, prefix string) *errors.ClassifiedError {
	var ae *apiError
	if stderrors.As(err, &ae) {
		return errors.Wrap(err, errors.KindUpstream, status, code, prefix+ae.message)
	}
	return errors.Wrap(err, errors.KindNetwork, http.StatusBadGateway, code, prefix+err.Error())
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &apiError{status: resp.StatusCode, message: errorMessage(resp.StatusCode, body)}
	}
	return body, nil
}

// errorMessage extracts GoTrue's error text, which moved between fields
// across API versions.
func errorMessage(status int, body []byte) string {
	for _, field := range []string{"msg", "message", "error_description", "error"} {
		if v := gjson.GetBytes(body, field); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && !gjson.ValidBytes(body) {
		return text
	}
	return http.StatusText(status)
}
