package gateway

import (
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/irensaltali/serverlessapigateway/internal/errors"
	"github.com/irensaltali/serverlessapigateway/internal/proxy/supabase"
)

var (
	errMissingContact = errors.Auth(http.StatusBadRequest, "missing_email_or_phone",
		"Email or phone is required")
	errMissingTokenOrContact = errors.Auth(http.StatusBadRequest, "missing_token_or_contact",
		"Token and email or phone are required")
	errMissingEmail = errors.Auth(http.StatusBadRequest, "missing_email",
		"Email is required")
)

// otpRequest holds the fields the passwordless endpoints read from a JSON
// body. Non-string values are ignored.
type otpRequest struct {
	Email string
	Phone string
	Token string
}

func parseOTPRequest(r *http.Request) otpRequest {
	body := readBody(r)
	if !gjson.ValidBytes(body) {
		return otpRequest{}
	}
	fields := gjson.GetManyBytes(body, "email", "phone", "token")
	str := func(res gjson.Result) string {
		if res.Type != gjson.String {
			return ""
		}
		return res.Str
	}
	return otpRequest{
		Email: str(fields[0]),
		Phone: str(fields[1]),
		Token: str(fields[2]),
	}
}

func (g *Gateway) supabaseClient() (*supabase.Client, error) {
	return supabase.New(g.lookup, g.supabaseOptions...)
}

func (g *Gateway) passwordlessAuth(x *exchange) error {
	req := parseOTPRequest(x.r)
	if req.Email == "" && req.Phone == "" {
		return errMissingContact
	}
	client, err := g.supabaseClient()
	if err != nil {
		return err
	}

	var res *supabase.Result
	if req.Email != "" {
		res, err = client.SendEmailOTP(x.r.Context(), req.Email)
	} else {
		res, err = client.SendPhoneOTP(x.r.Context(), req.Phone)
	}
	if err != nil {
		return err
	}
	x.writeResponse(jsonResponse(http.StatusOK, res))
	return nil
}

func (g *Gateway) passwordlessVerify(x *exchange) error {
	req := parseOTPRequest(x.r)
	if req.Token == "" || (req.Email == "" && req.Phone == "") {
		return errMissingTokenOrContact
	}
	client, err := g.supabaseClient()
	if err != nil {
		return err
	}
	session, err := client.VerifyOTP(x.r.Context(), req.Email, req.Phone, req.Token)
	if err != nil {
		return err
	}
	x.writeResponse(rawJSONResponse(http.StatusOK, session))
	return nil
}

func (g *Gateway) passwordlessAuthAlt(x *exchange) error {
	req := parseOTPRequest(x.r)
	if req.Email == "" {
		return errMissingEmail
	}
	client, err := g.supabaseClient()
	if err != nil {
		return err
	}
	res, err := client.SendEmailOTPAlternative(x.r.Context(), req.Email)
	if err != nil {
		return err
	}
	x.writeResponse(jsonResponse(http.StatusOK, res))
	return nil
}
