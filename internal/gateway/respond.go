package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/irensaltali/serverlessapigateway/internal/registry"
)

const (
	contentTypeJSON = "application/json"
	contentTypeText = "text/plain; charset=utf-8"
)

// Normalize turns a value returned by a service or binding into a
// response.
//
//   - *registry.Response passes through.
//   - nil is an empty 200.
//   - A string is a 200 text body.
//   - An object with an "error" field becomes {"status":"error"} with
//     its statusCode, or 500.
//   - Any other object becomes {"status":"success","data":...} with its
//     statusCode, or 200.
//   - Anything else is an empty 400.
//
// Structs are treated as the object they encode to.
func Normalize(v any) *registry.Response {
	switch t := v.(type) {
	case *registry.Response:
		if t == nil {
			return &registry.Response{Status: http.StatusOK}
		}
		return t
	case registry.Response:
		return &t
	case nil:
		return &registry.Response{Status: http.StatusOK}
	case string:
		return textResponse(http.StatusOK, t)
	case map[string]any:
		return objectResponse(t)
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(t, &decoded); err != nil {
			return &registry.Response{Status: http.StatusBadRequest}
		}
		if decoded == nil {
			return &registry.Response{Status: http.StatusOK}
		}
		return Normalize(decoded)
	case bool, float64, float32, int, int64, int32, uint, uint64, uint32, []any:
		return &registry.Response{Status: http.StatusBadRequest}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return &registry.Response{Status: http.StatusBadRequest}
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return &registry.Response{Status: http.StatusBadRequest}
	}
	return objectResponse(obj)
}

func objectResponse(obj map[string]any) *registry.Response {
	message, hasMessage := obj["message"]

	if errValue, failed := obj["error"]; failed {
		body := map[string]any{"status": "error", "error": errValue}
		if hasMessage {
			body["message"] = message
		}
		return jsonResponse(statusCode(obj, http.StatusInternalServerError), body)
	}

	data := make(map[string]any, len(obj))
	for k, v := range obj {
		if k == "message" || k == "statusCode" {
			continue
		}
		data[k] = v
	}
	body := map[string]any{"status": "success", "data": data}
	if hasMessage {
		body["message"] = message
	}
	return jsonResponse(statusCode(obj, http.StatusOK), body)
}

// statusCode reads an embedded statusCode field, falling back to def when
// it is absent or not a valid HTTP status.
func statusCode(obj map[string]any, def int) int {
	var code int
	switch v := obj["statusCode"].(type) {
	case float64:
		code = int(v)
	case int:
		code = v
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return def
		}
		code = int(n)
	default:
		return def
	}
	if code < 100 || code > 599 {
		return def
	}
	return code
}

func jsonResponse(status int, v any) *registry.Response {
	body, err := json.Marshal(v)
	if err != nil {
		return &registry.Response{Status: http.StatusInternalServerError}
	}
	return &registry.Response{
		Status: status,
		Header: http.Header{"Content-Type": {contentTypeJSON}},
		Body:   body,
	}
}

func rawJSONResponse(status int, body []byte) *registry.Response {
	return &registry.Response{
		Status: status,
		Header: http.Header{"Content-Type": {contentTypeJSON}},
		Body:   body,
	}
}

func textResponse(status int, s string) *registry.Response {
	return &registry.Response{
		Status: status,
		Header: http.Header{"Content-Type": {contentTypeText}},
		Body:   []byte(s),
	}
}
