package config

import "strings"

// Normalize canonicalizes legacy spellings in a decoded config tree in place:
// integration type "http" becomes "http_proxy", and entries of the legacy
// "servicesBindings" list are merged into "serviceBindings" unless their
// alias is already present.
func Normalize(root map[string]any) {
	if paths, ok := root["paths"].([]any); ok {
		for _, p := range paths {
			route, ok := p.(map[string]any)
			if !ok {
				continue
			}
			integration, ok := route["integration"].(map[string]any)
			if !ok {
				continue
			}
			if integration["type"] == string(IntegrationHTTP) {
				integration["type"] = string(IntegrationHTTPProxy)
			}
		}
	}

	primary, _ := root["serviceBindings"].([]any)
	legacy, _ := root["servicesBindings"].([]any)
	merged := make([]any, 0, len(primary)+len(legacy))
	known := make(map[string]bool, len(primary))
	for _, b := range primary {
		merged = append(merged, b)
		if alias := bindingAlias(b); alias != "" {
			known[alias] = true
		}
	}
	for _, b := range legacy {
		alias := bindingAlias(b)
		if alias == "" || known[alias] {
			continue
		}
		merged = append(merged, b)
		known[alias] = true
	}
	if len(merged) > 0 {
		root["serviceBindings"] = merged
	}
}

func bindingAlias(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m["alias"].(string)
	return s
}

// SubstituteEnv replaces every string value of the form $env.NAME,
// $secrets.NAME or $secret.NAME with the named value from lookup. Unknown
// names become the empty string. The whole string is replaced; references
// embedded in longer strings are left alone.
func SubstituteEnv(v any, lookup func(string) (string, bool)) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = SubstituteEnv(child, lookup)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = SubstituteEnv(child, lookup)
		}
		return t
	case string:
		name, ok := envReference(t)
		if !ok {
			return t
		}
		val, _ := lookup(name)
		return val
	default:
		return v
	}
}

func envReference(s string) (string, bool) {
	for _, prefix := range []string{"$env.", "$secrets.", "$secret."} {
		if strings.HasPrefix(s, prefix) {
			return s[len(prefix):], true
		}
	}
	return "", false
}
