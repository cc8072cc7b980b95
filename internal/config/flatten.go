package config

import "strings"

// dsnPrefix marks connection strings, which carry credentials.
const dsnPrefix = "database.dsns."

// IsSecretKey reports whether the dot key holds a credential: the model
// API key, the bot token, or any database connection string.
func IsSecretKey(key string) bool {
	switch key {
	case "llm.api_key", "telegram.token":
		return true
	}
	return strings.HasPrefix(key, dsnPrefix)
}

// Flatten turns nested maps into dot keys:
// {"database": {"dsns": {"HRMS_Dev": "..."}}} becomes {"database.dsns.HRMS_Dev": "..."}.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	walk(m, "", out)
	return out
}

func walk(m map[string]any, prefix string, out map[string]any) {
	for k, v := range m {
		key := join(prefix, k)
		if child, ok := v.(map[string]any); ok {
			walk(child, key, out)
			continue
		}
		out[key] = v
	}
}

func join(prefix, k string) string {
	if prefix == "" {
		return k
	}
	return prefix + "." + k
}

// Unflatten is the inverse of Flatten. A scalar standing where a nested key
// needs a map is replaced by the map, whatever order the keys come in.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range flat {
		setPath(out, strings.Split(k, "."), v)
	}
	return out
}

func setPath(m map[string]any, path []string, v any) {
	for _, part := range path[:len(path)-1] {
		child, ok := m[part].(map[string]any)
		if !ok {
			child = make(map[string]any)
			m[part] = child
		}
		m = child
	}
	last := path[len(path)-1]
	if _, isMap := m[last].(map[string]any); isMap {
		if _, ok := v.(map[string]any); !ok {
			return
		}
	}
	m[last] = v
}

// MaskSecrets copies flat with every non-empty secret string replaced by
// "***" and its last four characters.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		if s, ok := v.(string); ok && s != "" && IsSecretKey(k) {
			v = maskValue(s)
		}
		out[k] = v
	}
	return out
}

func maskValue(s string) string {
	if len(s) <= 4 {
		return "***" + s
	}
	return "***" + s[len(s)-4:]
}
