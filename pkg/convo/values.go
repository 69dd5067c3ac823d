package convo

// These accessors normalize reads from a Conversation's Context map.
// Redis-backed storage round-trips values through JSON, so a []string
// saved before a restart comes back as []any of strings and a stored
// int comes back as float64; the in-process store never incurs this
// conversion, so every read goes through these helpers regardless of
// backend to keep Flow code store-agnostic.

func GetString(ctx map[string]any, key string) string {
	v, ok := ctx[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func GetFloat64(ctx map[string]any, key string) (float64, bool) {
	v, ok := ctx[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func GetInt(ctx map[string]any, key string) (int, bool) {
	f, ok := GetFloat64(ctx, key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func GetStringSlice(ctx map[string]any, key string) []string {
	v, ok := ctx[key]
	if !ok {
		return nil
	}
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
