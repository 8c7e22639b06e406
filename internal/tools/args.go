package tools

// Argument accessors for tool bodies. The registry has already validated
// required fields and types, so these only normalize JSON decoding quirks
// (numbers arrive as float64) and supply defaults for optional fields.

// StringArg returns a string argument or def when absent.
func StringArg(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return def
}

// IntArg returns an integer argument or def when absent. JSON numbers decode
// as float64; whole floats are accepted.
func IntArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// BoolArg returns a boolean argument or def when absent.
func BoolArg(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}
