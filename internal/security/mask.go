package security

// MaskKey shows only the first 8 and last 4 characters of a secret.
// Format: "sk-ant-s...abcd". Short values are fully hidden.
func MaskKey(key string) string {
	if len(key) <= 12 {
		return "***"
	}
	return key[:8] + "..." + key[len(key)-4:]
}

// MaskKeyShort keeps only the last 4 characters, for console lines.
func MaskKeyShort(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return "..." + key[len(key)-4:]
}
