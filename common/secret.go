package common

const secretMask = "******"

// MaskSecret returns a masked placeholder for secrets so configuration
// reads never echo upstream credentials.
func MaskSecret(value string) string {
	if value == "" {
		return ""
	}
	return secretMask
}
