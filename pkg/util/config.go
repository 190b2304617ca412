package util

// PrefixConfig joins a flag prefix and an option name, tolerating an empty
// prefix so root-level configs register clean flag names.
func PrefixConfig(prefix string, option string) string {
	if len(prefix) > 0 {
		return prefix + "." + option
	}

	return option
}
