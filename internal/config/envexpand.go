package config

import "os"

// ExpandEnv expands environment variables in raw YAML bytes before parsing,
// supporting both ${VAR} and $VAR shell-style syntax. This is how API keys,
// tracker tokens, and broker credentials are kept out of the checked-in
// config document: the document names the environment variable, the
// environment supplies the value.
//
// Missing variables expand to the empty string; Validate() is responsible
// for catching required fields left empty by a missing variable.
func ExpandEnv(data []byte) []byte {
	return []byte(os.Expand(string(data), os.Getenv))
}
