// Package buildinfo carries version metadata stamped at link time via -ldflags.
package buildinfo

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

func Info() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
	}
}

// UserAgent is sent on every outbound webhook request.
func UserAgent() string {
	return "hookrelay/" + Version
}
