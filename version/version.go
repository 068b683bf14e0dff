package version

// overwritten at build time via -ldflags
var (
	Version     = "dev"
	Commit      = "none"
	Date        = "unknown"
	BuiltBy     = "dev"
	FullVersion = composeVersion()
)

func composeVersion() string {
	return Version + " (" + Commit + ")"
}
