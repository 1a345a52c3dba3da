// Package misc keeps build time information.
package misc

// Set by the linker: -X cardgen/misc.version=... -X cardgen/misc.gitHash=...
var (
	version = "dev"
	gitHash = "unknown"
)

const appName = "cardgen"

func GetAppName() string {
	return appName
}

func GetVersion() string {
	return version
}

func GetGitHash() string {
	return gitHash
}
