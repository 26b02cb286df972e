package version

// Set at build time with
// -ldflags "-X github.com/hookdeck/taskd/internal/version.version=... -X ...commitSHA=..."
var (
	version     = "dev"
	commitSHA   = "unknown"
	platformSHA = "unknown"
)

// Version returns the product version of this build.
func Version() string {
	return version
}

// CommitSHA returns the commit this binary was built from.
func CommitSHA() string {
	return commitSHA
}

// PlatformSHA returns the commit of the platform bundle this build ships with.
func PlatformSHA() string {
	return platformSHA
}

// Info is the build metadata reported on startup and by GET /version.
type Info struct {
	Version     string `json:"version"`
	CommitSHA   string `json:"commit_sha"`
	PlatformSHA string `json:"platform_sha"`
}

func Get() Info {
	return Info{
		Version:     version,
		CommitSHA:   commitSHA,
		PlatformSHA: platformSHA,
	}
}
