package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"time"
)

// BuildInfo contains build metadata stamped in at release time.
type BuildInfo struct {
	Version   string    `json:"version"`
	CommitSHA string    `json:"commit_sha"`
	BuildTime time.Time `json:"build_time"`
	GoVersion string    `json:"go_version"`
	Platform  string    `json:"platform"`
}

// Default build information (overridden at build time)
var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildTime    = time.Now().UTC()
)

// SetBuildInfo records build metadata, used by build scripts via main.
func SetBuildInfo(version, commit, timeStr string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if t, err := time.Parse(time.RFC3339, timeStr); err == nil {
		buildTime = t
	}
}

// GetBuildInfo returns current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   buildVersion,
		CommitSHA: buildCommit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// IsDevelopment checks if this is a development build
func IsDevelopment() bool {
	return buildVersion == "dev"
}

// FormatInfo returns formatted build information
func FormatInfo() string {
	info := GetBuildInfo()

	result := fmt.Sprintf("topic-streams v%s\n", info.Version)
	result += fmt.Sprintf("Commit:    %s\n", info.CommitSHA)
	result += fmt.Sprintf("Build:     %s\n", info.BuildTime.Format(time.RFC3339))
	result += fmt.Sprintf("Go:        %s\n", info.GoVersion)
	result += fmt.Sprintf("Platform:  %s\n", info.Platform)
	return result
}

// FormatJSON returns build information as JSON
func FormatJSON() (string, error) {
	info := GetBuildInfo()
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
