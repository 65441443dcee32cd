package version

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/thushan/olla-link/theme"
)

var (
	Name        = "olla-link"
	ShortName   = "olla-link"
	Authors     = "Thushan Fernando"
	Description = "Find it, check it, talk to it: Ollama backend adapter"
	Version     = "v0.0.1"
	Commit      = "none"
	Date        = "nowish"
	User        = "local"
)

const (
	GithubHomeText = "github.com/thushan/olla-link"
	GithubHomeUri  = "https://github.com/thushan/olla-link"
)

// UserAgent is sent on every backend request
func UserAgent() string {
	return fmt.Sprintf("%s/%s", ShortName, Version)
}

// PrintVersionInfo writes the banner, with build details when extended
func PrintVersionInfo(extendedInfo bool, w io.Writer) {
	var b strings.Builder

	b.WriteString(theme.ColourSplash("olla-link "))
	b.WriteString(theme.ColourVersion(Version))
	b.WriteString(" ")
	b.WriteString(theme.Hyperlink(GithubHomeUri, GithubHomeText))
	b.WriteString("\n")

	if extendedInfo {
		b.WriteString(fmt.Sprintf(" Commit: %s\n", Commit))
		b.WriteString(fmt.Sprintf("  Built: %s\n", Date))
		b.WriteString(fmt.Sprintf("  Using: %s\n", User))
		b.WriteString(fmt.Sprintf("     Go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH))
	}

	_, _ = io.WriteString(w, b.String())
}
