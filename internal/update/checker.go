// Package update checks GitHub releases for a newer transcriptor version.
// It only reports availability; installation stays in the user's hands.
package update

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Release is the subset of a GitHub release the checker cares about.
type Release struct {
	TagName    string    `json:"tag_name"`
	Name       string    `json:"name"`
	Published  time.Time `json:"published_at"`
	HTMLURL    string    `json:"html_url"`
	Prerelease bool      `json:"prerelease"`
	Draft      bool      `json:"draft"`
}

// Checker queries the GitHub releases API for a repository.
type Checker struct {
	current string
	apiURL  string
	client  *http.Client
}

// NewChecker creates a checker for owner/repo against the running version.
func NewChecker(owner, repo, currentVersion string) *Checker {
	return &Checker{
		current: currentVersion,
		apiURL:  fmt.Sprintf("https://api.github.com/repos/%s/%s", owner, repo),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// LatestRelease fetches the latest stable (non-prerelease, non-draft)
// release.
func (c *Checker) LatestRelease() (*Release, error) {
	resp, err := c.client.Get(c.apiURL + "/releases/latest")
	if err != nil {
		return nil, fmt.Errorf("fetching release: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github API returned status %d", resp.StatusCode)
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("parsing release: %w", err)
	}
	return &release, nil
}

// Check reports whether a newer version than the running one has been
// released. The release is returned only when an update is available.
func (c *Checker) Check() (bool, *Release, error) {
	release, err := c.LatestRelease()
	if err != nil {
		return false, nil, err
	}

	latest := normalizeVersion(strings.TrimPrefix(release.TagName, "v"))
	current := normalizeVersion(strings.TrimPrefix(c.current, "v"))

	if isNewer(latest, current) {
		return true, release, nil
	}
	return false, nil, nil
}

// gitDescribeSuffix matches the "-N-g<hash>" and "-dirty" suffixes git
// describe appends to a tagged version. Real prerelease tags (rc, beta,
// dev) are kept.
var gitDescribeSuffix = regexp.MustCompile(`(-\d+-g[0-9a-f]+)?(-dirty)?$`)

// normalizeVersion strips git describe noise from a version string so a
// locally built "0.3.0-2-g5ea24ba-dirty" compares as "0.3.0".
func normalizeVersion(v string) string {
	return gitDescribeSuffix.ReplaceAllString(v, "")
}

// isNewer reports whether version1 > version2, comparing dot-separated
// numeric parts left to right.
func isNewer(version1, version2 string) bool {
	parts1 := strings.Split(version1, ".")
	parts2 := strings.Split(version2, ".")

	for i := 0; i < len(parts1) && i < len(parts2); i++ {
		var v1, v2 int
		if _, err := fmt.Sscanf(parts1[i], "%d", &v1); err != nil {
			v1 = 0
		}
		if _, err := fmt.Sscanf(parts2[i], "%d", &v2); err != nil {
			v2 = 0
		}

		if v1 > v2 {
			return true
		}
		if v1 < v2 {
			return false
		}
	}

	return len(parts1) > len(parts2)
}
