// Package versioncheck notifies users when a newer CLI release is available.
// Checks are rate limited to once per day and silent on every failure so
// they never interrupt normal CLI operation.
package versioncheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"

	"github.com/eshaffer321/crystal/cmd/crystal/cli/logging"
)

// CheckAndNotify performs a version check and notifies the user if a newer
// version is available. Silent on all errors to avoid interrupting CLI
// operations.
func CheckAndNotify(cmd *cobra.Command, currentVersion string) {
	// Skip checks for hidden commands
	if cmd.Hidden {
		return
	}

	// Skip checks for dev builds
	if currentVersion == "dev" || currentVersion == "" {
		return
	}

	if err := ensureGlobalConfigDir(); err != nil {
		// Silent failure - don't block CLI operations
		return
	}

	cache, err := loadCache()
	if err != nil {
		cache = &VersionCache{}
	}

	// Skip if we checked recently (within 24 hours)
	if time.Since(cache.LastCheckTime) < checkInterval {
		return
	}

	latestVersion, err := fetchLatestVersion()

	// Always update cache to avoid retrying on every CLI invocation
	cache.LastCheckTime = time.Now()
	if saveErr := saveCache(cache); saveErr != nil {
		logging.Debug(context.Background(), "version check: failed to save cache",
			"error", saveErr.Error())
	}

	if err != nil {
		logging.Debug(context.Background(), "version check: failed to fetch latest version",
			"error", err.Error())
		return
	}

	if isOutdated(currentVersion, latestVersion) {
		printNotification(cmd, currentVersion, latestVersion)
	}
}

// globalConfigDirPath returns the expanded path to the global config directory (~/.config/crystal).
func globalConfigDirPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, globalConfigDirName), nil
}

// ensureGlobalConfigDir creates the global config directory if it doesn't exist.
func ensureGlobalConfigDir() error {
	configDir, err := globalConfigDirPath()
	if err != nil {
		return err
	}

	//nolint:gosec // ~/.config/crystal is user home directory, 0o755 is appropriate
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	return nil
}

// cacheFilePath returns the full path to the version check cache file.
func cacheFilePath() (string, error) {
	configDir, err := globalConfigDirPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, cacheFileName), nil
}

// loadCache loads the version check cache from disk.
// Returns an error if the file doesn't exist or is corrupted.
func loadCache() (*VersionCache, error) {
	filePath, err := cacheFilePath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath) //nolint:gosec // cacheFilePath is safe
	if err != nil {
		return nil, fmt.Errorf("reading cache file: %w", err)
	}

	var cache VersionCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("parsing cache: %w", err)
	}

	return &cache, nil
}

// saveCache saves the version check cache to disk.
// Uses atomic write semantics (write to temp file, then rename).
func saveCache(cache *VersionCache) error {
	filePath, err := cacheFilePath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache: %w", err)
	}

	dir := filepath.Dir(filePath)
	tmpFile, err := os.CreateTemp(dir, ".version_check_tmp_")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close() // cleanup on error path
		return fmt.Errorf("writing cache: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpFile.Name(), filePath); err != nil {
		return fmt.Errorf("renaming cache file: %w", err)
	}

	return nil
}

// fetchLatestVersion fetches the latest version from the GitHub API.
func fetchLatestVersion() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), httpTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, githubAPIURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "crystal-cli")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching release info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	// Read response body (limit to 1MB to prevent memory exhaustion)
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	version, err := parseGitHubRelease(body)
	if err != nil {
		return "", fmt.Errorf("parsing release: %w", err)
	}

	return version, nil
}

// parseGitHubRelease parses the GitHub API response and extracts the latest
// stable version. Filters out prerelease versions.
func parseGitHubRelease(body []byte) (string, error) {
	var release GitHubRelease
	if err := json.Unmarshal(body, &release); err != nil {
		return "", fmt.Errorf("parsing JSON: %w", err)
	}

	if release.Prerelease {
		return "", errors.New("only prerelease versions available")
	}

	if release.TagName == "" {
		return "", errors.New("empty tag name")
	}

	return release.TagName, nil
}

// isOutdated compares current and latest versions using semantic versioning.
// Returns true if current < latest.
func isOutdated(current, latest string) bool {
	// Ensure versions have "v" prefix for semver package
	if !strings.HasPrefix(current, "v") {
		current = "v" + current
	}
	if !strings.HasPrefix(latest, "v") {
		latest = "v" + latest
	}

	return semver.Compare(current, latest) < 0
}

// printNotification prints the version update notification to the user.
func printNotification(cmd *cobra.Command, current, latest string) {
	msg := fmt.Sprintf("\nA newer version of Crystal CLI is available: %s (current: %s)\nRun 'go install github.com/eshaffer321/crystal/cmd/crystal@latest' to update.\n",
		latest, current)
	fmt.Fprint(cmd.OutOrStdout(), msg)
}
