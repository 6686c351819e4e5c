package versioncheck

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestIsOutdated(t *testing.T) {
	tests := []struct {
		current string
		latest  string
		want    bool
		desc    string
	}{
		{"1.0.0", "1.0.1", true, "patch version bump"},
		{"1.0.0", "1.1.0", true, "minor version bump"},
		{"1.0.0", "2.0.0", true, "major version bump"},
		{"1.0.1", "1.0.0", false, "current is newer"},
		{"2.0.0", "1.9.9", false, "current major is higher"},
		{"1.0.0", "1.0.0", false, "same version"},
		{"v1.0.0", "v1.0.1", true, "with v prefix"},
		{"v1.0.0", "1.0.1", true, "mixed v prefix"},
		{"1.0.0", "v1.0.1", true, "mixed v prefix reversed"},
		{"1.0.0-rc1", "1.0.0", true, "prerelease in current"},
		{"1.0.0", "1.0.1-rc1", true, "prerelease in latest is still newer"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got := isOutdated(tt.current, tt.latest)
			if got != tt.want {
				t.Errorf("isOutdated(%q, %q) = %v, want %v", tt.current, tt.latest, got, tt.want)
			}
		})
	}
}

func TestCacheReadWrite(t *testing.T) {
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, globalConfigDirName)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	originalCache := &Cache{LastCheckTime: time.Now().Round(time.Second)}

	filePath := filepath.Join(configDir, cacheFileName)
	data, err := json.MarshalIndent(originalCache, "", "  ")
	if err != nil {
		t.Fatalf("json.MarshalIndent() error = %v", err)
	}
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	loadedData, err := os.ReadFile(filePath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	var loaded Cache
	if err := json.Unmarshal(loadedData, &loaded); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}

	if loaded.LastCheckTime.Sub(originalCache.LastCheckTime).Abs() > time.Second {
		t.Errorf("LastCheckTime = %v, want %v", loaded.LastCheckTime, originalCache.LastCheckTime)
	}
}

func TestFetchLatestVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/vnd.github+json" {
			t.Errorf("Accept header = %q, want application/vnd.github+json", r.Header.Get("Accept"))
		}
		if r.Header.Get("User-Agent") != "pi-trace" {
			t.Errorf("User-Agent header = %q, want pi-trace", r.Header.Get("User-Agent"))
		}

		release := gitHubRelease{TagName: "v1.2.3", Prerelease: false}
		w.Header().Set("Content-Type", "application/json")
		//nolint:errcheck // test helper, encoding error is acceptable
		json.NewEncoder(w).Encode(release)
	}))
	defer server.Close()

	original := githubAPIURL
	githubAPIURL = server.URL
	t.Cleanup(func() { githubAPIURL = original })

	version, err := fetchLatestVersion(context.Background())
	if err != nil {
		t.Fatalf("fetchLatestVersion() error = %v", err)
	}
	if version != "v1.2.3" {
		t.Errorf("fetchLatestVersion() = %q, want v1.2.3", version)
	}
}

func TestFetchLatestVersionPrerelease(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		release := gitHubRelease{TagName: "v2.0.0-rc1", Prerelease: true}
		w.Header().Set("Content-Type", "application/json")
		//nolint:errcheck // test helper, encoding error is acceptable
		json.NewEncoder(w).Encode(release)
	}))
	defer server.Close()

	original := githubAPIURL
	githubAPIURL = server.URL
	t.Cleanup(func() { githubAPIURL = original })

	_, err := fetchLatestVersion(context.Background())
	if err == nil {
		t.Fatal("fetchLatestVersion() expected error for prerelease, got nil")
	}
}

func TestFetchLatestVersionServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	original := githubAPIURL
	githubAPIURL = server.URL
	t.Cleanup(func() { githubAPIURL = original })

	_, err := fetchLatestVersion(context.Background())
	if err == nil {
		t.Fatal("fetchLatestVersion() expected error for 500 response, got nil")
	}
}

func TestParseGitHubRelease(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"valid release", `{"tag_name": "v1.2.3", "prerelease": false}`, "v1.2.3", false},
		{"prerelease", `{"tag_name": "v2.0.0-rc1", "prerelease": true}`, "", true},
		{"empty tag", `{"tag_name": "", "prerelease": false}`, "", true},
		{"invalid json", `not json`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseGitHubRelease([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Errorf("parseGitHubRelease() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("parseGitHubRelease() = %q, want %q", got, tt.want)
			}
		})
	}
}

// setupCheckAndNotifyTest sets HOME to a temp dir and overrides githubAPIURL.
func setupCheckAndNotifyTest(t *testing.T, serverURL string) *bytes.Buffer {
	t.Helper()

	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	origURL := githubAPIURL
	githubAPIURL = serverURL
	t.Cleanup(func() { githubAPIURL = origURL })

	return &bytes.Buffer{}
}

func newVersionServer(t *testing.T, version string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		release := gitHubRelease{TagName: version, Prerelease: false}
		w.Header().Set("Content-Type", "application/json")
		//nolint:errcheck // test helper
		json.NewEncoder(w).Encode(release)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestCheckAndNotify_SkipsDevVersion(t *testing.T) {
	server := newVersionServer(t, "v9.9.9")
	buf := setupCheckAndNotifyTest(t, server.URL)

	CheckAndNotify(context.Background(), buf, "dev")

	if buf.Len() != 0 {
		t.Errorf("expected no output for dev version, got %q", buf.String())
	}
}

func TestCheckAndNotify_SkipsEmptyVersion(t *testing.T) {
	server := newVersionServer(t, "v9.9.9")
	buf := setupCheckAndNotifyTest(t, server.URL)

	CheckAndNotify(context.Background(), buf, "")

	if buf.Len() != 0 {
		t.Errorf("expected no output for empty version, got %q", buf.String())
	}
}

func TestCheckAndNotify_SkipsWhenCacheIsFresh(t *testing.T) {
	server := newVersionServer(t, "v9.9.9")
	buf := setupCheckAndNotifyTest(t, server.URL)

	configDir, err := globalConfigDirPath()
	if err != nil {
		t.Fatalf("globalConfigDirPath() error = %v", err)
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	cache := &Cache{LastCheckTime: time.Now()}
	if err := saveCache(cache); err != nil {
		t.Fatalf("saveCache() error = %v", err)
	}

	CheckAndNotify(context.Background(), buf, "1.0.0")

	if buf.Len() != 0 {
		t.Errorf("expected no output when cache is fresh, got %q", buf.String())
	}
}

func TestCheckAndNotify_PrintsNotificationWhenOutdated(t *testing.T) {
	server := newVersionServer(t, "v2.0.0")
	buf := setupCheckAndNotifyTest(t, server.URL)

	CheckAndNotify(context.Background(), buf, "1.0.0")

	output := buf.String()
	if !strings.Contains(output, "v2.0.0") {
		t.Errorf("expected notification with latest version, got %q", output)
	}
	if !strings.Contains(output, "1.0.0") {
		t.Errorf("expected notification with current version, got %q", output)
	}
}

func TestCheckAndNotify_NoNotificationWhenUpToDate(t *testing.T) {
	server := newVersionServer(t, "v1.0.0")
	buf := setupCheckAndNotifyTest(t, server.URL)

	CheckAndNotify(context.Background(), buf, "1.0.0")

	if buf.Len() != 0 {
		t.Errorf("expected no output when up to date, got %q", buf.String())
	}
}

func TestCheckAndNotify_FetchFailureUpdatesCacheToPreventRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	buf := setupCheckAndNotifyTest(t, server.URL)

	CheckAndNotify(context.Background(), buf, "1.0.0")

	if buf.Len() != 0 {
		t.Errorf("expected no output on fetch failure, got %q", buf.String())
	}

	cache, err := loadCache()
	if err != nil {
		t.Fatalf("loadCache() error = %v", err)
	}
	if time.Since(cache.LastCheckTime) > time.Minute {
		t.Errorf("cache LastCheckTime not updated after fetch failure: %v", cache.LastCheckTime)
	}
}
