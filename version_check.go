package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"

	"github.com/doananhminh-dev/Class-calm/internal/types"
	"github.com/doananhminh-dev/Class-calm/internal/util"
)

const (
	releasesURL          = "https://api.github.com/repos/doananhminh-dev/Class-calm/releases/latest"
	versionCheckInterval = 24 * time.Hour
	versionCheckDelay    = 30 * time.Second // Keeps the first request off the startup path
	versionCheckTimeout  = 30 * time.Second
	versionMaxRetries    = 3
	versionRetryDelay    = 1 * time.Minute
	versionRetryMaxDelay = 10 * time.Minute
)

// errRetryable marks release check failures worth another attempt.
var errRetryable = errors.New("retryable release check failure")

// VersionChecker polls the release feed and reports update availability.
// It is safe for concurrent use.
type VersionChecker struct {
	url        string
	client     *http.Client
	retryDelay time.Duration

	mu     sync.RWMutex
	latest string
	etag   string // For conditional requests (304 Not Modified)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewVersionChecker starts a checker against the public release feed.
func NewVersionChecker() *VersionChecker {
	vc := newVersionChecker(releasesURL, &http.Client{Timeout: versionCheckTimeout})
	ctx, cancel := context.WithCancel(context.Background())
	vc.cancel = cancel
	go vc.run(ctx)
	return vc
}

func newVersionChecker(url string, client *http.Client) *VersionChecker {
	return &VersionChecker{
		url:        url,
		client:     client,
		retryDelay: versionRetryDelay,
		done:       make(chan struct{}),
	}
}

// Stop stops the background checks and waits for the loop to exit.
func (vc *VersionChecker) Stop() {
	if vc.cancel == nil {
		return
	}
	vc.cancel()
	<-vc.done
}

func (vc *VersionChecker) run(ctx context.Context) {
	defer close(vc.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in version checker", "panic", r)
		}
	}()

	select {
	case <-time.After(versionCheckDelay):
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(versionCheckInterval)
	defer ticker.Stop()

	for {
		vc.checkWithRetry(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// checkWithRetry runs check up to versionMaxRetries times with growing delays.
func (vc *VersionChecker) checkWithRetry(ctx context.Context) {
	backoff := util.NewBackoff(vc.retryDelay, versionRetryMaxDelay)
	for attempt := range versionMaxRetries {
		err := vc.check(ctx)
		if err == nil {
			return
		}
		if !errors.Is(err, errRetryable) || attempt == versionMaxRetries-1 {
			slog.Debug("version check failed", "error", err)
			return
		}
		if backoff.Wait(ctx) != nil {
			return
		}
	}
}

// githubRelease is the subset of the release payload the checker reads.
type githubRelease struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// check fetches the latest release once.
func (vc *VersionChecker) check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, vc.url, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "class-calm/"+Version)

	vc.mu.RLock()
	etag := vc.etag
	vc.mu.RUnlock()
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := vc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", errRetryable, err)
	}
	defer util.SafeCloseFunc(resp.Body, "release response")()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotModified, resp.StatusCode == http.StatusNotFound:
		// Nothing new, or no releases published yet.
		return nil
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", errRetryable, resp.StatusCode)
	default:
		return fmt.Errorf("release check: status %d", resp.StatusCode)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return fmt.Errorf("%w: decode release: %w", errRetryable, err)
	}
	if release.Draft || release.Prerelease {
		return nil
	}
	if release.TagName == "" {
		return fmt.Errorf("%w: release without tag", errRetryable)
	}

	vc.mu.Lock()
	vc.latest = normalizeVersion(release.TagName)
	if newEtag := resp.Header.Get("ETag"); newEtag != "" {
		vc.etag = newEtag
	}
	vc.mu.Unlock()
	return nil
}

// Info returns the current version info for the dashboard.
func (vc *VersionChecker) Info() types.VersionInfo {
	vc.mu.RLock()
	defer vc.mu.RUnlock()

	current := normalizeVersion(Version)
	info := types.VersionInfo{
		Current:   current,
		Latest:    vc.latest,
		Commit:    Commit,
		BuildTime: util.FormatBuildTime(BuildTime),
	}
	if vc.latest != "" {
		info.UpdateAvail = isNewerVersion(vc.latest, current)
	}
	return info
}

// normalizeVersion strips whitespace and a leading "v".
func normalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// isNewerVersion reports whether latest is a newer semver than current.
// Development builds never report an update.
func isNewerVersion(latest, current string) bool {
	latestCanon := "v" + normalizeVersion(latest)
	currentCanon := "v" + normalizeVersion(current)
	if !semver.IsValid(latestCanon) || !semver.IsValid(currentCanon) {
		return false
	}
	return semver.Compare(latestCanon, currentCanon) > 0
}
