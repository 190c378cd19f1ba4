package download

import (
	"net/http"
	"net/url"
	"os"
	urlpath "path"
	"path/filepath"
	"sort"
	"strings"
)

// Mirror rewrites download URLs that start with URLPrefix to MirrorURL.
type Mirror struct {
	Name      string `mapstructure:"name"`
	URLPrefix string `mapstructure:"url_prefix"`
	MirrorURL string `mapstructure:"mirror_url"`
	Priority  int    `mapstructure:"priority"`
	Enabled   bool   `mapstructure:"enabled"`
}

// MirrorConfig holds global mirror/proxy settings
type MirrorConfig struct {
	ProxyURL  string   // HTTP(S) proxy URL for all downloads
	LocalPath string   // Local directory for offline mirror
	Mirrors   []Mirror // URL prefix rewrites
}

// MirrorResolver resolves download URLs through configured mirrors and proxies.
type MirrorResolver struct {
	mirrors []Mirror
	config  MirrorConfig
}

// NewMirrorResolver creates a new mirror resolver
func NewMirrorResolver(cfg MirrorConfig) *MirrorResolver {
	// Lower priority is tried first
	sorted := make([]Mirror, len(cfg.Mirrors))
	copy(sorted, cfg.Mirrors)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	return &MirrorResolver{
		mirrors: sorted,
		config:  cfg,
	}
}

// ResolveURL returns the URL rewritten by the first matching enabled
// mirror, or the original URL when none match.
func (r *MirrorResolver) ResolveURL(originalURL string) string {
	if r == nil {
		return originalURL
	}
	for _, m := range r.mirrors {
		if !m.Enabled || m.URLPrefix == "" {
			continue
		}
		if strings.HasPrefix(originalURL, m.URLPrefix) {
			mirrored := m.MirrorURL + strings.TrimPrefix(originalURL, m.URLPrefix)
			log.Debug("Mirror URL resolved",
				"original", originalURL,
				"mirror", m.Name,
				"resolved", mirrored)
			return mirrored
		}
	}
	return originalURL
}

// ResolveLocalPath checks the offline mirror for the URL's file name.
// Both {LocalPath}/{distro}/{branch}/{filename} and {LocalPath}/{filename}
// are checked, structured first. Returns "" when not found.
func (r *MirrorResolver) ResolveLocalPath(originalURL, distro, branch string) string {
	if r == nil || r.config.LocalPath == "" {
		return ""
	}

	filename := urlpath.Base(originalURL)
	if filename == "" || filename == "." || filename == "/" {
		return ""
	}

	structuredPath := filepath.Join(r.config.LocalPath, distro, branch, filename)
	if info, err := os.Stat(structuredPath); err == nil && info.Mode().IsRegular() {
		log.Debug("Local mirror hit (structured)", "path", structuredPath)
		return structuredPath
	}

	flatPath := filepath.Join(r.config.LocalPath, filename)
	if info, err := os.Stat(flatPath); err == nil && info.Mode().IsRegular() {
		log.Debug("Local mirror hit (flat)", "path", flatPath)
		return flatPath
	}

	return ""
}

// HTTPTransport returns a transport routed through the configured proxy,
// or nil when no (valid) proxy is configured.
func (r *MirrorResolver) HTTPTransport() *http.Transport {
	if r == nil || r.config.ProxyURL == "" {
		return nil
	}

	proxyURL, err := url.Parse(r.config.ProxyURL)
	if err != nil || proxyURL.Host == "" {
		log.Warn("Invalid proxy URL", "url", r.config.ProxyURL, "error", err)
		return nil
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = http.ProxyURL(proxyURL)
	return transport
}

// HasMirrors returns true if any mirrors are configured
func (r *MirrorResolver) HasMirrors() bool {
	return r != nil && len(r.mirrors) > 0
}

// HasLocalPath returns true if a local mirror path is configured
func (r *MirrorResolver) HasLocalPath() bool {
	return r != nil && r.config.LocalPath != ""
}

// HasProxy returns true if a proxy URL is configured
func (r *MirrorResolver) HasProxy() bool {
	return r != nil && r.config.ProxyURL != ""
}
