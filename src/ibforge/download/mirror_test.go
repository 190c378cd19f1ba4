package download

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMirrorResolver_ResolveURL(t *testing.T) {
	const original = "https://downloads.openwrt.org/snapshots/targets/x86/64/sha256sums"

	tests := []struct {
		name    string
		mirrors []Mirror
		want    string
	}{
		{
			name: "no mirrors",
			want: original,
		},
		{
			name: "prefix match",
			mirrors: []Mirror{
				{Name: "lan", URLPrefix: "https://downloads.openwrt.org/", MirrorURL: "http://mirror.lan/openwrt/", Enabled: true},
			},
			want: "http://mirror.lan/openwrt/snapshots/targets/x86/64/sha256sums",
		},
		{
			name: "no match",
			mirrors: []Mirror{
				{Name: "immortal", URLPrefix: "https://downloads.immortalwrt.org/", MirrorURL: "http://mirror.lan/immortalwrt/", Enabled: true},
			},
			want: original,
		},
		{
			name: "disabled mirror ignored",
			mirrors: []Mirror{
				{Name: "off", URLPrefix: "https://downloads.openwrt.org/", MirrorURL: "http://off/", Enabled: false},
			},
			want: original,
		},
		{
			name: "lowest priority wins",
			mirrors: []Mirror{
				{Name: "second", URLPrefix: "https://downloads.openwrt.org/", MirrorURL: "http://second/", Priority: 10, Enabled: true},
				{Name: "first", URLPrefix: "https://downloads.openwrt.org/", MirrorURL: "http://first/", Priority: 1, Enabled: true},
			},
			want: "http://first/snapshots/targets/x86/64/sha256sums",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewMirrorResolver(MirrorConfig{Mirrors: tt.mirrors})
			if got := r.ResolveURL(original); got != tt.want {
				t.Errorf("ResolveURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMirrorResolver_NilSafe(t *testing.T) {
	var r *MirrorResolver
	if r.ResolveURL("x") != "x" || r.ResolveLocalPath("x", "a", "b") != "" || r.HTTPTransport() != nil {
		t.Error("nil resolver should be a no-op")
	}
	if r.HasMirrors() || r.HasLocalPath() || r.HasProxy() {
		t.Error("nil resolver has nothing configured")
	}
}

func TestMirrorResolver_ResolveLocalPath(t *testing.T) {
	dir := t.TempDir()
	url := "https://downloads.openwrt.org/releases/23.05.2/targets/x86/64/openwrt-imagebuilder-23.05.2-x86-64.Linux-x86_64.tar.xz"
	name := filepath.Base(url)

	r := NewMirrorResolver(MirrorConfig{LocalPath: dir})
	if got := r.ResolveLocalPath(url, "openwrt", "23.05.2"); got != "" {
		t.Errorf("empty mirror should miss, got %q", got)
	}

	flat := filepath.Join(dir, name)
	os.WriteFile(flat, []byte("x"), 0644)
	if got := r.ResolveLocalPath(url, "openwrt", "23.05.2"); got != flat {
		t.Errorf("flat lookup = %q, want %q", got, flat)
	}

	structured := filepath.Join(dir, "openwrt", "23.05.2", name)
	os.MkdirAll(filepath.Dir(structured), 0755)
	os.WriteFile(structured, []byte("x"), 0644)
	if got := r.ResolveLocalPath(url, "openwrt", "23.05.2"); got != structured {
		t.Errorf("structured lookup = %q, want %q", got, structured)
	}
}

func TestMirrorResolver_HTTPTransport(t *testing.T) {
	r := NewMirrorResolver(MirrorConfig{ProxyURL: "http://proxy.lan:3128"})
	if !r.HasProxy() {
		t.Fatal("HasProxy() should be true")
	}
	tr := r.HTTPTransport()
	if tr == nil || tr.Proxy == nil {
		t.Fatal("expected proxy transport")
	}

	bad := NewMirrorResolver(MirrorConfig{ProxyURL: "::not a url"})
	if bad.HTTPTransport() != nil {
		t.Error("invalid proxy should yield nil transport")
	}
}
