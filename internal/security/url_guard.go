// Package security はURL検証とHTMLサニタイズを提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// URLGuard は外部URLの安全性検証のインターフェース。
// データソースへのHTTPクライアント生成と、レコードに含まれるリンクの静的検証に使う。
type URLGuard interface {
	// NewSafeClient はプライベートIP・ループバック・メタデータIPへの接続を
	// ダイヤル時に拒否するHTTPクライアントを生成する。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL はDNS解決を伴わない静的検証を行う。
	ValidateURL(rawURL string) error
}

var allowedSchemes = []string{"http", "https"}

// blockedNetworks はValidateURLで拒否するIP範囲。
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16", // クラウドメタデータ (169.254.169.254) を含む
	"0.0.0.0/8",
	"100.64.0.0/10",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

var blockedHostnames = map[string]struct{}{
	"localhost":                {},
	"metadata.google.internal": {},
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %s: %v", cidr, err))
		}
		out = append(out, network)
	}
	return out
}

type urlGuard struct{}

// NewURLGuard はURLGuardを生成する。
func NewURLGuard() URLGuard {
	return urlGuard{}
}

// NewSafeClient はsafeurlでラップしたHTTPクライアントを生成する。
// 許可ポートは80/443のみ。DNS解決後のIPもDialerで検証される。
func (urlGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL は絶対URLかつhttp/httpsで、ホストが公開アドレスであることを検証する。
func (urlGuard) ValidateURL(rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("disallowed scheme: %q", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return fmt.Errorf("blocked IP address: %s", ip)
			}
		}
		return nil
	}

	if _, blocked := blockedHostnames[strings.ToLower(strings.TrimSuffix(host, "."))]; blocked {
		return fmt.Errorf("blocked host: %s", host)
	}

	return nil
}

// NewFetchClient はデータソース用のHTTPクライアントを返す。
// guardがtrueの場合はSSRF防止付きクライアントを使う。
func NewFetchClient(guard bool, timeout time.Duration) *http.Client {
	if guard {
		return NewURLGuard().NewSafeClient(timeout)
	}
	return &http.Client{Timeout: timeout}
}
