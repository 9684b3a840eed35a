package auth

import (
	"fmt"
	"strings"

	"golang.org/x/net/idna"
)

// Allowlist はサインインを許可するメールドメインの集合。
// 生成後は変更しないため、複数goroutineから安全に参照できる。
type Allowlist struct {
	domains map[string]struct{}
	ordered []string
}

// NewAllowlist は許可ドメインのリストからAllowlistを生成する。
// ドメインはIDNAのASCII形式・小文字に正規化して保持する。
func NewAllowlist(domains []string) (*Allowlist, error) {
	a := &Allowlist{domains: make(map[string]struct{}, len(domains))}
	for _, d := range domains {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		n, err := normalizeDomain(d)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed domain %q: %w", d, err)
		}
		if _, dup := a.domains[n]; dup {
			continue
		}
		a.domains[n] = struct{}{}
		a.ordered = append(a.ordered, n)
	}
	if len(a.ordered) == 0 {
		return nil, fmt.Errorf("allowlist must contain at least one domain")
	}
	return a, nil
}

// Allows はemailのドメインが許可リストに含まれるかを返す。
// サブドメインは一致とみなさない。
func (a *Allowlist) Allows(email string) bool {
	domain := Domain(email)
	if domain == "" {
		return false
	}
	_, ok := a.domains[domain]
	return ok
}

// Domains は正規化済みの許可ドメインを登録順で返す。
func (a *Allowlist) Domains() []string {
	out := make([]string, len(a.ordered))
	copy(out, a.ordered)
	return out
}

// Domain はemailの@以降を正規化したドメインを返す。
// @を含まない、またはドメインが正規化できない場合は空文字を返す。
func Domain(email string) string {
	_, domain, ok := strings.Cut(strings.TrimSpace(email), "@")
	if !ok || domain == "" {
		return ""
	}
	n, err := normalizeDomain(domain)
	if err != nil {
		return ""
	}
	return n
}

func normalizeDomain(d string) (string, error) {
	return idna.Lookup.ToASCII(strings.ToLower(d))
}
