package tracking

import (
	"fmt"
	"net/url"
	"strings"
)

// RedirectPolicy validates click destinations against an allow-list of
// marketing-site hosts.
type RedirectPolicy struct {
	hosts       []string
	schemes     map[string]bool
	defaultDest string
	fallback    string
}

// NewRedirectPolicy builds a policy. A destination is allowed when its scheme
// is in schemes and its host equals, or is a subdomain of, one of hosts.
// Empty destinations go to defaultDest; rejected ones go to fallback.
func NewRedirectPolicy(hosts, schemes []string, defaultDest, fallback string) *RedirectPolicy {
	p := &RedirectPolicy{
		schemes:     make(map[string]bool, len(schemes)),
		defaultDest: defaultDest,
		fallback:    fallback,
	}
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			p.hosts = append(p.hosts, strings.TrimPrefix(h, "."))
		}
	}
	for _, s := range schemes {
		p.schemes[strings.ToLower(s)] = true
	}
	if len(p.schemes) == 0 {
		p.schemes["https"] = true
		p.schemes["http"] = true
	}
	return p
}

// Fallback returns the page invalid destinations are sent to.
func (p *RedirectPolicy) Fallback() string {
	return p.fallback
}

// Validate returns dest if it is allowed, or an error wrapping
// ErrInvalidRedirectTarget.
func (p *RedirectPolicy) Validate(dest string) (string, error) {
	u, err := url.Parse(dest)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRedirectTarget, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("%w: %q is not an absolute url", ErrInvalidRedirectTarget, dest)
	}
	if u.User != nil {
		return "", fmt.Errorf("%w: userinfo not allowed", ErrInvalidRedirectTarget)
	}
	if !p.schemes[strings.ToLower(u.Scheme)] {
		return "", fmt.Errorf("%w: scheme %q not allowed", ErrInvalidRedirectTarget, u.Scheme)
	}
	if !p.hostAllowed(u.Hostname()) {
		return "", fmt.Errorf("%w: host %q not allowed", ErrInvalidRedirectTarget, u.Hostname())
	}
	return u.String(), nil
}

// Resolve picks the redirect target for a click. It never fails: the returned
// error only reports why the fallback was chosen.
func (p *RedirectPolicy) Resolve(dest string) (string, error) {
	dest = strings.TrimSpace(dest)
	if dest == "" {
		if p.defaultDest != "" {
			return p.defaultDest, nil
		}
		return p.fallback, nil
	}
	target, err := p.Validate(dest)
	if err != nil {
		return p.fallback, err
	}
	return target, nil
}

func (p *RedirectPolicy) hostAllowed(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, allowed := range p.hosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}
