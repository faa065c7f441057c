// Package portal describes the RMS portals the scraper can log into: where
// the login starts, how each form element is located, and which network
// responses carry the pricing payload.
package portal

import (
	_ "embed"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed portals.yaml
var catalogueYAML []byte

// By selects how a Locator's Value is interpreted.
type By string

const (
	ByCSS   By = "css"
	ByXPath By = "xpath"
	ByID    By = "id"
)

// Locator finds one element on a page.
type Locator struct {
	By    By     `yaml:"by"`
	Value string `yaml:"value"`
}

func (l Locator) String() string {
	return string(l.By) + "=" + l.Value
}

// Locators are tried in order; the first one present on the page is used.
type Locators []Locator

// LoginSteps locate the elements of the credential form. Any list may be
// empty when the portal has no such step.
type LoginSteps struct {
	SSOEntry Locators `yaml:"sso_entry"`
	Username Locators `yaml:"username"`
	Next     Locators `yaml:"next"`
	Password Locators `yaml:"password"`
	Submit   Locators `yaml:"submit"`
}

// MFASteps locate the elements of the second-factor pages.
type MFASteps struct {
	PushFactor    Locators `yaml:"push_factor"`
	OTPFactor     Locators `yaml:"otp_factor"`
	FactorOptions Locators `yaml:"factor_options"`
	SendCode      Locators `yaml:"send_code"`
	CodeInput     Locators `yaml:"code_input"`
	Verify        Locators `yaml:"verify"`
}

// Adapter is everything portal-specific the pipeline needs.
type Adapter struct {
	Name              string     `yaml:"-"`
	DisplayName       string     `yaml:"display_name"`
	LoginURL          string     `yaml:"login_url"`
	AuthenticatedHost string     `yaml:"authenticated_host"`
	BaseURL           string     `yaml:"base_url"`
	CalendarPath      string     `yaml:"calendar_path"`
	DefaultMFA        string     `yaml:"default_mfa"`
	Capture           [][]string `yaml:"capture"`
	Login             LoginSteps `yaml:"login"`
	MFA               MFASteps   `yaml:"mfa"`
	LegacyTable       Locators   `yaml:"legacy_table"`
}

type catalogue struct {
	Portals map[string]*Adapter `yaml:"portals"`
}

// Parse decodes a catalogue document and validates every adapter in it.
func Parse(doc []byte) (map[string]*Adapter, error) {
	var c catalogue
	if err := yaml.Unmarshal(doc, &c); err != nil {
		return nil, fmt.Errorf("portal: decode catalogue: %w", err)
	}
	if len(c.Portals) == 0 {
		return nil, fmt.Errorf("portal: catalogue defines no portals")
	}
	for name, a := range c.Portals {
		a.Name = name
		if err := a.validate(); err != nil {
			return nil, err
		}
	}
	return c.Portals, nil
}

// Lookup returns the built-in adapter for name (case-insensitive).
func Lookup(name string) (*Adapter, error) {
	all, err := Parse(catalogueYAML)
	if err != nil {
		return nil, err
	}
	a, ok := all[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("portal: unknown portal %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return a, nil
}

// Names lists the built-in portals in sorted order.
func Names() []string {
	all, err := Parse(catalogueYAML)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(all))
	for n := range all {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (a *Adapter) validate() error {
	switch {
	case a.LoginURL == "":
		return fmt.Errorf("portal %s: login_url is required", a.Name)
	case a.AuthenticatedHost == "":
		return fmt.Errorf("portal %s: authenticated_host is required", a.Name)
	case len(a.Login.Username) == 0:
		return fmt.Errorf("portal %s: login.username is required", a.Name)
	case len(a.MFA.CodeInput) == 0 || len(a.MFA.Verify) == 0:
		return fmt.Errorf("portal %s: mfa.code_input and mfa.verify are required", a.Name)
	case len(a.Capture) == 0:
		return fmt.Errorf("portal %s: capture markers are required", a.Name)
	}
	for _, group := range a.Capture {
		if len(group) == 0 {
			return fmt.Errorf("portal %s: empty capture marker group", a.Name)
		}
	}
	for _, l := range a.allLocators() {
		switch l.By {
		case ByCSS, ByXPath, ByID:
		default:
			return fmt.Errorf("portal %s: locator %q has unknown kind %q", a.Name, l.Value, l.By)
		}
		if l.Value == "" {
			return fmt.Errorf("portal %s: empty %s locator", a.Name, l.By)
		}
	}
	return nil
}

func (a *Adapter) allLocators() []Locator {
	var out []Locator
	for _, ls := range []Locators{
		a.Login.SSOEntry, a.Login.Username, a.Login.Next, a.Login.Password, a.Login.Submit,
		a.MFA.PushFactor, a.MFA.OTPFactor, a.MFA.FactorOptions, a.MFA.SendCode,
		a.MFA.CodeInput, a.MFA.Verify, a.LegacyTable,
	} {
		out = append(out, ls...)
	}
	return out
}

// MatchesPricingURL reports whether rawURL identifies the pricing endpoint: at
// least one capture group has all of its markers present.
func (a *Adapter) MatchesPricingURL(rawURL string) bool {
	for _, group := range a.Capture {
		all := true
		for _, marker := range group {
			if !strings.Contains(rawURL, marker) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// IsAuthenticated reports whether rawURL is on the portal's post-login host.
// The login URL names that host in its query, so only the host part counts.
func (a *Adapter) IsAuthenticated(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), a.AuthenticatedHost)
}

// CalendarURL returns the per-property page that triggers the pricing call,
// or "" when the portal loads it straight after login.
func (a *Adapter) CalendarURL(propertyUUID string) string {
	if a.CalendarPath == "" {
		return ""
	}
	return strings.TrimRight(a.BaseURL, "/") + strings.ReplaceAll(a.CalendarPath, "{id}", propertyUUID)
}
