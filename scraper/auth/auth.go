// Package auth drives a portal's SSO login and second-factor challenge to an
// authenticated session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rms-pricing-scraper/scraper/portal"
	"rms-pricing-scraper/utils"
)

// Driver is the slice of a browser tab the login flow needs.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Exists(ctx context.Context, loc portal.Locator) (bool, error)
	SendKeys(ctx context.Context, loc portal.Locator, text string) error
	Click(ctx context.Context, loc portal.Locator) error
	ClickNth(ctx context.Context, loc portal.Locator, n int) error
	OptionLabels(ctx context.Context, loc portal.Locator) ([]string, error)
	CurrentURL(ctx context.Context) (string, error)
	ReadyState(ctx context.Context) (string, error)
}

// InputProvider supplies what only the operator knows. Each call is bounded
// by the context it receives.
type InputProvider interface {
	Code(ctx context.Context, prompt string) (string, error)
	Choose(ctx context.Context, prompt string, options []string) (int, error)
	Notify(msg string)
}

// Timeouts bound every wait of the login flow.
type Timeouts struct {
	Step       time.Duration
	MFA        time.Duration
	Login      time.Duration
	Ready      time.Duration
	HumanInput time.Duration
	Poll       time.Duration
}

// Credentials of one credential group.
type Credentials struct {
	Username string
	Password string
	// FactorHint picks the enrolled factor whose label contains it,
	// typically a phone's last four digits.
	FactorHint string
}

// Session is the result of a successful login.
type Session struct {
	Portal          string
	URL             string
	AuthenticatedAt time.Time
	History         []State
}

// Authenticator runs the login state machine against one Driver.
type Authenticator struct {
	portal   *portal.Adapter
	driver   Driver
	input    InputProvider
	timeouts Timeouts
	logger   *utils.Logger

	state   State
	history []State
}

func New(adapter *portal.Adapter, driver Driver, input InputProvider, timeouts Timeouts, logger *utils.Logger) *Authenticator {
	if timeouts.Poll <= 0 {
		timeouts.Poll = 250 * time.Millisecond
	}
	return &Authenticator{
		portal:   adapter,
		driver:   driver,
		input:    input,
		timeouts: timeouts,
		logger:   logger,
	}
}

// State returns the current state.
func (a *Authenticator) State() State { return a.state }

// History returns every state entered by the last Authenticate call.
func (a *Authenticator) History() []State {
	return append([]State(nil), a.history...)
}

// Authenticate logs in and answers the second factor using mode. Any
// failure is an *Error; the session is unusable afterwards.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials, mode MFAMode) (*Session, error) {
	a.history = nil
	a.enter(StateStart)
	a.logger.Info("[auth] Logging in to %s as %s (mfa: %s)", a.portal.DisplayName, creds.Username, mode)

	if err := a.driver.Navigate(ctx, a.portal.LoginURL); err != nil {
		return nil, a.fail(StateStart, fmt.Errorf("open login page: %w", err))
	}

	if err := a.ssoEntry(ctx); err != nil {
		return nil, err
	}
	if err := a.submitCredentials(ctx, creds); err != nil {
		return nil, err
	}

	a.enter(StateMFAFactorSelection)
	var err error
	switch mode {
	case MFAPush:
		err = a.pushFlow(ctx)
	case MFAOTP:
		err = a.otpFlow(ctx)
	case MFASelect:
		err = a.selectFlow(ctx, creds.FactorHint)
	default:
		err = a.fail(StateMFAFactorSelection, fmt.Errorf("unsupported MFA mode %q", mode))
	}
	if err != nil {
		return nil, err
	}

	url, err := a.awaitLanding(ctx)
	if err != nil {
		return nil, err
	}
	a.enter(StateVerified)

	if err := a.awaitReady(ctx); err != nil {
		return nil, err
	}
	a.enter(StateAuthenticated)
	a.logger.Info("[auth] Authenticated on %s", url)

	return &Session{
		Portal:          a.portal.Name,
		URL:             url,
		AuthenticatedAt: time.Now(),
		History:         a.History(),
	}, nil
}

func (a *Authenticator) ssoEntry(ctx context.Context) error {
	if len(a.portal.Login.SSOEntry) == 0 {
		return nil
	}
	loc, err := a.waitFor(ctx, a.portal.Login.SSOEntry, a.timeouts.Step)
	if errors.Is(err, ErrElementNotFound) {
		a.logger.Debug("[auth] No SSO entry button, continuing")
		return nil
	}
	if err != nil {
		return a.fail(StateSSOEntry, err)
	}
	a.enter(StateSSOEntry)
	if err := a.driver.Click(ctx, loc); err != nil {
		return a.fail(StateSSOEntry, fmt.Errorf("click %s: %w", loc, err))
	}
	return nil
}

func (a *Authenticator) submitCredentials(ctx context.Context, creds Credentials) error {
	steps := a.portal.Login

	if err := a.typeInto(ctx, steps.Username, creds.Username, a.timeouts.Step); err != nil {
		return a.fail(StateCredentialsSubmitted, fmt.Errorf("username: %w", err))
	}
	if len(steps.Next) > 0 {
		if err := a.clickFirst(ctx, steps.Next, a.timeouts.Step); err != nil {
			return a.fail(StateCredentialsSubmitted, fmt.Errorf("next: %w", err))
		}
	}
	if len(steps.Password) > 0 {
		if err := a.typeInto(ctx, steps.Password, creds.Password, a.timeouts.Step); err != nil {
			return a.fail(StateCredentialsSubmitted, fmt.Errorf("password: %w", err))
		}
	}
	if len(steps.Submit) > 0 {
		if err := a.clickFirst(ctx, steps.Submit, a.timeouts.Step); err != nil {
			return a.fail(StateCredentialsSubmitted, fmt.Errorf("submit: %w", err))
		}
	}
	a.enter(StateCredentialsSubmitted)
	return nil
}

func (a *Authenticator) pushFlow(ctx context.Context) error {
	if len(a.portal.MFA.PushFactor) == 0 {
		return a.fail(StateMFAFactorSelection, fmt.Errorf("%s has no push factor", a.portal.DisplayName))
	}
	if err := a.clickFirst(ctx, a.portal.MFA.PushFactor, a.timeouts.MFA); err != nil {
		return a.fail(StateMFAFactorSelection, fmt.Errorf("push factor: %w", err))
	}
	a.enter(StateMFAChallengeIssued)
	a.enter(StateAwaitingPushApproval)
	a.input.Notify("Approve the push notification on your device")
	return nil
}

func (a *Authenticator) otpFlow(ctx context.Context) error {
	if len(a.portal.MFA.OTPFactor) > 0 {
		if err := a.clickFirst(ctx, a.portal.MFA.OTPFactor, a.timeouts.MFA); err != nil {
			return a.fail(StateMFAFactorSelection, fmt.Errorf("otp factor: %w", err))
		}
	}
	return a.codeFlow(ctx)
}

func (a *Authenticator) selectFlow(ctx context.Context, hint string) error {
	if len(a.portal.MFA.FactorOptions) == 0 {
		return a.fail(StateMFAFactorSelection, fmt.Errorf("%s has no factor list", a.portal.DisplayName))
	}

	loc, err := a.waitFor(ctx, a.portal.MFA.FactorOptions, a.timeouts.MFA)
	if errors.Is(err, ErrElementNotFound) {
		a.logger.Warn("[auth] No factor list shown, continuing with the default factor")
		return a.codeFlow(ctx)
	}
	if err != nil {
		return a.fail(StateMFAFactorSelection, err)
	}

	labels, err := a.driver.OptionLabels(ctx, loc)
	if err != nil {
		return a.fail(StateMFAFactorSelection, fmt.Errorf("read factors: %w", err))
	}
	if len(labels) == 0 {
		return a.fail(StateMFAFactorSelection, fmt.Errorf("factor list is empty: %w", ErrElementNotFound))
	}

	idx, err := a.pickFactor(ctx, labels, hint)
	if err != nil {
		return a.fail(StateMFAFactorSelection, err)
	}
	a.logger.Info("[auth] Selecting factor %q", labels[idx])
	if err := a.driver.ClickNth(ctx, loc, idx); err != nil {
		return a.fail(StateMFAFactorSelection, fmt.Errorf("click factor %d: %w", idx, err))
	}

	if strings.Contains(strings.ToLower(labels[idx]), "push") {
		a.enter(StateMFAChallengeIssued)
		a.enter(StateAwaitingPushApproval)
		a.input.Notify("Approve the push notification on your device")
		return nil
	}
	return a.codeFlow(ctx)
}

func (a *Authenticator) pickFactor(ctx context.Context, labels []string, hint string) (int, error) {
	if hint != "" {
		for i, l := range labels {
			if strings.Contains(l, hint) {
				return i, nil
			}
		}
		a.logger.Warn("[auth] No factor matches %q, asking the operator", hint)
	}
	if len(labels) == 1 {
		return 0, nil
	}

	ictx, cancel := context.WithTimeout(ctx, a.timeouts.HumanInput)
	defer cancel()
	idx, err := a.input.Choose(ictx, "Select the verification method", labels)
	if err != nil {
		return 0, fmt.Errorf("choose factor: %w", err)
	}
	if idx < 0 || idx >= len(labels) {
		return 0, fmt.Errorf("choose factor: option %d out of range: %w", idx+1, ErrNoInput)
	}
	return idx, nil
}

func (a *Authenticator) codeFlow(ctx context.Context) error {
	mfa := a.portal.MFA
	if len(mfa.SendCode) > 0 {
		if err := a.clickFirst(ctx, mfa.SendCode, a.timeouts.MFA); err != nil {
			return a.fail(StateMFAChallengeIssued, fmt.Errorf("request code: %w", err))
		}
	}
	a.enter(StateMFAChallengeIssued)
	a.enter(StateAwaitingUserCode)

	ictx, cancel := context.WithTimeout(ctx, a.timeouts.HumanInput)
	code, err := a.input.Code(ictx, "Enter the verification code")
	cancel()
	if err != nil {
		return a.fail(StateAwaitingUserCode, fmt.Errorf("read code: %w", err))
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return a.fail(StateAwaitingUserCode, ErrNoInput)
	}

	if err := a.typeInto(ctx, mfa.CodeInput, code, a.timeouts.MFA); err != nil {
		return a.fail(StateAwaitingUserCode, fmt.Errorf("code field: %w", err))
	}
	if err := a.clickFirst(ctx, mfa.Verify, a.timeouts.MFA); err != nil {
		return a.fail(StateAwaitingUserCode, fmt.Errorf("verify: %w", err))
	}
	return nil
}

// awaitLanding waits for the authenticated origin. Push approval and code
// verification both end here.
func (a *Authenticator) awaitLanding(ctx context.Context) (string, error) {
	from := a.state
	lctx, cancel := context.WithTimeout(ctx, a.timeouts.Login)
	defer cancel()

	var last string
	for {
		url, err := a.driver.CurrentURL(lctx)
		if err == nil {
			last = url
			if a.portal.IsAuthenticated(url) {
				return url, nil
			}
		}
		select {
		case <-lctx.Done():
			return "", a.fail(from, fmt.Errorf("login did not reach %s (last url %q): %w",
				a.portal.AuthenticatedHost, last, lctx.Err()))
		case <-time.After(a.timeouts.Poll):
		}
	}
}

func (a *Authenticator) awaitReady(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(ctx, a.timeouts.Ready)
	defer cancel()
	for {
		state, err := a.driver.ReadyState(rctx)
		if err == nil && state == "complete" {
			return nil
		}
		select {
		case <-rctx.Done():
			return a.fail(StateVerified, fmt.Errorf("page never finished loading: %w", rctx.Err()))
		case <-time.After(a.timeouts.Poll):
		}
	}
}

// waitFor polls until one of locs is present and returns it.
func (a *Authenticator) waitFor(ctx context.Context, locs portal.Locators, timeout time.Duration) (portal.Locator, error) {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		for _, loc := range locs {
			ok, err := a.driver.Exists(wctx, loc)
			if err != nil {
				a.logger.Debug("[auth] Probe %s: %v", loc, err)
				continue
			}
			if ok {
				return loc, nil
			}
		}
		select {
		case <-ctx.Done():
			return portal.Locator{}, ctx.Err()
		case <-wctx.Done():
			return portal.Locator{}, fmt.Errorf("%w after %s: %s", ErrElementNotFound, timeout, describe(locs))
		case <-time.After(a.timeouts.Poll):
		}
	}
}

func (a *Authenticator) typeInto(ctx context.Context, locs portal.Locators, text string, timeout time.Duration) error {
	loc, err := a.waitFor(ctx, locs, timeout)
	if err != nil {
		return err
	}
	if err := a.driver.SendKeys(ctx, loc, text); err != nil {
		return fmt.Errorf("type into %s: %w", loc, err)
	}
	return nil
}

func (a *Authenticator) clickFirst(ctx context.Context, locs portal.Locators, timeout time.Duration) error {
	loc, err := a.waitFor(ctx, locs, timeout)
	if err != nil {
		return err
	}
	if err := a.driver.Click(ctx, loc); err != nil {
		return fmt.Errorf("click %s: %w", loc, err)
	}
	return nil
}

func (a *Authenticator) enter(s State) {
	a.state = s
	a.history = append(a.history, s)
	a.logger.Debug("[auth] -> %s", s)
}

func (a *Authenticator) fail(stage State, err error) error {
	a.enter(StateFailed)
	a.logger.Error("[auth] Failed at %s: %v", stage, err)
	return &Error{Stage: stage, Err: err}
}

func describe(locs portal.Locators) string {
	parts := make([]string, len(locs))
	for i, l := range locs {
		parts[i] = l.String()
	}
	return strings.Join(parts, " | ")
}
