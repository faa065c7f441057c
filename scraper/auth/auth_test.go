package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rms-pricing-scraper/scraper/portal"
	"rms-pricing-scraper/utils"
)

// fakeDriver is a scripted page: present locators exist immediately, and
// clicking landOn moves the tab to the authenticated URL.
type fakeDriver struct {
	mu      sync.Mutex
	present map[string]bool
	labels  map[string][]string
	url     string
	landURL string
	landOn  string
	ready   string
	actions []string
}

func newFakeDriver(landURL string, present ...portal.Locator) *fakeDriver {
	d := &fakeDriver{
		present: make(map[string]bool),
		labels:  make(map[string][]string),
		landURL: landURL,
		ready:   "complete",
	}
	for _, l := range present {
		d.present[l.String()] = true
	}
	return d
}

func (d *fakeDriver) record(s string) {
	d.actions = append(d.actions, s)
}

func (d *fakeDriver) Navigate(_ context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
	d.record("navigate " + url)
	return nil
}

func (d *fakeDriver) Exists(_ context.Context, loc portal.Locator) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.present[loc.String()], nil
}

func (d *fakeDriver) SendKeys(_ context.Context, loc portal.Locator, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("keys " + loc.String() + " " + text)
	return nil
}

func (d *fakeDriver) Click(_ context.Context, loc portal.Locator) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("click " + loc.String())
	if loc.String() == d.landOn {
		d.url = d.landURL
	}
	return nil
}

func (d *fakeDriver) ClickNth(_ context.Context, loc portal.Locator, n int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("click " + loc.String() + " #" + string(rune('0'+n)))
	return nil
}

func (d *fakeDriver) OptionLabels(_ context.Context, loc portal.Locator) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.labels[loc.String()], nil
}

func (d *fakeDriver) CurrentURL(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url, nil
}

func (d *fakeDriver) ReadyState(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready, nil
}

func (d *fakeDriver) land() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = d.landURL
}

type fakeInput struct {
	code     string
	codeErr  error
	choice   int
	asked    []string
	notified []string
	onNotify func()
}

func (f *fakeInput) Code(ctx context.Context, prompt string) (string, error) {
	f.asked = append(f.asked, prompt)
	if f.codeErr != nil {
		return "", f.codeErr
	}
	return f.code, nil
}

func (f *fakeInput) Choose(_ context.Context, prompt string, options []string) (int, error) {
	f.asked = append(f.asked, prompt+": "+strings.Join(options, ","))
	return f.choice, nil
}

func (f *fakeInput) Notify(msg string) {
	f.notified = append(f.notified, msg)
	if f.onNotify != nil {
		f.onNotify()
	}
}

func testTimeouts() Timeouts {
	return Timeouts{
		Step:       40 * time.Millisecond,
		MFA:        40 * time.Millisecond,
		Login:      150 * time.Millisecond,
		Ready:      40 * time.Millisecond,
		HumanInput: 40 * time.Millisecond,
		Poll:       2 * time.Millisecond,
	}
}

func mustPortal(t *testing.T, name string) *portal.Adapter {
	t.Helper()
	a, err := portal.Lookup(name)
	require.NoError(t, err)
	return a
}

func choicePage(a *portal.Adapter) []portal.Locator {
	return []portal.Locator{
		a.Login.SSOEntry[0],
		a.Login.Username[1], // only the fallback username locator is on the page
		a.Login.Password[0],
		a.Login.Submit[0],
		a.MFA.PushFactor[0],
		a.MFA.OTPFactor[0],
		a.MFA.CodeInput[0],
		a.MFA.Verify[0],
	}
}

func TestChoicePushFlow(t *testing.T) {
	a := mustPortal(t, "choice")
	d := newFakeDriver("https://choicemax.ideasrms.com/app/home", choicePage(a)...)
	in := &fakeInput{onNotify: d.land}

	auth := New(a, d, in, testTimeouts(), utils.NewNopLogger())
	sess, err := auth.Authenticate(context.Background(), Credentials{Username: "alice", Password: "s3cret"}, MFAPush)
	require.NoError(t, err)
	require.Equal(t, "choice", sess.Portal)
	require.Equal(t, StateAuthenticated, auth.State())

	require.Equal(t, []State{
		StateStart, StateSSOEntry, StateCredentialsSubmitted, StateMFAFactorSelection,
		StateMFAChallengeIssued, StateAwaitingPushApproval, StateVerified, StateAuthenticated,
	}, auth.History())

	require.Contains(t, d.actions, "keys css=input[name='username'] alice")
	require.Contains(t, d.actions, "keys id=input36 s3cret")
	require.Len(t, in.notified, 1)
}

func TestChoiceOTPFlow(t *testing.T) {
	a := mustPortal(t, "choice")
	d := newFakeDriver("https://choicemax.ideasrms.com/app/home", choicePage(a)...)
	d.landOn = a.MFA.Verify[0].String()
	in := &fakeInput{code: " 123456 "}

	auth := New(a, d, in, testTimeouts(), utils.NewNopLogger())
	_, err := auth.Authenticate(context.Background(), Credentials{Username: "alice", Password: "pw"}, MFAOTP)
	require.NoError(t, err)

	require.Contains(t, d.actions, "click "+a.MFA.OTPFactor[0].String())
	require.Contains(t, d.actions, "keys id=input352 123456")
	require.Contains(t, auth.History(), StateAwaitingUserCode)
	require.NotContains(t, auth.History(), StateAwaitingPushApproval)
}

func TestSSOEntryIsOptional(t *testing.T) {
	a := mustPortal(t, "choice")
	page := choicePage(a)[1:] // no SSO button
	d := newFakeDriver("https://choicemax.ideasrms.com/app", page...)
	in := &fakeInput{onNotify: d.land}

	auth := New(a, d, in, testTimeouts(), utils.NewNopLogger())
	_, err := auth.Authenticate(context.Background(), Credentials{Username: "u", Password: "p"}, MFAPush)
	require.NoError(t, err)
	require.NotContains(t, auth.History(), StateSSOEntry)
}

func TestMissingPasswordFieldFailsCredentialStage(t *testing.T) {
	a := mustPortal(t, "choice")
	d := newFakeDriver("https://choicemax.ideasrms.com/app", a.Login.Username[0])

	auth := New(a, d, &fakeInput{}, testTimeouts(), utils.NewNopLogger())
	_, err := auth.Authenticate(context.Background(), Credentials{Username: "u", Password: "p"}, MFAPush)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrAuthentication)
	require.ErrorIs(t, err, ErrElementNotFound)

	var authErr *Error
	require.True(t, errors.As(err, &authErr))
	require.Equal(t, StateCredentialsSubmitted, authErr.Stage)
	require.Equal(t, StateFailed, auth.State())
}

func TestLoginTimeoutWhenPushNeverApproved(t *testing.T) {
	a := mustPortal(t, "choice")
	d := newFakeDriver("https://choicemax.ideasrms.com/app", choicePage(a)...)

	auth := New(a, d, &fakeInput{}, testTimeouts(), utils.NewNopLogger())
	_, err := auth.Authenticate(context.Background(), Credentials{Username: "u", Password: "p"}, MFAPush)

	var authErr *Error
	require.True(t, errors.As(err, &authErr))
	require.Equal(t, StateAwaitingPushApproval, authErr.Stage)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOperatorInputTimeoutFailsAwaitingCode(t *testing.T) {
	a := mustPortal(t, "choice")
	d := newFakeDriver("https://choicemax.ideasrms.com/app", choicePage(a)...)
	in := &fakeInput{codeErr: context.DeadlineExceeded}

	auth := New(a, d, in, testTimeouts(), utils.NewNopLogger())
	_, err := auth.Authenticate(context.Background(), Credentials{Username: "u", Password: "p"}, MFAOTP)

	var authErr *Error
	require.True(t, errors.As(err, &authErr))
	require.Equal(t, StateAwaitingUserCode, authErr.Stage)
}

func TestWyndhamSelectsFactorByHint(t *testing.T) {
	a := mustPortal(t, "wyndham")
	d := newFakeDriver("https://reviq.ideasrms.com/app/properties",
		a.Login.SSOEntry[0], a.Login.Username[0], a.Login.Next[0],
		a.MFA.FactorOptions[0], a.MFA.SendCode[0], a.MFA.CodeInput[0], a.MFA.Verify[0],
	)
	d.labels[a.MFA.FactorOptions[0].String()] = []string{
		"Select to get a code sent to +1 XXX-XXX-9876",
		"Select to get a code sent to +1 XXX-XXX-1234",
	}
	d.landOn = a.MFA.Verify[0].String()
	in := &fakeInput{code: "654321"}

	auth := New(a, d, in, testTimeouts(), utils.NewNopLogger())
	_, err := auth.Authenticate(context.Background(),
		Credentials{Username: "bob", FactorHint: "1234"}, MFASelect)
	require.NoError(t, err)

	require.Contains(t, d.actions, "click "+a.MFA.FactorOptions[0].String()+" #1")
	require.Contains(t, d.actions, "click "+a.MFA.SendCode[0].String())
	require.Contains(t, d.actions, "keys "+a.MFA.CodeInput[0].String()+" 654321")
	for _, act := range d.actions {
		require.NotContains(t, act, "password", "wyndham has no password step")
	}
	require.Len(t, in.asked, 1, "only the code is asked for")
}

func TestSelectAsksOperatorWithoutHint(t *testing.T) {
	a := mustPortal(t, "wyndham")
	d := newFakeDriver("https://reviq.ideasrms.com/app",
		a.Login.Username[0], a.Login.Next[0],
		a.MFA.FactorOptions[0], a.MFA.SendCode[0], a.MFA.CodeInput[0], a.MFA.Verify[0],
	)
	d.labels[a.MFA.FactorOptions[0].String()] = []string{"SMS ...11", "SMS ...22"}
	d.landOn = a.MFA.Verify[0].String()
	in := &fakeInput{code: "1", choice: 0}

	auth := New(a, d, in, testTimeouts(), utils.NewNopLogger())
	_, err := auth.Authenticate(context.Background(), Credentials{Username: "bob"}, MFASelect)
	require.NoError(t, err)
	require.Len(t, in.asked, 2)
	require.Contains(t, in.asked[0], "SMS ...11,SMS ...22")
}

func TestParseMFAMode(t *testing.T) {
	for in, want := range map[string]MFAMode{"PN": MFAPush, "push": MFAPush, "OTP": MFAOTP, "select": MFASelect} {
		got, err := ParseMFAMode(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseMFAMode("fax")
	require.Error(t, err)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "awaiting-user-code", StateAwaitingUserCode.String())
	require.Equal(t, "state(42)", State(42).String())
}
