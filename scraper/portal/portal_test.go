package portal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuiltInCatalogue(t *testing.T) {
	require.Equal(t, []string{"choice", "wyndham"}, Names())

	choice, err := Lookup("Choice")
	require.NoError(t, err)
	require.Equal(t, "choice", choice.Name)
	require.Equal(t, "push", choice.DefaultMFA)
	require.Equal(t, Locator{By: ByID, Value: "input28"}, choice.Login.Username[0])
	require.Len(t, choice.Login.Username, 2)
	require.Empty(t, choice.Login.Next)

	wyndham, err := Lookup("wyndham")
	require.NoError(t, err)
	require.Empty(t, wyndham.Login.Password)
	require.Equal(t, ByXPath, wyndham.MFA.SendCode[0].By)

	_, err = Lookup("marriott")
	require.Error(t, err)
}

func TestMatchesPricingURL(t *testing.T) {
	choice, err := Lookup("choice")
	require.NoError(t, err)

	cases := []struct {
		url  string
		want bool
	}{
		{"https://choicemax.ideasrms.com/api/pricing/v2?start_date=2026-01-01&end_date=2026-01-31", true},
		{"https://choicemax.ideasrms.com/api/v2/calendar?foo=1&start_date=2026-01-01", true},
		{"https://choicemax.ideasrms.com/api/v1/calendar?start_date=2026-01-01", false},
		{"https://choicemax.ideasrms.com/api/v2/users", false},
	}
	for _, tc := range cases {
		if got := choice.MatchesPricingURL(tc.url); got != tc.want {
			t.Errorf("MatchesPricingURL(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}

	wyndham, err := Lookup("wyndham")
	require.NoError(t, err)
	require.True(t, wyndham.MatchesPricingURL("https://reviq.ideasrms.com/api/calendar/data"))
	require.True(t, wyndham.MatchesPricingURL("https://reviq.ideasrms.com/x?end_date=2026-01-01"))
	require.False(t, wyndham.MatchesPricingURL("https://reviq.ideasrms.com/app/properties"))
}

func TestCalendarURL(t *testing.T) {
	wyndham, err := Lookup("wyndham")
	require.NoError(t, err)
	require.Equal(t,
		"https://reviq.ideasrms.com/app/properties/abc/calendar/list",
		wyndham.CalendarURL("abc"))

	choice, err := Lookup("choice")
	require.NoError(t, err)
	require.Empty(t, choice.CalendarURL("abc"))
	require.True(t, choice.IsAuthenticated("https://choicemax.ideasrms.com/app"))
	require.False(t, choice.IsAuthenticated("https://id.ideasrms.com/choice/max"))
	require.False(t, choice.IsAuthenticated(choice.LoginURL))
}

func TestParseRejectsInvalidAdapters(t *testing.T) {
	cases := map[string]string{
		"empty":        `portals: {}`,
		"no login url": "portals:\n  x:\n    authenticated_host: h\n",
		"bad locator kind": `
portals:
  x:
    login_url: u
    authenticated_host: h
    capture: [["a"]]
    login:
      username: [{by: name, value: user}]
    mfa:
      code_input: [{by: css, value: i}]
      verify: [{by: css, value: v}]
`,
		"empty capture group": `
portals:
  x:
    login_url: u
    authenticated_host: h
    capture: [[]]
    login:
      username: [{by: css, value: user}]
    mfa:
      code_input: [{by: css, value: i}]
      verify: [{by: css, value: v}]
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}
