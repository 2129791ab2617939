package mailer

import (
	"bytes"
	htmltemplate "html/template"
	"net/url"
	"strconv"
	"text/template"
	"time"
)

// Branding fills in the product-specific parts of every message.
type Branding struct {
	AppName string
	// ResetURL is the page that accepts the token, e.g.
	// "https://campus.example/reset-password". The token is appended as the
	// "token" query parameter.
	ResetURL string
}

// Message is a rendered email.
type Message struct {
	Subject string
	Text    string
	HTML    string
}

type messageData struct {
	AppName   string
	Link      string
	ExpiresIn string
}

var (
	resetText = template.Must(template.New("reset").Parse(
		`Someone asked to reset the password of your {{.AppName}} account.

Open this link to choose a new password:
{{.Link}}

The link expires in {{.ExpiresIn}} and can be used once. If you did not ask for a reset, ignore this email.
`))
	resetHTML = htmltemplate.Must(htmltemplate.New("reset").Parse(
		`<p>Someone asked to reset the password of your {{.AppName}} account.</p>
<p><a href="{{.Link}}">Choose a new password</a></p>
<p>The link expires in {{.ExpiresIn}} and can be used once. If you did not ask for a reset, ignore this email.</p>
`))
	changedText = template.Must(template.New("changed").Parse(
		`The password of your {{.AppName}} account was just changed and every signed-in device was signed out.

If this was not you, reset your password immediately.
`))
	changedHTML = htmltemplate.Must(htmltemplate.New("changed").Parse(
		`<p>The password of your {{.AppName}} account was just changed and every signed-in device was signed out.</p>
<p><strong>If this was not you, reset your password immediately.</strong></p>
`))
)

// ResetLink appends token to b.ResetURL.
func (b Branding) ResetLink(token string) (string, error) {
	u, err := url.Parse(b.ResetURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// PasswordReset renders the reset request message.
func (b Branding) PasswordReset(token string, expiresAt, now time.Time) (Message, error) {
	link, err := b.ResetLink(token)
	if err != nil {
		return Message{}, err
	}
	data := messageData{
		AppName:   b.appName(),
		Link:      link,
		ExpiresIn: humanDuration(expiresAt.Sub(now)),
	}
	return render(b.appName()+" password reset", resetText, resetHTML, data)
}

// PasswordChanged renders the confirmation sent after a reset.
func (b Branding) PasswordChanged() (Message, error) {
	return render("Your "+b.appName()+" password was changed", changedText, changedHTML, messageData{AppName: b.appName()})
}

func (b Branding) appName() string {
	if b.AppName == "" {
		return "CampusReach"
	}
	return b.AppName
}

func render(subject string, text *template.Template, html *htmltemplate.Template, data messageData) (Message, error) {
	var tb, hb bytes.Buffer
	if err := text.Execute(&tb, data); err != nil {
		return Message{}, err
	}
	if err := html.Execute(&hb, data); err != nil {
		return Message{}, err
	}
	return Message{Subject: subject, Text: tb.String(), HTML: hb.String()}, nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute:
		return plural(int(d.Round(time.Minute)/time.Minute), "minute")
	default:
		return "less than a minute"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
