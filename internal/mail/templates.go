package mail

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"
)

const appName = "Management System"

// WelcomeData feeds the account-created email.
type WelcomeData struct {
	Name     string
	Email    string
	Password string
	LoginURL string
}

// PasswordChangedData feeds the password-changed notice.
type PasswordChangedData struct {
	Name      string
	ChangedAt time.Time
}

var welcomeHTML = htmltemplate.Must(htmltemplate.New("welcome").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <div style="background-color: #4CAF50; color: white; padding: 20px; text-align: center;">
    <h1>Welcome to {{.App}}</h1>
  </div>
  <div style="padding: 20px;">
    <h2>Hello {{.Name}}!</h2>
    <p>Your account has been created successfully. Here are your login credentials:</p>
    <div style="background-color: #f0f0f0; padding: 15px; border-radius: 5px; margin: 20px 0;">
      <strong>Email:</strong> {{.Email}}<br>
      <strong>Password:</strong> {{.Password}}
    </div>
    {{if .LoginURL}}<p><a href="{{.LoginURL}}">Sign in</a></p>{{end}}
    <p>Please change your password after first login.</p>
    <p>Best regards,<br>{{.App}} Team</p>
  </div>
</body>
</html>
`))

var welcomeText = texttemplate.Must(texttemplate.New("welcome").Parse(`Hello {{.Name}}!

Your {{.App}} account has been created.

Email: {{.Email}}
Password: {{.Password}}
{{if .LoginURL}}
Sign in at {{.LoginURL}}
{{end}}
Please change your password after first login.
`))

var passwordChangedHTML = htmltemplate.Must(htmltemplate.New("password_changed").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>Your password was changed</h2>
  <p>Hello {{.Name}}, the password for your {{.App}} account was changed on {{.When}}.</p>
  <p>If you did not make this change, contact an administrator immediately.</p>
  <hr>
  <p><small>This is an automated message from {{.App}}.</small></p>
</div>
`))

var passwordChangedText = texttemplate.Must(texttemplate.New("password_changed").Parse(`Hello {{.Name}},

The password for your {{.App}} account was changed on {{.When}}.
If you did not make this change, contact an administrator immediately.
`))

// WelcomeMessage renders the account-created email for data.
func WelcomeMessage(data WelcomeData) (Message, error) {
	view := struct {
		WelcomeData
		App string
	}{data, appName}

	html, err := render(welcomeHTML, view)
	if err != nil {
		return Message{}, err
	}
	text, err := renderText(welcomeText, view)
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      data.Email,
		Subject: fmt.Sprintf("Welcome to %s - Your Account Details", appName),
		HTML:    html,
		Text:    text,
	}, nil
}

// PasswordChangedMessage renders the password-changed notice for to.
func PasswordChangedMessage(to string, data PasswordChangedData) (Message, error) {
	view := struct {
		Name string
		When string
		App  string
	}{data.Name, data.ChangedAt.UTC().Format(time.RFC1123), appName}

	html, err := render(passwordChangedHTML, view)
	if err != nil {
		return Message{}, err
	}
	text, err := renderText(passwordChangedText, view)
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      to,
		Subject: "Your password was changed",
		HTML:    html,
		Text:    text,
	}, nil
}

func render(t *htmltemplate.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

func renderText(t *texttemplate.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
