package mail

import "html/template"

var verifyEmailTemplate = template.Must(template.New("verify_email").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>{{.AppName}}: verify your email</title></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
<h2>Confirm your email address</h2>
<p>Thanks for signing up to {{.AppName}}. Click the link below to verify your email address.</p>
<p><a href="{{.Link}}">Verify email</a></p>
<p>The link expires in {{.ExpiresIn}}. If you did not create an account you can ignore this message.</p>
</body>
</html>`))

var resetPasswordTemplate = template.Must(template.New("reset_password").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>{{.AppName}}: reset your password</title></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
<h2>Reset your password</h2>
<p>We received a request to reset the password of your {{.AppName}} account.</p>
<p><a href="{{.Link}}">Choose a new password</a></p>
<p>The link expires in {{.ExpiresIn}}. If you did not ask for a reset, no action is needed.</p>
</body>
</html>`))

type templateData struct {
	AppName   string
	Link      string
	ExpiresIn string
}
