package model

import "time"

// LoginTimeLayout is the format of Session.LoginTime.
const LoginTimeLayout = "2006-01-02 15:04:05"

// Session is the JSON record kept in the session store for one device or
// browser login.  It lives at session:{user_id}:{sha256(refresh_token)}.
type Session struct {
	UserID       uint64 `json:"user_id"`
	RefreshToken string `json:"refresh_token"`
	IPAddress    string `json:"ip_address"`
	UserAgent    string `json:"user_agent"`
	LoginTime    string `json:"login_time"`
}

// LoggedInAt parses LoginTime; the zero time is returned for malformed values.
func (s Session) LoggedInAt() time.Time {
	t, err := time.ParseInLocation(LoginTimeLayout, s.LoginTime, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}
