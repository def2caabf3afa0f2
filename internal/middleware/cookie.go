package middleware

import (
	"net/http"
	"time"
)

// SessionCookieConfig はセッションCookieの属性。
type SessionCookieConfig struct {
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// WithDefaults は未指定のSameSiteをLaxにし、SameSite=NoneではSecureを強制する。
func (c SessionCookieConfig) WithDefaults() SessionCookieConfig {
	c.SameSite = defaultSameSite(c.SameSite)
	if c.SameSite == http.SameSiteNoneMode {
		c.Secure = true
	}
	return c
}

// SetSessionCookie はセッショントークンをHttpOnly Cookieとして設定する。
// maxAgeは秒に切り捨て、1秒未満は1秒とする。
func SetSessionCookie(w http.ResponseWriter, cfg SessionCookieConfig, token string, maxAge time.Duration) {
	cfg = cfg.WithDefaults()
	seconds := int(maxAge / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   seconds,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	})
}

// defaultSameSite はゼロ値とSameSiteDefaultModeをLaxに読み替える。
func defaultSameSite(s http.SameSite) http.SameSite {
	if s == 0 || s == http.SameSiteDefaultMode {
		return http.SameSiteLaxMode
	}
	return s
}
