package jwtauth

import "time"

// Claims is the trusted payload of a verified token.
type Claims struct {
	Subject   string                 // sub
	Issuer    string                 // iss
	Audience  []string               // aud
	ExpiresAt time.Time              // exp
	NotBefore time.Time              // nbf
	IssuedAt  time.Time              // iat
	JWTID     string                 // jti
	Email     string                 // email, when the issuer includes it
	Custom    map[string]interface{} // everything else
}

// StringClaim returns a string-valued claim by its JWT name.
func (c *Claims) StringClaim(name string) (string, bool) {
	switch name {
	case "sub":
		return c.Subject, c.Subject != ""
	case "iss":
		return c.Issuer, c.Issuer != ""
	case "jti":
		return c.JWTID, c.JWTID != ""
	case "email":
		return c.Email, c.Email != ""
	}
	v, ok := c.Custom[name].(string)
	return v, ok && v != ""
}
