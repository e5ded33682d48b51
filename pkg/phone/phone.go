// Package phone normalizes Brazilian phone numbers between the forms used
// across the pipeline: the canonical +<country><number> stored on leads,
// the digit-only wire form the gateway expects, and the local form used for
// matching inbound senders against stored contacts.
package phone

import "strings"

// DefaultCountryCode is prefixed to numbers that carry none. Local numbers
// are 10 or 11 digits (area code plus subscriber).
const DefaultCountryCode = "55"

// Digits returns the gateway wire form of a raw phone: digits only, with
// the country code prefixed when absent.
func Digits(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()
	if d == "" {
		return ""
	}
	if len(d) <= 11 {
		d = DefaultCountryCode + d
	}
	return d
}

// Normalize returns the canonical +<country><number> form.
func Normalize(raw string) string {
	d := Digits(raw)
	if d == "" {
		return ""
	}
	return "+" + d
}

// Local strips the default country code, yielding the area-code-plus-number
// form used for partial matching against records stored without a prefix.
func Local(raw string) string {
	d := Digits(raw)
	if strings.HasPrefix(d, DefaultCountryCode) && len(d) > 11 {
		return d[len(DefaultCountryCode):]
	}
	return d
}

// FromJID extracts the phone portion of a provider JID such as
// "5521999998888@s.whatsapp.net" or "5521999998888:12@s.whatsapp.net".
func FromJID(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		jid = jid[:i]
	}
	if i := strings.IndexByte(jid, ':'); i >= 0 {
		jid = jid[:i]
	}
	return jid
}
