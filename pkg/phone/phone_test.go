package phone_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"imovelzap/pkg/phone"
)

func TestDigits(t *testing.T) {
	cases := map[string]string{
		"21999998888":       "5521999998888",
		"(21) 99999-8888":   "5521999998888",
		"+55 21 99999-8888": "5521999998888",
		"5521999998888":     "5521999998888",
		"3133334444":        "553133334444",
		"":                  "",
	}
	for in, want := range cases {
		assert.Equal(t, want, phone.Digits(in), "input %q", in)
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "+5521999998888", phone.Normalize("21 99999-8888"))
	assert.Equal(t, "+5521999998888", phone.Normalize("+5521999998888"))
	assert.Equal(t, "", phone.Normalize("--"))
}

func TestLocal(t *testing.T) {
	assert.Equal(t, "21999998888", phone.Local("5521999998888"))
	assert.Equal(t, "21999998888", phone.Local("21999998888"))
	// A short number starting with 55 is an area code, not a country code.
	assert.Equal(t, "5533334444", phone.Local("55 3333-4444"))
}

func TestFromJID(t *testing.T) {
	assert.Equal(t, "5521999998888", phone.FromJID("5521999998888@s.whatsapp.net"))
	assert.Equal(t, "5521999998888", phone.FromJID("5521999998888:12@s.whatsapp.net"))
	assert.Equal(t, "123456789-987654", phone.FromJID("123456789-987654@g.us"))
}
