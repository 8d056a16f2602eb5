package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		shipping string
		billing  string
		want     Result
	}{
		{
			name: "international with plus and separators",
			raw:  "+1 (201) 555-0123",
			want: Result{IsValid: true, Canonical: "12015550123", UsedCountry: "US"},
		},
		{
			name:     "national number with shipping hint",
			raw:      "06 50 12 34 56",
			shipping: "MA",
			want:     Result{IsValid: true, Canonical: "212650123456", UsedCountry: "MA"},
		},
		{
			name:     "wrong shipping hint falls through to billing",
			raw:      "0650123456",
			shipping: "US",
			billing:  "ma",
			want:     Result{IsValid: true, Canonical: "212650123456", UsedCountry: "MA"},
		},
		{
			name: "digits only are auto-detected",
			raw:  "212650123456",
			want: Result{IsValid: true, Canonical: "212650123456", UsedCountry: "MA"},
		},
		{
			name: "national number without hints is invalid",
			raw:  "0650123456",
			want: Result{},
		},
		{
			name: "garbage",
			raw:  "not a phone",
			want: Result{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw, tt.shipping, tt.billing))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	first := Normalize("0650123456", "MA", "")
	assert.True(t, first.IsValid)

	second := Normalize(first.Canonical, "MA", "")
	assert.True(t, second.IsValid)
	assert.Equal(t, first.Canonical, second.Canonical)

	us := Normalize("+12015550123", "US", "")
	again := Normalize(us.Canonical, "US", "")
	assert.Equal(t, us.Canonical, again.Canonical)
}

func TestNormalizeWithDefault(t *testing.T) {
	t.Run("dial code", func(t *testing.T) {
		res := NormalizeWithDefault("0650123456", "", "", "212")
		assert.True(t, res.IsValid)
		assert.Equal(t, "212650123456", res.Canonical)
	})

	t.Run("region code", func(t *testing.T) {
		res := NormalizeWithDefault("650123456", "", "", "MA")
		assert.True(t, res.IsValid)
		assert.Equal(t, "212650123456", res.Canonical)
	})

	t.Run("leading plus skips fallback", func(t *testing.T) {
		res := NormalizeWithDefault("+0650123456", "", "", "212")
		assert.False(t, res.IsValid)
	})

	t.Run("unknown region", func(t *testing.T) {
		res := NormalizeWithDefault("0650123456", "", "", "XX")
		assert.False(t, res.IsValid)
	})
}

func TestDigits(t *testing.T) {
	assert.Equal(t, "212650123456", Digits("212650123456@s.whatsapp.net"))
	assert.Equal(t, "", Digits("abc"))
}
