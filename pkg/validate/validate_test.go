package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/subtrack/pkg/errs"
)

type sample struct {
	Name     string  `json:"name" validate:"required,max=8"`
	Cycle    string  `json:"billing_cycle" validate:"required,billing_cycle"`
	Currency string  `json:"currency" validate:"omitempty,iso4217"`
	Days     *int    `json:"reminder_days" validate:"omitempty,min=0,max=30"`
	Website  *string `json:"website" validate:"omitempty,url"`
}

func TestStruct(t *testing.T) {
	days := 31
	site := "not a url"
	err := Struct(&sample{Name: "a very long name", Cycle: "fortnightly", Currency: "usd", Days: &days, Website: &site})
	require.Error(t, err)

	var verr *errs.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, map[string]string{
		"name":          "must be at most 8",
		"billing_cycle": "unsupported value fortnightly",
		"currency":      "must be an ISO-4217 currency code",
		"reminder_days": "must be at most 30",
		"website":       "must be a valid URL",
	}, verr.Fields)
}

func TestStruct_Valid(t *testing.T) {
	days := 3
	assert.NoError(t, Struct(&sample{Name: "Netflix", Cycle: "monthly", Currency: "USD", Days: &days}))
}

func TestStruct_Required(t *testing.T) {
	err := Struct(&sample{})
	var verr *errs.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "is required", verr.Fields["name"])
	assert.Equal(t, "is required", verr.Fields["billing_cycle"])
}
