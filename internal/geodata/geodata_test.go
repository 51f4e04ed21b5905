package geodata

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsEmpty(t *testing.T) {
	assert.True(t, LocationData{}.IsEmpty())
	assert.False(t, LocationData{City: "Mountain View"}.IsEmpty())
	assert.False(t, LocationData{ASN: 15169}.IsEmpty())
}

func TestCountryNameFor(t *testing.T) {
	assert.Equal(t, "United States", CountryNameFor("US"))
	assert.Equal(t, "Germany", CountryNameFor("de"))
	assert.Equal(t, "", CountryNameFor(""))
	assert.Equal(t, "", CountryNameFor("USA"))
	assert.Equal(t, "", CountryNameFor("??"))
}

func TestQuotaExceededErrorMatching(t *testing.T) {
	var err error = &QuotaExceededError{Provider: "ip-api", RetryAfter: 30 * time.Second}
	var qe *QuotaExceededError
	assert.True(t, errors.As(err, &qe))
	assert.Equal(t, "ip-api", qe.Provider)
	assert.Contains(t, err.Error(), "retry after")

	assert.False(t, errors.As(errors.New("boom"), &qe))
}
