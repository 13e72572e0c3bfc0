package tracing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsPayerData(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/payments/verify"),
		attribute.String("email", "a@b.c"),
		attribute.String("Razorpay_Signature", "deadbeef"),
	)
	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
}

func TestSafeErrorFlattensWrappedErrors(t *testing.T) {
	inner := errors.New("inner")
	err := SafeError(fmt.Errorf("outer: %w", inner))
	assert.EqualError(t, err, "outer: inner")
	assert.False(t, errors.Is(err, inner))
	assert.Nil(t, SafeError(nil))
}

func TestClampRatio(t *testing.T) {
	assert.Equal(t, 0.0, clampRatio(-1))
	assert.Equal(t, 1.0, clampRatio(3))
	assert.Equal(t, 0.25, clampRatio(0.25))
}
