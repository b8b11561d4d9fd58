package idempotency

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/shopline/commerce/pkg/errors"
)

func TestFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"absent", "", "", false},
		{"trimmed", "  abc-123  ", "abc-123", false},
		{"step key", "3f1c:0:debit", "3f1c:0:debit", false},
		{"inner space", "a b", "", true},
		{"non ascii", "clé", "", true},
		{"too long", strings.Repeat("k", MaxKeyLength+1), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPatch, "/api/v1/products/P1/stock", nil)
			if tt.header != "" {
				req.Header.Set(Header, tt.header)
			}
			got, err := FromRequest(req)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStepKey_RoundTrip(t *testing.T) {
	key := StepKey("0b6f5a52-6f1c-4d3e-9a57-1f6f3b9a2c10", 2, Credit)
	assert.Equal(t, "0b6f5a52-6f1c-4d3e-9a57-1f6f3b9a2c10:2:credit", key)

	id, seq, dir, err := ParseStepKey(key)
	require.NoError(t, err)
	assert.Equal(t, "0b6f5a52-6f1c-4d3e-9a57-1f6f3b9a2c10", id)
	assert.Equal(t, 2, seq)
	assert.Equal(t, Credit, dir)
}

func TestStepKey_DistinctPerStepAndDirection(t *testing.T) {
	keys := map[string]bool{
		StepKey("p", 0, Debit):  true,
		StepKey("p", 1, Debit):  true,
		StepKey("p", 0, Credit): true,
		StepKey("q", 0, Debit):  true,
	}
	assert.Len(t, keys, 4)
}

func TestParseStepKey_Invalid(t *testing.T) {
	for _, key := range []string{"", "p:0", "p:x:debit", "p:-1:debit", "p:0:refund"} {
		_, _, _, err := ParseStepKey(key)
		assert.Error(t, err, key)
	}
}
