package verification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch r.URL.Path {
		case "/otp/send":
			if body["identifier"] == "000000000000" {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusOK)
		case "/otp/verify":
			switch body["otp"] {
			case "1234":
				_, _ = w.Write([]byte(`{"verified":true,"status":"Installment not received"}`))
			case "9999":
				w.WriteHeader(http.StatusUnauthorized)
			default:
				_, _ = w.Write([]byte(`{"verified":false}`))
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSendCode(t *testing.T) {
	c := NewClient(newServer(t).URL, "", time.Second)

	assert.NoError(t, c.SendCode(context.Background(), "123456789012"))
	assert.Error(t, c.SendCode(context.Background(), "000000000000"))
}

func TestVerifyCode(t *testing.T) {
	c := NewClient(newServer(t).URL, "Bearer x", time.Second)

	tests := []struct {
		code       string
		wantOK     bool
		wantStatus string
	}{
		{code: "1234", wantOK: true, wantStatus: "Installment not received"},
		{code: "9999"},
		{code: "0000"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, ok, err := c.VerifyCode(context.Background(), "123456789012", tt.code)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantStatus, status)
		})
	}
}
