package ipcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gatekeeper-service/internal/config"
)

func newTestChecker(t *testing.T, qualityScore, ipapi http.HandlerFunc) *Checker {
	t.Helper()

	c := NewChecker(&config.IPCheckConfig{
		QualityScoreKey: "test-key",
		Timeout:         2 * time.Second,
	})

	if qualityScore != nil {
		srv := httptest.NewServer(qualityScore)
		t.Cleanup(srv.Close)
		c.qualityScoreBaseURL = srv.URL
	} else {
		c.qualityScoreKey = ""
	}

	if ipapi != nil {
		srv := httptest.NewServer(ipapi)
		t.Cleanup(srv.Close)
		c.ipapiBaseURL = srv.URL
	} else {
		// Unroutable so an accidental call fails fast instead of hitting
		// the real service.
		c.ipapiBaseURL = "http://127.0.0.1:1"
	}

	return c
}

func TestCheckPrivateAddressesSkipLookups(t *testing.T) {
	called := false
	c := newTestChecker(t,
		func(w http.ResponseWriter, r *http.Request) { called = true },
		func(w http.ResponseWriter, r *http.Request) { called = true })

	for _, ip := range []string{"127.0.0.1", "10.0.0.5", "192.168.1.10", "::1"} {
		rep := c.Check(context.Background(), ip)
		require.True(t, rep.IsPrivate, "%s should be private", ip)
		require.False(t, rep.IsVPN)
		require.Equal(t, "allow", rep.Recommendation)
	}
	require.False(t, called)
}

func TestCheckFlagsVPNFromQualityScore(t *testing.T) {
	c := newTestChecker(t,
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"vpn": true, "proxy": false, "tor": false}`))
		},
		func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"org": "Example ISP"}`))
		})

	rep := c.Check(context.Background(), "203.0.113.7")
	require.True(t, rep.IsVPN)
	require.Equal(t, "high", rep.RiskLevel)
	require.Equal(t, "block", rep.Recommendation)
}

func TestCheckFlagsVPNFromOrgKeyword(t *testing.T) {
	c := newTestChecker(t,
		func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"vpn": false, "proxy": false, "tor": false}`))
		},
		func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"org": "SuperFast VPN Hosting Ltd"}`))
		})

	rep := c.Check(context.Background(), "203.0.113.7")
	require.True(t, rep.IsVPN)
	require.Equal(t, "block", rep.Recommendation)
}

func TestCheckCleanAddress(t *testing.T) {
	c := newTestChecker(t,
		func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"vpn": false, "proxy": false, "tor": false}`))
		},
		func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"org": "Residential Broadband Co"}`))
		})

	rep := c.Check(context.Background(), "203.0.113.7")
	require.False(t, rep.IsVPN)
	require.Equal(t, "medium", rep.RiskLevel)
	require.Equal(t, "allow", rep.Recommendation)
}

// A reputation service outage must not block verification.
func TestCheckLookupFailureAllows(t *testing.T) {
	c := newTestChecker(t,
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		nil)

	rep := c.Check(context.Background(), "203.0.113.7")
	require.False(t, rep.IsVPN)
	require.Equal(t, "allow", rep.Recommendation)
}
