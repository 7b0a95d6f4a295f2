package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.Login("success")
	m.Login("success")
	m.Login("invalid")
	m.Refresh("reuse_detected")
	m.Logout("success")
	m.TokensRevoked("device_blocked", 3)
	m.TokensRevoked("logout", 0)
	m.Swept(7)
	m.Swept(0)

	cases := []struct {
		name string
		got  float64
		want float64
	}{
		{"login success", testutil.ToFloat64(m.logins.WithLabelValues("success")), 2},
		{"login invalid", testutil.ToFloat64(m.logins.WithLabelValues("invalid")), 1},
		{"refresh reuse", testutil.ToFloat64(m.refreshes.WithLabelValues("reuse_detected")), 1},
		{"logout success", testutil.ToFloat64(m.logouts.WithLabelValues("success")), 1},
		{"revoked blocked", testutil.ToFloat64(m.revoked.WithLabelValues("device_blocked")), 3},
		{"swept", testutil.ToFloat64(m.swept), 7},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Fatalf("%s = %v, want %v", tc.name, tc.got, tc.want)
		}
	}

	// A zero revocation must not create a series.
	if n := testutil.CollectAndCount(m.revoked); n != 1 {
		t.Fatalf("revoked series = %d, want 1", n)
	}
}

func TestMetrics_InstrumentBoundsRouteLabel(t *testing.T) {
	t.Parallel()

	m := NewMetrics("/auth/login")
	h := m.Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/login" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	for _, p := range []string{"/auth/login", "/random/1", "/random/2"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, p, nil))
	}

	if n := testutil.CollectAndCount(m.httpDuration); n != 2 {
		t.Fatalf("histogram series = %d, want 2", n)
	}
}

func TestMetrics_HandlerExposesSeries(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.Login("locked")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	if !strings.Contains(string(body), `vnipet_auth_logins_total{outcome="locked"} 1`) {
		t.Fatalf("metrics output missing login series:\n%s", body)
	}
}
