package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func stubServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/compliance/report/full" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_Compliant(t *testing.T) {
	srv := stubServer(t, http.StatusOK, `{"overall_status":"COMPLIANT","data_quality_score":100}`)

	var out bytes.Buffer
	if code := run(&out, srv.URL, ""); code != 0 {
		t.Errorf("exit code = %d, want 0\noutput:\n%s", code, out.String())
	}
}

func TestRun_NonCompliantBodyExitsOne(t *testing.T) {
	// Non-compliance arrives as a 200 with the verdict in the body; the exit
	// code must still be non-zero.
	srv := stubServer(t, http.StatusOK, `{"overall_status":"NON_COMPLIANT","data_quality_score":50}`)

	var out bytes.Buffer
	if code := run(&out, srv.URL, ""); code != 1 {
		t.Errorf("exit code = %d, want 1\noutput:\n%s", code, out.String())
	}
	if !strings.Contains(out.String(), "NON_COMPLIANT") {
		t.Errorf("output should name the verdict:\n%s", out.String())
	}
}

func TestRun_ErrorStatus(t *testing.T) {
	srv := stubServer(t, http.StatusOK, `{"overall_status":"ERROR"}`)

	var out bytes.Buffer
	if code := run(&out, srv.URL, ""); code != 2 {
		t.Errorf("exit code = %d, want 2\noutput:\n%s", code, out.String())
	}
}

func TestRun_NonOKStatus(t *testing.T) {
	srv := stubServer(t, http.StatusUnauthorized, `{"error":"authorization required"}`)

	var out bytes.Buffer
	if code := run(&out, srv.URL, ""); code != 2 {
		t.Errorf("exit code = %d, want 2\noutput:\n%s", code, out.String())
	}
}

func TestRun_MalformedBody(t *testing.T) {
	srv := stubServer(t, http.StatusOK, `not json`)

	var out bytes.Buffer
	if code := run(&out, srv.URL, ""); code != 2 {
		t.Errorf("exit code = %d, want 2\noutput:\n%s", code, out.String())
	}
}

func TestRun_TokenHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q, want Bearer tok-1", got)
		}
		w.Write([]byte(`{"overall_status":"COMPLIANT"}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	if code := run(&out, srv.URL, "tok-1"); code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
}

func TestRun_TransportFailure(t *testing.T) {
	srv := stubServer(t, http.StatusOK, "{}")
	url := srv.URL
	srv.Close()

	var out bytes.Buffer
	if code := run(&out, url, ""); code != 2 {
		t.Errorf("exit code = %d, want 2\noutput:\n%s", code, out.String())
	}
}
