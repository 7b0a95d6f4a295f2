// Package main provides a CI-friendly smoke test for the Vnipet auth API.
//
// It validates:
//   - register + login on a fresh device
//   - refresh rotation and device binding
//   - access token validation and session listing
//   - logout kills the refresh token
package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const defaultPassword = "smoke test walks the dog"

type tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type loginResponse struct {
	Success  bool   `json:"success"`
	Tokens   tokens `json:"tokens"`
	DeviceID string `json:"deviceId"`
}

type refreshResponse struct {
	Success bool   `json:"success"`
	Tokens  tokens `json:"tokens"`
}

type errorResponse struct {
	Error struct {
		Code string `json:"code"`
	} `json:"error"`
}

type smoke struct {
	base    string
	client  *http.Client
	timeout time.Duration
	verbose bool
}

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	s := &smoke{
		base:    strings.TrimRight(*baseURL, "/"),
		client:  &http.Client{},
		timeout: *timeout,
		verbose: *verbose,
	}
	root := context.Background()

	id := ulid.MustNew(ulid.Now(), rand.Reader).String()
	email := "smoke-" + strings.ToLower(id) + "@vnipet.test"
	deviceA := "smoke-" + id + "-a"
	deviceB := "smoke-" + id + "-b"
	creds := map[string]any{
		"email":      email,
		"password":   defaultPassword,
		"deviceId":   deviceA,
		"deviceInfo": map[string]string{"platform": "android", "appVersion": "smoke"},
	}

	var reg loginResponse
	s.mustStatus(root, http.MethodPost, "/auth/register", "", creds, http.StatusCreated, &reg)
	if reg.DeviceID != deviceA || reg.Tokens.RefreshToken == "" {
		fatalf("register: unexpected response %+v", reg)
	}

	var login loginResponse
	s.mustStatus(root, http.MethodPost, "/auth/login", "", creds, http.StatusOK, &login)

	var rotated refreshResponse
	s.mustStatus(root, http.MethodPost, "/auth/refresh", "",
		map[string]string{"refreshToken": login.Tokens.RefreshToken, "deviceId": deviceA},
		http.StatusOK, &rotated)
	if rotated.Tokens.RefreshToken == login.Tokens.RefreshToken {
		fatalf("refresh: token was not rotated")
	}

	s.mustError(root, "/auth/refresh", map[string]string{"refreshToken": login.Tokens.RefreshToken, "deviceId": deviceA},
		http.StatusUnauthorized, "invalid_refresh_token")
	s.mustError(root, "/auth/refresh", map[string]string{"refreshToken": rotated.Tokens.RefreshToken, "deviceId": deviceB},
		http.StatusUnauthorized, "invalid_refresh_token")

	s.mustStatus(root, http.MethodGet, "/auth/validate", rotated.Tokens.AccessToken, nil, http.StatusOK, nil)

	var sessions struct {
		Sessions []json.RawMessage `json:"sessions"`
	}
	s.mustStatus(root, http.MethodGet, "/auth/sessions", rotated.Tokens.AccessToken, nil, http.StatusOK, &sessions)
	if len(sessions.Sessions) == 0 {
		fatalf("sessions: expected at least one active session")
	}

	s.mustStatus(root, http.MethodPost, "/auth/logout", "",
		map[string]string{"refreshToken": rotated.Tokens.RefreshToken, "deviceId": deviceA},
		http.StatusOK, nil)
	s.mustError(root, "/auth/refresh", map[string]string{"refreshToken": rotated.Tokens.RefreshToken, "deviceId": deviceA},
		http.StatusUnauthorized, "invalid_refresh_token")

	fmt.Printf("OK: email=%s device=%s sessions=%d\n", email, deviceA, len(sessions.Sessions))
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func (s *smoke) do(parent context.Context, method, path, bearer string, body any) (int, []byte) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			fatalf("%s %s: encode: %v", method, path, err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.base+path, rd)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		fatalf("%s %s: read body: %v", method, path, err)
	}
	if s.verbose {
		fmt.Printf("%s %s -> %d %s\n", method, path, resp.StatusCode, raw)
	}
	return resp.StatusCode, raw
}

func (s *smoke) mustStatus(ctx context.Context, method, path, bearer string, body any, want int, out any) {
	got, raw := s.do(ctx, method, path, bearer, body)
	if got != want {
		fatalf("%s %s: status=%d want=%d body=%s", method, path, got, want, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}

func (s *smoke) mustError(ctx context.Context, path string, body any, wantStatus int, wantCode string) {
	var er errorResponse
	s.mustStatus(ctx, http.MethodPost, path, "", body, wantStatus, &er)
	if er.Error.Code != wantCode {
		fatalf("POST %s: code=%q want=%q", path, er.Error.Code, wantCode)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
