package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/hitoshi/boletin/internal/model"
)

const testClientID = "test-client-id.apps.googleusercontent.com"

type testSigner struct {
	kid string
	key *rsa.PrivateKey
}

func newTestSigner(t *testing.T, kid string) *testSigner {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	return &testSigner{kid: kid, key: key}
}

func (s *testSigner) jwk() map[string]string {
	return map[string]string{
		"kid": s.kid,
		"kty": "RSA",
		"alg": "RS256",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(s.key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(s.key.E)).Bytes()),
	}
}

func (s *testSigner) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.kid
	signed, err := token.SignedString(s.key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func validClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":            "https://accounts.google.com",
		"aud":            testClientID,
		"sub":            "1234567890",
		"email":          "ana@bold.co",
		"email_verified": true,
		"name":           "Ana",
		"picture":        "https://lh3.googleusercontent.com/a/ana",
		"hd":             "bold.co",
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	}
}

// newCertsServer は署名鍵セットを返すテストサーバーを起動する。
func newCertsServer(t *testing.T, calls *int32, signers ...*testSigner) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		keys := make([]map[string]string, 0, len(signers))
		for _, s := range signers {
			keys = append(keys, s.jwk())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=19800, must-revalidate, no-transform")
		json.NewEncoder(w).Encode(map[string]interface{}{"keys": keys})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestVerifier(t *testing.T, certsURL string) *GoogleIDTokenVerifier {
	t.Helper()
	v := NewGoogleIDTokenVerifier(GoogleIDTokenConfig{
		ClientID: testClientID,
		CertsURL: certsURL,
	}, newTestLogger())
	t.Cleanup(v.Close)
	return v
}

func TestGoogleIDTokenVerifier_Decode_Success(t *testing.T) {
	signer := newTestSigner(t, "key-1")
	srv := newCertsServer(t, nil, signer)
	v := newTestVerifier(t, srv.URL)

	claims, err := v.Decode(context.Background(), signer.sign(t, validClaims()))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if claims.Email != "ana@bold.co" {
		t.Errorf("Email = %q, want %q", claims.Email, "ana@bold.co")
	}
	if claims.Name != "Ana" {
		t.Errorf("Name = %q, want %q", claims.Name, "Ana")
	}
	if claims.HostedDomain != "bold.co" {
		t.Errorf("HostedDomain = %q, want %q", claims.HostedDomain, "bold.co")
	}
	if claims.EmailUnverified() {
		t.Error("EmailUnverified() = true, want false")
	}
}

func TestGoogleIDTokenVerifier_Decode_Rejects(t *testing.T) {
	signer := newTestSigner(t, "key-1")
	other := newTestSigner(t, "key-1")
	srv := newCertsServer(t, nil, signer)

	tests := []struct {
		name  string
		token func() string
	}{
		{"wrong audience", func() string {
			c := validClaims()
			c["aud"] = "someone-else"
			return signer.sign(t, c)
		}},
		{"wrong issuer", func() string {
			c := validClaims()
			c["iss"] = "https://evil.example.com"
			return signer.sign(t, c)
		}},
		{"expired", func() string {
			c := validClaims()
			c["exp"] = time.Now().Add(-time.Hour).Unix()
			return signer.sign(t, c)
		}},
		{"missing exp", func() string {
			c := validClaims()
			delete(c, "exp")
			return signer.sign(t, c)
		}},
		{"signed by another key", func() string {
			return other.sign(t, validClaims())
		}},
		{"missing email", func() string {
			c := validClaims()
			delete(c, "email")
			return signer.sign(t, c)
		}},
		{"HS256", func() string {
			tok := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims())
			tok.Header["kid"] = "key-1"
			s, _ := tok.SignedString([]byte("secret"))
			return s
		}},
		{"garbage", func() string { return "abc.def" }},
		{"empty", func() string { return "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVerifier(t, srv.URL)
			_, err := v.Decode(context.Background(), tt.token())
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, model.ErrAssertionDecode) {
				t.Errorf("error = %v, want ErrAssertionDecode", err)
			}
		})
	}
}

func TestGoogleIDTokenVerifier_AcceptsBareIssuer(t *testing.T) {
	signer := newTestSigner(t, "key-1")
	srv := newCertsServer(t, nil, signer)
	v := newTestVerifier(t, srv.URL)

	c := validClaims()
	c["iss"] = "accounts.google.com"
	if _, err := v.Decode(context.Background(), signer.sign(t, c)); err != nil {
		t.Errorf("Decode() error = %v", err)
	}
}

func TestGoogleIDTokenVerifier_CachesKeys(t *testing.T) {
	var calls int32
	signer := newTestSigner(t, "key-1")
	srv := newCertsServer(t, &calls, signer)
	v := newTestVerifier(t, srv.URL)

	for i := 0; i < 3; i++ {
		if _, err := v.Decode(context.Background(), signer.sign(t, validClaims())); err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("certs fetched %d times, want 1", got)
	}
}

// rotatingCertsServer はrotateが呼ばれるまでbefore、その後はafterの鍵セットを返す。
func rotatingCertsServer(t *testing.T, calls *int32, before, after []*testSigner) (*httptest.Server, func()) {
	t.Helper()
	var rotated atomic.Bool
	old := newCertsServer(t, nil, before...)
	next := newCertsServer(t, nil, after...)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if rotated.Load() {
			next.Config.Handler.ServeHTTP(w, r)
			return
		}
		old.Config.Handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, func() { rotated.Store(true) }
}

func TestGoogleIDTokenVerifier_UnknownKidPicksUpRotatedKey(t *testing.T) {
	var calls int32
	signer := newTestSigner(t, "key-1")
	rotated := newTestSigner(t, "key-2")
	srv, rotate := rotatingCertsServer(t, &calls, []*testSigner{signer}, []*testSigner{signer, rotated})
	v := newTestVerifier(t, srv.URL)

	if err := v.Ready(context.Background()); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}
	rotate()

	if _, err := v.Decode(context.Background(), rotated.sign(t, validClaims())); err != nil {
		t.Fatalf("Decode() with rotated key error = %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("certs fetched %d times, want 2", got)
	}
}

// TestGoogleIDTokenVerifier_UnknownKidsDoNotMultiplyFetches は未知のkidを大量に送っても
// 鍵セットの再取得がレート制限されることを検証する。
func TestGoogleIDTokenVerifier_UnknownKidsDoNotMultiplyFetches(t *testing.T) {
	var calls int32
	signer := newTestSigner(t, "key-1")
	srv := newCertsServer(t, &calls, signer)
	v := newTestVerifier(t, srv.URL)

	if err := v.Ready(context.Background()); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}

	forged := newTestSigner(t, "forged")
	for i := 0; i < 50; i++ {
		forged.kid = fmt.Sprintf("forged-%d", i)
		if _, err := v.Decode(context.Background(), forged.sign(t, validClaims())); err == nil {
			t.Fatalf("forged kid %d was accepted", i)
		}
	}

	if got := atomic.LoadInt32(&calls); got > 2 {
		t.Errorf("certs fetched %d times, want at most 2", got)
	}

	// 正規の鍵は引き続き検証できる
	if _, err := v.Decode(context.Background(), signer.sign(t, validClaims())); err != nil {
		t.Errorf("Decode() error = %v", err)
	}
}

func TestGoogleIDTokenVerifier_Ready_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	v := newTestVerifier(t, srv.URL)
	if err := v.Ready(context.Background()); err == nil {
		t.Error("expected error when certs endpoint fails")
	}
}

// TestGoogleIDTokenVerifier_Ready_RecoversAfterOutage は起動時に鍵を取得できなくても
// 作り直しの間隔が経過すれば回復することを検証する。
func TestGoogleIDTokenVerifier_Ready_RecoversAfterOutage(t *testing.T) {
	var up atomic.Bool
	var calls int32
	signer := newTestSigner(t, "key-1")
	certs := newCertsServer(t, nil, signer)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if !up.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		certs.Config.Handler.ServeHTTP(w, r)
	}))
	defer srv.Close()

	v := newTestVerifier(t, srv.URL)
	if err := v.Ready(context.Background()); err == nil {
		t.Fatal("expected error while certs endpoint is down")
	}

	// 間隔内の再試行では取得し直さない
	for i := 0; i < 5; i++ {
		_ = v.Ready(context.Background())
	}
	if got := atomic.LoadInt32(&calls); got > 2 {
		t.Errorf("certs fetched %d times during outage, want at most 2", got)
	}

	up.Store(true)
	v.rebuild = rate.NewLimiter(rate.Inf, 1)
	if err := v.Ready(context.Background()); err != nil {
		t.Errorf("Ready() after recovery error = %v", err)
	}
}

func TestGoogleIDTokenVerifier_Ready_NoUsableKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"keys":[{"kid":"ec","kty":"EC"}]}`))
	}))
	defer srv.Close()

	v := newTestVerifier(t, srv.URL)
	if err := v.Ready(context.Background()); err == nil {
		t.Error("expected error when no RSA keys are published")
	}
}
