package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hitoshi/boletin/internal/model"
)

func newCSRFHandler(t *testing.T, called *bool, gotToken *string) http.Handler {
	t.Helper()
	mw := NewCSRFMiddleware(CSRFConfig{CookieSecure: false, CookieDomain: ""})
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		if gotToken != nil {
			*gotToken = CSRFToken(r.Context())
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCSRFMiddleware_SafeMethods_PassThroughWithoutToken(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			var called bool
			handler := newCSRFHandler(t, &called, nil)

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(method, "/", nil))

			if !called {
				t.Fatalf("handler should have been called for %s request", method)
			}
			if w.Result().StatusCode != http.StatusOK {
				t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
			}
		})
	}
}

// TestCSRFMiddleware_GET_SetsCookieAndContextToken はCookie未設定のGETで
// 新しいトークンがCookieとコンテキストの両方に設定されることを検証する。
func TestCSRFMiddleware_GET_SetsCookieAndContextToken(t *testing.T) {
	var called bool
	var gotToken string
	handler := newCSRFHandler(t, &called, &gotToken)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("CSRF cookie should be set")
	}
	if cookie.HttpOnly {
		t.Error("CSRF cookie must be readable from JavaScript")
	}
	if len(cookie.Value) != 64 {
		t.Errorf("token length = %d, want 64", len(cookie.Value))
	}
	if gotToken != cookie.Value {
		t.Errorf("context token = %q, want cookie value %q", gotToken, cookie.Value)
	}
}

func TestCSRFMiddleware_GET_ExistingCookieIsReused(t *testing.T) {
	var called bool
	var gotToken string
	handler := newCSRFHandler(t, &called, &gotToken)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing-token"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if len(w.Result().Cookies()) != 0 {
		t.Error("existing CSRF cookie should not be reissued")
	}
	if gotToken != "existing-token" {
		t.Errorf("context token = %q, want existing-token", gotToken)
	}
}

func TestCSRFMiddleware_POST_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		header string
	}{
		{name: "Cookieなし", header: "token-abc"},
		{name: "ヘッダーなし", cookie: "token-abc"},
		{name: "不一致", cookie: "token-abc", header: "token-xyz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			handler := newCSRFHandler(t, &called, nil)

			req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set(csrfHeaderName, tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if called {
				t.Error("handler should not be called")
			}
			if w.Result().StatusCode != http.StatusForbidden {
				t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusForbidden)
			}
			var body ErrorResponseBody
			if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body.Code != model.ErrCodeInvalidCSRF {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidCSRF)
			}
		})
	}
}

func TestCSRFMiddleware_POST_MatchingHeader_Passes(t *testing.T) {
	var called bool
	handler := newCSRFHandler(t, &called, nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "token-abc"})
	req.Header.Set(csrfHeaderName, "token-abc")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called {
		t.Fatal("handler should have been called")
	}
}

// TestCSRFMiddleware_POST_MatchingFormField_Passes はHTMLフォームのフィールドでも検証が通ることを検証する。
func TestCSRFMiddleware_POST_MatchingFormField_Passes(t *testing.T) {
	var called bool
	handler := newCSRFHandler(t, &called, nil)

	form := url.Values{CSRFFormField: {"token-abc"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "token-abc"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called {
		t.Fatal("handler should have been called")
	}
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestCSRFTokenHandler_ReturnsToken(t *testing.T) {
	handler := NewCSRFTokenHandler(CSRFConfig{})

	req := httptest.NewRequest(http.MethodGet, "/auth/csrf-token", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing-token"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var body map[string]string
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body["token"] != "existing-token" {
		t.Errorf("token = %q, want existing-token", body["token"])
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/csrf-token", nil))
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(body["token"]) != 64 {
		t.Errorf("generated token length = %d, want 64", len(body["token"]))
	}
	if len(w.Result().Cookies()) != 1 {
		t.Error("new token should be stored in a cookie")
	}
}
