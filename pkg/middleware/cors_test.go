package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

// TestCORS はCORSミドルウェアを検証する。
func TestCORS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		allowed       []string
		method        string
		origin        string
		wantStatus    int
		wantOrigin    string
		wantHandlerOK bool
	}{
		{
			name:          "許可されたオリジンにCORSヘッダーが設定されること",
			allowed:       []string{"http://localhost:3000", "https://example.com"},
			method:        http.MethodGet,
			origin:        "https://example.com",
			wantStatus:    http.StatusOK,
			wantOrigin:    "https://example.com",
			wantHandlerOK: true,
		},
		{
			name:          "許可されていないオリジンにCORSヘッダーが設定されないこと",
			allowed:       []string{"http://localhost:3000"},
			method:        http.MethodGet,
			origin:        "https://evil.com",
			wantStatus:    http.StatusOK,
			wantHandlerOK: true,
		},
		{
			name:          "ワイルドカードで任意のオリジンを許可すること",
			allowed:       []string{"*"},
			method:        http.MethodDelete,
			origin:        "https://app.example.com",
			wantStatus:    http.StatusOK,
			wantOrigin:    "https://app.example.com",
			wantHandlerOK: true,
		},
		{
			name:       "プリフライトは204で中断されること",
			allowed:    []string{"http://localhost:3000"},
			method:     http.MethodOptions,
			origin:     "http://localhost:3000",
			wantStatus: http.StatusNoContent,
			wantOrigin: "http://localhost:3000",
		},
		{
			name:          "Originヘッダーが無い場合はそのまま処理されること",
			allowed:       []string{"*"},
			method:        http.MethodGet,
			wantStatus:    http.StatusOK,
			wantHandlerOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handlerCalled := false
			router := gin.New()
			router.Use(CORS(tt.allowed))
			router.Handle(tt.method, "/test", func(c *gin.Context) {
				handlerCalled = true
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(tt.method, "/test", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("ステータスコード = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if tt.wantOrigin != "" {
				if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, PUT, DELETE, OPTIONS" {
					t.Errorf("Access-Control-Allow-Methods = %q", got)
				}
			}
			if handlerCalled != tt.wantHandlerOK {
				t.Errorf("ハンドラーの呼び出し = %v, want %v", handlerCalled, tt.wantHandlerOK)
			}
		})
	}
}
