package middleware

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RoleAdmin は内部APIの呼び出しを許可するロール。
const RoleAdmin = "a"

// Ginコンテキストのキー。
const (
	keyUserID = "user_id"
	keyEmail  = "email"
	keyRoles  = "roles"
)

// Authenticate はBearerトークンをVerifierで検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "user_id"、"email"、"roles" を設定する。
func Authenticate(verifier Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorizationヘッダーが必要です",
			})
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		principal, err := verifier.Verify(c.Request.Context(), tokenString)
		if err != nil {
			log.Printf("[Auth] トークンの検証に失敗: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		c.Set(keyUserID, principal.UserID)
		c.Set(keyEmail, principal.Email)
		c.Set(keyRoles, principal.Roles)
		c.Next()
	}
}

// RequireRole は指定ロールを持たないリクエストを403で拒否するGinミドルウェアを返す。
// Authenticateの後に適用する必要がある。
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !HasRole(c, role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "この操作を行う権限がありません",
			})
			return
		}
		c.Next()
	}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
func GetUserID(c *gin.Context) string {
	return c.GetString(keyUserID)
}

// GetRoles はGinコンテキストからロールを取得する。
func GetRoles(c *gin.Context) []string {
	return c.GetStringSlice(keyRoles)
}

// HasRole はリクエストの利用者が指定ロールを持つかどうかを返す。
func HasRole(c *gin.Context, role string) bool {
	p := Principal{UserID: GetUserID(c), Roles: GetRoles(c)}
	return p.HasRole(role)
}
