package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken はトークンの検証に失敗したことを表す。
var ErrInvalidToken = errors.New("invalid token")

// tokenIssuer は自前署名のJWTの発行者。
const tokenIssuer = "pushfeed"

// Principal は検証済みトークンが表す利用者。
type Principal struct {
	// UserID は外部IDプロバイダーが割り当てたユーザーID。
	UserID string
	// Email はユーザーのメールアドレス。
	Email string
	// Roles はユーザーに付与されたロール。
	Roles []string
}

// HasRole は利用者が指定ロールを持つかどうかを返す。
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Verifier は不透明なBearerトークンを検証して利用者を返す。
type Verifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
	// Roles はユーザーに付与されたロール。
	Roles []string `json:"roles,omitempty"`
}

// GenerateJWT はユーザー情報からHS256で署名したJWTトークンを生成する。
// 開発環境とテストでFirebaseの代わりに使用する。
func GenerateJWT(secret, userID, email string, roles ...string) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
		UserID: userID,
		Email:  email,
		Roles:  roles,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// JWTVerifier は共有シークレットで署名されたJWTを検証する Verifier。
type JWTVerifier struct {
	// secret はHS256の署名鍵。
	secret []byte
}

// NewJWTVerifier は新しいJWTVerifierを生成する。
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify はトークンの署名と有効期限を検証する。
func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (*Principal, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: user_idが空です", ErrInvalidToken)
	}

	return &Principal{
		UserID: claims.UserID,
		Email:  claims.Email,
		Roles:  claims.Roles,
	}, nil
}
