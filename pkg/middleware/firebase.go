package middleware

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/auth"
)

// firebaseTokenVerifier はFirebaseVerifierが使用するauth.Clientのメソッド。
type firebaseTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// FirebaseVerifier はFirebase AuthenticationのIDトークンを検証する Verifier。
// ロールはカスタムクレーム "roles" から取得する。
type FirebaseVerifier struct {
	client firebaseTokenVerifier
}

// NewFirebaseVerifier は新しいFirebaseVerifierを生成する。
func NewFirebaseVerifier(client *auth.Client) *FirebaseVerifier {
	return &FirebaseVerifier{client: client}
}

// Verify はIDトークンをFirebaseで検証する。
func (v *FirebaseVerifier) Verify(ctx context.Context, idToken string) (*Principal, error) {
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	email, _ := token.Claims["email"].(string)
	return &Principal{
		UserID: token.UID,
		Email:  email,
		Roles:  rolesFromClaim(token.Claims["roles"]),
	}, nil
}

// rolesFromClaim はJSONからデコードされたクレーム値を文字列のスライスに変換する。
func rolesFromClaim(v any) []string {
	switch roles := v.(type) {
	case []string:
		return roles
	case []any:
		result := make([]string, 0, len(roles))
		for _, r := range roles {
			if s, ok := r.(string); ok {
				result = append(result, s)
			}
		}
		return result
	case string:
		return []string{roles}
	default:
		return nil
	}
}
