package firestorefeed

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrNotFound はユーザーまたは表示名が存在しないことを表す。
var ErrNotFound = errors.New("not found")

// displayNameField はusersドキュメントの表示名フィールド。
const displayNameField = "displayName"

// Users はFirestoreのusersコレクションから表示名を読み出す。
type Users struct {
	client *firestore.Client
}

// NewUsers はUsersを生成する。
func NewUsers(client *firestore.Client) *Users {
	return &Users{client: client}
}

// DisplayName はusers/{uid}のdisplayNameを返す。
func (u *Users) DisplayName(ctx context.Context, uid string) (string, error) {
	if uid == "" {
		return "", fmt.Errorf("ユーザーIDが空です: %w", ErrNotFound)
	}

	snap, err := u.client.Collection(UsersCollection).Doc(uid).Get(ctx)
	if err != nil {
		return "", classifyGetError(uid, err)
	}
	return displayNameFrom(uid, snap.Data())
}

// classifyGetError はドキュメント取得のエラーを分類する。
func classifyGetError(uid string, err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("ユーザー %q: %w", uid, ErrNotFound)
	}
	return fmt.Errorf("ユーザー %q の取得に失敗: %w", uid, err)
}

// displayNameFrom はドキュメントのデータから表示名を取り出す。
func displayNameFrom(uid string, data map[string]any) (string, error) {
	v, ok := data[displayNameField]
	if !ok {
		return "", fmt.Errorf("ユーザー %q に%sがありません: %w", uid, displayNameField, ErrNotFound)
	}
	name, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("ユーザー %q の%sが文字列ではありません: %T", uid, displayNameField, v)
	}
	return name, nil
}
