package notification

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// 認証方式。
const (
	AuthBackendJWT      = "jwt"
	AuthBackendFirebase = "firebase"
)

// 変更フィードの取得元。
const (
	FeedBackendSQLite    = "sqlite"
	FeedBackendFirestore = "firestore"
)

// プッシュ通知のプロバイダー。
const (
	PushProviderExpo = "expo"
	PushProviderFCM  = "fcm"
)

// Config は通知サービスの設定。環境変数から読み込む。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string
	// JWTSecret はHS256トークンの署名鍵。
	JWTSecret string
	// AuthBackend はトークンの検証方式（jwt または firebase）。
	AuthBackend string
	// FeedBackend は変更フィードの取得元（sqlite または firestore）。
	FeedBackend string
	// SQLitePath はSQLiteデータベースのパス。
	SQLitePath string
	// FeedPollInterval はSQLiteフィードのポーリング間隔。
	FeedPollInterval time.Duration
	// PushProvider はプッシュ通知のプロバイダー（expo または fcm）。
	PushProvider string
	// ExpoBaseURL はExpo Push APIのベースURL。
	ExpoBaseURL string
	// ExpoAccessToken はExpo Push APIのアクセストークン。空の場合は付与しない。
	ExpoAccessToken string
	// FirebaseProjectID はFirebaseのプロジェクトID。
	FirebaseProjectID string
	// CredentialsFile はGoogle Cloudのサービスアカウント鍵のパス。
	CredentialsFile string
	// AcceptUnregistered はアンインストール済みと判定されたトークンを登録可能とするかどうか。
	AcceptUnregistered bool
	// PruneUnregistered は配信時に登録解除済みと報告されたトークンを削除するかどうか。
	PruneUnregistered bool
	// DispatchWorkers は通知を配信するワーカー数。
	DispatchWorkers int
	// DispatchQueueSize はワーカーに渡す前に保持できる変更の件数。
	DispatchQueueSize int
	// SendConcurrency は1回の通知で同時に送信するチャンク数。
	SendConcurrency int
	// PushSound は通知音の指定。
	PushSound string
	// AllowedOrigins はCORSを許可するオリジン。
	AllowedOrigins []string
}

// LoadConfig は環境変数から設定を読み込む。
func LoadConfig() (Config, error) {
	return loadConfig(os.Getenv)
}

func loadConfig(getenv func(string) string) (Config, error) {
	env := func(key, defaultValue string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return defaultValue
	}

	cfg := Config{
		Port:              env("PORT", "8086"),
		JWTSecret:         env("JWT_SECRET", "dev-secret-key"),
		AuthBackend:       strings.ToLower(env("AUTH_BACKEND", AuthBackendJWT)),
		FeedBackend:       strings.ToLower(env("FEED_BACKEND", FeedBackendSQLite)),
		SQLitePath:        env("SQLITE_PATH", "/data/notification.db?_journal_mode=WAL&_busy_timeout=5000"),
		PushProvider:      strings.ToLower(env("PUSH_PROVIDER", PushProviderExpo)),
		ExpoBaseURL:       env("EXPO_BASE_URL", "https://exp.host"),
		ExpoAccessToken:   getenv("EXPO_ACCESS_TOKEN"),
		FirebaseProjectID: getenv("FIREBASE_PROJECT_ID"),
		CredentialsFile:   getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		PushSound:         env("PUSH_SOUND", "default"),
		AllowedOrigins:    splitList(getenv("ALLOWED_ORIGINS")),
	}

	var err error
	if cfg.FeedPollInterval, err = time.ParseDuration(env("FEED_POLL_INTERVAL", "2s")); err != nil {
		return Config{}, fmt.Errorf("FEED_POLL_INTERVAL が不正です: %w", err)
	}
	if cfg.AcceptUnregistered, err = strconv.ParseBool(env("ACCEPT_UNREGISTERED_TOKENS", "true")); err != nil {
		return Config{}, fmt.Errorf("ACCEPT_UNREGISTERED_TOKENS が不正です: %w", err)
	}
	if cfg.PruneUnregistered, err = strconv.ParseBool(env("PRUNE_UNREGISTERED_TOKENS", "false")); err != nil {
		return Config{}, fmt.Errorf("PRUNE_UNREGISTERED_TOKENS が不正です: %w", err)
	}
	if cfg.DispatchWorkers, err = positiveInt(env("DISPATCH_WORKERS", "4")); err != nil {
		return Config{}, fmt.Errorf("DISPATCH_WORKERS が不正です: %w", err)
	}
	if cfg.DispatchQueueSize, err = positiveInt(env("DISPATCH_QUEUE_SIZE", "256")); err != nil {
		return Config{}, fmt.Errorf("DISPATCH_QUEUE_SIZE が不正です: %w", err)
	}
	if cfg.SendConcurrency, err = positiveInt(env("SEND_CONCURRENCY", "4")); err != nil {
		return Config{}, fmt.Errorf("SEND_CONCURRENCY が不正です: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate は選択肢の値と、選択した方式に必要な設定が揃っているかを検証する。
func (c Config) validate() error {
	switch c.AuthBackend {
	case AuthBackendJWT, AuthBackendFirebase:
	default:
		return fmt.Errorf("AUTH_BACKEND が不正です: %q", c.AuthBackend)
	}
	switch c.FeedBackend {
	case FeedBackendSQLite, FeedBackendFirestore:
	default:
		return fmt.Errorf("FEED_BACKEND が不正です: %q", c.FeedBackend)
	}
	switch c.PushProvider {
	case PushProviderExpo, PushProviderFCM:
	default:
		return fmt.Errorf("PUSH_PROVIDER が不正です: %q", c.PushProvider)
	}

	if c.NeedsFirebase() && c.FirebaseProjectID == "" {
		return errors.New("FIREBASE_PROJECT_ID が必要です")
	}
	return nil
}

// NeedsFirebase はFirebase/Google Cloudのクライアントが必要な構成かどうかを返す。
func (c Config) NeedsFirebase() bool {
	return c.AuthBackend == AuthBackendFirebase ||
		c.FeedBackend == FeedBackendFirestore ||
		c.PushProvider == PushProviderFCM
}

func positiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("1以上を指定してください: %d", n)
	}
	return n, nil
}

// splitList はカンマ区切りの値を分割する。空の要素は取り除く。
func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
