// 通知サービスのエントリポイント。
// プッシュトークンの登録を受け付け、メッセージの変更フィードを購読して
// 受信者の登録済みデバイスへプッシュ通知を配信する。
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"github.com/nao1215/pushfeed/internal/directory"
	"github.com/nao1215/pushfeed/internal/dispatcher"
	"github.com/nao1215/pushfeed/internal/firestorefeed"
	"github.com/nao1215/pushfeed/internal/messagestore"
	"github.com/nao1215/pushfeed/internal/notification"
	"github.com/nao1215/pushfeed/pkg/event"
	"github.com/nao1215/pushfeed/pkg/middleware"
	"github.com/nao1215/pushfeed/pkg/push"
)

// feed は選択した変更フィードとその付随物。
type feed struct {
	sub      event.Subscription
	users    dispatcher.UserReader
	messages notification.MessageWriter
	close    func()
}

func main() {
	cfg, err := notification.LoadConfig()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var app *firebase.App
	if cfg.NeedsFirebase() {
		app, err = newFirebaseApp(ctx, cfg)
		if err != nil {
			log.Fatalf("Firebaseの初期化に失敗: %v", err)
		}
	}

	verifier, err := newVerifier(ctx, cfg, app)
	if err != nil {
		log.Fatalf("認証の初期化に失敗: %v", err)
	}
	provider, err := newProvider(ctx, cfg, app)
	if err != nil {
		log.Fatalf("プッシュ通知プロバイダーの初期化に失敗: %v", err)
	}
	f, err := openFeed(ctx, cfg, app)
	if err != nil {
		log.Fatalf("変更フィードの購読に失敗: %v", err)
	}
	defer f.close()

	dir := directory.New()
	registry := notification.NewRegistry(dir)
	metrics := dispatcher.NewMetrics(registry)

	notifier := dispatcher.NewNotifier(dir, provider,
		dispatcher.WithSendConcurrency(cfg.SendConcurrency),
		dispatcher.WithPruneUnregistered(cfg.PruneUnregistered),
		dispatcher.WithMetrics(metrics),
	)
	d := dispatcher.New(notifier, f.users, dispatcher.Config{
		Workers:   cfg.DispatchWorkers,
		QueueSize: cfg.DispatchQueueSize,
		Sound:     cfg.PushSound,
	}, metrics)

	go func() {
		if err := d.Run(ctx, f.sub); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[Dispatcher] 変更フィードの購読が終了しました: %v", err)
			stop()
		}
	}()

	server := notification.NewServer(cfg.Port, notification.Deps{
		Directory:      dir,
		Fanout:         notifier,
		Prober:         provider,
		Policy:         push.Policy{AcceptUnregistered: cfg.AcceptUnregistered},
		Verifier:       verifier,
		Messages:       f.messages,
		Registry:       registry,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	log.Printf("通知サービスを起動します: :%s (auth=%s, feed=%s, push=%s)",
		cfg.Port, cfg.AuthBackend, cfg.FeedBackend, provider.Name())
	if err := server.Run(ctx); err != nil {
		log.Fatalf("通知サービスの起動に失敗: %v", err)
	}
	log.Println("通知サービスを停止しました")
}

func newFirebaseApp(ctx context.Context, cfg notification.Config) (*firebase.App, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	return firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.FirebaseProjectID}, opts...)
}

func newVerifier(ctx context.Context, cfg notification.Config, app *firebase.App) (middleware.Verifier, error) {
	if cfg.AuthBackend != notification.AuthBackendFirebase {
		return middleware.NewJWTVerifier(cfg.JWTSecret), nil
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("Firebase Authクライアントの作成に失敗: %w", err)
	}
	return middleware.NewFirebaseVerifier(client), nil
}

func newProvider(ctx context.Context, cfg notification.Config, app *firebase.App) (push.Provider, error) {
	if cfg.PushProvider != notification.PushProviderFCM {
		return push.NewExpoSender(cfg.ExpoBaseURL, cfg.ExpoAccessToken), nil
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("FCMクライアントの作成に失敗: %w", err)
	}
	return push.NewFCMSender(client), nil
}

// openFeed は設定に応じた変更フィードを購読する。
// Firestoreの最初のスナップショットが取得できない場合はエラーを返す。
func openFeed(ctx context.Context, cfg notification.Config, app *firebase.App) (*feed, error) {
	if cfg.FeedBackend == notification.FeedBackendFirestore {
		client, err := app.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("Firestoreクライアントの作成に失敗: %w", err)
		}
		sub, err := firestorefeed.Subscribe(ctx, client)
		if err != nil {
			client.Close()
			return nil, err
		}
		return &feed{
			sub:   sub,
			users: firestorefeed.NewUsers(client),
			close: func() {
				sub.Close()
				client.Close()
			},
		}, nil
	}

	store, err := messagestore.Open(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	sub := store.Subscribe(ctx, messagestore.SubscribeOptions{Interval: cfg.FeedPollInterval})
	return &feed{
		sub:      sub,
		users:    store,
		messages: store,
		close: func() {
			sub.Close()
			store.Close()
		},
	}, nil
}
