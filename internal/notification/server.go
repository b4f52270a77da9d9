package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nao1215/pushfeed/internal/directory"
	"github.com/nao1215/pushfeed/internal/dispatcher"
	"github.com/nao1215/pushfeed/pkg/event"
	"github.com/nao1215/pushfeed/pkg/middleware"
	"github.com/nao1215/pushfeed/pkg/push"
)

// shutdownTimeout はシャットダウン時に処理中のリクエストを待つ最大時間。
const shutdownTimeout = 10 * time.Second

// MessageWriter はSQLiteフィードにメッセージとユーザーを書き込む。
type MessageWriter interface {
	AppendMessage(ctx context.Context, m event.MessageData) (string, error)
	UpsertUser(ctx context.Context, id, displayName string) error
}

// Deps はサーバーが利用する依存関係。
type Deps struct {
	// Directory はプッシュトークンの登録先。
	Directory *directory.Directory
	// Fanout は内部APIからの通知送信に使用する。
	Fanout dispatcher.Fanout
	// Prober は登録前にトークンを検証する。
	Prober push.Prober
	// Policy はトークン検証の方針。
	Policy push.Policy
	// Verifier はBearerトークンを検証する。
	Verifier middleware.Verifier
	// Messages はSQLiteフィード使用時のみ設定する。nilの場合は書き込みAPIを公開しない。
	Messages MessageWriter
	// Registry は/metricsで公開するレジストリ。
	Registry *prometheus.Registry
	// AllowedOrigins はCORSを許可するオリジン。
	AllowedOrigins []string
}

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// deps はハンドラが利用する依存関係。
	deps Deps
}

// NewServer は新しい通知サーバーを生成する。
func NewServer(port string, deps Deps) *Server {
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	if len(deps.AllowedOrigins) > 0 {
		router.Use(middleware.CORS(deps.AllowedOrigins))
	}

	s := &Server{
		router: router,
		port:   port,
		deps:   deps,
	}
	s.setupRoutes()

	return s
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	return nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	api.Use(middleware.Authenticate(s.deps.Verifier))
	{
		tokens := api.Group("/push-tokens")
		{
			// プッシュトークン登録
			tokens.POST("", s.handleRegister())
			// 自分のプッシュトークン一覧
			tokens.GET("", s.handleListTokens())
			// プッシュトークン登録解除
			tokens.DELETE("/:token", s.handleUnregister())
		}

		internal := api.Group("/internal")
		internal.Use(middleware.RequireRole(middleware.RoleAdmin))
		{
			internal.POST("/notify", s.handleNotify())
			if s.deps.Messages != nil {
				internal.POST("/messages", s.handleAppendMessage())
				internal.PUT("/users/:id", s.handleUpsertUser())
			}
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{})))
}

// registerRequest はプッシュトークン登録リクエストのJSON構造。
type registerRequest struct {
	// Token はデバイスのプッシュトークン。
	Token string `json:"token" binding:"required"`
}

// handleRegister は認証済みユーザーにプッシュトークンを登録するハンドラ。
// 別のユーザーに登録済みのトークンは所有者が移る。
func (s *Server) handleRegister() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if err := push.Validate(c.Request.Context(), s.deps.Prober, req.Token, s.deps.Policy); err != nil {
			if errors.Is(err, push.ErrInvalidAddress) {
				log.Printf("プッシュトークンの登録を拒否しました。ユーザー: %s, 理由: %v", userID, err)
				c.JSON(http.StatusBadRequest, gin.H{"error": "プッシュトークンが不正です"})
				return
			}
			log.Printf("プッシュトークンの検証エラー: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "プッシュトークンの検証に失敗しました"})
			return
		}

		s.deps.Directory.Register(req.Token, userID)
		c.JSON(http.StatusCreated, gin.H{
			"token":   req.Token,
			"user_id": userID,
		})
	}
}

// handleListTokens は認証済みユーザーの登録済みプッシュトークンを返すハンドラ。
func (s *Server) handleListTokens() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		tokens := s.deps.Directory.Lookup(userID)
		if tokens == nil {
			tokens = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"tokens": tokens})
	}
}

// handleUnregister はプッシュトークンの登録を解除するハンドラ。
// 他のユーザーが所有するトークンは解除できない。未登録のトークンは成功として扱う。
func (s *Server) handleUnregister() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		token := c.Param("token")
		if !s.deps.Directory.UnregisterOwned(token, userID) {
			if owner, ok := s.deps.Directory.Owner(token); ok && owner != userID {
				c.JSON(http.StatusForbidden, gin.H{"error": "このプッシュトークンを操作する権限がありません"})
				return
			}
		}
		c.Status(http.StatusNoContent)
	}
}

// notifyRequest は通知送信リクエストのJSON構造。
type notifyRequest struct {
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id" binding:"required"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Body は通知の本文。
	Body string `json:"body"`
	// Sound は通知音の指定。
	Sound string `json:"sound"`
	// Data はアプリに渡す追加データ。
	Data map[string]string `json:"data"`
}

// handleNotify は指定ユーザーの全デバイスへ通知を送るハンドラ。
// 内部API（管理ロールを持つ呼び出し元のみ）。
func (s *Server) handleNotify() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req notifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		report := s.deps.Fanout.Notify(c.Request.Context(), req.UserID, push.Notification{
			Title: req.Title,
			Body:  req.Body,
			Sound: req.Sound,
			Data:  req.Data,
		})
		c.JSON(http.StatusOK, report)
	}
}

// appendMessageRequest はメッセージ追記リクエストのJSON構造。
type appendMessageRequest struct {
	// To は受信者のユーザーID。
	To string `json:"to" binding:"required"`
	// From は送信者のユーザーID。
	From string `json:"from" binding:"required"`
	// Text はメッセージ本文。
	Text string `json:"text"`
}

// handleAppendMessage はメッセージを追記するハンドラ。追記したメッセージは変更フィードに流れる。
func (s *Server) handleAppendMessage() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req appendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		id, err := s.deps.Messages.AppendMessage(c.Request.Context(), event.MessageData{
			To:   req.To,
			From: req.From,
			Text: req.Text,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "メッセージの追記に失敗しました"})
			log.Printf("メッセージ追記エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"id": id})
	}
}

// upsertUserRequest はユーザー表示名の登録リクエストのJSON構造。
type upsertUserRequest struct {
	// DisplayName は通知のタイトルに使う表示名。
	DisplayName string `json:"display_name" binding:"required"`
}

// handleUpsertUser はユーザーの表示名を登録または更新するハンドラ。
func (s *Server) handleUpsertUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req upsertUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		userID := c.Param("id")
		if err := s.deps.Messages.UpsertUser(c.Request.Context(), userID, req.DisplayName); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの登録に失敗しました"})
			log.Printf("ユーザー登録エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"id": userID, "display_name": req.DisplayName})
	}
}
