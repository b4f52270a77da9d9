package push

import (
	"context"
	"fmt"
	"regexp"

	"github.com/nao1215/pushfeed/pkg/httpclient"
)

const (
	// ExpoBaseURL はExpoプッシュ通知サービスのベースURL。
	ExpoBaseURL = "https://exp.host"
	// expoSendPath はプッシュ通知送信APIのパス。
	expoSendPath = "/--/api/v2/push/send"
	// expoMaxBatchSize はExpoが1リクエストで受け付けるメッセージの最大件数。
	expoMaxBatchSize = 100
)

// expoTokenPattern はExpoのプッシュトークンの形式。
var expoTokenPattern = regexp.MustCompile(`^(?:ExponentPushToken|ExpoPushToken)\[[^\[\]]+\]$`)

// ExpoSender はExpoプッシュ通知サービスを使う Provider。
type ExpoSender struct {
	// client はExpo APIとの通信用HTTPクライアント。
	client *httpclient.Client
}

// NewExpoSender は新しいExpoSenderを生成する。
// accessTokenはプッシュセキュリティを有効にしている場合のみ指定する。
func NewExpoSender(baseURL, accessToken string) *ExpoSender {
	if baseURL == "" {
		baseURL = ExpoBaseURL
	}
	return &ExpoSender{
		client: httpclient.New(baseURL,
			httpclient.WithHeader("Accept-Encoding", "gzip, deflate"),
			httpclient.WithBearerToken(accessToken),
		),
	}
}

// Name はプロバイダー名を返す。
func (s *ExpoSender) Name() string {
	return "expo"
}

// MaxBatchSize は1リクエストあたりの最大メッセージ数を返す。
func (s *ExpoSender) MaxBatchSize() int {
	return expoMaxBatchSize
}

// expoMessage はExpo APIに送信するメッセージのJSON構造。
type expoMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title,omitempty"`
	Body  string            `json:"body,omitempty"`
	Sound string            `json:"sound,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
}

// expoTicket はExpo APIが返す1件ごとの受付結果。
type expoTicket struct {
	// Status は"ok"または"error"。
	Status string `json:"status"`
	// ID は受付ID。statusが"ok"の場合のみ設定される。
	ID string `json:"id"`
	// Message はエラーの説明。
	Message string `json:"message"`
	// Details はエラーの詳細。
	Details struct {
		Error string `json:"error"`
	} `json:"details"`
}

// expoResponse はExpo APIのレスポンス全体。
type expoResponse struct {
	Data   []expoTicket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// SendBatch はメッセージをExpoに送信し、チケットを結果に変換する。
func (s *ExpoSender) SendBatch(ctx context.Context, messages []Message) ([]Result, error) {
	if len(messages) > expoMaxBatchSize {
		return nil, fmt.Errorf("メッセージ数 %d が上限 %d を超えています", len(messages), expoMaxBatchSize)
	}

	body := make([]expoMessage, 0, len(messages))
	for _, m := range messages {
		body = append(body, expoMessage{
			To:    m.To,
			Title: m.Title,
			Body:  m.Body,
			Sound: m.Sound,
			Data:  m.Data,
		})
	}

	var resp expoResponse
	if err := s.client.PostJSON(ctx, expoSendPath, body, &resp); err != nil {
		return nil, fmt.Errorf("Expoへの送信に失敗: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("Expoがリクエストを拒否: %s: %s", resp.Errors[0].Code, resp.Errors[0].Message)
	}
	if len(resp.Data) != len(messages) {
		return nil, fmt.Errorf("チケット数 %d がメッセージ数 %d と一致しません", len(resp.Data), len(messages))
	}

	results := make([]Result, len(messages))
	for i, ticket := range resp.Data {
		results[i] = ticketToResult(messages[i].To, ticket)
	}
	return results, nil
}

// ticketToResult はExpoのチケットを送信結果に変換する。
func ticketToResult(to string, ticket expoTicket) Result {
	if ticket.Status == "ok" {
		return Result{To: to, Success: true, MessageID: ticket.ID}
	}

	var err error
	switch ticket.Details.Error {
	case "DeviceNotRegistered":
		err = fmt.Errorf("%w: %s", ErrNotRegistered, ticket.Message)
	case "":
		err = fmt.Errorf("Expoの送信エラー: %s", ticket.Message)
	default:
		err = fmt.Errorf("Expoの送信エラー (%s): %s", ticket.Details.Error, ticket.Message)
	}
	return Result{To: to, Err: err}
}

// Probe はトークンがExpoのプッシュトークン形式かどうかを検証する。
// Expoにはドライラン送信が無いため、形式の検証のみを行う。
func (s *ExpoSender) Probe(_ context.Context, address string) error {
	if !IsExpoPushToken(address) {
		return fmt.Errorf("%w: Expoのプッシュトークン形式ではありません", ErrInvalidArgument)
	}
	return nil
}

// IsExpoPushToken はExpoのプッシュトークン形式かどうかを返す。
func IsExpoPushToken(token string) bool {
	return expoTokenPattern.MatchString(token)
}
