package push

import (
	"context"
	"fmt"
	"log"
	"strings"

	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"
)

// fcmMaxBatchSize はSendEachが1回で受け付けるメッセージの最大件数。
const fcmMaxBatchSize = 500

// fcmClient はFCMSenderが使用するmessaging.Clientのメソッド。
type fcmClient interface {
	SendEach(ctx context.Context, messages []*messaging.Message) (*messaging.BatchResponse, error)
	SendDryRun(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMSender はFirebase Cloud Messagingを使う Provider。
type FCMSender struct {
	// client はFirebase Admin SDKのメッセージングクライアント。
	client fcmClient
}

// NewFCMSender は新しいFCMSenderを生成する。
func NewFCMSender(client *messaging.Client) *FCMSender {
	return &FCMSender{client: client}
}

// Name はプロバイダー名を返す。
func (s *FCMSender) Name() string {
	return "fcm"
}

// MaxBatchSize は1回の送信あたりの最大メッセージ数を返す。
func (s *FCMSender) MaxBatchSize() int {
	return fcmMaxBatchSize
}

// toFCMMessage は通知メッセージをFCMのメッセージに変換する。
func toFCMMessage(m Message) *messaging.Message {
	msg := &messaging.Message{
		Token: m.To,
		Data:  m.Data,
	}
	if m.Title != "" || m.Body != "" {
		msg.Notification = &messaging.Notification{
			Title: m.Title,
			Body:  m.Body,
		}
	}
	if m.Sound != "" {
		msg.APNS = &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: m.Sound},
			},
		}
		msg.Android = &messaging.AndroidConfig{
			Notification: &messaging.AndroidNotification{Sound: m.Sound},
		}
	}
	return msg
}

// SendBatch はメッセージをFCMに送信し、1件ずつの結果を返す。
func (s *FCMSender) SendBatch(ctx context.Context, messages []Message) ([]Result, error) {
	if len(messages) > fcmMaxBatchSize {
		return nil, fmt.Errorf("メッセージ数 %d が上限 %d を超えています", len(messages), fcmMaxBatchSize)
	}

	fcmMessages := make([]*messaging.Message, 0, len(messages))
	for _, m := range messages {
		fcmMessages = append(fcmMessages, toFCMMessage(m))
	}

	resp, err := s.client.SendEach(ctx, fcmMessages)
	if err != nil {
		return nil, fmt.Errorf("FCMへの送信に失敗: %w", err)
	}
	if len(resp.Responses) != len(messages) {
		return nil, fmt.Errorf("レスポンス数 %d がメッセージ数 %d と一致しません", len(resp.Responses), len(messages))
	}

	results := make([]Result, len(messages))
	for i, r := range resp.Responses {
		result := Result{To: messages[i].To, Success: r.Success, MessageID: r.MessageID}
		if !r.Success {
			result.Err = classifyFCMError(r.Error)
		}
		results[i] = result
	}
	return results, nil
}

// Probe はドライラン送信でトークンを検証する。
func (s *FCMSender) Probe(ctx context.Context, address string) error {
	id, err := s.client.SendDryRun(ctx, &messaging.Message{Token: address})
	if err != nil {
		return classifyFCMError(err)
	}
	// ドライランでは実際には送信されず、固定の受付IDが返る
	if !strings.HasSuffix(id, "fake_message_id") {
		log.Printf("[Push] ドライランの受付IDが想定外です: %s", id)
	}
	return nil
}

// classifyFCMError はFirebaseのエラーをパッケージのエラーに分類する。
func classifyFCMError(err error) error {
	switch {
	case err == nil:
		return fmt.Errorf("FCMの送信エラー: 理由不明")
	case errorutils.IsInvalidArgument(err):
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	case messaging.IsUnregistered(err):
		return fmt.Errorf("%w: %v", ErrNotRegistered, err)
	default:
		return fmt.Errorf("FCMの送信エラー: %w", err)
	}
}
