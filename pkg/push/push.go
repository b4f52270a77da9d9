package push

import (
	"context"
	"errors"
)

var (
	// ErrInvalidArgument はプロバイダーがアドレスを不正な形式と判定したことを表す。
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotRegistered はアドレスがかつて有効だったが、アプリがアンインストールされたことを表す。
	ErrNotRegistered = errors.New("device not registered")
	// ErrInvalidAddress は登録を拒否すべきアドレスであることを表す。呼び出し側のエラー。
	ErrInvalidAddress = errors.New("invalid push address")
)

// Notification はユーザーに表示する通知の内容。
type Notification struct {
	// Title は通知のタイトル。
	Title string `json:"title,omitempty"`
	// Body は通知の本文。
	Body string `json:"body,omitempty"`
	// Sound は通知音の指定。空の場合はプロバイダーの既定値。
	Sound string `json:"sound,omitempty"`
	// Data はアプリに渡す追加データ。
	Data map[string]string `json:"data,omitempty"`
}

// Message は1つの宛先アドレスに対する通知メッセージ。
type Message struct {
	// To は宛先のプッシュアドレス。
	To string
	Notification
}

// Result はメッセージ1件分の送信結果。
type Result struct {
	// To は宛先のプッシュアドレス。
	To string
	// Success は送信に成功したかどうか。
	Success bool
	// MessageID はプロバイダーが発行した受付ID。
	MessageID string
	// Err は失敗した場合の理由。
	Err error
}

// Unregistered はデバイスが登録解除済みと報告されたかどうかを返す。
func (r Result) Unregistered() bool {
	return errors.Is(r.Err, ErrNotRegistered)
}

// Sender はメッセージをまとめて送信するプロバイダー。
type Sender interface {
	// MaxBatchSize は1回のSendBatchで送信できるメッセージの最大件数を返す。
	MaxBatchSize() int
	// SendBatch はメッセージを送信し、入力と同じ順序で1件ずつの結果を返す。
	// 呼び出し側はMaxBatchSize以下に分割してから渡す必要がある。
	SendBatch(ctx context.Context, messages []Message) ([]Result, error)
}

// Prober は実際には配信しないドライラン送信でアドレスを検証する。
type Prober interface {
	// Probe は有効なアドレスに対してnilを返す。
	// 不正な形式はErrInvalidArgument、アンインストール済みはErrNotRegisteredを返す。
	Probe(ctx context.Context, address string) error
}

// Provider はSenderとProberの両方を提供するプロバイダー。
type Provider interface {
	Sender
	Prober
	// Name はプロバイダー名を返す。
	Name() string
}
