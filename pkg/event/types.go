package event

import (
	"encoding/json"
	"time"
)

// Kind は変更フィード上のドキュメント変更の種類を表す。
type Kind string

const (
	// KindAdded はドキュメントが追加されたことを表す。
	KindAdded Kind = "added"
	// KindModified はドキュメントが更新されたことを表す。
	KindModified Kind = "modified"
	// KindRemoved はドキュメントが削除されたことを表す。
	KindRemoved Kind = "removed"
)

// Change は変更フィードから受信した1件のドキュメント変更。
// 保存されることはなく、一度処理されたら破棄される。
type Change struct {
	// Kind は変更の種類。
	Kind Kind `json:"kind"`
	// DocID は変更されたドキュメントの識別子。
	DocID string `json:"doc_id"`
	// Data はドキュメントの内容（JSON形式）。
	Data json.RawMessage `json:"data"`
}

// Batch はフィードのコールバック1回分に相当する変更のまとまり。
// 購読開始直後の最初のBatchには既存の全ドキュメントがKindAddedとして含まれる。
type Batch struct {
	// Changes はこのバッチに含まれる変更。
	Changes []Change `json:"changes"`
	// ReadAt はストアがこのバッチを観測した日時。
	ReadAt time.Time `json:"read_at"`
}

// MessageData は"messages"コレクションのドキュメント内容。
type MessageData struct {
	// To は受信者のユーザーID。
	To string `json:"to" firestore:"to"`
	// From は送信者のユーザーID。
	From string `json:"from" firestore:"from"`
	// Text はメッセージ本文。
	Text string `json:"text" firestore:"text"`
	// CreatedAt はメッセージの作成日時。
	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
}

// Subscription は変更フィードへの長期間の購読を表す。
// プロセス起動時に一度だけ確立し、プロセスの終了まで保持する。
type Subscription interface {
	// Batches は受信したバッチを順に流すチャネルを返す。購読終了時にクローズされる。
	Batches() <-chan Batch
	// Err は購読が異常終了した場合のエラーを返す。
	Err() error
	// Close は購読を停止する。
	Close() error
}
