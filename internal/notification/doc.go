// Package notification は通知サービスのHTTPサーバーと設定を提供する。
//
// クライアントはプッシュトークンを自分のユーザーIDに登録・解除する。
// 内部APIは任意のユーザーへの通知送信と、SQLiteフィード使用時のメッセージ追記を受け付ける。
// メッセージの追加を検知して通知を配信する処理は dispatcher パッケージが担う。
package notification
