// Package push はプッシュ通知の配信プロバイダーを抽象化する。
//
// 通知メッセージのモデル、プロバイダーの最大件数に合わせたバッチ分割、
// ドライラン送信によるアドレス検証、ExpoとFirebase Cloud Messagingの
// 送信クライアントを含む。
package push
