// Package dispatcher はメッセージの変更フィードを購読し、受信者の登録済みデバイスへ
// プッシュ通知を配信する。
//
// 購読開始時に届く最初のバッチは既存データの再生であるため、通知せずに破棄する。
// 以降のバッチに含まれる追加イベントごとに、送信者の表示名を解決して受信者の
// 全デバイスへ通知を送る。1件のイベントや1台のデバイスへの失敗は他に影響しない。
package dispatcher
