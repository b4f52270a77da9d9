// Package httpclient は外部APIとのJSON形式のHTTP通信を行うクライアントを提供する。
//
// Expoプッシュ通知APIなど、JSONを送受信する外部サービスの呼び出しに使用する。
// 2xx以外のレスポンスは StatusError として返す。
package httpclient
