// Package directory はプッシュ通知の登録ディレクトリを提供する。
//
// ユーザーIDとプッシュアドレス（デバイスのプッシュトークン）の対応を
// 双方向のインメモリインデックスとして保持する。プロセスの再起動で
// 内容は失われ、各デバイスは再登録する必要がある。
package directory
