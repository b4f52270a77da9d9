// Package messagestore はSQLiteによる追記型のメッセージストアを提供する。
//
// "messages"テーブルへの追記と"users"テーブルの表示名の読み出しに加え、
// 追記されたメッセージをポーリングして変更フィードとして配信する。
// フィードは購読開始時に既存の全メッセージを最初のバッチとして必ず配信する。
//
// 主な機能:
//   - メッセージの追記（AppendMessage）
//   - ユーザー表示名の登録と取得（UpsertUser, DisplayName）
//   - 連番指定によるメッセージ取得（MessagesSince）
//   - ポーリングによる変更フィードの購読（Subscribe）
package messagestore
