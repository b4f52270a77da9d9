// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// Bearerトークンによる本人確認（自前署名のJWTまたはFirebase IDトークン）、
// ロールによる認可、パニックリカバリ、CORS設定を含む。
package middleware
