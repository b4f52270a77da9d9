// Package firestorefeed はCloud Firestoreのmessagesコレクションを変更フィードとして購読し、
// usersコレクションから送信者の表示名を読み出す。
package firestorefeed
