package event

import (
	"encoding/json"
	"fmt"
)

// NewChange はデータ構造体をJSONにシリアライズして変更を生成する。
func NewChange(kind Kind, docID string, data any) (Change, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return Change{}, fmt.Errorf("ドキュメントデータのシリアライズに失敗: %w", err)
	}

	return Change{
		Kind:  kind,
		DocID: docID,
		Data:  jsonData,
	}, nil
}

// DecodeData は変更のDataフィールドを指定された型にデシリアライズする。
func DecodeData[T any](c Change) (*T, error) {
	if len(c.Data) == 0 {
		return nil, fmt.Errorf("ドキュメント %q のデータが空です", c.DocID)
	}

	var data T
	if err := json.Unmarshal(c.Data, &data); err != nil {
		return nil, fmt.Errorf("ドキュメント %q のデシリアライズに失敗: %w", c.DocID, err)
	}
	return &data, nil
}
