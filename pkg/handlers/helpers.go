package handlers

import (
	"encoding/json"

	"github.com/qdrant/go-client/qdrant"
)

// bindOptionsJSON multipartフォームのJSON文字列フィールドをデコードする
func bindOptionsJSON(raw string, target interface{}) error {
	return json.Unmarshal([]byte(raw), target)
}

// payloadString Qdrantのペイロードから文字列値を取得する
func payloadString(payload map[string]*qdrant.Value, key string) string {
	if val, ok := payload[key]; ok && val != nil {
		if strVal := val.GetStringValue(); strVal != "" {
			return strVal
		}
	}
	return ""
}
