package provider

import "encoding/json"

// decodeErrorBody は4xxレスポンスのボディを結果の型にデコードする。
// トップレベルのerrorオブジェクトを含む場合のみtrueを返す。
func decodeErrorBody(body []byte, result any) bool {
	var probe struct {
		Error *Error `json:"error"`
	}
	if err := json.Unmarshal(body, &probe); err != nil || probe.Error == nil {
		return false
	}
	return json.Unmarshal(body, result) == nil
}
