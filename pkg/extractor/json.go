package extractor

import "encoding/json"

func unmarshalJSON(raw string, v interface{}) error {
	return json.Unmarshal([]byte(raw), v)
}
