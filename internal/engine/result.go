package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ReadResultFile reads and parses the JSON document the skill script is
// expected to leave at path. Missing file, empty file and invalid JSON each
// produce a descriptive error; no schema beyond "a JSON object" is enforced.
func ReadResultFile(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("result file %s does not exist", path)
		}
		return nil, fmt.Errorf("reading result file %s: %w", path, err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return nil, fmt.Errorf("result file %s is empty", path)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("result file %s is not valid JSON: %w", path, err)
	}
	return doc, nil
}

// ExtractResultFields pulls the two consumed fields out of a parsed result
// document. Both are optional: an unexpected shape yields empty strings, not
// an error.
func ExtractResultFields(doc map[string]any) (documentID, replyText string) {
	if v, ok := doc["document_id"].(string); ok {
		documentID = v
	}
	if v, ok := doc["reply_text"].(string); ok {
		replyText = v
	}
	return documentID, replyText
}
