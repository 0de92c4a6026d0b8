package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nlstn/go-odata-content/internal/content"
	"github.com/shopspring/decimal"
)

// ErrInvalidField is wrapped by errors about field values a client supplied.
var ErrInvalidField = content.ErrInvalidValue

type storedBinary struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	Hash        string `json:"hash"`
	Key         string `json:"key"`
}

func decodeFieldData(raw string) (map[string]json.RawMessage, error) {
	data := make(map[string]json.RawMessage)
	if strings.TrimSpace(raw) == "" {
		return data, nil
	}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("decode field data: %w", err)
	}
	return data, nil
}

func encodeFieldData(data map[string]json.RawMessage) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode field data: %w", err)
	}
	return string(b), nil
}

func decodeJSON(raw json.RawMessage, target interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(target)
}

// valueFromRaw decodes a stored value according to its setting.
func valueFromRaw(setting *content.FieldSetting, raw json.RawMessage) (content.Value, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return content.Zero(setting.Kind), nil
	}
	switch setting.Kind {
	case content.KindReference:
		var ids []int
		if err := json.Unmarshal(raw, &ids); err != nil {
			return nil, err
		}
		return content.Reference{IDs: ids}, nil
	case content.KindBinary:
		var b storedBinary
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return content.Binary{FileName: b.FileName, ContentType: b.ContentType, Size: b.Size, Hash: b.Hash, Key: b.Key}, nil
	case content.KindChoice:
		var selected []string
		if err := json.Unmarshal(raw, &selected); err != nil {
			return nil, err
		}
		return content.Choice{Selected: selected}, nil
	case content.KindChildTypes:
		var names []string
		if err := json.Unmarshal(raw, &names); err != nil {
			return nil, err
		}
		return content.ChildTypes{Names: names}, nil
	}

	if setting.RichText {
		var rt content.RichTextValue
		if err := json.Unmarshal(raw, &rt); err == nil {
			return content.Scalar{Data: rt}, nil
		}
	}
	var v interface{}
	if err := decodeJSON(raw, &v); err != nil {
		return nil, err
	}
	converted, err := convertScalar(setting, v)
	if err != nil {
		return nil, err
	}
	return content.Scalar{Data: converted}, nil
}

// convertScalar normalizes a decoded JSON value to the Go type of the field.
func convertScalar(setting *content.FieldSetting, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if setting.RichText {
		switch t := v.(type) {
		case string:
			return content.RichTextValue{Text: t}, nil
		case map[string]interface{}:
			text, _ := t["text"].(string)
			editor, _ := t["editor"].(string)
			return content.RichTextValue{Text: text, Editor: editor}, nil
		case content.RichTextValue:
			return t, nil
		}
		return nil, fmt.Errorf("%w: %s expects rich text", ErrInvalidField, setting.Name)
	}
	switch setting.Type {
	case "Int":
		switch n := v.(type) {
		case json.Number:
			return n.Int64()
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			return int64(n), nil
		case string:
			return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		}
	case "Number":
		switch n := v.(type) {
		case json.Number:
			return n.Float64()
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case string:
			return strconv.ParseFloat(strings.TrimSpace(n), 64)
		}
	case "Decimal":
		switch n := v.(type) {
		case json.Number:
			return decimal.NewFromString(n.String())
		case string:
			return decimal.NewFromString(strings.TrimSpace(n))
		case float64:
			return decimal.NewFromFloat(n), nil
		case int:
			return decimal.NewFromInt(int64(n)), nil
		case decimal.Decimal:
			return n, nil
		}
	case "Boolean":
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			return strconv.ParseBool(strings.TrimSpace(b))
		}
	case "DateTime":
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidField, setting.Name, err)
			}
			return parsed.UTC(), nil
		}
	default:
		switch s := v.(type) {
		case string:
			return s, nil
		case json.Number:
			return s.String(), nil
		default:
			return fmt.Sprint(s), nil
		}
	}
	return nil, fmt.Errorf("%w: %s expects %s, got %T", ErrInvalidField, setting.Name, setting.Type, v)
}

// encodeValue validates a client supplied value and returns its stored form.
// References may be given as ids or paths; resolve maps a path to an id.
func encodeValue(setting *content.FieldSetting, v interface{}, resolve func(string) (int, error)) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("null"), nil
	}
	var stored interface{}
	switch setting.Kind {
	case content.KindScalar:
		converted, err := convertScalar(setting, v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidField, setting.Name, err)
		}
		stored = converted
	case content.KindReference:
		ids, err := referenceIDs(v, resolve)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidField, setting.Name, err)
		}
		if !setting.AllowMultiple && len(ids) > 1 {
			return nil, fmt.Errorf("%w: %s accepts a single reference", ErrInvalidField, setting.Name)
		}
		stored = ids
	case content.KindChoice, content.KindChildTypes:
		values, err := stringList(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidField, setting.Name, err)
		}
		if setting.Kind == content.KindChoice {
			if !setting.AllowMultiple && len(values) > 1 {
				return nil, fmt.Errorf("%w: %s accepts a single option", ErrInvalidField, setting.Name)
			}
			if err := checkOptions(setting, values); err != nil {
				return nil, err
			}
		}
		stored = values
	case content.KindBinary:
		b, ok := v.(content.Binary)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be uploaded as binary", ErrInvalidField, setting.Name)
		}
		stored = storedBinary{FileName: b.FileName, ContentType: b.ContentType, Size: b.Size, Hash: b.Hash, Key: b.Key}
	}
	b, err := json.Marshal(stored)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func referenceIDs(v interface{}, resolve func(string) (int, error)) ([]int, error) {
	var items []interface{}
	switch t := v.(type) {
	case []interface{}:
		items = t
	case []int:
		return t, nil
	default:
		items = []interface{}{t}
	}
	ids := make([]int, 0, len(items))
	for _, item := range items {
		switch t := item.(type) {
		case json.Number:
			id, err := strconv.Atoi(t.String())
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		case int:
			ids = append(ids, t)
		case float64:
			ids = append(ids, int(t))
		case string:
			if id, err := strconv.Atoi(t); err == nil {
				ids = append(ids, id)
				continue
			}
			id, err := resolve(t)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		default:
			return nil, fmt.Errorf("unsupported reference value %T", item)
		}
	}
	return ids, nil
}

func stringList(v interface{}) ([]string, error) {
	switch t := v.(type) {
	case string:
		return []string{t}, nil
	case []string:
		return t, nil
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected string list, got %T", v)
}

func checkOptions(setting *content.FieldSetting, values []string) error {
	if len(setting.Options) == 0 {
		return nil
	}
	for _, v := range values {
		found := false
		for _, opt := range setting.Options {
			if opt == v {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s does not allow option %q", ErrInvalidField, setting.Name, v)
		}
	}
	return nil
}
