package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Rule replaces the value at a dotted path (e.g. "file.buffer") when present.
type Rule struct {
	Path        string
	ReplaceWith string
}

// Rule sets applied to authentication and upload payloads.
var (
	AuthRules = []Rule{{Path: "password"}, {Path: "passwordHash"}, {Path: "token"}}
	FileRules = []Rule{{Path: "file.buffer", ReplaceWith: "[bytes]"}}
)

// DefaultSecretKeys are masked at any depth, case-insensitively.
var DefaultSecretKeys = []string{
	"password", "passwordhash", "token", "secret", "apikey", "api_key",
	"authorization", "cookie",
}

const mask = "***"

// Redactor scrubs audit metadata before it is hashed and stored.
type Redactor struct {
	rules []Rule
	keys  map[string]bool
}

// NewRedactor returns a Redactor applying rules plus DefaultSecretKeys and
// any extra keys.
func NewRedactor(rules []Rule, extraKeys ...string) *Redactor {
	keys := make(map[string]bool, len(DefaultSecretKeys)+len(extraKeys))
	for _, k := range DefaultSecretKeys {
		keys[strings.ToLower(k)] = true
	}
	for _, k := range extraKeys {
		keys[strings.ToLower(k)] = true
	}
	return &Redactor{rules: rules, keys: keys}
}

// DefaultRedactor applies AuthRules, FileRules and DefaultSecretKeys.
func DefaultRedactor() *Redactor {
	rules := append(append([]Rule{}, AuthRules...), FileRules...)
	return NewRedactor(rules)
}

// Redact converts v to a JSON tree and returns the scrubbed tree.
// The input is never modified.
func (r *Redactor) Redact(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("audit: marshal meta: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("audit: decode meta: %w", err)
	}
	if tree == nil {
		tree = map[string]any{}
	}

	for _, rule := range r.rules {
		replace := rule.ReplaceWith
		if replace == "" {
			replace = mask
		}
		setPath(tree, strings.Split(rule.Path, "."), replace)
	}
	return r.maskKeys(tree), nil
}

// setPath replaces the value at path if every segment exists.
func setPath(tree any, path []string, value any) {
	cur, ok := tree.(map[string]any)
	if !ok {
		return
	}
	for _, k := range path[:len(path)-1] {
		if cur, ok = cur[k].(map[string]any); !ok {
			return
		}
	}
	last := path[len(path)-1]
	if _, exists := cur[last]; exists {
		cur[last] = value
	}
}

func (r *Redactor) maskKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if r.keys[strings.ToLower(k)] {
				t[k] = maskValue(child)
				continue
			}
			t[k] = r.maskKeys(child)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = r.maskKeys(child)
		}
		return t
	default:
		return v
	}
}

// maskValue replaces a value with "***". Numbers, bools and nulls are preserved.
func maskValue(v any) any {
	switch v.(type) {
	case json.Number, bool, nil:
		return v
	default:
		return mask
	}
}
