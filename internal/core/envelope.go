package core

// envelope.go recognizes encrypted import payloads.
//
// Three wrapper shapes are accepted:
//
//	-----BEGIN SHORTLINK EXPORT-----      header marker (also "ENCRYPTED:<iv>:<data>")
//	IV: <base64>
//	<base64 ciphertext, any line width>
//	-----END SHORTLINK EXPORT-----
//
//	{"encrypted": true, "iv": "...", "content": "..."}   JSON object
//
//	iv: <base64>                           labeled text, followed by either a
//	content: <base64>                      cipher:/content:/data: line or a
//	                                       bare multi-line base64 block
//
// Detection is deliberately separate from decryption: once a wrapper is
// detected, the import either decrypts it or fails, it never falls through
// to the plaintext parsers.

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	envelopeBegin = "-----BEGIN SHORTLINK EXPORT-----"
	envelopeEnd   = "-----END SHORTLINK EXPORT-----"
	legacyMarker  = "ENCRYPTED:"
	envelopeWidth = 76
)

// envelope is a detected encrypted wrapper.
type envelope struct {
	kind       string // header, json, labeled
	iv         string
	ciphertext string
}

var (
	labelLine   = regexp.MustCompile(`^\s*([A-Za-z]+)\s*[:：]\s*(.*?)\s*$`)
	base64Line  = regexp.MustCompile(`^[A-Za-z0-9+/_=-]+$`)
	cipherLabel = map[string]bool{"cipher": true, "ciphertext": true, "content": true, "data": true}
)

// detectEnvelope reports whether raw is an encrypted wrapper.
func detectEnvelope(raw string) (*envelope, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, false
	}

	if env, ok := detectHeaderEnvelope(trimmed); ok {
		return env, true
	}
	if strings.HasPrefix(trimmed, "{") {
		if env, ok := detectJSONEnvelope(trimmed); ok {
			return env, true
		}
	}
	return detectLabeledEnvelope(trimmed)
}

func detectHeaderEnvelope(trimmed string) (*envelope, bool) {
	if strings.HasPrefix(trimmed, legacyMarker) {
		rest := strings.TrimSpace(strings.TrimPrefix(trimmed, legacyMarker))
		iv, data, _ := strings.Cut(rest, ":")
		return &envelope{kind: "header", iv: iv, ciphertext: data}, true
	}

	lines := strings.Split(trimmed, "\n")
	if strings.TrimSpace(lines[0]) != envelopeBegin {
		return nil, false
	}

	env := &envelope{kind: "header"}
	var body strings.Builder
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == envelopeEnd {
			break
		}
		if line == "" {
			continue
		}
		if m := labelLine.FindStringSubmatch(line); m != nil {
			label := strings.ToLower(m[1])
			switch {
			case label == "iv":
				env.iv = m[2]
				continue
			case cipherLabel[label]:
				body.WriteString(m[2])
				continue
			}
		}
		body.WriteString(line)
	}
	env.ciphertext = body.String()
	return env, true
}

func detectJSONEnvelope(trimmed string) (*envelope, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return nil, false
	}

	encrypted := jsonFlag(obj["encrypted"])

	iv := jsonString(obj["iv"])
	var data string
	for _, key := range []string{"content", "data", "cipher", "ciphertext"} {
		if s := jsonString(obj[key]); s != "" {
			data = s
			break
		}
	}

	if !encrypted && (iv == "" || data == "") {
		return nil, false
	}
	return &envelope{kind: "json", iv: iv, ciphertext: data}, true
}

// unwrapPlainJSON returns the report carried by an unencrypted JSON export,
// {"content": "...", "encrypted": false, ...}. Call it after detectEnvelope.
func unwrapPlainJSON(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return "", false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return "", false
	}
	if jsonFlag(obj["encrypted"]) || jsonString(obj["iv"]) != "" {
		return "", false
	}
	content := jsonString(obj["content"])
	if strings.TrimSpace(content) == "" {
		return "", false
	}
	return content, true
}

// jsonFlag reads an "encrypted" style flag. Booleans and boolean strings are
// taken at face value; any other present value counts as set, so a malformed
// flag makes the payload a wrapper instead of plaintext.
func jsonFlag(raw json.RawMessage) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return v
		}
	}
	return true
}

func jsonString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func detectLabeledEnvelope(trimmed string) (*envelope, bool) {
	lines := strings.Split(trimmed, "\n")

	for i, line := range lines {
		m := labelLine.FindStringSubmatch(line)
		if m == nil || strings.ToLower(m[1]) != "iv" || m[2] == "" {
			continue
		}
		env := &envelope{kind: "labeled", iv: m[2]}

		j := i + 1
		for j < len(lines) && strings.TrimSpace(lines[j]) == "" {
			j++
		}
		if j >= len(lines) {
			return nil, false
		}

		var body strings.Builder
		next := strings.TrimSpace(lines[j])
		if lm := labelLine.FindStringSubmatch(next); lm != nil && cipherLabel[strings.ToLower(lm[1])] {
			body.WriteString(lm[2])
			j++
		}
		for ; j < len(lines); j++ {
			l := strings.TrimSpace(lines[j])
			if l == "" || !base64Line.MatchString(l) {
				break
			}
			body.WriteString(l)
		}

		if body.Len() < 16 {
			return nil, false
		}
		env.ciphertext = body.String()
		return env, true
	}
	return nil, false
}

// open decrypts the envelope with passphrase.
func (e *envelope) open(passphrase string) (string, error) {
	if e.iv == "" {
		return "", fmt.Errorf("%w: %s wrapper has no iv", ErrDecryptionFailed, e.kind)
	}
	if e.ciphertext == "" {
		return "", fmt.Errorf("%w: %s wrapper has no ciphertext", ErrDecryptionFailed, e.kind)
	}
	return DecryptPayload(e.ciphertext, e.iv, passphrase)
}

// RenderEnvelope returns the export as file content. Encrypted exports are
// wrapped in the header marker format so they can be imported verbatim;
// plaintext exports are returned unchanged.
func RenderEnvelope(p *ExportPayload) string {
	if p == nil {
		return ""
	}
	if !p.Encrypted {
		return p.Content
	}

	var b strings.Builder
	b.WriteString(envelopeBegin)
	b.WriteString("\nIV: ")
	b.WriteString(p.IV)
	b.WriteByte('\n')
	for s := p.Content; len(s) > 0; {
		n := min(envelopeWidth, len(s))
		b.WriteString(s[:n])
		b.WriteByte('\n')
		s = s[n:]
	}
	b.WriteString(envelopeEnd)
	b.WriteByte('\n')
	return b.String()
}
