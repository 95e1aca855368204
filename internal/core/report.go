package core

// report.go defines the human-readable export report and the label
// vocabulary the import parsers recognize. Labels are bilingual: the report
// writes "短码 Code:" and readers accept either half on its own.

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	reportRule  = "========================================"
	reportTitle = "短链接导出 Short Link Export"
)

// Field keys produced by labelField.
const (
	fieldCode      = "code"
	fieldTarget    = "target"
	fieldOwnerID   = "ownerId"
	fieldOwnerName = "ownerName"
	fieldIgnored   = "-"
)

// labelAliases maps a lowercased label to a field key.
var labelAliases = map[string]string{
	"code":       fieldCode,
	"short code": fieldCode,
	"shortcode":  fieldCode,
	"短码":         fieldCode,
	"短链码":        fieldCode,

	"target":       fieldTarget,
	"url":          fieldTarget,
	"target url":   fieldTarget,
	"original url": fieldTarget,
	"目标":           fieldTarget,
	"目标链接":         fieldTarget,
	"原始链接":         fieldTarget,

	"owner id": fieldOwnerID,
	"ownerid":  fieldOwnerID,
	"所有者id":    fieldOwnerID,
	"用户id":     fieldOwnerID,

	"owner":      fieldOwnerName,
	"owner name": fieldOwnerName,
	"所有者":        fieldOwnerName,
	"用户名":        fieldOwnerName,

	"short url": fieldIgnored,
	"短链接":       fieldIgnored,
	"created":   fieldIgnored,
	"创建时间":      fieldIgnored,
}

// recordHeader matches the numbered line that opens a report block:
// "[1] 记录 Record", "#1", "Record 1", "记录 1".
var recordHeader = regexp.MustCompile(`^\s*(?:\[\d+\]|#\s*\d+\b|(?i:record)\s*#?\s*\d+\b|记录\s*#?\s*\d+)`)

// splitLabel splits "label: value" at the first ASCII or full-width colon.
func splitLabel(line string) (label, value string, ok bool) {
	i := strings.IndexAny(line, ":：")
	if i <= 0 {
		return "", "", false
	}
	sep := ":"
	if strings.HasPrefix(line[i:], "：") {
		sep = "："
	}
	return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+len(sep):]), true
}

// labelField resolves a label to a field key. Bilingual labels such as
// "所有者ID Owner ID" are tried whole, then without their first word, then
// as their first word alone.
func labelField(label string) (string, bool) {
	label = strings.ToLower(strings.Join(strings.Fields(label), " "))
	if label == "" {
		return "", false
	}
	if f, ok := labelAliases[label]; ok {
		return f, true
	}
	first, rest, found := strings.Cut(label, " ")
	if found {
		if f, ok := labelAliases[rest]; ok {
			return f, true
		}
	}
	if f, ok := labelAliases[first]; ok {
		return f, true
	}
	return "", false
}

// reportWriter appends report blocks to a builder.
type reportWriter struct {
	b       *strings.Builder
	baseURL string
	n       int
}

func newReportWriter(b *strings.Builder, baseURL string, generatedAt time.Time, total int64) *reportWriter {
	fmt.Fprintf(b, "%s\n%s\n生成时间 Generated: %s\n总数 Total: %d\n%s\n\n",
		reportRule, reportTitle, generatedAt.UTC().Format(time.RFC3339), total, reportRule)
	return &reportWriter{b: b, baseURL: strings.TrimRight(baseURL, "/")}
}

func (w *reportWriter) write(link ShortLink) {
	w.n++
	fmt.Fprintf(w.b, "[%d] 记录 Record\n", w.n)
	fmt.Fprintf(w.b, "短码 Code: %s\n", link.Code)
	fmt.Fprintf(w.b, "短链接 Short URL: %s\n", ShortURL(w.baseURL, link.Code))
	fmt.Fprintf(w.b, "目标 Target: %s\n", link.Target)
	fmt.Fprintf(w.b, "创建时间 Created: %s\n", link.CreatedAt.UTC().Format(time.RFC3339))
	if link.OwnerID != "" {
		fmt.Fprintf(w.b, "所有者ID Owner ID: %s\n", link.OwnerID)
	}
	if link.OwnerName != "" {
		fmt.Fprintf(w.b, "所有者 Owner: %s\n", link.OwnerName)
	}
	w.b.WriteByte('\n')
}

func (w *reportWriter) close() {
	fmt.Fprintf(w.b, "-- end of export (%d records) --\n", w.n)
}

// ShortURL joins the public base URL and a code.
func ShortURL(baseURL, code string) string {
	return strings.TrimRight(baseURL, "/") + "/" + code
}
