package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCandidates_Chain(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		format string
		want   []ImportCandidate
	}{
		{
			name:   "json array",
			text:   `[{"code":"abc123","target":"https://x.test","ownerId":"alice","ownerName":"Alice"}]`,
			format: "json",
			want:   []ImportCandidate{{Code: "abc123", Target: "https://x.test", OwnerID: "alice", OwnerName: "Alice"}},
		},
		{
			name:   "json items object",
			text:   `{"items":[{"code":"abc123","target":"https://x.test"},{"code":"def456","target":"https://y.test"}]}`,
			format: "json",
			want: []ImportCandidate{
				{Code: "abc123", Target: "https://x.test"},
				{Code: "def456", Target: "https://y.test"},
			},
		},
		{
			name:   "json records with aliases",
			text:   `{"records":[{"shortCode":"abc123","url":"https://x.test","owner_id":"bob"}]}`,
			format: "json",
			want:   []ImportCandidate{{Code: "abc123", Target: "https://x.test", OwnerID: "bob"}},
		},
		{
			name:   "json numeric code kept for validation",
			text:   `[{"code":123456,"target":"https://x.test"}]`,
			format: "json",
			want:   []ImportCandidate{{Code: "123456", Target: "https://x.test"}},
		},
		{
			name: "bilingual report",
			text: "========\n短链接导出 Short Link Export\n总数 Total: 2\n========\n\n" +
				"[1] 记录 Record\n短码 Code: abc123\n短链接 Short URL: https://sho.rt/abc123\n目标 Target: https://x.test\n" +
				"创建时间 Created: 2024-01-02T03:04:05Z\n所有者ID Owner ID: alice\n所有者 Owner: Alice\n\n" +
				"[2] 记录 Record\n短码 Code: def456\n短链接 Short URL: https://sho.rt/def456\n目标 Target: https://y.test/a?b=c:d\n\n" +
				"-- end of export (2 records) --\n",
			format: "report",
			want: []ImportCandidate{
				{Code: "abc123", Target: "https://x.test", OwnerID: "alice", OwnerName: "Alice"},
				{Code: "def456", Target: "https://y.test/a?b=c:d"},
			},
		},
		{
			name:   "chinese-only report with full-width colons",
			text:   "记录 1\n短码：abc123\n原始链接：https://x.test\n所有者：张三\n",
			format: "report",
			want:   []ImportCandidate{{Code: "abc123", Target: "https://x.test", OwnerName: "张三"}},
		},
		{
			name:   "english-only report",
			text:   "Record 1\nCode: abc123\nTarget: https://x.test\n#2\nCode: def456\nURL: https://y.test\n",
			format: "report",
			want: []ImportCandidate{
				{Code: "abc123", Target: "https://x.test"},
				{Code: "def456", Target: "https://y.test"},
			},
		},
		{
			name:   "loose labels",
			text:   "Code: abc123\nTarget: https://x.test\nOwner ID: alice\ncode: def456\ntarget: https://y.test\n",
			format: "labels",
			want: []ImportCandidate{
				{Code: "abc123", Target: "https://x.test", OwnerID: "alice"},
				{Code: "def456", Target: "https://y.test"},
			},
		},
		{
			name:   "csv",
			text:   "code,target\nabc123,https://x.test\n\n\"def456\",\"https://y.test/?q=a,b\"\n",
			format: "csv",
			want: []ImportCandidate{
				{Code: "abc123", Target: "https://x.test"},
				{Code: "def456", Target: "https://y.test/?q=a,b"},
			},
		},
		{
			name:   "tsv with owner columns",
			text:   "Code\tTarget\towner_id\towner_name\nabc123\thttps://x.test\talice\tAlice A\n",
			format: "csv",
			want:   []ImportCandidate{{Code: "abc123", Target: "https://x.test", OwnerID: "alice", OwnerName: "Alice A"}},
		},
		{
			name:   "csv columns in any order",
			text:   "target,code\nhttps://x.test,abc123\n",
			format: "csv",
			want:   []ImportCandidate{{Code: "abc123", Target: "https://x.test"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, format, err := ParseCandidates(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.format, format)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCandidates_NoMatch(t *testing.T) {
	inputs := map[string]string{
		"empty":             "",
		"whitespace":        " \n\t\n",
		"prose":             "hello world\nthis is not an import\n",
		"json without list": `{"hello":"world"}`,
		"json empty items":  `{"items":[]}`,
		"csv without target": "code,owner\nabc123,alice\n",
		"header only csv":   "code,target\n",
		"incomplete labels": "Code: abc123\nOwner: Alice\n",
	}

	for name, text := range inputs {
		t.Run(name, func(t *testing.T) {
			_, _, err := ParseCandidates(text)
			assert.True(t, errors.Is(err, ErrNoRecognizedFormat), "err = %v", err)
		})
	}
}

func TestParseReport_IncompleteBlockKept(t *testing.T) {
	// A block with only a code still becomes a candidate so validation can
	// report it instead of silently dropping it.
	cands, ok := parseReport("[1] 记录 Record\n短码 Code: abc123\n\n[2] 记录 Record\n")
	require.True(t, ok)
	assert.Equal(t, []ImportCandidate{{Code: "abc123"}}, cands)
}

func TestParseLabels_DropsUnpairedCode(t *testing.T) {
	cands, ok := parseLabels("Code: lonely1\nCode: abc123\nTarget: https://x.test\n")
	require.True(t, ok)
	assert.Equal(t, []ImportCandidate{{Code: "abc123", Target: "https://x.test"}}, cands)
}

func TestLabelField(t *testing.T) {
	tests := []struct {
		label string
		field string
		ok    bool
	}{
		{"Code", fieldCode, true},
		{"短码 Code", fieldCode, true},
		{"短码", fieldCode, true},
		{"目标 Target", fieldTarget, true},
		{"原始链接", fieldTarget, true},
		{"所有者ID Owner ID", fieldOwnerID, true},
		{"Owner ID", fieldOwnerID, true},
		{"所有者 Owner", fieldOwnerName, true},
		{"Owner  Name", fieldOwnerName, true},
		{"短链接 Short URL", fieldIgnored, true},
		{"创建时间 Created", fieldIgnored, true},
		{"https", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			field, ok := labelField(tt.label)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.field, field)
		})
	}
}

func TestRecordHeader(t *testing.T) {
	for _, line := range []string{"[1] 记录 Record", "#12", "# 3", "Record 4", "record #5", "记录 6", "  [7]"} {
		assert.True(t, recordHeader.MatchString(line), line)
	}
	for _, line := range []string{"Records: 5", "Code: [1]", "-- end of export (2 records) --", "recorded"} {
		assert.False(t, recordHeader.MatchString(line), line)
	}
}
