package utils

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkTextKeepsShortTextWhole(t *testing.T) {
	assert.Nil(t, ChunkText("   ", 10))
	assert.Equal(t, []string{"hello world"}, ChunkText("  hello world \n", 100))
}

func TestChunkTextPrefersParagraphs(t *testing.T) {
	text := "first paragraph here.\n\nsecond paragraph here.\n\nthird."
	chunks := ChunkText(text, 45)
	require.Len(t, chunks, 2)
	assert.Equal(t, "first paragraph here.\n\nsecond paragraph here.", chunks[0])
	assert.Equal(t, "third.", chunks[1])
}

func TestChunkTextRespectsLimit(t *testing.T) {
	text := strings.Repeat("wordy ", 200) + strings.Repeat("x", 70)
	for _, c := range ChunkText(text, 32) {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 32)
		assert.NotEmpty(t, c)
	}
}

func TestChunkTextCutsInsideLongWords(t *testing.T) {
	assert.Equal(t, []string{"éé", "éé", "é"}, ChunkText("ééééé", 2))
	assert.Equal(t, []string{"ab", "cd"}, ChunkText("ab   cd", 4))
}

func TestLimitStr(t *testing.T) {
	assert.Equal(t, "abc", LimitStr("abc", 3))
	assert.Equal(t, "ab...", LimitStr("abc", 2))
	assert.Equal(t, "çã...", LimitStr("çãõ", 2))
}

func TestCleanJSON(t *testing.T) {
	cases := map[string]string{
		`{"a":1}`:                                 `{"a":1}`,
		"```json\n{\"a\":1}\n```":                 `{"a":1}`,
		"<think>hmm {no}</think>\n{\"a\":1}":      `{"a":1}`,
		"Sure! Here you go: {\"a\":{\"b\":2}} :)": `{"a":{"b":2}}`,
	}
	for in, want := range cases {
		assert.Equal(t, want, CleanJSON(in), in)
	}
}

func TestLoadDecodesByExtension(t *testing.T) {
	type doc struct {
		Name string `json:"name" yaml:"name"`
	}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yml"), []byte("name: yaml\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(`{"name":"json"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.toml"), []byte(`name = "toml"`), 0o644))

	v, err := Load[doc](filepath.Join(dir, "a.yml"))
	require.NoError(t, err)
	assert.Equal(t, "yaml", v.Name)

	v, err = Load[doc](filepath.Join(dir, "b.json"))
	require.NoError(t, err)
	assert.Equal(t, "json", v.Name)

	_, err = Load[doc](filepath.Join(dir, "c.toml"))
	assert.Error(t, err)
	assert.True(t, Exists(filepath.Join(dir, "c.toml")))
}

func TestSSEWriter(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	w, err := NewSSEWriter(c)
	require.NoError(t, err)
	require.NoError(t, w.Event("delta", "line one\nline two"))
	require.NoError(t, w.Event("done", map[string]bool{"success": true}))
	w.Close()
	require.NoError(t, w.Event("ignored", "after close"))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t,
		"event: delta\ndata: \"line one\\nline two\"\n\n"+
			"event: done\ndata: {\"success\":true}\n\n"+
			"event: close\ndata: null\n\n",
		rec.Body.String())
}
