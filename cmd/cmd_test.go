package cmd

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	apiKeys atomic.Value
}

func startFakeAPI(t *testing.T) (*httptest.Server, *fakeAPI) {
	t.Helper()
	f := &fakeAPI{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /PCCIS/V1/WorkFile", func(w http.ResponseWriter, r *http.Request) {
		f.apiKeys.Store(r.Header.Get("acs-api-key"))
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = w.Write([]byte(`{"fileId":"wf-1","affinityToken":"tok"}`))
	})
	mux.HandleFunc("POST /v2/contentConverters", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"processId":"p-1",
			"state":"complete",
			"input":{"src":{"fileId":"wf-1"},"dest":{"format":"pdf"}},
			"output":{"results":[{"fileId":"out-1","src":{"fileId":"wf-1"}}]}
		}`))
	})
	mux.HandleFunc("GET /PCCIS/V1/WorkFile/out-1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.7"))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, f
}

// isolate keeps the developer's environment and config files out of the test.
func isolate(t *testing.T, apiURL string) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("ACCUSOFT_API_KEY", "")
	t.Setenv("DOCCONVERT_API_KEY", "")
	t.Setenv("ACCUSOFT_API_URL", apiURL)
	t.Setenv("CONVERSION_POLL_INTERVAL", "1ms")
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeDoc(t *testing.T, dir string) string {
	t.Helper()
	input := filepath.Join(dir, "docs", "report.docx")
	require.NoError(t, os.MkdirAll(filepath.Dir(input), 0o755))
	require.NoError(t, os.WriteFile(input, []byte("document"), 0o644))
	return input
}

func TestConvertCommand(t *testing.T) {
	srv, api := startFakeAPI(t)
	dir := isolate(t, srv.URL)
	input := writeDoc(t, dir)

	out, err := execute(t, "convert", "--api-key", "flag-key", "-i", input, "-o", "PDF")
	require.NoError(t, err)

	docsDir := filepath.Dir(input)
	assert.Equal(t, "Converted "+input+" to PDF\nSee "+docsDir+" directory for output\n", out)
	assert.Equal(t, "flag-key", api.apiKeys.Load())

	data, err := os.ReadFile(filepath.Join(docsDir, "report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))
}

func TestConvertCommand_CamelCaseFlagsAndLegacyConfig(t *testing.T) {
	srv, api := startFakeAPI(t)
	dir := isolate(t, srv.URL)
	input := writeDoc(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"apiKey":"legacy-key"}`), 0o644))

	_, err := execute(t, "convert", "--inputFilePath", input, "--outputFileType", "pdf")
	require.NoError(t, err)
	assert.Equal(t, "legacy-key", api.apiKeys.Load())
}

func TestConvertCommand_Errors(t *testing.T) {
	srv, _ := startFakeAPI(t)
	dir := isolate(t, srv.URL)
	input := writeDoc(t, dir)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "missing input",
			args: []string{"convert", "--api-key", "k", "-o", "pdf"},
			want: "invalid input file path []",
		},
		{
			name: "input is a directory",
			args: []string{"convert", "--api-key", "k", "-i", filepath.Dir(input), "-o", "pdf"},
			want: "invalid input file path",
		},
		{
			name: "unsupported output type",
			args: []string{"convert", "--api-key", "k", "-i", input, "-o", "docx"},
			want: "invalid output file type [docx]",
		},
		{
			name: "no api key",
			args: []string{"convert", "-i", input, "-o", "pdf"},
			want: "config.apiKey must be set",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "docconvert dev\n", out)
}

func TestCamelCaseFlags(t *testing.T) {
	tests := map[string]string{
		"inputFilePath":   "input-file-path",
		"input-file-path": "input-file-path",
		"outputFileType":  "output-file-type",
		"api-key":         "api-key",
		"i":               "i",
	}
	for in, want := range tests {
		assert.Equal(t, want, string(camelCaseFlags(nil, in)), in)
	}
}
