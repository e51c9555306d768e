package letters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lexreview/lexreview/internal/db"
	"github.com/lexreview/lexreview/internal/embeddings"
	"github.com/lexreview/lexreview/internal/llm"
	"github.com/lexreview/lexreview/internal/llm/llmtest"
	"github.com/lexreview/lexreview/internal/progress"
	"github.com/lexreview/lexreview/internal/retrieval"
	"github.com/lexreview/lexreview/internal/textstore"
	"github.com/lexreview/lexreview/internal/vectorindex"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const leaveTemplate = `Subject: Request for sick leave

Dear [Manager Name],
I, {{Employee Name}}, request sick leave from <Start Date> to {End Date}.`

const citizenshipTemplate = `Subject: Citizenship recommendation

To the Ward Office, ward number [Ward No].
Recommend citizenship certificate for {Applicant}.`

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"leave/sick_leave.txt":           {Data: []byte(leaveTemplate)},
		"citizenship_recommendation.txt": {Data: []byte(citizenshipTemplate)},
		"README.md":                      {Data: []byte("not a template")},
	}
}

func newTestPipeline(t *testing.T) *retrieval.Pipeline {
	t.Helper()
	backend, err := vectorindex.NewChromemBackend("", false)
	require.NoError(t, err)
	ix, err := backend.Index(Corpus)
	require.NoError(t, err)
	d, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return retrieval.New(Corpus, embeddings.NewHashEmbedder(256), ix, textstore.NewStore(d), retrieval.Options{})
}

func newIndexedGenerator(t *testing.T, provider llm.Provider) *Generator {
	t.Helper()
	loader := NewLoaderFS(testFS(), "")
	p := newTestPipeline(t)
	n, err := NewIndexer(loader, p, progress.Nop{}).Build(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	return NewGenerator(loader, p, provider)
}

func TestExtractPlaceholders(t *testing.T) {
	assert.Equal(t,
		[]string{"Employee Name", "End Date", "Manager Name", "Start Date"},
		ExtractPlaceholders(leaveTemplate))
	assert.Equal(t, []string{"Applicant", "Ward No"}, ExtractPlaceholders(citizenshipTemplate))
	assert.Equal(t, []string{"Date"}, ExtractPlaceholders("{{Date}} and {{ Date }} and [ ]"))
	assert.Empty(t, ExtractPlaceholders("no placeholders here"))
}

func TestFill(t *testing.T) {
	got := Fill(leaveTemplate, map[string]string{
		"Manager Name":  "Ms. Sharma",
		"Employee Name": "Ram",
		"Start Date":    "2081-01-01",
		"End Date":      "2081-01-05",
		"Unused":        "x",
	})
	assert.Contains(t, got, "Dear Ms. Sharma,")
	assert.Contains(t, got, "I, Ram, request sick leave from 2081-01-01 to 2081-01-05.")
	assert.NotContains(t, got, "{")
}

func TestLoader(t *testing.T) {
	l := NewLoaderFS(testFS(), "")
	names, err := l.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"citizenship_recommendation.txt", "leave/sick_leave.txt"}, names)

	tmpl, err := l.Load("leave/sick_leave.txt")
	require.NoError(t, err)
	assert.Equal(t, leaveTemplate, tmpl.Content)
	assert.Len(t, tmpl.Placeholders, 4)

	_, err = l.Load("missing.txt")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
	_, err = l.Load("../etc/passwd")
	assert.ErrorIs(t, err, ErrTemplateNotFound)

	empty, err := NewLoader(t.TempDir() + "/absent").List()
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestIndexerStoresMetadata(t *testing.T) {
	g := newIndexedGenerator(t, nil)
	cands, err := g.pipeline.Search(context.Background(), "citizenship recommendation ward", 2, nil)
	require.NoError(t, err)
	require.NotEmpty(t, cands)
	assert.Equal(t, "citizenship_recommendation.txt", cands[0].Metadata[MetaFilename])
	assert.Equal(t, "Applicant,Ward No", cands[0].Metadata[MetaPlaceholders])
	assert.True(t, strings.HasPrefix(cands[0].Text, "Template Name: citizenship_recommendation.txt\nContent:\n"))
}

func TestAnalyze(t *testing.T) {
	provider := llmtest.Static("Manager Name, End Date")
	g := newIndexedGenerator(t, provider)

	a, err := g.Analyze(context.Background(), "I am Ram and need sick leave starting tomorrow")
	require.NoError(t, err)
	assert.Equal(t, "leave/sick_leave.txt", a.TemplateName)
	assert.Equal(t, []string{"Manager Name", "End Date"}, a.MissingFields)
	assert.Len(t, a.DetectedPlaceholders, 4)
	assert.Zero(t, provider.Calls()[0].Temperature)

	g.provider = llmtest.Static("None")
	a, err = g.Analyze(context.Background(), "sick leave request")
	require.NoError(t, err)
	assert.Empty(t, a.MissingFields)
}

func TestGenerate(t *testing.T) {
	provider := llmtest.Static("Dear Ms. Sharma, ...")
	g := newIndexedGenerator(t, provider)

	letter, err := g.Generate(context.Background(), GenerateRequest{
		Description:    "sick leave for three days",
		AdditionalData: map[string]string{"Employee Name": "Ram", "Manager Name": "Ms. Sharma"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Dear Ms. Sharma, ...", letter.Text)
	assert.Equal(t, "leave/sick_leave.txt", letter.TemplateUsed)
	assert.Equal(t, MethodRAG, letter.Method)
	assert.Greater(t, letter.RetrievalScore, 0.0)
	assert.Less(t, letter.RetrievalScore, 1.0)

	prompt := provider.LastUserMessage()
	assert.Contains(t, prompt, "Additional User Details:\n- Employee Name: Ram\n- Manager Name: Ms. Sharma")
	assert.Contains(t, prompt, leaveTemplate)

	letter, err = g.Generate(context.Background(), GenerateRequest{Description: "x", TemplateName: "citizenship_recommendation.txt"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, letter.RetrievalScore)

	_, err = g.Generate(context.Background(), GenerateRequest{Description: "x", TemplateName: "nope.txt"})
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestGenerateErrors(t *testing.T) {
	loader := NewLoaderFS(testFS(), "")
	empty := NewGenerator(loader, newTestPipeline(t), llmtest.Static("x"))
	_, err := empty.Generate(context.Background(), GenerateRequest{Description: "sick leave"})
	assert.ErrorIs(t, err, ErrNoTemplateMatch)

	noLLM := NewGenerator(loader, newTestPipeline(t), nil)
	_, err = noLLM.Analyze(context.Background(), "sick leave")
	assert.ErrorIs(t, err, ErrNoProvider)

	draft, err := noLLM.Refine(context.Background(), "draft text", "")
	require.NoError(t, err)
	assert.Equal(t, "draft text", draft)

	failing := newIndexedGenerator(t, llmtest.Failing(errors.New("quota exceeded")))
	_, err = failing.Generate(context.Background(), GenerateRequest{Description: "sick leave"})
	assert.ErrorIs(t, err, llm.ErrCompletion)
}

func TestRoutes(t *testing.T) {
	g := newIndexedGenerator(t, llmtest.Static("Refined letter."))
	r := chi.NewRouter()
	RegisterRoutes(r, g)

	do := func(method, path string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		req := httptest.NewRequest(method, path, &buf)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodGet, "/api/v1/templates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "leave/sick_leave.txt")

	w = do(http.MethodPost, "/api/v1/fill-template", map[string]any{
		"template_name": "citizenship_recommendation.txt",
		"data":          map[string]string{"Ward No": "4", "Applicant": "Sita"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var resp letterResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Contains(t, resp.Letter, "ward number 4")
	assert.Equal(t, MethodFill, resp.Method)

	w = do(http.MethodPost, "/api/v1/fill-template", map[string]any{"template_name": "nope.txt"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(http.MethodPost, "/api/v1/generate-letter", map[string]any{"additional_data": map[string]string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(http.MethodPost, "/api/v1/generate-letter", map[string]any{"description": "sick leave"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, MethodRAG, resp.Method)
	require.NotNil(t, resp.RetrievalScore)

	w = do(http.MethodPost, "/api/v1/analyze-requirements", map[string]any{"description": "sick leave"})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(http.MethodPost, "/api/v1/refine-letter", map[string]any{"draft": "rough"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Refined letter.")
}

func TestSearchTemplates(t *testing.T) {
	g := newIndexedGenerator(t, nil)
	matches, err := g.Search(context.Background(), "sick leave request to manager", 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.GreaterOrEqual(t, matches[0].Score, matches[1].Score)
	for _, m := range matches {
		assert.NotEmpty(t, m.Name)
		assert.NotEmpty(t, m.Placeholders)
	}
}
