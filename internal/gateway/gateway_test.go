package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/persona-lab/internal/domain"
	"github.com/ashureev/persona-lab/internal/prompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type invocation struct {
	token   string
	name    string
	payload any
}

type fakeInvoker struct {
	mu    sync.Mutex
	calls []invocation
	body  []byte
	err   error
}

func (f *fakeInvoker) Invoke(_ context.Context, token, name string, payload any) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, invocation{token: token, name: name, payload: payload})
	return f.body, f.err
}

type fakeGenerator struct {
	mu   sync.Mutex
	reqs []GenerateRequest
	out  string
	err  error
}

func (f *fakeGenerator) Generate(_ context.Context, req GenerateRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.out, f.err
}

func (f *fakeGenerator) last() GenerateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

func testForm() domain.PersonaForm {
	return domain.PersonaForm{
		TargetGender:       "female",
		TargetAge:          "20s",
		TargetIncome:       "mid",
		ServiceDescription: "fitness app",
		UsageScene:         "daily",
	}
}

func TestDecodePersonas(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    []string
		wantErr bool
	}{
		{name: "plain", body: `{"personas":["a","b","c"]}`, want: []string{"a", "b", "c"}},
		{name: "fenced", body: "```json\n{\"personas\":[\"a\"]}\n```", want: []string{"a"}},
		{name: "blank entries dropped", body: `{"personas":["a","  ",""]}`, want: []string{"a"}},
		{name: "empty list", body: `{"personas":[]}`, wantErr: true},
		{name: "missing field", body: `{"other":1}`, wantErr: true},
		{name: "not json", body: `sorry, I cannot help`, wantErr: true},
		{name: "empty body", body: ``, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePersonas([]byte(tt.body))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedResponse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeFeedback(t *testing.T) {
	ok := `{"feedbacks":[{"persona":"p1","feedback":{"firstImpression":"nice","appealPoints":["x"],"improvements":[],"summary":"good"},"selectedImageUrl":"u1"}]}`
	got, err := DecodeFeedback([]byte(ok))
	require.NoError(t, err)
	require.Len(t, got.Feedbacks, 1)
	assert.Empty(t, got.Malformed)
	assert.Equal(t, "u1", got.Feedbacks[0].SelectedImageURL)
	assert.Equal(t, []string{"x"}, got.Feedbacks[0].Feedback.AppealPoints)

	for _, body := range []string{
		`{"feedbacks":[]}`,
		`{"feedbacks":{"persona":"p"}}`,
		`not json`,
		`{"feedbacks":[{"persona":"","feedback":{"summary":"s"}}]}`,
		`{"feedbacks":[{"persona":"p","feedback":{}}]}`,
	} {
		_, err = DecodeFeedback([]byte(body))
		assert.ErrorIs(t, err, ErrMalformedResponse, body)
	}
}

func TestDecodeFeedbackKeepsUsableRecords(t *testing.T) {
	body := `{"feedbacks":[
		{"persona":"p1","feedback":{"summary":"s"},"selectedImageUrl":"u1"},
		{"persona":"","feedback":{"summary":"s"}},
		{"persona":"p3","feedback":{"summary":"s"},"selectedImageUrl":42},
		{"persona":"p4","feedback":{"firstImpression":"f"}}
	]}`
	got, err := DecodeFeedback([]byte(body))
	require.NoError(t, err)

	require.Len(t, got.Feedbacks, 2)
	assert.Equal(t, "p1", got.Feedbacks[0].Persona)
	assert.Equal(t, "p4", got.Feedbacks[1].Persona)
	require.Len(t, got.Malformed, 2)
	assert.Contains(t, string(got.Malformed[1]), `42`)
	assert.Len(t, got.Records(), 4)
}

func TestDecodeAnalysis(t *testing.T) {
	got, err := DecodeAnalysis([]byte(`{"analysis":"image A wins"}`))
	require.NoError(t, err)
	assert.Equal(t, "image A wins", got)

	_, err = DecodeAnalysis([]byte(`{"analysis":"  "}`))
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestFeedbackRequestValidate(t *testing.T) {
	assert.NoError(t, FeedbackRequest{Content: "copy", Personas: []string{"p"}}.Validate())
	assert.NoError(t, FeedbackRequest{ImageURLs: []string{"u"}, Personas: []string{"p"}}.Validate())

	var verr domain.ValidationError
	assert.ErrorAs(t, FeedbackRequest{Personas: []string{"p"}}.Validate(), &verr)
	assert.ErrorAs(t, FeedbackRequest{Content: "copy"}.Validate(), &verr)
}

func TestFunctionsGatewayForwardsTokenAndPayload(t *testing.T) {
	inv := &fakeInvoker{body: []byte(`{"personas":["a","b","c"]}`)}
	gw := NewFunctionsGateway(inv)
	ctx := WithCredentials(context.Background(), Credentials{UserID: "u1", AccessToken: "tok"})

	personas, err := gw.GeneratePersonas(ctx, testForm())
	require.NoError(t, err)
	assert.Len(t, personas, 3)

	require.Len(t, inv.calls, 1)
	assert.Equal(t, "tok", inv.calls[0].token)
	assert.Equal(t, FunctionGeneratePersonas, inv.calls[0].name)
	assert.Equal(t, testForm(), inv.calls[0].payload)
}

func TestFunctionsGatewaySendsEmptyImageList(t *testing.T) {
	inv := &fakeInvoker{body: []byte(`{"feedbacks":[{"persona":"p","feedback":{"summary":"s"}}]}`)}
	gw := NewFunctionsGateway(inv)

	_, err := gw.GenerateFeedback(context.Background(), FeedbackRequest{Content: "copy", Personas: []string{"p"}})
	require.NoError(t, err)

	data, err := json.Marshal(inv.calls[0].payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":"copy","imageUrls":[],"personas":["p"]}`, string(data))
}

func TestFunctionsGatewayWrapsInvokeError(t *testing.T) {
	boom := errors.New("boom")
	gw := NewFunctionsGateway(&fakeInvoker{err: boom})

	_, err := gw.GenerateAnalysis(context.Background(), []domain.Feedback{{Persona: "p"}})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), FunctionGenerateAnalysis)
}

func newTestLLM(t *testing.T, gen Generator, defaultKey string) *LLMGateway {
	t.Helper()
	catalog, err := prompt.DefaultCatalog()
	require.NoError(t, err)
	return NewLLMGateway(gen, catalog, defaultKey, slog.Default())
}

func TestLLMGatewayGeneratePersonasRendersForm(t *testing.T) {
	gen := &fakeGenerator{out: `{"personas":["a","b","c"]}`}
	gw := newTestLLM(t, gen, "server-key")

	personas, err := gw.GeneratePersonas(context.Background(), testForm())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, personas)

	req := gen.last()
	assert.Equal(t, "server-key", req.APIKey)
	assert.True(t, req.JSON)
	assert.Contains(t, req.Prompt.User, "fitness app")
	assert.Contains(t, req.Prompt.User, "daily")
	assert.NotContains(t, req.Prompt.User, "{serviceDescription}")
	assert.NotContains(t, req.Prompt.User, "{personaCount}")
}

func TestLLMGatewayPrefersDeviceKey(t *testing.T) {
	gen := &fakeGenerator{out: `{"personas":["a"]}`}
	gw := newTestLLM(t, gen, "server-key")
	ctx := WithCredentials(context.Background(), Credentials{APIKey: "device-key"})

	_, err := gw.GeneratePersonas(ctx, testForm())
	require.NoError(t, err)
	assert.Equal(t, "device-key", gen.last().APIKey)
}

func TestLLMGatewayMissingKey(t *testing.T) {
	gen := &fakeGenerator{out: `{"personas":["a"]}`}
	gw := newTestLLM(t, gen, "")

	_, err := gw.GeneratePersonas(context.Background(), testForm())
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.Empty(t, gen.reqs)
}

func TestLLMGatewayDropsUnknownImageSelection(t *testing.T) {
	gen := &fakeGenerator{out: `{"feedbacks":[
		{"persona":"p1","feedback":{"summary":"s"},"selectedImageUrl":"https://x/a.png"},
		{"persona":"p2","feedback":{"summary":"s"},"selectedImageUrl":"https://x/other.png"}
	]}`}
	gw := newTestLLM(t, gen, "k")

	batch, err := gw.GenerateFeedback(context.Background(), FeedbackRequest{
		Content:   "copy",
		ImageURLs: []string{"https://x/a.png", "https://x/b.png"},
		Personas:  []string{"p1", "p2"},
	})
	require.NoError(t, err)
	feedbacks := batch.Feedbacks
	require.Len(t, feedbacks, 2)
	assert.Equal(t, "https://x/a.png", feedbacks[0].SelectedImageURL)
	assert.Empty(t, feedbacks[1].SelectedImageURL)

	user := gen.last().Prompt.User
	assert.Contains(t, user, "- https://x/b.png")
	assert.Contains(t, user, "2. p2")
}

func TestLLMGatewayAnalysis(t *testing.T) {
	gen := &fakeGenerator{out: "  Image A is preferred.  "}
	gw := newTestLLM(t, gen, "k")

	got, err := gw.GenerateAnalysis(context.Background(), []domain.Feedback{
		{Persona: "p1", SelectedImageURL: "a"},
		{Persona: "p2", SelectedImageURL: "a"},
		{Persona: "p3"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Image A is preferred.", got)

	req := gen.last()
	assert.False(t, req.JSON)
	assert.Contains(t, req.Prompt.User, "a: 2")

	_, err = gw.GenerateAnalysis(context.Background(), nil)
	var verr domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRateLimitedPerUser(t *testing.T) {
	inv := &fakeInvoker{body: []byte(`{"personas":["a"]}`)}
	gw := NewRateLimited(NewFunctionsGateway(inv), 1, 2)

	alice := WithCredentials(context.Background(), Credentials{UserID: "alice"})
	bob := WithCredentials(context.Background(), Credentials{UserID: "bob"})

	for i := 0; i < 2; i++ {
		_, err := gw.GeneratePersonas(alice, testForm())
		require.NoError(t, err)
	}
	_, err := gw.GeneratePersonas(alice, testForm())
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = gw.GeneratePersonas(bob, testForm())
	assert.NoError(t, err)
	assert.Len(t, inv.calls, 3)
}

func TestGenerationLoggerWritesPerUserNDJSON(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	logger, err := NewGenerationLogger(GenerationLogConfig{Enabled: true, Dir: dir, QueueSize: 16}, slog.Default())
	require.NoError(t, err)

	inv := &fakeInvoker{body: []byte(`{"personas":["a","b"]}`)}
	gw := NewLogged(NewFunctionsGateway(inv), logger)
	ctx := WithCredentials(context.Background(), Credentials{UserID: "user/1"})

	_, err = gw.GeneratePersonas(ctx, testForm())
	require.NoError(t, err)
	require.NoError(t, logger.Close())

	path := filepath.Join(dir, "user_1", time.Now().UTC().Format("2006-01-02")+".ndjson")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var req, resp GenerationLogEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &req))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &resp))
	assert.Equal(t, "request", req.Direction)
	assert.Equal(t, FunctionGeneratePersonas, req.Function)
	assert.Equal(t, "response", resp.Direction)
	assert.Empty(t, resp.Error)
	assert.NotEmpty(t, resp.Timestamp)
}

func TestGenerationLoggerDisabledIsNoop(t *testing.T) {
	logger, err := NewGenerationLogger(GenerationLogConfig{Enabled: false}, nil)
	require.NoError(t, err)
	logger.Log(GenerationLogEvent{UserID: "u"})
	assert.NoError(t, logger.Close())
}

type memGenerationLogger struct {
	mu     sync.Mutex
	events []GenerationLogEvent
}

func (m *memGenerationLogger) Log(ev GenerationLogEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *memGenerationLogger) Close() error { return nil }

func TestLoggedRecordsMalformedFeedbackCount(t *testing.T) {
	inv := &fakeInvoker{body: []byte(`{"feedbacks":[
		{"persona":"p1","feedback":{"summary":"s"}},
		{"persona":"p2"}
	]}`)}
	rec := &memGenerationLogger{}
	gw := NewLogged(NewFunctionsGateway(inv), rec)

	batch, err := gw.GenerateFeedback(context.Background(), FeedbackRequest{Content: "c", Personas: []string{"p1", "p2"}})
	require.NoError(t, err)
	assert.Len(t, batch.Feedbacks, 1)

	require.Len(t, rec.events, 2)
	resp := rec.events[1]
	assert.Equal(t, "response", resp.Direction)
	assert.Equal(t, map[string]any{"malformed_records": 1}, resp.Meta)
	payload, ok := resp.Payload.(FeedbackResponse)
	require.True(t, ok)
	assert.Len(t, payload.Feedbacks, 2)
}
