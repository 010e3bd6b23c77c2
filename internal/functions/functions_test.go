package functions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ashureev/persona-lab/internal/backend"
	"github.com/ashureev/persona-lab/internal/domain"
	"github.com/ashureev/persona-lab/internal/gateway"
	"github.com/ashureev/persona-lab/internal/identity"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGateway struct {
	creds     gateway.Credentials
	err       error
	malformed []json.RawMessage
}

func (s *stubGateway) GeneratePersonas(ctx context.Context, form domain.PersonaForm) ([]string, error) {
	s.creds = gateway.CredentialsFromContext(ctx)
	if s.err != nil {
		return nil, s.err
	}
	return []string{"a " + form.ServiceDescription, "b", "c"}, nil
}

func (s *stubGateway) GenerateFeedback(ctx context.Context, req gateway.FeedbackRequest) (gateway.FeedbackBatch, error) {
	s.creds = gateway.CredentialsFromContext(ctx)
	out := make([]domain.Feedback, 0, len(req.Personas))
	for _, p := range req.Personas {
		out = append(out, domain.Feedback{Persona: p, Feedback: domain.FeedbackDetail{Summary: "ok"}})
	}
	return gateway.FeedbackBatch{Feedbacks: out, Malformed: s.malformed}, nil
}

func (s *stubGateway) GenerateAnalysis(ctx context.Context, feedbacks []domain.Feedback) (string, error) {
	s.creds = gateway.CredentialsFromContext(ctx)
	return "analysis of " + feedbacks[0].Persona, nil
}

type stubUsers struct{}

func (stubUsers) GetUser(_ context.Context, token string) (*domain.User, error) {
	switch token {
	case "user-token":
		return &domain.User{ID: "user-1"}, nil
	case "orphan-token":
		return nil, nil
	default:
		return nil, errors.New("invalid token")
	}
}

func newRouter(gw gateway.Gateway) http.Handler {
	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	NewHandler(gw, stubUsers{}, "anon-key", nil).RegisterRoutes(r)
	return r
}

func call(t *testing.T, h http.Handler, name, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/functions/v1/"+name, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGeneratePersonasFunction(t *testing.T) {
	gw := &stubGateway{}
	rec := call(t, newRouter(gw), gateway.FunctionGeneratePersonas, "user-token",
		`{"targetGender":"female","targetAge":"20s","targetIncome":"mid","serviceDescription":"fitness app","usageScene":"daily"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	personas, err := gateway.DecodePersonas(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []string{"a fitness app", "b", "c"}, personas)
	assert.Equal(t, "user-1", gw.creds.UserID)
	assert.Equal(t, "user-token", gw.creds.AccessToken)
}

func TestAnonymousCallerIsAttributedToDevice(t *testing.T) {
	gw := &stubGateway{}
	rec := call(t, newRouter(gw), gateway.FunctionGeneratePersonas, "anon-key", `{"serviceDescription":"x"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(gw.creds.UserID, "dev_"))
	assert.Empty(t, gw.creds.AccessToken)
}

func TestTokenWithoutUserIsAttributedToDevice(t *testing.T) {
	gw := &stubGateway{}
	rec := call(t, newRouter(gw), gateway.FunctionGeneratePersonas, "orphan-token", `{"serviceDescription":"x"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, strings.HasPrefix(gw.creds.UserID, "dev_"))
	assert.Empty(t, gw.creds.AccessToken)
}

func TestBackendUserWithoutIDIsAttributedToDevice(t *testing.T) {
	users := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer users.Close()

	gw := &stubGateway{}
	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	NewHandler(gw, backend.New(users.URL, "anon-key"), "anon-key", nil).RegisterRoutes(r)

	rec := call(t, r, gateway.FunctionGeneratePersonas, "user-token", `{"serviceDescription":"x"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, strings.HasPrefix(gw.creds.UserID, "dev_"))
}

func TestGenerateFeedbackFunctionRoundTrip(t *testing.T) {
	gw := &stubGateway{malformed: []json.RawMessage{json.RawMessage(`{"persona":""}`)}}
	rec := call(t, newRouter(gw), gateway.FunctionGenerateFeedback, "",
		`{"content":"copy","imageUrls":[],"personas":["p1","p2"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	batch, err := gateway.DecodeFeedback(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Len(t, batch.Feedbacks, 2)
	assert.Len(t, batch.Malformed, 1)
}

func TestGenerateAnalysisFunction(t *testing.T) {
	rec := call(t, newRouter(&stubGateway{}), gateway.FunctionGenerateAnalysis, "",
		`{"feedbacks":[{"persona":"p1","feedback":{"summary":"s"}}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp gateway.AnalysisResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "analysis of p1", resp.Analysis)

	rec = call(t, newRouter(&stubGateway{}), gateway.FunctionGenerateAnalysis, "", `{"feedbacks":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFunctionErrors(t *testing.T) {
	h := newRouter(&stubGateway{err: gateway.ErrMalformedResponse})

	assert.Equal(t, http.StatusNotFound, call(t, h, "delete-everything", "", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, call(t, h, gateway.FunctionGeneratePersonas, "", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, call(t, h, gateway.FunctionGenerateFeedback, "", `{"content":"x"}`).Code)
	assert.Equal(t, http.StatusBadGateway, call(t, h, gateway.FunctionGeneratePersonas, "", `{"serviceDescription":"x"}`).Code)
}

func TestFunctionsGatewayAgainstServedEndpoints(t *testing.T) {
	srv := httptest.NewServer(newRouter(&stubGateway{}))
	defer srv.Close()

	gw := gateway.NewFunctionsGateway(backend.New(srv.URL, "anon-key"))
	ctx := gateway.WithCredentials(context.Background(), gateway.Credentials{AccessToken: "user-token"})

	personas, err := gw.GeneratePersonas(ctx, domain.PersonaForm{ServiceDescription: "tea shop"})
	require.NoError(t, err)
	assert.Equal(t, "a tea shop", personas[0])

	batch, err := gw.GenerateFeedback(ctx, gateway.FeedbackRequest{Content: "c", Personas: personas})
	require.NoError(t, err)
	assert.Len(t, batch.Feedbacks, 3)

	analysis, err := gw.GenerateAnalysis(ctx, batch.Feedbacks)
	require.NoError(t, err)
	assert.Equal(t, "analysis of a tea shop", analysis)
}
