package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qaboard/internal/forum"
	"qaboard/internal/identity"
	"qaboard/internal/ledger"
	"qaboard/internal/middleware"
	"qaboard/internal/models"
	"qaboard/internal/store/badgerstore"
	"qaboard/internal/tally"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	engine   *gin.Engine
	verifier *identity.JWTVerifier
	ledger   *ledger.Ledger
	feed     *tally.Feed
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	verifier, err := identity.NewJWTVerifier("handler-secret", "")
	require.NoError(t, err)

	questions := NewQuestionHandler(forum.NewService(s, nil), nil)
	feed := tally.NewFeed()
	l := ledger.New(s, identity.ContextProvider{}, ledger.WithPublisher(feed))
	votes := NewVoteHandler(l, feed, nil)
	auth := NewAuthHandler(verifier, nil)

	r := gin.New()
	r.Use(sessions.Sessions("test_session", cookie.NewStore([]byte("test"))))
	api := r.Group("/api", middleware.LoadVoter(verifier, nil))
	api.GET("/questions", questions.List)
	api.GET("/questions/:id", questions.Detail)
	api.GET("/questions/:id/answers", questions.ListAnswers)
	api.GET("/answers/:id/tally", votes.Tally)
	api.GET("/answers/:id/tally/stream", votes.Stream)
	api.POST("/session", auth.Login)

	authorized := api.Group("", middleware.VoterRequired())
	authorized.GET("/session", auth.Me)
	authorized.POST("/questions", questions.Create)
	authorized.POST("/questions/:id/answers", questions.CreateAnswer)
	authorized.GET("/answers/:id/vote", votes.MyVote)
	authorized.POST("/answers/:id/vote", votes.Vote)

	return &testServer{engine: r, verifier: verifier, ledger: l, feed: feed}
}

func (ts *testServer) token(t *testing.T, voterID string) string {
	t.Helper()
	tok, err := ts.verifier.Sign(identity.Voter{ID: voterID, Name: "voter " + voterID}, time.Hour)
	require.NoError(t, err)
	return tok
}

// call sends body as JSON. voterID "" sends no credentials.
func (ts *testServer) call(t *testing.T, method, path, voterID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if voterID != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token(t, voterID))
	}
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// seed posts a question with one answer and returns the answer id.
func (ts *testServer) seed(t *testing.T) (questionID, answerID string) {
	t.Helper()
	w := ts.call(t, http.MethodPost, "/api/questions", "author", gin.H{"title": "Derivative of x^2?", "body": "Show working."})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	q := decode[models.Question](t, w)

	w = ts.call(t, http.MethodPost, "/api/questions/"+q.ID+"/answers", "author", gin.H{"body": "2x"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	a := decode[models.Answer](t, w)
	return q.ID, a.ID
}

type tallyBody struct {
	AnswerID string `json:"answer_id"`
	Likes    int    `json:"likes"`
	Dislikes int    `json:"dislikes"`
	Vote     string `json:"vote"`
}

func TestVoteScenario(t *testing.T) {
	ts := newTestServer(t)
	_, answerID := ts.seed(t)
	path := "/api/answers/" + answerID + "/vote"

	steps := []struct {
		voter    string
		value    int
		likes    int
		dislikes int
	}{
		{"u1", 1, 1, 0},
		{"u2", -1, 1, 1},
		{"u1", -1, 0, 2},
		{"u1", -1, 0, 2},
	}
	for i, step := range steps {
		w := ts.call(t, http.MethodPost, path, step.voter, gin.H{"value": step.value})
		require.Equal(t, http.StatusOK, w.Code, "step %d: %s", i, w.Body.String())
		got := decode[tallyBody](t, w)
		assert.Equal(t, answerID, got.AnswerID)
		assert.Equal(t, step.likes, got.Likes, "step %d likes", i)
		assert.Equal(t, step.dislikes, got.Dislikes, "step %d dislikes", i)
	}

	w := ts.call(t, http.MethodGet, "/api/answers/"+answerID+"/tally", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[tallyBody](t, w)
	assert.Equal(t, 0, got.Likes)
	assert.Equal(t, 2, got.Dislikes)

	w = ts.call(t, http.MethodGet, path, "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"answer_id":%q,"vote":"disliked","value":-1}`, answerID), w.Body.String())

	w = ts.call(t, http.MethodGet, path, "u3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"vote":"none"`)
}

func TestVoteErrors(t *testing.T) {
	ts := newTestServer(t)
	_, answerID := ts.seed(t)
	path := "/api/answers/" + answerID + "/vote"

	w := ts.call(t, http.MethodPost, path, "", gin.H{"value": 1})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.call(t, http.MethodPost, path, "u1", gin.H{"value": 2})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.call(t, http.MethodPost, path, "u1", gin.H{"value": "up"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.call(t, http.MethodPost, "/api/answers/missing/vote", "u1", gin.H{"value": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"answer not found"}`, w.Body.String())

	w = ts.call(t, http.MethodGet, "/api/answers/missing/tally", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Nothing above changed the counters.
	w = ts.call(t, http.MethodGet, "/api/answers/"+answerID+"/tally", "", nil)
	got := decode[tallyBody](t, w)
	assert.Equal(t, 0, got.Likes+got.Dislikes)
}

func TestQuestionEndpoints(t *testing.T) {
	ts := newTestServer(t)
	questionID, answerID := ts.seed(t)

	w := ts.call(t, http.MethodGet, "/api/questions/"+questionID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	q := decode[models.Question](t, w)
	assert.Equal(t, models.DefaultSubject, q.Subject)
	assert.Equal(t, "voter author", q.AuthorName)
	assert.Equal(t, 1, q.AnswerCount)

	w = ts.call(t, http.MethodGet, "/api/questions?subject=General&limit=5", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Questions []models.Question `json:"questions"`
	}](t, w)
	require.Len(t, list.Questions, 1)
	assert.Equal(t, questionID, list.Questions[0].ID)

	w = ts.call(t, http.MethodGet, "/api/questions/"+questionID+"/answers?sort=top", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	answers := decode[struct {
		Answers []models.Answer `json:"answers"`
	}](t, w)
	require.Len(t, answers.Answers, 1)
	assert.Equal(t, answerID, answers.Answers[0].ID)

	w = ts.call(t, http.MethodGet, "/api/questions/"+questionID+"/answers?sort=random", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.call(t, http.MethodGet, "/api/questions/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.call(t, http.MethodPost, "/api/questions/missing/answers", "u1", gin.H{"body": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.call(t, http.MethodPost, "/api/questions", "u1", gin.H{"title": "", "body": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.call(t, http.MethodPost, "/api/questions", "", gin.H{"title": "t", "body": "x"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionLogin(t *testing.T) {
	ts := newTestServer(t)

	w := ts.call(t, http.MethodPost, "/api/session", "", gin.H{"token": ts.token(t, "u7")})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u7", decode[identity.Voter](t, rec).ID)

	w = ts.call(t, http.MethodPost, "/api/session", "", gin.H{"token": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.call(t, http.MethodPost, "/api/session", "", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ledger.ErrNotFound, http.StatusNotFound},
		{forum.ErrNotFound, http.StatusNotFound},
		{ledger.ErrUnauthenticated, http.StatusUnauthorized},
		{identity.ErrInvalidToken, http.StatusUnauthorized},
		{fmt.Errorf("%w: got 3", ledger.ErrInvalidArgument), http.StatusBadRequest},
		{forum.ErrInvalidInput, http.StatusBadRequest},
		{fmt.Errorf("%w (after 5 attempts)", ledger.ErrConflict), http.StatusConflict},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusOf(tc.err), tc.err.Error())
	}
}

func TestInternalErrorHidden(t *testing.T) {
	r := gin.New()
	r.GET("/boom", func(c *gin.Context) {
		RespondError(c, handlerLogger(nil), errors.New("pq: password authentication failed"))
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, w.Body.String())
}

func TestTallyStream(t *testing.T) {
	ts := newTestServer(t)
	_, answerID := ts.seed(t)

	srv := httptest.NewServer(ts.engine)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/answers/"+answerID+"/tally/stream", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := bufio.NewReader(resp.Body)
	nextData := func() tallyBody {
		t.Helper()
		for {
			line, err := events.ReadString('\n')
			require.NoError(t, err)
			if data, ok := strings.CutPrefix(strings.TrimSpace(line), "data:"); ok {
				var got tallyBody
				require.NoError(t, json.Unmarshal([]byte(data), &got))
				return got
			}
		}
	}

	first := nextData()
	assert.Equal(t, answerID, first.AnswerID)
	assert.Equal(t, 0, first.Likes)

	// The subscription is registered before the first event is written.
	require.Equal(t, 1, ts.feed.Subscribers())
	_, err = ts.ledger.CastVoteAs(ctx, answerID, "u1", models.VoteLike)
	require.NoError(t, err)

	second := nextData()
	assert.Equal(t, 1, second.Likes)
	assert.Equal(t, 0, second.Dislikes)
}

func TestTallyStreamUnknownAnswer(t *testing.T) {
	ts := newTestServer(t)
	w := ts.call(t, http.MethodGet, "/api/answers/missing/tally/stream", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 0, ts.feed.Subscribers())
}
