package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/mockexam/internal/exam"
	appI18n "github.com/pavelanni/mockexam/internal/i18n"
	"github.com/pavelanni/mockexam/internal/model"
	"github.com/pavelanni/mockexam/internal/store"
)

type fakeExplainer struct {
	calls int
}

func (f *fakeExplainer) Explain(_ context.Context, q model.Question, sel model.Selection) (string, error) {
	f.calls++
	return "Question " + strconv.Itoa(q.ID) + " explained", nil
}

func testBank() []model.Question {
	return []model.Question{
		{ID: 1, Text: "The sky is blue.", Type: model.TypeTrueFalse,
			Options: []model.Option{{Label: "A", Text: "True"}, {Label: "B", Text: "False"}},
			Correct: []model.Label{"A"}},
		{ID: 2, Text: "Pick the second.", Type: model.TypeSingleChoice,
			Options: []model.Option{{Label: "A", Text: "one"}, {Label: "B", Text: "two"}, {Label: "C", Text: "three"}},
			Correct: []model.Label{"B"}},
		{ID: 3, Text: "Pick the odd ones.", Type: model.TypeMultipleChoice,
			Options: []model.Option{{Label: "A", Text: "1"}, {Label: "B", Text: "2"}, {Label: "C", Text: "3"}, {Label: "D", Text: "4"}},
			Correct: []model.Label{"A", "C"}},
	}
}

func testBlueprint() model.Blueprint {
	all := model.Section{Label: "all", FirstID: 1, LastID: 100}
	return model.Blueprint{
		Quotas: []model.Quota{
			{Section: all, Type: model.TypeTrueFalse, Count: 1},
			{Section: all, Type: model.TypeSingleChoice, Count: 1},
			{Section: all, Type: model.TypeMultipleChoice, Count: 1},
		},
		TimeLimit: 20 * time.Minute,
	}
}

type testEnv struct {
	srv    *httptest.Server
	client *http.Client
	store  *store.Store
}

// fakeClock is shared with the server goroutines, so reads are locked.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestEnv(t *testing.T, questions []model.Question, explainer Explainer, adminHash string, opts ...exam.Option) *testEnv {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n init: %v", err)
	}
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if len(questions) > 0 {
		if err := st.UpsertQuestions(questions); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	opts = append([]exam.Option{exam.WithRand(rand.New(rand.NewPCG(1, 2)))}, opts...)
	mgr := exam.NewManager(0, opts...)
	h, err := New(st, mgr, explainer, model.ExamConfig{Blueprint: testBlueprint(), AdminHash: adminHash})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	r := chi.NewRouter()
	r.Use(appI18n.Middleware())
	r.Use(h.BasePathMiddleware)
	h.Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &testEnv{srv: srv, client: &http.Client{Jar: jar}, store: st}
}

// csrf returns the token from the latest csrf cookie, fetching the index
// page first if none was issued yet.
func (e *testEnv) csrf(t *testing.T) string {
	t.Helper()
	u, _ := url.Parse(e.srv.URL)
	for _, c := range e.client.Jar.Cookies(u) {
		if c.Name == csrfCookieName {
			return c.Value
		}
	}
	e.get(t, "/")
	for _, c := range e.client.Jar.Cookies(u) {
		if c.Name == csrfCookieName {
			return c.Value
		}
	}
	t.Fatal("no csrf cookie issued")
	return ""
}

func (e *testEnv) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := e.client.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return readBody(t, resp)
}

func (e *testEnv) post(t *testing.T, path string, form url.Values) (int, string) {
	t.Helper()
	if form == nil {
		form = url.Values{}
	}
	form.Set("csrf_token", e.csrf(t))
	resp, err := e.client.PostForm(e.srv.URL+path, form)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return readBody(t, resp)
}

// postAnswer records labels for a slot the way the exam page script does:
// form-encoded labels with the token in the CSRF header.
func (e *testEnv) postAnswer(t *testing.T, position int, labels ...string) (int, string) {
	t.Helper()
	body := url.Values{"label": labels}.Encode()
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/exam/answer/"+strconv.Itoa(position), strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(csrfHeaderName, e.csrf(t))
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("POST answer %d: %v", position, err)
	}
	return readBody(t, resp)
}

func readBody(t *testing.T, resp *http.Response) (int, string) {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(b)
}

func (e *testEnv) view(t *testing.T) exam.View {
	t.Helper()
	code, body := e.get(t, "/exam/view")
	if code != http.StatusOK {
		t.Fatalf("GET /exam/view: %d %s", code, body)
	}
	var v exam.View
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	return v
}

// positions maps question id to slot position.
func positions(v exam.View) map[int]int {
	m := make(map[int]int, len(v.Slots))
	for _, s := range v.Slots {
		m[s.QuestionID] = s.Position
	}
	return m
}

func TestExamFlow(t *testing.T) {
	explainer := &fakeExplainer{}
	env := newTestEnv(t, testBank(), explainer, "")

	code, body := env.get(t, "/")
	if code != http.StatusOK {
		t.Fatalf("GET /: %d", code)
	}
	for _, want := range []string{"Start Exam", "3 questions available.", "Scoring rules"} {
		if !strings.Contains(body, want) {
			t.Errorf("index missing %q", want)
		}
	}

	code, body = env.post(t, "/exam/start", nil)
	if code != http.StatusOK || !strings.Contains(body, "Time remaining") {
		t.Fatalf("start: %d, body lacks timer", code)
	}

	v := env.view(t)
	if v.State != model.StateInProgress || len(v.Slots) != 3 || v.Summary != nil {
		t.Fatalf("unexpected view: state=%s slots=%d", v.State, len(v.Slots))
	}
	pos := positions(v)

	// Per-slot JSON answer.
	form := url.Values{"label": {"a", "C"}}
	code, body = env.post(t, "/exam/answer/"+strconv.Itoa(pos[3]), form)
	if code != http.StatusOK {
		t.Fatalf("answer: %d %s", code, body)
	}
	var ans answerResponse
	if err := json.Unmarshal([]byte(body), &ans); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if !ans.Selection.Equal([]model.Label{"A", "C"}) {
		t.Errorf("selection = %v, want [A C]", ans.Selection)
	}

	code, _ = env.post(t, "/exam/answer/"+strconv.Itoa(pos[2]), url.Values{"label": {"A", "B"}})
	if code != http.StatusBadRequest {
		t.Errorf("two labels on single choice: status %d, want 400", code)
	}
	code, _ = env.post(t, "/exam/answer/99", url.Values{"label": {"A"}})
	if code != http.StatusNotFound {
		t.Errorf("unknown position: status %d, want 404", code)
	}

	// Explanations are only offered after submission.
	code, _ = env.post(t, "/exam/explain/0", nil)
	if code != http.StatusConflict {
		t.Errorf("explain before submit: status %d, want 409", code)
	}

	submit := url.Values{}
	submit.Set("q_"+strconv.Itoa(pos[1]), "A")
	submit.Set("q_"+strconv.Itoa(pos[2]), "B")
	submit["q_"+strconv.Itoa(pos[3])] = []string{"A", "C"}
	code, body = env.post(t, "/exam/submit", submit)
	if code != http.StatusOK {
		t.Fatalf("submit: %d", code)
	}
	if !strings.Contains(body, "Your score: 8 / 8") {
		t.Error("result page missing final score")
	}
	if strings.Contains(body, "Time is up") {
		t.Error("user submission should not show the timeout notice")
	}

	v = env.view(t)
	if !v.Submitted || v.Summary == nil || v.Summary.Total != 8 || v.Summary.Reason != model.SubmitByUser {
		t.Fatalf("unexpected summary %+v", v.Summary)
	}

	// Answers are frozen.
	code, _ = env.post(t, "/exam/answer/"+strconv.Itoa(pos[3]), url.Values{"label": {"B"}})
	if code != http.StatusOK {
		t.Fatalf("answer after submit: %d", code)
	}
	if got := env.view(t).Summary.Total; got != 8 {
		t.Errorf("total changed after submission: %d", got)
	}

	code, body = env.post(t, "/exam/explain/"+strconv.Itoa(pos[3]), nil)
	if code != http.StatusOK || !strings.Contains(body, "Question 3 explained") {
		t.Errorf("explain: %d, body lacks explanation", code)
	}
	if explainer.calls != 1 {
		t.Errorf("explainer calls = %d, want 1", explainer.calls)
	}

	code, body = env.post(t, "/exam/retake", nil)
	if code != http.StatusOK || !strings.Contains(body, "Time remaining") {
		t.Fatalf("retake: %d", code)
	}
	if v := env.view(t); v.State != model.StateInProgress || v.Summary != nil {
		t.Errorf("retake should start a fresh session, got %s", v.State)
	}
}

func TestRecordedAnswersCountAtTimeout(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	env := newTestEnv(t, testBank(), nil, "", exam.WithClock(clock.Now))

	if code, body := env.post(t, "/exam/start", nil); code != http.StatusOK {
		t.Fatalf("start: %d %s", code, body)
	}
	pos := positions(env.view(t))

	answers := []struct {
		id     int
		labels []string
	}{
		{1, []string{"A"}},
		{2, []string{"B"}},
		{3, []string{"A", "C"}},
	}
	for _, a := range answers {
		code, body := env.postAnswer(t, pos[a.id], a.labels...)
		if code != http.StatusOK {
			t.Fatalf("answer question %d: %d %s", a.id, code, body)
		}
	}

	clock.Advance(21 * time.Minute)

	v := env.view(t)
	if !v.Submitted || v.Summary == nil {
		t.Fatalf("expected timed out session, got state %s", v.State)
	}
	if v.Summary.Reason != model.SubmitByTimeout {
		t.Errorf("reason = %s, want timeout", v.Summary.Reason)
	}
	if v.Summary.Total != 8 || v.Summary.TotalMax != 8 {
		t.Errorf("total = %d/%d, want 8/8", v.Summary.Total, v.Summary.TotalMax)
	}

	// A form posted after the deadline does not replace the recorded answers.
	late := url.Values{}
	late.Set("q_"+strconv.Itoa(pos[1]), "B")
	late.Set("q_"+strconv.Itoa(pos[2]), "A")
	code, body := env.post(t, "/exam/submit", late)
	if code != http.StatusOK {
		t.Fatalf("late submit: %d", code)
	}
	if !strings.Contains(body, "Time is up.") || !strings.Contains(body, "Your score: 8 / 8") {
		t.Error("result page should show the timeout and the recorded score")
	}
}

func TestAnswerWithoutCSRFTokenRejected(t *testing.T) {
	env := newTestEnv(t, testBank(), nil, "")
	if code, _ := env.post(t, "/exam/start", nil); code != http.StatusOK {
		t.Fatal("start failed")
	}
	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/exam/answer/0", strings.NewReader("label=A"))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := env.client.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if code, _ := readBody(t, resp); code != http.StatusForbidden {
		t.Errorf("answer without token: status %d, want 403", code)
	}
}

func TestSaveKeepsSessionOpen(t *testing.T) {
	env := newTestEnv(t, testBank(), nil, "")
	env.post(t, "/exam/start", nil)
	pos := positions(env.view(t))

	form := url.Values{}
	form.Set("q_"+strconv.Itoa(pos[2]), "C")
	code, body := env.post(t, "/exam/save", form)
	if code != http.StatusOK {
		t.Fatalf("save: %d", code)
	}
	if !strings.Contains(body, `value="C" checked`) {
		t.Error("saved choice should be checked")
	}

	v := env.view(t)
	if v.Submitted {
		t.Fatal("save must not submit")
	}
	for _, s := range v.Slots {
		if s.QuestionID == 2 && !s.Selection.Equal([]model.Label{"C"}) {
			t.Errorf("selection = %v, want [C]", s.Selection)
		}
	}
	if strings.Contains(body, "Explain") {
		t.Error("explain button shown without an explainer")
	}
}

func TestStartWithInsufficientPool(t *testing.T) {
	env := newTestEnv(t, testBank()[:2], nil, "")

	code, body := env.post(t, "/exam/start", nil)
	if code != http.StatusConflict {
		t.Fatalf("status %d, want 409", code)
	}
	if !strings.Contains(body, "cannot fill this exam") {
		t.Error("expected pool shortage message")
	}
	if code, _ := env.get(t, "/exam/view"); code != http.StatusNotFound {
		t.Errorf("no session should exist, got %d", code)
	}
}

func TestExamPageWithoutSessionRedirects(t *testing.T) {
	env := newTestEnv(t, testBank(), nil, "")
	code, body := env.get(t, "/exam")
	if code != http.StatusOK || !strings.Contains(body, "Start Exam") {
		t.Errorf("expected redirect to start page, got %d", code)
	}
}

func TestCSRFRequired(t *testing.T) {
	env := newTestEnv(t, testBank(), nil, "")
	env.get(t, "/")

	resp, err := env.client.PostForm(env.srv.URL+"/exam/start", url.Values{"csrf_token": {"forged"}})
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if code, _ := readBody(t, resp); code != http.StatusForbidden {
		t.Errorf("forged token: status %d, want 403", code)
	}

	resp, err = env.client.PostForm(env.srv.URL+"/exam/start", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if code, _ := readBody(t, resp); code != http.StatusForbidden {
		t.Errorf("missing token: status %d, want 403", code)
	}
}

func TestExplainDisabled(t *testing.T) {
	env := newTestEnv(t, testBank(), nil, "")
	env.post(t, "/exam/start", nil)
	env.post(t, "/exam/submit", nil)
	if code, _ := env.post(t, "/exam/explain/0", nil); code != http.StatusNotFound {
		t.Errorf("status %d, want 404", code)
	}
}

func adminRequest(t *testing.T, env *testEnv, method, password string, body io.Reader, contentType string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, env.srv.URL+"/admin/bank", body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if method != http.MethodGet {
		req.Header.Set(csrfHeaderName, env.csrf(t))
	}
	if password != "" {
		req.SetBasicAuth("admin", password)
	}
	resp, err := env.client.Do(req)
	if err != nil {
		t.Fatalf("%s /admin/bank: %v", method, err)
	}
	return readBody(t, resp)
}

func csvUpload(t *testing.T, content string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("bank_file", "bank.csv")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := io.WriteString(fw, content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

const uploadCSV = `id,question,option_a,option_b,option_c,option_d,is_multiple,correct
10,Go is compiled.,True,False,,,false,A
11,Which are keywords?,func,loop,defer,,TRUE,A;C
`

func TestAdminBank(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	env := newTestEnv(t, nil, nil, string(hash))

	if code, _ := adminRequest(t, env, http.MethodGet, "", nil, ""); code != http.StatusUnauthorized {
		t.Errorf("no credentials: status %d, want 401", code)
	}
	if code, _ := adminRequest(t, env, http.MethodGet, "wrong", nil, ""); code != http.StatusUnauthorized {
		t.Errorf("wrong password: status %d, want 401", code)
	}
	code, body := adminRequest(t, env, http.MethodGet, "secret", nil, "")
	if code != http.StatusOK || !strings.Contains(body, "The question bank is empty") {
		t.Fatalf("admin page: %d", code)
	}

	upload, ct := csvUpload(t, uploadCSV)
	code, body = adminRequest(t, env, http.MethodPost, "secret", upload, ct)
	if code != http.StatusOK || !strings.Contains(body, "Imported 2 questions.") {
		t.Fatalf("upload: %d", code)
	}
	q, err := env.store.GetQuestion(11)
	if err != nil {
		t.Fatalf("GetQuestion: %v", err)
	}
	if q.Type != model.TypeMultipleChoice {
		t.Errorf("question 11 type = %s, want MC", q.Type)
	}
	if q, _ := env.store.GetQuestion(10); q.Type != model.TypeTrueFalse {
		t.Errorf("question 10 type = %s, want TF", q.Type)
	}

	upload, ct = csvUpload(t, uploadCSV)
	code, body = adminRequest(t, env, http.MethodPost, "secret", upload, ct)
	if code != http.StatusOK || !strings.Contains(body, "identical") {
		t.Errorf("re-upload: %d, expected unchanged notice", code)
	}

	upload, ct = csvUpload(t, "id,question,is_multiple,correct\nx,Q,false,A\n")
	if code, _ := adminRequest(t, env, http.MethodPost, "secret", upload, ct); code != http.StatusBadRequest {
		t.Errorf("bad csv: status %d, want 400", code)
	}
	if count, _ := env.store.QuestionCount(); count != 2 {
		t.Errorf("rejected upload changed the bank: %d questions", count)
	}
}

func TestAdminDisabledWithoutHash(t *testing.T) {
	env := newTestEnv(t, nil, nil, "")
	if code, _ := adminRequest(t, env, http.MethodGet, "anything", nil, ""); code != http.StatusForbidden {
		t.Errorf("status %d, want 403", code)
	}
}

func TestBasePath(t *testing.T) {
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n init: %v", err)
	}
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer st.Close()
	h, err := New(st, exam.NewManager(0), nil, model.ExamConfig{Blueprint: testBlueprint(), BasePath: "/ru"})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	r := chi.NewRouter()
	r.Route("/ru", func(sub chi.Router) {
		sub.Use(h.BasePathMiddleware)
		h.Routes(sub)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ru/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `href="/ru/admin/bank"`) {
		t.Error("links should carry the base path")
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == csrfCookieName && c.Path != "/ru/" {
			t.Errorf("csrf cookie path = %q, want /ru/", c.Path)
		}
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ru/exam", nil))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/ru/" {
		t.Errorf("redirect = %d %q, want 303 /ru/", rec.Code, rec.Header().Get("Location"))
	}
}
