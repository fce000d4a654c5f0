package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/cognicore/tagstream/pkg/tagstream/analytics"
	"github.com/cognicore/tagstream/pkg/tagstream/config"
	"github.com/cognicore/tagstream/pkg/tagstream/dictionary"
	"github.com/cognicore/tagstream/pkg/tagstream/schedule"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
	"github.com/cognicore/tagstream/pkg/tagstream/store/memstore"
)

var posted = time.Date(2024, 3, 10, 9, 10, 0, 0, time.UTC)

type fixture struct {
	srv      *httptest.Server
	channel  int64
	message  int64
	category int64
	term     int64
	runs     int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	f := &fixture{}

	cat, err := st.UpsertCategory(ctx, dictionary.Category{Name: "symbols", Active: true})
	if err != nil {
		t.Fatalf("UpsertCategory: %v", err)
	}
	steel, err := st.UpsertTerm(ctx, dictionary.Term{CategoryID: cat, Text: "فولاد", Active: true, Metadata: dictionary.Metadata{}.WithIndustry("فلزات")})
	if err != nil {
		t.Fatalf("UpsertTerm: %v", err)
	}
	if f.channel, err = st.UpsertChannel(ctx, store.Channel{ExternalID: "-1001", Title: "بورس", Active: true}); err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}
	res, err := st.UpsertMessage(ctx, store.Message{ChannelID: f.channel, OriginID: 7, Text: "#فولاد", Canonical: "فولاد", PostedAt: posted})
	if err != nil {
		t.Fatalf("UpsertMessage: %v", err)
	}
	f.message = res.ID
	f.category, f.term = cat, steel
	if _, err := st.ReconcileMatches(ctx, res.ID, []int64{steel}, posted); err != nil {
		t.Fatalf("ReconcileMatches: %v", err)
	}

	clock := func() time.Time { return posted.Add(20 * time.Minute) }
	sched := schedule.New(time.UTC, nil)
	if err := sched.Register(schedule.Task{ID: "noop", Run: func(context.Context) error { f.runs++; return nil }}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	s := NewServer(config.Defaults().Server, Deps{
		Store:      st,
		Reader:     analytics.NewReader(st, analytics.ReaderOptions{Now: clock}),
		Aggregator: analytics.NewAggregator(st, analytics.Options{Now: clock}),
		Scheduler:  sched,
	})
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, out any) int {
	t.Helper()
	return f.send(t, method, path, "", out)
}

func (f *fixture) send(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestHealthAndChannels(t *testing.T) {
	f := newFixture(t)
	if code := f.do(t, http.MethodGet, "/api/health", nil); code != http.StatusOK {
		t.Fatalf("health = %d", code)
	}

	var chans []map[string]any
	if code := f.do(t, http.MethodGet, "/api/v1/channels", &chans); code != http.StatusOK {
		t.Fatalf("channels = %d", code)
	}
	if len(chans) != 1 || chans[0]["external_id"] != "-1001" {
		t.Fatalf("channels = %v", chans)
	}
}

func TestGetMessage(t *testing.T) {
	f := newFixture(t)

	var msg struct {
		Canonical string `json:"canonical"`
		Matches   []struct {
			Term     string `json:"term"`
			Category string `json:"category"`
			Industry string `json:"industry"`
		} `json:"matches"`
	}
	if code := f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/messages/%d", f.message), &msg); code != http.StatusOK {
		t.Fatalf("message = %d", code)
	}
	if msg.Canonical != "فولاد" || len(msg.Matches) != 1 || msg.Matches[0].Industry != "فلزات" || msg.Matches[0].Category != "symbols" {
		t.Fatalf("message = %+v", msg)
	}

	if code := f.do(t, http.MethodGet, "/api/v1/messages/9999", nil); code != http.StatusNotFound {
		t.Fatalf("missing message = %d", code)
	}
	if code := f.do(t, http.MethodGet, "/api/v1/messages/abc", nil); code != http.StatusBadRequest {
		t.Fatalf("bad id = %d", code)
	}
}

func TestComputeAndReadAnalytics(t *testing.T) {
	f := newFixture(t)

	var run struct {
		RunID   string   `json:"run_id"`
		Written int      `json:"written"`
		Failed  []string `json:"failed"`
	}
	if code := f.do(t, http.MethodPost, "/api/v1/analytics/compute?start=2024-03-10&end=2024-03-11&granularity=daily", &run); code != http.StatusOK {
		t.Fatalf("compute = %d", code)
	}
	if run.RunID == "" || run.Written != 1 || len(run.Failed) != 0 {
		t.Fatalf("run = %+v", run)
	}

	var recs []struct {
		Granularity  string `json:"granularity"`
		Date         string `json:"date"`
		Hour         *int   `json:"hour"`
		DayOfWeek    string `json:"day_of_week"`
		MessageCount int    `json:"message_count"`
	}
	path := fmt.Sprintf("/api/v1/channels/%d/analytics/records?from=2024-03-10&to=2024-03-11&granularity=daily", f.channel)
	if code := f.do(t, http.MethodGet, path, &recs); code != http.StatusOK {
		t.Fatalf("records = %d", code)
	}
	if len(recs) != 1 || recs[0].Granularity != "daily" || recs[0].Hour != nil || recs[0].DayOfWeek != "Sunday" || recs[0].MessageCount != 1 {
		t.Fatalf("records = %+v", recs)
	}

	var win struct {
		Source       string `json:"source"`
		MessageCount int    `json:"message_count"`
		TopTerms     []struct {
			Label string `json:"label"`
			Count int    `json:"count"`
		} `json:"top_terms"`
	}
	path = fmt.Sprintf("/api/v1/channels/%d/analytics/window?start=2024-03-10&end=2024-03-11", f.channel)
	if code := f.do(t, http.MethodGet, path, &win); code != http.StatusOK {
		t.Fatalf("window = %d", code)
	}
	if win.Source != "stored" || win.MessageCount != 1 || len(win.TopTerms) != 1 || win.TopTerms[0].Label != "فولاد" {
		t.Fatalf("stored window = %+v", win)
	}

	path = fmt.Sprintf("/api/v1/channels/%d/analytics/recent?window=30m", f.channel)
	if code := f.do(t, http.MethodGet, path, &win); code != http.StatusOK {
		t.Fatalf("recent = %d", code)
	}
	if win.Source != "live" || win.MessageCount != 1 {
		t.Fatalf("live window = %+v", win)
	}
}

func TestAnalyticsBadInput(t *testing.T) {
	f := newFixture(t)
	paths := []string{
		"/api/v1/channels/x/analytics/recent",
		fmt.Sprintf("/api/v1/channels/%d/analytics/window?start=2024-03-10", f.channel),
		fmt.Sprintf("/api/v1/channels/%d/analytics/window?start=2024-03-11&end=2024-03-10", f.channel),
		fmt.Sprintf("/api/v1/channels/%d/analytics/records?from=2024-03-10&to=2024-03-11&granularity=weekly", f.channel),
		fmt.Sprintf("/api/v1/channels/%d/analytics/recent?window=soon", f.channel),
	}
	for _, p := range paths {
		if code := f.do(t, http.MethodGet, p, nil); code != http.StatusBadRequest {
			t.Errorf("GET %s = %d, want 400", p, code)
		}
	}
}

func TestTasks(t *testing.T) {
	f := newFixture(t)

	var task struct {
		ID   string `json:"id"`
		Runs int    `json:"runs"`
	}
	if code := f.do(t, http.MethodPost, "/api/v1/tasks/noop/run", &task); code != http.StatusOK {
		t.Fatalf("run = %d", code)
	}
	if task.ID != "noop" || task.Runs != 1 || f.runs != 1 {
		t.Fatalf("task = %+v, runs = %d", task, f.runs)
	}
	if code := f.do(t, http.MethodPost, "/api/v1/tasks/missing/run", nil); code != http.StatusNotFound {
		t.Fatalf("unknown task = %d", code)
	}

	var list []map[string]any
	if code := f.do(t, http.MethodGet, "/api/v1/tasks", &list); code != http.StatusOK || len(list) != 1 {
		t.Fatalf("tasks = %d %v", code, list)
	}
}

func TestDictionaryExport(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/api/v1/dictionary")
	if err != nil {
		t.Fatalf("GET dictionary: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	out := string(body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(out, "فولاد") || !strings.Contains(out, "industry: فلزات") {
		t.Fatalf("dictionary = %d %q", resp.StatusCode, out)
	}
}

type termJSON struct {
	ID       int64    `json:"id"`
	Text     string   `json:"text"`
	Active   bool     `json:"active"`
	Industry string   `json:"industry"`
	Keywords []string `json:"keywords"`
	Category string   `json:"category"`
	Compiled bool     `json:"compiled"`
	Surfaces []string `json:"surfaces"`
}

func TestDictionaryTermEdits(t *testing.T) {
	f := newFixture(t)
	termPath := fmt.Sprintf("/api/v1/dictionary/terms/%d", f.term)

	var term termJSON
	if code := f.send(t, http.MethodPost, termPath+"/keywords", `{"keyword":"#فولای"}`, &term); code != http.StatusOK {
		t.Fatalf("add keyword = %d", code)
	}
	if len(term.Keywords) != 1 || term.Keywords[0] != "#فولای" || term.Industry != "فلزات" {
		t.Fatalf("term after add = %+v", term)
	}

	var detail termJSON
	if code := f.do(t, http.MethodGet, termPath, &detail); code != http.StatusOK {
		t.Fatalf("get term = %d", code)
	}
	if !detail.Compiled || detail.Category != "symbols" || strings.Join(detail.Surfaces, ",") != "فولاد,فولای" {
		t.Fatalf("term detail = %+v", detail)
	}

	path := termPath + "/keywords?keyword=" + url.QueryEscape("#فولای")
	if code := f.send(t, http.MethodDelete, path, "", &term); code != http.StatusOK {
		t.Fatalf("remove keyword = %d", code)
	}
	if len(term.Keywords) != 0 {
		t.Fatalf("keywords after remove = %v", term.Keywords)
	}

	if code := f.send(t, http.MethodPatch, termPath, `{"active":false,"industry":"فولاد و آهن"}`, &term); code != http.StatusOK {
		t.Fatalf("patch term = %d", code)
	}
	if term.Active || term.Industry != "فولاد و آهن" {
		t.Fatalf("term after patch = %+v", term)
	}
	if code := f.do(t, http.MethodGet, termPath, &detail); code != http.StatusOK || detail.Compiled {
		t.Fatalf("inactive term detail = %d %+v", code, detail)
	}

	bad := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodPost, termPath + "/keywords", `{"keyword":"  "}`, http.StatusBadRequest},
		{http.MethodPost, termPath + "/keywords", `{`, http.StatusBadRequest},
		{http.MethodPatch, termPath, `{}`, http.StatusBadRequest},
		{http.MethodPatch, "/api/v1/dictionary/terms/9999", `{"active":true}`, http.StatusNotFound},
		{http.MethodDelete, "/api/v1/dictionary/terms/9999/keywords?keyword=x", "", http.StatusNotFound},
	}
	for _, tc := range bad {
		if code := f.send(t, tc.method, tc.path, tc.body, nil); code != tc.want {
			t.Errorf("%s %s = %d, want %d", tc.method, tc.path, code, tc.want)
		}
	}
}

func TestDictionaryCreate(t *testing.T) {
	f := newFixture(t)

	var cat struct {
		ID     int64  `json:"id"`
		Name   string `json:"name"`
		Policy string `json:"policy"`
	}
	if code := f.send(t, http.MethodPost, "/api/v1/dictionary/categories", `{"name":"topics","policy":"substring"}`, &cat); code != http.StatusCreated {
		t.Fatalf("create category = %d", code)
	}
	if cat.ID == 0 || cat.Policy != "substring" {
		t.Fatalf("category = %+v", cat)
	}
	if code := f.send(t, http.MethodPost, "/api/v1/dictionary/categories", `{"name":"x","policy":"fuzzy"}`, nil); code != http.StatusBadRequest {
		t.Fatalf("bad policy = %d", code)
	}

	var cats []map[string]any
	if code := f.do(t, http.MethodGet, "/api/v1/dictionary/categories", &cats); code != http.StatusOK || len(cats) != 2 {
		t.Fatalf("categories = %d %v", code, cats)
	}

	body := fmt.Sprintf(`{"category_id":%d,"text":"خودرو","industry":"خودرو","keywords":["ایران خودرو"]}`, f.category)
	var term termJSON
	if code := f.send(t, http.MethodPost, "/api/v1/dictionary/terms", body, &term); code != http.StatusCreated {
		t.Fatalf("create term = %d", code)
	}
	if term.ID == 0 || !term.Active || len(term.Keywords) != 1 {
		t.Fatalf("term = %+v", term)
	}
	if code := f.send(t, http.MethodPost, "/api/v1/dictionary/terms", `{"category_id":9999,"text":"x"}`, nil); code != http.StatusNotFound {
		t.Fatalf("term in missing category = %d", code)
	}

	var terms []termJSON
	path := fmt.Sprintf("/api/v1/dictionary/terms?category_id=%d", f.category)
	if code := f.do(t, http.MethodGet, path, &terms); code != http.StatusOK || len(terms) != 2 {
		t.Fatalf("terms = %d %+v", code, terms)
	}
	path = fmt.Sprintf("/api/v1/dictionary/terms?category_id=%d", cat.ID)
	if code := f.do(t, http.MethodGet, path, &terms); code != http.StatusOK || len(terms) != 0 {
		t.Fatalf("terms in new category = %d %+v", code, terms)
	}
}
