package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"board-api/board"
	"board-api/domain"
	"board-api/events"
	"board-api/reorder"
	"board-api/storage/sqlite"
)

type mockAuth struct{}

func (mockAuth) UserIDFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errMissingAuthorization
	}
	return "user", nil
}

// boardsService aliases Boards so the embedded field name does not shadow
// the promoted Boards method.
type boardsService = Boards

// countingBoards counts move calls reaching the service.
type countingBoards struct {
	boardsService
	moves atomic.Int32
	err   error
}

func (c *countingBoards) MoveCard(ctx context.Context, userID, boardID, cardID, src, dst string, idx int) (board.MoveResult, error) {
	c.moves.Add(1)
	if c.err != nil {
		return board.MoveResult{}, c.err
	}
	return c.boardsService.MoveCard(ctx, userID, boardID, cardID, src, dst, idx)
}

type testServer struct {
	e      *echo.Echo
	svc    *board.Service
	boards *countingBoards
}

func newTestServer(t *testing.T, deduper Deduper) *testServer {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger, _ := test.NewNullLogger()
	exec := board.NewExecutor(store, board.ExecutorOptions{Atomic: true}, logger)
	svc := board.NewService(store, reorder.New(), exec, events.Noop{}, logger)
	counting := &countingBoards{boardsService: svc}

	e := echo.New()
	Register(e, counting, mockAuth{}, deduper, logger)
	return &testServer{e: e, svc: svc, boards: counting}
}

func (s *testServer) do(t *testing.T, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer token")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) seedBoard(t *testing.T) (domain.Board, string) {
	t.Helper()
	ctx := context.Background()
	b, err := s.svc.CreateBoard(ctx, "user", "Board")
	if err != nil {
		t.Fatal(err)
	}
	view, err := s.svc.Board(ctx, "user", b.ID)
	if err != nil {
		t.Fatal(err)
	}
	return b, view.Lists[0].ID
}

func TestCreateBoardAndGet(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/boards", `{"title":"  Launch "}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	var b domain.Board
	if err := sonic.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if b.Title != "Launch" {
		t.Fatalf("unexpected title %q", b.Title)
	}

	rec = s.do(t, http.MethodGet, "/api/boards/"+b.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var view domain.BoardView
	if err := sonic.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(view.Lists) != 1 || view.Lists[0].Title != domain.DefaultListTitle {
		t.Fatalf("unexpected lists %+v", view.Lists)
	}

	rec = s.do(t, http.MethodGet, "/api/boards", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), b.ID) {
		t.Fatalf("expected board listing, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestEmptyTitleIsBadRequest(t *testing.T) {
	s := newTestServer(t, nil)
	b, listID := s.seedBoard(t)

	for _, target := range []string{
		"/api/boards",
		"/api/boards/" + b.ID + "/lists",
		"/api/boards/" + b.ID + "/lists/" + listID + "/cards",
	} {
		rec := s.do(t, http.MethodPost, target, `{"title":"   "}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", target, rec.Code)
		}
		if rec.Body.String() != "title cannot be empty" {
			t.Fatalf("%s: unexpected body %q", target, rec.Body.String())
		}
	}
}

func TestMissingBoardIsNotFound(t *testing.T) {
	s := newTestServer(t, nil)
	if rec := s.do(t, http.MethodGet, "/api/boards/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/api/boards/nope/lists", `{"title":"x"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
}

func TestUnauthorized(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/boards", nil)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestRejectsUnknownFields(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodPost, "/api/boards", `{"title":"x","color":"red"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestRenameAndDeleteRoutes(t *testing.T) {
	s := newTestServer(t, nil)
	b, listID := s.seedBoard(t)
	card, err := s.svc.AddCard(context.Background(), "user", b.ID, listID, "c")
	if err != nil {
		t.Fatal(err)
	}
	base := "/api/boards/" + b.ID + "/lists/" + listID

	if rec := s.do(t, http.MethodPatch, base, `{"title":"Doing"}`); rec.Code != http.StatusNoContent {
		t.Fatalf("rename list: %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPatch, base+"/cards/"+card.ID, `{"title":"card"}`); rec.Code != http.StatusNoContent {
		t.Fatalf("rename card: %d", rec.Code)
	}
	if rec := s.do(t, http.MethodDelete, base+"/cards/"+card.ID, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete card: %d", rec.Code)
	}
	if rec := s.do(t, http.MethodDelete, base, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete list: %d", rec.Code)
	}
	view, err := s.svc.Board(context.Background(), "user", b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Lists) != 0 {
		t.Fatalf("expected no lists, got %+v", view.Lists)
	}
}

func TestMoveCardAccepted(t *testing.T) {
	s := newTestServer(t, nil)
	b, todo := s.seedBoard(t)
	ctx := context.Background()
	done, err := s.svc.AddList(ctx, "user", b.ID, "Done")
	if err != nil {
		t.Fatal(err)
	}
	card, err := s.svc.AddCard(ctx, "user", b.ID, todo, "ship")
	if err != nil {
		t.Fatal(err)
	}

	body := `{"cardId":"` + card.ID + `","sourceListId":"` + todo + `","targetListId":"` + done.ID + `","targetIndex":0}`
	rec := s.do(t, http.MethodPost, "/api/boards/"+b.ID+"/moves/cards", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", rec.Code, rec.Body.String())
	}
	var resp moveResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Applied || resp.NewID == "" || resp.Writes != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}

	view, err := s.svc.Board(ctx, "user", b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Lists[0].Cards) != 0 || len(view.Lists[1].Cards) != 1 || view.Lists[1].Cards[0].Title != "ship" {
		t.Fatalf("unexpected board after move %+v", view.Lists)
	}
}

func TestMoveUnknownCardIsAcceptedNoOp(t *testing.T) {
	s := newTestServer(t, nil)
	b, todo := s.seedBoard(t)

	body := `{"cardId":"ghost","sourceListId":"` + todo + `","targetListId":"` + todo + `"}`
	rec := s.do(t, http.MethodPost, "/api/boards/"+b.ID+"/moves/cards", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"applied":false`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestMoveCardValidation(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodPost, "/api/boards/b/moves/cards", `{"cardId":"c"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	rec = s.do(t, http.MethodPost, "/api/boards/b/moves/lists", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestMoveListToEnd(t *testing.T) {
	s := newTestServer(t, nil)
	b, todo := s.seedBoard(t)
	if _, err := s.svc.AddList(context.Background(), "user", b.ID, "Done"); err != nil {
		t.Fatal(err)
	}

	rec := s.do(t, http.MethodPost, "/api/boards/"+b.ID+"/moves/lists", `{"listId":"`+todo+`"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d", rec.Code)
	}
	view, err := s.svc.Board(context.Background(), "user", b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if view.Lists[1].ID != todo || view.Lists[1].Order != 1 {
		t.Fatalf("expected %s last, got %+v", todo, view.Lists)
	}
}

func TestDuplicateIdempotencyKeySkipsPlanning(t *testing.T) {
	_, client := newTestRedis(t)
	s := newTestServer(t, NewRedisDeduper(client, time.Minute))
	b, todo := s.seedBoard(t)
	card, err := s.svc.AddCard(context.Background(), "user", b.ID, todo, "c")
	if err != nil {
		t.Fatal(err)
	}

	body := `{"cardId":"` + card.ID + `","sourceListId":"` + todo + `","targetListId":"` + todo + `","targetIndex":0}`
	first := s.do(t, http.MethodPost, "/api/boards/"+b.ID+"/moves/cards", body, headerIdempotencyKey, "k1")
	second := s.do(t, http.MethodPost, "/api/boards/"+b.ID+"/moves/cards", body, headerIdempotencyKey, "k1")

	if first.Code != http.StatusAccepted || second.Code != http.StatusAccepted {
		t.Fatalf("expected 202s, got %d and %d", first.Code, second.Code)
	}
	if !strings.Contains(second.Body.String(), `"duplicate":true`) {
		t.Fatalf("expected duplicate response, got %s", second.Body.String())
	}
	if got := s.boards.moves.Load(); got != 1 {
		t.Fatalf("expected one planned move, got %d", got)
	}
}

func TestFailedMoveReleasesIdempotencyKey(t *testing.T) {
	_, client := newTestRedis(t)
	s := newTestServer(t, NewRedisDeduper(client, time.Minute))
	s.boards.err = errors.New("snapshot unavailable")

	body := `{"cardId":"c","sourceListId":"l","targetListId":"l"}`
	rec := s.do(t, http.MethodPost, "/api/boards/b/moves/cards", body, headerIdempotencyKey, "k1")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rec.Code)
	}
	rec = s.do(t, http.MethodPost, "/api/boards/b/moves/cards", body, headerIdempotencyKey, "k1")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected retry to reach the service, got %d", rec.Code)
	}
	if got := s.boards.moves.Load(); got != 2 {
		t.Fatalf("expected two attempts, got %d", got)
	}
}

func TestGzipRequestBody(t *testing.T) {
	s := newTestServer(t, nil)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(`{"title":"zipped"}`)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	rec := s.do(t, http.MethodPost, "/api/boards", buf.String(), echo.HeaderContentEncoding, "gzip")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/api/boards", "not gzip", echo.HeaderContentEncoding, "gzip")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid gzip got %d", rec.Code)
	}
}

func TestOversizedBodyRejected(t *testing.T) {
	s := newTestServer(t, nil)
	big := `{"title":"` + strings.Repeat("a", maxBodySize) + `"}`

	rec := s.do(t, http.MethodPost, "/api/boards", big)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for plain body got %d", rec.Code)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(big)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if buf.Len() >= maxBodySize {
		t.Fatalf("compressed body should fit under the limit, got %d bytes", buf.Len())
	}
	rec = s.do(t, http.MethodPost, "/api/boards", buf.String(), echo.HeaderContentEncoding, "gzip")
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for inflated body got %d: %s", rec.Code, rec.Body.String())
	}

	boards, err := s.svc.Boards(context.Background(), "user")
	if err != nil {
		t.Fatal(err)
	}
	if len(boards) != 0 {
		t.Fatalf("expected no board created, got %d", len(boards))
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
}
