package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutor/app/chat"
	"tutor/app/middleware"
	"tutor/store"
	"tutor/types"
)

const secret = "test-secret"

// echoResponder answers every turn with a fixed reply and saves the conversation.
type echoResponder struct {
	store store.ConversationStorer
}

func (r echoResponder) Respond(ctx context.Context, msg string, a *types.Assistant, conv *types.Conversation) (*chat.Reply, error) {
	next := *conv
	next.Messages = append([]types.Message(nil), conv.Messages...)
	refs := types.References{Own: []types.RankedMatch{{MatchPair: types.MatchPair{ContentID: "c1", DigestID: "d1"}, WeightedScore: 2}}, Supported: []types.RankedMatch{}}
	now := time.Now()
	if err := next.Append(types.NewUserMessage(types.UserTurn{Message: msg}, now), types.NewAssistantMessage(types.AssistantTurn{Message: "echo: " + msg, References: refs}, now)); err != nil {
		return nil, err
	}
	if err := r.store.SaveConversation(ctx, &next); err != nil {
		return nil, err
	}
	return &chat.Reply{Message: "echo: " + msg, Own: refs.Own, Supported: refs.Supported, Conversation: &next}, nil
}

type stubDigester struct{}

func (stubDigester) Digest(_ context.Context, assistantID, locator string, label types.Label) (*types.Content, error) {
	switch filepath.Ext(locator) {
	case ".pptx":
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedMediaKind, locator)
	case ".mp3":
		c := &types.Content{ID: "c9", Label: label}
		return c, &types.IndexingError{ContentID: "c9", DigestID: "d0", Err: types.Remote("embedder", io.EOF)}
	}
	return &types.Content{ID: "c1", Source: locator, Label: label}, nil
}

type testEnv struct {
	app       *fiber.App
	store     *store.MemoryStore
	sourceDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s := store.NewMemoryStore()
	dir := t.TempDir()
	app := NewApp(AppDeps{
		Assistants: s,
		Chat:       chat.NewService(s, s, echoResponder{store: s}, nil),
		Digester:   stubDigester{},
		SourceDir:  dir,
		JWTSecret:  secret,
	})
	return &testEnv{app: app, store: s, sourceDir: dir}
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := middleware.NewToken(secret, userID, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, tok string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return e.send(t, req)
}

func (e *testEnv) send(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := map[string]any{}
	if len(data) > 0 && data[0] == '{' {
		require.NoError(t, json.Unmarshal(data, &out))
	} else if len(data) > 0 {
		out["list"] = json.RawMessage(data)
	}
	return resp.StatusCode, out
}

func (e *testEnv) createAssistant(t *testing.T, owner string) string {
	t.Helper()
	code, body := e.do(t, http.MethodPost, "/api/v1/assistants", token(t, owner, middleware.RoleOwner), map[string]string{
		"subject": "Biology", "class_name": "7B",
	})
	require.Equal(t, http.StatusCreated, code, body)
	return body["id"].(string)
}

func TestHealthAndAuth(t *testing.T) {
	e := newTestEnv(t)

	code, body := e.do(t, http.MethodGet, "/check/healthy", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["result"])

	code, _ = e.do(t, http.MethodGet, "/api/v1/assistants", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = e.do(t, http.MethodGet, "/api/v1/assistants", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	expired, err := middleware.NewToken(secret, "t1", middleware.RoleOwner, -time.Minute)
	require.NoError(t, err)
	code, _ = e.do(t, http.MethodGet, "/api/v1/assistants", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = e.do(t, http.MethodGet, "/api/v1/assistants", token(t, "s1", middleware.RoleUser), nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestAssistantLifecycle(t *testing.T) {
	e := newTestEnv(t)
	ownerTok := token(t, "teacher", middleware.RoleOwner)

	code, _ := e.do(t, http.MethodPost, "/api/v1/assistants", ownerTok, "{not json")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := e.do(t, http.MethodPost, "/api/v1/assistants", ownerTok, map[string]string{"class_name": "7B"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, body["errors"], "Subject")

	id := e.createAssistant(t, "teacher")

	code, body = e.do(t, http.MethodGet, "/api/v1/assistants/"+id, ownerTok, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "teacher", body["owner_id"])

	code, _ = e.do(t, http.MethodGet, "/api/v1/assistants/"+id, token(t, "other-teacher", middleware.RoleOwner), nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = e.do(t, http.MethodGet, "/api/v1/assistants/missing", ownerTok, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = e.do(t, http.MethodPatch, "/api/v1/assistants/"+id, ownerTok, map[string]string{"subject": "Chemistry"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Chemistry", body["subject"])
	assert.Equal(t, "7B", body["class_name"])

	code, _ = e.do(t, http.MethodPatch, "/api/v1/assistants/"+id, ownerTok, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(t, http.MethodPost, "/api/v1/assistants/"+id+"/users", ownerTok, map[string]string{"user_id": "alice"})
	assert.Equal(t, http.StatusOK, code)

	code, body = e.do(t, http.MethodGet, "/api/v1/me/assistants", token(t, "alice", middleware.RoleUser), nil)
	assert.Equal(t, http.StatusOK, code)
	var mine []types.Assistant
	require.NoError(t, json.Unmarshal(body["list"].(json.RawMessage), &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, id, mine[0].ID)

	code, _ = e.do(t, http.MethodDelete, "/api/v1/assistants/"+id+"/users/alice", ownerTok, nil)
	assert.Equal(t, http.StatusOK, code)
	a, err := e.store.GetAssistant(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, a.AllowedUsers)
}

func TestChatRoutes(t *testing.T) {
	e := newTestEnv(t)
	id := e.createAssistant(t, "teacher")
	require.NoError(t, e.store.AddUser(context.Background(), id, "alice"))
	alice := token(t, "alice", middleware.RoleUser)

	code, _ := e.do(t, http.MethodPost, "/api/v1/chat", token(t, "bob", middleware.RoleUser), map[string]string{"assistant_id": id, "message": "hi"})
	assert.Equal(t, http.StatusForbidden, code)

	code, body := e.do(t, http.MethodPost, "/api/v1/chat", alice, map[string]string{"assistant_id": id})
	assert.Equal(t, http.StatusUnprocessableEntity, code, body)

	code, body = e.do(t, http.MethodPost, "/api/v1/chat", alice, map[string]string{"assistant_id": id, "message": "hi"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "echo: hi", body["reply"])
	convID := body["conversation_id"].(string)
	require.NotEmpty(t, convID)

	code, body = e.do(t, http.MethodPost, "/api/v1/chat", alice, map[string]string{"assistant_id": id, "conversation_id": "nope", "message": "hi"})
	assert.Equal(t, http.StatusNotFound, code, body)

	code, body = e.do(t, http.MethodGet, "/api/v1/conversations/"+convID, alice, nil)
	require.Equal(t, http.StatusOK, code)
	refs := body["last_references"].(map[string]any)
	assert.Len(t, refs["own"], 1)
	assert.Len(t, body["conversation"].(map[string]any)["messages"], 2)

	code, _ = e.do(t, http.MethodGet, "/api/v1/conversations/"+convID, token(t, "bob", middleware.RoleUser), nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = e.do(t, http.MethodGet, "/api/v1/conversations?assistant_id="+id, alice, nil)
	assert.Equal(t, http.StatusOK, code)
	var list []types.Conversation
	require.NoError(t, json.Unmarshal(body["list"].(json.RawMessage), &list))
	assert.Len(t, list, 1)
}

func TestDigestRoute(t *testing.T) {
	e := newTestEnv(t)
	id := e.createAssistant(t, "teacher")
	ownerTok := token(t, "teacher", middleware.RoleOwner)

	code, body := e.do(t, http.MethodPost, "/api/v1/digest", ownerTok, map[string]string{"assistant_id": id, "file_url": "https://x/a.pdf", "label": "own"})
	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "c1", body["content"].(map[string]any)["id"])

	code, _ = e.do(t, http.MethodPost, "/api/v1/digest", ownerTok, map[string]string{"assistant_id": id, "file_url": "https://x/a.pdf", "label": "mine"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = e.do(t, http.MethodPost, "/api/v1/digest", ownerTok, map[string]string{"assistant_id": id, "file_url": "https://x/a.pptx", "label": "own"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = e.do(t, http.MethodPost, "/api/v1/digest", ownerTok, map[string]string{"assistant_id": id, "file_url": "https://x/a.mp3", "label": "supported"})
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "c9", body["content_id"])

	code, _ = e.do(t, http.MethodPost, "/api/v1/digest", token(t, "intruder", middleware.RoleOwner), map[string]string{"assistant_id": id, "file_url": "https://x/a.pdf", "label": "own"})
	assert.Equal(t, http.StatusForbidden, code)
}

func upload(t *testing.T, e *testEnv, id, tok, label, name string) int {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("label", label))
	fw, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte("lesson body"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/assistants/"+id+"/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+tok)
	code, _ := e.send(t, req)
	return code
}

func TestUploadDropsFileForLoader(t *testing.T) {
	e := newTestEnv(t)
	id := e.createAssistant(t, "teacher")
	ownerTok := token(t, "teacher", middleware.RoleOwner)

	assert.Equal(t, http.StatusAccepted, upload(t, e, id, ownerTok, "supported", "notes.txt"))
	data, err := os.ReadFile(filepath.Join(e.sourceDir, id, "supported", "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "lesson body", string(data))

	assert.Equal(t, http.StatusBadRequest, upload(t, e, id, ownerTok, "own", "slides.pptx"))
	assert.Equal(t, http.StatusUnprocessableEntity, upload(t, e, id, ownerTok, "mine", "notes.txt"))
	assert.Equal(t, http.StatusForbidden, upload(t, e, id, token(t, "x", middleware.RoleOwner), "own", "notes.txt"))
}
