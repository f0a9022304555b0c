package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/audio-api/internal/audiotest"
	"github.com/maauso/audio-api/internal/media"
	"github.com/maauso/audio-api/internal/operation"
	"github.com/maauso/audio-api/internal/probe"
	"github.com/maauso/audio-api/internal/storage"
)

// mockDispatcher implements Dispatcher for testing.
type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Execute(ctx context.Context, req operation.Request) (*operation.Artifact, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*operation.Artifact), args.Error(1)
}

// archivingStore adds a fake archive backend to LocalStorage.
type archivingStore struct {
	*storage.LocalStorage
	mu   sync.Mutex
	keys []string
	err  error
	// stall makes Archive wait for its context to end.
	stall bool
}

func (s *archivingStore) Archive(ctx context.Context, key string, data io.Reader) (string, error) {
	if _, err := io.Copy(io.Discard, data); err != nil {
		return "", err
	}
	if s.stall {
		<-ctx.Done()
		return "", ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.keys = append(s.keys, key)
	return "https://archive.example.com/" + key, nil
}

// formFile is one file part of a test upload.
type formFile struct {
	field    string
	filename string
	content  []byte
}

func multipartBody(t *testing.T, files []formFile, values map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range values {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.filename)
		require.NoError(t, err)
		_, err = fw.Write(f.content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func mp3Files(n int) []formFile {
	files := make([]formFile, n)
	for i := range files {
		files[i] = formFile{field: "mp3Files", filename: fmt.Sprintf("part%d.mp3", i), content: []byte(fmt.Sprintf("audio-%d", i))}
	}
	return files
}

func newTestHandlers(t *testing.T, opts ...HandlerOption) (*Handlers, *mockDispatcher, *storage.LocalStorage) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.NewLocalStorage(t.TempDir(), logger)
	require.NoError(t, err)
	dispatcher := &mockDispatcher{}
	return NewHandlers(dispatcher, store, logger, opts...), dispatcher, store
}

func newTestRouter(h *Handlers) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(h, logger, DefaultConfig())
}

func post(t *testing.T, router http.Handler, path string, files []formFile, values map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, files, values)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary files left behind")
}

// produce returns a Run func that writes content to a fresh output path and
// a pointer to the artifact it will hand back.
func produce(store storage.Storage, kind operation.Kind, content string) (*operation.Artifact, func(mock.Arguments)) {
	artifact := &operation.Artifact{Kind: kind, Filename: kind.OutputPrefix() + "-1700000000000.mp3"}
	return artifact, func(mock.Arguments) {
		artifact.Path = store.OutputPath(kind.OutputPrefix(), ".mp3")
		_ = os.WriteFile(artifact.Path, []byte(content), 0o600)
	}
}

func TestRoot(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	newTestRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, LivenessMessage, rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
}

func TestHealth(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	newTestRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestJoin_Success(t *testing.T) {
	h, dispatcher, store := newTestHandlers(t)
	artifact, run := produce(store, operation.KindJoin, "joined-bytes")

	dispatcher.On("Execute", mock.Anything, mock.MatchedBy(func(req operation.Request) bool {
		if req.Kind != operation.KindJoin || len(req.Parts) != 3 {
			return false
		}
		for i, p := range req.Parts {
			data, err := os.ReadFile(p.Path)
			if err != nil || string(data) != fmt.Sprintf("audio-%d", i) {
				return false
			}
		}
		return true
	})).Run(run).Return(artifact, nil)

	rec := post(t, newTestRouter(h), "/api/join", mp3Files(3), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "12", rec.Header().Get("Content-Length"))
	assert.Equal(t, "joined-bytes", rec.Body.String())

	disposition, params, err := mime.ParseMediaType(rec.Header().Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "attachment", disposition)
	assert.Equal(t, "joined-1700000000000.mp3", params["filename"])
	assert.Empty(t, rec.Header().Get(HeaderArchiveURL))

	dispatcher.AssertExpectations(t)
	assertDirEmpty(t, store.Dir())
}

func TestJoin_BareAlias(t *testing.T) {
	h, dispatcher, store := newTestHandlers(t)
	artifact, run := produce(store, operation.KindJoin, "joined")
	dispatcher.On("Execute", mock.Anything, mock.Anything).Run(run).Return(artifact, nil)

	rec := post(t, newTestRouter(h), "/join", mp3Files(2), nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assertDirEmpty(t, store.Dir())
}

func TestJoin_NotEnoughFiles(t *testing.T) {
	for _, n := range []int{0, 1} {
		t.Run(fmt.Sprintf("%d files", n), func(t *testing.T) {
			h, dispatcher, store := newTestHandlers(t)

			rec := post(t, newTestRouter(h), "/api/join", mp3Files(n), nil)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, CodeValidation, resp.Code)
			assert.Contains(t, resp.Error, "mp3Files")
			dispatcher.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
			assertDirEmpty(t, store.Dir())
		})
	}
}

func TestJoin_TooManyFiles(t *testing.T) {
	h, dispatcher, store := newTestHandlers(t, WithMaxJoinFiles(3))

	rec := post(t, newTestRouter(h), "/api/join", mp3Files(4), nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeTooManyFiles, decodeError(t, rec).Code)
	dispatcher.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	assertDirEmpty(t, store.Dir())
}

func TestCut_Success(t *testing.T) {
	h, dispatcher, store := newTestHandlers(t)
	artifact, run := produce(store, operation.KindCut, "cut-bytes")
	artifact.Duration = 2.5

	dispatcher.On("Execute", mock.Anything, mock.MatchedBy(func(req operation.Request) bool {
		return req.Kind == operation.KindCut && len(req.Parts) == 1 &&
			req.Start == 75 && req.Duration == 2.5
	})).Run(run).Return(artifact, nil)

	files := []formFile{{field: "mp3File", filename: "song.mp3", content: []byte("song")}}
	rec := post(t, newTestRouter(h), "/cut", files, map[string]string{"startTime": "01:15", "duration": "2.5"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cut-bytes", rec.Body.String())
	assert.Equal(t, "2.500", rec.Header().Get(HeaderAudioDuration))
	dispatcher.AssertExpectations(t)
	assertDirEmpty(t, store.Dir())
}

func TestCut_InvalidDuration(t *testing.T) {
	h, dispatcher, store := newTestHandlers(t)

	files := []formFile{{field: "mp3File", filename: "song.mp3", content: []byte("song")}}
	rec := post(t, newTestRouter(h), "/api/cut", files, map[string]string{"startTime": "0", "duration": "abc"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, CodeValidation, resp.Code)
	assert.Contains(t, resp.Error, "duration")
	dispatcher.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	assertDirEmpty(t, store.Dir())
}

func TestCut_MissingStartTime(t *testing.T) {
	h, dispatcher, store := newTestHandlers(t)

	files := []formFile{{field: "mp3File", filename: "song.mp3", content: []byte("song")}}
	rec := post(t, newTestRouter(h), "/api/cut", files, map[string]string{"duration": "3"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Error, "startTime")
	dispatcher.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	assertDirEmpty(t, store.Dir())
}

func TestCut_WrongField(t *testing.T) {
	h, dispatcher, store := newTestHandlers(t)

	files := []formFile{{field: "mp3Files", filename: "song.mp3", content: []byte("song")}}
	rec := post(t, newTestRouter(h), "/api/cut", files, map[string]string{"startTime": "0", "duration": "1"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeUnexpectedField, decodeError(t, rec).Code)
	dispatcher.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	assertDirEmpty(t, store.Dir())
}

func TestMix_ThreeFiles(t *testing.T) {
	h, dispatcher, store := newTestHandlers(t)

	rec := post(t, newTestRouter(h), "/api/mix", mp3Files(3), nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeTooManyFiles, decodeError(t, rec).Code)
	dispatcher.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	assertDirEmpty(t, store.Dir())
}

func TestMix_OneFile(t *testing.T) {
	h, dispatcher, store := newTestHandlers(t)

	rec := post(t, newTestRouter(h), "/mix", mp3Files(1), nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeValidation, decodeError(t, rec).Code)
	dispatcher.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	assertDirEmpty(t, store.Dir())
}

func TestUpload_FileTooLarge(t *testing.T) {
	h, dispatcher, store := newTestHandlers(t, WithMaxPartBytes(16))

	files := mp3Files(2)
	files[1].content = bytes.Repeat([]byte("x"), 64)
	rec := post(t, newTestRouter(h), "/api/mix", files, nil)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, CodeFileTooLarge, decodeError(t, rec).Code)
	dispatcher.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	assertDirEmpty(t, store.Dir())
}

func TestUpload_NotMultipart(t *testing.T) {
	h, dispatcher, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/api/join", strings.NewReader(`{"files":[]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	newTestRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidUpload, decodeError(t, rec).Code)
	dispatcher.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestOperation_ProcessingError(t *testing.T) {
	h, dispatcher, store := newTestHandlers(t)

	procErr := &operation.ProcessingError{
		Kind: operation.KindMix,
		Err:  &media.FFmpegError{Args: []string{"-i"}, Stderr: "secret diagnostics", Err: errors.New("exit status 1")},
	}
	dispatcher.On("Execute", mock.Anything, mock.Anything).Return(nil, procErr)

	rec := post(t, newTestRouter(h), "/api/mix", mp3Files(2), nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, CodeProcessing, resp.Code)
	assert.Equal(t, "error processing audio mix", resp.Error)
	assert.NotContains(t, rec.Body.String(), "secret diagnostics")
	assertDirEmpty(t, store.Dir())
}

func TestOperation_Timeout(t *testing.T) {
	h, dispatcher, store := newTestHandlers(t)
	dispatcher.On("Execute", mock.Anything, mock.Anything).Return(nil, operation.ErrTimeout)

	rec := post(t, newTestRouter(h), "/api/join", mp3Files(2), nil)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, CodeTimeout, decodeError(t, rec).Code)
	assertDirEmpty(t, store.Dir())
}

func TestOperation_UnexpectedError(t *testing.T) {
	h, dispatcher, store := newTestHandlers(t)
	dispatcher.On("Execute", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

	rec := post(t, newTestRouter(h), "/api/join", mp3Files(2), nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeInternal, decodeError(t, rec).Code)
	assertDirEmpty(t, store.Dir())
}

func TestOperation_MissingArtifact(t *testing.T) {
	h, dispatcher, store := newTestHandlers(t)
	artifact := &operation.Artifact{
		Kind:     operation.KindMix,
		Path:     store.OutputPath("mixed", ".mp3"),
		Filename: "mixed-1.mp3",
	}
	dispatcher.On("Execute", mock.Anything, mock.Anything).Return(artifact, nil)

	rec := post(t, newTestRouter(h), "/api/mix", mp3Files(2), nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeDelivery, decodeError(t, rec).Code)
	assertDirEmpty(t, store.Dir())
}

func TestOperation_Archive(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	local, err := storage.NewLocalStorage(t.TempDir(), logger)
	require.NoError(t, err)
	store := &archivingStore{LocalStorage: local}
	dispatcher := &mockDispatcher{}
	h := NewHandlers(dispatcher, store, logger)

	artifact, run := produce(store, operation.KindMix, "mixed")
	dispatcher.On("Execute", mock.Anything, mock.Anything).Run(run).Return(artifact, nil)

	rec := post(t, newTestRouter(h), "/api/mix", mp3Files(2), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://archive.example.com/mix/mixed-1700000000000.mp3", rec.Header().Get(HeaderArchiveURL))
	assert.Equal(t, "mixed", rec.Body.String())
	assert.Equal(t, []string{"mix/mixed-1700000000000.mp3"}, store.keys)
	assertDirEmpty(t, local.Dir())
}

func TestOperation_ArchiveFailureStillDelivers(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	local, err := storage.NewLocalStorage(t.TempDir(), logger)
	require.NoError(t, err)
	store := &archivingStore{LocalStorage: local, err: errors.New("bucket unavailable")}
	dispatcher := &mockDispatcher{}
	h := NewHandlers(dispatcher, store, logger)

	artifact, run := produce(store, operation.KindMix, "mixed")
	dispatcher.On("Execute", mock.Anything, mock.Anything).Run(run).Return(artifact, nil)

	rec := post(t, newTestRouter(h), "/api/mix", mp3Files(2), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(HeaderArchiveURL))
	assert.Equal(t, "mixed", rec.Body.String())
	assertDirEmpty(t, local.Dir())
}

func TestOperation_SlowArchiveIsBounded(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	local, err := storage.NewLocalStorage(t.TempDir(), logger)
	require.NoError(t, err)
	store := &archivingStore{LocalStorage: local, stall: true}
	dispatcher := &mockDispatcher{}
	h := NewHandlers(dispatcher, store, logger, WithArchiveTimeout(50*time.Millisecond))

	artifact, run := produce(store, operation.KindJoin, "joined")
	dispatcher.On("Execute", mock.Anything, mock.Anything).Run(run).Return(artifact, nil)

	started := time.Now()
	rec := post(t, newTestRouter(h), "/api/join", mp3Files(2), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Less(t, time.Since(started), 5*time.Second)
	assert.Empty(t, rec.Header().Get(HeaderArchiveURL))
	assert.Equal(t, "joined", rec.Body.String())
	assertDirEmpty(t, local.Dir())
}

func TestUpload_FormValueTooLarge(t *testing.T) {
	h, dispatcher, store := newTestHandlers(t)

	files := []formFile{{field: "mp3File", filename: "song.mp3", content: []byte("song")}}
	values := map[string]string{"startTime": "0", "duration": strings.Repeat("1", maxValueBytes+1)}
	rec := post(t, newTestRouter(h), "/api/cut", files, values)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, CodeValidation, resp.Code)
	assert.Contains(t, resp.Error, "duration")
	dispatcher.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	assertDirEmpty(t, store.Dir())
}

func TestUpload_FormValueAtLimit(t *testing.T) {
	h, dispatcher, store := newTestHandlers(t)
	artifact, run := produce(store, operation.KindCut, "cut")
	dispatcher.On("Execute", mock.Anything, mock.MatchedBy(func(req operation.Request) bool {
		return req.Start == 0 && req.Duration == 1
	})).Run(run).Return(artifact, nil)

	// Leading zeros keep the value numeric at exactly the limit.
	duration := strings.Repeat("0", maxValueBytes-1) + "1"
	files := []formFile{{field: "mp3File", filename: "song.mp3", content: []byte("song")}}
	rec := post(t, newTestRouter(h), "/api/cut", files, map[string]string{"startTime": "0", "duration": duration})

	assert.Equal(t, http.StatusOK, rec.Code)
	dispatcher.AssertExpectations(t)
	assertDirEmpty(t, store.Dir())
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/api/join", nil)
	rec := httptest.NewRecorder()
	newTestRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORSMiddleware(t *testing.T) {
	h, _, _ := newTestHandlers(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := NewRouter(h, logger, Config{AllowedOrigins: []string{"https://example.com"}, AllowCredentials: true})

	// Test with allowed origin
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "GET, HEAD, PUT, PATCH, POST, DELETE", rec.Header().Get("Access-Control-Allow-Methods"))

	// Test with foreign origin
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.org")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Test OPTIONS preflight
	req = httptest.NewRequest(http.MethodOptions, "/api/join", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "content-type", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Create a handler that panics
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	handler := RecoveryMiddleware(logger)(panicHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	// Should not panic
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeInternal, decodeError(t, rec).Code)
}

func TestLoggingMiddleware_CapturesStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/mix", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "http request", entry["msg"])
	assert.Equal(t, "/api/mix", entry["path"])
	assert.EqualValues(t, http.StatusTeapot, entry["status"])
}

func newFFmpegServer(t *testing.T) (*httptest.Server, *storage.LocalStorage) {
	t.Helper()
	audiotest.SkipIfNoFFmpeg(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.NewLocalStorage(t.TempDir(), logger)
	require.NoError(t, err)
	svc := operation.NewService(media.NewFFmpegProcessor(""), store, logger, operation.WithProber(probe.Duration))
	srv := httptest.NewServer(NewRouter(NewHandlers(svc, store, logger), logger, DefaultConfig()))
	t.Cleanup(srv.Close)
	return srv, store
}

func postTo(t *testing.T, url string, files []formFile, values map[string]string) (*http.Response, []byte) {
	t.Helper()
	body, contentType := multipartBody(t, files, values)
	resp, err := http.Post(url, contentType, body) // #nosec G107 - test server URL
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestFFmpeg_JoinPreservesOrder(t *testing.T) {
	srv, store := newFFmpegServer(t)
	fixtures := t.TempDir()

	first, err := os.ReadFile(audiotest.ToneFile(t, fixtures, "first.wav", 440, 1))
	require.NoError(t, err)
	second, err := os.ReadFile(audiotest.ToneFile(t, fixtures, "second.wav", 880, 1))
	require.NoError(t, err)

	files := []formFile{
		{field: "mp3Files", filename: "first.wav", content: first},
		{field: "mp3Files", filename: "second.wav", content: second},
	}
	resp, data := postTo(t, srv.URL+"/api/join", files, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	pcm, err := audiotest.DecodeMP3(bytes.NewReader(data))
	require.NoError(t, err)
	assert.InDelta(t, 2.0, pcm.Seconds(), 0.15)
	assert.Greater(t, pcm.Level(440, 0.2, 0.8), pcm.Level(880, 0.2, 0.8))
	assert.Greater(t, pcm.Level(880, 1.2, 1.8), pcm.Level(440, 1.2, 1.8))
	assertDirEmpty(t, store.Dir())
}

func TestFFmpeg_ConcurrentCuts(t *testing.T) {
	srv, store := newFFmpegServer(t)

	source, err := os.ReadFile(audiotest.ToneFile(t, t.TempDir(), "source.wav", 440, 5))
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	bodies := make([][]byte, n)
	statuses := make([]int, n)
	names := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			files := []formFile{{field: "mp3File", filename: "source.wav", content: source}}
			values := map[string]string{"startTime": "0", "duration": fmt.Sprintf("%.1f", 1.0+0.3*float64(i))}
			body, contentType := multipartBody(t, files, values)

			resp, err := http.Post(srv.URL+"/api/cut", contentType, body) // #nosec G107 - test server URL
			if err != nil {
				return
			}
			defer func() { _ = resp.Body.Close() }()
			statuses[i] = resp.StatusCode
			names[i] = resp.Header.Get("Content-Disposition")
			bodies[i], _ = io.ReadAll(resp.Body)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.Equal(t, http.StatusOK, statuses[i], "request %d", i)
		pcm, err := audiotest.DecodeMP3(bytes.NewReader(bodies[i]))
		require.NoError(t, err)
		// Each request gets its own output of the length it asked for.
		assert.InDelta(t, 1.0+0.3*float64(i), pcm.Seconds(), 0.15, "request %d", i)
		assert.Contains(t, names[i], "cut-")
	}
	assertDirEmpty(t, store.Dir())
}

func TestFFmpeg_InvalidAudio(t *testing.T) {
	srv, store := newFFmpegServer(t)

	files := []formFile{{field: "mp3File", filename: "junk.mp3", content: []byte("definitely not audio")}}
	resp, data := postTo(t, srv.URL+"/api/cut", files, map[string]string{"startTime": "0", "duration": "1"})

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(data, &errResp))
	assert.Equal(t, CodeProcessing, errResp.Code)
	assertDirEmpty(t, store.Dir())
}
