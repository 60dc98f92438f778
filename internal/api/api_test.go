package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/footron/controller/internal/controller"
	"github.com/footron/controller/internal/types"
)

type fakeController struct {
	experiences map[string]types.Experience
	collections map[string]types.Collection
	tags        map[string]types.Tag
	folders     map[string]types.Folder
	current     *controller.CurrentSnapshot

	setCurrentErr error
	setCurrentID  *string

	endTimeErr error
	lockErr    error
	reloadErr  error
}

func (f *fakeController) Experiences() map[string]types.Experience { return f.experiences }
func (f *fakeController) Experience(id string) (types.Experience, bool) {
	exp, ok := f.experiences[id]
	return exp, ok
}
func (f *fakeController) Collections() map[string]types.Collection { return f.collections }
func (f *fakeController) Tags() map[string]types.Tag               { return f.tags }
func (f *fakeController) Folders() map[string]types.Folder         { return f.folders }
func (f *fakeController) Current() *controller.CurrentSnapshot     { return f.current }

func (f *fakeController) SetCurrent(ctx context.Context, id *string, throttle time.Duration, updateThrottle bool) error {
	f.setCurrentID = id
	return f.setCurrentErr
}

func (f *fakeController) UpdateEndTime(experienceID string, endTime *time.Time) error {
	return f.endTimeErr
}
func (f *fakeController) UpdateLastInteraction(experienceID string, at time.Time) error { return nil }
func (f *fakeController) UpdateLock(experienceID string, status types.LockStatus) error {
	return f.lockErr
}
func (f *fakeController) ReloadFromFS(ctx context.Context) error { return f.reloadErr }
func (f *fakeController) Screenshot(ctx context.Context, width, height int, format string, quality int) ([]byte, string, error) {
	return []byte("img"), "image/png", nil
}

func newTestAPI(ctrl *fakeController) (*API, *mux.Router) {
	a := New(ctrl, nil)
	router := mux.NewRouter()
	a.RegisterRoutes(router)
	return a, router
}

func TestGetCurrentEmptyIsBareObject(t *testing.T) {
	_, router := newTestAPI(&fakeController{})

	req := httptest.NewRequest(http.MethodGet, "/current", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestGetCurrentReflectsSnapshot(t *testing.T) {
	start := time.Now().Add(-time.Minute)
	ctrl := &fakeController{
		current: &controller.CurrentSnapshot{
			Experience: types.Experience{ID: "a", Title: "A", Lifetime: 60, Queueable: true},
			StartTime:  start,
			Lock:       types.Lock{Status: types.LockOpen()},
		},
	}
	_, router := newTestAPI(ctrl)

	req := httptest.NewRequest(http.MethodGet, "/current", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "a", body["id"])
	assert.Contains(t, body, "start_time")
	assert.NotContains(t, body, "end_time")
}

func TestPutCurrentThrottledReturns429(t *testing.T) {
	ctrl := &fakeController{setCurrentErr: controller.ErrThrottled}
	_, router := newTestAPI(ctrl)

	req := httptest.NewRequest(http.MethodPut, "/current", bytes.NewReader([]byte(`{"id":"a"}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestPutCurrentUnknownExperienceReturns400(t *testing.T) {
	ctrl := &fakeController{setCurrentErr: controller.ErrUnknownExperience}
	_, router := newTestAPI(ctrl)

	req := httptest.NewRequest(http.MethodPut, "/current", bytes.NewReader([]byte(`{"id":"nope"}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPutCurrentSuccess(t *testing.T) {
	ctrl := &fakeController{}
	_, router := newTestAPI(ctrl)

	req := httptest.NewRequest(http.MethodPut, "/current?throttle=5", bytes.NewReader([]byte(`{"id":"a"}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, ctrl.setCurrentID)
	assert.Equal(t, "a", *ctrl.setCurrentID)
}

func TestPatchCurrentMismatchedIDReturns400(t *testing.T) {
	ctrl := &fakeController{current: &controller.CurrentSnapshot{Experience: types.Experience{ID: "a"}}}
	_, router := newTestAPI(ctrl)

	req := httptest.NewRequest(http.MethodPatch, "/current", bytes.NewReader([]byte(`{"id":"b","lock":true}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPatchCurrentNoCurrentReturns400(t *testing.T) {
	ctrl := &fakeController{}
	_, router := newTestAPI(ctrl)

	req := httptest.NewRequest(http.MethodPatch, "/current", bytes.NewReader([]byte(`{"id":"a","lock":true}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPatchCurrentAppliesLock(t *testing.T) {
	ctrl := &fakeController{current: &controller.CurrentSnapshot{Experience: types.Experience{ID: "a"}}}
	_, router := newTestAPI(ctrl)

	req := httptest.NewRequest(http.MethodPatch, "/current", bytes.NewReader([]byte(`{"id":"a","lock":true}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExperienceNotFoundReturns404(t *testing.T) {
	ctrl := &fakeController{experiences: map[string]types.Experience{}}
	_, router := newTestAPI(ctrl)

	req := httptest.NewRequest(http.MethodGet, "/experiences/missing", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "missing"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReloadPropagatesFailure(t *testing.T) {
	ctrl := &fakeController{reloadErr: assertErr}
	_, router := newTestAPI(ctrl)

	req := httptest.NewRequest(http.MethodGet, "/reload", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestScreenshotStreamsImage(t *testing.T) {
	ctrl := &fakeController{}
	_, router := newTestAPI(ctrl)

	req := httptest.NewRequest(http.MethodGet, "/screenshot?w=100&h=100&format=png", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "img", rec.Body.String())
}

func TestPlacardURLRoundTrip(t *testing.T) {
	ctrl := &fakeController{}
	_, router := newTestAPI(ctrl)

	put := httptest.NewRequest(http.MethodPatch, "/placard/url", bytes.NewReader([]byte(`{"url":"https://example.test/x"}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, put)
	require.Equal(t, http.StatusOK, rec.Code)

	get := httptest.NewRequest(http.MethodGet, "/placard/url", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, get)
	assert.JSONEq(t, `{"url":"https://example.test/x"}`, rec.Body.String())
}

var assertErr = errString("boom")

type errString string

func (e errString) Error() string { return string(e) }
