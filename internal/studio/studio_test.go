package studio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeraAi/internal/auth"
	"homeraAi/internal/billing"
	"homeraAi/internal/events"
	"homeraAi/internal/media"
	"homeraAi/internal/pipeline"
	"homeraAi/internal/plans"
	"homeraAi/internal/storage"
	"homeraAi/internal/vision"
)

type stubRenderer struct {
	img vision.RenderedImage
	err error
}

func (s stubRenderer) Render(context.Context, vision.RenderRequest) (vision.RenderedImage, error) {
	return s.img, s.err
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// pngHeader is a PNG with only an IHDR chunk declaring width x height.
func pngHeader(width, height uint32) []byte {
	ihdr := make([]byte, 4+13)
	copy(ihdr, "IHDR")
	binary.BigEndian.PutUint32(ihdr[4:], width)
	binary.BigEndian.PutUint32(ihdr[8:], height)
	ihdr[12] = 8
	ihdr[13] = 2

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(13))
	buf.Write(ihdr)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(ihdr))
	return buf.Bytes()
}

// filler yields an endless run of 'a'.
type filler struct{}

func (filler) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'a'
	}
	return len(p), nil
}

type fixture struct {
	handler Handler
	store   *storage.InMemoryStore
	broker  *events.Broker
	user    storage.User
}

func newFixture(t *testing.T, renderer vision.Renderer) fixture {
	t.Helper()
	store := storage.NewInMemoryStore()
	broker := events.NewBroker()
	user, err := store.CreateUser(context.Background(), storage.User{
		Email:              "agent@example.com",
		Country:            "Netherlands",
		Role:               storage.RoleUser,
		Tier:               plans.TierPremium2K,
		SubscriptionStatus: storage.SubscriptionActive,
	})
	require.NoError(t, err)

	return fixture{
		handler: Handler{
			Store:    store,
			Pipeline: pipeline.New(vision.HeuristicInterpreter{}, renderer, broker),
			Broker:   broker,
			Billing:  billing.NewService(store),
			Uploader: media.Disabled(),
		},
		store:  store,
		broker: broker,
		user:   user,
	}
}

func (f fixture) as(r *http.Request) *http.Request {
	user, err := f.store.GetUserByID(r.Context(), f.user.ID)
	if err != nil {
		panic(err)
	}
	return r.WithContext(auth.WithUser(r.Context(), user))
}

func transformRequest(t *testing.T, prompt string, img []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("prompt", prompt))
	fw, err := mw.CreateFormFile("image", "room.png")
	require.NoError(t, err)
	_, err = fw.Write(img)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/transform", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestTransform_Complete(t *testing.T) {
	out := pngBytes(t, 8, 4)
	f := newFixture(t, stubRenderer{img: vision.RenderedImage{Data: out, MIMEType: "image/png"}})

	rec := httptest.NewRecorder()
	f.handler.Transform(rec, f.as(transformRequest(t, "Make it modern and remove the boxes", pngBytes(t, 4, 4))))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result pipeline.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, pipeline.StateComplete, result.State)
	require.NotNil(t, result.Plan)
	assert.Equal(t, "2560x1440", result.Plan.Payload.TargetResolution)
	assert.True(t, strings.HasPrefix(result.ImageURI, "data:image/png;base64,"))
	assert.Len(t, result.Logs, 5)
}

func TestTransform_Failures(t *testing.T) {
	refused := &vision.Failure{Kind: vision.ErrGeneration, Stage: vision.StageRender, Reason: "The model did not return an image. It might have refused the request."}
	f := newFixture(t, stubRenderer{err: refused})

	rec := httptest.NewRecorder()
	f.handler.Transform(rec, f.as(transformRequest(t, "Stage this room", pngBytes(t, 4, 4))))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"failed"`)
	assert.NotContains(t, rec.Body.String(), `"plan"`)

	rec = httptest.NewRecorder()
	f.handler.Transform(rec, f.as(transformRequest(t, "   ", pngBytes(t, 4, 4))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	f.handler.Transform(rec, transformRequest(t, "Stage this room", pngBytes(t, 4, 4)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEvents_StreamsCallerLogs(t *testing.T) {
	f := newFixture(t, stubRenderer{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.handler.Events(w, f.as(r))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	f.broker.PublishLog("someone-else", pipeline.TransformationLog{Title: "Not mine"})
	f.broker.PublishLog(f.user.ID, pipeline.TransformationLog{Title: "Analyzing Request", Status: pipeline.LogLoading})

	scanner := bufio.NewScanner(resp.Body)
	var data string
	for scanner.Scan() {
		if line, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
			data = line
			break
		}
	}
	assert.Contains(t, data, `"title":"Analyzing Request"`)
	assert.NotContains(t, data, "Not mine")
}

func TestPlans_PricesPerCountry(t *testing.T) {
	f := newFixture(t, stubRenderer{})

	rec := httptest.NewRecorder()
	f.handler.Plans(rec, httptest.NewRequest(http.MethodGet, "/api/plans?country=Germany", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var offers []PlanOffer
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&offers))
	require.Len(t, offers, 4)
	assert.Equal(t, 19, offers[1].Price.VATRate)
	assert.False(t, offers[1].Current)

	rec = httptest.NewRecorder()
	f.handler.Plans(rec, f.as(httptest.NewRequest(http.MethodGet, "/api/plans", nil)))
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&offers))
	assert.Equal(t, "Netherlands", offers[1].Price.Country)
	assert.Equal(t, 30.24, offers[1].Price.Total)
	assert.True(t, offers[1].Current)
}

func saveBody(t *testing.T) string {
	t.Helper()
	body, err := json.Marshal(SaveRequest{
		OriginalImage:  vision.RenderedImage{Data: pngBytes(t, 4, 4), MIMEType: "image/png"}.DataURI(),
		GeneratedImage: vision.RenderedImage{Data: pngBytes(t, 960, 540), MIMEType: "image/png"}.DataURI(),
		Prompt:         "Make it modern",
		Quality:        "HIGH_DETAIL",
		Resolution:     "2560x1440",
	})
	require.NoError(t, err)
	return string(body)
}

func TestLibrary_DataURIsWhenUploaderDisabled(t *testing.T) {
	f := newFixture(t, stubRenderer{})

	rec := httptest.NewRecorder()
	f.handler.SaveToLibrary(rec, f.as(httptest.NewRequest(http.MethodPost, "/api/library", strings.NewReader(saveBody(t)))))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var saved storage.SavedResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&saved))
	assert.True(t, strings.HasPrefix(saved.GeneratedImage, "data:image/png"))
	assert.True(t, strings.HasPrefix(saved.Thumbnail, "data:image/jpeg"))
	assert.Equal(t, string(plans.TierPremium2K), saved.TierUsed)
	assert.Empty(t, saved.MediaKeys)

	rec = httptest.NewRecorder()
	f.handler.SaveToLibrary(rec, f.as(httptest.NewRequest(http.MethodPost, "/api/library", strings.NewReader(`{"original_image":"nope"}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLibrary_RejectsOversizedInput(t *testing.T) {
	f := newFixture(t, stubRenderer{})

	body := io.MultiReader(strings.NewReader(`{"original_image":"`), io.LimitReader(filler{}, maxLibraryBody+1))
	rec := httptest.NewRecorder()
	f.handler.SaveToLibrary(rec, f.as(httptest.NewRequest(http.MethodPost, "/api/library", body)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	huge, err := json.Marshal(SaveRequest{
		OriginalImage:  vision.RenderedImage{Data: pngBytes(t, 4, 4), MIMEType: "image/png"}.DataURI(),
		GeneratedImage: vision.RenderedImage{Data: pngHeader(60000, 60000), MIMEType: "image/png"}.DataURI(),
		Prompt:         "Make it modern",
	})
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	f.handler.SaveToLibrary(rec, f.as(httptest.NewRequest(http.MethodPost, "/api/library", bytes.NewReader(huge))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	list, err := f.store.ListResults(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestLibrary_UploadListDelete(t *testing.T) {
	f := newFixture(t, stubRenderer{})
	dir := t.TempDir()
	uploader, err := media.NewLocalUploader(dir, "/media")
	require.NoError(t, err)
	f.handler.Uploader = uploader

	rec := httptest.NewRecorder()
	f.handler.SaveToLibrary(rec, f.as(httptest.NewRequest(http.MethodPost, "/api/library", strings.NewReader(saveBody(t)))))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var saved storage.SavedResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&saved))
	require.Len(t, saved.MediaKeys, 3)
	assert.True(t, strings.HasPrefix(saved.Thumbnail, "/media/"+f.user.ID+"/"))
	for _, key := range saved.MediaKeys {
		assert.FileExists(t, filepath.Join(dir, filepath.FromSlash(key)))
	}

	rec = httptest.NewRecorder()
	f.handler.ListLibrary(rec, f.as(httptest.NewRequest(http.MethodGet, "/api/library", nil)))
	var list []storage.SavedResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list, 1)

	router := chi.NewRouter()
	router.Delete("/api/library/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.handler.DeleteFromLibrary(w, f.as(r))
	})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/library/"+saved.ID, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	for _, key := range saved.MediaKeys {
		_, err := os.Stat(filepath.Join(dir, filepath.FromSlash(key)))
		assert.True(t, os.IsNotExist(err))
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/library/"+saved.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccount_UpgradeFlow(t *testing.T) {
	f := newFixture(t, stubRenderer{})
	h := f.handler

	rec := httptest.NewRecorder()
	h.ChangePlan(rec, f.as(httptest.NewRequest(http.MethodPost, "/api/account/plan", strings.NewReader(`{"tier":"ultra_4k"}`))))
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = httptest.NewRecorder()
	h.SetPaymentMethod(rec, f.as(httptest.NewRequest(http.MethodPut, "/api/account/payment-method", strings.NewReader(`{"type":"CREDIT_CARD","card_number":"4242 4242 4242 4242"}`))))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"last4":"4242"`)

	rec = httptest.NewRecorder()
	h.Quote(rec, f.as(httptest.NewRequest(http.MethodGet, "/api/account/quote?tier=ultra_4k", nil)))
	require.Equal(t, http.StatusOK, rec.Code)
	var quote billing.Breakdown
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&quote))
	assert.Equal(t, 42.34, quote.Total)

	rec = httptest.NewRecorder()
	h.Quote(rec, f.as(httptest.NewRequest(http.MethodGet, "/api/account/quote?tier=gold", nil)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ChangePlan(rec, f.as(httptest.NewRequest(http.MethodPost, "/api/account/plan", strings.NewReader(`{"tier":"ultra_4k"}`))))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var changed planChangeResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&changed))
	assert.Equal(t, plans.TierUltra4K, changed.User.Tier)
	require.NotNil(t, changed.Invoice)
	assert.Equal(t, 42.34, changed.Invoice.Total)

	rec = httptest.NewRecorder()
	h.Invoices(rec, f.as(httptest.NewRequest(http.MethodGet, "/api/account/invoices", nil)))
	var invoices []storage.Invoice
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&invoices))
	assert.Len(t, invoices, 1)
}

func TestAccount_UpdateProfile(t *testing.T) {
	f := newFixture(t, stubRenderer{})

	rec := httptest.NewRecorder()
	f.handler.UpdateProfile(rec, f.as(httptest.NewRequest(http.MethodPatch, "/api/account", strings.NewReader(`{"country":"Germany","display_name":"Makelaar"}`))))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"country":"Germany"`)

	rec = httptest.NewRecorder()
	f.handler.UpdateProfile(rec, f.as(httptest.NewRequest(http.MethodPatch, "/api/account", strings.NewReader(`{"display_name":"  "}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAccount_StaleProfileUpdateKeepsPlanChange(t *testing.T) {
	f := newFixture(t, stubRenderer{})
	ctx := context.Background()

	// The request carries the user as loaded before the upgrade below.
	stale := f.as(httptest.NewRequest(http.MethodPatch, "/api/account", strings.NewReader(`{"display_name":"Makelaar"}`)))

	_, err := f.handler.Billing.SetPaymentMethod(ctx, f.user.ID, billing.PaymentInput{Type: billing.PaymentCard, CardNumber: "4242424242424242"})
	require.NoError(t, err)
	_, invoice, err := f.handler.Billing.ChangePlan(ctx, f.user.ID, "ultra_4k")
	require.NoError(t, err)
	require.NotNil(t, invoice)

	rec := httptest.NewRecorder()
	f.handler.UpdateProfile(rec, stale)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := f.store.GetUserByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Makelaar", stored.DisplayName)
	assert.Equal(t, plans.TierUltra4K, stored.Tier)
	require.NotNil(t, stored.PaymentMethod)
	assert.Equal(t, "4242", stored.PaymentMethod.Last4)
	require.NotNil(t, stored.NextBillingDate)
}

func TestAccount_ReselectingActivePlanConflicts(t *testing.T) {
	f := newFixture(t, stubRenderer{})
	_, err := f.handler.Billing.SetPaymentMethod(context.Background(), f.user.ID, billing.PaymentInput{Type: billing.PaymentCard, CardNumber: "4242424242424242"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	f.handler.ChangePlan(rec, f.as(httptest.NewRequest(http.MethodPost, "/api/account/plan", strings.NewReader(`{"tier":"premium_2k"}`))))
	assert.Equal(t, http.StatusConflict, rec.Code)

	invoices, err := f.store.ListInvoices(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Empty(t, invoices)
}
