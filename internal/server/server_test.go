package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	attachdomain "github.com/accordbilling/accord/internal/attach/domain"
	"github.com/accordbilling/accord/internal/config"
	customerdomain "github.com/accordbilling/accord/internal/customer/domain"
	customerrepository "github.com/accordbilling/accord/internal/customer/repository"
	processordomain "github.com/accordbilling/accord/internal/processor/domain"
	usagedomain "github.com/accordbilling/accord/internal/usage/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubAttachService struct {
	result *attachdomain.AttachResult
	err    error
}

func (s *stubAttachService) Attach(ctx context.Context, params attachdomain.AttachParams) (*attachdomain.AttachResult, error) {
	return s.result, s.err
}

func (s *stubAttachService) Preview(ctx context.Context, params attachdomain.AttachParams) (*attachdomain.PlanPreview, error) {
	return &attachdomain.PlanPreview{Timing: attachdomain.TimingImmediate}, s.err
}

type stubUsageService struct {
	result *usagedomain.TrackResult
	err    error
}

func (s *stubUsageService) Track(ctx context.Context, params usagedomain.TrackParams) (*usagedomain.TrackResult, error) {
	return s.result, s.err
}

type serverFixture struct {
	server *Server
	node   *snowflake.Node
	orgID  snowflake.ID
	attach *stubAttachService
	usage  *stubUsageService
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&customerdomain.Customer{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	attachSvc := &stubAttachService{}
	usageSvc := &stubUsageService{}

	srv := NewServer(Params{
		Engine:       NewEngine(zap.NewNop()),
		Log:          zap.NewNop(),
		DB:           db,
		Cfg:          config.Config{},
		GenID:        node,
		AttachSvc:    attachSvc,
		UsageSvc:     usageSvc,
		CustomerRepo: customerrepository.Provide(),
	})
	srv.RegisterAPIRoutes()

	return &serverFixture{
		server: srv,
		node:   node,
		orgID:  node.Generate(),
		attach: attachSvc,
		usage:  usageSvc,
	}
}

func (f *serverFixture) do(t *testing.T, method, path string, body any, withOrg bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if withOrg {
		req.Header.Set(orgHeader, f.orgID.String())
	}
	rec := httptest.NewRecorder()
	f.server.engine.ServeHTTP(rec, req)
	return rec
}

func attachBody(productID snowflake.ID) map[string]any {
	return map[string]any{
		"products": []map[string]any{{"product_id": productID.String()}},
	}
}

func TestAttachRouteRequiresOrgHeader(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/customers/1/attach", attachBody(f.node.Generate()), false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAttachRouteReturnsResult(t *testing.T) {
	f := newServerFixture(t)
	f.attach.result = &attachdomain.AttachResult{
		CheckoutURL: "https://checkout.example/cs_1",
	}

	customerID := f.node.Generate()
	rec := f.do(t, http.MethodPost, "/v1/customers/"+customerID.String()+"/attach", attachBody(f.node.Generate()), true)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data attachdomain.AttachResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "https://checkout.example/cs_1", body.Data.CheckoutURL)
}

func TestAttachRouteRejectsEmptyProducts(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/customers/1/attach", map[string]any{"products": []any{}}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"busy customer conflicts", attachdomain.ErrCustomerBusy, http.StatusConflict, "customer_busy"},
		{"unknown customer not found", attachdomain.ErrCustomerNotFound, http.StatusNotFound, "customer_not_found"},
		{"invalid product set", attachdomain.ErrInvalidProductSet, http.StatusBadRequest, "invalid_product_set"},
		{"processor rejection surfaces", &processordomain.Error{Code: "card_declined", Message: "Your card was declined."}, http.StatusPaymentRequired, "card_declined"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newServerFixture(t)
			f.attach.err = tc.err

			rec := f.do(t, http.MethodPost, "/v1/customers/1/attach", attachBody(f.node.Generate()), true)
			assert.Equal(t, tc.status, rec.Code)

			var body struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.code, body.Error.Code)
		})
	}
}

func TestCreateCustomerIsIdempotentByExternalID(t *testing.T) {
	f := newServerFixture(t)
	body := map[string]any{"external_id": "ext_1", "name": "Ada"}

	first := f.do(t, http.MethodPost, "/v1/customers", body, true)
	require.Equal(t, http.StatusOK, first.Code)

	second := f.do(t, http.MethodPost, "/v1/customers", body, true)
	require.Equal(t, http.StatusOK, second.Code)

	var a, b struct {
		Data customerdomain.Customer `json:"data"`
	}
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	assert.Equal(t, a.Data.ID, b.Data.ID)
}

func TestTrackUsageRoute(t *testing.T) {
	f := newServerFixture(t)
	f.usage.result = &usagedomain.TrackResult{
		Changes: []usagedomain.EntitlementChange{{OldBalance: 10, NewBalance: 7}},
	}

	rec := f.do(t, http.MethodPost, "/v1/customers/"+f.node.Generate().String()+"/usage",
		map[string]any{"feature_key": "api_calls", "delta": 3}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data usagedomain.TrackResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data.Changes, 1)
	assert.EqualValues(t, 7, body.Data.Changes[0].NewBalance)
}
