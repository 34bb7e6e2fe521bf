package table

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/bistro/internal/cache"
	"github.com/Additional-Code/bistro/internal/entity"
	"github.com/Additional-Code/bistro/internal/messaging"
	orderservice "github.com/Additional-Code/bistro/internal/service/order"
	service "github.com/Additional-Code/bistro/internal/service/table"
	"github.com/Additional-Code/bistro/internal/testutil"
	"github.com/Additional-Code/bistro/internal/validation"
)

func setup(t *testing.T) (*echo.Echo, *testutil.Store, *orderservice.Service) {
	t.Helper()
	store := testutil.NewStore(t)
	v := validation.New()
	tables := service.NewService(service.Params{
		Connections: store.Conns,
		Tables:      store.Tables,
		Orders:      store.Orders,
		Validator:   v,
		Logger:      store.Logger,
	})
	orders, err := orderservice.NewService(orderservice.Params{
		Connections: store.Conns,
		Orders:      store.Orders,
		Tables:      store.Tables,
		Menu:        store.Menu,
		Staff:       store.Staff,
		Validator:   v,
		Cache:       cache.Noop(),
		Config:      store.Config,
		Logger:      store.Logger,
		Publisher:   messaging.Noop("bistro.orders"),
	})
	require.NoError(t, err)

	e := echo.New()
	Register(e, NewHandler(tables, orders))
	return e, store, orders
}

func call(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCreateListAndOverride(t *testing.T) {
	e, _, _ := setup(t)

	rec := call(e, http.MethodPost, "/tables", `{"name": "T9", "section": "patio"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Data entity.Table `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, 4, created.Data.Capacity)
	path := "/tables/" + strconv.FormatInt(created.Data.ID, 10)

	rec = call(e, http.MethodPut, path+"/status", `{"status": "reserved"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(e, http.MethodGet, "/tables?status=reserved", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"T9"`)

	rec = call(e, http.MethodPut, path+"/status", `{"status": "occupied"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = call(e, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGetIncludesActiveOrder(t *testing.T) {
	e, store, orders := setup(t)
	table := store.Table(t, "T1")
	pho := store.MenuItem(t, "Pho bo", 40000, nil)
	_, err := orders.CreateOrder(context.Background(), orderservice.CreateOrderInput{
		TableID: table.ID,
		Items:   []orderservice.ItemInput{{MenuItemID: pho.ID, Quantity: 1}},
	})
	require.NoError(t, err)

	rec := call(e, http.MethodGet, "/tables/"+strconv.FormatInt(table.ID, 10), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data struct {
			Name        string `json:"name"`
			Status      string `json:"status"`
			ActiveOrder *struct {
				TableName string `json:"table_name"`
			} `json:"active_order"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "occupied", body.Data.Status)
	require.NotNil(t, body.Data.ActiveOrder)
	assert.Equal(t, "T1", body.Data.ActiveOrder.TableName)

	rec = call(e, http.MethodGet, "/tables/"+strconv.FormatInt(table.ID, 10)+"/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(e, http.MethodDelete, "/tables/"+strconv.FormatInt(table.ID, 10), "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}
