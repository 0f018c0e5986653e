package printarr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestApiDesignsQuery(t *testing.T) {
	designId := NewId()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.Method, "GET")
		assert.Equal(t, r.URL.Path, "/api/designs")
		assert.Equal(t, r.Header.Get("Authorization"), "Bearer test-jwt")
		// the committed filter rides in the query string
		assert.Equal(t, r.URL.Query().Get("search"), "benchy")
		assert.Equal(t, r.URL.Query().Get("sort_order"), "desc")

		json.NewEncoder(w).Encode(&DesignsResult{
			Designs: []*Design{{DesignId: designId, Name: "benchy", State: DesignStateWanted}},
			Total:   1,
		})
	}))
	defer server.Close()

	api := NewPrintarrApi(server.URL + "/api")
	api.SetByJwt("test-jwt")

	filter := DefaultDesignFilter()
	filter.Search = "benchy"
	filter.SortOrder = SortOrderDesc

	result, err := api.DesignsSync(context.Background(), filter)
	assert.Equal(t, err, nil)
	assert.Equal(t, result.Total, 1)
	assert.Equal(t, result.Designs[0].DesignId, designId)
	assert.Equal(t, result.Designs[0].State, DesignStateWanted)
}

func TestApiDefaultFilterOmitsQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.RawQuery, "")
		json.NewEncoder(w).Encode(&DesignsResult{})
	}))
	defer server.Close()

	api := NewPrintarrApi(server.URL + "/api")
	_, err := api.DesignsSync(context.Background(), DefaultDesignFilter())
	assert.Equal(t, err, nil)
}

func TestApiSetDesignStatePost(t *testing.T) {
	designId := NewId()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.Method, "POST")
		assert.Equal(t, r.URL.Path, fmt.Sprintf("/api/designs/%s/state", designId))

		body, _ := io.ReadAll(r.Body)
		args := &SetDesignStateArgs{}
		assert.Equal(t, json.Unmarshal(body, args), nil)
		assert.Equal(t, args.DesignId, designId)
		assert.Equal(t, args.State, DesignStateWanted)

		json.NewEncoder(w).Encode(&SetDesignStateResult{
			Design: &Design{DesignId: designId, State: DesignStateWanted},
		})
	}))
	defer server.Close()

	api := NewPrintarrApi(server.URL + "/api")
	result, err := api.SetDesignStateSync(context.Background(), &SetDesignStateArgs{
		DesignId: designId,
		State:    DesignStateWanted,
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, result.Design.State, DesignStateWanted)
}

func TestApiErrorBodyBecomesError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "channel url already exists", http.StatusConflict)
	}))
	defer server.Close()

	api := NewPrintarrApi(server.URL + "/api")
	_, err := api.CreateChannelSync(context.Background(), &CreateChannelArgs{
		Name: "maker-a",
		Url:  "https://example.com/maker-a",
	})
	assert.NotEqual(t, err, nil)
	assert.Equal(t, err.Error(), "channel url already exists")
}

func TestApiAsyncCallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.Path, "/api/jobs")
		json.NewEncoder(w).Encode(&JobsResult{
			Jobs:  []*Job{{JobId: NewId(), State: JobStateQueued}},
			Total: 1,
		})
	}))
	defer server.Close()

	api := NewPrintarrApi(server.URL + "/api")

	callback, c := NewBlockingApiCallback[*JobsResult]()
	api.Jobs(callback)
	result := <-c
	assert.Equal(t, result.Error, nil)
	assert.Equal(t, result.Result.Total, 1)
	assert.Equal(t, result.Result.Jobs[0].State, JobStateQueued)
}

func TestApiContextCancel(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	api := NewPrintarrApi(server.URL + "/api")
	_, err := api.HealthSync(ctx)
	assert.NotEqual(t, err, nil)
}
