package printarr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// PrintarrApi is the typed resource api. one async read function and one
// async write function per resource kind. the cache core depends only on
// the call returning a typed result or an error; transport is not assumed.
type PrintarrApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	byJwt string
}

func NewPrintarrApi(apiUrl string) *PrintarrApi {
	return NewPrintarrApiWithContext(context.Background(), apiUrl)
}

func NewPrintarrApiWithContext(ctx context.Context, apiUrl string) *PrintarrApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &PrintarrApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
	}
}

// this gets attached to api calls that need it
func (self *PrintarrApi) SetByJwt(byJwt string) {
	self.byJwt = byJwt
}

type ChannelsResult struct {
	Channels []*Channel `json:"channels"`
	Total    int        `json:"total"`
}

type ChannelsCallback apiCallback[*ChannelsResult]

func (self *PrintarrApi) Channels(callback ChannelsCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/channels", self.apiUrl),
		self.byJwt,
		&ChannelsResult{},
		callback,
	)
}

func (self *PrintarrApi) ChannelsSync(ctx context.Context) (*ChannelsResult, error) {
	return get(
		ctx,
		fmt.Sprintf("%s/channels", self.apiUrl),
		self.byJwt,
		&ChannelsResult{},
		NewNoopApiCallback[*ChannelsResult](),
	)
}

type ChannelResult struct {
	Channel *Channel `json:"channel"`
}

func (self *PrintarrApi) ChannelSync(ctx context.Context, channelId Id) (*ChannelResult, error) {
	return get(
		ctx,
		fmt.Sprintf("%s/channels/%s", self.apiUrl, channelId),
		self.byJwt,
		&ChannelResult{},
		NewNoopApiCallback[*ChannelResult](),
	)
}

type CreateChannelArgs struct {
	Name         string       `json:"name"`
	Url          string       `json:"url"`
	DownloadMode DownloadMode `json:"download_mode"`
}

type CreateChannelResult struct {
	Channel *Channel            `json:"channel,omitempty"`
	Error   *CreateChannelError `json:"error,omitempty"`
}

type CreateChannelError struct {
	Message string `json:"message"`
}

func (self *PrintarrApi) CreateChannelSync(ctx context.Context, createChannel *CreateChannelArgs) (*CreateChannelResult, error) {
	return post(
		ctx,
		fmt.Sprintf("%s/channels", self.apiUrl),
		createChannel,
		self.byJwt,
		&CreateChannelResult{},
		NewNoopApiCallback[*CreateChannelResult](),
	)
}

type UpdateChannelArgs struct {
	ChannelId    Id            `json:"channel_id"`
	Name         string        `json:"name,omitempty"`
	DownloadMode *DownloadMode `json:"download_mode,omitempty"`
	Enabled      *bool         `json:"enabled,omitempty"`
}

type UpdateChannelResult struct {
	Channel *Channel `json:"channel,omitempty"`
}

func (self *PrintarrApi) UpdateChannelSync(ctx context.Context, updateChannel *UpdateChannelArgs) (*UpdateChannelResult, error) {
	return post(
		ctx,
		fmt.Sprintf("%s/channels/%s/update", self.apiUrl, updateChannel.ChannelId),
		updateChannel,
		self.byJwt,
		&UpdateChannelResult{},
		NewNoopApiCallback[*UpdateChannelResult](),
	)
}

type RemoveChannelArgs struct {
	ChannelId   Id   `json:"channel_id"`
	DeleteFiles bool `json:"delete_files,omitempty"`
}

type RemoveChannelResult struct {
	Removed bool `json:"removed"`
}

func (self *PrintarrApi) RemoveChannelSync(ctx context.Context, removeChannel *RemoveChannelArgs) (*RemoveChannelResult, error) {
	return post(
		ctx,
		fmt.Sprintf("%s/channels/%s/remove", self.apiUrl, removeChannel.ChannelId),
		removeChannel,
		self.byJwt,
		&RemoveChannelResult{},
		NewNoopApiCallback[*RemoveChannelResult](),
	)
}

type TriggerBackfillArgs struct {
	ChannelId Id `json:"channel_id"`
}

type TriggerBackfillResult struct {
	Job *Job `json:"job,omitempty"`
}

func (self *PrintarrApi) TriggerBackfillSync(ctx context.Context, triggerBackfill *TriggerBackfillArgs) (*TriggerBackfillResult, error) {
	return post(
		ctx,
		fmt.Sprintf("%s/channels/%s/backfill", self.apiUrl, triggerBackfill.ChannelId),
		triggerBackfill,
		self.byJwt,
		&TriggerBackfillResult{},
		NewNoopApiCallback[*TriggerBackfillResult](),
	)
}

type DesignsResult struct {
	Designs []*Design `json:"designs"`
	Total   int       `json:"total"`
}

func (self *PrintarrApi) DesignsSync(ctx context.Context, filter *DesignFilter) (*DesignsResult, error) {
	url := fmt.Sprintf("%s/designs", self.apiUrl)
	if filter != nil {
		if encoded := filter.Encode(); encoded != "" {
			url = fmt.Sprintf("%s?%s", url, encoded)
		}
	}
	return get(
		ctx,
		url,
		self.byJwt,
		&DesignsResult{},
		NewNoopApiCallback[*DesignsResult](),
	)
}

type DesignResult struct {
	Design *Design `json:"design"`
}

func (self *PrintarrApi) DesignSync(ctx context.Context, designId Id) (*DesignResult, error) {
	return get(
		ctx,
		fmt.Sprintf("%s/designs/%s", self.apiUrl, designId),
		self.byJwt,
		&DesignResult{},
		NewNoopApiCallback[*DesignResult](),
	)
}

type UpdateDesignArgs struct {
	DesignId Id     `json:"design_id"`
	Name     string `json:"name,omitempty"`
}

type UpdateDesignResult struct {
	Design *Design `json:"design,omitempty"`
}

func (self *PrintarrApi) UpdateDesignSync(ctx context.Context, updateDesign *UpdateDesignArgs) (*UpdateDesignResult, error) {
	return post(
		ctx,
		fmt.Sprintf("%s/designs/%s/update", self.apiUrl, updateDesign.DesignId),
		updateDesign,
		self.byJwt,
		&UpdateDesignResult{},
		NewNoopApiCallback[*UpdateDesignResult](),
	)
}

type SetDesignStateArgs struct {
	DesignId Id          `json:"design_id"`
	State    DesignState `json:"state"`
}

type SetDesignStateResult struct {
	Design *Design              `json:"design,omitempty"`
	Error  *SetDesignStateError `json:"error,omitempty"`
}

type SetDesignStateError struct {
	Message string `json:"message"`
}

func (self *PrintarrApi) SetDesignStateSync(ctx context.Context, setDesignState *SetDesignStateArgs) (*SetDesignStateResult, error) {
	return post(
		ctx,
		fmt.Sprintf("%s/designs/%s/state", self.apiUrl, setDesignState.DesignId),
		setDesignState,
		self.byJwt,
		&SetDesignStateResult{},
		NewNoopApiCallback[*SetDesignStateResult](),
	)
}

type PreviewsResult struct {
	Previews []*Preview `json:"previews"`
}

func (self *PrintarrApi) PreviewsSync(ctx context.Context, designId Id) (*PreviewsResult, error) {
	return get(
		ctx,
		fmt.Sprintf("%s/designs/%s/previews", self.apiUrl, designId),
		self.byJwt,
		&PreviewsResult{},
		NewNoopApiCallback[*PreviewsResult](),
	)
}

type SetPrimaryPreviewArgs struct {
	DesignId  Id `json:"design_id"`
	PreviewId Id `json:"preview_id"`
}

type SetPrimaryPreviewResult struct {
	Preview *Preview `json:"preview,omitempty"`
}

func (self *PrintarrApi) SetPrimaryPreviewSync(ctx context.Context, setPrimaryPreview *SetPrimaryPreviewArgs) (*SetPrimaryPreviewResult, error) {
	return post(
		ctx,
		fmt.Sprintf("%s/designs/%s/previews/primary", self.apiUrl, setPrimaryPreview.DesignId),
		setPrimaryPreview,
		self.byJwt,
		&SetPrimaryPreviewResult{},
		NewNoopApiCallback[*SetPrimaryPreviewResult](),
	)
}

type JobsResult struct {
	Jobs  []*Job `json:"jobs"`
	Total int    `json:"total"`
}

type JobsCallback apiCallback[*JobsResult]

func (self *PrintarrApi) Jobs(callback JobsCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/jobs", self.apiUrl),
		self.byJwt,
		&JobsResult{},
		callback,
	)
}

func (self *PrintarrApi) JobsSync(ctx context.Context) (*JobsResult, error) {
	return get(
		ctx,
		fmt.Sprintf("%s/jobs", self.apiUrl),
		self.byJwt,
		&JobsResult{},
		NewNoopApiCallback[*JobsResult](),
	)
}

type RetryJobArgs struct {
	JobId Id `json:"job_id"`
}

type RetryJobResult struct {
	Job *Job `json:"job,omitempty"`
}

func (self *PrintarrApi) RetryJobSync(ctx context.Context, retryJob *RetryJobArgs) (*RetryJobResult, error) {
	return post(
		ctx,
		fmt.Sprintf("%s/jobs/%s/retry", self.apiUrl, retryJob.JobId),
		retryJob,
		self.byJwt,
		&RetryJobResult{},
		NewNoopApiCallback[*RetryJobResult](),
	)
}

type CancelJobArgs struct {
	JobId Id `json:"job_id"`
}

type CancelJobResult struct {
	Cancelled bool `json:"cancelled"`
}

func (self *PrintarrApi) CancelJobSync(ctx context.Context, cancelJob *CancelJobArgs) (*CancelJobResult, error) {
	return post(
		ctx,
		fmt.Sprintf("%s/jobs/%s/cancel", self.apiUrl, cancelJob.JobId),
		cancelJob,
		self.byJwt,
		&CancelJobResult{},
		NewNoopApiCallback[*CancelJobResult](),
	)
}

type StatsResult struct {
	Stats *StatsSummary `json:"stats"`
}

func (self *PrintarrApi) StatsSync(ctx context.Context) (*StatsResult, error) {
	return get(
		ctx,
		fmt.Sprintf("%s/stats", self.apiUrl),
		self.byJwt,
		&StatsResult{},
		NewNoopApiCallback[*StatsResult](),
	)
}

type SettingsResult struct {
	Settings *ServerSettings `json:"settings"`
}

func (self *PrintarrApi) SettingsSync(ctx context.Context) (*SettingsResult, error) {
	return get(
		ctx,
		fmt.Sprintf("%s/settings", self.apiUrl),
		self.byJwt,
		&SettingsResult{},
		NewNoopApiCallback[*SettingsResult](),
	)
}

type UpdateSettingsArgs struct {
	Settings *ServerSettings `json:"settings"`
}

type UpdateSettingsResult struct {
	Settings *ServerSettings `json:"settings,omitempty"`
}

func (self *PrintarrApi) UpdateSettingsSync(ctx context.Context, updateSettings *UpdateSettingsArgs) (*UpdateSettingsResult, error) {
	return post(
		ctx,
		fmt.Sprintf("%s/settings", self.apiUrl),
		updateSettings,
		self.byJwt,
		&UpdateSettingsResult{},
		NewNoopApiCallback[*UpdateSettingsResult](),
	)
}

type HealthResult struct {
	Health *Health `json:"health"`
}

func (self *PrintarrApi) HealthSync(ctx context.Context) (*HealthResult, error) {
	return get(
		ctx,
		fmt.Sprintf("%s/health", self.apiUrl),
		self.byJwt,
		&HealthResult{},
		NewNoopApiCallback[*HealthResult](),
	)
}

func post[R any](ctx context.Context, url string, args any, byJwt string, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}

func get[R any](ctx context.Context, url string, byJwt string, result R, callback apiCallback[R]) (R, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
