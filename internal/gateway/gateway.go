package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ClientHeader carries the client identity so the service can tag change notifications.
const ClientHeader = "X-Gridsync-Client"

// Gateway is the typed request/response surface of the dataset service.
// Any returned error means the authoritative state is unchanged.
type Gateway interface {
	Describe(ctx context.Context, datasetID string) (*Dataset, error)
	FetchFiltered(ctx context.Context, datasetID string, filters []Filter) (*FilterResult, error)
	FetchGrouped(ctx context.Context, datasetID string, filters []Filter, column string) (*GroupResult, error)
	MutateCell(ctx context.Context, datasetID string, rowID int64, column, value string) (*MutateResult, error)
	AddRow(ctx context.Context, datasetID string) (*AddRowResult, error)
	DeleteRow(ctx context.Context, datasetID string, rowID int64) (*DeleteRowResult, error)
	BulkUpdate(ctx context.Context, datasetID string, rowIDs []int64, column, value string) (*BulkResult, error)
	BulkDelete(ctx context.Context, datasetID string, rowIDs []int64) (*BulkResult, error)
	FindReplace(ctx context.Context, datasetID string, rowIDs []int64, column, find, replace string) (*BulkResult, error)
	Undo(ctx context.Context, datasetID string) (*UndoResult, error)
	Commit(ctx context.Context, datasetID string) error
}

// RemoteError is a failed call. Status is the HTTP status, or 0 when the service was unreachable.
type RemoteError struct {
	Status  int
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("service unreachable: %s", e.Message)
	}
	return fmt.Sprintf("service error (%d): %s", e.Status, e.Message)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// IsStatus reports whether err is a RemoteError with the given status.
func IsStatus(err error, status int) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Status == status
}

// Options configures an HTTPGateway.
type Options struct {
	Token    string
	ClientID string
	Timeout  time.Duration
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

// HTTPGateway talks to the dataset service over HTTP/JSON.
type HTTPGateway struct {
	baseURL  string
	token    string
	clientID string
	hc       *http.Client
}

var _ Gateway = (*HTTPGateway)(nil)

// NewHTTPGateway creates a gateway for the service at baseURL.
func NewHTTPGateway(baseURL string, opts Options) *HTTPGateway {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &HTTPGateway{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    opts.Token,
		clientID: opts.ClientID,
		hc:       hc,
	}
}

// ClientID returns the identity sent with every request.
func (g *HTTPGateway) ClientID() string { return g.clientID }

// Ping checks that the service answers its health endpoint.
func (g *HTTPGateway) Ping(ctx context.Context) error {
	return g.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// Describe returns the columns and autocomplete options of a dataset.
func (g *HTTPGateway) Describe(ctx context.Context, datasetID string) (*Dataset, error) {
	var out Dataset
	if err := g.do(ctx, http.MethodGet, datasetPath(datasetID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListDatasets returns every dataset the service holds.
func (g *HTTPGateway) ListDatasets(ctx context.Context) ([]Dataset, error) {
	var out struct {
		Datasets []Dataset `json:"datasets"`
	}
	if err := g.do(ctx, http.MethodGet, "/api/datasets", nil, &out); err != nil {
		return nil, err
	}
	return out.Datasets, nil
}

// FetchFiltered returns the rows matching filters with their KPIs.
func (g *HTTPGateway) FetchFiltered(ctx context.Context, datasetID string, filters []Filter) (*FilterResult, error) {
	var out FilterResult
	req := FilterRequest{Filters: nonNilFilters(filters)}
	if err := g.do(ctx, http.MethodPost, datasetPath(datasetID)+"/filter", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchGrouped returns aggregates of the filtered rows grouped by column.
func (g *HTTPGateway) FetchGrouped(ctx context.Context, datasetID string, filters []Filter, column string) (*GroupResult, error) {
	var out GroupResult
	req := GroupRequest{Filters: nonNilFilters(filters), Column: column}
	if err := g.do(ctx, http.MethodPost, datasetPath(datasetID)+"/group", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MutateCell writes one cell.
func (g *HTTPGateway) MutateCell(ctx context.Context, datasetID string, rowID int64, column, value string) (*MutateResult, error) {
	var out MutateResult
	req := MutateCellRequest{RowID: rowID, Column: column, Value: value}
	if err := g.do(ctx, http.MethodPost, datasetPath(datasetID)+"/cells", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddRow appends an empty row.
func (g *HTTPGateway) AddRow(ctx context.Context, datasetID string) (*AddRowResult, error) {
	var out AddRowResult
	if err := g.do(ctx, http.MethodPost, datasetPath(datasetID)+"/rows", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteRow removes a row.
func (g *HTTPGateway) DeleteRow(ctx context.Context, datasetID string, rowID int64) (*DeleteRowResult, error) {
	var out DeleteRowResult
	path := datasetPath(datasetID) + "/rows/" + strconv.FormatInt(rowID, 10)
	if err := g.do(ctx, http.MethodDelete, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BulkUpdate sets column to value on every row in rowIDs.
func (g *HTTPGateway) BulkUpdate(ctx context.Context, datasetID string, rowIDs []int64, column, value string) (*BulkResult, error) {
	var out BulkResult
	req := BulkUpdateRequest{RowIDs: rowIDs, Column: column, Value: value}
	if err := g.do(ctx, http.MethodPost, datasetPath(datasetID)+"/bulk/update", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BulkDelete removes every row in rowIDs.
func (g *HTTPGateway) BulkDelete(ctx context.Context, datasetID string, rowIDs []int64) (*BulkResult, error) {
	var out BulkResult
	if err := g.do(ctx, http.MethodPost, datasetPath(datasetID)+"/bulk/delete", BulkDeleteRequest{RowIDs: rowIDs}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FindReplace replaces column cells equal to find within rowIDs.
func (g *HTTPGateway) FindReplace(ctx context.Context, datasetID string, rowIDs []int64, column, find, replace string) (*BulkResult, error) {
	var out BulkResult
	req := FindReplaceRequest{RowIDs: rowIDs, Column: column, Find: find, Replace: replace}
	if err := g.do(ctx, http.MethodPost, datasetPath(datasetID)+"/bulk/replace", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Undo reverts the most recent mutation.
func (g *HTTPGateway) Undo(ctx context.Context, datasetID string) (*UndoResult, error) {
	var out UndoResult
	if err := g.do(ctx, http.MethodPost, datasetPath(datasetID)+"/undo", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Commit clears the undo history.
func (g *HTTPGateway) Commit(ctx context.Context, datasetID string) error {
	var out CommitResult
	return g.do(ctx, http.MethodPost, datasetPath(datasetID)+"/commit", nil, &out)
}

// DeleteDataset removes a dataset and its history.
func (g *HTTPGateway) DeleteDataset(ctx context.Context, datasetID string) error {
	return g.do(ctx, http.MethodDelete, datasetPath(datasetID), nil, nil)
}

// Audit returns the newest audit entries of a dataset.
func (g *HTTPGateway) Audit(ctx context.Context, datasetID string, limit int) ([]AuditEntry, error) {
	var out struct {
		Entries []AuditEntry `json:"entries"`
	}
	path := datasetPath(datasetID) + "/audit"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if err := g.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// Rules returns the priority rules in the order they are applied.
func (g *HTTPGateway) Rules(ctx context.Context) (*RulesResult, error) {
	var out RulesResult
	if err := g.do(ctx, http.MethodGet, "/api/rules", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveRule stores rule, replacing the rule with the same column, operator and value.
func (g *HTTPGateway) SaveRule(ctx context.Context, rule PriorityRule) (*RulesResult, error) {
	var out RulesResult
	if err := g.do(ctx, http.MethodPost, "/api/rules", rule, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteRule removes the rule addressed by key. key.Active is ignored.
func (g *HTTPGateway) DeleteRule(ctx context.Context, key RuleKey) (*RulesResult, error) {
	var out RulesResult
	if err := g.do(ctx, http.MethodPost, "/api/rules/delete", key, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ToggleRule sets the active flag of the rule addressed by key.
func (g *HTTPGateway) ToggleRule(ctx context.Context, key RuleKey) (*RulesResult, error) {
	var out RulesResult
	if err := g.do(ctx, http.MethodPost, "/api/rules/toggle", key, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AutocompleteLists returns the saved suggestion lists.
func (g *HTTPGateway) AutocompleteLists(ctx context.Context) (map[string][]string, error) {
	var out AutocompleteLists
	if err := g.do(ctx, http.MethodGet, "/api/autocomplete", nil, &out); err != nil {
		return nil, err
	}
	return out.Lists, nil
}

// SaveAutocompleteLists replaces every saved suggestion list.
func (g *HTTPGateway) SaveAutocompleteLists(ctx context.Context, lists map[string][]string) error {
	if lists == nil {
		lists = map[string][]string{}
	}
	return g.do(ctx, http.MethodPut, "/api/autocomplete", AutocompleteLists{Lists: lists}, nil)
}

// Upload sends a workbook to the service and returns the resulting dataset.
func (g *HTTPGateway) Upload(ctx context.Context, name string, r io.Reader) (*Dataset, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(name))
	if err != nil {
		return nil, &RemoteError{Message: err.Error(), Err: err}
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, &RemoteError{Message: err.Error(), Err: err}
	}
	if err := mw.Close(); err != nil {
		return nil, &RemoteError{Message: err.Error(), Err: err}
	}

	var out Dataset
	if err := g.send(ctx, http.MethodPost, "/api/datasets", &body, mw.FormDataContentType(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Export streams the filtered rows (or groups when column is set) as an .xlsx workbook into w.
func (g *HTTPGateway) Export(ctx context.Context, datasetID string, filters []Filter, column string, w io.Writer) error {
	req := GroupRequest{Filters: nonNilFilters(filters), Column: column}
	payload, err := json.Marshal(req)
	if err != nil {
		return &RemoteError{Message: err.Error(), Err: err}
	}
	resp, err := g.roundTrip(ctx, http.MethodPost, datasetPath(datasetID)+"/export", bytes.NewReader(payload), "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return &RemoteError{Message: err.Error(), Err: err}
	}
	return nil
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return &RemoteError{Message: fmt.Sprintf("failed to encode request: %v", err), Err: err}
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}
	return g.send(ctx, method, path, body, contentType, out)
}

func (g *HTTPGateway) send(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	resp, err := g.roundTrip(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RemoteError{Status: resp.StatusCode, Message: fmt.Sprintf("invalid response: %v", err), Err: err}
	}
	return nil
}

// roundTrip performs the request and converts transport failures and non-2xx statuses
// into *RemoteError. On success the caller owns the response body.
func (g *HTTPGateway) roundTrip(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return nil, &RemoteError{Message: err.Error(), Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	if g.clientID != "" {
		req.Header.Set(ClientHeader, g.clientID)
	}

	resp, err := g.hc.Do(req)
	if err != nil {
		return nil, &RemoteError{Message: err.Error(), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var er ErrorResponse
	msg := ""
	if json.Unmarshal(data, &er) == nil && er.Error != "" {
		msg = er.Error
	} else if s := strings.TrimSpace(string(data)); s != "" {
		msg = s
	} else {
		msg = http.StatusText(resp.StatusCode)
	}
	return &RemoteError{Status: resp.StatusCode, Message: msg}
}

func datasetPath(id string) string {
	return "/api/datasets/" + url.PathEscape(id)
}

func nonNilFilters(f []Filter) []Filter {
	if f == nil {
		return []Filter{}
	}
	return f
}
