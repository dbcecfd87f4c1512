package secops

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/netip"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/tphakala/go-secops/internal/api"
	"github.com/tphakala/go-secops/internal/batch"
)

const dataTablePageSize = 1000

var dataTableNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,254}$`)

// DataTableService manages data tables and their rows.
type DataTableService interface {
	// Create creates a table and then adds any initial rows. A failure while
	// adding rows is reported in the result; the table is kept.
	Create(ctx context.Context, req *CreateDataTableRequest, opts ...RequestOption) (*CreateDataTableResult, error)

	// Get retrieves a table by name.
	Get(ctx context.Context, name string, opts ...RequestOption) (*DataTable, error)

	// List returns an iterator over all tables. orderBy may be empty.
	List(ctx context.Context, orderBy string, opts ...RequestOption) iter.Seq2[*DataTable, error]

	// Delete deletes a table. Force also deletes a table that has rows.
	Delete(ctx context.Context, name string, force bool, opts ...RequestOption) error

	// AddRows appends rows in as many requests as the row limits require.
	AddRows(ctx context.Context, name string, rows [][]string, opts ...RequestOption) ([]RowsChunkResult, error)

	// ListRows returns an iterator over the rows of a table.
	ListRows(ctx context.Context, name, orderBy string, opts ...RequestOption) iter.Seq2[*DataTableRow, error]

	// DeleteRows deletes rows by ID, one request per row.
	DeleteRows(ctx context.Context, name string, rowIDs []string, opts ...RequestOption) error
}

type dataTableService struct {
	backend *backend
}

func newDataTableService(b *backend) *dataTableService {
	return &dataTableService{backend: b}
}

func validateDataTableName(name string) error {
	if !dataTableNamePattern.MatchString(name) {
		return invalid("name", "invalid data table name %q: must start with a letter and contain only letters, digits and underscores, at most 255 characters", name)
	}
	return nil
}

// validateCIDR accepts a prefix such as 10.0.0.0/8 or a bare address.
func validateCIDR(entry string) error {
	if _, err := netip.ParsePrefix(entry); err == nil {
		return nil
	}
	if _, err := netip.ParseAddr(entry); err == nil {
		return nil
	}
	return fmt.Errorf("invalid CIDR entry %q", entry)
}

func validateRows(columns []Column, rows [][]string) error {
	for i, row := range rows {
		if len(row) != len(columns) {
			return invalid("rows", "row %d has %d values, table has %d columns", i, len(row), len(columns))
		}
		for j, col := range columns {
			if col.Type != ColumnCIDR {
				continue
			}
			if err := validateCIDR(row[j]); err != nil {
				return invalid("rows", "row %d column %s: %v", i, col.Name, err)
			}
		}
	}
	return nil
}

type dataAccessScopes struct {
	DataAccessScopes []string `json:"dataAccessScopes"`
}

type createDataTableBody struct {
	Description string            `json:"description"`
	ColumnInfo  []ColumnInfo      `json:"columnInfo"`
	Scopes      *dataAccessScopes `json:"scopes,omitempty"`
}

// Create creates a table and adds its initial rows.
func (s *dataTableService) Create(ctx context.Context, req *CreateDataTableRequest, opts ...RequestOption) (*CreateDataTableResult, error) {
	if req == nil {
		return nil, invalid("", "create request cannot be nil")
	}
	if err := validateDataTableName(req.Name); err != nil {
		return nil, err
	}
	if len(req.Columns) == 0 {
		return nil, invalid("columns", "at least one column is required")
	}
	if err := validateRows(req.Columns, req.Rows); err != nil {
		return nil, err
	}
	reqCfg := newRequestConfig(opts...)

	body := &createDataTableBody{
		Description: req.Description,
		ColumnInfo:  make([]ColumnInfo, len(req.Columns)),
	}
	for i, col := range req.Columns {
		body.ColumnInfo[i] = ColumnInfo{ColumnIndex: i, OriginalColumn: col.Name, ColumnType: col.Type}
	}
	if len(req.Scopes) > 0 {
		body.Scopes = &dataAccessScopes{DataAccessScopes: req.Scopes}
	}

	var table DataTable
	if _, err := s.backend.call(ctx, "datatables.create", &api.Request{
		Method:  http.MethodPost,
		Path:    s.backend.path("dataTables"),
		Query:   url.Values{"dataTableId": {req.Name}},
		Body:    body,
		Headers: reqCfg.headers,
	}, &table); err != nil {
		return nil, err
	}

	result := &CreateDataTableResult{Table: &table}
	if len(req.Rows) > 0 {
		result.Rows, result.RowsErr = s.AddRows(ctx, req.Name, req.Rows, opts...)
		if result.RowsErr != nil {
			s.backend.logger.Warn("data table created but adding rows failed",
				"table", req.Name,
				"error", result.RowsErr)
		}
	}
	return result, nil
}

// Get retrieves a table by name.
func (s *dataTableService) Get(ctx context.Context, name string, opts ...RequestOption) (*DataTable, error) {
	if name == "" {
		return nil, invalid("name", "data table name is required")
	}
	reqCfg := newRequestConfig(opts...)

	var table DataTable
	if _, err := s.backend.call(ctx, "datatables.get", &api.Request{
		Method:  http.MethodGet,
		Path:    s.backend.path("dataTables", name),
		Headers: reqCfg.headers,
	}, &table); err != nil {
		return nil, err
	}
	return &table, nil
}

type dataTablePage struct {
	DataTables    []*DataTable `json:"dataTables"`
	NextPageToken string       `json:"nextPageToken"`
}

// List returns an iterator over all tables.
func (s *dataTableService) List(ctx context.Context, orderBy string, opts ...RequestOption) iter.Seq2[*DataTable, error] {
	reqCfg := newRequestConfig(opts...)

	return paginate(ctx, func(ctx context.Context, token string) ([]*DataTable, string, error) {
		var page dataTablePage
		if _, err := s.backend.call(ctx, "datatables.list", &api.Request{
			Method:  http.MethodGet,
			Path:    s.backend.path("dataTables"),
			Query:   pageQuery(dataTablePageSize, orderBy, token),
			Headers: reqCfg.headers,
		}, &page); err != nil {
			return nil, "", err
		}
		return page.DataTables, page.NextPageToken, nil
	})
}

// Delete deletes a table.
func (s *dataTableService) Delete(ctx context.Context, name string, force bool, opts ...RequestOption) error {
	if name == "" {
		return invalid("name", "data table name is required")
	}
	reqCfg := newRequestConfig(opts...)

	_, err := s.backend.call(ctx, "datatables.delete", &api.Request{
		Method:  http.MethodDelete,
		Path:    s.backend.path("dataTables", name),
		Query:   url.Values{"force": {strconv.FormatBool(force)}},
		Headers: reqCfg.headers,
	}, nil)
	return err
}

type rowValues struct {
	Values []string `json:"values"`
}

type rowRequest struct {
	Row rowValues `json:"data_table_row"`
}

type bulkCreateBody struct {
	Requests []rowRequest `json:"requests"`
}

// AddRows appends rows to a table.
func (s *dataTableService) AddRows(ctx context.Context, name string, rows [][]string, opts ...RequestOption) ([]RowsChunkResult, error) {
	if name == "" {
		return nil, invalid("name", "data table name is required")
	}
	if len(rows) == 0 {
		return nil, invalid("rows", "at least one row is required")
	}
	reqCfg := newRequestConfig(opts...)

	items := make([]rowRequest, len(rows))
	for i, row := range rows {
		items[i] = rowRequest{Row: rowValues{Values: row}}
	}

	limits, err := withEnvelope(rowLimits, &bulkCreateBody{Requests: []rowRequest{}})
	if err != nil {
		return nil, err
	}

	path := s.backend.path("dataTables", name, "dataTableRows:bulkCreate")
	d := newDispatcher(s.backend, "datatables.add_rows", limits, func(ctx context.Context, c batch.Chunk[rowRequest]) (RowsChunkResult, error) {
		result := RowsChunkResult{Range: c.Range}
		_, err := s.backend.attempt(ctx, &api.Request{
			Method:  http.MethodPost,
			Path:    path,
			Body:    &bulkCreateBody{Requests: c.Items},
			Headers: reqCfg.headers,
		}, &result)
		result.Range = c.Range
		return result, err
	})

	outcomes, err := d.Run(ctx, items)
	results := batch.Values(outcomes)
	if err != nil {
		return results, err
	}

	s.backend.logger.Info("data table rows added",
		"table", name,
		"rows", committed(outcomes),
		"requests", len(outcomes))
	return results, nil
}

type dataTableRowPage struct {
	Rows          []*DataTableRow `json:"dataTableRows"`
	NextPageToken string          `json:"nextPageToken"`
}

// ListRows returns an iterator over the rows of a table.
func (s *dataTableService) ListRows(ctx context.Context, name, orderBy string, opts ...RequestOption) iter.Seq2[*DataTableRow, error] {
	if name == "" {
		err := invalid("name", "data table name is required")
		return func(yield func(*DataTableRow, error) bool) {
			yield(nil, err)
		}
	}
	reqCfg := newRequestConfig(opts...)

	return paginate(ctx, func(ctx context.Context, token string) ([]*DataTableRow, string, error) {
		var page dataTableRowPage
		if _, err := s.backend.call(ctx, "datatables.list_rows", &api.Request{
			Method:  http.MethodGet,
			Path:    s.backend.path("dataTables", name, "dataTableRows"),
			Query:   pageQuery(dataTablePageSize, orderBy, token),
			Headers: reqCfg.headers,
		}, &page); err != nil {
			return nil, "", err
		}
		return page.Rows, page.NextPageToken, nil
	})
}

// DeleteRows deletes rows by ID. Rows are deleted in order; on failure the
// *PartialBatchError reports which rows were already deleted.
func (s *dataTableService) DeleteRows(ctx context.Context, name string, rowIDs []string, opts ...RequestOption) error {
	if name == "" {
		return invalid("name", "data table name is required")
	}
	for i, id := range rowIDs {
		if strings.TrimSpace(id) == "" {
			return invalid("row_ids", "row ID %d is empty", i)
		}
	}
	if len(rowIDs) == 0 {
		return nil
	}
	reqCfg := newRequestConfig(opts...)

	d := newDispatcher(s.backend, "datatables.delete_rows", rowIDLimits, func(ctx context.Context, c batch.Chunk[string]) (struct{}, error) {
		_, err := s.backend.attempt(ctx, &api.Request{
			Method:  http.MethodDelete,
			Path:    s.backend.path("dataTables", name, "dataTableRows", c.Items[0]),
			Headers: reqCfg.headers,
		}, nil)
		return struct{}{}, err
	})

	_, err := d.Run(ctx, rowIDs)
	return err
}

func pageQuery(size int, orderBy, token string) url.Values {
	query := url.Values{"pageSize": {strconv.Itoa(size)}}
	if orderBy != "" {
		query.Set("orderBy", orderBy)
	}
	if token != "" {
		query.Set("pageToken", token)
	}
	return query
}
