package dto

// Response is the JSON envelope of the operator API
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
	Meta    *Meta      `json:"meta,omitempty"`
}

// ErrorInfo represents error details
type ErrorInfo struct {
	Code      string             `json:"code"`
	Message   string             `json:"message"`
	RequestID string             `json:"request_id,omitempty"`
	Details   []ValidationDetail `json:"details,omitempty"`
}

// ValidationDetail names one rejected field
type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Meta represents pagination metadata
type Meta struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

// OK wraps data in a success envelope
func OK(data any) Response {
	return Response{Success: true, Data: data}
}

// Paged wraps one page of a list. TotalPages rounds up.
func Paged(data any, total int64, page, pageSize int) Response {
	meta := &Meta{Total: total, Page: page, PageSize: pageSize}
	if pageSize > 0 {
		meta.TotalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return Response{Success: true, Data: data, Meta: meta}
}

// Failure is an error envelope tagged with the request id
func Failure(code, message, requestID string) Response {
	return Response{Error: &ErrorInfo{Code: code, Message: message, RequestID: requestID}}
}

// ValidationFailure lists the rejected fields of a request
func ValidationFailure(requestID string, details []ValidationDetail) Response {
	resp := Failure(ErrCodeValidation, "Request validation failed", requestID)
	resp.Error.Details = details
	return resp
}

// SessionListRequest holds the query parameters of the session list
type SessionListRequest struct {
	ImportType string `form:"import_type" binding:"omitempty,oneof=catalog prices stocks customers images"`
	Status     string `form:"status" binding:"omitempty,oneof=pending started in_progress completed failed"`
	Page       int    `form:"page" binding:"omitempty,min=1"`
	PageSize   int    `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// IDRequest represents a request with an ID path parameter
type IDRequest struct {
	ID string `uri:"id" binding:"required,uuid"`
}
