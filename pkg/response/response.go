package response

import "net/http"

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// LinkUnavailableResponse is the only failure a visitor ever sees: the short
// code has no active link behind it.
var LinkUnavailableResponse = Response{
	Status:     StatusError,
	StatusCode: http.StatusNotFound,
	Error:      "Link Unavailable",
	Message:    "This link does not exist or is no longer active.",
}

var ServerErrorResponse = Response{
	Status:     StatusError,
	StatusCode: http.StatusInternalServerError,
	Error:      "Server Error",
	Message:    "An internal server error occurred. Please try again later.",
}

type Response struct {
	Status     string `json:"status"`
	StatusCode int    `json:"status_code"`
	Error      string `json:"error,omitempty"`
	Message    string `json:"message"`
	Data       any    `json:"data,omitempty"`
}

// SuccessResponse builds a success envelope with optional payload. Only the
// first data value is used.
func SuccessResponse(msg string, data ...any) Response {
	resp := Response{
		Status:  StatusSuccess,
		Message: msg,
	}

	if len(data) > 0 {
		resp.Data = data[0]
	}

	return resp
}
