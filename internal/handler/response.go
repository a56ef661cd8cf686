package handler

type errorPayload struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error errorPayload `json:"error"`
}

func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{
		Error: errorPayload{
			Code:    code,
			Message: message,
		},
	}
}

func NewErrorResponseWithDetails(code, message string, details map[string]interface{}) ErrorResponse {
	resp := NewErrorResponse(code, message)
	resp.Error.Details = details
	return resp
}
