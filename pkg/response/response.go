package response

// New generic response spec
type APIResponseCode int

const (
	APIResponseCodeOK              APIResponseCode = 0
	APIResponseCodeBadRequest      APIResponseCode = 40000
	APIResponseCodeUnauthenticated APIResponseCode = 40100
	APIResponseCodeForbidden       APIResponseCode = 40300
	APIResponseCodeNotFound        APIResponseCode = 40400
	APIResponseCodeNotInitialized  APIResponseCode = 40900
	APIResponseCodeTooManyRequests APIResponseCode = 42900
	APIResponseCodeError           APIResponseCode = 50000
	APIResponseCodeProviderError   APIResponseCode = 50200
)

var codeToMsg = map[APIResponseCode]string{
	APIResponseCodeOK:              "ok",
	APIResponseCodeBadRequest:      "bad request",
	APIResponseCodeUnauthenticated: "unauthenticated",
	APIResponseCodeForbidden:       "access denied",
	APIResponseCodeNotFound:        "not found",
	APIResponseCodeNotInitialized:  "not initialized",
	APIResponseCodeTooManyRequests: "too many requests",
	APIResponseCodeError:           "unexpected error",
	APIResponseCodeProviderError:   "payment provider unavailable",
}

// APIResponse is the generic response envelope used by HTTP APIs.
// Use OKT / ErrorT helpers to construct instances.
type APIResponse[T any] struct {
	Code    APIResponseCode `json:"code"`
	Message string          `json:"message"`
	Data    T               `json:"data"`
}

// OKT returns a successful response with data.
func OKT[T any](data T) *APIResponse[T] {
	return &APIResponse[T]{Code: APIResponseCodeOK, Message: codeToMsg[APIResponseCodeOK], Data: data}
}

// ErrorT returns an error response with message and optional data.
func ErrorT[T any](code APIResponseCode, data T) *APIResponse[T] {
	return &APIResponse[T]{Code: code, Message: codeToMsg[code], Data: data}
}
