// internal/experts/models.go
package experts

// QueryRequest is the wire body sent to an expert endpoint.
type QueryRequest struct {
	Query string `json:"query"`
	Mode  string `json:"mode"`
}

// QueryResponse is the wire body returned by an expert endpoint.
type QueryResponse struct {
	Response string `json:"response"`
}
