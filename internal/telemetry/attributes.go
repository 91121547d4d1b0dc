package telemetry

// HTTP semantic convention attributes recorded on transport spans
const (
	AttrHTTPMethod     = "http.method"
	AttrHTTPURL        = "http.url"
	AttrHTTPStatusCode = "http.status_code"
	AttrHTTPDurationMS = "http.duration_ms"
)

// Commcell-specific attributes
const (
	AttrCommcellEndpoint  = "commcell.endpoint"
	AttrCommcellRequestID = "commcell.request_id"
	AttrCommcellErrorCode = "commcell.error_code"
)
