package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricCheckInOutcome     = "CheckInOutcome"
	MetricAcquisitionLatency = "AcquisitionLatency"
	MetricAPILatency         = "APILatency"
	MetricAPIRequestCount    = "APIRequestCount"

	// Dimension Keys
	DimKind     = "Kind"
	DimResult   = "Result"
	DimMethod   = "Method"
	DimEndpoint = "Endpoint"
	DimStatus   = "Status"

	// Metric Namespace
	MetricNamespace = "AttendanceCheckIn"
)
