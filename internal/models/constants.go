package models

// Stream type constants (stored in kptv_streams.s_type).
const (
	StreamTypeLive   int16 = 0
	StreamTypeVOD    int16 = 1
	StreamTypeSeries int16 = 2
	StreamTypeOther  int16 = 3
)

// Provider type constants (stored in kptv_stream_providers.sp_type).
const (
	ProviderTypeXtream int16 = 0
	ProviderTypeM3U    int16 = 1
)

// Filter type constants (stored in kptv_stream_filters.sf_type).
const (
	FilterTypeInclude int16 = 0
	FilterTypeExclude int16 = 1
)
