package preview

// Record is the metadata summary stored in the cache and returned to clients.
type Record struct {
	Title        string `json:"title,omitempty"`
	Description  string `json:"description,omitempty"`
	Image        string `json:"image,omitempty"`
	SiteName     string `json:"siteName,omitempty"`
	Icon         string `json:"icon,omitempty"`
	URL          string `json:"url"`
	IsScreenshot bool   `json:"isScreenshot"`
}

// Result wraps a record with its provenance.
type Result struct {
	Record    Record
	FromCache bool
}

// BatchResult is one entry of a batch response. Success entries carry Data
// and FromCache; failure entries carry Error, Details and Type.
type BatchResult struct {
	URL       string  `json:"url"`
	Data      *Record `json:"data,omitempty"`
	FromCache *bool   `json:"fromCache,omitempty"`
	Error     string  `json:"error,omitempty"`
	Details   string  `json:"details,omitempty"`
	Type      string  `json:"type,omitempty"`
}
