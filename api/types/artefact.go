package types

import "os"

// DataItem is the metadata sidecar for one blob in the content-addressed
// Data Store. A present DataItem implies a present blob with matching hash.
type DataItem struct {
	SHA256     string      `json:"sha256"`
	Size       int64       `json:"size"`
	CreatedUnix int64      `json:"created_unix"`
	ExpiresUnix *int64     `json:"expires_unix,omitempty"`
	FName       string     `json:"fname,omitempty"`
	FMode       os.FileMode `json:"fmode"`
}

// Expired reports whether the item has a configured expiry that has
// passed as of nowUnix.
func (d DataItem) Expired(nowUnix int64) bool {
	return d.ExpiresUnix != nil && *d.ExpiresUnix <= nowUnix
}
