package scanner

// Scanner is a provisioned capture device identity. Devices authenticate
// with email + secret and receive a short-lived token for batch sync.
type Scanner struct {
	ID             int64  `db:"id" json:"id"`
	OrganizationID int64  `db:"organization_id" json:"organization_id"`
	Email          string `db:"email" json:"email"`
	SecretHash     string `db:"secret_hash" json:"-"`
	Label          string `db:"label" json:"label"`
	Status         string `db:"status" json:"status"` // active | disabled
}

// Claims is the verified identity carried by a scanner token.
type Claims struct {
	ScannerID      int64
	OrganizationID int64
	Email          string
}
