package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	Groups                []string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Template struct {
	ID          string
	Name        string
	Description string
	Body        string
	OwnerID     string
	OwnerName   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type CustomerProfile struct {
	ID        string
	Name      string
	Industry  string
	Region    string
	Summary   string
	Fields    map[string]string
	OwnerID   string
	OwnerName string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Skill struct {
	ID        string
	Name      string
	Content   string
	Tags      []string
	Version   int
	OwnerID   string
	OwnerName string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type InstructionPreset struct {
	ID           string
	Name         string
	Instructions string
	OwnerID      string
	OwnerName    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type CollateralOutput struct {
	ID           string
	TemplateID   string
	CustomerID   string
	PresetID     string
	Title        string
	Body         string
	Unresolved   []string
	ReviewStatus string
	Flagged      bool
	FlagNote     string
	Resolved     bool
	ReviewedBy   string
	ReviewedAt   *time.Time
	ReviewNote   string
	OwnerID      string
	OwnerName    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type AuthGroupMapping struct {
	ID        string
	GroupName string
	Role      string
	CreatedBy string
	CreatedAt time.Time
}

type AuditEvent struct {
	ID         int64
	ActorID    string
	ActorName  string
	Action     string
	EntityType string
	EntityID   string
	Payload    map[string]any
	CreatedAt  time.Time
}

type Upload struct {
	ID          string
	ObjectKey   string
	Filename    string
	ContentType string
	Size        int64
	OwnerID     string
	OwnerName   string
	CreatedAt   time.Time
}

// CommitInfo describes one git-mirror commit for history endpoints.
type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}

// BulkReviewResult reports the outcome of one row in a bulk transition.
type BulkReviewResult struct {
	ID     string `json:"id"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Status string `json:"status,omitempty"`
}
