package domain

// Application statuses.
const (
	StatusUnsubmitted = "unsubmitted"
	StatusSubmitted   = "submitted"
	StatusUnderReview = "under_review"
	StatusApproved    = "approved"
	StatusRejected    = "rejected"
)

// Review decisions.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// The six fixed roles.
const (
	RolePermittingOfficer    = "permitting_officer"
	RoleChairperson          = "chairperson"
	RoleCatchmentManager     = "catchment_manager"
	RoleCatchmentChairperson = "catchment_chairperson"
	RolePermitSupervisor     = "permit_supervisor"
	RoleICT                  = "ict"
)

// Roles lists every valid role enumerant.
var Roles = []string{
	RolePermittingOfficer,
	RoleChairperson,
	RoleCatchmentManager,
	RoleCatchmentChairperson,
	RolePermitSupervisor,
	RoleICT,
}

// ValidRole reports whether role is one of the fixed enumerants.
func ValidRole(role string) bool {
	for _, r := range Roles {
		if r == role {
			return true
		}
	}
	return false
}

type Application struct {
	ID            string `json:"id"`
	ApplicationID string `json:"application_id"`
	Status        string `json:"status" enum:"unsubmitted,submitted,under_review,approved,rejected"`
	CurrentStage  int    `json:"current_stage" minimum:"0" maximum:"4"`
	Version       int64  `json:"version"`

	ApplicantName         string  `json:"applicant_name"`
	PhysicalAddress       string  `json:"physical_address,omitempty"`
	PostalAddress         string  `json:"postal_address,omitempty"`
	CustomerAccountNumber string  `json:"customer_account_number,omitempty"`
	CellularNumber        string  `json:"cellular_number,omitempty"`
	PermitType            string  `json:"permit_type,omitempty" enum:"urban,irrigation,industrial"`
	WaterSource           string  `json:"water_source,omitempty" enum:"ground_water,surface_water"`
	WaterAllocation       float64 `json:"water_allocation,omitempty"`
	LandSize              float64 `json:"land_size,omitempty"`
	NumberOfBoreholes     int     `json:"number_of_boreholes,omitempty"`
	GPSLatitude           float64 `json:"gps_latitude,omitempty"`
	GPSLongitude          float64 `json:"gps_longitude,omitempty"`
	IntendedUse           string  `json:"intended_use,omitempty"`
	ValidityPeriod        int     `json:"validity_period,omitempty"`

	CreatedBy   string  `json:"created_by"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
	SubmittedAt *string `json:"submitted_at,omitempty" format:"date-time"`
	ApprovedAt  *string `json:"approved_at,omitempty" format:"date-time"`
	RejectedAt  *string `json:"rejected_at,omitempty" format:"date-time"`
}

type Comment struct {
	ID                string `json:"id"`
	ApplicationID     string `json:"application_id"`
	AuthorID          string `json:"author_id"`
	AuthorRole        string `json:"author_role"`
	Stage             int    `json:"stage"`
	Text              string `json:"text"`
	IsRejectionReason bool   `json:"is_rejection_reason"`
	CreatedAt         string `json:"created_at" format:"date-time"`
}

type Message struct {
	ID         string  `json:"id"`
	SenderID   string  `json:"sender_id"`
	ReceiverID *string `json:"receiver_id,omitempty"`
	Subject    string  `json:"subject,omitempty"`
	Content    string  `json:"content"`
	IsPublic   bool    `json:"is_public"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	ReadAt     *string `json:"read_at,omitempty" format:"date-time"`
}

// Broadcast reports whether the message has no specific receiver.
func (m Message) Broadcast() bool {
	return m.ReceiverID == nil || *m.ReceiverID == ""
}

type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Role      string `json:"role" enum:"permitting_officer,chairperson,catchment_manager,catchment_chairperson,permit_supervisor,ict"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	IsActive  bool   `json:"is_active"`
}

type ActivityLog struct {
	ID            int64  `json:"id"`
	TS            string `json:"ts" format:"date-time"`
	ActorID       string `json:"actor_id"`
	ActorRole     string `json:"actor_role"`
	Action        string `json:"action"`
	Detail        string `json:"detail,omitempty"`
	ApplicationID string `json:"application_id,omitempty"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
