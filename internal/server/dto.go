package server

import (
	"permitflow/internal/domain"
	"permitflow/internal/engine"
)

// Request payloads

type ApplicationDetailsRequest struct {
	ApplicantName         string  `json:"applicant_name"`
	PhysicalAddress       *string `json:"physical_address,omitempty"`
	PostalAddress         *string `json:"postal_address,omitempty"`
	CustomerAccountNumber *string `json:"customer_account_number,omitempty"`
	CellularNumber        *string `json:"cellular_number,omitempty"`
	PermitType            *string `json:"permit_type,omitempty" enum:"urban,irrigation,industrial"`
	WaterSource           *string `json:"water_source,omitempty" enum:"ground_water,surface_water"`
	WaterAllocation       *float64 `json:"water_allocation,omitempty"`
	LandSize              *float64 `json:"land_size,omitempty"`
	NumberOfBoreholes     *int    `json:"number_of_boreholes,omitempty"`
	GPSLatitude           *float64 `json:"gps_latitude,omitempty"`
	GPSLongitude          *float64 `json:"gps_longitude,omitempty"`
	IntendedUse           *string `json:"intended_use,omitempty"`
	ValidityPeriod        *int    `json:"validity_period,omitempty"`
}

type DecisionRequest struct {
	Decision string `json:"decision" enum:"approve,reject"`
	Comment  string `json:"comment,omitempty"`
}

type BatchDecisionRequest struct {
	ApplicationIDs []string `json:"application_ids"`
	Decision       string   `json:"decision" enum:"approve,reject"`
	Comment        string   `json:"comment,omitempty"`
}

type AddCommentRequest struct {
	Text string `json:"text"`
}

type AmendCommentRequest struct {
	Text string `json:"text"`
}

type SendMessageRequest struct {
	ReceiverID *string `json:"receiver_id,omitempty"`
	Subject    string  `json:"subject,omitempty"`
	Content    string  `json:"content"`
}

type DevLoginRequest struct {
	Username string `json:"username"`
}

// Response payloads

type ApplicationResponse = domain.Application

type CommentResponse = domain.Comment

type MessageResponse = domain.Message

type ActivityLogResponse = domain.ActivityLog

type BatchDecisionItem struct {
	ApplicationID string               `json:"application_id"`
	Application   *ApplicationResponse `json:"application,omitempty"`
	Error         *apiErrorBody        `json:"error,omitempty"`
}

type BatchDecisionResponse struct {
	Results []BatchDecisionItem `json:"results"`
}

type UnreadCountResponse struct {
	Count int `json:"count"`
}

type UserResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Role      string `json:"role" enum:"permitting_officer,chairperson,catchment_manager,catchment_chairperson,permit_supervisor,ict"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	IsActive  bool   `json:"is_active"`
}

type WhoAmIResponse struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Source string `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Conversion helpers

func createOptions(req ApplicationDetailsRequest) engine.CreateOptions {
	opts := engine.CreateOptions{ApplicantName: req.ApplicantName}
	if req.PhysicalAddress != nil {
		opts.PhysicalAddress = *req.PhysicalAddress
	}
	if req.PostalAddress != nil {
		opts.PostalAddress = *req.PostalAddress
	}
	if req.CustomerAccountNumber != nil {
		opts.CustomerAccountNumber = *req.CustomerAccountNumber
	}
	if req.CellularNumber != nil {
		opts.CellularNumber = *req.CellularNumber
	}
	if req.PermitType != nil {
		opts.PermitType = *req.PermitType
	}
	if req.WaterSource != nil {
		opts.WaterSource = *req.WaterSource
	}
	if req.WaterAllocation != nil {
		opts.WaterAllocation = *req.WaterAllocation
	}
	if req.LandSize != nil {
		opts.LandSize = *req.LandSize
	}
	if req.NumberOfBoreholes != nil {
		opts.NumberOfBoreholes = *req.NumberOfBoreholes
	}
	if req.GPSLatitude != nil {
		opts.GPSLatitude = *req.GPSLatitude
	}
	if req.GPSLongitude != nil {
		opts.GPSLongitude = *req.GPSLongitude
	}
	if req.IntendedUse != nil {
		opts.IntendedUse = *req.IntendedUse
	}
	if req.ValidityPeriod != nil {
		opts.ValidityPeriod = *req.ValidityPeriod
	}
	return opts
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		Role:      u.Role,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		IsActive:  u.IsActive,
	}
}

func mapUsers(items []domain.User) []UserResponse {
	res := make([]UserResponse, 0, len(items))
	for _, u := range items {
		res = append(res, userResponse(u))
	}
	return res
}
