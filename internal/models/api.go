package models

// RegisterRequest enrolls a new identity from a base64 encoded image.
type RegisterRequest struct {
	UserID   string                 `json:"user_id"`
	Image    string                 `json:"image"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// VerifyRequest looks up the identity behind a base64 encoded image.
type VerifyRequest struct {
	Image string `json:"image"`
}

// StandardResponse is the envelope returned by the register and verify endpoints.
type StandardResponse struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Decision is a match result tagged with the policy and an audit identifier.
type Decision struct {
	ID     string      `json:"decision_id"`
	Policy Policy      `json:"policy"`
	Result MatchResult `json:"result"`
}

const (
	// MessageRegistered is returned when an identity was enrolled.
	MessageRegistered = "User registered successfully"
	// MessageLoginSuccessful is returned when a face matched an enrolled identity.
	MessageLoginSuccessful = "Login Successful"
	// MessageNotRecognized is returned when no enrolled identity is close enough.
	MessageNotRecognized = "Face not recognized"
)

// NewVerifyResponse renders a verification decision. A match carries the user ID and distance;
// a miss carries the closest distance (nil when nothing was compared) and the scan size.
func NewVerifyResponse(d *Decision) StandardResponse {
	r := d.Result
	if r.Matched {
		return StandardResponse{
			Success: true,
			Message: MessageLoginSuccessful,
			Data: map[string]interface{}{
				"user_id":     r.IdentityKey,
				"distance":    r.Distance,
				"decision_id": d.ID,
			},
		}
	}
	return StandardResponse{
		Success: false,
		Message: MessageNotRecognized,
		Data: map[string]interface{}{
			"distance":    r.DistanceOrNil(),
			"scanned":     r.Scanned,
			"decision_id": d.ID,
		},
	}
}

// NewRegisterResponse renders a successful enrollment.
func NewRegisterResponse(id *Identity) StandardResponse {
	return StandardResponse{
		Success: true,
		Message: MessageRegistered,
		Data:    map[string]interface{}{"user_id": id.UserID},
	}
}
