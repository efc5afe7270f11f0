package httpapi

import (
	"encoding/json"
	"time"

	"orderflow/auth"
	"orderflow/dispute"
	"orderflow/offer"
	"orderflow/order"
)

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Phone     *string   `json:"phone,omitempty"`
	Rating    float64   `json:"rating"`
	Role      auth.Role `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u *auth.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Phone:     u.Phone,
		Rating:    u.Rating,
		Role:      u.Role,
		CreatedAt: u.CreatedAt.UTC(),
	}
}

type orderResponse struct {
	ID              string    `json:"id"`
	ClientID        string    `json:"client_id"`
	ServiceID       string    `json:"service_id"`
	Description     string    `json:"description"`
	Location        string    `json:"location"`
	ScheduledDate   string    `json:"scheduled_date"`
	WindowStart     string    `json:"window_start"`
	WindowEnd       string    `json:"window_end"`
	Status          string    `json:"status"`
	AcceptedOfferID *string   `json:"accepted_offer_id,omitempty"`
	TechnicianID    *string   `json:"technician_id,omitempty"`
	FinalPrice      *string   `json:"final_price,omitempty"`
	CancelReason    *string   `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toOrderResponse(o order.Order) orderResponse {
	resp := orderResponse{
		ID:              o.ID,
		ClientID:        o.ClientID,
		ServiceID:       o.ServiceID,
		Description:     o.Description,
		Location:        o.Location,
		ScheduledDate:   o.ScheduledDate.Format("2006-01-02"),
		WindowStart:     o.WindowStart,
		WindowEnd:       o.WindowEnd,
		Status:          string(o.Status),
		AcceptedOfferID: o.AcceptedOfferID,
		TechnicianID:    o.TechnicianID,
		CancelReason:    o.CancelReason,
		CreatedAt:       o.CreatedAt.UTC(),
		UpdatedAt:       o.UpdatedAt.UTC(),
	}
	if o.FinalPrice != nil {
		price := o.FinalPrice.String()
		resp.FinalPrice = &price
	}
	return resp
}

func toOrderResponses(orders []order.Order) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	return out
}

type offerResponse struct {
	ID           string    `json:"id"`
	OrderID      string    `json:"order_id"`
	TechnicianID string    `json:"technician_id"`
	Price        string    `json:"price"`
	Description  string    `json:"description"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

func toOfferResponse(o offer.Offer) offerResponse {
	return offerResponse{
		ID:           o.ID,
		OrderID:      o.OrderID,
		TechnicianID: o.TechnicianID,
		Price:        o.Price.String(),
		Description:  o.Description,
		Status:       string(o.Status),
		CreatedAt:    o.CreatedAt.UTC(),
	}
}

type eventResponse struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	ActorID   *string         `json:"actor_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func toEventResponses(events []order.Event) []eventResponse {
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{
			ID:        e.ID,
			Type:      e.Type,
			ActorID:   e.ActorID,
			Payload:   e.Payload,
			CreatedAt: e.CreatedAt.UTC(),
		})
	}
	return out
}

type resolutionResponse struct {
	Decision           string    `json:"decision"`
	AmountToClient     string    `json:"amount_to_client"`
	AmountToTechnician string    `json:"amount_to_technician"`
	ResolverID         string    `json:"resolver_id"`
	ResolvedAt         time.Time `json:"resolved_at"`
}

type disputeResponseEntry struct {
	ID        int64     `json:"id"`
	SenderID  string    `json:"sender_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type disputeResponse struct {
	ID                 string                 `json:"id"`
	OrderID            string                 `json:"order_id"`
	InitiatorID        string                 `json:"initiator_id"`
	ClientArgument     *string                `json:"client_argument,omitempty"`
	TechnicianArgument *string                `json:"technician_argument,omitempty"`
	Status             string                 `json:"status"`
	Responses          []disputeResponseEntry `json:"responses"`
	Resolution         *resolutionResponse    `json:"resolution,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

func toDisputeResponse(d dispute.Dispute) disputeResponse {
	resp := disputeResponse{
		ID:                 d.ID,
		OrderID:            d.OrderID,
		InitiatorID:        d.InitiatorID,
		ClientArgument:     d.ClientArgument,
		TechnicianArgument: d.TechnicianArgument,
		Status:             string(d.Status),
		Responses:          make([]disputeResponseEntry, 0, len(d.Responses)),
		CreatedAt:          d.CreatedAt.UTC(),
		UpdatedAt:          d.UpdatedAt.UTC(),
	}
	for _, r := range d.Responses {
		resp.Responses = append(resp.Responses, disputeResponseEntry{
			ID:        r.ID,
			SenderID:  r.SenderID,
			Message:   r.Message,
			CreatedAt: r.CreatedAt.UTC(),
		})
	}
	if d.Resolution != nil {
		resp.Resolution = &resolutionResponse{
			Decision:           string(d.Resolution.Decision),
			AmountToClient:     d.Resolution.AmountToClient.String(),
			AmountToTechnician: d.Resolution.AmountToTechnician.String(),
			ResolverID:         d.Resolution.ResolverID,
			ResolvedAt:         d.Resolution.ResolvedAt.UTC(),
		}
	}
	return resp
}
