package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Pi-Jeremy/gateman/internal/gateman/service"
	"github.com/Pi-Jeremy/gateman/internal/gateman/types"
	"github.com/Pi-Jeremy/gateman/internal/gateman/wire"
)

var errBadBody = errors.New("invalid request body")

// ── Caller ───────────────────────────────────────────────────────────────────

const (
	headerStaffID   = "X-Staff-ID"
	headerStaffRole = "X-Staff-Role"
)

// callerFromRequest reads the identity the session layer put in front of
// us. It is trusted as is.
func callerFromRequest(r *http.Request) (types.Caller, bool) {
	id := strings.TrimSpace(r.Header.Get(headerStaffID))
	if id == "" {
		return types.Caller{}, false
	}
	return types.Caller{StaffID: id, Role: types.ParseRole(r.Header.Get(headerStaffRole))}, true
}

// ── Request bodies ───────────────────────────────────────────────────────────

type admitBody struct {
	TicketCode string `json:"ticket_code"`
}

type issueBody struct {
	Quantity int `json:"quantity"`
}

type assignBody struct {
	StaffID string `json:"staff_id"`
}

type createEventBody struct {
	Name        string          `json:"name"`
	Date        time.Time       `json:"date"`
	TicketPrice decimal.Decimal `json:"ticket_price"`
	TicketLimit int             `json:"ticket_limit"`
	ArtworkURL  string          `json:"artwork_url"`
}

func (b createEventBody) input() service.CreateEventInput {
	return service.CreateEventInput{
		Name:        b.Name,
		Date:        b.Date,
		TicketPrice: b.TicketPrice,
		TicketLimit: b.TicketLimit,
		ArtworkURL:  b.ArtworkURL,
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errBadBody
	}
	return nil
}

// decodeAdmit accepts JSON or a protobuf Struct carrying "ticket_code".
func decodeAdmit(w http.ResponseWriter, r *http.Request) (admitBody, error) {
	if isProtobuf(r) {
		var msg structpb.Struct
		if err := readProto(r, &msg); err != nil {
			return admitBody{}, errBadBody
		}
		return admitBody{TicketCode: wire.String(&msg, "ticket_code")}, nil
	}
	var b admitBody
	err := decodeJSON(w, r, &b)
	return b, err
}

// decodeIssue accepts JSON or a protobuf Struct carrying "quantity".
func decodeIssue(w http.ResponseWriter, r *http.Request) (issueBody, error) {
	if isProtobuf(r) {
		var msg structpb.Struct
		if err := readProto(r, &msg); err != nil {
			return issueBody{}, errBadBody
		}
		n, ok := wire.Int(&msg, "quantity")
		if !ok {
			return issueBody{}, service.ErrInvalidQuantity
		}
		return issueBody{Quantity: n}, nil
	}
	var b issueBody
	err := decodeJSON(w, r, &b)
	return b, err
}

// ── Responses ────────────────────────────────────────────────────────────────

type issuedTicket struct {
	ID         string `json:"id"`
	TicketCode string `json:"ticket_code"`
	GuestName  string `json:"guest_name,omitempty"`
}

type issueResponse struct {
	EventID string         `json:"event_id"`
	Tickets []issuedTicket `json:"tickets"`
}

func toIssueResponse(eventID string, ts []types.Ticket) issueResponse {
	out := issueResponse{EventID: eventID, Tickets: make([]issuedTicket, len(ts))}
	for i, t := range ts {
		out.Tickets[i] = issuedTicket{ID: t.ID, TicketCode: t.Code, GuestName: t.GuestName}
	}
	return out
}

type statsResponse struct {
	types.Stats
	Remaining int `json:"remaining"`
}

func toStatsResponse(st types.Stats) statsResponse {
	return statsResponse{Stats: st, Remaining: st.Remaining()}
}

type deleteResponse struct {
	EventID string `json:"event_id"`
	Deleted bool   `json:"deleted"`
}
