// Package wire converts gateman values to and from google.protobuf.Struct,
// the message type carried by both the gRPC service and the protobuf
// flavour of the HTTP API.
package wire

import (
	"math"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Pi-Jeremy/gateman/internal/gateman/types"
)

func str(v string) *structpb.Value   { return structpb.NewStringValue(v) }
func num(v int) *structpb.Value      { return structpb.NewNumberValue(float64(v)) }
func boolean(v bool) *structpb.Value { return structpb.NewBoolValue(v) }

func timestamp(t time.Time) *structpb.Value {
	return str(t.UTC().Format(time.RFC3339Nano))
}

func ValidationResult(res types.ValidationResult) *structpb.Struct {
	f := map[string]*structpb.Value{
		"status":  str(string(res.Status)),
		"message": str(res.Message),
	}
	if res.GuestName != "" {
		f["guest_name"] = str(res.GuestName)
	}
	if res.ScannedAt != nil {
		f["scanned_at"] = timestamp(*res.ScannedAt)
	}
	return &structpb.Struct{Fields: f}
}

func Stats(st types.Stats) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"event_id":  str(st.EventID),
		"scanned":   num(st.Scanned),
		"total":     num(st.Total),
		"remaining": num(st.Remaining()),
	}}
}

func Ticket(t types.Ticket) *structpb.Struct {
	f := map[string]*structpb.Value{
		"id":          str(t.ID),
		"event_id":    str(t.EventID),
		"ticket_code": str(t.Code),
		"is_scanned":  boolean(t.IsScanned),
	}
	if t.GuestName != "" {
		f["guest_name"] = str(t.GuestName)
	}
	if t.ScannedAt != nil {
		f["scanned_at"] = timestamp(*t.ScannedAt)
	}
	return &structpb.Struct{Fields: f}
}

// Tickets wraps a batch as {"tickets": [...]}.
func Tickets(ts []types.Ticket) *structpb.Struct {
	vals := make([]*structpb.Value, len(ts))
	for i, t := range ts {
		vals[i] = structpb.NewStructValue(Ticket(t))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"tickets": structpb.NewListValue(&structpb.ListValue{Values: vals}),
	}}
}

func Deleted(eventID string, existed bool) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"event_id": str(eventID),
		"deleted":  boolean(existed),
	}}
}

// String returns the string field key, or "" when absent or not a string.
func String(s *structpb.Struct, key string) string {
	v, ok := s.GetFields()[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

// Int returns the numeric field key if it holds a whole number.
func Int(s *structpb.Struct, key string) (int, bool) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, false
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false
	}
	f := n.NumberValue
	if f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}
