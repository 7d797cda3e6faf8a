package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"chatflow-gateway/internal/domain"
)

// Tool names offered to the assistant.
const (
	ToolGetServices       = "getServices"
	ToolGetAvailableSlots = "getAvailableSlots"
	ToolBookAppointment   = "bookAppointment"
	ToolSaveLead          = "saveLead"
	ToolGetSchedule       = "getSchedule"
)

type noArgs struct{}

type slotsArgs struct {
	ServiceID uint   `json:"service_id" jsonschema:"description=Id of the service returned by getServices"`
	Date      string `json:"date,omitempty" jsonschema:"description=First day to search as YYYY-MM-DD; defaults to today"`
	Days      int    `json:"days,omitempty" jsonschema:"description=Number of days to search (1-14)"`
}

type bookArgs struct {
	ServiceID uint   `json:"service_id" jsonschema:"description=Id of the service to book"`
	Start     string `json:"start" jsonschema:"description=Slot start exactly as returned by getAvailableSlots (RFC3339) or YYYY-MM-DD HH:MM"`
	Name      string `json:"name,omitempty" jsonschema:"description=Customer name"`
	Notes     string `json:"notes,omitempty"`
}

type saveLeadArgs struct {
	Name  string `json:"name,omitempty" jsonschema:"description=Customer name"`
	Email string `json:"email,omitempty" jsonschema:"description=Customer email"`
	Phone string `json:"phone,omitempty" jsonschema:"description=Customer phone"`
	Notes string `json:"notes,omitempty" jsonschema:"description=Anything else worth remembering about the customer"`
}

// Tools is the catalog offered to the model.
func Tools() []Tool {
	return []Tool{
		{
			Name:        ToolGetServices,
			Description: "List the services offered with their prices and durations. Always use this before mentioning any price.",
			Parameters:  GenerateSchema[noArgs](),
		},
		{
			Name:        ToolGetAvailableSlots,
			Description: "List free appointment slots for a service.",
			Parameters:  GenerateSchema[slotsArgs](),
		},
		{
			Name:        ToolBookAppointment,
			Description: "Book an appointment for the customer in a free slot.",
			Parameters:  GenerateSchema[bookArgs](),
		},
		{
			Name:        ToolSaveLead,
			Description: "Save contact details the customer shared.",
			Parameters:  GenerateSchema[saveLeadArgs](),
		},
		{
			Name:        ToolGetSchedule,
			Description: "Get the business opening hours per weekday.",
			Parameters:  GenerateSchema[noArgs](),
		},
	}
}

// Scope identifies the conversation a tool call acts on.
type Scope struct {
	BotID    string
	LeadID   uint
	Location *time.Location
	Now      time.Time
}

// Toolbox executes tool calls against the collaborators.
type Toolbox struct {
	Catalog    domain.Catalog
	Scheduling domain.Scheduling
	Leads      domain.Leads
}

// Execute runs one tool call and returns its JSON result.
func (t *Toolbox) Execute(ctx context.Context, scope Scope, call ToolCall) (string, error) {
	switch call.Name {
	case ToolGetServices:
		if t.Catalog == nil {
			return "", fmt.Errorf("catalog unavailable")
		}
		services, err := t.Catalog.ListServices(ctx, scope.BotID)
		if err != nil {
			return "", err
		}
		return toJSON(services)

	case ToolGetAvailableSlots:
		args, err := ParseToolArguments[slotsArgs](call.Arguments)
		if err != nil {
			return "", err
		}
		if t.Scheduling == nil {
			return "", fmt.Errorf("scheduling unavailable")
		}
		from := scope.Now.In(scope.loc())
		if args.Date != "" {
			d, err := time.ParseInLocation("2006-01-02", args.Date, scope.loc())
			if err != nil {
				return "", fmt.Errorf("invalid date %q", args.Date)
			}
			if d.After(from) {
				from = d
			}
		}
		days := args.Days
		if days <= 0 {
			days = 7
		}
		if days > 14 {
			days = 14
		}
		slots, err := t.Scheduling.ListAvailableSlots(ctx, scope.BotID, args.ServiceID, from, days)
		if err != nil {
			return "", err
		}
		return toJSON(slots)

	case ToolBookAppointment:
		args, err := ParseToolArguments[bookArgs](call.Arguments)
		if err != nil {
			return "", err
		}
		if t.Scheduling == nil {
			return "", fmt.Errorf("scheduling unavailable")
		}
		start, err := ParseSlotTime(args.Start, scope.loc())
		if err != nil {
			return "", err
		}
		booking, err := t.Scheduling.CreateBooking(ctx, domain.BookingRequest{
			BotID:     scope.BotID,
			LeadID:    scope.LeadID,
			ServiceID: args.ServiceID,
			Start:     start,
			Name:      args.Name,
			Notes:     args.Notes,
		})
		if err != nil {
			return "", err
		}
		return toJSON(booking)

	case ToolSaveLead:
		args, err := ParseToolArguments[saveLeadArgs](call.Arguments)
		if err != nil {
			return "", err
		}
		if t.Leads == nil {
			return "", fmt.Errorf("lead store unavailable")
		}
		details := domain.LeadDetails(args)
		if err := t.Leads.SaveLeadDetails(ctx, scope.LeadID, details); err != nil {
			return "", err
		}
		return `{"saved":true}`, nil

	case ToolGetSchedule:
		if t.Scheduling == nil {
			return "", fmt.Errorf("scheduling unavailable")
		}
		entries, err := t.Scheduling.GetSchedule(ctx, scope.BotID)
		if err != nil {
			return "", err
		}
		return toJSON(entries)

	default:
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
}

func (s Scope) loc() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// ParseSlotTime accepts RFC3339 or "YYYY-MM-DD HH:MM" in loc.
func ParseSlotTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid slot time %q", s)
}

func toJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
