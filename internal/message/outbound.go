package message

import (
	"context"
	"fmt"
	"sort"
	"time"

	"whatsapp-relay/internal/model"
)

// SendTemplateRequest is the template-send collaborator contract used by
// the reminder sweep. ReminderID links the resulting message back to the
// reminder that originated it.
type SendTemplateRequest struct {
	UserID       int64
	ContactID    int64
	TemplateName string
	Language     string
	Variables    map[string]string
	ReminderID   *int64
}

// SendTemplate delivers a template message through the provider and records
// the outgoing Message. Billing happens later, when the provider reports
// sent/delivered for the returned external id.
func (s *Service) SendTemplate(ctx context.Context, req SendTemplateRequest) (*model.Message, error) {
	user, err := s.deps.Users.ByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("template send: user %d not found", req.UserID)
	}
	contact, err := s.deps.Contacts.ByID(ctx, req.ContactID)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, fmt.Errorf("template send: contact %d not found", req.ContactID)
	}

	externalID, err := s.deps.Sender.SendTemplate(ctx,
		user.AccessToken, user.PhoneNumberID, contact.Phone,
		req.TemplateName, req.Language, orderedVariables(req.Variables))
	if err != nil {
		return nil, err
	}

	convo, err := s.findOrCreateConversation(ctx, user.ID, contact.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	templateName := req.TemplateName
	m := &model.Message{
		ExternalID:     &externalID,
		Direction:      model.Outgoing,
		Status:         model.StatusSent,
		UserID:         user.ID,
		ContactID:      contact.ID,
		ConversationID: convo.ID,
		ReminderID:     req.ReminderID,
		Text:           "template: " + req.TemplateName,
		TemplateName:   &templateName,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.deps.Messages.CreateOutgoing(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// orderedVariables flattens the variable map into positional body
// parameters in deterministic key order.
func orderedVariables(vars map[string]string) []string {
	if len(vars) == 0 {
		return nil
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, vars[k])
	}
	return out
}
