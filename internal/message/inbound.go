package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"whatsapp-relay/internal/model"
	"whatsapp-relay/internal/repo"
)

type newMessagePayload struct {
	ID                int64     `json:"id"`
	ContactID         int64     `json:"contactId"`
	UserID            int64     `json:"userId"`
	Text              string    `json:"text"`
	Direction         string    `json:"direction"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"createdAt"`
	ExternalMessageID string    `json:"externalMessageId"`
	MediaURL          *string   `json:"mediaUrl"`
	MediaType         *string   `json:"mediaType"`
	ContactName       string    `json:"contactName"`
	ContactPhone      string    `json:"contactPhone"`
}

// ProcessInbound persists one inbound provider message: resolve the tenant
// by the callback's routing id, find-or-create contact and conversation,
// best-effort media materialization, save, publish. An unknown routing id
// is a silent no-op (the event is not for a configured tenant).
func (s *Service) ProcessInbound(ctx context.Context, in Inbound) (*model.Message, error) {
	user, err := s.deps.Users.ByPhoneNumberID(ctx, in.PhoneNumberID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		slog.Info("message: inbound for unconfigured phone number id", "phone_number_id", in.PhoneNumberID)
		return nil, nil
	}

	phone := model.NormalizePhone(in.From)

	contact, err := s.findOrCreateContact(ctx, user.ID, phone, in.ContactName)
	if err != nil {
		return nil, err
	}
	convo, err := s.findOrCreateConversation(ctx, user.ID, contact.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sentAt := in.Timestamp
	if sentAt.IsZero() {
		sentAt = now
	}

	externalID := in.ExternalID
	m := &model.Message{
		ExternalID:     &externalID,
		Direction:      model.Incoming,
		Status:         model.StatusSent,
		UserID:         user.ID,
		ContactID:      contact.ID,
		ConversationID: convo.ID,
		Text:           in.Text,
		SentAt:         &sentAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.MediaType != "" {
		mediaType := in.MediaType
		m.MediaType = &mediaType
	}
	if in.MediaID != "" {
		mediaID := in.MediaID
		m.ProviderMediaID = &mediaID

		// Inbound persistence must never be blocked by media transfer:
		// any failure leaves MediaURL nil and keeps the text placeholder.
		if url, err := s.materializeMedia(ctx, user.AccessToken, in.MediaID); err != nil {
			slog.Warn("message: media materialization failed",
				"external_id", in.ExternalID, "media_id", in.MediaID, "err", err)
		} else {
			m.MediaURL = &url
		}
	}

	if err := s.deps.Messages.CreateInbound(ctx, m); err != nil {
		return nil, err
	}

	if err := s.deps.Bus.Publish(ctx, EventNewMessage, newMessagePayload{
		ID:                m.ID,
		ContactID:         contact.ID,
		UserID:            user.ID,
		Text:              m.Text,
		Direction:         string(m.Direction),
		Status:            string(m.Status),
		CreatedAt:         m.CreatedAt,
		ExternalMessageID: in.ExternalID,
		MediaURL:          m.MediaURL,
		MediaType:         m.MediaType,
		ContactName:       contact.Name,
		ContactPhone:      contact.Phone,
	}); err != nil {
		slog.Error("message: publishing new message event failed", "external_id", in.ExternalID, "err", err)
	}

	return m, nil
}

// materializeMedia resolves a temporary download URL, fetches the bytes and
// persists them locally, returning the stored URL path.
func (s *Service) materializeMedia(ctx context.Context, accessToken, mediaID string) (string, error) {
	url, err := s.deps.Fetcher.MediaURL(ctx, mediaID, accessToken)
	if err != nil {
		return "", fmt.Errorf("resolve media url: %w", err)
	}
	data, mimeType, err := s.deps.Fetcher.Download(ctx, url, accessToken)
	if err != nil {
		return "", fmt.Errorf("download media: %w", err)
	}
	stored, err := s.deps.Media.Save(mimeType, data)
	if err != nil {
		return "", fmt.Errorf("store media: %w", err)
	}
	return stored, nil
}

func (s *Service) findOrCreateContact(ctx context.Context, userID int64, phone, name string) (*model.Contact, error) {
	contact, err := s.deps.Contacts.FindByPhone(ctx, userID, phone)
	if err != nil {
		return nil, err
	}
	if contact != nil {
		return contact, nil
	}

	contact = &model.Contact{
		UserID:    userID,
		Name:      name,
		Phone:     phone,
		CreatedAt: time.Now().UTC(),
	}
	if contact.Name == "" {
		contact.Name = phone
	}
	err = s.deps.Contacts.Create(ctx, contact)
	if errors.Is(err, repo.ErrConflict) {
		// Two concurrent inbound events for a brand-new sender raced the
		// insert; take the winner's row.
		return s.deps.Contacts.FindByPhone(ctx, userID, phone)
	}
	if err != nil {
		return nil, err
	}
	return contact, nil
}

func (s *Service) findOrCreateConversation(ctx context.Context, userID, contactID int64) (*model.Conversation, error) {
	convo, err := s.deps.Conversations.FindByUserContact(ctx, userID, contactID)
	if err != nil {
		return nil, err
	}
	if convo != nil {
		return convo, nil
	}

	convo = &model.Conversation{
		UserID:    userID,
		ContactID: contactID,
		CreatedAt: time.Now().UTC(),
	}
	err = s.deps.Conversations.Create(ctx, convo)
	if errors.Is(err, repo.ErrConflict) {
		return s.deps.Conversations.FindByUserContact(ctx, userID, contactID)
	}
	if err != nil {
		return nil, err
	}
	return convo, nil
}
